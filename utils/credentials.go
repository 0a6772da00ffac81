package utils

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AppCredentials is the GitHub App identity. It is built once at startup and
// handed to every client constructing call, nothing mutates it afterwards.
type AppCredentials struct {
	appID int64
	key   *rsa.PrivateKey
}

// NewAppCredentials accepts a PKCS1 or PKCS8 PEM key, optionally base64 encoded,
// with literal "\n" sequences as some container runtimes write them.
func NewAppCredentials(appID int64, rawKey string) (*AppCredentials, error) {
	if appID == 0 {
		return nil, fmt.Errorf("app id is required")
	}
	pemBytes, err := normalizePrivateKey(rawKey)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}
	return &AppCredentials{appID: appID, key: key}, nil
}

func (c *AppCredentials) AppID() int64 {
	return c.appID
}

func normalizePrivateKey(rawKey string) ([]byte, error) {
	key := strings.TrimSpace(rawKey)
	if key == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	key = strings.ReplaceAll(key, `\n`, "\n")
	if strings.Contains(key, "-----BEGIN") {
		return []byte(key), nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(key), ""))
	if err != nil {
		return nil, fmt.Errorf("private key is neither PEM nor base64 encoded PEM: %w", err)
	}
	if !strings.Contains(string(decoded), "-----BEGIN") {
		return nil, fmt.Errorf("decoded private key is not PEM")
	}
	return []byte(strings.ReplaceAll(string(decoded), `\n`, "\n")), nil
}
