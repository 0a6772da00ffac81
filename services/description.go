package services

import (
	"fmt"
	"strings"
)

const (
	MetadataMirror   = "mirror"
	MetadataUpstream = "upstream"
	MetadataRoot     = "root"

	mirrorPrefix = "Mirror of "
)

// MirrorDescription is the description of a mirror created for fork.
func MirrorDescription(forkFullName string) string {
	return mirrorPrefix + forkFullName
}

// UpstreamDescription documents the upstream and root repositories of a fork.
func UpstreamDescription(upstreamURL, rootURL string) string {
	return fmt.Sprintf("Upstream: %s | Root: %s", upstreamURL, rootURL)
}

// ParseDescriptionMetadata reads the metadata the app writes into descriptions:
// "Mirror of owner/repo" yields a mirror field, "Key: value | Key: value" pairs
// yield lower cased keys. Anything else is ignored.
func ParseDescriptionMetadata(description string) map[string]string {
	metadata := map[string]string{}
	d := strings.TrimSpace(description)
	if strings.HasPrefix(d, mirrorPrefix) {
		if fork := strings.Fields(strings.TrimPrefix(d, mirrorPrefix)); len(fork) > 0 {
			metadata[MetadataMirror] = fork[0]
		}
		return metadata
	}
	for _, part := range strings.Split(d, "|") {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" || strings.ContainsAny(key, " /") {
			continue
		}
		metadata[key] = value
	}
	return metadata
}
