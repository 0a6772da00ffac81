package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v68/github"

	"github.com/github-community-projects/internal-contribution-forks/logging"
	"github.com/github-community-projects/internal-contribution-forks/utils"
)

// RPCAuth accepts a GitHub user access token as a bearer token. The token must
// resolve to a user, and that user must pass the allow list.
func RPCAuth(gh utils.GithubClientProvider, allowList utils.AllowList) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.Request.Header.Get("Authorization")
		if authHeader == "" {
			c.String(http.StatusUnauthorized, "No Authorization header provided")
			c.Abort()
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || token == "" {
			c.String(http.StatusUnauthorized, "Could not find bearer token in Authorization header")
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		client := gh.Personal(ctx, token)
		var user *github.User
		err := utils.WithRetry(ctx, func() error {
			var err error
			user, _, err = client.Users.Get(ctx, "")
			return err
		})
		if err != nil {
			logging.From(ctx).Warn("Rejected RPC token", "error", err)
			c.String(http.StatusUnauthorized, "Invalid access token")
			c.Abort()
			return
		}

		login := user.GetLogin()
		allowed, err := allowList.Allows(ctx, client, login)
		if err != nil || !allowed {
			logging.From(ctx).Warn("User is not on the allow list", "login", login)
			c.String(http.StatusForbidden, "User is not allowed to use this app")
			c.Abort()
			return
		}

		c.Set(ACCESS_TOKEN_KEY, token)
		c.Set(USER_LOGIN_KEY, login)
		c.Next()
	}
}

// AccessToken returns the bearer token RPCAuth accepted, or "".
func AccessToken(c *gin.Context) string {
	return c.GetString(ACCESS_TOKEN_KEY)
}

func UserLogin(c *gin.Context) string {
	return c.GetString(USER_LOGIN_KEY)
}
