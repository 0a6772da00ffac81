package middleware

const (
	ACCESS_TOKEN_KEY = "access_token"
	USER_LOGIN_KEY   = "user_login"
)
