// Package middleware provides HTTP middleware for the relay
package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/llm-relay/relay/pkg/types"
	"github.com/llm-relay/relay/pkg/utils"
)

// AuthMiddleware authenticates requests against the configured static API
// keys or an HS256-signed JWT
type AuthMiddleware struct {
	config *types.AuthConfig
	logger *utils.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(config *types.AuthConfig, logger *utils.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		config: config,
		logger: logger,
	}
}

// RequireAuth requires either a valid API key or a valid JWT. When auth
// is disabled in config the middleware passes everything through.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.config.Enabled {
			c.Next()
			return
		}

		if am.authenticateAPIKey(c) || am.authenticateJWT(c) {
			c.Next()
			return
		}

		am.logger.WithRequestID(GetRequestIDFromContext(c)).WithFields(logrus.Fields{
			"client_ip": c.ClientIP(),
			"path":      c.Request.URL.Path,
		}).Warn("Authentication failed")

		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "UNAUTHORIZED",
				"message": "valid API key or bearer token required",
			},
		})
		c.Abort()
	}
}

// authenticateAPIKey checks X-API-Key or a non-JWT Bearer token against
// the configured key list
func (am *AuthMiddleware) authenticateAPIKey(c *gin.Context) bool {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			candidate := strings.TrimPrefix(authHeader, "Bearer ")
			// JWTs contain dots; anything else is treated as an API key.
			if !strings.Contains(candidate, ".") {
				apiKey = candidate
			}
		}
	}
	if apiKey == "" {
		return false
	}

	for _, known := range am.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(known)) == 1 {
			c.Set("auth_method", "api_key")
			return true
		}
	}
	return false
}

// authenticateJWT validates an HS256 bearer token
func (am *AuthMiddleware) authenticateJWT(c *gin.Context) bool {
	if am.config.JWTSecret == "" {
		return false
	}

	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == "" {
		return false
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(am.config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return false
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		if sub, err := claims.GetSubject(); err == nil {
			c.Set("auth_subject", sub)
		}
	}
	c.Set("auth_method", "jwt")
	return true
}

// RequestID middleware adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}

		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// GetRequestIDFromContext extracts request ID from gin context
func GetRequestIDFromContext(c *gin.Context) string {
	requestID, exists := c.Get("request_id")
	if !exists {
		return ""
	}

	if id, ok := requestID.(string); ok {
		return id
	}
	return ""
}

// CORS middleware for handling Cross-Origin Resource Sharing
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-API-Key, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}
