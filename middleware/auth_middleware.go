package middleware

import (
	"log"
	"net/http"
	"os"
	"strings"

	"pricely/telemetry/utils"

	"github.com/gin-gonic/gin"
)

// bearerToken pulls the JWT from the cookie or Authorization header.
func bearerToken(c *gin.Context) string {
	tokenString, err := c.Cookie("jwt_token")
	if err == nil && tokenString != "" {
		return tokenString
	}
	tokenString = c.GetHeader("Authorization")
	if strings.HasPrefix(tokenString, "Bearer ") {
		return tokenString[7:]
	}
	return tokenString
}

// AuthRequired guards user-scoped endpoints: a valid JWT (or the shared
// X-API-KEY for server-to-server callers) must accompany the request.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		defaultToken := c.GetHeader("X-API-KEY")
		if defaultToken != "" && defaultToken == os.Getenv("AUTH_DEFAULT") {
			c.Next()
			return
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			log.Println("AuthRequired: No JWT token found in cookie or header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}

		claims, err := utils.ValidateJWT(tokenString)
		if err != nil {
			log.Printf("AuthRequired: Invalid JWT token: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Set("user_name", claims.Username)
		c.Next()
	}
}

// Identify resolves the acting principal when a credential is present but
// never rejects the request. Ingestion accepts anonymous instrumentation;
// handlers tag such events with the anonymous sentinel.
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString != "" {
			if claims, err := utils.ValidateJWT(tokenString); err == nil {
				c.Set("user_id", claims.UserID)
				c.Set("user_email", claims.Email)
				c.Set("user_name", claims.Username)
			} else {
				log.Printf("Identify: ignoring invalid token: %v", err)
			}
		}
		c.Next()
	}
}
