package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const businessIDKey = "business_id"

// Claims is the bearer token issued to a business's staff
type Claims struct {
	jwt.RegisteredClaims
	BusinessID string `json:"business_id"`
}

// authMiddleware validates HS256 bearer tokens. With an empty secret every
// request passes and no tenant is bound.
func authMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}

		claims, err := parseToken(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid token",
				"details": err.Error(),
			})
			return
		}

		c.Set(businessIDKey, claims.BusinessID)
		c.Next()
	}
}

func parseToken(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.BusinessID == "" {
		return nil, errors.New("token has no business_id")
	}
	return claims, nil
}

// tenant returns the business bound to the request, if any
func tenant(c *gin.Context) string {
	return c.GetString(businessIDKey)
}

// sameTenant reports whether businessID may be touched by the caller
func sameTenant(c *gin.Context, businessID string) bool {
	t := tenant(c)
	return t == "" || t == businessID
}
