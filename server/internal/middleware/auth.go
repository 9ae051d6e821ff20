package middleware

import (
	"net/http"
	"strings"

	"DocChat/server/internal/utils"

	"github.com/gin-gonic/gin"
)

// UserIDKey is where JWTAuth leaves the verified user id.
const UserIDKey = "userID"

type TokenVerifier interface {
	Verify(token string) (*utils.Claims, error)
}

// BearerToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter for websocket handshakes from browsers.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func JWTAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authorization token required"})
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}
