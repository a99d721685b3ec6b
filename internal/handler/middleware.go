package handler

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zaliubovskiy/chatrelay/internal/auth"
	"github.com/zaliubovskiy/chatrelay/internal/domain"
	"github.com/zaliubovskiy/chatrelay/pkg/log"
	"github.com/zaliubovskiy/chatrelay/pkg/response"
)

const contextUserKey = "auth_user"

// AuthMiddleware resolves the Authorization header against the
// configured validator and stores the identity in the request context.
// Accepts both "Token <key>" and "Bearer <jwt>" schemes.
func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		token := header
		for _, scheme := range []string{"Token ", "Bearer "} {
			if strings.HasPrefix(header, scheme) {
				token = strings.TrimPrefix(header, scheme)
				break
			}
		}

		user, err := validator.Resolve(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				l := log.Ctx(c.Request.Context())
				l.Error().Err(err).Msg("token resolution failed")
			}
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		c.Set(contextUserKey, user)
		c.Set(log.FieldUserID, user.ID)
		c.Next()
	}
}

// currentUser returns the identity stored by AuthMiddleware.
func currentUser(c *gin.Context) (*domain.User, bool) {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*domain.User)
	return user, ok
}
