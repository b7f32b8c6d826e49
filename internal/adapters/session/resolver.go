// Package session resolves the authenticated user behind a request. REST
// middleware and the websocket upgrade use the same Resolver over the same store.
package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dkeye/squadlink/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	UserKey    = "user_id"
	contextKey = "session.user"
)

type Resolver struct {
	store sessions.Store
	name  string
}

func NewResolver(store sessions.Store, name string) *Resolver {
	return &Resolver{store: store, name: name}
}

func (r *Resolver) Name() string { return r.name }

func (r *Resolver) Store() sessions.Store { return r.store }

// Resolve returns the user bound to the request's session cookie, or an error
// wrapping domain.ErrUnauthorized.
func (r *Resolver) Resolve(req *http.Request) (domain.UserID, error) {
	if _, err := req.Cookie(r.name); errors.Is(err, http.ErrNoCookie) {
		return "", fmt.Errorf("%w: no session found", domain.ErrUnauthorized)
	}
	s, err := r.store.Get(req, r.name)
	if err != nil {
		return "", fmt.Errorf("%w: invalid session: %v", domain.ErrUnauthorized, err)
	}
	raw, _ := s.Values[UserKey].(string)
	if raw == "" {
		return "", fmt.Errorf("%w: session has no user", domain.ErrUnauthorized)
	}
	user, err := domain.ParseUserID(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return user, nil
}

// Middleware installs the gin-contrib session so handlers can write it.
func (r *Resolver) Middleware() gin.HandlerFunc {
	return sessions.Sessions(r.name, r.store)
}

// RequireUser aborts with 401 when the request carries no valid session.
func (r *Resolver) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := r.Resolve(c.Request)
		if err != nil {
			log.Debug().Err(err).Str("module", "session").Str("path", c.FullPath()).Msg("unauthenticated request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(contextKey, user)
		c.Next()
	}
}

// UserFrom returns the user stored by RequireUser.
func UserFrom(c *gin.Context) domain.UserID {
	v, _ := c.Get(contextKey)
	u, _ := v.(domain.UserID)
	return u
}

// Login binds user to the caller's session cookie.
func Login(c *gin.Context, user domain.UserID) error {
	s := sessions.Default(c)
	s.Set(UserKey, user.String())
	return s.Save()
}

func Logout(c *gin.Context) error {
	s := sessions.Default(c)
	s.Clear()
	return s.Save()
}
