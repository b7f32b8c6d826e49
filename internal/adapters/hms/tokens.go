package hms

import (
	"time"

	"github.com/dkeye/squadlink/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenVersion = 2

// managementToken authenticates REST calls; it is reused until a minute
// before it expires.
func (c *Client) managementToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.mgmtToken != "" && now.Add(time.Minute).Before(c.mgmtExp) {
		return c.mgmtToken, nil
	}
	exp := now.Add(c.cfg.TokenTTL)
	tok, err := c.sign(jwt.MapClaims{
		"access_key": c.cfg.AccessKey,
		"type":       "management",
		"version":    tokenVersion,
		"iat":        now.Unix(),
		"nbf":        now.Unix(),
		"exp":        exp.Unix(),
		"jti":        uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	c.mgmtToken, c.mgmtExp = tok, exp
	return tok, nil
}

// appToken lets one user join one room with one role.
func (c *Client) appToken(roomID string, user domain.UserID, role string) (string, error) {
	now := c.now()
	return c.sign(jwt.MapClaims{
		"access_key": c.cfg.AccessKey,
		"room_id":    roomID,
		"user_id":    user.String(),
		"role":       role,
		"type":       "app",
		"version":    tokenVersion,
		"iat":        now.Unix(),
		"nbf":        now.Unix(),
		"exp":        now.Add(c.cfg.TokenTTL).Unix(),
		"jti":        uuid.NewString(),
	})
}

func (c *Client) sign(claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.Secret))
}
