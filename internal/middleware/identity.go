package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/crewtalk-io/crewtalk-api/internal/utils"
)

// Identity is the token-data contract produced by the external token service.
// Every authenticated connection carries one.
type Identity struct {
	ID      string
	Name    string
	Surname string
	Roles   []string
}

// FullName joins name and surname for action message texts.
func (i Identity) FullName() string {
	return i.Name + " " + i.Surname
}

// HasRole reports whether the identity carries the given role.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// ParseIdentity validates an HMAC-signed token and extracts the identity claims.
func ParseIdentity(tokenString, secret string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("invalid token claims")
	}

	identity := Identity{
		ID:      stringClaim(claims, "id"),
		Name:    stringClaim(claims, "name"),
		Surname: stringClaim(claims, "surname"),
		Roles:   rolesClaim(claims),
	}

	if identity.ID == "" {
		return Identity{}, fmt.Errorf("token missing user id")
	}

	return identity, nil
}

// JWTProtected validates bearer tokens on REST routes and stores the identity in locals.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := c.Get("Authorization")
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		tokenString := strings.TrimSpace(authorization[len(bearer):])
		if tokenString == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		identity, err := ParseIdentity(tokenString, secret)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals("identity", identity)
		c.Locals("user_id", identity.ID)

		return c.Next()
	}
}

// RequireRole ensures that the authenticated identity possesses one of the allowed roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := c.Locals("identity").(Identity)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}

		for _, role := range roles {
			if identity.HasRole(role) {
				return c.Next()
			}
		}

		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}
}

// IdentityFromCtx extracts the identity stored by JWTProtected.
func IdentityFromCtx(c *fiber.Ctx) (Identity, bool) {
	identity, ok := c.Locals("identity").(Identity)
	return identity, ok
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if value, ok := claims[key]; ok {
		if str, ok := value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

func rolesClaim(claims jwt.MapClaims) []string {
	value, ok := claims["roles"]
	if !ok {
		return nil
	}

	switch v := value.(type) {
	case []interface{}:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			switch role := item.(type) {
			case string:
				roles = append(roles, strings.TrimSpace(role))
			case map[string]interface{}:
				// The token service historically embedded role rows, not names.
				if name, ok := role["name"].(string); ok {
					roles = append(roles, strings.TrimSpace(name))
				}
			}
		}
		return roles
	case []string:
		return v
	case string:
		return []string{strings.TrimSpace(v)}
	default:
		return nil
	}
}
