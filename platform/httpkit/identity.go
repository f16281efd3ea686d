// Package httpkit provides HTTP utilities including identity abstraction.
package httpkit

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity represents the authenticated operator calling the API.
type Identity interface {
	UserID() uuid.UUID
	Email() string
	Roles() []string
	HasRole(role string) bool
	IsAuthenticated() bool
}

type identity struct {
	userID        uuid.UUID
	email         string
	roles         []string
	authenticated bool
}

func (i *identity) UserID() uuid.UUID        { return i.userID }
func (i *identity) Email() string            { return i.email }
func (i *identity) Roles() []string          { return i.roles }
func (i *identity) HasRole(role string) bool { return slices.Contains(i.roles, role) }
func (i *identity) IsAuthenticated() bool    { return i.authenticated }

// GetIdentity extracts the Identity from a Gin context.
// Returns an unauthenticated identity if user info is not present.
func GetIdentity(c *gin.Context) Identity {
	raw, ok := c.Get(ContextUserIDKey)
	if !ok {
		return &identity{}
	}
	uid, ok := raw.(uuid.UUID)
	if !ok {
		return &identity{}
	}

	var roles []string
	if v, ok := c.Get(ContextRolesKey); ok {
		roles, _ = v.([]string)
	}

	return &identity{
		userID:        uid,
		email:         c.GetString(ContextEmailKey),
		roles:         roles,
		authenticated: true,
	}
}

// MustGetIdentity aborts with 401 and returns nil when the caller is not
// authenticated.
func MustGetIdentity(c *gin.Context) Identity {
	id := GetIdentity(c)
	if !id.IsAuthenticated() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return nil
	}
	return id
}
