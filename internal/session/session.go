// Package session holds the dashboard login state and its role.
package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredentials is returned when email or password is empty.
	ErrMissingCredentials = errors.New("email and password required")
	// ErrUnknownRole is returned for a role outside admin/user.
	ErrUnknownRole = errors.New("unknown role")
)

// Role is the closed set of dashboard roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps a login form value to a Role. Empty means user.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Credentials is the login form submission.
type Credentials struct {
	Email    string
	Password string
	Role     Role
}

// Session is the login state of one dashboard client. The zero value is
// logged out.
type Session struct {
	ID       string
	Email    string
	LoggedIn bool
	Admin    bool
}

// Login validates the credentials and marks the session logged in. Any
// non-empty email/password pair is accepted.
func (s *Session) Login(c Credentials) error {
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	if c.Role != RoleUser && c.Role != RoleAdmin {
		return fmt.Errorf("%w: %q", ErrUnknownRole, c.Role)
	}
	s.Email = strings.TrimSpace(c.Email)
	s.LoggedIn = true
	s.Admin = c.Role == RoleAdmin
	return nil
}

// Logout clears both flags.
func (s *Session) Logout() {
	s.Email = ""
	s.LoggedIn = false
	s.Admin = false
}

// Role returns the session role; logged-out sessions are users.
func (s Session) Role() Role {
	if s.LoggedIn && s.Admin {
		return RoleAdmin
	}
	return RoleUser
}
