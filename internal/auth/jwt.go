package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"facescan/internal/session"
)

// Token kinds carried in Claims.Kind.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload. Subject is the session id.
type Claims struct {
	Role  session.Role `json:"role"`
	Email string       `json:"email"`
	Kind  string       `json:"kind"`
	jwt.RegisteredClaims
}

// Session rebuilds the login state carried by the claims.
func (c Claims) Session() session.Session {
	return session.Session{
		ID:       c.Subject,
		Email:    c.Email,
		LoggedIn: true,
		Admin:    c.Role == session.RoleAdmin,
	}
}

// Issue issues signed access and refresh tokens for a logged-in session.
func Issue(s session.Session, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	if !s.LoggedIn || s.ID == "" {
		return TokenPair{}, errors.New("session not logged in")
	}
	now := time.Now()
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	claims := func(kind string, exp time.Time) Claims {
		return Claims{
			Role:  s.Role(),
			Email: s.Email,
			Kind:  kind,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				Subject:   s.ID,
				ExpiresAt: jwt.NewNumericDate(exp),
				IssuedAt:  jwt.NewNumericDate(now),
			},
		}
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims(KindAccess, accessExp)).SignedString([]byte(key))
	if err != nil {
		return TokenPair{}, err
	}

	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims(KindRefresh, refreshExp)).SignedString([]byte(key))
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
