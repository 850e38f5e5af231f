package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// errTokenExpired's text is part of the wire contract: clients match it to
// decide whether a 401 is refreshable.
var errTokenExpired = errors.New("token expired")

var errTokenInvalid = errors.New("invalid token")

// identity is the authenticated caller derived from an access token.
type identity struct {
	UserID string
	Email  string
	Role   string
}

func (id identity) isAdmin() bool { return id.Role == "admin" }

// tokenAuthority signs and verifies HS256 access tokens.
type tokenAuthority struct {
	secret []byte
	ttl    time.Duration
}

func newTokenAuthority(secret []byte, ttl time.Duration) *tokenAuthority {
	return &tokenAuthority{secret: secret, ttl: ttl}
}

func (ta *tokenAuthority) issue(userID, email, role string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"role":  role,
		"iat":   now.Unix(),
		"exp":   now.Add(ta.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ta.secret)
}

func (ta *tokenAuthority) verify(token string) (identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errTokenInvalid
		}
		return ta.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return identity{}, errTokenExpired
		}
		return identity{}, errTokenInvalid
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return identity{}, errTokenInvalid
	}

	id := identity{UserID: sub}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if role, ok := claims["role"].(string); ok {
		id.Role = role
	}
	if id.Role == "" {
		id.Role = "user"
	}
	return id, nil
}
