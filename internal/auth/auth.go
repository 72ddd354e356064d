package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nitesh/meal_match/internal/apperr"
)

// Rejection reasons reported by Verify.
const (
	ReasonMissing = "missing"
	ReasonExpired = "expired"
	ReasonInvalid = "invalid"
)

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Expires time.Time
}

// RejectedError explains why a credential was refused. It matches
// apperr.ErrUnauthorized under errors.Is.
type RejectedError struct {
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token %s: %v", e.Reason, e.Err)
	}
	return "token " + e.Reason
}

func (e *RejectedError) Unwrap() []error {
	if e.Err == nil {
		return []error{apperr.ErrUnauthorized}
	}
	return []error{apperr.ErrUnauthorized, e.Err}
}

type Claims struct {
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func New(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs an HS256 token for subject.
func (a *Authenticator) Issue(subject string) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify returns the caller identity for tokenString or a *RejectedError.
func (a *Authenticator) Verify(tokenString string) (Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Identity{}, &RejectedError{Reason: ReasonMissing}
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, &RejectedError{Reason: ReasonExpired, Err: err}
		}
		return Identity{}, &RejectedError{Reason: ReasonInvalid, Err: err}
	}
	if claims.Subject == "" {
		return Identity{}, &RejectedError{Reason: ReasonInvalid, Err: errors.New("empty subject")}
	}
	id := Identity{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		id.Expires = claims.ExpiresAt.Time
	}
	return id, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
