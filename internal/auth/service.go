package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/congo-pay/ledgerd/internal/ledger"
)

// ErrInvalidToken is returned for any token that fails parsing or validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the access token payload. Subject holds the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Token is an issued access token.
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Service issues and verifies HS256 access tokens.
type Service struct {
	issuer string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(issuer, secret string, ttl time.Duration) *Service {
	return &Service{issuer: issuer, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs an access token for user.
func (s *Service) Issue(user ledger.User) (Token, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Email: user.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{AccessToken: signed, ExpiresIn: int64(s.ttl.Seconds())}, nil
}

// Verify parses token and returns its claims when the signature, issuer and
// expiry check out.
func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
