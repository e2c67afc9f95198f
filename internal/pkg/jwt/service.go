package jwt

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const TokenTypeOperator = "operator"

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrNoSecret     = errors.New("no signing secret configured")
)

type Claims struct {
	Operator  string `json:"operator"`
	TokenType string `json:"token_type"`

	jwtlib.RegisteredClaims
}

type Service interface {
	GenerateOperatorToken(operator string) (string, time.Time, error)
	ValidateToken(tokenString string) (Claims, error)
}

// HMACService signs control-plane operator tokens with HS256.
type HMACService struct {
	secret    []byte
	expiresIn time.Duration
	now       func() time.Time
}

func NewHMACService(secret string, expiresIn time.Duration) *HMACService {
	if expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}
	return &HMACService{secret: []byte(secret), expiresIn: expiresIn, now: time.Now}
}

func (s *HMACService) GenerateOperatorToken(operator string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	operator = strings.TrimSpace(operator)
	if operator == "" {
		operator = "operator"
	}

	now := s.now().UTC()
	exp := now.Add(s.expiresIn)
	c := Claims{
		Operator:  operator,
		TokenType: TokenTypeOperator,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   operator,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (s *HMACService) ValidateToken(tokenString string) (Claims, error) {
	if len(s.secret) == 0 {
		return Claims{}, ErrNoSecret
	}
	p := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithTimeFunc(s.now),
	)

	var c Claims
	tok, err := p.ParseWithClaims(tokenString, &c, func(token *jwtlib.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if tok == nil || !tok.Valid {
		return Claims{}, ErrTokenInvalid
	}
	if c.TokenType != TokenTypeOperator {
		return Claims{}, ErrTokenInvalid
	}
	return c, nil
}
