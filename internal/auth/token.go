package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenInvalid = errors.New("auth: token invalid")
	ErrTokenExpired = errors.New("auth: token expired")
)

const (
	DefaultAccessTTL  = 2 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims are the decoded claims of a bearer token. Numeric claims decode as float64.
type Claims map[string]any

// ExpiresAt returns the exp claim.
func (c Claims) ExpiresAt() time.Time {
	if v, ok := c["exp"].(float64); ok {
		return time.Unix(int64(v), 0)
	}
	return time.Time{}
}

// Issuer signs and verifies HS256 bearer tokens.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewIssuer(secret, issuer string) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs payload with an absolute expiry lifetime from now. A lifetime
// <= 0 yields a token that is already expired.
func (i *Issuer) Issue(payload map[string]any, lifetime time.Duration) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{}
	for k, v := range payload {
		claims[k] = v
	}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(max(lifetime, 0)).Unix()
	claims["jti"] = uuid.NewString()
	if i.issuer != "" {
		claims["iss"] = i.issuer
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return s, nil
}

// Decode verifies the signature and expiry of token.
func (i *Issuer) Decode(token string) (Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return Claims(mc), nil
}

// TokenPair is issued at launch. Refresh exchange is not implemented.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IssuePair issues an access and a refresh token for the same payload.
func (i *Issuer) IssuePair(payload map[string]any, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	access, err := i.Issue(with(payload, "typ", "access"), accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.Issue(with(payload, "typ", "refresh"), refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func with(m map[string]any, k string, v any) map[string]any {
	cp := make(map[string]any, len(m)+1)
	for mk, mv := range m {
		cp[mk] = mv
	}
	cp[k] = v
	return cp
}
