package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// DefaultGroupsClaim is the Cognito group list claim.
const DefaultGroupsClaim = "cognito:groups"

// VerifierConfig controls token validation.
type VerifierConfig struct {
	Issuer      string
	Audience    string
	HMACSecret  []byte
	GroupsClaim string
}

// Verifier validates RS256 tokens against a KeyCache and, when a secret is
// configured, HS256 tokens.
type Verifier struct {
	keys *KeyCache
	cfg  VerifierConfig
}

// NewVerifier builds a Verifier. keys may be nil when only HS256 is used.
func NewVerifier(keys *KeyCache, cfg VerifierConfig) (*Verifier, error) {
	if keys == nil && len(cfg.HMACSecret) == 0 {
		return nil, errors.New("a JWKS or an HMAC secret is required")
	}
	if cfg.GroupsClaim == "" {
		cfg.GroupsClaim = DefaultGroupsClaim
	}
	return &Verifier{keys: keys, cfg: cfg}, nil
}

// Verify parses raw and returns the caller identity.
func (v *Verifier) Verify(ctx context.Context, raw string) (Identity, error) {
	methods := make([]string, 0, 2)
	if v.keys != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(v.cfg.HMACSecret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired()}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		switch t.Method {
		case jwt.SigningMethodHS256:
			return v.cfg.HMACSecret, nil
		case jwt.SigningMethodRS256:
			kid, _ := t.Header["kid"].(string)
			return v.keys.Key(ctx, kid)
		default:
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	sub, _ := claims.GetSubject()
	if strings.TrimSpace(sub) == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	email, _ := claims["email"].(string)
	groups := stringList(claims[v.cfg.GroupsClaim])
	return Identity{Subject: sub, Email: email, Role: RoleFromGroups(groups), Groups: groups}, nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	case string:
		if t == "" {
			return []string{}
		}
		return strings.Fields(strings.ReplaceAll(t, ",", " "))
	default:
		return []string{}
	}
}
