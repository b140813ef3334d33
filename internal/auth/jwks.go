package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/clock/system"
)

// ErrUnknownKey is returned when a kid is absent even after a refresh.
var ErrUnknownKey = errors.New("unknown signing key")

const (
	defaultJWKSTTL = time.Hour
	// minJWKSRefresh bounds how often an unknown kid may trigger a refetch.
	minJWKSRefresh = time.Minute
)

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeyCache holds RSA verification keys fetched from a JWKS endpoint. Keys are
// refetched when the TTL lapses, or when an unknown kid is requested and no
// fetch happened in the last minute.
type KeyCache struct {
	url    string
	ttl    time.Duration
	client *http.Client
	clock  capture.Clock

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	expires     time.Time
	lastAttempt time.Time
}

// NewKeyCache builds a cache for url. A nil client uses a 10s-timeout default.
func NewKeyCache(url string, ttl time.Duration, client *http.Client, clock capture.Clock) *KeyCache {
	if ttl <= 0 {
		ttl = defaultJWKSTTL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if clock == nil {
		clock = system.New()
	}
	return &KeyCache{url: url, ttl: ttl, client: client, clock: clock, keys: map[string]*rsa.PublicKey{}}
}

// Key returns the public key for kid.
func (c *KeyCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	fresh := now.Before(c.expires)
	key, ok := c.keys[kid]
	if ok && fresh {
		return key, nil
	}
	if fresh && !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < minJWKSRefresh {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}
	c.lastAttempt = now
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

// refresh must be called with c.mu held.
func (c *KeyCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}
	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKey(k.N, k.E)
		if err != nil {
			return fmt.Errorf("jwks key %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	c.keys = keys
	c.expires = c.clock.Now().Add(c.ttl)
	return nil
}

func rsaKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(eb)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp.Int64())}, nil
}
