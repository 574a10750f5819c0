package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

const defaultJWKSCacheTTL = 5 * time.Minute

var errNoKid = errors.New("token has no kid header")

// JWKSKey is one RSA entry of a JSON Web Key Set. Other key types are
// ignored when the set is loaded.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSResponse is the body served by a JWKS endpoint.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache holds the identity provider's signing keys by kid. A lookup
// that misses, or that lands after the TTL, reloads the whole set so
// rotated keys are picked up without a restart.
type JWKSCache struct {
	url    string
	ttl    time.Duration
	client *resty.Client

	// reload serialises fetches so a burst of tokens signed with a new
	// kid costs one request.
	reload sync.Mutex

	mu       sync.RWMutex
	keys     map[string]*rsa.PublicKey
	loadedAt time.Time
}

func NewJWKSCache(jwksURL string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		url:    jwksURL,
		ttl:    ttl,
		client: resty.New().SetTimeout(10 * time.Second),
	}
}

func (c *JWKSCache) lookup(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	return key, ok && time.Since(c.loadedAt) <= c.ttl
}

// GetKey returns the public key published under kid.
func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	if key, fresh := c.lookup(kid); fresh {
		return key, nil
	}

	c.reload.Lock()
	defer c.reload.Unlock()

	// Another caller may have reloaded while this one waited.
	if key, fresh := c.lookup(kid); fresh {
		return key, nil
	}
	if err := c.load(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	key, fresh := c.lookup(kid)
	if !fresh {
		return nil, fmt.Errorf("kid %q is not in the key set at %s", kid, c.url)
	}
	return key, nil
}

func (c *JWKSCache) load() error {
	var body JWKSResponse
	resp, err := c.client.R().SetResult(&body).ForceContentType("application/json").Get(c.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s answered %d", c.url, resp.StatusCode())
	}

	keys := make(map[string]*rsa.PublicKey, len(body.Keys))
	for _, k := range body.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		if pub, err := parseRSAPublicKey(k); err == nil {
			keys[k.Kid] = pub
		}
	}

	c.mu.Lock()
	c.keys = keys
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	modulus, err := decodeBigInt(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	exponent, err := decodeBigInt(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if !exponent.IsInt64() || exponent.Sign() <= 0 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: modulus, E: int(exponent.Int64())}, nil
}

func decodeBigInt(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// jwksKeyFunc resolves RS256 verification keys by the token's kid header.
func jwksKeyFunc(jwksURL string) jwt.Keyfunc {
	cache := NewJWKSCache(jwksURL, defaultJWKSCacheTTL)
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errNoKid
		}
		return cache.GetKey(kid)
	}
}
