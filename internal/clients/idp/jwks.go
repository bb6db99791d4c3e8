package idp

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ecan-labs/ecan/internal/models"
)

// jwksCache holds the provider's published RSA keys for the lifetime of the
// process. A kid miss may signal a key rotation and triggers exactly one
// refetch per verification.
type jwksCache struct {
	url        string
	httpClient *http.Client

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched bool
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (c *jwksCache) key(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[kid]
	return k, ok
}

func (c *jwksCache) loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetched
}

func (c *jwksCache) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch returned %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKeyFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetched = true
	c.mu.Unlock()
	return nil
}

func rsaKeyFromJWK(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}

// VerifyToken validates signature, issuer, audience and token_use for a JWT
// issued by the provider and returns its claims.
func (c *Client) VerifyToken(ctx context.Context, tokenString string, expectedUse models.TokenUse) (map[string]any, error) {
	if !c.jwks.loaded() {
		if err := c.jwks.fetch(ctx); err != nil {
			return nil, models.NewAuthError(models.ErrKindJWKSUnavailable, "could not fetch provider key set", err)
		}
	}

	// Peek at the header for the kid before verifying.
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, models.NewAuthError(models.ErrKindTokenInvalid, "malformed token", err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, models.NewAuthError(models.ErrKindKidMissing, "token header has no kid", nil)
	}

	key, ok := c.jwks.key(kid)
	if !ok {
		// One-shot refetch: an unknown kid usually means the provider
		// rotated its keys since our process-lifetime cache was filled.
		if err := c.jwks.fetch(ctx); err != nil {
			return nil, models.NewAuthError(models.ErrKindJWKSUnavailable, "could not refetch provider key set", err)
		}
		if key, ok = c.jwks.key(kid); !ok {
			return nil, models.NewAuthError(models.ErrKindKidUnknown, "signing key not in provider key set", nil)
		}
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer(c.auth.Issuer()))
	if err != nil {
		return nil, models.NewAuthError(models.ErrKindTokenInvalid, "token failed verification", err)
	}

	// Audience: id tokens carry the client id in aud; access tokens carry it
	// in client_id.
	switch expectedUse {
	case models.TokenUseID:
		aud, _ := claims.GetAudience()
		found := false
		for _, a := range aud {
			if a == c.auth.ClientID {
				found = true
				break
			}
		}
		if !found {
			return nil, models.NewAuthError(models.ErrKindTokenInvalid, "audience mismatch", nil)
		}
	case models.TokenUseAccess:
		if cid, _ := claims["client_id"].(string); cid != c.auth.ClientID {
			return nil, models.NewAuthError(models.ErrKindTokenInvalid, "client_id mismatch", nil)
		}
	}

	if use, _ := claims["token_use"].(string); use != string(expectedUse) {
		return nil, models.NewAuthError(models.ErrKindTokenInvalid,
			fmt.Sprintf("token_use is %q, expected %q", use, expectedUse), nil)
	}

	return claims, nil
}
