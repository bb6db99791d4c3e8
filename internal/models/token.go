// Package models defines the data types shared across the Ecan identity core.
package models

import "time"

// TokenBundle holds the token triple returned by the identity provider.
// A bundle from a refresh-token grant carries no RefreshToken; the caller
// keeps the one it already holds.
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int32  `json:"expires_in"`
}

// Merge returns a copy of b with the refresh token from prev when b carries
// none. Used after a refresh grant, which never returns a refresh token.
func (b TokenBundle) Merge(prev TokenBundle) TokenBundle {
	if b.RefreshToken == "" {
		b.RefreshToken = prev.RefreshToken
	}
	return b
}

// BrokeredCredentials are temporary object-storage credentials obtained by
// trading an id-token through the identity brokering service.
type BrokeredCredentials struct {
	AccessKeyID  string    `json:"access_key_id"`
	SecretKey    string    `json:"secret_key"`
	SessionToken string    `json:"session_token"`
	Expiration   time.Time `json:"expiration"`
	IdentityID   string    `json:"identity_id"`
}

// FreshAt reports whether the credentials are still usable at the given
// instant with the given safety margin before expiry.
func (c BrokeredCredentials) FreshAt(now time.Time, margin time.Duration) bool {
	if c.AccessKeyID == "" || c.Expiration.IsZero() {
		return false
	}
	return now.Add(margin).Before(c.Expiration)
}

// UserInfo is the principal identity extracted from id-token claims or the
// OIDC userInfo endpoint.
type UserInfo struct {
	Sub      string `json:"sub"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Principal returns the best human-facing identifier for the user,
// preferring email over pool username over subject.
func (u UserInfo) Principal() string {
	if u.Email != "" {
		return u.Email
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Sub
}
