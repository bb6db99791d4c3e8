package models

import "errors"

// TokenUse discriminates the two JWT flavors issued by the identity provider.
type TokenUse string

const (
	TokenUseID     TokenUse = "id"
	TokenUseAccess TokenUse = "access"
)

// AuthErrorKind classifies identity-provider and brokering failures so the
// UI layer can translate them without string matching.
type AuthErrorKind string

const (
	ErrKindNetwork            AuthErrorKind = "network"
	ErrKindTooManyRequests    AuthErrorKind = "too_many_requests"
	ErrKindInvalidCredentials AuthErrorKind = "invalid_credentials"
	ErrKindUserNotConfirmed   AuthErrorKind = "user_not_confirmed"
	ErrKindUserNotFound       AuthErrorKind = "user_not_found"
	ErrKindUserExists         AuthErrorKind = "user_exists"
	ErrKindInvalidPassword    AuthErrorKind = "invalid_password"
	ErrKindInvalidEmail       AuthErrorKind = "invalid_email"
	ErrKindCodeMismatch       AuthErrorKind = "code_mismatch"
	ErrKindExpiredCode        AuthErrorKind = "expired_code"
	ErrKindJWKSUnavailable    AuthErrorKind = "jwks_unavailable"
	ErrKindKidMissing         AuthErrorKind = "kid_missing"
	ErrKindKidUnknown         AuthErrorKind = "kid_unknown"
	ErrKindTokenInvalid       AuthErrorKind = "invalid"
	ErrKindTokenRejected      AuthErrorKind = "token_rejected"
	ErrKindProviderMismatch   AuthErrorKind = "provider_mismatch"
	ErrKindNotConfigured      AuthErrorKind = "identity_not_configured"
	ErrKindTransport          AuthErrorKind = "transport_error"
	ErrKindStateMismatch      AuthErrorKind = "state_mismatch"
	ErrKindTimeout            AuthErrorKind = "timeout"
	ErrKindConfigMissing      AuthErrorKind = "config_missing"
	ErrKindInternal           AuthErrorKind = "internal"
)

// AuthError is the discriminated error type surfaced by the identity
// provider and brokering clients.
type AuthError struct {
	Kind    AuthErrorKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError builds an AuthError wrapping an underlying cause.
func NewAuthError(kind AuthErrorKind, message string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: err}
}

// KindOf returns the AuthErrorKind carried by err, or ErrKindInternal when
// err is not an AuthError.
func KindOf(err error) AuthErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ErrKindInternal
}
