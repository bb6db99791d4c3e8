// Package idp provides the client for the hosted identity provider. It is
// the only package that speaks to the provider's auth endpoints: SRP login,
// sign-up, password reset, the refresh-token grant, JWT verification against
// the provider's key set, the hosted-UI authorization URL and the
// back-channel code exchange.
package idp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	cognitosrp "github.com/alexrudd/cognito-srp/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/ecan-labs/ecan/internal/common"
	"github.com/ecan-labs/ecan/internal/interfaces"
	"github.com/ecan-labs/ecan/internal/models"
)

const (
	// DefaultTimeout bounds every provider HTTP call.
	DefaultTimeout = 30 * time.Second
	// maxAttempts bounds internal retries for the transient error classes.
	maxAttempts = 5
	// throttleBackoffCap / networkBackoffCap are the per-attempt wait
	// ceilings for the two retryable classes.
	throttleBackoffCap = 30 * time.Second
	networkBackoffCap  = 15 * time.Second
)

// Client implements the IdentityProvider interface against a Cognito-style
// hosted identity service.
type Client struct {
	auth       common.AuthConfig
	cognito    *cip.Client
	httpClient *http.Client
	logger     *common.Logger
	jwks       *jwksCache
	sleep      func(ctx context.Context, d time.Duration) error
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for the OAuth2 and JWKS endpoints
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
		c.jwks.httpClient = hc
	}
}

// WithBaseEndpoint points the provider API at a custom endpoint (tests)
func WithBaseEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.cognito = cip.New(cip.Options{
			Region:       c.auth.Region,
			Credentials:  aws.AnonymousCredentials{},
			BaseEndpoint: aws.String(endpoint),
		})
	}
}

// WithJWKSURL overrides the JWKS fetch URL (tests)
func WithJWKSURL(url string) ClientOption {
	return func(c *Client) {
		c.jwks.url = url
	}
}

// NewClient creates a new identity provider client
func NewClient(auth common.AuthConfig, opts ...ClientOption) *Client {
	hc := &http.Client{Timeout: DefaultTimeout}
	c := &Client{
		auth:       auth,
		httpClient: hc,
		logger:     common.NewSilentLogger(),
		cognito: cip.New(cip.Options{
			Region:      auth.Region,
			Credentials: aws.AnonymousCredentials{},
		}),
		jwks: &jwksCache{
			url:        auth.Issuer() + "/.well-known/jwks.json",
			httpClient: hc,
		},
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// secretHash computes the provider's SECRET_HASH parameter for clients
// configured with a secret.
func (c *Client) secretHash(username string) *string {
	if c.auth.ClientSecret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(c.auth.ClientSecret))
	mac.Write([]byte(username + c.auth.ClientID))
	return aws.String(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// Login runs the SRP exchange with the provider. The password itself never
// crosses the wire; only the SRP proof does.
func (c *Client) Login(ctx context.Context, username, password string) (*models.TokenBundle, error) {
	var bundle *models.TokenBundle
	err := c.withRetry(ctx, func() error {
		var secret *string
		if c.auth.ClientSecret != "" {
			secret = aws.String(c.auth.ClientSecret)
		}
		srp, err := cognitosrp.NewCognitoSRP(username, password, c.auth.UserPoolID, c.auth.ClientID, secret)
		if err != nil {
			return models.NewAuthError(models.ErrKindInternal, "srp setup failed", err)
		}

		initOut, err := c.cognito.InitiateAuth(ctx, &cip.InitiateAuthInput{
			AuthFlow:       ciptypes.AuthFlowTypeUserSrpAuth,
			ClientId:       aws.String(c.auth.ClientID),
			AuthParameters: srp.GetAuthParams(),
		})
		if err != nil {
			return c.mapError(err)
		}

		if initOut.ChallengeName != ciptypes.ChallengeNameTypePasswordVerifier {
			return models.NewAuthError(models.ErrKindInternal,
				fmt.Sprintf("unexpected challenge %q", initOut.ChallengeName), nil)
		}

		responses, err := srp.PasswordVerifierChallenge(initOut.ChallengeParameters, time.Now())
		if err != nil {
			return models.NewAuthError(models.ErrKindInternal, "srp proof failed", err)
		}

		chalOut, err := c.cognito.RespondToAuthChallenge(ctx, &cip.RespondToAuthChallengeInput{
			ChallengeName:      ciptypes.ChallengeNameTypePasswordVerifier,
			ClientId:           aws.String(c.auth.ClientID),
			ChallengeResponses: responses,
		})
		if err != nil {
			return c.mapError(err)
		}

		bundle = bundleFromResult(chalOut.AuthenticationResult)
		if bundle == nil {
			return models.NewAuthError(models.ErrKindInternal, "login returned no tokens", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("username", username).Msg("SRP login succeeded")
	return bundle, nil
}

// SignUp registers a new user in the provider's pool.
func (c *Client) SignUp(ctx context.Context, username, password string) error {
	return c.withRetry(ctx, func() error {
		_, err := c.cognito.SignUp(ctx, &cip.SignUpInput{
			ClientId:   aws.String(c.auth.ClientID),
			Username:   aws.String(username),
			Password:   aws.String(password),
			SecretHash: c.secretHash(username),
			UserAttributes: []ciptypes.AttributeType{
				{Name: aws.String("email"), Value: aws.String(username)},
			},
		})
		if err != nil {
			return c.mapError(err)
		}
		return nil
	})
}

// ForgotPassword starts a password-reset flow.
func (c *Client) ForgotPassword(ctx context.Context, username string) error {
	return c.withRetry(ctx, func() error {
		_, err := c.cognito.ForgotPassword(ctx, &cip.ForgotPasswordInput{
			ClientId:   aws.String(c.auth.ClientID),
			Username:   aws.String(username),
			SecretHash: c.secretHash(username),
		})
		if err != nil {
			return c.mapError(err)
		}
		return nil
	})
}

// ConfirmForgotPassword completes a password-reset flow.
func (c *Client) ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error {
	return c.withRetry(ctx, func() error {
		_, err := c.cognito.ConfirmForgotPassword(ctx, &cip.ConfirmForgotPasswordInput{
			ClientId:         aws.String(c.auth.ClientID),
			Username:         aws.String(username),
			ConfirmationCode: aws.String(code),
			Password:         aws.String(newPassword),
			SecretHash:       c.secretHash(username),
		})
		if err != nil {
			return c.mapError(err)
		}
		return nil
	})
}

// Refresh trades a refresh token for new access/id tokens. The provider
// never returns a refresh token on this grant; the caller keeps the old one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.TokenBundle, error) {
	var bundle *models.TokenBundle
	err := c.withRetry(ctx, func() error {
		out, err := c.cognito.InitiateAuth(ctx, &cip.InitiateAuthInput{
			AuthFlow: ciptypes.AuthFlowTypeRefreshTokenAuth,
			ClientId: aws.String(c.auth.ClientID),
			AuthParameters: map[string]string{
				"REFRESH_TOKEN": refreshToken,
			},
		})
		if err != nil {
			return c.mapError(err)
		}
		bundle = bundleFromResult(out.AuthenticationResult)
		if bundle == nil {
			return models.NewAuthError(models.ErrKindInternal, "refresh returned no tokens", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

func bundleFromResult(result *ciptypes.AuthenticationResultType) *models.TokenBundle {
	if result == nil {
		return nil
	}
	return &models.TokenBundle{
		AccessToken:  aws.ToString(result.AccessToken),
		IDToken:      aws.ToString(result.IdToken),
		RefreshToken: aws.ToString(result.RefreshToken),
		TokenType:    aws.ToString(result.TokenType),
		ExpiresIn:    result.ExpiresIn,
	}
}

// mapError translates provider SDK errors into the discriminated taxonomy.
func (c *Client) mapError(err error) error {
	var (
		notAuthorized   *ciptypes.NotAuthorizedException
		notConfirmed    *ciptypes.UserNotConfirmedException
		tooMany         *ciptypes.TooManyRequestsException
		userExists      *ciptypes.UsernameExistsException
		invalidPassword *ciptypes.InvalidPasswordException
		invalidParam    *ciptypes.InvalidParameterException
		codeMismatch    *ciptypes.CodeMismatchException
		expiredCode     *ciptypes.ExpiredCodeException
		userNotFound    *ciptypes.UserNotFoundException
	)
	switch {
	case errors.As(err, &notAuthorized):
		return models.NewAuthError(models.ErrKindInvalidCredentials, "invalid username or password", err)
	case errors.As(err, &notConfirmed):
		return models.NewAuthError(models.ErrKindUserNotConfirmed, "account not confirmed", err)
	case errors.As(err, &tooMany):
		return models.NewAuthError(models.ErrKindTooManyRequests, "provider throttled the request", err)
	case errors.As(err, &userExists):
		return models.NewAuthError(models.ErrKindUserExists, "account already exists", err)
	case errors.As(err, &invalidPassword):
		return models.NewAuthError(models.ErrKindInvalidPassword, "password does not meet policy", err)
	case errors.As(err, &invalidParam):
		return models.NewAuthError(models.ErrKindInvalidEmail, "invalid request parameter", err)
	case errors.As(err, &codeMismatch):
		return models.NewAuthError(models.ErrKindCodeMismatch, "confirmation code does not match", err)
	case errors.As(err, &expiredCode):
		return models.NewAuthError(models.ErrKindExpiredCode, "confirmation code expired", err)
	case errors.As(err, &userNotFound):
		return models.NewAuthError(models.ErrKindUserNotFound, "no such account", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return models.NewAuthError(models.ErrKindInternal, apiErr.ErrorCode(), err)
	}
	return models.NewAuthError(models.ErrKindNetwork, "provider unreachable", err)
}

// withRetry retries the two transient error classes with capped exponential
// backoff; everything else surfaces immediately.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}

		var capWait time.Duration
		switch models.KindOf(err) {
		case models.ErrKindTooManyRequests:
			capWait = throttleBackoffCap
		case models.ErrKindNetwork:
			capWait = networkBackoffCap
		default:
			return err
		}
		if attempt == maxAttempts {
			return err
		}

		wait := bo.NextBackOff()
		if wait > capWait {
			wait = capWait
		}
		c.logger.Debug().
			Int("attempt", attempt).
			Dur("wait", wait).
			Str("kind", string(models.KindOf(err))).
			Msg("Retrying provider call")
		if serr := c.sleep(ctx, wait); serr != nil {
			return err
		}
	}
	return err
}

// Ensure Client implements IdentityProvider
var _ interfaces.IdentityProvider = (*Client)(nil)
