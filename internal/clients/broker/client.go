// Package broker trades an id-token for temporary object-storage credentials
// through the identity brokering service and caches them until near expiry.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ci "github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	citypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentity/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/ecan-labs/ecan/internal/common"
	"github.com/ecan-labs/ecan/internal/interfaces"
	"github.com/ecan-labs/ecan/internal/models"
)

// freshnessMargin is the minimum remaining validity of credentials served
// from the cache. Anything closer to expiry is refetched.
const freshnessMargin = 5 * time.Minute

// DefaultRateLimit caps brokering calls per second.
const DefaultRateLimit = 5

// identityAPI is the subset of the brokering service the client uses.
type identityAPI interface {
	GetId(ctx context.Context, in *ci.GetIdInput, optFns ...func(*ci.Options)) (*ci.GetIdOutput, error)
	GetCredentialsForIdentity(ctx context.Context, in *ci.GetCredentialsForIdentityInput, optFns ...func(*ci.Options)) (*ci.GetCredentialsForIdentityOutput, error)
}

// TokenVerifier validates an id-token (signature, issuer, audience,
// token_use) before the broker will trade it for credentials.
type TokenVerifier func(ctx context.Context, idToken string) error

// Client implements the IdentityBroker interface.
type Client struct {
	api            identityAPI
	identityPoolID string
	providerKey    string
	verify         TokenVerifier
	logger         *common.Logger
	limiter        *rate.Limiter
	now            func() time.Time

	mu     sync.Mutex
	cached *models.BrokeredCredentials
	// cacheToken is the id-token the cached credentials were brokered for.
	// A fresh id-token after a refresh invalidates the cache.
	cacheToken string
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithAPI injects the brokering API (tests)
func WithAPI(api identityAPI) ClientOption {
	return func(c *Client) {
		c.api = api
	}
}

// WithClock injects the time source (tests)
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// WithTokenVerifier gates brokering on id-token verification. Without it the
// broker forwards whatever string it is handed; production wiring always
// installs the identity provider's verifier.
func WithTokenVerifier(v TokenVerifier) ClientOption {
	return func(c *Client) {
		c.verify = v
	}
}

// NewClient creates a new identity brokering client. providerKey is the
// fully-qualified identity-provider URL the brokering service expects as the
// sole key of its login map, e.g. "cognito-idp.<region>.amazonaws.com/<pool>".
func NewClient(region, identityPoolID, providerKey string, opts ...ClientOption) *Client {
	c := &Client{
		api: ci.New(ci.Options{
			Region:      region,
			Credentials: aws.AnonymousCredentials{},
		}),
		identityPoolID: identityPoolID,
		providerKey:    providerKey,
		logger:         common.NewSilentLogger(),
		limiter:        rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Credentials returns cached credentials while they remain valid for at
// least five more minutes, otherwise fetches fresh ones.
func (c *Client) Credentials(ctx context.Context, idToken string) (*models.BrokeredCredentials, error) {
	c.mu.Lock()
	if c.cached != nil && c.cacheToken == idToken && c.cached.FreshAt(c.now(), freshnessMargin) {
		creds := c.cached
		c.mu.Unlock()
		return creds, nil
	}
	c.mu.Unlock()

	return c.ForceRefresh(ctx, idToken)
}

// ForceRefresh bypasses the cache and runs the two-call brokering protocol.
func (c *Client) ForceRefresh(ctx context.Context, idToken string) (*models.BrokeredCredentials, error) {
	if c.identityPoolID == "" || c.providerKey == "" {
		return nil, models.NewAuthError(models.ErrKindNotConfigured, "identity pool not configured", nil)
	}
	// Only verified id-tokens may be traded for credentials. Cache hits in
	// Credentials never reach this point with an unverified token because the
	// cache is keyed by tokens that passed here first.
	if c.verify != nil {
		if err := c.verify(ctx, idToken); err != nil {
			return nil, err
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, models.NewAuthError(models.ErrKindTransport, "rate limit wait", err)
	}

	logins := map[string]string{c.providerKey: idToken}

	idOut, err := c.api.GetId(ctx, &ci.GetIdInput{
		IdentityPoolId: aws.String(c.identityPoolID),
		Logins:         logins,
	})
	if err != nil {
		return nil, c.mapError(err)
	}

	credsOut, err := c.api.GetCredentialsForIdentity(ctx, &ci.GetCredentialsForIdentityInput{
		IdentityId: idOut.IdentityId,
		Logins:     logins,
	})
	if err != nil {
		return nil, c.mapError(err)
	}
	if credsOut.Credentials == nil {
		return nil, models.NewAuthError(models.ErrKindTransport, "brokering returned no credentials", nil)
	}

	creds := &models.BrokeredCredentials{
		AccessKeyID:  aws.ToString(credsOut.Credentials.AccessKeyId),
		SecretKey:    aws.ToString(credsOut.Credentials.SecretKey),
		SessionToken: aws.ToString(credsOut.Credentials.SessionToken),
		IdentityID:   aws.ToString(idOut.IdentityId),
	}
	if credsOut.Credentials.Expiration != nil {
		creds.Expiration = *credsOut.Credentials.Expiration
	}

	c.mu.Lock()
	c.cached = creds
	c.cacheToken = idToken
	c.mu.Unlock()

	c.logger.Debug().
		Str("identity_id", creds.IdentityID).
		Time("expiration", creds.Expiration).
		Msg("Brokered fresh storage credentials")
	return creds, nil
}

// Clear drops cached credentials.
func (c *Client) Clear() {
	c.mu.Lock()
	c.cached = nil
	c.cacheToken = ""
	c.mu.Unlock()
}

func (c *Client) mapError(err error) error {
	var (
		notAuthorized *citypes.NotAuthorizedException
		notFound      *citypes.ResourceNotFoundException
		invalidParam  *citypes.InvalidParameterException
	)
	switch {
	case errors.As(err, &notAuthorized):
		return models.NewAuthError(models.ErrKindTokenRejected, "brokering rejected the id token", err)
	case errors.As(err, &notFound):
		return models.NewAuthError(models.ErrKindNotConfigured, "identity pool not found", err)
	case errors.As(err, &invalidParam):
		return models.NewAuthError(models.ErrKindProviderMismatch, "login provider key rejected", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return models.NewAuthError(models.ErrKindTransport, apiErr.ErrorCode(), err)
	}
	return models.NewAuthError(models.ErrKindTransport, "brokering service unreachable", err)
}

// Ensure Client implements IdentityBroker
var _ interfaces.IdentityBroker = (*Client)(nil)
