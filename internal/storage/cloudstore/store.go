package cloudstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/ecan-labs/ecan/internal/common"
	"github.com/ecan-labs/ecan/internal/interfaces"
	"github.com/ecan-labs/ecan/internal/models"
)

// ErrNotInitialized reports that no credential source is available: neither
// brokered credentials nor statically configured keys.
var ErrNotInitialized = errors.New("cloud storage not initialized")

// s3API is the subset of the object-storage service the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// presignAPI generates time-limited signed GET URLs.
type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*signedRequest, error)
}

// signedRequest mirrors the fields the store needs from a presigned request.
type signedRequest struct {
	URL string
}

// sdkPresigner adapts the SDK presign client to presignAPI.
type sdkPresigner struct {
	inner *s3.PresignClient
}

func (p *sdkPresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*signedRequest, error) {
	req, err := p.inner.PresignGetObject(ctx, in, optFns...)
	if err != nil {
		return nil, err
	}
	return &signedRequest{URL: req.URL}, nil
}

// Store implements the ObjectStorage interface over an S3-compatible
// service, lazily initializing its client from brokered credentials with a
// static-key fallback.
type Store struct {
	cfg     common.CloudConfig
	broker  interfaces.IdentityBroker
	idToken func() string
	logger  *common.Logger

	mu        sync.Mutex
	client    s3API
	presigner presignAPI
	creds     *models.BrokeredCredentials

	// newClient is the construction seam; tests swap it for fakes.
	newClient func(provider aws.CredentialsProvider) (s3API, presignAPI)
}

// StoreOption configures the store
type StoreOption func(*Store)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClientFactory injects the S3 client constructor (tests)
func WithClientFactory(f func(provider aws.CredentialsProvider) (s3API, presignAPI)) StoreOption {
	return func(s *Store) {
		s.newClient = f
	}
}

// NewStore creates an object-storage adapter. idToken supplies the current
// id-token for brokering; it may return "" when no session is active.
func NewStore(cfg common.CloudConfig, brk interfaces.IdentityBroker, idToken func() string, opts ...StoreOption) *Store {
	s := &Store{
		cfg:     cfg,
		broker:  brk,
		idToken: idToken,
		logger:  common.NewSilentLogger(),
	}
	s.newClient = func(provider aws.CredentialsProvider) (s3API, presignAPI) {
		s3opts := s3.Options{
			Region:      cfg.Region,
			Credentials: provider,
		}
		if cfg.Endpoint != "" {
			s3opts.BaseEndpoint = aws.String(cfg.Endpoint)
			s3opts.UsePathStyle = true
		}
		client := s3.New(s3opts)
		return client, &sdkPresigner{inner: s3.NewPresignClient(client)}
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// fullKey applies the configured path prefix.
func (s *Store) fullKey(key string) string {
	if s.cfg.PathPrefix == "" {
		return key
	}
	prefix := strings.TrimSuffix(s.cfg.PathPrefix, "/")
	return prefix + "/" + strings.TrimPrefix(key, "/")
}

// ensureClient lazily builds the S3 client. Brokered credentials win over
// statically configured keys; with neither, every operation fails with
// ErrNotInitialized.
func (s *Store) ensureClient(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var provider aws.CredentialsProvider
	if s.broker != nil && s.idToken != nil && s.idToken() != "" {
		// The broker enforces the five-minute freshness floor, so asking on
		// every call is cheap while cached and rebuilds the client exactly
		// when the credentials roll over.
		var creds *models.BrokeredCredentials
		var err error
		if force {
			creds, err = s.broker.ForceRefresh(ctx, s.idToken())
		} else {
			creds, err = s.broker.Credentials(ctx, s.idToken())
		}
		if err != nil {
			return err
		}
		if s.client != nil && creds == s.creds {
			return nil
		}
		s.creds = creds
		provider = awscreds.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretKey, creds.SessionToken)
	} else if s.cfg.AccessKey != "" && s.cfg.SecretKey != "" {
		if s.client != nil && !force {
			return nil
		}
		provider = awscreds.NewStaticCredentialsProvider(s.cfg.AccessKey, s.cfg.SecretKey, "")
	} else {
		return ErrNotInitialized
	}

	s.client, s.presigner = s.newClient(provider)
	return nil
}

// expiredCredentials reports provider errors that call for one forced
// credential refresh and a single retry.
func expiredCredentials(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ExpiredToken", "ExpiredTokenException", "TokenRefreshRequired", "InvalidToken":
		return true
	}
	return false
}

// withCredentialRetry runs op, refreshing brokered credentials exactly once
// when they expired mid-call. A second failure is returned as-is.
func (s *Store) withCredentialRetry(ctx context.Context, op func() error) error {
	if err := s.ensureClient(ctx, false); err != nil {
		return err
	}
	err := op()
	if err == nil || !expiredCredentials(err) {
		return err
	}

	s.logger.Debug().Msg("Storage credentials expired mid-call; refreshing once")
	if rerr := s.ensureClient(ctx, true); rerr != nil {
		return rerr
	}
	return op()
}

// Upload stores a local file under the given key and returns its long-lived
// public URL.
func (s *Store) Upload(ctx context.Context, localPath, key, contentType string, metadata map[string]string) (string, error) {
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(localPath))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}

	err := s.withCredentialRetry(ctx, func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", localPath, err)
		}
		defer f.Close()

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(s.fullKey(key)),
			Body:        f,
			ContentType: aws.String(contentType),
			Metadata:    metadata,
		})
		return err
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug().Str("key", key).Msg("Object uploaded")
	return s.URL(ctx, key, 0, false)
}

// Download fetches the object into localPath, creating parent directories.
func (s *Store) Download(ctx context.Context, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", localPath, err)
	}

	return s.withCredentialRetry(ctx, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()

		f, err := os.Create(localPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", localPath, err)
		}
		defer f.Close()

		_, err = io.Copy(f, out.Body)
		return err
	})
}

// Delete removes the object.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.withCredentialRetry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		return err
	})
}

// Exists reports whether the object is present. Any error reads as absent;
// that is how head-object 404s normally surface.
func (s *Store) Exists(ctx context.Context, key string) bool {
	err := s.withCredentialRetry(ctx, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		return err
	})
	return err == nil
}

// URL computes the access URL for a key: CDN when requested and configured,
// a presigned GET for a positive TTL, the custom endpoint form when one is
// configured, and the virtual-hosted form otherwise.
func (s *Store) URL(ctx context.Context, key string, expiresIn time.Duration, useCDN bool) (string, error) {
	full := s.fullKey(key)

	if useCDN && s.cfg.CDNDomain != "" {
		scheme := "http"
		if s.cfg.UseSSL {
			scheme = "https"
		}
		return fmt.Sprintf("%s://%s/%s", scheme, s.cfg.CDNDomain, full), nil
	}

	if expiresIn > 0 {
		if err := s.ensureClient(ctx, false); err != nil {
			return "", err
		}
		req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(full),
		}, s3.WithPresignExpires(expiresIn))
		if err != nil {
			return "", fmt.Errorf("failed to presign %s: %w", key, err)
		}
		return req.URL, nil
	}

	if s.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(s.cfg.Endpoint, "/"), s.cfg.Bucket, full), nil
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, full), nil
}

// Ensure Store implements ObjectStorage
var _ interfaces.ObjectStorage = (*Store)(nil)
