package cloudstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/ecan-labs/ecan/internal/common"
	"github.com/ecan-labs/ecan/internal/models"
)

// --- Fakes ---

// fakeS3 is an in-memory object store recording the inputs it saw.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	putErr   error
	putCalls int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putErr != nil {
		err := f.putErr
		f.putErr = nil // one-shot
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound"}
	}
	return &s3.HeadObjectOutput{}, nil
}

// fakePresigner applies the presign options so the requested expiry shows up
// in the signed URL, the way a real signer encodes X-Amz-Expires.
type fakePresigner struct{}

func (fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*signedRequest, error) {
	var po s3.PresignOptions
	for _, fn := range optFns {
		fn(&po)
	}
	url := fmt.Sprintf("https://signed.example.com/%s?X-Amz-Expires=%d",
		aws.ToString(in.Key), int(po.Expires.Seconds()))
	return &signedRequest{URL: url}, nil
}

// fakeCredBroker serves a swappable credentials pointer; a swap simulates a
// brokered credential rollover.
type fakeCredBroker struct {
	mu       sync.Mutex
	creds    *models.BrokeredCredentials
	refreshs int
}

func newFakeCredBroker() *fakeCredBroker {
	return &fakeCredBroker{creds: &models.BrokeredCredentials{
		AccessKeyID: "AKID-1", SecretKey: "S1", SessionToken: "T1",
		Expiration: time.Now().Add(time.Hour),
	}}
}

func (f *fakeCredBroker) Credentials(ctx context.Context, idToken string) (*models.BrokeredCredentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds, nil
}

func (f *fakeCredBroker) ForceRefresh(ctx context.Context, idToken string) (*models.BrokeredCredentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshs++
	f.creds = &models.BrokeredCredentials{
		AccessKeyID: "AKID-2", SecretKey: "S2", SessionToken: "T2",
		Expiration: time.Now().Add(time.Hour),
	}
	return f.creds, nil
}

func (f *fakeCredBroker) Clear() {}

func newTestStore(t *testing.T, cfg common.CloudConfig) (*Store, *fakeS3, *int) {
	t.Helper()
	api := newFakeS3()
	builds := 0
	s := NewStore(cfg, newFakeCredBroker(), func() string { return "id-token" },
		WithClientFactory(func(provider aws.CredentialsProvider) (s3API, presignAPI) {
			builds++
			return api, fakePresigner{}
		}),
	)
	return s, api, &builds
}

func defaultCloudConfig() common.CloudConfig {
	return common.CloudConfig{
		Bucket: "ecan-assets",
		Region: "ap-southeast-2",
		UseSSL: true,
	}
}

// --- Upload / Download / Delete / Exists ---

func TestUploadAndDownload(t *testing.T) {
	s, api, _ := newTestStore(t, defaultCloudConfig())
	dir := t.TempDir()

	src := filepath.Join(dir, "portrait.png")
	if err := os.WriteFile(src, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	url, err := s.Upload(context.Background(), src, "avatars/u/portraits/h.png", "", nil)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if url != "https://ecan-assets.s3.ap-southeast-2.amazonaws.com/avatars/u/portraits/h.png" {
		t.Errorf("url = %q", url)
	}
	if string(api.objects["avatars/u/portraits/h.png"]) != "png-bytes" {
		t.Error("object body mismatch")
	}
	// Content type sniffed from the extension.
	if api.types["avatars/u/portraits/h.png"] != "image/png" {
		t.Errorf("content type = %q", api.types["avatars/u/portraits/h.png"])
	}

	dst := filepath.Join(dir, "nested", "out.png")
	if err := s.Download(context.Background(), "avatars/u/portraits/h.png", dst); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "png-bytes" {
		t.Error("downloaded body mismatch")
	}
}

func TestUploadUnknownExtensionFallsBackToOctetStream(t *testing.T) {
	s, api, _ := newTestStore(t, defaultCloudConfig())
	src := filepath.Join(t.TempDir(), "blob.zzz_unknown")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upload(context.Background(), src, "k", "", nil); err != nil {
		t.Fatal(err)
	}
	if api.types["k"] != "application/octet-stream" {
		t.Errorf("content type = %q", api.types["k"])
	}
}

func TestExists(t *testing.T) {
	s, api, _ := newTestStore(t, defaultCloudConfig())
	api.objects["present"] = []byte("x")

	if !s.Exists(context.Background(), "present") {
		t.Error("expected present object")
	}
	if s.Exists(context.Background(), "absent") {
		t.Error("expected absent object")
	}
}

func TestDelete(t *testing.T) {
	s, api, _ := newTestStore(t, defaultCloudConfig())
	api.objects["k"] = []byte("x")
	if err := s.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := api.objects["k"]; ok {
		t.Error("object still present")
	}
}

func TestPathPrefixApplied(t *testing.T) {
	cfg := defaultCloudConfig()
	cfg.PathPrefix = "tenant-a/"
	s, api, _ := newTestStore(t, cfg)

	src := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upload(context.Background(), src, "/docs/f.txt", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := api.objects["tenant-a/docs/f.txt"]; !ok {
		t.Errorf("keys seen: %v", keysOf(api.objects))
	}
}

func keysOf(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// --- Credential lifecycle ---

func TestExpiredCredentialsRetriedOnce(t *testing.T) {
	s, api, builds := newTestStore(t, defaultCloudConfig())
	api.putErr = &smithy.GenericAPIError{Code: "ExpiredToken"}

	src := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Upload(context.Background(), src, "k", "", nil); err != nil {
		t.Fatalf("Upload failed after refresh: %v", err)
	}
	if api.putCalls != 2 {
		t.Errorf("putCalls = %d, want 2 (one failure, one retry)", api.putCalls)
	}
	// The forced refresh rolled the credentials, so the client was rebuilt.
	if *builds != 2 {
		t.Errorf("client builds = %d, want 2", *builds)
	}
}

func TestNonCredentialErrorNotRetried(t *testing.T) {
	s, api, _ := newTestStore(t, defaultCloudConfig())
	api.putErr = &smithy.GenericAPIError{Code: "AccessDenied"}

	src := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upload(context.Background(), src, "k", "", nil); err == nil {
		t.Fatal("expected AccessDenied to surface")
	}
	if api.putCalls != 1 {
		t.Errorf("putCalls = %d, want 1", api.putCalls)
	}
}

func TestNotInitializedWithoutCredentials(t *testing.T) {
	// No broker, no static keys.
	s := NewStore(defaultCloudConfig(), nil, nil)
	err := s.Delete(context.Background(), "k")
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
}

func TestStaticKeysFallback(t *testing.T) {
	cfg := defaultCloudConfig()
	cfg.AccessKey = "AK"
	cfg.SecretKey = "SK"
	api := newFakeS3()
	api.objects["k"] = []byte("x")
	s := NewStore(cfg, nil, nil, WithClientFactory(func(provider aws.CredentialsProvider) (s3API, presignAPI) {
		return api, fakePresigner{}
	}))

	if !s.Exists(context.Background(), "k") {
		t.Error("static-key path should serve requests without a broker")
	}
}

// --- URL selection ---

func TestURLSelection(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*common.CloudConfig)
		expiresIn time.Duration
		useCDN    bool
		want      string
	}{
		{
			name: "cdn wins when requested and configured",
			mutate: func(c *common.CloudConfig) {
				c.CDNDomain = "cdn.example.com"
			},
			useCDN: true,
			want:   "https://cdn.example.com/k",
		},
		{
			name: "cdn respects use_ssl off",
			mutate: func(c *common.CloudConfig) {
				c.CDNDomain = "cdn.example.com"
				c.UseSSL = false
			},
			useCDN: true,
			want:   "http://cdn.example.com/k",
		},
		{
			name:   "cdn requested but not configured falls through",
			mutate: func(c *common.CloudConfig) {},
			useCDN: true,
			want:   "https://ecan-assets.s3.ap-southeast-2.amazonaws.com/k",
		},
		{
			name:      "positive ttl presigns with the requested expiry",
			mutate:    func(c *common.CloudConfig) {},
			expiresIn: 15 * time.Minute,
			want:      "https://signed.example.com/k?X-Amz-Expires=900",
		},
		{
			name: "custom endpoint uses path style",
			mutate: func(c *common.CloudConfig) {
				c.Endpoint = "https://minio.local:9000"
			},
			want: "https://minio.local:9000/ecan-assets/k",
		},
		{
			name:   "default is virtual-hosted",
			mutate: func(c *common.CloudConfig) {},
			want:   "https://ecan-assets.s3.ap-southeast-2.amazonaws.com/k",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultCloudConfig()
			tt.mutate(&cfg)
			s, _, _ := newTestStore(t, cfg)
			got, err := s.URL(context.Background(), "k", tt.expiresIn, tt.useCDN)
			if err != nil {
				t.Fatalf("URL failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("URL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestURLAppliesPathPrefix(t *testing.T) {
	cfg := defaultCloudConfig()
	cfg.PathPrefix = "tenant-a"
	cfg.CDNDomain = "cdn.example.com"
	s, _, _ := newTestStore(t, cfg)

	got, err := s.URL(context.Background(), "docs/f.txt", 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://cdn.example.com/tenant-a/docs/f.txt" {
		t.Errorf("URL = %q", got)
	}
}
