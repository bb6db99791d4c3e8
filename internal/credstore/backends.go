package credstore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// chunkSize is a safe floor for per-item value limits across credential
// store providers. A backend that still rejects a write is treated as a
// strategy failure rather than retried with smaller chunks.
const chunkSize = 1200

// --- direct: a single put of the raw token ---

type directBackend struct {
	service string
	ring    SecretStore
}

func (b *directBackend) name() string { return "direct" }

func (b *directBackend) tryStore(user, token string) error {
	return b.ring.Set(b.service, user, token)
}

func (b *directBackend) tryLoad(user string) (string, error) {
	return b.ring.Get(b.service, user)
}

func (b *directBackend) tryDelete(user string) error {
	return b.ring.Delete(b.service, user)
}

// --- chunked: base64 split across numbered keys plus a count key ---

type chunkedBackend struct {
	service string
	ring    SecretStore
}

func (b *chunkedBackend) name() string { return "chunked" }

func (b *chunkedBackend) countService() string { return b.service + "_chunk_count" }

func (b *chunkedBackend) chunkService(i int) string {
	return fmt.Sprintf("%s_chunk_%d", b.service, i)
}

func (b *chunkedBackend) tryStore(user, token string) error {
	// Start clean so a reader can never see stale chunks beyond the new count.
	if err := b.tryDelete(user); err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(token))
	var chunks []string
	for len(encoded) > chunkSize {
		chunks = append(chunks, encoded[:chunkSize])
		encoded = encoded[chunkSize:]
	}
	chunks = append(chunks, encoded)

	if err := b.ring.Set(b.countService(), user, strconv.Itoa(len(chunks))); err != nil {
		return err
	}
	for i, chunk := range chunks {
		if err := b.ring.Set(b.chunkService(i), user, chunk); err != nil {
			// Leave no partial record behind.
			_ = b.tryDelete(user)
			return err
		}
	}
	return nil
}

func (b *chunkedBackend) tryLoad(user string) (string, error) {
	countStr, err := b.ring.Get(b.countService(), user)
	if err != nil {
		return "", err
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 {
		// A mismatched or mangled count must read as absent, never as a
		// truncated blob.
		return "", ErrNotFound
	}

	var encoded string
	for i := 0; i < count; i++ {
		chunk, err := b.ring.Get(b.chunkService(i), user)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return "", ErrNotFound
			}
			return "", err
		}
		encoded += chunk
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecode
	}
	return string(raw), nil
}

func (b *chunkedBackend) tryDelete(user string) error {
	countStr, err := b.ring.Get(b.countService(), user)
	if errors.Is(err, ErrNotFound) {
		return nil
	}

	// Best-effort sweep: remove the count first so readers fail closed, then
	// the chunks. An unparseable count still sweeps a generous range.
	if delErr := b.ring.Delete(b.countService(), user); delErr != nil {
		return delErr
	}
	count, convErr := strconv.Atoi(countStr)
	if err != nil || convErr != nil || count <= 0 {
		count = 64
	}
	for i := 0; i < count; i++ {
		_ = b.ring.Delete(b.chunkService(i), user)
	}
	return nil
}

// --- file: base64 blob in the app data directory ---

type fileBackend struct {
	dir string
}

func (b *fileBackend) name() string { return "file" }

func (b *fileBackend) path(user string) string {
	return filepath.Join(b.dir, ".rt_"+base64.RawURLEncoding.EncodeToString([]byte(user)))
}

func (b *fileBackend) tryStore(user, token string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(token))
	return os.WriteFile(b.path(user), []byte(encoded), 0o600)
}

func (b *fileBackend) tryLoad(user string) (string, error) {
	data, err := os.ReadFile(b.path(user))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return "", ErrDecode
	}
	return string(raw), nil
}

func (b *fileBackend) tryDelete(user string) error {
	err := os.Remove(b.path(user))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
