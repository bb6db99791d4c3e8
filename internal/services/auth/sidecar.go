package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// sidecarFile is the small JSON file holding the last-known username and
// machine role between runs. It also carries UI preferences (language,
// theme) owned by other parts of the application: a login write touches only
// the keys the auth manager owns and leaves everything else alone.
const sidecarFile = "uli.json"

// legacyRoleFile mirrors machine_role for older builds. Read, never written.
const legacyRoleFile = "role.json"

type sidecar struct {
	path string
}

func newSidecar(dir string) *sidecar {
	return &sidecar{path: filepath.Join(dir, sidecarFile)}
}

// read returns the raw sidecar document, or an empty one when absent or
// unparseable.
func (s *sidecar) read() map[string]any {
	doc := map[string]any{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return map[string]any{}
	}
	return doc
}

// User returns the last-known username, or "".
func (s *sidecar) User() string {
	u, _ := s.read()["user"].(string)
	return u
}

// Role returns the stored machine role, falling back to the legacy mirror.
func (s *sidecar) Role() string {
	if r, ok := s.read()["machine_role"].(string); ok && r != "" {
		return r
	}
	// Legacy mirror from older builds.
	data, err := os.ReadFile(filepath.Join(filepath.Dir(s.path), legacyRoleFile))
	if err != nil {
		return ""
	}
	var doc struct {
		MachineRole string `json:"machine_role"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	return doc.MachineRole
}

// SetLogin rewrites user and machine_role, preserving every other key.
func (s *sidecar) SetLogin(user, role string) error {
	doc := s.read()
	doc["user"] = user
	doc["machine_role"] = role
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
