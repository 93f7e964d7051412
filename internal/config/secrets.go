package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	secretLLMAPIKey  = "llm_api_key"
	secretSigningKey = "auth_signing_key"
	signingKeyBytes  = 32
)

// secretStore abstracts where secrets live so tests can substitute one.
type secretStore interface {
	Get(name string) (string, error)
	Set(name, value string) error
}

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, appName, "secrets.json")
}

// fileSecrets keeps secrets as a flat JSON object readable only by the owner.
type fileSecrets struct {
	path string
}

func (f fileSecrets) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f fileSecrets) Get(name string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	v, ok := secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return v, nil
}

func (f fileSecrets) Set(name, value string) error {
	secrets, err := f.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[name] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

// ensureSigningKey returns the stored token signing key, generating and
// storing a random one on first use.
func ensureSigningKey(s secretStore) (string, error) {
	if key, err := s.Get(secretSigningKey); err == nil && key != "" {
		return key, nil
	}
	buf := make([]byte, signingKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating signing key: %w", err)
	}
	key := hex.EncodeToString(buf)
	if err := s.Set(secretSigningKey, key); err != nil {
		return "", fmt.Errorf("storing signing key: %w", err)
	}
	return key, nil
}
