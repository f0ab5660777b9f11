package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultCredentialsDir is the directory under $HOME holding the
	// credentials file, shared with the config file.
	DefaultCredentialsDir  = ".aegis"
	DefaultCredentialsFile = "credentials.yaml"

	// EnvAPIKey overrides the stored key when set.
	EnvAPIKey = "AEGIS_API_KEY"
)

// Common errors.
var (
	// ErrNoCredentials is returned when no API key is stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrEncryptionFailed is returned when encryption or decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// SourceEnv and SourceFile identify where an API key came from.
const (
	SourceEnv  = "environment"
	SourceFile = "credentials file"
)

// Credentials holds the stored classification API key.
type Credentials struct {
	// APIKey is the classification service API key (encrypted at rest).
	APIKey string `yaml:"api_key"`
	// LastUpdated is when the key was last written.
	LastUpdated time.Time `yaml:"last_updated"`
}

// Store manages credential storage operations.
type Store struct {
	credentialsDir string
	encryptionKey  []byte
	keyProvider    KeyProvider
}

// NewStore creates a credential store using the default key provider.
func NewStore() (*Store, error) {
	provider, err := GetDefaultKeyProvider()
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(provider)
}

// NewStoreWithKeyProvider creates a credential store with a custom key
// provider.
func NewStoreWithKeyProvider(provider KeyProvider) (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}

	key, err := provider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}

	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    provider,
	}, nil
}

// CredentialsDir returns the credentials directory path. Uses
// $AEGIS_CONFIG_DIR when set, otherwise ~/.aegis.
func CredentialsDir() (string, error) {
	if dir := os.Getenv("AEGIS_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultCredentialsDir), nil
}

// KeyDescription names the key storage mechanism, for `auth show`.
func (s *Store) KeyDescription() string {
	return s.keyProvider.Description()
}

// Save encrypts and stores the API key.
func (s *Store) Save(apiKey string) error {
	if err := os.MkdirAll(s.credentialsDir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	encrypted, err := s.encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("encrypting API key: %w", err)
	}

	creds := Credentials{
		APIKey:      encrypted,
		LastUpdated: time.Now(),
	}
	data, err := yaml.Marshal(&creds)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	path := filepath.Join(s.credentialsDir, DefaultCredentialsFile)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// Load reads and decrypts the stored API key.
func (s *Store) Load() (*Credentials, error) {
	path := filepath.Join(s.credentialsDir, DefaultCredentialsFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	if creds.APIKey != "" {
		decrypted, err := s.decrypt(creds.APIKey)
		if err != nil {
			return nil, fmt.Errorf("decrypting API key: %w", err)
		}
		creds.APIKey = decrypted
	}
	return &creds, nil
}

// Delete removes stored credentials.
func (s *Store) Delete() error {
	path := filepath.Join(s.credentialsDir, DefaultCredentialsFile)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// Exists reports whether a credentials file is present.
func (s *Store) Exists() bool {
	path := filepath.Join(s.credentialsDir, DefaultCredentialsFile)
	_, err := os.Stat(path)
	return err == nil
}

// ActiveKey returns the API key the pipeline should use and where it came
// from. The AEGIS_API_KEY environment variable wins over the stored key.
func (s *Store) ActiveKey() (key, source string, err error) {
	if k := os.Getenv(EnvAPIKey); k != "" {
		return k, SourceEnv, nil
	}

	creds, err := s.Load()
	if err != nil {
		return "", "", err
	}
	if creds.APIKey == "" {
		return "", "", ErrNoCredentials
	}
	return creds.APIKey, SourceFile, nil
}

// IsConfigured reports whether an API key is available from either source.
// A nil store still honors the environment override.
func (s *Store) IsConfigured() bool {
	if os.Getenv(EnvAPIKey) != "" {
		return true
	}
	if s == nil {
		return false
	}
	key, _, err := s.ActiveKey()
	return err == nil && key != ""
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}
	return string(plaintext), nil
}

// MaskAPIKey returns a masked API key for display.
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}
	return apiKey[:4] + strings.Repeat("*", 8) + "..." + apiKey[len(apiKey)-4:]
}
