package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/goccy/go-json"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"
	"lakedeploy/internal/common"
	"lakedeploy/pkg/errors"
)

const (
	// Keyring service name
	keyringService = "lakedeploy"
	// Salt for key derivation
	saltSize = 32
	// Number of iterations for PBKDF2
	pbkdf2Iterations = 100000
	// Key size for AES-256
	keySize = 32
)

// Credential represents a stored secret
type Credential struct {
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Value     string            `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Encrypted bool              `json:"encrypted"`
}

// CredentialStore keeps service principal secrets in the OS keyring,
// or in AES-GCM encrypted files when no keyring is available
type CredentialStore struct {
	dir        string
	useKeyring bool
	masterKey  []byte
}

// NewCredentialStore creates a store rooted at dir (default ~/.lakedeploy/credentials)
func NewCredentialStore(dir string) (*CredentialStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve home directory")
		}
		dir = filepath.Join(home, ".lakedeploy", "credentials")
	}
	return newCredentialStore(dir, isKeyringAvailable())
}

func newCredentialStore(dir string, useKeyring bool) (*CredentialStore, error) {
	cs := &CredentialStore{dir: dir, useKeyring: useKeyring}

	// File storage needs a master key
	if !cs.useKeyring {
		key, err := cs.loadMasterKey()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "failed to initialize master key")
		}
		cs.masterKey = key
	}

	return cs, nil
}

// UsesKeyring reports whether secrets go to the OS keyring
func (cs *CredentialStore) UsesKeyring() bool {
	return cs.useKeyring
}

// Store saves a secret under name
func (cs *CredentialStore) Store(name, credType, value string, metadata map[string]string) error {
	if cs.useKeyring {
		data, err := json.Marshal(Credential{Name: name, Type: credType, Value: value, Metadata: metadata})
		if err != nil {
			return fmt.Errorf("failed to marshal credential: %w", err)
		}
		if err := keyring.Set(keyringService, name, string(data)); err != nil {
			return errors.Wrap(err, errors.ErrCodeFileOperation, "failed to store secret in keyring")
		}
		return nil
	}

	encrypted, err := cs.encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return cs.saveFile(&Credential{
		Name:      name,
		Type:      credType,
		Value:     encrypted,
		Metadata:  metadata,
		Encrypted: true,
	})
}

// Get retrieves a stored secret
func (cs *CredentialStore) Get(name string) (*Credential, error) {
	if cs.useKeyring {
		data, err := keyring.Get(keyringService, name)
		if err == keyring.ErrNotFound {
			return nil, notFound(name)
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "failed to read secret from keyring")
		}

		var cred Credential
		if err := json.Unmarshal([]byte(data), &cred); err != nil {
			return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
		}
		return &cred, nil
	}

	cred, err := cs.loadFile(name)
	if err != nil {
		return nil, err
	}
	if cred.Encrypted {
		decrypted, err := cs.decrypt(cred.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credential: %w", err)
		}
		cred.Value = decrypted
		cred.Encrypted = false
	}
	return cred, nil
}

// Delete removes a stored secret
func (cs *CredentialStore) Delete(name string) error {
	if cs.useKeyring {
		if err := keyring.Delete(keyringService, name); err != nil {
			if err == keyring.ErrNotFound {
				return notFound(name)
			}
			return err
		}
		return nil
	}

	path, err := cs.credentialPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return notFound(name)
		}
		return err
	}
	return nil
}

func notFound(name string) error {
	return errors.New(errors.ErrCodeCredentialNotFound, "No stored credential found").
		WithContext("name", name).
		WithSuggestions("Run 'lakedeploy auth sp-login' to store the service principal secret")
}

// Encryption methods

func (cs *CredentialStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(cs.masterKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (cs *CredentialStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(cs.masterKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// File helpers

func (cs *CredentialStore) loadMasterKey() ([]byte, error) {
	keyPath, err := common.ValidatePath(filepath.Join(cs.dir, ".master"), cs.dir)
	if err != nil {
		return nil, fmt.Errorf("invalid master key path: %w", err)
	}

	data, err := os.ReadFile(keyPath) // #nosec G304 - path is validated
	if err == nil {
		if len(data) != saltSize+keySize {
			return nil, fmt.Errorf("invalid master key file size")
		}
		return data[saltSize:], nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(machineID()), salt, pbkdf2Iterations, keySize, sha256.New)

	if err := os.MkdirAll(cs.dir, common.DirPermissionSecure); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, append(salt, key...), common.FilePermissionSecure); err != nil {
		return nil, err
	}
	return key, nil
}

func (cs *CredentialStore) credentialPath(name string) (string, error) {
	path, err := common.ValidatePath(filepath.Join(cs.dir, name+".cred"), cs.dir)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid credential name").WithContext("name", name)
	}
	return path, nil
}

func (cs *CredentialStore) saveFile(cred *Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cs.dir, common.DirPermissionSecure); err != nil {
		return err
	}

	path, err := cs.credentialPath(cred.Name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, common.FilePermissionSecure)
}

func (cs *CredentialStore) loadFile(name string) (*Credential, error) {
	path, err := cs.credentialPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(name)
		}
		return nil, err
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Platform-specific helpers

func isKeyringAvailable() bool {
	if os.Getenv("LAKEDEPLOY_USE_KEYRING") == "false" {
		return false
	}

	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	case "linux":
		if os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != "" {
			return true
		}
	}
	return false
}

func machineID() string {
	hostname, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}

	data := fmt.Sprintf("%s-%s-%s-%s", hostname, user, runtime.GOOS, runtime.GOARCH)
	hash := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(hash[:])
}
