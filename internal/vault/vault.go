// Package vault stores endpoint API keys encrypted at rest.
package vault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// Errors returned by the vault.
var (
	ErrLocked          = errors.New("vault is locked")
	ErrAlreadyUnlocked = errors.New("vault is already unlocked")
	ErrNotInitialized  = errors.New("vault is not initialized")
	ErrAlreadyExists   = errors.New("vault already initialized")
	ErrKeyNotFound     = errors.New("key not found in vault")
	ErrBadPassword     = errors.New("wrong vault password")
	ErrCorrupted       = errors.New("vault file corrupted")
)

const (
	// Argon2id parameters
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4

	saltSize  = 16
	nonceSize = 24
	keySize   = 32
)

// Secret is one stored credential.
type Secret struct {
	// Name is the unique identifier for the secret.
	Name string `json:"name"`

	// Value is the secret value (an API key).
	Value string `json:"value"`

	// CreatedAt is when the secret was first stored.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the secret was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// payload is the JSON document inside the encrypted box.
type payload struct {
	Version int                `json:"version"`
	Secrets map[string]*Secret `json:"secrets"`
}

// Vault is an encrypted secret file. The key is derived from a
// password with Argon2id and the payload sealed with NaCl secretbox;
// on disk the file is salt || nonce || box.
type Vault struct {
	mu       sync.RWMutex
	path     string
	salt     []byte
	key      *[keySize]byte
	data     *payload
	unlocked bool
}

// New returns a vault backed by the file at path. Nothing touches the
// filesystem until Initialize or Unlock.
func New(path string) *Vault {
	return &Vault{path: path}
}

// DefaultPath returns the vault file location under a data directory.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "secrets.enc")
}

// IsInitialized reports whether the vault file exists.
func (v *Vault) IsInitialized() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// IsUnlocked reports whether the vault is open for reads and writes.
func (v *Vault) IsUnlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.unlocked
}

// Initialize creates an empty vault protected by password.
func (v *Vault) Initialize(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.IsInitialized() {
		return ErrAlreadyExists
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	v.salt = salt
	v.key = deriveKey(password, salt)
	v.data = &payload{
		Version: 1,
		Secrets: make(map[string]*Secret),
	}
	v.unlocked = true

	if err := v.saveLocked(); err != nil {
		v.unlocked = false
		return err
	}
	return nil
}

// Unlock opens the vault with the given password.
func (v *Vault) Unlock(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unlocked {
		return ErrAlreadyUnlocked
	}

	raw, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotInitialized
		}
		return fmt.Errorf("read vault: %w", err)
	}
	if len(raw) < saltSize+nonceSize+secretbox.Overhead {
		return ErrCorrupted
	}

	salt := raw[:saltSize]
	key := deriveKey(password, salt)

	plaintext, err := open(raw[saltSize:], key)
	if err != nil {
		return ErrBadPassword
	}

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return ErrCorrupted
	}
	if p.Secrets == nil {
		p.Secrets = make(map[string]*Secret)
	}

	v.salt = salt
	v.key = key
	v.data = &p
	v.unlocked = true
	return nil
}

// Lock drops the key material and cached secrets.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil {
		for i := range v.key {
			v.key[i] = 0
		}
	}
	v.key = nil
	v.salt = nil
	v.data = nil
	v.unlocked = false
}

// Set adds or replaces a secret and writes the vault back out.
func (v *Vault) Set(name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.unlocked {
		return ErrLocked
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("secret name is required")
	}

	now := time.Now().UTC()
	secret := &Secret{
		Name:      name,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := v.data.Secrets[name]; ok {
		secret.CreatedAt = existing.CreatedAt
	}
	v.data.Secrets[name] = secret

	return v.saveLocked()
}

// Get returns a copy of the named secret.
func (v *Vault) Get(name string) (Secret, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.unlocked {
		return Secret{}, ErrLocked
	}
	secret, ok := v.data.Secrets[name]
	if !ok {
		return Secret{}, ErrKeyNotFound
	}
	return *secret, nil
}

// Delete removes a secret and writes the vault back out.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.unlocked {
		return ErrLocked
	}
	if _, ok := v.data.Secrets[name]; !ok {
		return ErrKeyNotFound
	}
	delete(v.data.Secrets, name)

	return v.saveLocked()
}

// Names returns the stored secret names, sorted.
func (v *Vault) Names() ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.unlocked {
		return nil, ErrLocked
	}
	names := make([]string, 0, len(v.data.Secrets))
	for name := range v.data.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ChangePassword re-encrypts the vault under a new password and salt.
func (v *Vault) ChangePassword(oldPassword, newPassword string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.unlocked {
		return ErrLocked
	}

	oldKey := deriveKey(oldPassword, v.salt)
	if *oldKey != *v.key {
		return ErrBadPassword
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	v.salt = salt
	v.key = deriveKey(newPassword, salt)

	return v.saveLocked()
}

// ResolveCredential turns a credential reference into its value:
//
//	vault:NAME  - the named secret (vault must be unlocked)
//	env:NAME    - the environment variable
//	anything    - returned as-is
func (v *Vault) ResolveCredential(ref string) (string, error) {
	if name, ok := strings.CutPrefix(ref, "vault:"); ok {
		secret, err := v.Get(name)
		if err != nil {
			return "", fmt.Errorf("vault secret %q: %w", name, err)
		}
		return secret.Value, nil
	}

	if name, ok := strings.CutPrefix(ref, "env:"); ok {
		value, found := os.LookupEnv(name)
		if !found {
			return "", fmt.Errorf("environment variable %q not set", name)
		}
		return value, nil
	}

	return ref, nil
}

// saveLocked writes salt || sealed payload. Callers hold the lock.
func (v *Vault) saveLocked() error {
	plaintext, err := json.Marshal(v.data)
	if err != nil {
		return fmt.Errorf("serialize vault: %w", err)
	}

	sealed, err := seal(plaintext, v.key)
	if err != nil {
		return err
	}

	out := make([]byte, 0, saltSize+len(sealed))
	out = append(out, v.salt...)
	out = append(out, sealed...)

	if err := os.WriteFile(v.path, out, 0600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	return nil
}

// deriveKey derives the secretbox key from a password with Argon2id.
func deriveKey(password string, salt []byte) *[keySize]byte {
	raw := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, keySize)
	var key [keySize]byte
	copy(key[:], raw)
	return &key
}

// seal encrypts plaintext with a fresh random nonce, returning
// nonce || box.
func seal(plaintext []byte, key *[keySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// open decrypts nonce || box.
func open(sealed []byte, key *[keySize]byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, ErrCorrupted
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrBadPassword
	}
	return plaintext, nil
}
