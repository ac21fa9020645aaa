package hipaa

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Versioned ciphertexts carry a "v{N}:" prefix so rows encrypted under
// retired keys stay readable after a rotation.
const versionPrefix = "v"

// RotatingEncryptor encrypts with the current key and decrypts with whichever
// key version a ciphertext names. Old keys are decrypt-only.
type RotatingEncryptor struct {
	mu         sync.RWMutex
	current    *PHIEncryptor
	currentVer int
	previous   map[int]*PHIEncryptor
}

// NewRotatingEncryptor builds an encryptor around the current key.
func NewRotatingEncryptor(currentKey []byte, currentVersion int) (*RotatingEncryptor, error) {
	enc, err := NewPHIEncryptor(currentKey)
	if err != nil {
		return nil, fmt.Errorf("rotating encryptor: current key: %w", err)
	}
	return &RotatingEncryptor{
		current:    enc,
		currentVer: currentVersion,
		previous:   make(map[int]*PHIEncryptor),
	}, nil
}

// AddPreviousKey registers a retired key so its ciphertexts remain readable.
func (r *RotatingEncryptor) AddPreviousKey(key []byte, version int) error {
	enc, err := NewPHIEncryptor(key)
	if err != nil {
		return fmt.Errorf("rotating encryptor: previous key v%d: %w", version, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previous[version] = enc
	return nil
}

// Encrypt encrypts with the current key and tags the result with its version.
func (r *RotatingEncryptor) Encrypt(plaintext string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ciphertext, err := r.current.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return versionPrefix + strconv.Itoa(r.currentVer) + ":" + ciphertext, nil
}

// Decrypt picks the key named by the ciphertext's version tag. Untagged
// ciphertexts predate rotation support and are tried against the current key.
func (r *RotatingEncryptor) Decrypt(ciphertext string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, data, ok := splitVersionTag(ciphertext)
	if !ok {
		return r.current.Decrypt(ciphertext)
	}

	if version == r.currentVer {
		return r.current.Decrypt(data)
	}

	enc, found := r.previous[version]
	if !found {
		return "", fmt.Errorf("no key available for version %d", version)
	}
	return enc.Decrypt(data)
}

// NeedsReEncryption reports whether a ciphertext was written under a retired
// key, or under no version tag at all.
func (r *RotatingEncryptor) NeedsReEncryption(ciphertext string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, _, ok := splitVersionTag(ciphertext)
	if !ok {
		return true
	}
	return version != r.currentVer
}

// ReEncrypt rewrites a ciphertext under the current key.
func (r *RotatingEncryptor) ReEncrypt(ciphertext string) (string, error) {
	plaintext, err := r.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("re-encrypt: decrypt: %w", err)
	}
	return r.Encrypt(plaintext)
}

// CurrentVersion returns the version new ciphertexts are written under.
func (r *RotatingEncryptor) CurrentVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentVer
}

// splitVersionTag splits "v{N}:{data}" into its version and payload. The
// boolean is false when the input carries no parseable tag.
func splitVersionTag(s string) (int, string, bool) {
	tag, data, found := strings.Cut(s, ":")
	if !found || !strings.HasPrefix(tag, versionPrefix) {
		return 0, "", false
	}
	version, err := strconv.Atoi(tag[len(versionPrefix):])
	if err != nil || version < 1 {
		return 0, "", false
	}
	return version, data, true
}
