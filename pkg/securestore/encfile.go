package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the file encryption key from a passphrase.
const (
	argonMemory      = 19 * 1024 // Memory usage in KiB (19 MiB)
	argonIterations  = 2         // Iteration count
	argonParallelism = 1         // Number of threads
	argonKeyLength   = 32        // AES-256 key length
	argonSaltLength  = 16        // Length of the salt
)

// FileStore is a Store backed by a single encrypted file. The whole secret
// map is sealed with AES-256-GCM under a key derived from a passphrase via
// Argon2id; the salt is stored alongside the ciphertext.
//
// File layout: JSON envelope {salt, data} where data is
// [12-byte nonce][ciphertext][16-byte auth tag], all base64 via JSON encoding.
//
// Writes go through a temp file and rename so a crash mid-write never leaves
// a truncated store behind.
type FileStore struct {
	path       string
	passphrase []byte

	mu sync.Mutex
}

type fileEnvelope struct {
	Salt []byte `json:"salt"`
	Data []byte `json:"data"`
}

// NewFileStore creates a file-backed store at path. The file is created on
// first write. The passphrase must be identical across opens of the same file.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("securestore: file path must not be empty")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("securestore: passphrase must not be empty")
	}

	return &FileStore{path: path, passphrase: []byte(passphrase)}, nil
}

// SetSecret implements Store.
func (s *FileStore) SetSecret(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secrets, err := s.load()
	if err != nil {
		return err
	}

	secrets[key] = value
	return s.save(secrets)
}

// GetSecret implements Store.
func (s *FileStore) GetSecret(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secrets, err := s.load()
	if err != nil {
		return "", err
	}

	value, ok := secrets[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// DeleteSecret implements Store.
func (s *FileStore) DeleteSecret(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secrets, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := secrets[key]; !ok {
		return nil
	}

	delete(secrets, key)
	return s.save(secrets)
}

func (s *FileStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret store: %w", err)
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse secret store: %w", err)
	}

	gcm, err := s.sealer(envelope.Salt)
	if err != nil {
		return nil, err
	}

	if len(envelope.Data) < gcm.NonceSize() {
		return nil, fmt.Errorf("secret store is truncated")
	}

	nonce := envelope.Data[:gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, envelope.Data[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret store: %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to decode secret store: %w", err)
	}
	return secrets, nil
}

func (s *FileStore) save(secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to encode secret store: %w", err)
	}

	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := s.sealer(salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	envelope := fileEnvelope{
		Salt: salt,
		Data: gcm.Seal(nonce, nonce, plaintext, nil),
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	// Atomic replace: write to a temp file in the same directory, then rename.
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write secret store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace secret store: %w", err)
	}
	return nil
}

// sealer derives the AES-256-GCM AEAD for the given salt.
func (s *FileStore) sealer(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(s.passphrase, salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
