package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidKey  = errors.New("invalid API key")
	ErrInvalidHash = errors.New("invalid API key hash")
)

// GenerateAPIKey returns a new random key and its bcrypt hash for the config file
func GenerateAPIKey() (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	key = base64.URLEncoding.EncodeToString(keyBytes)

	h, err := HashAPIKey(key)
	if err != nil {
		return "", "", err
	}
	return key, h, nil
}

// HashAPIKey hashes key for storage
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// KeyStore validates API keys against configured bcrypt hashes.
// Keys that passed once are remembered so repeat callers skip the bcrypt cost.
type KeyStore struct {
	hashes [][]byte
	mu     sync.RWMutex
	known  map[string]bool
}

// NewKeyStore creates a store; every hash must be a bcrypt hash
func NewKeyStore(hashes ...string) (*KeyStore, error) {
	ks := &KeyStore{known: make(map[string]bool)}
	for _, h := range hashes {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
		}
		ks.hashes = append(ks.hashes, []byte(h))
	}
	return ks, nil
}

// Len returns the number of configured hashes
func (ks *KeyStore) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.hashes)
}

// Validate checks key against every configured hash
func (ks *KeyStore) Validate(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	ks.mu.RLock()
	ok := ks.known[key]
	ks.mu.RUnlock()
	if ok {
		return nil
	}

	for _, h := range ks.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			ks.mu.Lock()
			ks.known[key] = true
			ks.mu.Unlock()
			return nil
		}
	}
	return ErrInvalidKey
}

// Middleware rejects requests without a valid "Authorization: Bearer <key>" header.
// A store with no hashes lets everything through.
func (ks *KeyStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ks.Len() == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if err := ks.Validate(BearerToken(r)); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="hostscan"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken extracts the token from the Authorization header
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
