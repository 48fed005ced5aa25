package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoToken      = errors.New("no token configured")
)

// Authenticator checks API bearer tokens against a bcrypt hash. Only the
// hash is kept in memory.
type Authenticator struct {
	hash []byte

	mu       sync.Mutex
	verified [sha256.Size]byte
	ok       bool
}

// New builds an Authenticator from either a plaintext token or a bcrypt
// hash of one. With neither, the Authenticator is disabled and admits
// every request.
func New(token, tokenHash string) (*Authenticator, error) {
	switch {
	case tokenHash != "":
		if _, err := bcrypt.Cost([]byte(tokenHash)); err != nil {
			return nil, err
		}
		return &Authenticator{hash: []byte(tokenHash)}, nil
	case token != "":
		hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		return &Authenticator{hash: hash}, nil
	}
	return &Authenticator{}, nil
}

func (a *Authenticator) Enabled() bool { return len(a.hash) > 0 }

// Verify reports whether token matches. The digest of the last accepted
// token is remembered so repeat requests skip bcrypt.
func (a *Authenticator) Verify(token string) error {
	if !a.Enabled() {
		return ErrNoToken
	}
	if token == "" {
		return ErrInvalidToken
	}
	sum := sha256.Sum256([]byte(token))

	a.mu.Lock()
	hit := a.ok && subtle.ConstantTimeCompare(sum[:], a.verified[:]) == 1
	a.mu.Unlock()
	if hit {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	a.mu.Lock()
	a.verified, a.ok = sum, true
	a.mu.Unlock()
	return nil
}

// HashToken returns the bcrypt hash to put in auth.token_hash.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
