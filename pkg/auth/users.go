package auth

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors for user registration/login.
var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is a registered account.
type User struct {
	ID       string
	Email    string
	FullName string
	passHash []byte
}

// UserStore manages registered accounts. The in-memory implementation
// below is sufficient for the gateway's single-process deployment; a
// durable implementation would be backed by the metadata store the same
// way the auto-tag cache reuses it.
type UserStore interface {
	Register(email, password, fullName string) (User, error)
	Authenticate(email, password string) (User, error)
}

// memoryUserStore is a mutex-guarded in-memory UserStore.
type memoryUserStore struct {
	mu     sync.RWMutex
	byID   map[string]User
	byMail map[string]string // email -> id
}

// NewMemoryUserStore creates an empty in-memory user store.
func NewMemoryUserStore() UserStore {
	return &memoryUserStore{
		byID:   make(map[string]User),
		byMail: make(map[string]string),
	}
}

func (s *memoryUserStore) Register(email, password, fullName string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byMail[email]; exists {
		return User{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	u := User{ID: uuid.New().String(), Email: email, FullName: fullName, passHash: hash}
	s.byID[u.ID] = u
	s.byMail[email] = u.ID
	return u, nil
}

func (s *memoryUserStore) Authenticate(email, password string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byMail[email]
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	u := s.byID[id]
	if err := bcrypt.CompareHashAndPassword(u.passHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}
