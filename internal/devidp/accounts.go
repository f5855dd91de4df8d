package devidp

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/jrsteele09/alumni-session/internal/errors"
	"github.com/jrsteele09/alumni-session/sessions"
	"golang.org/x/crypto/bcrypt"
)

// Account is a member or administrator known to the development backend.
type Account struct {
	ID           string             `json:"id,omitempty"`          // Unique identifier
	Email        string             `json:"email,omitempty"`       // Admin login name
	Username     string             `json:"username,omitempty"`    // Member login name
	DisplayName  string             `json:"displayName,omitempty"` // Shown in the UI
	PasswordHash string             `json:"-"`                     // Hashed password, never serialized
	Admin        bool               `json:"admin,omitempty"`       // Admin accounts log in through /admin/login
	Role         sessions.AdminRole `json:"role,omitempty"`        // Admin privilege level
	Active       bool               `json:"active,omitempty"`      // Inactive admins are refused
	Blocked      bool               `json:"blocked,omitempty"`     // Blocked members are refused
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var hasUpper, hasLower, hasNumber bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}
	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// AccountRepo stores accounts keyed by ID with a login-name index.
type AccountRepo interface {
	Upsert(account *Account) error
	GetByLogin(login string) (*Account, error)
	GetByID(id string) (*Account, error)
	List(offset, limit int) ([]*Account, error)
	SetBlocked(login string, blocked bool) error
	SetActive(login string, active bool) error
}

var _ AccountRepo = (*AccountStore)(nil)

type AccountStore struct {
	accounts map[string]*Account
	logins   map[string]string // login name to account id
	lock     sync.RWMutex
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]*Account),
		logins:   make(map[string]string),
	}
}

// Upsert stores a copy of account, assigning an ID when it has none.
func (s *AccountStore) Upsert(account *Account) error {
	if account.Email == "" && account.Username == "" {
		return fmt.Errorf("[devidp.Upsert] account needs an email or username")
	}
	if account.Admin && !account.Role.Valid() {
		return fmt.Errorf("[devidp.Upsert] invalid admin role %q", account.Role)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	stored := *account
	s.accounts[stored.ID] = &stored
	for _, login := range []string{stored.Email, stored.Username} {
		if login != "" {
			s.logins[strings.ToLower(login)] = stored.ID
		}
	}
	return nil
}

func (s *AccountStore) GetByLogin(login string) (*Account, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	id, ok := s.logins[strings.ToLower(login)]
	if !ok {
		return nil, errors.ErrNotFound
	}
	a := *s.accounts[id]
	return &a, nil
}

func (s *AccountStore) GetByID(id string) (*Account, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *AccountStore) List(offset, limit int) ([]*Account, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	list := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})

	if offset >= len(list) {
		return nil, nil
	}
	end := len(list)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return list[offset:end], nil
}

func (s *AccountStore) SetBlocked(login string, blocked bool) error {
	return s.update(login, func(a *Account) { a.Blocked = blocked })
}

func (s *AccountStore) SetActive(login string, active bool) error {
	return s.update(login, func(a *Account) { a.Active = active })
}

func (s *AccountStore) update(login string, fn func(*Account)) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	id, ok := s.logins[strings.ToLower(login)]
	if !ok {
		return errors.ErrNotFound
	}
	fn(s.accounts[id])
	return nil
}

// Seed describes an account created at startup with a plain-text password.
type Seed struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
	Role        sessions.AdminRole // Empty for members
}

// SeedAccounts hashes and stores each seed.
func SeedAccounts(repo AccountRepo, seeds ...Seed) error {
	for _, seed := range seeds {
		if err := ValidatePasswordStrength(seed.Password); err != nil {
			return fmt.Errorf("[devidp.SeedAccounts] %s: %w", seed.Email+seed.Username, err)
		}
		hash, err := HashPassword(seed.Password)
		if err != nil {
			return fmt.Errorf("[devidp.SeedAccounts] hashing password: %w", err)
		}
		account := &Account{
			Email:        seed.Email,
			Username:     seed.Username,
			DisplayName:  seed.DisplayName,
			PasswordHash: hash,
			Admin:        seed.Role != "",
			Role:         seed.Role,
			Active:       true,
		}
		if err := repo.Upsert(account); err != nil {
			return err
		}
	}
	return nil
}
