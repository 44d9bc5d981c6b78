package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/storage"
)

const (
	MaxEmailLen    = 120
	MinPasswordLen = 8
	maxPasswordLen = 72 // bcrypt input limit
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be between 8 and 72 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsVerified   bool
	CreatedAt    time.Time
}

type userJSON struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	IsVerified bool   `json:"is_verified"`
	CreatedAt  string `json:"created_at"`
}

func (u User) MarshalJSON() ([]byte, error) {
	return json.Marshal(userJSON{
		ID:         u.ID,
		Email:      u.Email,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt.UTC().Format(time.DateTime),
	})
}

type Store struct {
	DB   *storage.DB
	Now  func() time.Time
	Cost int
}

func NewStore(db *storage.DB) *Store {
	return &Store{DB: db, Now: time.Now, Cost: bcrypt.DefaultCost}
}

// NormalizeEmail lowercases and validates an address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > MaxEmailLen {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Register creates an unverified account.
func (s *Store) Register(ctx context.Context, email, password string) (User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	if len(password) < MinPasswordLen || len(password) > maxPasswordLen {
		return User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.Cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.Now().UTC()

	var id int64
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, is_verified, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, email, string(hash), false, storage.ToMillis(now)).Scan(&id)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return User{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    storage.FromMillis(storage.ToMillis(now)),
	}, nil
}

// Authenticate checks an email and password pair.
func (s *Store) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.getBy(ctx, `email = ?`, email)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Store) Get(ctx context.Context, id int64) (User, error) {
	return s.getBy(ctx, `id = ?`, id)
}

func (s *Store) getBy(ctx context.Context, where string, arg any) (User, error) {
	var (
		u         User
		createdAt int64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_verified, created_at
		FROM users WHERE `+where, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsVerified, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = storage.FromMillis(createdAt)
	return u, nil
}
