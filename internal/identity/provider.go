// Package identity registers users, checks passwords, and issues the signed
// session tokens that every authenticated request carries.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kalambet/innercompass/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 6
	DefaultTokenTTL   = 7 * 24 * time.Hour
	issuer            = "innercompass"
)

// Store defines the storage operations the Provider needs.
// Implemented by storage.Store.
type Store interface {
	CreateUser(ctx context.Context, u storage.User, c storage.Credential) error
	GetUser(ctx context.Context, id string) (storage.User, error)
	GetCredential(ctx context.Context, email string) (storage.Credential, error)
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Identity is an authenticated user plus the token that proves it.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	Token       string
	TokenID     string
	ExpiresAt   time.Time
}

type claims struct {
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

type Provider struct {
	store      Store
	signingKey []byte
	ttl        time.Duration
	bcryptCost int

	now   func() time.Time
	newID func() string
}

// NewProvider creates a Provider signing HS256 tokens with signingKey.
func NewProvider(store Store, signingKey []byte, ttl time.Duration) (*Provider, error) {
	if len(signingKey) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Provider{
		store:      store,
		signingKey: signingKey,
		ttl:        ttl,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Register creates a user with a bcrypt-hashed password and logs them in.
// An empty display name falls back to the local part of the email.
func (p *Provider) Register(ctx context.Context, email, password, displayName string) (Identity, error) {
	email = normalizeEmail(email)
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return Identity{}, &AuthError{Kind: KindInvalidEmail, Err: err}
	}
	if addr.Address != email {
		return Identity{}, &AuthError{Kind: KindInvalidEmail}
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return Identity{}, &AuthError{Kind: KindWeakPassword}
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = email[:strings.IndexByte(email, '@')]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return Identity{}, fmt.Errorf("hashing password: %w", err)
	}

	now := p.now().UTC()
	user := storage.User{
		ID:           p.newID(),
		Email:        email,
		DisplayName:  displayName,
		CreatedAt:    now,
		ProgressJSON: "{}",
	}
	cred := storage.Credential{
		Email:        email,
		UserID:       user.ID,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	if err := p.store.CreateUser(ctx, user, cred); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return Identity{}, &AuthError{Kind: KindDuplicateEmail, Err: err}
		}
		return Identity{}, &AuthError{Kind: KindNetwork, Err: err}
	}

	return p.issue(user)
}

// Login checks the password and issues a fresh token.
func (p *Provider) Login(ctx context.Context, email, password string) (Identity, error) {
	email = normalizeEmail(email)
	cred, err := p.store.GetCredential(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return Identity{}, &AuthError{Kind: KindInvalidCredentials}
	}
	if err != nil {
		return Identity{}, &AuthError{Kind: KindNetwork, Err: err}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return Identity{}, &AuthError{Kind: KindInvalidCredentials}
	}

	user, err := p.store.GetUser(ctx, cred.UserID)
	if err != nil {
		return Identity{}, &AuthError{Kind: KindNetwork, Err: err}
	}
	return p.issue(user)
}

// Verify parses and validates a token. Revoked tokens are rejected.
func (p *Provider) Verify(ctx context.Context, token string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return p.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !parsed.Valid {
		return Identity{}, &AuthError{Kind: KindInvalidToken, Err: err}
	}
	if c.Subject == "" || c.ID == "" {
		return Identity{}, &AuthError{Kind: KindInvalidToken, Err: errors.New("missing subject or id")}
	}

	revoked, err := p.store.IsTokenRevoked(ctx, c.ID)
	if err != nil {
		return Identity{}, &AuthError{Kind: KindNetwork, Err: err}
	}
	if revoked {
		return Identity{}, &AuthError{Kind: KindInvalidToken, Err: errors.New("token revoked")}
	}

	return Identity{
		UserID:      c.Subject,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		Token:       token,
		TokenID:     c.ID,
		ExpiresAt:   c.ExpiresAt.Time,
	}, nil
}

// Logout revokes the token until it would have expired anyway.
func (p *Provider) Logout(ctx context.Context, token string) error {
	id, err := p.Verify(ctx, token)
	if err != nil {
		return err
	}
	if err := p.store.RevokeToken(ctx, id.TokenID, id.ExpiresAt); err != nil {
		return &AuthError{Kind: KindNetwork, Err: err}
	}
	return nil
}

func (p *Provider) issue(u storage.User) (Identity, error) {
	now := p.now()
	exp := now.Add(p.ttl)
	jti := p.newID()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email:       u.Email,
		DisplayName: u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(p.signingKey)
	if err != nil {
		return Identity{}, fmt.Errorf("signing token: %w", err)
	}

	return Identity{
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Token:       signed,
		TokenID:     jti,
		ExpiresAt:   exp,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
