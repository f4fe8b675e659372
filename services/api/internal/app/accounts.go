package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mindmate/internal/util"
	"mindmate/pkg/auth"
	"mindmate/pkg/domain"
	"mindmate/pkg/store"
)

// Session is what signup and login hand back to the client.
type Session struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Accounts creates users and issues and checks their bearer tokens.
type Accounts struct {
	store  store.Store
	tokens *auth.Tokens
	now    func() time.Time
}

func NewAccounts(st store.Store, tokens *auth.Tokens) *Accounts {
	return &Accounts{store: st, tokens: tokens, now: time.Now}
}

// Signup registers a user and returns a session for them.
func (a *Accounts) Signup(ctx context.Context, in SignupInput) (Session, error) {
	in, err := in.Validate()
	if err != nil {
		return Session{}, err
	}
	exists, err := a.store.HasUserEmail(ctx, in.Email)
	if err != nil {
		return Session{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return Session{}, ErrEmailTaken
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	now := a.now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return Session{}, ErrEmailTaken
		}
		return Session{}, fmt.Errorf("save user: %w", err)
	}
	return a.issue(user)
}

// Login checks credentials. Unknown emails and wrong passwords fail the same way.
func (a *Accounts) Login(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return Session{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	return a.issue(user)
}

// Validate verifies a bearer token.
func (a *Accounts) Validate(ctx context.Context, token string) (auth.Claims, error) {
	return a.tokens.Verify(ctx, token)
}

// Logout revokes token until it would have expired anyway.
func (a *Accounts) Logout(ctx context.Context, token string) error {
	return a.tokens.Revoke(ctx, token)
}

// Keys returns the public signing keys, empty for HS256.
func (a *Accounts) Keys() []auth.JWK {
	return a.tokens.JWKS()
}

func (a *Accounts) issue(user domain.User) (Session, error) {
	token, _, err := a.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, User: user}, nil
}
