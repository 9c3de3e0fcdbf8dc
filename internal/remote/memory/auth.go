package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gastos/internal/core"
	"gastos/internal/remote"
	"gastos/internal/resilience"
)

var errInvalidCredentials = &resilience.BackendError{
	Status:  400,
	Code:    "invalid_credentials",
	Message: "Invalid login credentials",
}

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// AddUser registers an account and its users row.
func (s *Store) AddUser(email, password string, role core.Role) (core.ID, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	id := core.ID(uuid.NewString())
	s.mu.Lock()
	if _, ok := s.accounts[email]; ok {
		s.mu.Unlock()
		return "", fmt.Errorf("user %s already exists", email)
	}
	s.accounts[email] = account{id: id, email: email, password: password}
	s.mu.Unlock()

	err := s.Put(core.CollectionUsers, core.User{
		ID:        id,
		Email:     email,
		Role:      role,
		Status:    core.StatusActive,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) issue(a account) (*remote.Session, error) {
	now := s.now()
	exp := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: a.email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	refresh := uuid.NewString()
	s.refresh[refresh] = a.id
	return &remote.Session{
		AccessToken:  signed,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.tokenTTL.Seconds()),
		ExpiresAt:    exp.Unix(),
		User:         remote.AuthUser{ID: a.id, Email: a.email},
	}, nil
}

func (s *Store) SignIn(ctx context.Context, email, password string) (*remote.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !ok || a.password != password {
		return nil, errInvalidCredentials
	}
	return s.issue(a)
}

func (s *Store) Refresh(ctx context.Context, refreshToken string) (*remote.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refresh[refreshToken]
	if !ok {
		return nil, &resilience.BackendError{Status: 400, Code: "refresh_token_not_found", Message: "Invalid Refresh Token: Refresh Token Not Found"}
	}
	delete(s.refresh, refreshToken)
	for _, a := range s.accounts {
		if a.id == id {
			return s.issue(a)
		}
	}
	return nil, errInvalidCredentials
}

func (s *Store) SignOut(ctx context.Context, accessToken string) error {
	u, err := s.User(ctx, accessToken)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, id := range s.refresh {
		if id == u.ID {
			delete(s.refresh, tok)
		}
	}
	return nil
}

func (s *Store) User(ctx context.Context, accessToken string) (*remote.AuthUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var c claims
	_, err := jwt.ParseWithClaims(accessToken, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, &resilience.BackendError{Status: 401, Code: "bad_jwt", Message: "invalid JWT: " + err.Error()}
	}
	return &remote.AuthUser{ID: core.ID(c.Subject), Email: c.Email}, nil
}
