// Package remote declares the operations the dashboard needs from its hosted
// backend: password auth, row access to named collections and attachment
// storage. Implementations live in the supabase and memory subpackages.
package remote

import (
	"context"
	"io"
	"time"

	"gastos/internal/core"
)

// Session is the token pair returned by a sign-in or a refresh.
type Session struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type,omitempty"`
	ExpiresIn    int      `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	User         AuthUser `json:"user"`
}

// Expiry returns when the access token stops being accepted.
func (s *Session) Expiry() time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	return time.Time{}
}

// AuthUser is the identity attached to a session.
type AuthUser struct {
	ID    core.ID `json:"id"`
	Email string  `json:"email"`
}

// Auth signs users in and out.
type Auth interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	User(ctx context.Context, accessToken string) (*AuthUser, error)
}

// Rows reads and writes collections. token is the caller's access token;
// an empty token acts with the anonymous key.
type Rows interface {
	// Select decodes the matching rows into dest, a pointer to a slice.
	Select(ctx context.Context, token string, q Query, dest any) error
	// Insert stores row and decodes the stored representation into dest
	// when dest is not nil.
	Insert(ctx context.Context, token, collection string, row any, dest any) error
	// Update patches the rows matching q's filters and decodes them into dest
	// when dest is not nil.
	Update(ctx context.Context, token string, q Query, patch any, dest any) error
	Delete(ctx context.Context, token string, q Query) error
}

// Objects stores attachments.
type Objects interface {
	Upload(ctx context.Context, token, bucket, path string, body io.Reader, contentType string) error
	PublicURL(bucket, path string) string
}

// Backend is everything the application uses from the hosted service.
type Backend interface {
	Auth
	Rows
	Objects
	// Ping is a cheap request used to probe connectivity.
	Ping(ctx context.Context) error
}
