// Package auth keeps the signed-in sessions of the dashboard. A session
// pairs an opaque cookie id with the backend tokens and the role looked up
// in the users table.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/remote"
	"gastos/internal/resilience"
)

// Defaults for Options fields left zero.
const (
	DefaultSessionTTL  = 12 * time.Hour
	DefaultMaxSessions = 1000
	// refreshSkew refreshes tokens slightly before they expire.
	refreshSkew = 30 * time.Second
)

var (
	ErrNoSession      = errors.New("no session")
	ErrSessionExpired = errors.New("session expired, please sign in again")
	ErrInactiveUser   = errors.New("user is inactive")
	ErrInvalidToken   = errors.New("invalid access token")
)

// EventKind names an auth state change.
type EventKind string

const (
	SignedIn       EventKind = "SIGNED_IN"
	SignedOut      EventKind = "SIGNED_OUT"
	TokenRefreshed EventKind = "TOKEN_REFRESHED"
	RoleUpdated    EventKind = "USER_UPDATED"
)

type Event struct {
	Kind      EventKind
	SessionID string
	Viewer    core.Viewer
}

// Session is an immutable snapshot; updates replace it.
type Session struct {
	ID           string
	Viewer       core.Viewer
	Status       core.UserStatus
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired reports whether the access token needs a refresh at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Add(refreshSkew).Before(s.ExpiresAt)
}

type Options struct {
	TTL         time.Duration
	MaxSessions int
	// JWTSecret enables HS256 verification of access tokens.
	JWTSecret    string
	QueryTimeout time.Duration
	Retrier      *resilience.Retrier
	Logger       *log.Logger
	Now          func() time.Time
}

type Sessions struct {
	backend remote.Backend
	store   *cache.LRUCache[*Session]
	flight  singleflight.Group
	retrier *resilience.Retrier
	secret  []byte
	timeout time.Duration
	now     func() time.Time
	logger  *log.Logger

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

func NewSessions(backend remote.Backend, opts Options) *Sessions {
	if opts.TTL <= 0 {
		opts.TTL = DefaultSessionTTL
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = resilience.DefaultTimeout
	}
	if opts.Retrier == nil {
		opts.Retrier = resilience.NewRetrier()
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Sessions{
		backend: backend,
		store:   cache.NewLRUCache[*Session](opts.MaxSessions, opts.TTL),
		retrier: opts.Retrier,
		timeout: opts.QueryTimeout,
		now:     opts.Now,
		logger:  opts.Logger.WithComponent(log.ComponentAuth),
		subs:    map[int]func(Event){},
	}
	if opts.JWTSecret != "" {
		s.secret = []byte(opts.JWTSecret)
	}
	s.store.SetClock(opts.Now)
	s.store.OnEvict(func(id string, sess *Session) {
		go s.publish(Event{Kind: SignedOut, SessionID: id, Viewer: sess.Viewer})
	})
	return s
}

// Cache exposes the session store so a cache.Manager can sweep it.
func (s *Sessions) Cache() *cache.LRUCache[*Session] {
	return s.store
}

// Subscribe registers fn for auth events. Call the returned func to stop.
func (s *Sessions) Subscribe(fn func(Event)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Sessions) publish(e Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// SignIn authenticates against the backend and opens a session. Bad
// credentials are not retried.
func (s *Sessions) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := core.ValidateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("sign in: empty password")
	}

	remoteSession, err := resilience.WithTimeout(ctx, s.timeout, func(ctx context.Context) (*remote.Session, error) {
		return s.backend.SignIn(ctx, email, password)
	})
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	sess, err := s.newSession(remoteSession)
	if err != nil {
		return nil, err
	}
	sess.ID = uuid.NewString()
	sess.CreatedAt = s.now()

	role, status := s.lookupRole(ctx, sess.Viewer)
	sess.Viewer.Role = role
	sess.Status = status
	if status == core.StatusInactive {
		s.revoke(ctx, sess)
		return nil, ErrInactiveUser
	}

	s.store.Set(sess.ID, sess)
	s.logger.InfoContext(ctx, "User signed in",
		log.FieldUserID, sess.Viewer.UserID.String(),
		log.FieldRole, string(role))
	s.publish(Event{Kind: SignedIn, SessionID: sess.ID, Viewer: sess.Viewer})
	return sess, nil
}

func (s *Sessions) newSession(rs *remote.Session) (*Session, error) {
	claims, err := s.parseToken(rs.AccessToken)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		Viewer: core.Viewer{
			UserID:      rs.User.ID,
			Email:       rs.User.Email,
			Role:        core.RoleEmployee,
			AccessToken: rs.AccessToken,
		},
		Status:       core.StatusActive,
		RefreshToken: rs.RefreshToken,
		ExpiresAt:    rs.Expiry(),
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	if sess.Viewer.UserID == "" {
		sess.Viewer.UserID = core.ID(claims.Subject)
	}
	if sess.Viewer.Email == "" {
		sess.Viewer.Email = claims.Email
	}
	return sess, nil
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// parseToken reads the access token claims, verifying the signature only
// when a secret is configured.
func (s *Sessions) parseToken(token string) (*tokenClaims, error) {
	var claims tokenClaims
	if s.secret == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return &claims, nil
	}
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

// lookupRole reads role and status from the users table. Any failure
// yields the employee role.
func (s *Sessions) lookupRole(ctx context.Context, v core.Viewer) (core.Role, core.UserStatus) {
	q := remote.From(core.CollectionUsers).Select("role, status").Eq("id", v.UserID).Limit(1)
	rows, err := resilience.Call(ctx, s.retrier, "users.role", s.timeout, func(ctx context.Context) ([]core.User, error) {
		var out []core.User
		err := s.backend.Select(ctx, v.AccessToken, q, &out)
		return out, err
	})
	if err != nil || len(rows) == 0 {
		s.logger.WarnContext(ctx, "Role lookup failed, using employee role",
			log.FieldUserID, v.UserID.String(),
			log.FieldError, err)
		return core.RoleEmployee, core.StatusActive
	}
	status := rows[0].Status
	if !status.Valid() {
		status = core.StatusActive
	}
	return core.ParseRole(string(rows[0].Role)), status
}

// Get returns the session for id, refreshing its access token when it is
// about to expire. A failed refresh ends the session.
func (s *Sessions) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNoSession
	}
	sess, ok := s.store.Get(id)
	if !ok {
		return nil, ErrNoSession
	}
	if !sess.Expired(s.now()) {
		s.store.Touch(id)
		return sess, nil
	}

	v, err, _ := s.flight.Do(id, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), sess)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (s *Sessions) refresh(ctx context.Context, old *Session) (*Session, error) {
	if cur, ok := s.store.Get(old.ID); ok && !cur.Expired(s.now()) {
		return cur, nil
	}
	rs, err := resilience.WithTimeout(ctx, s.timeout, func(ctx context.Context) (*remote.Session, error) {
		return s.backend.Refresh(ctx, old.RefreshToken)
	})
	var fresh *Session
	if err == nil {
		fresh, err = s.newSession(rs)
	}
	if err != nil {
		s.store.Delete(old.ID)
		s.logger.WarnContext(ctx, "Token refresh failed, session dropped",
			log.FieldUserID, old.Viewer.UserID.String(),
			log.FieldError, err)
		s.publish(Event{Kind: SignedOut, SessionID: old.ID, Viewer: old.Viewer})
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	fresh.ID = old.ID
	fresh.CreatedAt = old.CreatedAt
	fresh.Viewer.Role = old.Viewer.Role
	fresh.Status = old.Status
	s.store.Set(fresh.ID, fresh)
	s.logger.DebugContext(ctx, "Access token refreshed", log.FieldUserID, fresh.Viewer.UserID.String())
	s.publish(Event{Kind: TokenRefreshed, SessionID: fresh.ID, Viewer: fresh.Viewer})
	return fresh, nil
}

// Viewer is Get reduced to the identity queries run with.
func (s *Sessions) Viewer(ctx context.Context, id string) (core.Viewer, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return core.Viewer{}, err
	}
	return sess.Viewer, nil
}

// RefreshRole re-reads the role and status of the session's user.
func (s *Sessions) RefreshRole(ctx context.Context, id string) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	role, status := s.lookupRole(ctx, sess.Viewer)
	if status == core.StatusInactive {
		_ = s.SignOut(ctx, id)
		return nil, ErrInactiveUser
	}
	updated := *sess
	updated.Viewer.Role = role
	updated.Status = status
	s.store.Set(id, &updated)
	if role != sess.Viewer.Role {
		s.publish(Event{Kind: RoleUpdated, SessionID: id, Viewer: updated.Viewer})
	}
	return &updated, nil
}

// SignOut ends the session locally and, best effort, at the backend.
func (s *Sessions) SignOut(ctx context.Context, id string) error {
	sess, ok := s.store.Get(id)
	if !ok {
		return nil
	}
	s.store.Delete(id)
	s.revoke(ctx, sess)
	s.logger.InfoContext(ctx, "User signed out", log.FieldUserID, sess.Viewer.UserID.String())
	s.publish(Event{Kind: SignedOut, SessionID: id, Viewer: sess.Viewer})
	return nil
}

func (s *Sessions) revoke(ctx context.Context, sess *Session) {
	err := resilience.Exec(ctx, s.retrier, "auth.signout", s.timeout, func(ctx context.Context) error {
		return s.backend.SignOut(ctx, sess.Viewer.AccessToken)
	})
	if err != nil && !resilience.IsCanceled(err) {
		s.logger.WarnContext(ctx, "Backend sign out failed", log.FieldError, err)
	}
}

// Count returns the number of live sessions.
func (s *Sessions) Count() int {
	return s.store.Size()
}
