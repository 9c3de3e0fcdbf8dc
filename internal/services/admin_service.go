package services

import (
	"context"
	"fmt"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/query"
	"gastos/internal/remote"
	"gastos/internal/resilience"
)

var usersKey = query.Key(PatternUsers)

// ListUsers returns every account by email. Admin only.
func (s *Service) ListUsers(ctx context.Context, v core.Viewer) ([]core.User, error) {
	if err := requireAdmin(v); err != nil {
		return nil, err
	}
	return s.users.Do(ctx, usersKey, func(ctx context.Context) ([]core.User, error) {
		q := remote.From(core.CollectionUsers).OrderBy("email", false)
		return resilience.Call(ctx, s.retrier, "users.list", s.timeout, func(ctx context.Context) ([]core.User, error) {
			var out []core.User
			err := s.backend.Select(ctx, v.AccessToken, q, &out)
			return out, err
		})
	})
}

// SetUserRole changes a user's role. Admins cannot demote themselves.
func (s *Service) SetUserRole(ctx context.Context, v core.Viewer, id core.ID, role core.Role) error {
	if err := requireAdmin(v); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidRole, role)
	}
	if id == v.UserID && role != core.RoleAdmin {
		return ErrForbidden
	}
	return s.patchUser(ctx, v, id, map[string]any{"role": role})
}

// SetUserStatus activates or deactivates a user. Admins cannot deactivate
// themselves.
func (s *Service) SetUserStatus(ctx context.Context, v core.Viewer, id core.ID, status core.UserStatus) error {
	if err := requireAdmin(v); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidStatus, status)
	}
	if id == v.UserID && status != core.StatusActive {
		return ErrForbidden
	}
	return s.patchUser(ctx, v, id, map[string]any{"status": status})
}

func (s *Service) patchUser(ctx context.Context, v core.Viewer, id core.ID, patch map[string]any) error {
	q := remote.From(core.CollectionUsers).Eq("id", id)
	rows, err := resilience.Once(ctx, s.retrier, "users.update", s.timeout, func(ctx context.Context) ([]core.User, error) {
		var out []core.User
		err := s.backend.Update(ctx, v.AccessToken, q, patch, &out)
		return out, err
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	s.afterWrite(ctx, core.CollectionUsers, amqp.OpUpdate, id, id, core.Date{})
	return nil
}
