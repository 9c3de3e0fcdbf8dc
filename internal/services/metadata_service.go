package services

import (
	"context"
	"fmt"
	"strings"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/query"
	"gastos/internal/remote"
	"gastos/internal/resilience"
)

const maxNameLength = 100

var (
	categoriesKey = query.Key(PatternMetadata, core.CollectionCategories)
	methodsKey    = query.Key(PatternMetadata, core.CollectionPaymentMethods)
)

// ListCategories returns categories by name. Forms pass activeOnly.
func (s *Service) ListCategories(ctx context.Context, v core.Viewer, activeOnly bool) ([]core.Category, error) {
	all, err := s.categories.Do(ctx, categoriesKey, func(ctx context.Context) ([]core.Category, error) {
		q := remote.From(core.CollectionCategories).OrderBy("nombre", false)
		return resilience.Call(ctx, s.retrier, "categorias.list", s.timeout, func(ctx context.Context) ([]core.Category, error) {
			var out []core.Category
			err := s.backend.Select(ctx, v.AccessToken, q, &out)
			return out, err
		})
	})
	if err != nil || !activeOnly {
		return all, err
	}
	out := make([]core.Category, 0, len(all))
	for _, c := range all {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListPaymentMethods returns payment methods by name, cached under
// metadata_metodos_pago.
func (s *Service) ListPaymentMethods(ctx context.Context, v core.Viewer, activeOnly bool) ([]core.PaymentMethod, error) {
	all, err := s.methods.Do(ctx, methodsKey, func(ctx context.Context) ([]core.PaymentMethod, error) {
		q := remote.From(core.CollectionPaymentMethods).OrderBy("nombre", false)
		return resilience.Call(ctx, s.retrier, "metodos_pago.list", s.timeout, func(ctx context.Context) ([]core.PaymentMethod, error) {
			var out []core.PaymentMethod
			err := s.backend.Select(ctx, v.AccessToken, q, &out)
			return out, err
		})
	})
	if err != nil || !activeOnly {
		return all, err
	}
	out := make([]core.PaymentMethod, 0, len(all))
	for _, m := range all {
		if m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name", core.ErrEmptyDescription)
	}
	if err := core.ValidateTextLength(name, maxNameLength); err != nil {
		return "", err
	}
	return name, nil
}

// CreateCategory adds an active category owned by the viewer.
func (s *Service) CreateCategory(ctx context.Context, v core.Viewer, name string) (*core.Category, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	row := map[string]any{"nombre": name, "activa": true, "creador_id": v.UserID}
	created, err := resilience.Once(ctx, s.retrier, "categorias.create", s.timeout, func(ctx context.Context) (core.Category, error) {
		var out core.Category
		err := s.backend.Insert(ctx, v.AccessToken, core.CollectionCategories, row, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, core.CollectionCategories, amqp.OpCreate, created.ID, v.UserID, core.Date{})
	return &created, nil
}

// SetCategoryActive shows or hides a category in forms. Admin only.
func (s *Service) SetCategoryActive(ctx context.Context, v core.Viewer, id core.ID, active bool) error {
	if err := requireAdmin(v); err != nil {
		return err
	}
	return s.patchMetadata(ctx, v, core.CollectionCategories, id, map[string]any{"activa": active})
}

// CreatePaymentMethod adds an active payment method. Admin only.
func (s *Service) CreatePaymentMethod(ctx context.Context, v core.Viewer, name string) (*core.PaymentMethod, error) {
	if err := requireAdmin(v); err != nil {
		return nil, err
	}
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	row := map[string]any{"nombre": name, "activo": true}
	created, err := resilience.Once(ctx, s.retrier, "metodos_pago.create", s.timeout, func(ctx context.Context) (core.PaymentMethod, error) {
		var out core.PaymentMethod
		err := s.backend.Insert(ctx, v.AccessToken, core.CollectionPaymentMethods, row, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, core.CollectionPaymentMethods, amqp.OpCreate, created.ID, v.UserID, core.Date{})
	return &created, nil
}

// SetPaymentMethodActive is SetCategoryActive for payment methods.
func (s *Service) SetPaymentMethodActive(ctx context.Context, v core.Viewer, id core.ID, active bool) error {
	if err := requireAdmin(v); err != nil {
		return err
	}
	return s.patchMetadata(ctx, v, core.CollectionPaymentMethods, id, map[string]any{"activo": active})
}

func (s *Service) patchMetadata(ctx context.Context, v core.Viewer, collection string, id core.ID, patch map[string]any) error {
	q := remote.From(collection).Eq("id", id)
	err := resilience.OnceExec(ctx, s.retrier, collection+".update", s.timeout, func(ctx context.Context) error {
		return s.backend.Update(ctx, v.AccessToken, q, patch, nil)
	})
	if err != nil {
		return err
	}
	s.afterWrite(ctx, collection, amqp.OpUpdate, id, v.UserID, core.Date{})
	return nil
}
