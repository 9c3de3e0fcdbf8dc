package services

import (
	"context"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/query"
	"gastos/internal/remote"
	"gastos/internal/resilience"
)

const incomeColumns = "*, metodos_pago(nombre), users(email)"

type IncomeFilter struct {
	MethodID core.ID
	Kind     core.IncomeKind
	From     core.Date
	To       core.Date
}

func (f IncomeFilter) match(i core.Income) bool {
	switch {
	case f.MethodID != "" && i.MethodID != f.MethodID:
		return false
	case f.Kind != "" && i.Kind != f.Kind:
		return false
	case !f.From.IsZero() && i.Date.Before(f.From.Time):
		return false
	case !f.To.IsZero() && i.Date.After(f.To.Time):
		return false
	}
	return true
}

// IncomesKey is the query key of a viewer's income list:
// ingresos_<role>_<uid>.
func IncomesKey(v core.Viewer) string {
	return query.Key(core.CollectionIncomes, v.Role, v.UserID)
}

// incomesQuery applies the role filter: employees read only rows they
// registered.
func incomesQuery(v core.Viewer) remote.Query {
	q := remote.From(core.CollectionIncomes).Select(incomeColumns).OrderBy("fecha", true)
	if !v.IsAdmin() {
		q = q.Eq("usuario_id", v.UserID)
	}
	return q
}

// ListIncomes returns the viewer's incomes, newest first, deduplicated
// under IncomesKey and bounded by the retry and timeout policy.
func (s *Service) ListIncomes(ctx context.Context, v core.Viewer) ([]core.Income, error) {
	q := incomesQuery(v)
	return s.incomes.Do(ctx, IncomesKey(v), func(ctx context.Context) ([]core.Income, error) {
		return resilience.Call(ctx, s.retrier, "ingresos.list", s.timeout, func(ctx context.Context) ([]core.Income, error) {
			var out []core.Income
			err := s.backend.Select(ctx, v.AccessToken, q, &out)
			return out, err
		})
	})
}

// FilterIncomes is ListIncomes narrowed by f.
func (s *Service) FilterIncomes(ctx context.Context, v core.Viewer, f IncomeFilter) ([]core.Income, error) {
	if err := core.ValidateDateRange(f.From, f.To); err != nil {
		return nil, err
	}
	all, err := s.ListIncomes(ctx, v)
	if err != nil {
		return nil, err
	}
	out := make([]core.Income, 0, len(all))
	for _, i := range all {
		if f.match(i) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *Service) CreateIncome(ctx context.Context, v core.Viewer, in core.IncomeInput, att *Attachment) (*core.Income, error) {
	if err := in.Validate(s.now()); err != nil {
		return nil, err
	}
	in.UserID = v.UserID
	if att != nil {
		url, err := s.upload(ctx, v, core.BucketReceipts, att)
		if err != nil {
			return nil, err
		}
		in.ReceiptURL = &url
	}

	created, err := resilience.Once(ctx, s.retrier, "ingresos.create", s.timeout, func(ctx context.Context) (core.Income, error) {
		var out core.Income
		err := s.backend.Insert(ctx, v.AccessToken, core.CollectionIncomes, in, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, core.CollectionIncomes, amqp.OpCreate, created.ID, v.UserID, created.Date)
	return &created, nil
}

func (s *Service) UpdateIncome(ctx context.Context, v core.Viewer, id core.ID, in core.IncomeInput, att *Attachment) (*core.Income, error) {
	existing, err := selectOne[core.Income](ctx, s, v, core.CollectionIncomes, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkEditable(v, existing.UserID, existing.Date); err != nil {
		return nil, err
	}
	if err := in.Validate(s.now()); err != nil {
		return nil, err
	}
	in.UserID = existing.UserID
	in.ReceiptURL = existing.ReceiptURL
	if att != nil {
		url, err := s.upload(ctx, v, core.BucketReceipts, att)
		if err != nil {
			return nil, err
		}
		in.ReceiptURL = &url
	}

	q := remote.From(core.CollectionIncomes).Eq("id", id)
	rows, err := resilience.Once(ctx, s.retrier, "ingresos.update", s.timeout, func(ctx context.Context) ([]core.Income, error) {
		var out []core.Income
		err := s.backend.Update(ctx, v.AccessToken, q, in, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	s.afterWrite(ctx, core.CollectionIncomes, amqp.OpUpdate, id, existing.UserID, rows[0].Date)
	return &rows[0], nil
}

func (s *Service) DeleteIncome(ctx context.Context, v core.Viewer, id core.ID) error {
	existing, err := selectOne[core.Income](ctx, s, v, core.CollectionIncomes, id)
	if err != nil {
		return err
	}
	if err := s.checkEditable(v, existing.UserID, existing.Date); err != nil {
		return err
	}
	q := remote.From(core.CollectionIncomes).Eq("id", id)
	err = resilience.OnceExec(ctx, s.retrier, "ingresos.delete", s.timeout, func(ctx context.Context) error {
		return s.backend.Delete(ctx, v.AccessToken, q)
	})
	if err != nil {
		return err
	}
	s.afterWrite(ctx, core.CollectionIncomes, amqp.OpDelete, id, existing.UserID, existing.Date)
	return nil
}

// IncomesBetween reads incomes in [from, to] bypassing the query stores.
func (s *Service) IncomesBetween(ctx context.Context, v core.Viewer, from, to core.Date) ([]core.Income, error) {
	q := remote.From(core.CollectionIncomes).Select(incomeColumns).
		Gte("fecha", from).Lte("fecha", to).
		OrderBy("fecha", false).OrderBy("created_at", false)
	if !v.IsAdmin() {
		q = q.Eq("usuario_id", v.UserID)
	}
	return resilience.Call(ctx, s.retrier, "ingresos.range", s.timeout, func(ctx context.Context) ([]core.Income, error) {
		var out []core.Income
		err := s.backend.Select(ctx, v.AccessToken, q, &out)
		return out, err
	})
}
