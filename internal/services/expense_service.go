package services

import (
	"context"
	"strings"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/query"
	"gastos/internal/remote"
	"gastos/internal/resilience"
)

const expenseColumns = "*, categorias(nombre), metodos_pago(nombre), users(email)"

// ExpenseFilter narrows a cached expense list. Zero fields match everything.
type ExpenseFilter struct {
	CategoryID core.ID
	MethodID   core.ID
	Status     core.ExpenseStatus
	From       core.Date
	To         core.Date
	Search     string
}

func (f ExpenseFilter) match(e core.Expense) bool {
	switch {
	case f.CategoryID != "" && e.CategoryID != f.CategoryID:
		return false
	case f.MethodID != "" && e.MethodID != f.MethodID:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case !f.From.IsZero() && e.Date.Before(f.From.Time):
		return false
	case !f.To.IsZero() && e.Date.After(f.To.Time):
		return false
	case f.Search != "" && !strings.Contains(strings.ToLower(e.Description), strings.ToLower(f.Search)):
		return false
	}
	return true
}

// ExpensesKey is the query key of a viewer's expense list.
func ExpensesKey(v core.Viewer) string {
	return query.Key(core.CollectionExpenses, v.Role, v.UserID)
}

// ListExpenses returns the viewer's expenses, newest first. Employees only
// see their own; admins see everyone's.
func (s *Service) ListExpenses(ctx context.Context, v core.Viewer, f ExpenseFilter) ([]core.Expense, error) {
	if err := core.ValidateDateRange(f.From, f.To); err != nil {
		return nil, err
	}
	all, err := s.expenses.Do(ctx, ExpensesKey(v), func(ctx context.Context) ([]core.Expense, error) {
		q := remote.From(core.CollectionExpenses).Select(expenseColumns).OrderBy("created_at", true)
		if !v.IsAdmin() {
			q = q.Eq("usuario_id", v.UserID)
		}
		return resilience.Call(ctx, s.retrier, "gastos.list", s.timeout, func(ctx context.Context) ([]core.Expense, error) {
			var out []core.Expense
			err := s.backend.Select(ctx, v.AccessToken, q, &out)
			return out, err
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.Expense, 0, len(all))
	for _, e := range all {
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Service) CreateExpense(ctx context.Context, v core.Viewer, in core.ExpenseInput, att *Attachment) (*core.Expense, error) {
	if !v.IsAdmin() {
		in.Status = core.ExpenseRegistered
	}
	if err := in.Validate(s.now()); err != nil {
		return nil, err
	}
	in.UserID = v.UserID
	if att != nil {
		url, err := s.upload(ctx, v, core.BucketInvoices, att)
		if err != nil {
			return nil, err
		}
		in.InvoiceURL = &url
	}

	created, err := resilience.Once(ctx, s.retrier, "gastos.create", s.timeout, func(ctx context.Context) (core.Expense, error) {
		var out core.Expense
		err := s.backend.Insert(ctx, v.AccessToken, core.CollectionExpenses, in, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, core.CollectionExpenses, amqp.OpCreate, created.ID, v.UserID, created.Date)
	return &created, nil
}

// UpdateExpense replaces the writable fields of an expense. The existing
// invoice is kept unless att is given.
func (s *Service) UpdateExpense(ctx context.Context, v core.Viewer, id core.ID, in core.ExpenseInput, att *Attachment) (*core.Expense, error) {
	existing, err := selectOne[core.Expense](ctx, s, v, core.CollectionExpenses, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkEditable(v, existing.UserID, existing.Date); err != nil {
		return nil, err
	}
	if !v.IsAdmin() {
		in.Status = existing.Status
	}
	if err := in.Validate(s.now()); err != nil {
		return nil, err
	}
	in.UserID = existing.UserID
	in.InvoiceURL = existing.InvoiceURL
	if att != nil {
		url, err := s.upload(ctx, v, core.BucketInvoices, att)
		if err != nil {
			return nil, err
		}
		in.InvoiceURL = &url
	}

	updated, err := s.updateExpense(ctx, v, id, in)
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, core.CollectionExpenses, amqp.OpUpdate, id, existing.UserID, updated.Date)
	return updated, nil
}

// SetExpenseStatus approves or rejects an expense. Admin only.
func (s *Service) SetExpenseStatus(ctx context.Context, v core.Viewer, id core.ID, status core.ExpenseStatus) (*core.Expense, error) {
	if err := requireAdmin(v); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, core.ErrInvalidStatus
	}
	updated, err := s.updateExpense(ctx, v, id, map[string]any{"estado": status})
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, core.CollectionExpenses, amqp.OpUpdate, id, updated.UserID, updated.Date)
	return updated, nil
}

func (s *Service) updateExpense(ctx context.Context, v core.Viewer, id core.ID, patch any) (*core.Expense, error) {
	q := remote.From(core.CollectionExpenses).Eq("id", id)
	rows, err := resilience.Once(ctx, s.retrier, "gastos.update", s.timeout, func(ctx context.Context) ([]core.Expense, error) {
		var out []core.Expense
		err := s.backend.Update(ctx, v.AccessToken, q, patch, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (s *Service) DeleteExpense(ctx context.Context, v core.Viewer, id core.ID) error {
	existing, err := selectOne[core.Expense](ctx, s, v, core.CollectionExpenses, id)
	if err != nil {
		return err
	}
	if err := s.checkEditable(v, existing.UserID, existing.Date); err != nil {
		return err
	}
	q := remote.From(core.CollectionExpenses).Eq("id", id)
	err = resilience.OnceExec(ctx, s.retrier, "gastos.delete", s.timeout, func(ctx context.Context) error {
		return s.backend.Delete(ctx, v.AccessToken, q)
	})
	if err != nil {
		return err
	}
	s.afterWrite(ctx, core.CollectionExpenses, amqp.OpDelete, id, existing.UserID, existing.Date)
	return nil
}

// ExpensesBetween reads expenses of every user in [from, to] without going
// through the query stores. Used by exports and the sync worker.
func (s *Service) ExpensesBetween(ctx context.Context, v core.Viewer, from, to core.Date) ([]core.Expense, error) {
	q := remote.From(core.CollectionExpenses).Select(expenseColumns).
		Gte("fecha", from).Lte("fecha", to).
		OrderBy("fecha", false).OrderBy("created_at", false)
	if !v.IsAdmin() {
		q = q.Eq("usuario_id", v.UserID)
	}
	return resilience.Call(ctx, s.retrier, "gastos.range", s.timeout, func(ctx context.Context) ([]core.Expense, error) {
		var out []core.Expense
		err := s.backend.Select(ctx, v.AccessToken, q, &out)
		return out, err
	})
}
