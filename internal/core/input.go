package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxDescription is the longest free text accepted in a record.
const MaxDescription = 500

// ExpenseInput is the writable part of an expense.
type ExpenseInput struct {
	Amount      decimal.Decimal `json:"monto"`
	CategoryID  ID              `json:"categoria_id"`
	MethodID    ID              `json:"metodo_id"`
	Description string          `json:"descripcion"`
	Date        Date            `json:"fecha"`
	Status      ExpenseStatus   `json:"estado"`
	InvoiceURL  *string         `json:"factura_url,omitempty"`
	UserID      ID              `json:"usuario_id,omitempty"`
}

// Validate checks the input as entered on day now.
func (in *ExpenseInput) Validate(now time.Time) error {
	in.Description = strings.TrimSpace(in.Description)
	if in.Status == "" {
		in.Status = ExpenseRegistered
	}
	if err := ValidateAmount(in.Amount); err != nil {
		return err
	}
	if in.CategoryID == "" || in.MethodID == "" {
		return ErrMissingReference
	}
	if in.Description == "" {
		return ErrEmptyDescription
	}
	if err := ValidateTextLength(in.Description, MaxDescription); err != nil {
		return err
	}
	if err := ValidateDate(in.Date, false, now); err != nil {
		return err
	}
	if !in.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}
	return nil
}

// IncomeInput is the writable part of an income.
type IncomeInput struct {
	Amount      decimal.Decimal `json:"monto"`
	MethodID    ID              `json:"metodo_id"`
	Description string          `json:"descripcion"`
	Kind        IncomeKind      `json:"tipo"`
	Source      string          `json:"origen"`
	Date        Date            `json:"fecha"`
	ReceiptURL  *string         `json:"archivo_url,omitempty"`
	UserID      ID              `json:"usuario_id,omitempty"`
}

// Validate checks the input as entered on day now.
func (in *IncomeInput) Validate(now time.Time) error {
	in.Description = strings.TrimSpace(in.Description)
	in.Source = strings.TrimSpace(in.Source)
	if in.Kind == "" {
		in.Kind = IncomeSale
	}
	if err := ValidateAmount(in.Amount); err != nil {
		return err
	}
	if in.MethodID == "" {
		return ErrMissingReference
	}
	if in.Description == "" {
		return ErrEmptyDescription
	}
	if err := ValidateTextLength(in.Description, MaxDescription); err != nil {
		return err
	}
	if err := ValidateTextLength(in.Source, MaxDescription); err != nil {
		return err
	}
	if err := ValidateDate(in.Date, false, now); err != nil {
		return err
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, in.Kind)
	}
	return nil
}
