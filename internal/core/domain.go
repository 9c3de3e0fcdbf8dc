// Package core holds the business records of the dashboard and the rules
// that apply to them independently of storage or transport.
package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Collections as named by the backend.
const (
	CollectionExpenses       = "gastos"
	CollectionIncomes        = "ingresos"
	CollectionCategories     = "categorias"
	CollectionPaymentMethods = "metodos_pago"
	CollectionUsers          = "users"
)

// Storage buckets for attachments.
const (
	BucketInvoices = "facturas"
	BucketReceipts = "comprobantes"
)

type (
	Role          string
	UserStatus    string
	ExpenseStatus string
	IncomeKind    string

	// ID is a record identifier. The backend returns uuids as strings and
	// serial keys as numbers; both decode into an ID.
	ID string

	// Date is a calendar day, encoded as YYYY-MM-DD.
	Date struct {
		time.Time
	}

	NameRef struct {
		Name string `json:"nombre"`
	}

	EmailRef struct {
		Email string `json:"email"`
	}

	Expense struct {
		ID          ID              `json:"id"`
		Amount      decimal.Decimal `json:"monto"`
		CategoryID  ID              `json:"categoria_id"`
		MethodID    ID              `json:"metodo_id"`
		Description string          `json:"descripcion"`
		Date        Date            `json:"fecha"`
		Status      ExpenseStatus   `json:"estado"`
		InvoiceURL  *string         `json:"factura_url"`
		UserID      ID              `json:"usuario_id"`
		CreatedAt   time.Time       `json:"created_at"`
		Category    *NameRef        `json:"categorias,omitempty"`
		Method      *NameRef        `json:"metodos_pago,omitempty"`
		User        *EmailRef       `json:"users,omitempty"`
	}

	Income struct {
		ID          ID              `json:"id"`
		Amount      decimal.Decimal `json:"monto"`
		MethodID    ID              `json:"metodo_id"`
		Description string          `json:"descripcion"`
		Kind        IncomeKind      `json:"tipo"`
		Source      string          `json:"origen"`
		Date        Date            `json:"fecha"`
		ReceiptURL  *string         `json:"archivo_url"`
		UserID      ID              `json:"usuario_id"`
		CreatedAt   time.Time       `json:"created_at"`
		Method      *NameRef        `json:"metodos_pago,omitempty"`
		User        *EmailRef       `json:"users,omitempty"`
	}

	Category struct {
		ID        ID        `json:"id"`
		Name      string    `json:"nombre"`
		Active    bool      `json:"activa"`
		CreatorID ID        `json:"creador_id,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}

	PaymentMethod struct {
		ID        ID        `json:"id"`
		Name      string    `json:"nombre"`
		Active    bool      `json:"activo"`
		CreatedAt time.Time `json:"created_at"`
	}

	User struct {
		ID        ID         `json:"id"`
		Email     string     `json:"email"`
		Role      Role       `json:"role"`
		Status    UserStatus `json:"status"`
		CreatedAt time.Time  `json:"created_at"`
	}

	// Viewer is the signed-in user on whose behalf a query runs.
	Viewer struct {
		UserID      ID
		Email       string
		Role        Role
		AccessToken string
	}
)

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "empleado"

	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"

	ExpenseRegistered ExpenseStatus = "registrado"
	ExpensePending    ExpenseStatus = "pendiente"
	ExpenseApproved   ExpenseStatus = "aprobado"
	ExpenseRejected   ExpenseStatus = "rechazado"

	IncomeSale    IncomeKind = "Venta"
	IncomeService IncomeKind = "Servicio"
	IncomeOther   IncomeKind = "Otro"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDate       = errors.New("invalid date")
	ErrFutureDate        = errors.New("future dates are not allowed")
	ErrInvalidRange      = errors.New("start date must not be after end date")
	ErrEmptyDescription  = errors.New("empty description")
	ErrTextTooLong       = errors.New("text too long")
	ErrMissingReference  = errors.New("missing category or payment method")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidKind       = errors.New("invalid income type")
	ErrInvalidEmail      = errors.New("invalid email")
	ErrWeakPassword      = errors.New("weak password")
	ErrInvalidAttachment = errors.New("invalid attachment")
	ErrEditWindowClosed  = errors.New("record can no longer be edited")
)

// ParseRole maps the stored role to a Role. Anything unknown is an employee.
func ParseRole(s string) Role {
	if Role(strings.TrimSpace(s)) == RoleAdmin {
		return RoleAdmin
	}
	return RoleEmployee
}

func (r Role) IsAdmin() bool { return r == RoleAdmin }

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleEmployee }

func (s UserStatus) Valid() bool { return s == StatusActive || s == StatusInactive }

func (s ExpenseStatus) Valid() bool {
	switch s {
	case ExpenseRegistered, ExpensePending, ExpenseApproved, ExpenseRejected:
		return true
	}
	return false
}

func (k IncomeKind) Valid() bool {
	switch k {
	case IncomeSale, IncomeService, IncomeOther:
		return true
	}
	return false
}

// IsAdmin reports whether the viewer sees every user's records.
func (v Viewer) IsAdmin() bool { return v.Role.IsAdmin() }

func (id ID) String() string { return string(id) }

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		*id = ID(n.String())
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD, optionally followed by a time part.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		s = s[:i]
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(d.String())), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// AttachmentURL returns the invoice URL or "".
func (e Expense) AttachmentURL() string {
	if e.InvoiceURL == nil {
		return ""
	}
	return *e.InvoiceURL
}

// AttachmentURL returns the receipt URL or "".
func (i Income) AttachmentURL() string {
	if i.ReceiptURL == nil {
		return ""
	}
	return *i.ReceiptURL
}
