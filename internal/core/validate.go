package core

import (
	"fmt"
	"math"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// EditWindowDays is how long after its date an employee may still edit a record.
const EditWindowDays = 7

// MaxAttachmentBytes is the attachment size limit.
const MaxAttachmentBytes = 5 << 20

var maxAmount = decimal.NewFromInt(1_000_000_000)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var attachmentTypes = map[string]string{
	"image/jpeg":      "jpg",
	"image/jpg":       "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"application/pdf": "pdf",
}

// CanEditRecord reports whether a user with role may still edit a record
// dated day. Admins always can; others only within EditWindowDays whole
// days, rounding partial days up, of now.
func CanEditRecord(day Date, role Role, now time.Time) bool {
	if role.IsAdmin() {
		return true
	}
	diff := now.Sub(day.Time)
	if diff < 0 {
		diff = -diff
	}
	days := math.Ceil(diff.Hours() / 24)
	return days <= EditWindowDays
}

// ParseAmount parses a user supplied amount and validates it.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount requires 0 < amount <= 1e9 with at most two decimals.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: must be greater than 0", ErrInvalidAmount)
	}
	if d.GreaterThan(maxAmount) {
		return fmt.Errorf("%w: too large", ErrInvalidAmount)
	}
	if !d.Equal(d.Truncate(2)) {
		return fmt.Errorf("%w: at most 2 decimals", ErrInvalidAmount)
	}
	return nil
}

// ValidateDate rejects zero dates and, unless allowFuture, days after today.
func ValidateDate(d Date, allowFuture bool, now time.Time) error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	if !allowFuture && d.After(DateOf(now).Time) {
		return ErrFutureDate
	}
	return nil
}

// ValidateDateRange accepts open ranges.
func ValidateDateRange(start, end Date) error {
	if start.IsZero() || end.IsZero() {
		return nil
	}
	if start.After(end.Time) {
		return ErrInvalidRange
	}
	return nil
}

// ValidateTextLength counts characters, not bytes.
func ValidateTextLength(s string, max int) error {
	if utf8.RuneCountInString(s) > max {
		return fmt.Errorf("%w: max %d characters", ErrTextTooLong, max)
	}
	return nil
}

// ValidateEmail performs the same shallow check as the login form.
func ValidateEmail(s string) error {
	if !emailPattern.MatchString(strings.TrimSpace(s)) {
		return ErrInvalidEmail
	}
	return nil
}

// PasswordProblems lists what a password is missing; empty means acceptable.
func PasswordProblems(p string) []string {
	var problems []string
	if utf8.RuneCountInString(p) < 8 {
		problems = append(problems, "Mínimo 8 caracteres")
	}
	if !strings.ContainsFunc(p, func(r rune) bool { return r >= 'A' && r <= 'Z' }) {
		problems = append(problems, "Al menos 1 mayúscula")
	}
	if !strings.ContainsFunc(p, unicode.IsDigit) {
		problems = append(problems, "Al menos 1 número")
	}
	return problems
}

// ValidatePassword returns ErrWeakPassword listing the problems.
func ValidatePassword(p string) error {
	if problems := PasswordProblems(p); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrWeakPassword, strings.Join(problems, ", "))
	}
	return nil
}

// ValidateAttachment checks type and size and returns the file extension
// to store it under.
func ValidateAttachment(contentType string, size int64) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	ext, ok := attachmentTypes[ct]
	if !ok {
		return "", fmt.Errorf("%w: only JPG, PNG, GIF images and PDF files are allowed", ErrInvalidAttachment)
	}
	if size > MaxAttachmentBytes {
		return "", fmt.Errorf("%w: larger than %d MB", ErrInvalidAttachment, MaxAttachmentBytes>>20)
	}
	return ext, nil
}

// IsPDF reports whether an attachment URL points to a PDF.
func IsPDF(url string) bool {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return strings.EqualFold(path.Ext(url), ".pdf")
}
