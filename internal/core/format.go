package core

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Bogota is the business timezone (UTC-5, no daylight saving).
var Bogota = time.FixedZone("COT", -5*60*60)

var printer = message.NewPrinter(language.Spanish)

var monthNames = [...]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

// FormatCOP renders an amount as Colombian pesos without decimals, e.g. "$ 1.500.000".
func FormatCOP(d decimal.Decimal) string {
	n := d.Round(0).IntPart()
	if n < 0 {
		return printer.Sprintf("-$ %d", -n)
	}
	return printer.Sprintf("$ %d", n)
}

// FormatDay renders a calendar day as dd/mm/yyyy.
func FormatDay(d Date) string {
	if d.IsZero() {
		return ""
	}
	return d.Format("02/01/2006")
}

// FormatClock renders the time of day of t in Bogota as HH:MM.
func FormatClock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(Bogota).Format("15:04")
}

// MonthName returns the Spanish name of month 1-12.
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthNames[month-1]
}
