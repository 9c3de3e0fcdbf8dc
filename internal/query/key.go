package query

import (
	"fmt"
	"strings"
)

// Key joins parts with underscores, e.g. Key("ingresos", "admin", uid).
// Empty parts are kept so positions stay stable.
func Key(parts ...any) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	return strings.Join(s, "_")
}
