package remote

import (
	"reflect"
	"testing"

	"gastos/internal/core"
)

func TestQueryValues(t *testing.T) {
	base := From(core.CollectionIncomes).
		Select("*, metodos_pago(nombre), users(email)").
		OrderBy("fecha", true)

	employee := base.Eq("usuario_id", core.ID("u-1"))
	ranged := base.Gte("fecha", core.NewDate(2024, 1, 1)).Lte("fecha", core.NewDate(2024, 1, 31)).Limit(10)

	cases := []struct {
		name string
		q    Query
		want string
	}{
		{"admin", base, "order=fecha.desc&select=%2A%2Cmetodos_pago%28nombre%29%2Cusers%28email%29"},
		{"employee", employee, "order=fecha.desc&select=%2A%2Cmetodos_pago%28nombre%29%2Cusers%28email%29&usuario_id=eq.u-1"},
		{"range", ranged, "fecha=gte.2024-01-01&fecha=lte.2024-01-31&limit=10&order=fecha.desc&select=%2A%2Cmetodos_pago%28nombre%29%2Cusers%28email%29"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.q.Values().Encode(); got != tc.want {
				t.Errorf("Values() = %s\nwant      %s", got, tc.want)
			}
		})
	}

	if len(base.Filters) != 0 {
		t.Errorf("deriving queries mutated the base: %+v", base.Filters)
	}
}

func TestQueryEmbedsAndFilterValue(t *testing.T) {
	q := From(core.CollectionExpenses).Select("*, categorias(nombre), metodos_pago!inner(nombre)").Eq("estado", core.ExpenseApproved)
	if got, want := q.Embeds(), []string{"categorias", "metodos_pago"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Embeds() = %v, want %v", got, want)
	}
	if v, ok := q.FilterValue("estado"); !ok || v != "aprobado" {
		t.Errorf("FilterValue(estado) = %q, %v", v, ok)
	}
	if _, ok := q.FilterValue("usuario_id"); ok {
		t.Error("FilterValue found a filter that was never set")
	}
}
