package memory

import (
	"gastos/internal/core"
)

// Demo accounts created by SeedDemo.
const (
	DemoAdminEmail    = "admin@gastos.local"
	DemoEmployeeEmail = "empleado@gastos.local"
)

var (
	demoCategories = []string{"Arriendo", "Servicios públicos", "Nómina", "Insumos", "Transporte", "Mantenimiento"}
	demoMethods    = []string{"Efectivo", "Transferencia", "Tarjeta débito", "Tarjeta crédito", "Nequi"}
)

// SeedDemo fills an empty store with categories, payment methods and one
// admin and one employee account sharing password.
func (s *Store) SeedDemo(password string) error {
	adminID, err := s.AddUser(DemoAdminEmail, password, core.RoleAdmin)
	if err != nil {
		return err
	}
	if _, err := s.AddUser(DemoEmployeeEmail, password, core.RoleEmployee); err != nil {
		return err
	}
	for _, name := range demoCategories {
		if err := s.Put(core.CollectionCategories, core.Category{Name: name, Active: true, CreatorID: adminID}); err != nil {
			return err
		}
	}
	for _, name := range demoMethods {
		if err := s.Put(core.CollectionPaymentMethods, core.PaymentMethod{Name: name, Active: true}); err != nil {
			return err
		}
	}
	return nil
}
