package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
	"gastos/internal/remote"
	"gastos/internal/resilience"
)

func seeded(t *testing.T) (*Store, core.ID, core.ID) {
	t.Helper()
	s := New()
	if err := s.SeedDemo("Demo1234"); err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}
	var users []core.User
	if err := s.Select(context.Background(), "", remote.From(core.CollectionUsers).OrderBy("email", false), &users); err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %d, want 2", len(users))
	}
	return s, users[0].ID, users[1].ID // admin@ sorts before empleado@
}

func TestSelectFiltersOrdersAndEmbeds(t *testing.T) {
	s, adminID, empID := seeded(t)
	ctx := context.Background()

	var methods []core.PaymentMethod
	if err := s.Select(ctx, "", remote.From(core.CollectionPaymentMethods), &methods); err != nil {
		t.Fatal(err)
	}
	for i, day := range []int{3, 1, 2} {
		uid := empID
		if i == 0 {
			uid = adminID
		}
		err := s.Put(core.CollectionIncomes, core.IncomeInput{
			Amount:      decimal.NewFromInt(int64(1000 * (i + 1))),
			MethodID:    methods[0].ID,
			Description: "venta",
			Kind:        core.IncomeSale,
			Date:        core.NewDate(2024, 5, day),
			UserID:      uid,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	var mine []core.Income
	q := remote.From(core.CollectionIncomes).Select("*, metodos_pago(nombre), users(email)").Eq("usuario_id", empID).OrderBy("fecha", true)
	if err := s.Select(ctx, "", q, &mine); err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Fatalf("employee rows = %d, want 2", len(mine))
	}
	if mine[0].Date != core.NewDate(2024, 5, 2) || mine[1].Date != core.NewDate(2024, 5, 1) {
		t.Errorf("order = %v, %v", mine[0].Date, mine[1].Date)
	}
	if mine[0].Method == nil || mine[0].Method.Name != methods[0].Name {
		t.Errorf("method embed = %+v", mine[0].Method)
	}
	if mine[0].User == nil || mine[0].User.Email != DemoEmployeeEmail {
		t.Errorf("user embed = %+v", mine[0].User)
	}

	var big []core.Income
	if err := s.Select(ctx, "", remote.From(core.CollectionIncomes).Gte("monto", 2000).OrderBy("monto", false), &big); err != nil {
		t.Fatal(err)
	}
	if len(big) != 2 || !big[0].Amount.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("numeric filter rows = %+v", big)
	}
	if s.Selects(core.CollectionIncomes) != 2 {
		t.Errorf("Selects() = %d, want 2", s.Selects(core.CollectionIncomes))
	}
}

func TestInsertUpdateDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	var created core.Category
	if err := s.Insert(ctx, "", core.CollectionCategories, core.Category{Name: "Papelería", Active: true}, &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("created = %+v", created)
	}

	err := s.Insert(ctx, "", core.CollectionCategories, map[string]any{"id": created.ID.String(), "nombre": "x"}, nil)
	if resilience.Classify(err) != resilience.KindIntegrity {
		t.Errorf("duplicate insert error = %v", err)
	}

	var updated []core.Category
	byID := remote.From(core.CollectionCategories).Eq("id", created.ID)
	if err := s.Update(ctx, "", byID, map[string]any{"activa": false}, &updated); err != nil {
		t.Fatal(err)
	}
	if len(updated) != 1 || updated[0].Active || updated[0].Name != "Papelería" {
		t.Errorf("updated = %+v", updated)
	}

	if err := s.Delete(ctx, "", byID); err != nil {
		t.Fatal(err)
	}
	var left []core.Category
	s.Select(ctx, "", remote.From(core.CollectionCategories), &left)
	if len(left) != 0 {
		t.Errorf("rows after delete = %d", len(left))
	}
}

func TestAuthLifecycle(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }), WithTokenTTL(time.Minute))
	id, err := s.AddUser("Ana@Empresa.co", "Secreta123", core.RoleEmployee)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := s.SignIn(ctx, "ana@empresa.co", "mala"); err == nil {
		t.Fatal("SignIn accepted a wrong password")
	}
	sess, err := s.SignIn(ctx, "ana@empresa.co", "Secreta123")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if sess.User.ID != id || !sess.Expiry().Equal(now.Add(time.Minute)) {
		t.Errorf("session = %+v", sess)
	}
	if u, err := s.User(ctx, sess.AccessToken); err != nil || u.ID != id {
		t.Errorf("User() = %+v, %v", u, err)
	}

	now = now.Add(2 * time.Minute)
	_, err = s.User(ctx, sess.AccessToken)
	if resilience.Classify(err) != resilience.KindAuth {
		t.Errorf("expired token error = %v, want auth kind", err)
	}

	fresh, err := s.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := s.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Error("refresh token was reusable")
	}
	if err := s.SignOut(ctx, fresh.AccessToken); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Refresh(ctx, fresh.RefreshToken); err == nil {
		t.Error("refresh token survived sign out")
	}
}

func TestFailureInjectionAndLatency(t *testing.T) {
	s := New()
	boom := errors.New("connection reset")
	s.FailNext(2, boom)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.Ping(ctx); !errors.Is(err, boom) {
			t.Fatalf("call %d error = %v", i, err)
		}
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("third call error = %v", err)
	}

	s.SetLatency(time.Second)
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := s.Ping(cctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("slow call error = %v", err)
	}
}

func TestUpload(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Upload(ctx, "", core.BucketReceipts, "u/a.png", strings.NewReader("img"), "image/png"); err != nil {
		t.Fatal(err)
	}
	if b, ok := s.Object(core.BucketReceipts, "u/a.png"); !ok || string(b) != "img" {
		t.Errorf("Object() = %q, %v", b, ok)
	}
	if err := s.Upload(ctx, "", core.BucketReceipts, "u/a.png", strings.NewReader("again"), "image/png"); err == nil {
		t.Error("overwrite accepted")
	}
	if !strings.Contains(s.PublicURL(core.BucketReceipts, "u/a.png"), "comprobantes/u/a.png") {
		t.Error("PublicURL")
	}
}
