package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

func seedProduct(t *testing.T, s *Store, owner string, id string, name string, remaining int) {
	t.Helper()
	_, err := s.CreateProduct(context.Background(), domain.Product{
		ID:                id,
		OwnerID:           owner,
		Name:              name,
		Category:          "pesticide",
		TotalQuantity:     remaining,
		RemainingQuantity: remaining,
		LowStockThreshold: 5,
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create product %s: %v", id, err)
	}
}

func TestRecordsAreScopedByOwner(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "owner-a", "p-1", "Urea", 10)

	if _, err := s.GetProduct(ctx, "owner-b", "p-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for other owner, got %v", err)
	}
	if _, err := s.FindProductByName(ctx, "owner-b", "Urea"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected name lookup to be owner scoped, got %v", err)
	}
	if err := s.DeleteProduct(ctx, "owner-b", "p-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected delete by other owner to fail, got %v", err)
	}
	items, total, err := s.ListProducts(ctx, "owner-b", domain.ListQuery{})
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("expected empty list for other owner, got %d %v", total, err)
	}
}

func TestMutateProductDiscardsChangesOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "owner-a", "p-1", "Urea", 10)

	_, err := s.MutateProduct(ctx, "owner-a", "p-1", func(p *domain.Product) error {
		p.RemainingQuantity = 0
		return store.ErrInsufficientStock
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected fn error to pass through, got %v", err)
	}

	p, err := s.GetProduct(ctx, "owner-a", "p-1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.RemainingQuantity != 10 {
		t.Fatalf("expected unchanged remaining 10, got %d", p.RemainingQuantity)
	}
}

func TestMutateCustomerDoesNotAliasHistory(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "c-1", OwnerID: "o", Name: "Ali", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create customer: %v", err)
	}

	updated, err := s.MutateCustomer(ctx, "o", "c-1", func(c *domain.Customer) error {
		c.PaymentHistory = append(c.PaymentHistory, domain.PaymentEntry{Amount: decimal.NewFromInt(5)})
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	updated.PaymentHistory[0].Amount = decimal.NewFromInt(999)

	stored, _ := s.GetCustomer(ctx, "o", "c-1")
	if !stored.PaymentHistory[0].Amount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("stored history was aliased: %s", stored.PaymentHistory[0].Amount)
	}
}

func TestInvoiceSequenceAndUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.NextInvoiceSequence(ctx, "owner-a")
		if err != nil || got != want {
			t.Fatalf("expected sequence %d, got %d (%v)", want, got, err)
		}
	}
	if got, _ := s.NextInvoiceSequence(ctx, "owner-b"); got != 1 {
		t.Fatalf("expected independent sequence per owner, got %d", got)
	}

	if _, err := s.CreateInvoice(ctx, domain.Invoice{ID: "i-1", OwnerID: "owner-a", InvoiceNumber: "INV-0010"}); err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if _, err := s.CreateInvoice(ctx, domain.Invoice{ID: "i-2", OwnerID: "owner-a", InvoiceNumber: "INV-0010"}); !errors.Is(err, store.ErrDuplicateInvoiceNumber) {
		t.Fatalf("expected duplicate invoice number, got %v", err)
	}
	if _, err := s.CreateInvoice(ctx, domain.Invoice{ID: "i-3", OwnerID: "owner-b", InvoiceNumber: "INV-0010"}); err != nil {
		t.Fatalf("same number for another owner should be allowed: %v", err)
	}
	if got, _ := s.NextInvoiceSequence(ctx, "owner-a"); got != 11 {
		t.Fatalf("expected counter to move past imported INV-0010, got %d", got)
	}
}

func TestListProductsFiltersAndPaginates(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "o", "p-1", "Urea", 50)
	seedProduct(t, s, "o", "p-2", "DAP", 3)
	seedProduct(t, s, "o", "p-3", "Potash", 0)

	low, total, err := s.ListProducts(ctx, "o", domain.ListQuery{Stock: "low"})
	if err != nil || total != 2 || len(low) != 2 {
		t.Fatalf("expected 2 low stock products, got %d (%v)", total, err)
	}
	in, total, _ := s.ListProducts(ctx, "o", domain.ListQuery{Stock: "in"})
	if total != 2 || len(in) != 2 {
		t.Fatalf("expected 2 in-stock products, got %d", total)
	}
	found, total, _ := s.ListProducts(ctx, "o", domain.ListQuery{Search: "pot"})
	if total != 1 || found[0].ID != "p-3" {
		t.Fatalf("expected search to find Potash, got %+v", found)
	}
	page, total, _ := s.ListProducts(ctx, "o", domain.ListQuery{Page: 2, Limit: 2})
	if total != 3 || len(page) != 1 {
		t.Fatalf("expected second page of 1 from 3, got %d of %d", len(page), total)
	}
}

func TestListProductsExpiringBeforeSortsByExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	soon, later, far := now.AddDate(0, 0, 5), now.AddDate(0, 0, 10), now.AddDate(1, 0, 0)

	for id, exp := range map[string]time.Time{"p-later": later, "p-soon": soon, "p-far": far} {
		exp := exp
		_, err := s.CreateProduct(ctx, domain.Product{ID: id, OwnerID: "o", Name: id, ExpiryDate: &exp, CreatedAt: now})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	seedProduct(t, s, "o", "p-none", "No expiry", 5)

	cutoff := now.AddDate(0, 0, 30)
	items, total, err := s.ListProducts(ctx, "o", domain.ListQuery{ExpiringBefore: &cutoff})
	if err != nil || total != 2 {
		t.Fatalf("expected 2 near-expiry products, got %d (%v)", total, err)
	}
	if items[0].ID != "p-soon" || items[1].ID != "p-later" {
		t.Fatalf("expected expiry ascending order, got %s, %s", items[0].ID, items[1].ID)
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := domain.UserAccount{ID: "u-1", Email: "Owner@Shop.test", Password: "hash"}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	user.ID = "u-2"
	user.Email = "owner@shop.test"
	if err := s.CreateUser(ctx, user); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on duplicate email, got %v", err)
	}
	got, err := s.GetUserByEmail(ctx, "OWNER@shop.test")
	if err != nil || got.ID != "u-1" {
		t.Fatalf("expected case-insensitive email lookup, got %+v (%v)", got, err)
	}
}
