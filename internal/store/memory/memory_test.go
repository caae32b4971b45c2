package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.CreateProduct(ctx, domain.Product{SKU: "1", Name: "Pão", Price: decimal.NewFromInt(1)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	_ = s.WithinTx(ctx, func(tx store.Tx) error {
		_, total, err := tx.ListProducts(ctx, store.ProductFilter{})
		if err != nil {
			t.Fatalf("list products: %v", err)
		}
		if total != 0 {
			t.Fatalf("expected rollback to discard product, found %d", total)
		}
		return nil
	})
}

func TestCreateVariantReturnsExistingRow(t *testing.T) {
	ctx := context.Background()
	s := New()

	_ = s.WithinTx(ctx, func(tx store.Tx) error {
		p, err := tx.CreateProduct(ctx, domain.Product{SKU: "1", Name: "Pão"})
		if err != nil {
			t.Fatalf("create product: %v", err)
		}
		first, err := tx.CreateVariant(ctx, domain.ProductVariant{ProductID: p.ID, Variant: "UN", Stock: 4})
		if err != nil {
			t.Fatalf("create variant: %v", err)
		}
		second, err := tx.CreateVariant(ctx, domain.ProductVariant{ProductID: p.ID, Variant: "UN"})
		if err != nil {
			t.Fatalf("create variant again: %v", err)
		}
		if first.ID != second.ID || second.Stock != 4 {
			t.Fatalf("expected existing row back, got %+v", second)
		}
		if n, _ := tx.CountVariants(ctx, p.ID); n != 1 {
			t.Fatalf("expected one variant row, got %d", n)
		}
		return nil
	})
}

func TestDeleteProductCascadesToVariants(t *testing.T) {
	ctx := context.Background()
	s := New()

	_ = s.WithinTx(ctx, func(tx store.Tx) error {
		p, _ := tx.CreateProduct(ctx, domain.Product{SKU: "1", Name: "Pão"})
		_, _ = tx.CreateVariant(ctx, domain.ProductVariant{ProductID: p.ID, Variant: "UN"})
		if err := tx.DeleteProduct(ctx, p.ID); err != nil {
			t.Fatalf("delete product: %v", err)
		}
		if n, _ := tx.CountVariants(ctx, p.ID); n != 0 {
			t.Fatalf("expected variants removed, got %d", n)
		}
		if err := tx.DeleteProduct(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected not found on second delete, got %v", err)
		}
		return nil
	})
}

func TestNewSeededLoadsDemoCatalog(t *testing.T) {
	ctx := context.Background()
	s, err := NewSeeded(ctx, "")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_ = s.WithinTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProductBySKU(ctx, "00011")
		if err != nil {
			t.Fatalf("expected seeded product: %v", err)
		}
		if p.Variant == nil || *p.Variant != "UN" || !p.Price.Equal(decimal.RequireFromString("5.50")) {
			t.Fatalf("unexpected seeded product %+v", p)
		}
		if n, _ := tx.CountUsers(ctx); n != 0 {
			t.Fatalf("expected no users without seed password, got %d", n)
		}
		clients, _ := tx.ListClients(ctx, 10)
		if len(clients) != 2 {
			t.Fatalf("expected two seeded clients, got %d", len(clients))
		}
		return nil
	})

	if err := store.Seed(ctx, s, "segredo123"); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	_ = s.WithinTx(ctx, func(tx store.Tx) error {
		_, total, _ := tx.ListProducts(ctx, store.ProductFilter{})
		if total != 3 {
			t.Fatalf("expected reseed to keep three products, got %d", total)
		}
		admin, err := tx.GetUserByUsername(ctx, store.SeedAdminUsername)
		if err != nil {
			t.Fatalf("expected seeded admin: %v", err)
		}
		if admin.Role != domain.RoleAdmin {
			t.Fatalf("unexpected admin role %q", admin.Role)
		}
		return nil
	})
}
