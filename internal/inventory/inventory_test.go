package inventory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
	"pdv/backend/internal/store/memory"
)

func strPtr(v string) *string {
	return &v
}

func TestTargetLabel(t *testing.T) {
	cases := []struct {
		item   *string
		legacy *string
		want   string
	}{
		{item: strPtr("P"), legacy: strPtr("UN"), want: "P"},
		{item: nil, legacy: strPtr("UN"), want: "UN"},
		{item: strPtr("  "), legacy: strPtr(" UN "), want: "UN"},
		{item: nil, legacy: nil, want: domain.FallbackVariantLabel},
	}
	for _, tc := range cases {
		if got := TargetLabel(tc.item, tc.legacy); got != tc.want {
			t.Fatalf("TargetLabel(%v, %v) = %q, want %q", tc.item, tc.legacy, got, tc.want)
		}
	}
}

func TestApplyStockDeltasCreatesRowsAndAllowsNegativeStock(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	var productID int64
	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		p, err := tx.CreateProduct(ctx, domain.Product{SKU: "700", Name: "Bala", Price: decimal.RequireFromString("0.50")})
		if err != nil {
			return err
		}
		productID = p.ID
		return ApplyStockDeltas(ctx, tx, []domain.SaleItemInput{
			{SKU: strPtr("700"), Name: "Bala", Qty: 2, Price: decimal.RequireFromString("0.50")},
			{SKU: strPtr("700"), Name: "Bala", Variant: strPtr("Menta"), Qty: 1},
			{SKU: strPtr("nao-existe"), Name: "Avulso", Qty: 5},
			{SKU: nil, Name: "Sem codigo", Qty: 1},
		})
	})
	if err != nil {
		t.Fatalf("apply deltas: %v", err)
	}

	_ = repo.WithinTx(ctx, func(tx store.Tx) error {
		fallback, err := tx.GetVariant(ctx, productID, domain.FallbackVariantLabel)
		if err != nil {
			t.Fatalf("expected fallback variant row: %v", err)
		}
		if fallback.Stock != -2 {
			t.Fatalf("expected stock -2, got %d", fallback.Stock)
		}
		menta, err := tx.GetVariant(ctx, productID, "Menta")
		if err != nil {
			t.Fatalf("expected on-demand variant row: %v", err)
		}
		if menta.Stock != -1 {
			t.Fatalf("expected stock -1, got %d", menta.Stock)
		}
		return nil
	})
}
