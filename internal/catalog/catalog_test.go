package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
	"pdv/backend/internal/store/memory"
)

func strPtr(v string) *string {
	return &v
}

func newTestCatalog(t *testing.T) (*Catalog, *memory.Store) {
	t.Helper()
	repo, err := memory.NewSeeded(context.Background(), "")
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return New(repo), repo
}

func TestFindProductMigratesLegacyVariantOnce(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	first, err := cat.FindProduct(ctx, "00011-UN")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if len(first.Variants) != 1 {
		t.Fatalf("expected one migrated variant, got %d", len(first.Variants))
	}
	v := first.Variants[0]
	if v.Variant != "UN" || v.Stock != 0 || v.MinStock != 0 || v.Price.Valid {
		t.Fatalf("unexpected migrated variant %+v", v)
	}

	second, err := cat.FindProduct(ctx, "00011")
	if err != nil {
		t.Fatalf("find product again: %v", err)
	}
	if len(second.Variants) != 1 || second.Variants[0].ID != v.ID {
		t.Fatalf("expected migration to be idempotent, got %+v", second.Variants)
	}
}

func TestFindProductFallsBackToNameSubstring(t *testing.T) {
	cat, _ := newTestCatalog(t)

	p, err := cat.FindProduct(context.Background(), "salgad")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if p.SKU != "00013" {
		t.Fatalf("expected salgadinho, got %s", p.SKU)
	}

	if _, err := cat.FindProduct(context.Background(), "inexistente"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := cat.FindProduct(context.Background(), "   "); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected validation error for blank query, got %v", err)
	}
}

func TestFindProductPrefersLowestIDOnSharedSKU(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	first, err := cat.CreateProduct(ctx, domain.ProductCreateRequest{SKU: "500", Name: "Camiseta"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := cat.CreateProduct(ctx, domain.ProductCreateRequest{SKU: "500", Name: "Bermuda"}); err != nil {
		t.Fatalf("create second: %v", err)
	}

	found, err := cat.FindProduct(ctx, "500")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != first.ID {
		t.Fatalf("expected lowest id %d, got %d", first.ID, found.ID)
	}
}

func TestCreateProductRejectsCaseInsensitiveDuplicate(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.CreateProduct(ctx, domain.ProductCreateRequest{SKU: "00011", Name: "coca-cola lata 350ml"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	created, err := cat.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU:     " 00011 ",
		Name:    "Coca-Cola 2L",
		Variant: strPtr("   "),
		Price:   decimal.RequireFromString("11.90"),
	})
	if err != nil {
		t.Fatalf("same sku with another name should be accepted: %v", err)
	}
	if created.SKU != "00011" || created.Variant != nil {
		t.Fatalf("expected trimmed sku and null variant, got %+v", created)
	}
	if len(created.Variants) != 0 {
		t.Fatalf("expected no variant rows without a legacy variant")
	}
}

func TestCreateProductRequiresSKUAndName(t *testing.T) {
	cat, _ := newTestCatalog(t)
	_, err := cat.CreateProduct(context.Background(), domain.ProductCreateRequest{SKU: "  ", Name: "Pão"})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateProductAppliesOnlyPresentFields(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	p, err := cat.GetProductBySKU(ctx, "00012")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	updated, err := cat.UpdateProduct(ctx, p.ID, domain.ProductUpdateRequest{
		Price:    domain.Some(decimal.RequireFromString("3.50")),
		ImageURL: domain.Some("/uploads/agua.png"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != p.Name || updated.SKU != p.SKU {
		t.Fatalf("absent fields must be kept, got %+v", updated)
	}
	if !updated.Price.Equal(decimal.RequireFromString("3.50")) {
		t.Fatalf("price not updated: %s", updated.Price)
	}
	if updated.ImageURL == nil || *updated.ImageURL != "/uploads/agua.png" {
		t.Fatalf("image not updated: %v", updated.ImageURL)
	}

	cleared, err := cat.UpdateProduct(ctx, p.ID, domain.ProductUpdateRequest{ImageURL: domain.Null[string]()})
	if err != nil {
		t.Fatalf("clear image: %v", err)
	}
	if cleared.ImageURL != nil {
		t.Fatalf("expected image cleared")
	}

	if _, err := cat.UpdateProduct(ctx, p.ID, domain.ProductUpdateRequest{Name: domain.Null[string]()}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected null name to be rejected, got %v", err)
	}
}

func TestUpdateProductRechecksUniqueness(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	p, _ := cat.GetProductBySKU(ctx, "00012")
	_, err := cat.UpdateProduct(ctx, p.ID, domain.ProductUpdateRequest{
		SKU:  domain.Some("00011"),
		Name: domain.Some("COCA-COLA LATA 350ML"),
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, err := cat.UpdateProduct(ctx, 9999, domain.ProductUpdateRequest{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpsertVariantMatchesExactLabel(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	p, _ := cat.GetProductBySKU(ctx, "00011")
	first, err := cat.UpsertVariant(ctx, p.ID, domain.VariantUpsertRequest{Variant: "UN", Stock: 24, MinStock: 6})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.Stock != 24 || first.MinStock != 6 {
		t.Fatalf("expected overwrite of migrated row, got %+v", first)
	}

	lower, err := cat.UpsertVariant(ctx, p.ID, domain.VariantUpsertRequest{
		Variant: "un",
		Stock:   1,
		Price:   decimal.NewNullDecimal(decimal.RequireFromString("6.00")),
	})
	if err != nil {
		t.Fatalf("upsert lower-case: %v", err)
	}
	if lower.ID == first.ID {
		t.Fatalf("labels are case-sensitive, expected a new row")
	}

	variants, err := cat.ListVariants(ctx, p.ID)
	if err != nil {
		t.Fatalf("list variants: %v", err)
	}
	if len(variants) != 2 || variants[0].ID != first.ID {
		t.Fatalf("expected two variants ordered by id, got %+v", variants)
	}

	if _, err := cat.UpsertVariant(ctx, 9999, domain.VariantUpsertRequest{Variant: "P"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for missing product, got %v", err)
	}
}

func TestListProductsNewestFirstWithTotal(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	page, err := cat.ListProducts(ctx, "", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 2 {
		t.Fatalf("expected 2 of 3 products, got %d of %d", len(page.Items), page.Total)
	}
	if page.Items[0].SKU != "00013" {
		t.Fatalf("expected newest first, got %s", page.Items[0].SKU)
	}
	for _, p := range page.Items {
		if len(p.Variants) != 1 {
			t.Fatalf("expected legacy migration on listed product %s", p.SKU)
		}
	}

	filtered, err := cat.ListProducts(ctx, "ÁGUA", 0, 0)
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if filtered.Total != 1 || filtered.Items[0].SKU != "00012" {
		t.Fatalf("unexpected filtered page %+v", filtered)
	}
}

func TestDeleteProduct(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	p, _ := cat.GetProductBySKU(ctx, "00013")
	if err := cat.DeleteProduct(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := cat.GetProduct(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted product to be gone, got %v", err)
	}
	if err := cat.DeleteProduct(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
