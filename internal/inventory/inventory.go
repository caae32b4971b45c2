// Package inventory applies sale line items to variant stock levels.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pdv/backend/internal/catalog"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

// ApplyStockDeltas decrements variant stock for every item that names a known
// SKU. Items with no SKU, or a SKU the catalog does not know, are skipped so
// free-form lines can still be sold. Variant rows are created on demand with
// stock 0. Stock has no floor and may go negative.
//
// It must run in the same unit of work that persists the sale.
func ApplyStockDeltas(ctx context.Context, tx store.Tx, items []domain.SaleItemInput) error {
	for i, item := range items {
		if item.SKU == nil {
			continue
		}
		sku := strings.TrimSpace(*item.SKU)
		if sku == "" {
			continue
		}

		product, err := tx.GetProductBySKU(ctx, sku)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
		if err := catalog.EnsureLegacyVariant(ctx, tx, *product); err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}

		variant, err := tx.CreateVariant(ctx, domain.ProductVariant{
			ProductID: product.ID,
			Variant:   TargetLabel(item.Variant, product.Variant),
		})
		if err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
		if err := tx.AdjustVariantStock(ctx, variant.ID, -item.Qty); err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
	}
	return nil
}

// TargetLabel picks the variant row a sale item draws from: the item's own
// variant, else the product's legacy variant, else the fallback label.
func TargetLabel(itemVariant *string, legacyVariant *string) string {
	for _, candidate := range []*string{itemVariant, legacyVariant} {
		if candidate == nil {
			continue
		}
		if label := strings.TrimSpace(*candidate); label != "" {
			return label
		}
	}
	return domain.FallbackVariantLabel
}
