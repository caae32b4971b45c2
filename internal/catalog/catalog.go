// Package catalog owns products and their variant rows, including the lazy
// migration of legacy single-variant products.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/skucode"
	"pdv/backend/internal/store"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type Catalog struct {
	repo store.Repository
}

func New(repo store.Repository) *Catalog {
	return &Catalog{repo: repo}
}

// EnsureLegacyVariant gives a product that only carries the legacy variant
// string its first variant row (stock 0, no price override). Products that
// already have any variant row, or no legacy variant, are left untouched.
func EnsureLegacyVariant(ctx context.Context, tx store.Tx, product domain.Product) error {
	if product.Variant == nil || strings.TrimSpace(*product.Variant) == "" {
		return nil
	}
	n, err := tx.CountVariants(ctx, product.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = tx.CreateVariant(ctx, domain.ProductVariant{
		ProductID: product.ID,
		Variant:   strings.TrimSpace(*product.Variant),
	})
	return err
}

// withVariants runs the legacy migration and loads the variant rows.
func withVariants(ctx context.Context, tx store.Tx, product *domain.Product) (domain.Product, error) {
	if err := EnsureLegacyVariant(ctx, tx, *product); err != nil {
		return domain.Product{}, err
	}
	variants, err := tx.ListVariants(ctx, product.ID)
	if err != nil {
		return domain.Product{}, err
	}
	out := *product
	out.Variants = variants
	return out, nil
}

// FindProduct resolves an operator-typed code: an exact SKU match on the
// parsed code first, then a case-insensitive substring of SKU or name.
func (c *Catalog) FindProduct(ctx context.Context, query string) (domain.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.Product{}, fmt.Errorf("%w: query is required", store.ErrInvalid)
	}
	sku, _ := skucode.Parse(query)

	var found domain.Product
	err := c.repo.WithinTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProductBySKU(ctx, sku)
		if errors.Is(err, store.ErrNotFound) {
			p, err = tx.SearchProduct(ctx, query)
		}
		if err != nil {
			return err
		}
		found, err = withVariants(ctx, tx, p)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	return found, nil
}

func (c *Catalog) GetProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Product{}, fmt.Errorf("%w: sku is required", store.ErrInvalid)
	}

	var found domain.Product
	err := c.repo.WithinTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProductBySKU(ctx, sku)
		if err != nil {
			return err
		}
		found, err = withVariants(ctx, tx, p)
		return err
	})
	return found, err
}

func (c *Catalog) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var found domain.Product
	err := c.repo.WithinTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		found, err = withVariants(ctx, tx, p)
		return err
	})
	return found, err
}

func (c *Catalog) ListProducts(ctx context.Context, query string, limit int, offset int) (domain.ProductPage, error) {
	filter := store.ProductFilter{
		Query:  strings.TrimSpace(query),
		Limit:  clampLimit(limit),
		Offset: max(offset, 0),
	}

	page := domain.ProductPage{Items: []domain.Product{}}
	err := c.repo.WithinTx(ctx, func(tx store.Tx) error {
		products, total, err := tx.ListProducts(ctx, filter)
		if err != nil {
			return err
		}
		for i := range products {
			p, err := withVariants(ctx, tx, &products[i])
			if err != nil {
				return err
			}
			page.Items = append(page.Items, p)
		}
		page.Total = total
		return nil
	})
	if err != nil {
		return domain.ProductPage{}, err
	}
	return page, nil
}

func (c *Catalog) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	product := domain.Product{
		SKU:      strings.TrimSpace(req.SKU),
		Name:     strings.TrimSpace(req.Name),
		Variant:  normalizeNullable(req.Variant),
		Price:    req.Price,
		ImageURL: normalizeNullable(req.ImageURL),
	}
	if product.SKU == "" || product.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: sku and name are required", store.ErrInvalid)
	}
	if product.Price.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalid)
	}

	var created domain.Product
	err := c.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := ensureUnique(ctx, tx, product.SKU, product.Name, 0); err != nil {
			return err
		}
		p, err := tx.CreateProduct(ctx, product)
		if err != nil {
			return mapConflict(err, product)
		}
		created, err = withVariants(ctx, tx, p)
		return err
	})
	return created, err
}

func (c *Catalog) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	var updated domain.Product
	err := c.repo.WithinTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}

		next := *current
		if err := applyUpdate(&next, req); err != nil {
			return err
		}
		if !strings.EqualFold(next.SKU, current.SKU) || !strings.EqualFold(next.Name, current.Name) {
			if err := ensureUnique(ctx, tx, next.SKU, next.Name, id); err != nil {
				return err
			}
		}

		p, err := tx.UpdateProduct(ctx, next)
		if err != nil {
			return mapConflict(err, next)
		}
		updated, err = withVariants(ctx, tx, p)
		return err
	})
	return updated, err
}

func applyUpdate(p *domain.Product, req domain.ProductUpdateRequest) error {
	if req.SKU.Set {
		sku := strings.TrimSpace(req.SKU.Value)
		if !req.SKU.Valid || sku == "" {
			return fmt.Errorf("%w: sku cannot be empty", store.ErrInvalid)
		}
		p.SKU = sku
	}
	if req.Name.Set {
		name := strings.TrimSpace(req.Name.Value)
		if !req.Name.Valid || name == "" {
			return fmt.Errorf("%w: name cannot be empty", store.ErrInvalid)
		}
		p.Name = name
	}
	if req.Price.Set {
		if !req.Price.Valid {
			return fmt.Errorf("%w: price cannot be null", store.ErrInvalid)
		}
		if req.Price.Value.IsNegative() {
			return fmt.Errorf("%w: price must not be negative", store.ErrInvalid)
		}
		p.Price = req.Price.Value
	}
	if req.Variant.Set {
		p.Variant = normalizeNullable(req.Variant.Ptr())
	}
	if req.ImageURL.Set {
		p.ImageURL = normalizeNullable(req.ImageURL.Ptr())
	}
	return nil
}

func (c *Catalog) DeleteProduct(ctx context.Context, id int64) error {
	return c.repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.DeleteProduct(ctx, id)
	})
}

// UpsertVariant overwrites stock, min_stock and price of the row whose label
// matches exactly, or inserts a new row.
func (c *Catalog) UpsertVariant(ctx context.Context, productID int64, req domain.VariantUpsertRequest) (domain.ProductVariant, error) {
	label := strings.TrimSpace(req.Variant)
	if label == "" {
		return domain.ProductVariant{}, fmt.Errorf("%w: variant is required", store.ErrInvalid)
	}
	if req.Price.Valid && req.Price.Decimal.IsNegative() {
		return domain.ProductVariant{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalid)
	}

	var saved domain.ProductVariant
	err := c.repo.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			return err
		}

		existing, err := tx.GetVariant(ctx, productID, label)
		switch {
		case err == nil:
			existing.Stock = req.Stock
			existing.MinStock = req.MinStock
			existing.Price = req.Price
			v, err := tx.UpdateVariant(ctx, *existing)
			if err != nil {
				return err
			}
			saved = *v
			return nil
		case errors.Is(err, store.ErrNotFound):
			v, err := tx.CreateVariant(ctx, domain.ProductVariant{
				ProductID: productID,
				Variant:   label,
				Stock:     req.Stock,
				MinStock:  req.MinStock,
				Price:     req.Price,
			})
			if err != nil {
				return err
			}
			saved = *v
			return nil
		default:
			return err
		}
	})
	return saved, err
}

func (c *Catalog) ListVariants(ctx context.Context, productID int64) ([]domain.ProductVariant, error) {
	var variants []domain.ProductVariant
	err := c.repo.WithinTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		loaded, err := withVariants(ctx, tx, p)
		if err != nil {
			return err
		}
		variants = loaded.Variants
		return nil
	})
	return variants, err
}

func ensureUnique(ctx context.Context, tx store.Tx, sku string, name string, excludeID int64) error {
	_, err := tx.FindProductBySKUAndName(ctx, sku, name, excludeID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: product %s / %s already exists", store.ErrConflict, sku, name)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return err
	}
}

func mapConflict(err error, p domain.Product) error {
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: product %s / %s already exists", store.ErrConflict, p.SKU, p.Name)
	}
	return err
}

// normalizeNullable trims v and turns a blank value into nil.
func normalizeNullable(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func clampLimit(limit int) int {
	if limit < 1 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}
