package store

import (
	"context"
	"errors"
	"time"

	"pdv/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid request")
)

// ProductFilter narrows ListProducts. An empty Query matches every product.
type ProductFilter struct {
	Query  string
	Limit  int
	Offset int
}

// Tx is one unit of work. Everything done through a Tx commits or rolls back
// together.
type Tx interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	// GetProductBySKU matches the SKU exactly; the lowest id wins on ties.
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	// SearchProduct matches query as a case-insensitive substring of SKU or
	// name and returns the lowest id.
	SearchProduct(ctx context.Context, query string) (*domain.Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, int, error)
	// FindProductBySKUAndName compares both fields case-insensitively and
	// ignores the product with id excludeID.
	FindProductBySKUAndName(ctx context.Context, sku string, name string, excludeID int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	ListVariants(ctx context.Context, productID int64) ([]domain.ProductVariant, error)
	CountVariants(ctx context.Context, productID int64) (int, error)
	GetVariant(ctx context.Context, productID int64, label string) (*domain.ProductVariant, error)
	// CreateVariant inserts the row unless (product_id, variant) already
	// exists, and returns the stored row either way.
	CreateVariant(ctx context.Context, variant domain.ProductVariant) (*domain.ProductVariant, error)
	UpdateVariant(ctx context.Context, variant domain.ProductVariant) (*domain.ProductVariant, error)
	// AdjustVariantStock adds delta to the stored stock without a floor.
	AdjustVariantStock(ctx context.Context, variantID int64, delta int) error

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	ListSalesBetween(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	SalesTotals(ctx context.Context, from time.Time, to time.Time) (domain.SalesTotals, error)
	TopProducts(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error)

	ListClients(ctx context.Context, limit int) ([]domain.Client, error)
	CreateClient(ctx context.Context, name string) (*domain.Client, error)

	// LockUsers blocks other units of work from inserting users until this
	// one ends, so a count taken afterwards stays valid.
	LockUsers(ctx context.Context) error
	CountUsers(ctx context.Context) (int, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) (*domain.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

type Repository interface {
	// WithinTx runs fn in a unit of work. A non-nil error from fn rolls back
	// every change made through tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
