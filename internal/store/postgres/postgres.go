package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

const (
	productColumns = `id, sku, name, variant, price, image_url`
	variantColumns = `id, product_id, variant, stock, min_stock, price, image_url`
	saleColumns    = `id, client_name, payment, installments, discount_value, discount_pct, freight, received, subtotal, total, created_at`
	userColumns    = `id, username, password_hash, role, permissions, full_name, created_at`
)

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type tx struct {
	tx *sqlx.Tx
}

func (t *tx) getProduct(ctx context.Context, where string, args ...any) (*domain.Product, error) {
	var p domain.Product
	err := t.tx.GetContext(ctx, &p, `SELECT `+productColumns+` FROM products `+where+` ORDER BY id ASC LIMIT 1`, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (t *tx) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return t.getProduct(ctx, `WHERE id = $1`, id)
}

func (t *tx) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return t.getProduct(ctx, `WHERE sku = $1`, sku)
}

// strpos keeps the query literal; LIKE would need wildcard escaping.
const searchClause = `strpos(lower(sku), lower($1)) > 0 OR strpos(lower(name), lower($1)) > 0`

func (t *tx) SearchProduct(ctx context.Context, query string) (*domain.Product, error) {
	return t.getProduct(ctx, `WHERE `+searchClause, query)
}

func (t *tx) ListProducts(ctx context.Context, filter store.ProductFilter) ([]domain.Product, int, error) {
	where := `WHERE $1 = '' OR ` + searchClause

	var total int
	if err := t.tx.GetContext(ctx, &total, `SELECT count(*) FROM products `+where, filter.Query); err != nil {
		return nil, 0, err
	}

	products := make([]domain.Product, 0, max(filter.Limit, 0))
	err := t.tx.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products
		`+where+`
		ORDER BY id DESC
		LIMIT NULLIF($2, 0) OFFSET $3
	`, filter.Query, max(filter.Limit, 0), max(filter.Offset, 0))
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (t *tx) FindProductBySKUAndName(ctx context.Context, sku string, name string, excludeID int64) (*domain.Product, error) {
	return t.getProduct(ctx, `WHERE lower(sku) = lower($1) AND lower(name) = lower($2) AND id <> $3`, sku, name, excludeID)
}

func (t *tx) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var created domain.Product
	err := t.tx.GetContext(ctx, &created, `
		INSERT INTO products (sku, name, variant, price, image_url)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING `+productColumns,
		product.SKU, product.Name, product.Variant, product.Price, product.ImageURL)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &created, nil
}

func (t *tx) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var updated domain.Product
	err := t.tx.GetContext(ctx, &updated, `
		UPDATE products
		SET sku = $2, name = $3, variant = $4, price = $5, image_url = $6
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.SKU, product.Name, product.Variant, product.Price, product.ImageURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &updated, nil
}

func (t *tx) DeleteProduct(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *tx) ListVariants(ctx context.Context, productID int64) ([]domain.ProductVariant, error) {
	variants := make([]domain.ProductVariant, 0, 4)
	err := t.tx.SelectContext(ctx, &variants, `
		SELECT `+variantColumns+`
		FROM product_variants
		WHERE product_id = $1
		ORDER BY id ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	return variants, nil
}

func (t *tx) CountVariants(ctx context.Context, productID int64) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `SELECT count(*) FROM product_variants WHERE product_id = $1`, productID)
	return n, err
}

func (t *tx) GetVariant(ctx context.Context, productID int64, label string) (*domain.ProductVariant, error) {
	var v domain.ProductVariant
	err := t.tx.GetContext(ctx, &v, `
		SELECT `+variantColumns+`
		FROM product_variants
		WHERE product_id = $1 AND variant = $2
	`, productID, label)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// CreateVariant relies on the (product_id, variant) unique index so that two
// requests touching the same legacy product end up sharing one row.
func (t *tx) CreateVariant(ctx context.Context, variant domain.ProductVariant) (*domain.ProductVariant, error) {
	var created domain.ProductVariant
	err := t.tx.GetContext(ctx, &created, `
		INSERT INTO product_variants (product_id, variant, stock, min_stock, price, image_url)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (product_id, variant) DO NOTHING
		RETURNING `+variantColumns,
		variant.ProductID, variant.Variant, variant.Stock, variant.MinStock, variant.Price, variant.ImageURL)
	switch {
	case err == nil:
		return &created, nil
	case errors.Is(err, sql.ErrNoRows):
		return t.GetVariant(ctx, variant.ProductID, variant.Variant)
	case isForeignKeyViolation(err):
		return nil, store.ErrNotFound
	default:
		return nil, err
	}
}

func (t *tx) UpdateVariant(ctx context.Context, variant domain.ProductVariant) (*domain.ProductVariant, error) {
	var updated domain.ProductVariant
	err := t.tx.GetContext(ctx, &updated, `
		UPDATE product_variants
		SET stock = $2, min_stock = $3, price = $4, image_url = $5
		WHERE id = $1
		RETURNING `+variantColumns,
		variant.ID, variant.Stock, variant.MinStock, variant.Price, variant.ImageURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (t *tx) AdjustVariantStock(ctx context.Context, variantID int64, delta int) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE product_variants SET stock = stock + $1 WHERE id = $2`, delta, variantID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *tx) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now()
	}

	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO sales (
			client_name, payment, installments, discount_value, discount_pct,
			freight, received, subtotal, total, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id, created_at
	`, sale.ClientName, sale.Payment, sale.Installments, sale.DiscountValue, sale.DiscountPct,
		sale.Freight, sale.Received, sale.Subtotal, sale.Total, sale.CreatedAt).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	items := make([]domain.SaleItem, len(sale.Items))
	for i, item := range sale.Items {
		item.SaleID = sale.ID
		if err := t.tx.QueryRowxContext(ctx, `
			INSERT INTO sale_items (sale_id, sku, name, variant, qty, price)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id
		`, item.SaleID, item.SKU, item.Name, item.Variant, item.Qty, item.Price).Scan(&item.ID); err != nil {
			return nil, fmt.Errorf("insert sale item %d: %w", i+1, err)
		}
		items[i] = item
	}
	sale.Items = items
	return &sale, nil
}

func (t *tx) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, max(limit, 0))
	err := t.tx.SelectContext(ctx, &sales, `
		SELECT `+saleColumns+`
		FROM sales
		ORDER BY id DESC
		LIMIT NULLIF($1, 0)
	`, max(limit, 0))
	if err != nil {
		return nil, err
	}
	return t.attachItems(ctx, sales)
}

func (t *tx) ListSalesBetween(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, max(limit, 0))
	err := t.tx.SelectContext(ctx, &sales, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY id DESC
		LIMIT NULLIF($3, 0)
	`, from, to, max(limit, 0))
	if err != nil {
		return nil, err
	}
	return t.attachItems(ctx, sales)
}

func (t *tx) attachItems(ctx context.Context, sales []domain.Sale) ([]domain.Sale, error) {
	if len(sales) == 0 {
		return sales, nil
	}

	ids := make([]int64, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
	}
	query, args, err := sqlx.In(`
		SELECT id, sale_id, sku, name, variant, qty, price
		FROM sale_items
		WHERE sale_id IN (?)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, err
	}

	var items []domain.SaleItem
	if err := t.tx.SelectContext(ctx, &items, t.tx.Rebind(query), args...); err != nil {
		return nil, err
	}

	bySale := make(map[int64][]domain.SaleItem, len(sales))
	for _, item := range items {
		bySale[item.SaleID] = append(bySale[item.SaleID], item)
	}
	for i := range sales {
		sales[i].Items = bySale[sales[i].ID]
		if sales[i].Items == nil {
			sales[i].Items = []domain.SaleItem{}
		}
	}
	return sales, nil
}

func (t *tx) SalesTotals(ctx context.Context, from time.Time, to time.Time) (domain.SalesTotals, error) {
	var totals domain.SalesTotals
	err := t.tx.GetContext(ctx, &totals, `
		SELECT count(*) AS orders, COALESCE(SUM(total), 0) AS revenue
		FROM sales
		WHERE created_at BETWEEN $1 AND $2
	`, from, to)
	return totals, err
}

func (t *tx) TopProducts(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error) {
	top := make([]domain.TopProduct, 0, max(limit, 0))
	err := t.tx.SelectContext(ctx, &top, `
		SELECT si.name AS name,
			SUM(si.qty)::bigint AS qty,
			COALESCE(SUM(si.qty * si.price), 0) AS revenue
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		WHERE s.created_at BETWEEN $1 AND $2
		GROUP BY si.name
		ORDER BY qty DESC, si.name ASC
		LIMIT NULLIF($3, 0)
	`, from, to, max(limit, 0))
	if err != nil {
		return nil, err
	}
	return top, nil
}

func (t *tx) ListClients(ctx context.Context, limit int) ([]domain.Client, error) {
	clients := make([]domain.Client, 0, max(limit, 0))
	err := t.tx.SelectContext(ctx, &clients, `
		SELECT id, name
		FROM clients
		ORDER BY name ASC, id ASC
		LIMIT NULLIF($1, 0)
	`, max(limit, 0))
	if err != nil {
		return nil, err
	}
	return clients, nil
}

func (t *tx) CreateClient(ctx context.Context, name string) (*domain.Client, error) {
	var client domain.Client
	err := t.tx.GetContext(ctx, &client, `INSERT INTO clients (name) VALUES ($1) RETURNING id, name`, name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &client, nil
}

func (t *tx) LockUsers(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `LOCK TABLE users IN SHARE ROW EXCLUSIVE MODE`)
	return err
}

func (t *tx) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `SELECT count(*) FROM users`)
	return n, err
}

func (t *tx) getUser(ctx context.Context, where string, arg any) (*domain.User, error) {
	var user domain.User
	err := t.tx.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (t *tx) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return t.getUser(ctx, `WHERE id = $1`, id)
}

func (t *tx) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return t.getUser(ctx, `WHERE username = $1`, username)
}

func (t *tx) ListUsers(ctx context.Context) ([]domain.User, error) {
	users := make([]domain.User, 0, 16)
	if err := t.tx.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id ASC`); err != nil {
		return nil, err
	}
	for i := range users {
		users[i].CreatedAt = users[i].CreatedAt.UTC()
	}
	return users, nil
}

func (t *tx) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	var created domain.User
	err := t.tx.GetContext(ctx, &created, `
		INSERT INTO users (username, password_hash, role, permissions, full_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING `+userColumns,
		user.Username, user.PasswordHash, string(user.Role), user.Permissions, user.FullName, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created.CreatedAt = created.CreatedAt.UTC()
	return &created, nil
}

func (t *tx) UpdateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	var updated domain.User
	err := t.tx.GetContext(ctx, &updated, `
		UPDATE users
		SET username = $2, password_hash = $3, role = $4, permissions = $5, full_name = $6
		WHERE id = $1
		RETURNING `+userColumns,
		user.ID, user.Username, user.PasswordHash, string(user.Role), user.Permissions, user.FullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	return &updated, nil
}

func (t *tx) DeleteUser(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
