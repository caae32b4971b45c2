package postgres

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		sku TEXT NOT NULL,
		name TEXT NOT NULL,
		variant TEXT NULL,
		price NUMERIC NOT NULL DEFAULT 0,
		image_url TEXT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS products_sku_name_ci_idx ON products (lower(sku), lower(name))`,
	`CREATE INDEX IF NOT EXISTS products_sku_idx ON products (sku)`,
	`CREATE TABLE IF NOT EXISTS product_variants (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		variant TEXT NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0,
		min_stock INTEGER NOT NULL DEFAULT 0,
		price NUMERIC NULL,
		image_url TEXT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS product_variants_product_label_idx ON product_variants (product_id, variant)`,
	`CREATE TABLE IF NOT EXISTS clients (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		client_name TEXT NULL,
		payment TEXT NOT NULL,
		installments INTEGER NOT NULL DEFAULT 1,
		discount_value NUMERIC NOT NULL DEFAULT 0,
		discount_pct NUMERIC NOT NULL DEFAULT 0,
		freight NUMERIC NOT NULL DEFAULT 0,
		received NUMERIC NOT NULL DEFAULT 0,
		subtotal NUMERIC NOT NULL DEFAULT 0,
		total NUMERIC NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS sales_created_at_idx ON sales (created_at)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id BIGSERIAL PRIMARY KEY,
		sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		sku TEXT NULL,
		name TEXT NOT NULL,
		variant TEXT NULL,
		qty INTEGER NOT NULL,
		price NUMERIC NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sale_items_sale_id_idx ON sale_items (sale_id)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'operator',
		permissions TEXT NOT NULL DEFAULT '',
		full_name TEXT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	// Databases created with fixed-scale money columns are widened so stored
	// amounts keep the precision they were submitted with.
	`ALTER TABLE products ALTER COLUMN price TYPE NUMERIC`,
	`ALTER TABLE product_variants ALTER COLUMN price TYPE NUMERIC`,
	`ALTER TABLE sales
		ALTER COLUMN discount_value TYPE NUMERIC,
		ALTER COLUMN discount_pct TYPE NUMERIC,
		ALTER COLUMN freight TYPE NUMERIC,
		ALTER COLUMN received TYPE NUMERIC,
		ALTER COLUMN subtotal TYPE NUMERIC,
		ALTER COLUMN total TYPE NUMERIC`,
	`ALTER TABLE sale_items ALTER COLUMN price TYPE NUMERIC`,
}

// Migrate creates the tables and indexes the store needs.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
