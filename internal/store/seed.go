package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"pdv/backend/internal/domain"
)

const SeedAdminUsername = "admin"

type seedProduct struct {
	sku     string
	name    string
	price   string
	variant string
}

var demoProducts = []seedProduct{
	{sku: "00011", name: "Coca-Cola Lata 350ml", price: "5.50", variant: "UN"},
	{sku: "00012", name: "Água Mineral 500ml", price: "3.00", variant: "UN"},
	{sku: "00013", name: "Salgadinho 45g", price: "7.90", variant: "UN"},
}

var demoClients = []string{"Cliente Padrão", "João Silva"}

// Seed loads the demo catalog and client list. Rows that already exist are
// left alone, so running it twice is harmless. The admin account is created
// only when adminPassword is non-empty.
func Seed(ctx context.Context, repo Repository, adminPassword string) error {
	var adminHash string
	if adminPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash seed admin password: %w", err)
		}
		adminHash = string(hash)
	}

	return repo.WithinTx(ctx, func(tx Tx) error {
		for _, sp := range demoProducts {
			if _, err := tx.FindProductBySKUAndName(ctx, sp.sku, sp.name, 0); err == nil {
				continue
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
			variant := sp.variant
			if _, err := tx.CreateProduct(ctx, domain.Product{
				SKU:     sp.sku,
				Name:    sp.name,
				Variant: &variant,
				Price:   decimal.RequireFromString(sp.price),
			}); err != nil {
				return fmt.Errorf("seed product %s: %w", sp.sku, err)
			}
		}

		for _, name := range demoClients {
			if _, err := tx.CreateClient(ctx, name); err != nil && !errors.Is(err, ErrConflict) {
				return fmt.Errorf("seed client %q: %w", name, err)
			}
		}

		if adminHash == "" {
			return nil
		}
		if _, err := tx.GetUserByUsername(ctx, SeedAdminUsername); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		fullName := "Administrador"
		_, err := tx.CreateUser(ctx, domain.User{
			Username:     SeedAdminUsername,
			PasswordHash: adminHash,
			Role:         domain.RoleAdmin,
			Permissions:  domain.AllPermissions(),
			FullName:     &fullName,
		})
		return err
	})
}
