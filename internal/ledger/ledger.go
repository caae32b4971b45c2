// Package ledger records sales together with their stock effects.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/inventory"
	"pdv/backend/internal/store"
)

const (
	DefaultSalesLimit   = 20
	MaxSalesLimit       = 200
	DefaultClientsLimit = 50
	MaxClientsLimit     = 500
)

// Invalidator is told after every committed sale so derived views can be
// dropped.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Ledger struct {
	repo        store.Repository
	invalidator Invalidator
	logger      *zap.Logger
	now         func() time.Time
}

func New(repo store.Repository, invalidator Invalidator, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		repo:        repo,
		invalidator: invalidator,
		logger:      logger,
		now:         time.Now,
	}
}

// RecordSale applies the stock deltas and stores the sale and its items in a
// single unit of work. Every submitted field is persisted verbatim; trimming
// is only used to reject blank payment and item names.
//
// Returns are deliberately not accepted as negative lines that restock: a
// sale needs at least one item and every quantity must be at least 1.
func (l *Ledger) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	if strings.TrimSpace(req.Payment) == "" {
		return domain.Sale{}, fmt.Errorf("%w: payment is required", store.ErrInvalid)
	}
	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: sale needs at least one item", store.ErrInvalid)
	}

	items := make([]domain.SaleItem, len(req.Items))
	for i, in := range req.Items {
		if strings.TrimSpace(in.Name) == "" {
			return domain.Sale{}, fmt.Errorf("%w: item %d has no name", store.ErrInvalid, i+1)
		}
		if in.Qty < 1 {
			return domain.Sale{}, fmt.Errorf("%w: item %d quantity must be positive", store.ErrInvalid, i+1)
		}
		items[i] = domain.SaleItem{
			SKU:     in.SKU,
			Name:    in.Name,
			Variant: in.Variant,
			Qty:     in.Qty,
			Price:   in.Price,
		}
	}

	installments := req.Installments
	if installments < 1 {
		installments = 1
	}

	sale := domain.Sale{
		ClientName:    req.ClientName,
		Payment:       req.Payment,
		Installments:  installments,
		DiscountValue: req.DiscountValue,
		DiscountPct:   req.DiscountPct,
		Freight:       req.Freight,
		Received:      req.Received,
		Subtotal:      req.Subtotal,
		Total:         req.Total,
		CreatedAt:     l.now(),
		Items:         items,
	}

	var recorded domain.Sale
	err := l.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := inventory.ApplyStockDeltas(ctx, tx, req.Items); err != nil {
			return fmt.Errorf("apply stock deltas: %w", err)
		}
		created, err := tx.CreateSale(ctx, sale)
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		recorded = *created
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	if l.invalidator != nil {
		if err := l.invalidator.Invalidate(ctx); err != nil {
			l.logger.Warn("dashboard cache invalidation failed", zap.Int64("sale_id", recorded.ID), zap.Error(err))
		}
	}
	l.logger.Info("sale recorded",
		zap.Int64("sale_id", recorded.ID),
		zap.Int("items", len(recorded.Items)),
		zap.String("total", recorded.Total.StringFixed(2)),
	)
	return recorded, nil
}

func (l *Ledger) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	limit = clamp(limit, DefaultSalesLimit, MaxSalesLimit)

	var sales []domain.Sale
	err := l.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		sales, err = tx.ListSales(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if sales == nil {
		sales = []domain.Sale{}
	}
	return sales, nil
}

func (l *Ledger) ListClients(ctx context.Context, limit int) ([]domain.Client, error) {
	limit = clamp(limit, DefaultClientsLimit, MaxClientsLimit)

	var clients []domain.Client
	err := l.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		clients, err = tx.ListClients(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if clients == nil {
		clients = []domain.Client{}
	}
	return clients, nil
}

func clamp(limit int, fallback int, ceiling int) int {
	if limit < 1 {
		return fallback
	}
	return min(limit, ceiling)
}
