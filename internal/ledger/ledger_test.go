package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pdv/backend/internal/catalog"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
	"pdv/backend/internal/store/memory"
)

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func strPtr(v string) *string {
	return &v
}

func newTestLedger(t *testing.T) (*Ledger, *memory.Store, *countingInvalidator) {
	t.Helper()
	repo, err := memory.NewSeeded(context.Background(), "")
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	inv := &countingInvalidator{}
	return New(repo, inv, nil), repo, inv
}

func TestRecordSaleDecrementsLegacyVariant(t *testing.T) {
	l, repo, inv := newTestLedger(t)
	ctx := context.Background()
	cat := catalog.New(repo)

	p, err := cat.GetProductBySKU(ctx, "00011")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if _, err := cat.UpsertVariant(ctx, p.ID, domain.VariantUpsertRequest{Variant: "UN", Stock: 10}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	sale, err := l.RecordSale(ctx, domain.SaleRequest{
		Payment:  "dinheiro",
		Subtotal: decimal.RequireFromString("16.50"),
		Total:    decimal.RequireFromString("16.50"),
		Items: []domain.SaleItemInput{
			{SKU: strPtr("00011"), Name: "Coca-Cola Lata 350ml", Qty: 3, Price: decimal.RequireFromString("5.50")},
		},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if sale.ID == 0 || sale.CreatedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", sale)
	}
	if sale.Installments != 1 {
		t.Fatalf("expected default installments 1, got %d", sale.Installments)
	}
	if len(sale.Items) != 1 || !sale.Items[0].Price.Equal(decimal.RequireFromString("5.50")) {
		t.Fatalf("unexpected items %+v", sale.Items)
	}
	if inv.calls != 1 {
		t.Fatalf("expected one cache invalidation, got %d", inv.calls)
	}

	variants, err := cat.ListVariants(ctx, p.ID)
	if err != nil {
		t.Fatalf("list variants: %v", err)
	}
	if len(variants) != 1 || variants[0].Variant != "UN" || variants[0].Stock != 7 {
		t.Fatalf("expected UN stock 7, got %+v", variants)
	}
}

func TestRecordSaleWithUnknownSKUHasNoStockEffect(t *testing.T) {
	l, repo, _ := newTestLedger(t)
	ctx := context.Background()

	sale, err := l.RecordSale(ctx, domain.SaleRequest{
		Payment: "pix",
		Total:   decimal.RequireFromString("9.99"),
		Items: []domain.SaleItemInput{
			{SKU: strPtr("99999"), Name: "Item avulso", Qty: 1, Price: decimal.RequireFromString("9.99")},
		},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if len(sale.Items) != 1 || *sale.Items[0].SKU != "99999" {
		t.Fatalf("expected item stored verbatim, got %+v", sale.Items)
	}

	_ = repo.WithinTx(ctx, func(tx store.Tx) error {
		for _, sku := range []string{"00011", "00012", "00013"} {
			p, _ := tx.GetProductBySKU(ctx, sku)
			if n, _ := tx.CountVariants(ctx, p.ID); n != 0 {
				t.Fatalf("expected no variant rows touched for %s, got %d", sku, n)
			}
		}
		return nil
	})
}

func TestRecordSaleRejectsInvalidPayload(t *testing.T) {
	l, _, inv := newTestLedger(t)
	ctx := context.Background()

	cases := []domain.SaleRequest{
		{Payment: "", Items: []domain.SaleItemInput{{Name: "X", Qty: 1}}},
		{Payment: "pix"},
		{Payment: "pix", Items: []domain.SaleItemInput{{Name: "X", Qty: 0}}},
		{Payment: "pix", Items: []domain.SaleItemInput{{SKU: strPtr("00011"), Name: "X", Qty: -2}}},
		{Payment: "pix", Items: []domain.SaleItemInput{{Name: " ", Qty: 1}}},
	}
	for i, req := range cases {
		if _, err := l.RecordSale(ctx, req); !errors.Is(err, store.ErrInvalid) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if inv.calls != 0 {
		t.Fatalf("rejected sales must not invalidate the cache")
	}
}

func TestRecordSaleStoresFieldsVerbatim(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.RecordSale(ctx, domain.SaleRequest{
		Payment:     " pix ",
		DiscountPct: decimal.RequireFromString("2.125"),
		Total:       decimal.RequireFromString("0.125"),
		Items: []domain.SaleItemInput{
			{Name: " Coca ", Qty: 1, Price: decimal.RequireFromString("0.125")},
		},
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	sales, err := l.ListSales(ctx, 1)
	if err != nil || len(sales) != 1 {
		t.Fatalf("list sales: %v %+v", err, sales)
	}
	got := sales[0]
	if got.Payment != " pix " || got.Items[0].Name != " Coca " {
		t.Fatalf("expected untrimmed payment and name, got payment=%q name=%q", got.Payment, got.Items[0].Name)
	}
	if !got.Total.Equal(decimal.RequireFromString("0.125")) || !got.Items[0].Price.Equal(decimal.RequireFromString("0.125")) {
		t.Fatalf("expected exact amounts, got total=%s price=%s", got.Total, got.Items[0].Price)
	}
	if !got.DiscountPct.Equal(decimal.RequireFromString("2.125")) {
		t.Fatalf("expected exact discount pct, got %s", got.DiscountPct)
	}
}

var errInsertFailed = errors.New("insert failed")

// failingSaleRepo runs every unit of work on the wrapped store but fails the
// sale insert.
type failingSaleRepo struct {
	*memory.Store
}

type failingSaleTx struct {
	store.Tx
}

func (r failingSaleRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Store.WithinTx(ctx, func(tx store.Tx) error {
		return fn(failingSaleTx{Tx: tx})
	})
}

func (failingSaleTx) CreateSale(context.Context, domain.Sale) (*domain.Sale, error) {
	return nil, errInsertFailed
}

func TestRecordSaleRollsBackStockWhenInsertFails(t *testing.T) {
	_, repo, _ := newTestLedger(t)
	ctx := context.Background()
	cat := catalog.New(repo)

	p, err := cat.GetProductBySKU(ctx, "00011")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if _, err := cat.UpsertVariant(ctx, p.ID, domain.VariantUpsertRequest{Variant: "UN", Stock: 10}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	inv := &countingInvalidator{}
	l := New(failingSaleRepo{Store: repo}, inv, nil)
	_, err = l.RecordSale(ctx, domain.SaleRequest{
		Payment: "pix",
		Items: []domain.SaleItemInput{
			{SKU: strPtr("00011"), Variant: strPtr("UN"), Name: "Coca-Cola Lata 350ml", Qty: 4, Price: decimal.RequireFromString("5.50")},
			{SKU: strPtr("00011"), Variant: strPtr("G"), Name: "Coca-Cola Lata 350ml", Qty: 1, Price: decimal.RequireFromString("5.50")},
		},
	})
	if !errors.Is(err, errInsertFailed) {
		t.Fatalf("expected insert failure, got %v", err)
	}
	if inv.calls != 0 {
		t.Fatalf("failed sales must not invalidate the cache")
	}

	variants, err := cat.ListVariants(ctx, p.ID)
	if err != nil {
		t.Fatalf("list variants: %v", err)
	}
	if len(variants) != 1 || variants[0].Variant != "UN" || variants[0].Stock != 10 {
		t.Fatalf("expected stock untouched and no new variant rows, got %+v", variants)
	}
	if sales, _ := l.ListSales(ctx, 0); len(sales) != 0 {
		t.Fatalf("expected no sale stored, got %d", len(sales))
	}
}

func TestListSalesRoundTripSurvivesProductDeletion(t *testing.T) {
	l, repo, _ := newTestLedger(t)
	ctx := context.Background()
	fixed := time.Date(2026, 5, 10, 14, 30, 0, 0, time.Local)
	l.now = func() time.Time { return fixed }

	req := domain.SaleRequest{
		ClientName:    strPtr("João Silva"),
		Payment:       "cartao",
		Installments:  3,
		DiscountValue: decimal.RequireFromString("1.00"),
		DiscountPct:   decimal.RequireFromString("5"),
		Freight:       decimal.RequireFromString("4.00"),
		Received:      decimal.RequireFromString("30.00"),
		Subtotal:      decimal.RequireFromString("23.70"),
		Total:         decimal.RequireFromString("26.70"),
		Items: []domain.SaleItemInput{
			{SKU: strPtr("00013"), Name: "Salgadinho 45g", Variant: strPtr("UN"), Qty: 3, Price: decimal.RequireFromString("7.90")},
		},
	}
	recorded, err := l.RecordSale(ctx, req)
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	cat := catalog.New(repo)
	p, _ := cat.GetProductBySKU(ctx, "00013")
	if err := cat.DeleteProduct(ctx, p.ID); err != nil {
		t.Fatalf("delete product: %v", err)
	}

	sales, err := l.ListSales(ctx, 0)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("expected one sale, got %d", len(sales))
	}
	got := sales[0]
	if got.ID != recorded.ID || !got.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected identity %+v", got)
	}
	if *got.ClientName != "João Silva" || got.Payment != "cartao" || got.Installments != 3 {
		t.Fatalf("header fields changed: %+v", got)
	}
	for name, pair := range map[string][2]decimal.Decimal{
		"discount_value": {got.DiscountValue, req.DiscountValue},
		"discount_pct":   {got.DiscountPct, req.DiscountPct},
		"freight":        {got.Freight, req.Freight},
		"received":       {got.Received, req.Received},
		"subtotal":       {got.Subtotal, req.Subtotal},
		"total":          {got.Total, req.Total},
	} {
		if !pair[0].Equal(pair[1]) {
			t.Fatalf("%s changed: %s != %s", name, pair[0], pair[1])
		}
	}
	item := got.Items[0]
	if *item.SKU != "00013" || item.Name != "Salgadinho 45g" || *item.Variant != "UN" || item.Qty != 3 || !item.Price.Equal(decimal.RequireFromString("7.90")) {
		t.Fatalf("item snapshot changed: %+v", item)
	}
}

func TestListSalesNewestFirstAndLimited(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.RecordSale(ctx, domain.SaleRequest{
			Payment: "pix",
			Items:   []domain.SaleItemInput{{Name: "Avulso", Qty: 1}},
		}); err != nil {
			t.Fatalf("record sale %d: %v", i, err)
		}
	}

	sales, err := l.ListSales(ctx, 2)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 2 || sales[0].ID != 3 || sales[1].ID != 2 {
		t.Fatalf("expected sales 3,2 got %+v", sales)
	}
}

func TestListClientsOrderedByName(t *testing.T) {
	l, _, _ := newTestLedger(t)

	clients, err := l.ListClients(context.Background(), 0)
	if err != nil {
		t.Fatalf("list clients: %v", err)
	}
	if len(clients) != 2 || clients[0].Name != "Cliente Padrão" || clients[1].Name != "João Silva" {
		t.Fatalf("unexpected clients %+v", clients)
	}
}
