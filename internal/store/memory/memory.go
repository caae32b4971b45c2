package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

type state struct {
	products map[int64]domain.Product
	variants map[int64]domain.ProductVariant
	sales    []domain.Sale
	clients  []domain.Client
	users    map[int64]domain.User

	nextProductID int64
	nextVariantID int64
	nextSaleID    int64
	nextItemID    int64
	nextClientID  int64
	nextUserID    int64
}

func newState() *state {
	return &state{
		products: make(map[int64]domain.Product),
		variants: make(map[int64]domain.ProductVariant),
		users:    make(map[int64]domain.User),
	}
}

// clone copies every container. Stored structs are replaced wholesale on
// update, never mutated in place, so sharing their pointer fields is safe.
func (s *state) clone() *state {
	out := *s
	out.products = make(map[int64]domain.Product, len(s.products))
	for id, p := range s.products {
		out.products[id] = p
	}
	out.variants = make(map[int64]domain.ProductVariant, len(s.variants))
	for id, v := range s.variants {
		out.variants[id] = v
	}
	out.users = make(map[int64]domain.User, len(s.users))
	for id, u := range s.users {
		out.users[id] = u
	}
	out.sales = slices.Clone(s.sales)
	out.clients = slices.Clone(s.clients)
	return &out
}

// Store keeps everything in process memory. Units of work are serialized by a
// single mutex and applied to a copy that replaces the live state only when
// the callback succeeds.
type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{state: newState()}
}

// NewSeeded returns a store holding the demo catalog and clients. An admin
// account is added only when adminPassword is non-empty, so a fresh dev
// server still accepts bootstrap registration.
func NewSeeded(ctx context.Context, adminPassword string) (*Store, error) {
	s := New()
	if err := store.Seed(ctx, s, adminPassword); err != nil {
		return nil, fmt.Errorf("seed memory store: %w", err)
	}
	return s, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Close() error {
	return nil
}

type tx struct {
	st *state
}

func (t *tx) sortedProducts() []domain.Product {
	out := make([]domain.Product, 0, len(t.st.products))
	for _, p := range t.st.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (t *tx) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *tx) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	for _, p := range t.sortedProducts() {
		if p.SKU == sku {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) SearchProduct(_ context.Context, query string) (*domain.Product, error) {
	for _, p := range t.sortedProducts() {
		if matchesQuery(p, query) {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) ListProducts(_ context.Context, filter store.ProductFilter) ([]domain.Product, int, error) {
	all := t.sortedProducts()
	slices.Reverse(all)

	matched := make([]domain.Product, 0, len(all))
	for _, p := range all {
		if filter.Query == "" || matchesQuery(p, filter.Query) {
			matched = append(matched, p)
		}
	}

	total := len(matched)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return slices.Clone(matched[start:end]), total, nil
}

func (t *tx) FindProductBySKUAndName(_ context.Context, sku string, name string, excludeID int64) (*domain.Product, error) {
	for _, p := range t.sortedProducts() {
		if p.ID == excludeID {
			continue
		}
		if strings.EqualFold(p.SKU, sku) && strings.EqualFold(p.Name, name) {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if _, err := t.FindProductBySKUAndName(ctx, product.SKU, product.Name, 0); err == nil {
		return nil, store.ErrConflict
	}
	t.st.nextProductID++
	product.ID = t.st.nextProductID
	product.Variants = nil
	t.st.products[product.ID] = product
	created := product
	return &created, nil
}

func (t *tx) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if _, ok := t.st.products[product.ID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, err := t.FindProductBySKUAndName(ctx, product.SKU, product.Name, product.ID); err == nil {
		return nil, store.ErrConflict
	}
	product.Variants = nil
	t.st.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (t *tx) DeleteProduct(_ context.Context, id int64) error {
	if _, ok := t.st.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.products, id)
	for vid, v := range t.st.variants {
		if v.ProductID == id {
			delete(t.st.variants, vid)
		}
	}
	return nil
}

func (t *tx) ListVariants(_ context.Context, productID int64) ([]domain.ProductVariant, error) {
	out := make([]domain.ProductVariant, 0, 4)
	for _, v := range t.st.variants {
		if v.ProductID == productID {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b domain.ProductVariant) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) CountVariants(ctx context.Context, productID int64) (int, error) {
	variants, err := t.ListVariants(ctx, productID)
	if err != nil {
		return 0, err
	}
	return len(variants), nil
}

func (t *tx) GetVariant(ctx context.Context, productID int64, label string) (*domain.ProductVariant, error) {
	variants, err := t.ListVariants(ctx, productID)
	if err != nil {
		return nil, err
	}
	for _, v := range variants {
		if v.Variant == label {
			return &v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) CreateVariant(ctx context.Context, variant domain.ProductVariant) (*domain.ProductVariant, error) {
	if _, ok := t.st.products[variant.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	if existing, err := t.GetVariant(ctx, variant.ProductID, variant.Variant); err == nil {
		return existing, nil
	}
	t.st.nextVariantID++
	variant.ID = t.st.nextVariantID
	t.st.variants[variant.ID] = variant
	created := variant
	return &created, nil
}

func (t *tx) UpdateVariant(_ context.Context, variant domain.ProductVariant) (*domain.ProductVariant, error) {
	current, ok := t.st.variants[variant.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	current.Stock = variant.Stock
	current.MinStock = variant.MinStock
	current.Price = variant.Price
	current.ImageURL = variant.ImageURL
	t.st.variants[current.ID] = current
	return &current, nil
}

func (t *tx) AdjustVariantStock(_ context.Context, variantID int64, delta int) error {
	v, ok := t.st.variants[variantID]
	if !ok {
		return store.ErrNotFound
	}
	v.Stock += delta
	t.st.variants[variantID] = v
	return nil
}

func (t *tx) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	t.st.nextSaleID++
	sale.ID = t.st.nextSaleID
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now()
	}

	items := make([]domain.SaleItem, len(sale.Items))
	for i, item := range sale.Items {
		t.st.nextItemID++
		item.ID = t.st.nextItemID
		item.SaleID = sale.ID
		items[i] = item
	}
	sale.Items = items

	t.st.sales = append(t.st.sales, sale)
	created := sale
	return &created, nil
}

func (t *tx) newestSales() []domain.Sale {
	out := slices.Clone(t.st.sales)
	slices.SortFunc(out, func(a, b domain.Sale) int {
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

func (t *tx) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	sales := t.newestSales()
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (t *tx) salesBetween(from time.Time, to time.Time) []domain.Sale {
	out := make([]domain.Sale, 0, 16)
	for _, sale := range t.newestSales() {
		if sale.CreatedAt.Before(from) || sale.CreatedAt.After(to) {
			continue
		}
		out = append(out, sale)
	}
	return out
}

func (t *tx) ListSalesBetween(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	sales := t.salesBetween(from, to)
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (t *tx) SalesTotals(_ context.Context, from time.Time, to time.Time) (domain.SalesTotals, error) {
	totals := domain.SalesTotals{Revenue: decimal.Zero}
	for _, sale := range t.salesBetween(from, to) {
		totals.Orders++
		totals.Revenue = totals.Revenue.Add(sale.Total)
	}
	return totals, nil
}

func (t *tx) TopProducts(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error) {
	byName := make(map[string]*domain.TopProduct)
	for _, sale := range t.salesBetween(from, to) {
		for _, item := range sale.Items {
			agg, ok := byName[item.Name]
			if !ok {
				agg = &domain.TopProduct{Name: item.Name, Revenue: decimal.Zero}
				byName[item.Name] = agg
			}
			agg.Qty += int64(item.Qty)
			agg.Revenue = agg.Revenue.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Qty))))
		}
	}

	out := make([]domain.TopProduct, 0, len(byName))
	for _, agg := range byName {
		out = append(out, *agg)
	}
	slices.SortFunc(out, func(a, b domain.TopProduct) int {
		if a.Qty != b.Qty {
			return cmp.Compare(b.Qty, a.Qty)
		}
		return strings.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) ListClients(_ context.Context, limit int) ([]domain.Client, error) {
	out := slices.Clone(t.st.clients)
	slices.SortFunc(out, func(a, b domain.Client) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) CreateClient(_ context.Context, name string) (*domain.Client, error) {
	for _, c := range t.st.clients {
		if c.Name == name {
			return nil, store.ErrConflict
		}
	}
	t.st.nextClientID++
	client := domain.Client{ID: t.st.nextClientID, Name: name}
	t.st.clients = append(t.st.clients, client)
	return &client, nil
}

// LockUsers is a no-op: units of work already run one at a time.
func (t *tx) LockUsers(_ context.Context) error {
	return nil
}

func (t *tx) CountUsers(_ context.Context) (int, error) {
	return len(t.st.users), nil
}

func (t *tx) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (t *tx) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	for _, u := range t.st.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) ListUsers(_ context.Context) ([]domain.User, error) {
	out := make([]domain.User, 0, len(t.st.users))
	for _, u := range t.st.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.User) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) usernameTaken(username string, excludeID int64) bool {
	for _, u := range t.st.users {
		if u.ID != excludeID && u.Username == username {
			return true
		}
	}
	return false
}

func (t *tx) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	if t.usernameTaken(user.Username, 0) {
		return nil, store.ErrConflict
	}
	t.st.nextUserID++
	user.ID = t.st.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	t.st.users[user.ID] = user
	created := user
	return &created, nil
}

func (t *tx) UpdateUser(_ context.Context, user domain.User) (*domain.User, error) {
	current, ok := t.st.users[user.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.usernameTaken(user.Username, user.ID) {
		return nil, store.ErrConflict
	}
	user.CreatedAt = current.CreatedAt
	t.st.users[user.ID] = user
	updated := user
	return &updated, nil
}

func (t *tx) DeleteUser(_ context.Context, id int64) error {
	if _, ok := t.st.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.users, id)
	return nil
}

func matchesQuery(p domain.Product, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(p.SKU), q) || strings.Contains(strings.ToLower(p.Name), q)
}
