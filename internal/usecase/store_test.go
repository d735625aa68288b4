package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

// テスト用のインメモリ永続化。WithinTxはエラー時にスナップショットへ戻す。
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products    map[int64]model.Product
	orders      map[int64]model.Order
	items       map[int64][]model.OrderItem
	attempts    map[int64]model.CheckoutAttempt
	outbox      []model.OutboxMessage
	audits      []model.AuditLog
	adjustments []model.InventoryAdjustment
	nextID      int64

	// 障害注入
	failOrderCreate error
	failAttemptOps  error
}

func newMemStore(products ...model.Product) *memStore {
	s := &memStore{
		products: map[int64]model.Product{},
		orders:   map[int64]model.Order{},
		items:    map[int64][]model.OrderItem{},
		attempts: map[int64]model.CheckoutAttempt{},
		nextID:   1000,
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

type memSnapshot struct {
	products    map[int64]model.Product
	orders      map[int64]model.Order
	items       map[int64][]model.OrderItem
	attempts    map[int64]model.CheckoutAttempt
	outbox      []model.OutboxMessage
	audits      []model.AuditLog
	adjustments []model.InventoryAdjustment
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		products:    map[int64]model.Product{},
		orders:      map[int64]model.Order{},
		items:       map[int64][]model.OrderItem{},
		attempts:    map[int64]model.CheckoutAttempt{},
		outbox:      append([]model.OutboxMessage(nil), s.outbox...),
		audits:      append([]model.AuditLog(nil), s.audits...),
		adjustments: append([]model.InventoryAdjustment(nil), s.adjustments...),
	}
	for k, v := range s.products {
		snap.products[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.items {
		snap.items[k] = append([]model.OrderItem(nil), v...)
	}
	for k, v := range s.attempts {
		snap.attempts[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = snap.products
	s.orders = snap.orders
	s.items = snap.items
	s.attempts = snap.attempts
	s.outbox = snap.outbox
	s.audits = snap.audits
	s.adjustments = snap.adjustments
}

func (s *memStore) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(memRepos{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) product(id int64) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) outboxMessages() []model.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OutboxMessage(nil), s.outbox...)
}

func (s *memStore) attemptList() []model.CheckoutAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CheckoutAttempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		out = append(out, a)
	}
	return out
}

type memRepos struct{ s *memStore }

func (r memRepos) Orders() repo.OrderRepository                     { return memOrders{r.s} }
func (r memRepos) OrderItems() repo.OrderItemRepository             { return memOrderItems{r.s} }
func (r memRepos) Inventory() repo.InventoryRepository              { return memInventory{r.s} }
func (r memRepos) Products() repo.ProductRepository                 { return memProducts{r.s} }
func (r memRepos) AuditLogs() repo.AuditLogRepository               { return memAudit{r.s} }
func (r memRepos) CheckoutAttempts() repo.CheckoutAttemptRepository { return memAttempts{r.s} }
func (r memRepos) Outbox() repo.OutboxRepository                    { return memOutbox{r.s} }

// products

type memProducts struct{ s *memStore }

func (m memProducts) ListPublic(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []model.Product
	for _, p := range m.s.products {
		if p.IsActive && !p.DeletedAt.Valid {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m memProducts) FindByID(ctx context.Context, id int64) (model.Product, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.products[id]
	if !ok || p.DeletedAt.Valid {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (m memProducts) FindByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := map[int64]model.Product{}
	for _, id := range ids {
		if p, ok := m.s.products[id]; ok && !p.DeletedAt.Valid {
			out[id] = p
		}
	}
	return out, nil
}

func (m memProducts) Create(ctx context.Context, p model.Product) (model.Product, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p.ID = m.s.id()
	m.s.products[p.ID] = p
	return p, nil
}

func (m memProducts) Update(ctx context.Context, p model.Product) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.products[p.ID]
	if !ok || cur.DeletedAt.Valid {
		return repo.ErrNotFound
	}
	cur.Name, cur.Description, cur.Price, cur.IsActive = p.Name, p.Description, p.Price, p.IsActive
	m.s.products[p.ID] = cur
	return nil
}

func (m memProducts) SoftDelete(ctx context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.products[id]
	if !ok || cur.DeletedAt.Valid {
		return repo.ErrNotFound
	}
	cur.DeletedAt.Time, cur.DeletedAt.Valid = time.Now(), true
	m.s.products[id] = cur
	return nil
}

// inventory

type memInventory struct{ s *memStore }

func (m memInventory) SetStock(ctx context.Context, productID int64, newStock int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.products[productID]
	if !ok || p.DeletedAt.Valid {
		return repo.ErrNotFound
	}
	p.Stock = newStock
	m.s.products[productID] = p
	return nil
}

func (m memInventory) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.products[productID]
	if !ok || p.DeletedAt.Valid || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	p.Sold += qty
	m.s.products[productID] = p
	return true, nil
}

// 削除済みでも戻す
func (m memInventory) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.products[productID]
	if !ok {
		return repo.ErrNotFound
	}
	p.Stock += qty
	p.Sold -= qty
	if p.Sold < 0 {
		p.Sold = 0
	}
	m.s.products[productID] = p
	return nil
}

func (m memInventory) CreateAdjustment(ctx context.Context, a model.InventoryAdjustment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.adjustments = append(m.s.adjustments, a)
	return nil
}

// orders

type memOrders struct{ s *memStore }

func (m memOrders) FindByID(ctx context.Context, id int64) (model.Order, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.orders[id]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (m memOrders) FindByIDForUpdate(ctx context.Context, id int64) (model.Order, error) {
	return m.FindByID(ctx, id)
}

func (m memOrders) ListByBuyerID(ctx context.Context, buyerID int64, page int, limit int) ([]model.Order, int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []model.Order
	for _, o := range m.s.orders {
		if o.BuyerID == buyerID {
			o.Payment = model.PaymentResult{}
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, page, limit), int64(len(out)), nil
}

func (m memOrders) Create(ctx context.Context, o model.Order) (model.Order, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.failOrderCreate != nil {
		return model.Order{}, m.s.failOrderCreate
	}
	o.ID = m.s.id()
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	m.s.orders[o.ID] = o
	return o, nil
}

func (m memOrders) UpdateStatus(ctx context.Context, id int64, status model.OrderStatus) (model.Order, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.orders[id]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	m.s.orders[id] = o
	return o, nil
}

func (m memOrders) FindByIdempotencyKey(ctx context.Context, buyerID int64, key string) (model.Order, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, o := range m.s.orders {
		if o.BuyerID == buyerID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (m memOrders) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []model.Order
	for _, o := range m.s.orders {
		if f.Status != "" && string(o.Status) != f.Status {
			continue
		}
		if f.BuyerID != nil && o.BuyerID != *f.BuyerID {
			continue
		}
		o.Payment = model.PaymentResult{}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Sort == repo.OrderSortOldest {
			return out[i].ID < out[j].ID
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Page, f.Limit), int64(len(out)), nil
}

func paginate(orders []model.Order, page int, limit int) []model.Order {
	start := (page - 1) * limit
	if start >= len(orders) {
		return []model.Order{}
	}
	end := start + limit
	if end > len(orders) {
		end = len(orders)
	}
	return orders[start:end]
}

type memOrderItems struct{ s *memStore }

func (m memOrderItems) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, it := range items {
		it.ID = m.s.id()
		it.OrderID = orderID
		m.s.items[orderID] = append(m.s.items[orderID], it)
	}
	return nil
}

func (m memOrderItems) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]model.OrderItem(nil), m.s.items[orderID]...), nil
}

// audit / outbox

type memAudit struct{ s *memStore }

func (m memAudit) Create(ctx context.Context, l model.AuditLog) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	l.ID = m.s.id()
	m.s.audits = append(m.s.audits, l)
	return nil
}

func (m memAudit) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []model.AuditLog
	for _, l := range m.s.audits {
		if f.Action != nil && l.Action != *f.Action {
			continue
		}
		out = append(out, l)
	}
	return out, int64(len(out)), nil
}

type memOutbox struct{ s *memStore }

func (m memOutbox) Create(ctx context.Context, msg model.OutboxMessage) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.outbox = append(m.s.outbox, msg)
	return nil
}

func (m memOutbox) ListUnsent(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []model.OutboxMessage
	for _, msg := range m.s.outbox {
		if msg.SentAt == nil && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m memOutbox) MarkSent(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := range m.s.outbox {
		if m.s.outbox[i].ID == id {
			t := at
			m.s.outbox[i].SentAt = &t
			return nil
		}
	}
	return repo.ErrNotFound
}

// checkout attempts

type memAttempts struct{ s *memStore }

func (m memAttempts) Create(ctx context.Context, a model.CheckoutAttempt) (model.CheckoutAttempt, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.failAttemptOps != nil {
		return model.CheckoutAttempt{}, m.s.failAttemptOps
	}
	for _, cur := range m.s.attempts {
		if cur.BuyerID == a.BuyerID && cur.Key == a.Key {
			return model.CheckoutAttempt{}, repo.ErrDuplicate
		}
	}
	a.ID = m.s.id()
	m.s.attempts[a.ID] = a
	return a, nil
}

func (m memAttempts) FindByBuyerAndKey(ctx context.Context, buyerID int64, key string) (model.CheckoutAttempt, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, cur := range m.s.attempts {
		if cur.BuyerID == buyerID && cur.Key == key {
			return cur, nil
		}
	}
	return model.CheckoutAttempt{}, repo.ErrNotFound
}

func (m memAttempts) Complete(ctx context.Context, attemptID int64, orderID int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.attempts[attemptID]
	if !ok || a.Status != model.CheckoutAttemptPending {
		return repo.ErrNotFound
	}
	a.Status = model.CheckoutAttemptCompleted
	a.OrderID = &orderID
	m.s.attempts[attemptID] = a
	return nil
}

func (m memAttempts) Delete(ctx context.Context, attemptID int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.attempts[attemptID]
	if !ok || a.Status != model.CheckoutAttemptPending {
		return nil
	}
	delete(m.s.attempts, attemptID)
	return nil
}

func (m memAttempts) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.CheckoutAttempt, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.failAttemptOps != nil {
		return nil, m.s.failAttemptOps
	}
	var out []model.CheckoutAttempt
	for _, a := range m.s.attempts {
		if a.Status == model.CheckoutAttemptPending && a.FlaggedAt == nil && a.UpdatedAt.Before(before) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memAttempts) MarkFlagged(ctx context.Context, attemptID int64, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.attempts[attemptID]
	if !ok || a.Status != model.CheckoutAttemptPending {
		return repo.ErrNotFound
	}
	a.FlaggedAt = &at
	m.s.attempts[attemptID] = a
	return nil
}

// 滞留したPENDINGを作る
func (s *memStore) seedAttempt(buyerID int64, key string, updatedAt time.Time) model.CheckoutAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := model.CheckoutAttempt{
		ID:        s.id(),
		BuyerID:   buyerID,
		Key:       key,
		Status:    model.CheckoutAttemptPending,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	s.attempts[a.ID] = a
	return a
}
