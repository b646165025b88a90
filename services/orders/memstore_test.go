package main

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// memStore é um Repository em memória com locks por linha, usado nos testes do use case.
// Escritas ficam no memTx até o Commit; Rollback descarta e libera os locks.
type memStore struct {
	mu       sync.Mutex
	sweets   map[string]*CatalogItem
	rowLocks map[string]*sync.Mutex
	orders   map[string]Order
	lines    []OrderLine

	clock      time.Time
	seq        int
	nextLineID int64

	failures map[string][]error
	pingErr  error

	// onDecrease roda depois de cada DecreaseStock bem-sucedido
	onDecrease func()

	begins    int
	commits   int
	rollbacks int
}

func newMemStore(clock time.Time) *memStore {
	return &memStore{
		sweets:   map[string]*CatalogItem{},
		rowLocks: map[string]*sync.Mutex{},
		orders:   map[string]Order{},
		clock:    clock,
		failures: map[string][]error{},
	}
}

func (s *memStore) addSweet(id, name, price string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweets[id] = &CatalogItem{
		ID:       id,
		Name:     name,
		Category: "mithai",
		Price:    decimal.RequireFromString(price),
		Quantity: qty,
	}
	s.rowLocks[id] = &sync.Mutex{}
}

func (s *memStore) setPrice(id, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweets[id].Price = decimal.RequireFromString(price)
}

func (s *memStore) rename(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweets[id].Name = name
}

func (s *memStore) removeSweet(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sweets, id)
}

func (s *memStore) stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweets[id].Quantity
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) counters() (begins, commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.commits, s.rollbacks
}

// inject enfileira erros para uma operação; nil deixa a chamada passar
func (s *memStore) inject(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

func (s *memStore) takeFailure(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	s.failures[op] = queue[1:]
	return queue[0]
}

type memTx struct {
	store      *memStore
	locked     []*sync.Mutex
	orders     []Order
	lines      []OrderLine
	decrements map[string]int
	done       bool
}

func (t *memTx) release() {
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].Unlock()
	}
	t.locked = nil
	t.done = true
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("memstore: tx already closed")
	}
	if err := t.store.takeFailure("commit"); err != nil {
		t.store.mu.Lock()
		t.store.rollbacks++
		t.store.mu.Unlock()
		t.release()
		return err
	}

	s := t.store
	s.mu.Lock()
	for id, qty := range t.decrements {
		if item, ok := s.sweets[id]; ok {
			item.Quantity -= qty
		}
	}
	for _, order := range t.orders {
		s.orders[order.ID] = order
	}
	s.lines = append(s.lines, t.lines...)
	s.commits++
	s.mu.Unlock()

	t.release()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.store.mu.Lock()
	t.store.rollbacks++
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (s *memStore) BeginTx(ctx context.Context) (Tx, error) {
	if err := s.takeFailure("begin"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.begins++
	s.mu.Unlock()

	return &memTx{store: s, decrements: map[string]int{}}, nil
}

func (s *memStore) LockItemsForUpdate(ctx context.Context, tx Tx, itemIDs []string) (map[string]*CatalogItem, error) {
	mtx := tx.(*memTx)
	if err := s.takeFailure("lock"); err != nil {
		return nil, err
	}

	ids := append([]string(nil), itemIDs...)
	sort.Strings(ids)

	for _, id := range ids {
		s.mu.Lock()
		lock, ok := s.rowLocks[id]
		s.mu.Unlock()
		if !ok {
			continue
		}
		lock.Lock()
		mtx.locked = append(mtx.locked, lock)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make(map[string]*CatalogItem, len(ids))
	for _, id := range ids {
		if item, ok := s.sweets[id]; ok {
			copied := *item
			items[id] = &copied
		}
	}
	return items, nil
}

func (s *memStore) InsertOrder(ctx context.Context, tx Tx, order *Order) error {
	mtx := tx.(*memTx)
	if err := s.takeFailure("insert_order"); err != nil {
		return err
	}

	s.mu.Lock()
	s.seq++
	order.CreatedAt = s.clock.Add(time.Duration(s.seq) * time.Minute)
	s.mu.Unlock()

	stored := *order
	stored.Items = nil
	mtx.orders = append(mtx.orders, stored)
	return nil
}

func (s *memStore) InsertOrderLine(ctx context.Context, tx Tx, line *OrderLine) error {
	mtx := tx.(*memTx)
	if err := s.takeFailure("insert_line"); err != nil {
		return err
	}

	s.mu.Lock()
	s.nextLineID++
	line.ID = s.nextLineID
	s.mu.Unlock()

	mtx.lines = append(mtx.lines, *line)
	return nil
}

func (s *memStore) DecreaseStock(ctx context.Context, tx Tx, itemID string, qty int) error {
	mtx := tx.(*memTx)
	if err := s.takeFailure("decrease"); err != nil {
		return err
	}

	s.mu.Lock()
	item, ok := s.sweets[itemID]
	if !ok || item.Quantity-mtx.decrements[itemID] < qty {
		s.mu.Unlock()
		return errors.New("memstore: stock guard failed")
	}
	mtx.decrements[itemID] += qty
	hook := s.onDecrease
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (s *memStore) sortedOrders(filter func(Order) bool) []Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := []Order{}
	for _, order := range s.orders {
		if filter(order) {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
	return orders
}

func (s *memStore) ListOrders(ctx context.Context) ([]Order, error) {
	if err := s.takeFailure("list"); err != nil {
		return nil, err
	}
	return s.sortedOrders(func(Order) bool { return true }), nil
}

func (s *memStore) ListOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	if err := s.takeFailure("list"); err != nil {
		return nil, err
	}
	return s.sortedOrders(func(o Order) bool { return o.OwnedBy(userID) }), nil
}

func (s *memStore) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, newOrderNotFoundError(orderID)
	}
	return &order, nil
}

func (s *memStore) GetOrderLines(ctx context.Context, orderID string) ([]OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := []OrderLine{}
	for _, line := range s.lines {
		if line.OrderID != orderID {
			continue
		}
		if item, ok := s.sweets[line.ItemID]; ok {
			line.Name = item.Name
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (s *memStore) GetStatistics(ctx context.Context, topN int, since time.Time) (*Statistics, error) {
	if err := s.takeFailure("stats"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Statistics{Top: []TopItem{}, Daily: []DailyRevenue{}}

	daily := map[string]decimal.Decimal{}
	for _, order := range s.orders {
		stats.TotalRevenue = stats.TotalRevenue.Add(order.TotalAmount)
		stats.TotalOrders++
		if !order.CreatedAt.Before(since) {
			day := order.CreatedAt.UTC().Format(dayLayout)
			daily[day] = daily[day].Add(order.TotalAmount)
		}
	}

	top := map[string]*TopItem{}
	for _, line := range s.lines {
		stats.TotalItems += int64(line.Qty)

		item, ok := top[line.ItemID]
		if !ok {
			name := line.Name
			if sweet, exists := s.sweets[line.ItemID]; exists {
				name = sweet.Name
			}
			item = &TopItem{ID: line.ItemID, Name: &name}
			top[line.ItemID] = item
		}
		item.SoldQty += int64(line.Qty)
		item.Revenue = item.Revenue.Add(line.Subtotal())
	}
	for _, item := range top {
		stats.Top = append(stats.Top, *item)
	}
	sort.Slice(stats.Top, func(i, j int) bool {
		if stats.Top[i].SoldQty != stats.Top[j].SoldQty {
			return stats.Top[i].SoldQty > stats.Top[j].SoldQty
		}
		return stats.Top[i].ID < stats.Top[j].ID
	})
	if len(stats.Top) > topN {
		stats.Top = stats.Top[:topN]
	}

	for day, revenue := range daily {
		stats.Daily = append(stats.Daily, DailyRevenue{Day: day, Revenue: revenue})
	}
	sort.Slice(stats.Daily, func(i, j int) bool { return stats.Daily[i].Day < stats.Daily[j].Day })

	return stats, nil
}

func (s *memStore) Ping(ctx context.Context) error {
	return s.pingErr
}
