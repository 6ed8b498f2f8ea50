package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"resto-backend/internal/models"
)

// fakeOrderStore reproduces the store's compare-and-swap semantics in memory
// so races and replays can be exercised without a database.
type fakeOrderStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*models.Order
	items  map[int64][]models.OrderItem
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		nextID: 1,
		orders: make(map[int64]*models.Order),
		items:  make(map[int64][]models.OrderItem),
	}
}

func (f *fakeOrderStore) CreateOrder(_ context.Context, order *models.Order, items []models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order.ID = f.nextID
	f.nextID++
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	f.orders[order.ID] = &cp
	for i := range items {
		items[i].OrderID = order.ID
	}
	f.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (f *fakeOrderStore) seed(order models.Order, items ...models.OrderItem) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	order.ID = f.nextID
	f.nextID++
	f.orders[order.ID] = &order
	f.items[order.ID] = items
	return order.ID
}

func (f *fakeOrderStore) get(id int64) models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[id]
}

func (f *fakeOrderStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) GetOrdersByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) GetOrders(_ context.Context) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (f *fakeOrderStore) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *fakeOrderStore) ConfirmPayment(_ context.Context, orderID int64, gatewayRef string, paidAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusPending || o.PaymentDone {
		return models.ErrInvalidTransition
	}
	o.Status = models.OrderStatusProcessing
	o.PaymentDone = true
	o.GatewayRef.String = gatewayRef
	o.GatewayRef.Valid = true
	o.PaidAt.Time = paidAt
	o.PaidAt.Valid = true
	return nil
}

func (f *fakeOrderStore) TransitionOrder(_ context.Context, orderID int64, from []string, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	for _, s := range from {
		if o.Status == s {
			o.Status = to
			return nil
		}
	}
	return models.ErrInvalidTransition
}

func (f *fakeOrderStore) MarkPaymentFailed(_ context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusPending {
		return models.ErrInvalidTransition
	}
	o.Status = models.OrderStatusPaymentFailed
	o.PaymentDone = false
	return nil
}

func (f *fakeOrderStore) MarkRefunded(_ context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	refundable := o.PaymentDone &&
		(o.Status == models.OrderStatusProcessing || o.Status == models.OrderStatusOutForDelivery)
	if !refundable {
		return models.ErrInvalidTransition
	}
	o.Status = models.OrderStatusRefunded
	o.PaymentDone = false
	return nil
}

func (f *fakeOrderStore) MarkReceiptFailed(_ context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	o.ReceiptFailed = true
	return nil
}

func (f *fakeOrderStore) SetGatewayRef(_ context.Context, orderID int64, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusPending {
		return models.ErrInvalidTransition
	}
	o.GatewayRef.String = ref
	o.GatewayRef.Valid = true
	return nil
}

// fakePromoStore reproduces the ledger transaction semantics in memory.
type fakePromoStore struct {
	mu          sync.Mutex
	promos      map[string]*models.PromoCode
	redemptions []models.Redemption
	nextID      int64
}

func newFakePromoStore() *fakePromoStore {
	return &fakePromoStore{promos: make(map[string]*models.PromoCode), nextID: 1}
}

func (f *fakePromoStore) seed(promo models.PromoCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promos[promo.Code] = &promo
}

func (f *fakePromoStore) seedRedemption(r models.Redemption) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = f.nextID
	f.nextID++
	f.redemptions = append(f.redemptions, r)
	f.promos[r.Code].UsageCount++
}

func (f *fakePromoStore) state(code string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ledger := 0
	for _, r := range f.redemptions {
		if r.Code == code {
			ledger++
		}
	}
	return f.promos[code].UsageCount, ledger
}

func (f *fakePromoStore) GetPromoByCode(_ context.Context, code string) (*models.PromoCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.promos[code]
	if !ok {
		return nil, models.ErrCodeNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePromoStore) GetPromos(_ context.Context) ([]models.PromoCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PromoCode
	for _, p := range f.promos {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakePromoStore) CreatePromo(_ context.Context, promo *models.PromoCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.promos[promo.Code]; ok {
		return fmt.Errorf("duplicate code %s", promo.Code)
	}
	cp := *promo
	f.promos[promo.Code] = &cp
	return nil
}

func (f *fakePromoStore) UpdatePromo(_ context.Context, promo *models.PromoCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.promos[promo.Code]
	if !ok {
		return models.ErrCodeNotFound
	}
	count := existing.UsageCount
	cp := *promo
	cp.UsageCount = count
	f.promos[promo.Code] = &cp
	return nil
}

func (f *fakePromoStore) TogglePromo(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.promos[code]
	if !ok {
		return false, models.ErrCodeNotFound
	}
	p.Active = !p.Active
	return p.Active, nil
}

func (f *fakePromoStore) DeletePromo(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.promos[code]; !ok {
		return models.ErrCodeNotFound
	}
	delete(f.promos, code)
	return nil
}

func (f *fakePromoStore) CountRedemptionsByUser(_ context.Context, code string, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, r := range f.redemptions {
		if r.Code == code && r.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (f *fakePromoStore) GetRedemptions(_ context.Context, code string) ([]models.Redemption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Redemption
	for _, r := range f.redemptions {
		if r.Code == code {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakePromoStore) CommitRedemption(_ context.Context, r *models.Redemption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.promos[r.Code]
	if !ok {
		return models.ErrCodeNotFound
	}
	for _, existing := range f.redemptions {
		if existing.Code == r.Code && existing.UserID == r.UserID && existing.OrderID == r.OrderID {
			return nil
		}
	}
	if p.UsageLimit > 0 && p.UsageCount >= p.UsageLimit {
		return models.ErrUsageLimitReached
	}
	rec := *r
	rec.ID = f.nextID
	f.nextID++
	f.redemptions = append(f.redemptions, rec)
	p.UsageCount++
	return nil
}

func (f *fakePromoStore) ReverseRedemption(_ context.Context, code string, userID int64, usedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.redemptions {
		if r.Code == code && r.UserID == userID && r.UsedAt.Equal(usedAt) {
			f.redemptions = append(f.redemptions[:i], f.redemptions[i+1:]...)
			if p, ok := f.promos[code]; ok && p.UsageCount > 0 {
				p.UsageCount--
			}
			return true, nil
		}
	}
	return false, nil
}

// fakeSubStore holds subscriptions in memory.
type fakeSubStore struct {
	mu     sync.Mutex
	subs   []models.Subscription
	nextID int64

	lookupErr error
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{nextID: 1}
}

func (f *fakeSubStore) seed(userID int64, endpoint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, models.Subscription{
		ID: f.nextID, UserID: userID, Endpoint: endpoint,
		P256dh: "key", Auth: "auth", LastActive: time.Now(),
	})
	f.nextID++
}

func (f *fakeSubStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSubStore) GetSubscriptionsByUserID(_ context.Context, userID int64) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	var out []models.Subscription
	for _, s := range f.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubStore) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.UserID == sub.UserID && s.Endpoint == sub.Endpoint {
			f.subs[i] = *sub
			return nil
		}
	}
	sub.ID = f.nextID
	f.nextID++
	f.subs = append(f.subs, *sub)
	return nil
}

func (f *fakeSubStore) DeleteSubscription(_ context.Context, userID int64, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.UserID == userID && s.Endpoint == endpoint {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeSubStore) TouchSubscription(_ context.Context, userID int64, endpoint string) error {
	return nil
}

func (f *fakeSubStore) DeleteStaleSubscriptions(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []models.Subscription
	var pruned int64
	for _, s := range f.subs {
		if s.LastActive.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, s)
	}
	f.subs = kept
	return pruned, nil
}

// fakeTransport records deliveries; endpoints in gone fail permanently,
// endpoints in flaky fail transiently.
type fakeTransport struct {
	mu        sync.Mutex
	gone      map[string]bool
	flaky     map[string]bool
	delivered []string
	inFlight  int
	maxSeen   int
	sendDelay time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{gone: make(map[string]bool), flaky: make(map[string]bool)}
}

func (f *fakeTransport) Send(_ context.Context, sub *models.Subscription, _ *PushPayload) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	delay := f.sendDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.gone[sub.Endpoint] {
		return models.ErrSubscriptionGone
	}
	if f.flaky[sub.Endpoint] {
		return fmt.Errorf("push endpoint unavailable")
	}
	f.delivered = append(f.delivered, sub.Endpoint)
	return nil
}

// fakePublisher records published events and can be forced to fail.
type fakePublisher struct {
	mu       sync.Mutex
	statuses []*models.OrderStatusChangedEvent
	receipts []*models.ReceiptRequestedEvent
	fail     bool
}

func (f *fakePublisher) PublishOrderStatusChanged(_ context.Context, event *models.OrderStatusChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("broker unavailable")
	}
	f.statuses = append(f.statuses, event)
	return nil
}

func (f *fakePublisher) PublishReceiptRequested(_ context.Context, event *models.ReceiptRequestedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("broker unavailable")
	}
	f.receipts = append(f.receipts, event)
	return nil
}

func (f *fakePublisher) statusCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.statuses)
}

func (f *fakePublisher) receiptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receipts)
}

// fakeCarts records cart clears and can be forced to fail.
type fakeCarts struct {
	mu      sync.Mutex
	cleared []int64
	fail    bool
}

func (f *fakeCarts) ClearCart(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("redis unavailable")
	}
	f.cleared = append(f.cleared, userID)
	return nil
}

func (f *fakeCarts) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cleared)
}

// fakeCheckout issues deterministic checkout references.
type fakeCheckout struct {
	mu   sync.Mutex
	refs int
}

func (f *fakeCheckout) CreateCheckout(_ context.Context, order *models.Order, _ []models.OrderItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs++
	return fmt.Sprintf("chk_%d_%d", order.ID, f.refs), nil
}
