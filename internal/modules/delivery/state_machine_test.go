package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"track-and-trace/internal/models"
)

// ----------------------------------------------------------------------------
// fakeOrderStore: in-memory order persistence with the same guarded-update
// semantics as the real repository. Timers fire on their own goroutines, so
// every method takes the lock.
// ----------------------------------------------------------------------------
type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	seq    int
	// failNext makes the next ApplyTransition fail with a storage error.
	failNext error
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]*models.Order)}
}

func (f *fakeOrderStore) put(o *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.ID] = &cp
}

func (f *fakeOrderStore) get(id string) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.orders[id]
	return &cp
}

func (f *fakeOrderStore) FindByID(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) ApplyTransition(ctx context.Context, t models.Transition) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	o, ok := f.orders[t.OrderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if o.Status != t.From {
		return nil, models.ErrConflict
	}

	o.Status = t.To
	if t.Agent != nil {
		cp := *t.Agent
		o.AssignedAgent = &cp
	}
	if t.AgentID != nil {
		o.AgentID = *t.AgentID
	}
	if t.ETA != nil {
		eta := *t.ETA
		o.EstimatedDeliveryTime = &eta
	}
	if t.MarkPaid {
		now := time.Now()
		o.IsPaid = true
		o.PaidAt = &now
	}
	if t.MarkDelivered {
		now := time.Now()
		o.IsDelivered = true
		o.DeliveredAt = &now
	}
	if t.NextTransitionAt != nil {
		due := *t.NextTransitionAt
		o.NextTransitionAt = &due
	} else if t.ClearNext {
		o.NextTransitionAt = nil
	}

	f.seq++
	ev := t.Event
	ev.ID = fmt.Sprintf("ev-%d", f.seq)
	ev.CreatedAt = time.Now()
	o.TrackingLog = append(o.TrackingLog, ev)

	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) Cancel(ctx context.Context, orderID string, ev models.TrackingEvent) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if o.Status == models.StatusDelivered || o.Status == models.StatusCancelled {
		return nil, models.ErrOrderNotCancellable
	}
	o.Status = models.StatusCancelled
	o.NextTransitionAt = nil
	f.seq++
	ev.ID = fmt.Sprintf("ev-%d", f.seq)
	ev.CreatedAt = time.Now()
	o.TrackingLog = append(o.TrackingLog, ev)
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) ListScheduled(ctx context.Context) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Order
	for _, o := range f.orders {
		if o.NextTransitionAt == nil {
			continue
		}
		switch o.Status {
		case models.StatusConfirmed, models.StatusPreparing, models.StatusOutForDelivery:
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// fakeAgentStore: in-memory registry with atomic claim semantics.
// ----------------------------------------------------------------------------
type fakeAgentStore struct {
	mu     sync.Mutex
	agents map[string]*models.DeliveryAgent
	// errNext makes the next lookup fail, simulating an unreachable registry.
	errNext error
}

func newFakeAgentStore() *fakeAgentStore {
	return &fakeAgentStore{agents: make(map[string]*models.DeliveryAgent)}
}

func (f *fakeAgentStore) FindBestAvailable(ctx context.Context) (*models.DeliveryAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errNext != nil {
		err := f.errNext
		f.errNext = nil
		return nil, err
	}
	var best *models.DeliveryAgent
	for _, a := range f.agents {
		if !a.IsAvailable {
			continue
		}
		if best == nil || a.TotalDeliveries < best.TotalDeliveries {
			best = a
		}
	}
	if best == nil {
		return nil, models.ErrAgentUnavailable
	}
	cp := *best
	return &cp, nil
}

func (f *fakeAgentStore) MarkAssigned(ctx context.Context, agentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[agentID]
	if !ok || !a.IsAvailable {
		return false, nil
	}
	a.IsAvailable = false
	a.TotalDeliveries++
	return true, nil
}

func (f *fakeAgentStore) MarkAvailable(ctx context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[agentID]
	if !ok {
		return models.ErrNotFound
	}
	a.IsAvailable = true
	return nil
}

// ----------------------------------------------------------------------------
// fakeHub: records every broadcast in arrival order.
// ----------------------------------------------------------------------------
type fakeHub struct {
	mu      sync.Mutex
	updates []models.OrderUpdate
	notes   []models.Notification
}

func (f *fakeHub) NotifyOrderUpdate(orderID string, update models.OrderUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

func (f *fakeHub) NotifyDeliveryStatus(orderID string, update models.OrderUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

func (f *fakeHub) NotifyTopic(topic string, note models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
}

func (f *fakeHub) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.updates))
	for i, u := range f.updates {
		out[i] = u.Status
	}
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func shortTiming() Timing {
	return Timing{
		PreparingDelay:      20 * time.Millisecond,
		OutForDeliveryDelay: 40 * time.Millisecond,
		SLAPrepaid:          60 * time.Millisecond,
		SLACOD:              80 * time.Millisecond,
	}
}

func pendingOrder(id, paymentMethod string) *models.Order {
	return &models.Order{
		ID:            id,
		UserID:        "u1",
		PaymentMethod: paymentMethod,
		Status:        models.StatusPending,
		CreatedAt:     time.Now(),
	}
}

// ----------------------------------------------------------------------------
// Tests
// ----------------------------------------------------------------------------

func TestConfirmRunsFullDeliverySequence(t *testing.T) {
	store := newFakeOrderStore()
	hub := &fakeHub{}
	sm := NewStateMachine(store, NewAssignmentService(newFakeAgentStore()), hub, shortTiming())

	order := pendingOrder("o1", models.PaymentMethodCard)
	store.put(order)

	confirmed, err := sm.Confirm(context.Background(), order, true)
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if confirmed.Status != models.StatusConfirmed {
		t.Errorf("status after Confirm = %s; want Confirmed", confirmed.Status)
	}
	if confirmed.AssignedAgent == nil {
		t.Fatal("Confirm left no assigned agent")
	}
	if !confirmed.IsPaid {
		t.Error("Confirm with paid=true did not mark the order paid")
	}
	if confirmed.EstimatedDeliveryTime == nil {
		t.Fatal("Confirm left no estimated delivery time")
	}

	waitFor(t, 2*time.Second, func() bool {
		return store.get("o1").Status == models.StatusDelivered
	})

	final := store.get("o1")
	if !final.IsDelivered || final.DeliveredAt == nil {
		t.Error("delivered order missing delivered flags")
	}
	if final.NextTransitionAt != nil {
		t.Error("delivered order still has a pending transition")
	}

	// The log must hold every step, in forward order, with no duplicates.
	want := []string{models.StatusConfirmed, models.StatusPreparing, models.StatusOutForDelivery, models.StatusDelivered}
	if len(final.TrackingLog) != len(want) {
		t.Fatalf("tracking log length = %d; want %d", len(final.TrackingLog), len(want))
	}
	for i, ev := range final.TrackingLog {
		if ev.Status != want[i] {
			t.Errorf("tracking log[%d] = %s; want %s", i, ev.Status, want[i])
		}
	}
	for i := 1; i < len(final.TrackingLog); i++ {
		if final.TrackingLog[i].CreatedAt.Before(final.TrackingLog[i-1].CreatedAt) {
			t.Errorf("tracking log[%d] is older than its predecessor", i)
		}
	}

	// One broadcast per persisted transition, same order.
	waitFor(t, time.Second, func() bool { return len(hub.statuses()) == len(want) })
	for i, s := range hub.statuses() {
		if s != want[i] {
			t.Errorf("broadcast[%d] = %s; want %s", i, s, want[i])
		}
	}

	hub.mu.Lock()
	notes := len(hub.notes)
	hub.mu.Unlock()
	if notes != 1 {
		t.Errorf("topic notifications = %d; want 1 (delivered)", notes)
	}
}

func TestStaleTimerIsNoOpAfterCancel(t *testing.T) {
	store := newFakeOrderStore()
	hub := &fakeHub{}
	timing := shortTiming()
	timing.PreparingDelay = time.Hour
	timing.OutForDeliveryDelay = 2 * time.Hour
	sm := NewStateMachine(store, NewAssignmentService(newFakeAgentStore()), hub, timing)

	order := pendingOrder("o1", models.PaymentMethodCard)
	store.put(order)
	if _, err := sm.Confirm(context.Background(), order, true); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if _, err := sm.Cancel(context.Background(), "o1", "changed my mind"); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	broadcasts := len(hub.statuses())

	// Simulate the scheduled transition firing after the cancel won.
	sm.fire(context.Background(), "o1", models.StatusPreparing)

	final := store.get("o1")
	if final.Status != models.StatusCancelled {
		t.Errorf("status = %s; want Cancelled", final.Status)
	}
	if got := len(final.TrackingLog); got != 2 {
		t.Errorf("tracking log length = %d; want 2 (Confirmed, Cancelled)", got)
	}
	if got := len(hub.statuses()); got != broadcasts {
		t.Errorf("stale firing broadcast anyway: %d updates, want %d", got, broadcasts)
	}
}

func TestStorageErrorDropsBroadcast(t *testing.T) {
	store := newFakeOrderStore()
	hub := &fakeHub{}
	sm := NewStateMachine(store, NewAssignmentService(newFakeAgentStore()), hub, Timing{
		PreparingDelay:      time.Hour,
		OutForDeliveryDelay: 2 * time.Hour,
		SLAPrepaid:          3 * time.Hour,
		SLACOD:              4 * time.Hour,
	})

	order := pendingOrder("o1", models.PaymentMethodCard)
	order.Status = models.StatusConfirmed
	store.put(order)

	store.mu.Lock()
	store.failNext = errors.New("connection reset")
	store.mu.Unlock()

	sm.fire(context.Background(), "o1", models.StatusPreparing)

	if got := store.get("o1").Status; got != models.StatusConfirmed {
		t.Errorf("status = %s; want Confirmed (transition dropped)", got)
	}
	if got := len(hub.statuses()); got != 0 {
		t.Errorf("broadcast count = %d; want 0 after a dropped transition", got)
	}
}

func TestCancelReleasesClaimedAgent(t *testing.T) {
	agents := newFakeAgentStore()
	agents.agents["a1"] = &models.DeliveryAgent{ID: "a1", Name: "Ravi", IsAvailable: true}
	store := newFakeOrderStore()
	sm := NewStateMachine(store, NewAssignmentService(agents), &fakeHub{}, Timing{
		PreparingDelay:      time.Hour,
		OutForDeliveryDelay: 2 * time.Hour,
		SLAPrepaid:          3 * time.Hour,
		SLACOD:              4 * time.Hour,
	})

	order := pendingOrder("o1", models.PaymentMethodCard)
	store.put(order)
	if _, err := sm.Confirm(context.Background(), order, true); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if agents.agents["a1"].IsAvailable {
		t.Fatal("agent not claimed by Confirm")
	}

	if _, err := sm.Cancel(context.Background(), "o1", ""); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if !agents.agents["a1"].IsAvailable {
		t.Error("agent not released after cancel")
	}
}

func TestCancelDeliveredOrderFails(t *testing.T) {
	store := newFakeOrderStore()
	sm := NewStateMachine(store, NewAssignmentService(newFakeAgentStore()), &fakeHub{}, shortTiming())

	order := pendingOrder("o1", models.PaymentMethodCOD)
	order.Status = models.StatusDelivered
	store.put(order)

	_, err := sm.Cancel(context.Background(), "o1", "")
	if !errors.Is(err, models.ErrOrderNotCancellable) {
		t.Errorf("Cancel on delivered order = %v; want ErrOrderNotCancellable", err)
	}
}

func TestSLAWindowPerPaymentMethod(t *testing.T) {
	timing := shortTiming()
	sm := NewStateMachine(newFakeOrderStore(), NewAssignmentService(newFakeAgentStore()), &fakeHub{}, timing)

	if got := sm.SLAWindow(models.PaymentMethodCOD); got != timing.SLACOD {
		t.Errorf("SLAWindow(COD) = %v; want %v", got, timing.SLACOD)
	}
	if got := sm.SLAWindow(models.PaymentMethodCard); got != timing.SLAPrepaid {
		t.Errorf("SLAWindow(Card) = %v; want %v", got, timing.SLAPrepaid)
	}
	if got := sm.SLAWindow(models.PaymentMethodRazorpay); got != timing.SLAPrepaid {
		t.Errorf("SLAWindow(Razorpay) = %v; want %v", got, timing.SLAPrepaid)
	}
}

func TestRecoverReArmsOverdueTransition(t *testing.T) {
	store := newFakeOrderStore()
	hub := &fakeHub{}
	sm := NewStateMachine(store, NewAssignmentService(newFakeAgentStore()), hub, Timing{
		PreparingDelay:      time.Hour,
		OutForDeliveryDelay: 2 * time.Hour,
		SLAPrepaid:          3 * time.Hour,
		SLACOD:              4 * time.Hour,
	})

	// A Confirmed order whose transition was due before the restart.
	past := time.Now().Add(-time.Minute)
	order := pendingOrder("o1", models.PaymentMethodCard)
	order.Status = models.StatusConfirmed
	order.NextTransitionAt = &past
	store.put(order)

	if err := sm.Recover(context.Background()); err != nil {
		t.Fatalf("Recover error: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return store.get("o1").Status == models.StatusPreparing
	})
}

func TestRecoverResumesChainToDelivered(t *testing.T) {
	store := newFakeOrderStore()
	hub := &fakeHub{}
	sm := NewStateMachine(store, NewAssignmentService(newFakeAgentStore()), hub, shortTiming())

	// A Confirmed order stranded by a restart, its next transition overdue.
	// One Recover must carry it all the way to Delivered: each recovered
	// firing arms the step after it, not just the first.
	past := time.Now().Add(-time.Minute)
	order := pendingOrder("o1", models.PaymentMethodCard)
	order.Status = models.StatusConfirmed
	order.NextTransitionAt = &past
	store.put(order)

	if err := sm.Recover(context.Background()); err != nil {
		t.Fatalf("Recover error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return store.get("o1").Status == models.StatusDelivered
	})

	final := store.get("o1")
	want := []string{models.StatusPreparing, models.StatusOutForDelivery, models.StatusDelivered}
	if len(final.TrackingLog) != len(want) {
		t.Fatalf("tracking log length = %d; want %d", len(final.TrackingLog), len(want))
	}
	for i, ev := range final.TrackingLog {
		if ev.Status != want[i] {
			t.Errorf("tracking log[%d] = %s; want %s", i, ev.Status, want[i])
		}
	}
	if final.NextTransitionAt != nil {
		t.Error("delivered order still has a pending transition")
	}
}

// etaWithin fails unless got lands inside [anchor+window, anchor+window+tol].
func etaWithin(t *testing.T, label string, got *time.Time, anchor time.Time, window, tol time.Duration) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: no estimated delivery time", label)
	}
	lo := anchor.Add(window)
	hi := time.Now().Add(window).Add(tol)
	if got.Before(lo) || got.After(hi) {
		t.Errorf("%s: estimated delivery time %v outside [%v, %v]", label, got, lo, hi)
	}
}

func TestEstimatedDeliveryTimePerSLA(t *testing.T) {
	timing := Timing{
		PreparingDelay:      20 * time.Millisecond,
		OutForDeliveryDelay: 40 * time.Millisecond,
		SLAPrepaid:          10 * time.Minute,
		SLACOD:              24 * time.Hour,
	}

	// Cash on delivery: the estimate fixed at confirmation is a day out.
	store := newFakeOrderStore()
	sm := NewStateMachine(store, NewAssignmentService(newFakeAgentStore()), &fakeHub{}, timing)
	cod := pendingOrder("cod-1", models.PaymentMethodCOD)
	store.put(cod)
	before := time.Now()
	confirmed, err := sm.Confirm(context.Background(), cod, false)
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	etaWithin(t, "COD at confirmation", confirmed.EstimatedDeliveryTime, before, timing.SLACOD, time.Second)

	// Prepaid: confirmed with the tight window, then re-anchored to
	// dispatch time when the order goes out for delivery.
	prepaid := pendingOrder("card-1", models.PaymentMethodCard)
	store.put(prepaid)
	before = time.Now()
	confirmed, err = sm.Confirm(context.Background(), prepaid, true)
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	etaWithin(t, "prepaid at confirmation", confirmed.EstimatedDeliveryTime, before, timing.SLAPrepaid, time.Second)

	waitFor(t, 2*time.Second, func() bool {
		return store.get("card-1").Status == models.StatusOutForDelivery
	})
	dispatched := store.get("card-1")
	etaWithin(t, "prepaid at dispatch", dispatched.EstimatedDeliveryTime, before.Add(timing.OutForDeliveryDelay), timing.SLAPrepaid, time.Second)
	if !dispatched.EstimatedDeliveryTime.After(*confirmed.EstimatedDeliveryTime) {
		t.Error("dispatch did not re-anchor the estimated delivery time forward")
	}
}
