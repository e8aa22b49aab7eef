// Package trackclient implements the consumer side of order tracking: a
// realtime subscription for push updates, a fixed-interval poll of the order
// endpoint to reconcile anything the push path missed, and a once-a-second
// delivery countdown derived from the estimated delivery time.
package trackclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"track-and-trace/internal/models"

	"github.com/gorilla/websocket"
)

const (
	defaultPollInterval = 30 * time.Second
	countdownTick       = time.Second

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Options tune the tracker. Zero values take the defaults above.
type Options struct {
	PollInterval time.Duration
	HTTPClient   *http.Client
	Dialer       *websocket.Dialer
}

// Tracker follows one order. Updates carries every accepted snapshot, push
// or poll sourced; Countdown ticks the remaining delivery window. After
// Close, Done is closed and no further values are sent.
type Tracker struct {
	baseURL string
	orderID string
	token   string

	poll   time.Duration
	http   *http.Client
	dialer *websocket.Dialer

	mu      sync.Mutex
	current *models.Order
	conn    *websocket.Conn

	updates   chan *models.Order
	countdown chan time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a tracker for the order. baseURL is the API origin, e.g.
// "https://shop.example.com"; token may be empty for guest tracking.
func New(baseURL, orderID, token string, opts Options) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Tracker{
		baseURL:   strings.TrimRight(baseURL, "/"),
		orderID:   orderID,
		token:     token,
		poll:      opts.PollInterval,
		http:      opts.HTTPClient,
		dialer:    opts.Dialer,
		updates:   make(chan *models.Order, 8),
		countdown: make(chan time.Duration, 1),
		done:      make(chan struct{}),
	}
}

// Updates delivers order snapshots as they are accepted.
func (t *Tracker) Updates() <-chan *models.Order { return t.updates }

// Countdown delivers the remaining delivery window once a second while the
// order is in flight.
func (t *Tracker) Countdown() <-chan time.Duration { return t.countdown }

// Done is closed once the tracker has shut down.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Start fetches the initial snapshot and launches the subscription, poll,
// and countdown loops.
func (t *Tracker) Start(ctx context.Context) error {
	order, err := t.fetch(ctx)
	if err != nil {
		return fmt.Errorf("trackclient: initial fetch: %w", err)
	}
	t.accept(order)

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	go t.subscribeLoop(runCtx)
	go t.pollLoop(runCtx)
	go t.countdownLoop(runCtx)
	return nil
}

// Close tears down the connection and all timers. Safe to call more than
// once; idempotent on all paths.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.mu.Lock()
		if t.conn != nil {
			t.conn.Close()
		}
		t.mu.Unlock()
		close(t.done)
	})
}

// subscribeLoop keeps a realtime subscription alive, reconnecting with
// exponential backoff. A lost connection only degrades freshness; the poll
// loop still converges on the durable state.
func (t *Tracker) subscribeLoop(ctx context.Context) {
	backoff := reconnectBase
	for ctx.Err() == nil {
		if err := t.subscribeOnce(ctx); err != nil && ctx.Err() == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectBase
	}
}

func (t *Tracker) subscribeOnce(ctx context.Context) error {
	wsURL := toWebsocketURL(t.baseURL) + "/ws"
	if t.token != "" {
		wsURL += "?token=" + t.token
	}

	conn, _, err := t.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	defer func() {
		conn.Close()
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
	}()

	if err := conn.WriteJSON(models.ClientMessage{Type: models.MsgTrackOrder, OrderID: t.orderID}); err != nil {
		return err
	}

	for {
		var msg models.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type != models.MsgOrderUpdate && msg.Type != models.MsgDeliveryStatusUpdate {
			continue
		}
		if msg.Order == nil {
			continue
		}
		if msg.Order.OrderID != t.orderID {
			continue
		}
		if msg.Order.Snapshot != nil {
			t.accept(msg.Order.Snapshot)
		}
	}
}

// pollLoop reconciles against the durable state on a fixed interval, so a
// missed push is corrected within one period.
func (t *Tracker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			order, err := t.fetch(ctx)
			if err != nil {
				continue
			}
			t.accept(order)
		}
	}
}

func (t *Tracker) countdownLoop(ctx context.Context) {
	ticker := time.NewTicker(countdownTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.mu.Lock()
			order := t.current
			t.mu.Unlock()
			left, ok := Remaining(order, now)
			if !ok {
				continue
			}
			// Keep only the freshest value; a stalled reader gets the
			// latest countdown, not a backlog.
			select {
			case t.countdown <- left:
			default:
				select {
				case <-t.countdown:
				default:
				}
				select {
				case t.countdown <- left:
				default:
				}
			}
		}
	}
}

// Remaining computes the delivery countdown for an order at the given time.
// It reports false when the order carries no estimate or is already in a
// terminal state. The countdown floors at zero once the estimate passes.
func Remaining(order *models.Order, now time.Time) (time.Duration, bool) {
	if order == nil || order.EstimatedDeliveryTime == nil {
		return 0, false
	}
	switch order.Status {
	case models.StatusDelivered, models.StatusCancelled:
		return 0, false
	}
	left := order.EstimatedDeliveryTime.Sub(now)
	if left < 0 {
		left = 0
	}
	return left, true
}

// accept replaces the tracked snapshot wholesale. The server's snapshot is
// authoritative; merging fields piecemeal could mix two states.
func (t *Tracker) accept(order *models.Order) {
	t.mu.Lock()
	t.current = order
	t.mu.Unlock()
	select {
	case <-t.done:
	case t.updates <- order:
	default:
	}
}

// Current returns the last accepted snapshot.
func (t *Tracker) Current() *models.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tracker) fetch(ctx context.Context) (*models.Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/api/orders/"+t.orderID, nil)
	if err != nil {
		return nil, err
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var order models.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, err
	}
	return &order, nil
}

func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
