package trackclient

import (
	"testing"
	"time"

	"track-and-trace/internal/models"
)

func TestRemainingCountsDownToZero(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	eta := now.Add(5 * time.Minute)
	order := &models.Order{Status: models.StatusOutForDelivery, EstimatedDeliveryTime: &eta}

	left, ok := Remaining(order, now)
	if !ok || left != 5*time.Minute {
		t.Errorf("Remaining = (%v, %v); want (5m, true)", left, ok)
	}

	left, ok = Remaining(order, now.Add(4*time.Minute+30*time.Second))
	if !ok || left != 30*time.Second {
		t.Errorf("Remaining near estimate = (%v, %v); want (30s, true)", left, ok)
	}

	// Past the estimate the countdown floors at zero rather than going
	// negative while the order is still in flight.
	left, ok = Remaining(order, now.Add(10*time.Minute))
	if !ok || left != 0 {
		t.Errorf("Remaining past estimate = (%v, %v); want (0, true)", left, ok)
	}
}

func TestRemainingStopsInTerminalStates(t *testing.T) {
	now := time.Now()
	eta := now.Add(time.Minute)

	for _, status := range []string{models.StatusDelivered, models.StatusCancelled} {
		order := &models.Order{Status: status, EstimatedDeliveryTime: &eta}
		if _, ok := Remaining(order, now); ok {
			t.Errorf("Remaining for %s order reported a countdown", status)
		}
	}
}

func TestRemainingNeedsAnEstimate(t *testing.T) {
	if _, ok := Remaining(&models.Order{Status: models.StatusPending}, time.Now()); ok {
		t.Error("Remaining without an estimate reported a countdown")
	}
	if _, ok := Remaining(nil, time.Now()); ok {
		t.Error("Remaining for a nil order reported a countdown")
	}
}

func TestToWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"https://shop.example.com": "wss://shop.example.com",
		"http://localhost:8080":    "ws://localhost:8080",
	}
	for in, want := range cases {
		if got := toWebsocketURL(in); got != want {
			t.Errorf("toWebsocketURL(%q) = %q; want %q", in, got, want)
		}
	}
}
