package order

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

// stubService satisfies ServiceInterface without behavior; handlers that
// reject a request before reaching the service never touch it.
type stubService struct {
	ServiceInterface
}

func TestHandlersRejectMissingUserIdentity(t *testing.T) {
	// A token can verify yet carry no subject claim, in which case the auth
	// middleware sets no user id. Handlers must answer 401, not panic.
	h := NewHandler(stubService{})
	e := echo.New()

	calls := []struct {
		name    string
		method  string
		handler echo.HandlerFunc
	}{
		{"CreateOrder", http.MethodPost, h.CreateOrder},
		{"ListMyOrders", http.MethodGet, h.ListMyOrders},
		{"GetOrderDetails", http.MethodGet, h.GetOrderDetails},
		{"GetOrderStatus", http.MethodGet, h.GetOrderStatus},
		{"CancelOrder", http.MethodDelete, h.CancelOrder},
		{"CreatePaymentIntent", http.MethodPost, h.CreatePaymentIntent},
		{"ConfirmOrder", http.MethodPost, h.ConfirmOrder},
	}

	for _, tc := range calls {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("orderId")
			c.SetParamValues("o1")

			if err := tc.handler(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d; want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestHandlersRejectEmptyUserIdentity(t *testing.T) {
	h := NewHandler(stubService{})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("userID", "")
	c.SetParamNames("orderId")
	c.SetParamValues("o1")

	if err := h.GetOrderDetails(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusUnauthorized)
	}
}
