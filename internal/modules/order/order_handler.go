package order

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"track-and-trace/internal/middlewares"
	"track-and-trace/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Handler handles HTTP requests for orders.
type Handler struct {
	svc      ServiceInterface
	validate *validator.Validate // For request body validation
}

// NewHandler creates a new order handler.
func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// userIDFrom pulls the authenticated user id set by the auth middleware.
// A token that verifies but carries no subject claim leaves it unset.
func userIDFrom(c echo.Context) (string, bool) {
	userID, ok := c.Get("userID").(string)
	return userID, ok && userID != ""
}

// RegisterRoutes mounts the authenticated order routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/orders", h.CreateOrder)
	g.GET("/orders", h.ListMyOrders)
	g.GET("/orders/:orderId", h.GetOrderDetails)
	g.GET("/orders/:orderId/status", h.GetOrderStatus)
	g.DELETE("/orders/:orderId", h.CancelOrder)
	g.POST("/orders/:orderId/pay", h.CreatePaymentIntent)
	g.POST("/orders/:orderId/confirm", h.ConfirmOrder)
}

func (h *Handler) CreateOrder(c echo.Context) error {
	userID, ok := userIDFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Missing user identity"})
	}

	var req models.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	order, err := h.svc.CreateOrder(c.Request().Context(), userID, req)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Product not found"})
		}
		if errors.Is(err, models.ErrInsufficientStock) {
			return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Insufficient stock for one or more items"})
		}
		c.Logger().Error("Handler.CreateOrder: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to create order"})
	}

	middlewares.RecordOrderOperation("create")
	return c.JSON(http.StatusCreated, order)
}

func (h *Handler) ListMyOrders(c echo.Context) error {
	userID, ok := userIDFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Missing user identity"})
	}

	// Extract pagination parameters
	page := 1
	limit := 10
	if pageStr := c.QueryParam("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	orders, total, err := h.svc.ListUserOrders(c.Request().Context(), userID, page, limit)
	if err != nil {
		c.Logger().Error("Handler.ListMyOrders: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to retrieve orders"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"orders": orders, "total": total})
}

// GetOrderDetails returns the full order snapshot, tracking log included.
// The tracking page polls this endpoint to reconcile missed push updates.
func (h *Handler) GetOrderDetails(c echo.Context) error {
	userID, ok := userIDFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Missing user identity"})
	}

	orderID := c.Param("orderId")

	order, err := h.svc.GetOrder(c.Request().Context(), orderID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Order not found"})
		}
		c.Logger().Error("Handler.GetOrderDetails: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to retrieve order details"})
	}

	return c.JSON(http.StatusOK, order)
}

func (h *Handler) CancelOrder(c echo.Context) error {
	userID, ok := userIDFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Missing user identity"})
	}

	orderID := c.Param("orderId")

	order, err := h.svc.CancelOrder(c.Request().Context(), orderID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Order not found"})
		}
		if errors.Is(err, models.ErrOrderNotCancellable) {
			return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Order can no longer be cancelled"})
		}
		c.Logger().Error("Handler.CancelOrder: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to cancel order"})
	}

	middlewares.RecordOrderOperation("cancel")
	return c.JSON(http.StatusOK, order)
}

// CreatePaymentIntent starts online payment for a pending order.
func (h *Handler) CreatePaymentIntent(c echo.Context) error {
	userID, ok := userIDFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Missing user identity"})
	}

	orderID := c.Param("orderId")

	intent, err := h.svc.CreatePaymentIntent(c.Request().Context(), userID, orderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Order not found"})
		}
		if errors.Is(err, models.ErrOrderNotPayable) {
			return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Order is not awaiting payment"})
		}
		c.Logger().Error("Handler.CreatePaymentIntent: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to start payment"})
	}

	return c.JSON(http.StatusOK, intent)
}

// GetOrderStatus returns the lightweight tracking view.
func (h *Handler) GetOrderStatus(c echo.Context) error {
	userID, ok := userIDFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Missing user identity"})
	}

	orderID := c.Param("orderId")

	status, err := h.svc.GetOrderStatus(c.Request().Context(), orderID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Order not found"})
		}
		c.Logger().Error("Handler.GetOrderStatus: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to retrieve order status"})
	}

	return c.JSON(http.StatusOK, status)
}

// ConfirmOrder is the direct payment-verified trigger, used when the client
// completes payment and confirms from its own session rather than waiting
// for the gateway webhook.
func (h *Handler) ConfirmOrder(c echo.Context) error {
	userID, ok := userIDFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Missing user identity"})
	}

	orderID := c.Param("orderId")

	order, err := h.svc.ConfirmOrderPayment(c.Request().Context(), orderID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Order not found"})
		}
		if errors.Is(err, models.ErrOrderNotPayable) {
			return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Order is not awaiting payment"})
		}
		c.Logger().Error("Handler.ConfirmOrder: ", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to confirm order"})
	}

	middlewares.RecordOrderOperation("paid")
	return c.JSON(http.StatusOK, order)
}

// HandlePaymentWebhook receives the gateway's payment confirmation. It is
// mounted outside the authenticated group; the signature is the auth.
func (h *Handler) HandlePaymentWebhook(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Unreadable payload"})
	}
	signature := c.Request().Header.Get("Stripe-Signature")

	order, err := h.svc.HandlePaymentWebhook(c.Request().Context(), payload, signature)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Order not found"})
		}
		if errors.Is(err, models.ErrOrderNotPayable) {
			// Webhook retries for an already confirmed order are expected.
			return c.NoContent(http.StatusOK)
		}
		c.Logger().Error("Handler.HandlePaymentWebhook: ", err)
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Webhook verification failed"})
	}

	middlewares.RecordOrderOperation("paid")
	return c.JSON(http.StatusOK, map[string]interface{}{"received": true, "order_id": order.ID})
}
