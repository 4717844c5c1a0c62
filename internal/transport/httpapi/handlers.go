package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/domain"
	"github.com/vladislavdragonenkov/bms/internal/service/checkout"
	"github.com/vladislavdragonenkov/bms/internal/service/ledger"
	"github.com/vladislavdragonenkov/bms/internal/service/payment"
	"github.com/vladislavdragonenkov/bms/internal/service/reconciler"
)

// SignatureHeader — заголовок с HMAC-подписью callback-а платёжного шлюза.
const SignatureHeader = "X-Gateway-Signature"

const defaultListLimit = 50

// Handler реализует HTTP-обработчики API бронирования.
type Handler struct {
	orchestrator *checkout.Orchestrator
	ledger       *ledger.Service
	bridge       *payment.Bridge
	reconciler   *reconciler.Service
	logger       *log.Entry
}

// NewHandler создаёт Handler.
func NewHandler(
	orchestrator *checkout.Orchestrator,
	ledgerSvc *ledger.Service,
	bridge *payment.Bridge,
	reconcilerSvc *reconciler.Service,
	logger *log.Entry,
) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return &Handler{
		orchestrator: orchestrator,
		ledger:       ledgerSvc,
		bridge:       bridge,
		reconciler:   reconcilerSvc,
		logger:       logger,
	}
}

type checkoutRequest struct {
	UserID         string `json:"user_id"`
	SubjectType    string `json:"subject_type"`
	SubjectID      string `json:"subject_id"`
	SlotID         string `json:"slot_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

type reserveSlotRequest struct {
	SlotID string `json:"slot_id"`
}

type orderResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	SubjectType        string     `json:"subject_type"`
	SubjectID          string     `json:"subject_id"`
	SlotID             string     `json:"slot_id,omitempty"`
	Status             string     `json:"status"`
	Currency           string     `json:"currency"`
	AmountMinor        int64      `json:"amount_minor"`
	ExternalPaymentRef string     `json:"external_payment_ref,omitempty"`
	ProviderTxID       string     `json:"provider_tx_id,omitempty"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	FulfilledAt        *time.Time `json:"fulfilled_at,omitempty"`
}

type checkoutResponse struct {
	Order      orderResponse `json:"order"`
	PaymentRef string        `json:"payment_ref,omitempty"`
	ApproveURL string        `json:"approve_url,omitempty"`
}

type reserveSlotResponse struct {
	Order     orderResponse `json:"order"`
	ExpiresAt time.Time     `json:"expires_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toOrderResponse(order domain.Order) orderResponse {
	return orderResponse{
		ID:                 order.ID,
		UserID:             order.UserID,
		SubjectType:        string(order.SubjectType),
		SubjectID:          order.SubjectID,
		SlotID:             order.SlotID,
		Status:             string(order.Status),
		Currency:           order.Currency,
		AmountMinor:        order.AmountMinor,
		ExternalPaymentRef: order.ExternalPaymentRef,
		ProviderTxID:       order.ProviderTxID,
		Version:            order.Version,
		CreatedAt:          order.CreatedAt,
		UpdatedAt:          order.UpdatedAt,
		FulfilledAt:        order.FulfilledAt,
	}
}

// Checkout создаёт заказ и открывает платёжный intent.
func (h *Handler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()

	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	result, err := h.orchestrator.Checkout(ctx, checkout.Request{
		UserID:         req.UserID,
		SubjectType:    domain.SubjectType(req.SubjectType),
		SubjectID:      req.SubjectID,
		SlotID:         req.SlotID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, checkoutResponse{
		Order:      toOrderResponse(result.Order),
		PaymentRef: result.Intent.ExternalRef,
		ApproveURL: result.Intent.ApproveURL,
	})
}

// GetOrder отдаёт заказ по идентификатору.
func (h *Handler) GetOrder(c echo.Context) error {
	order, err := h.ledger.Get(c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

// ListOrders отдаёт заказы пользователя.
func (h *Handler) ListOrders(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "user_id query param is required"})
	}

	orders, err := h.ledger.ListByUser(userID, defaultListLimit)
	if err != nil {
		return h.writeError(c, err)
	}

	response := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		response = append(response, toOrderResponse(order))
	}
	return c.JSON(http.StatusOK, response)
}

// ReserveSlot привязывает слот к существующему заказу и резервирует место.
func (h *Handler) ReserveSlot(c echo.Context) error {
	var req reserveSlotRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.SlotID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "slot_id is required"})
	}

	orderID := c.Param("id")
	expiresAt, err := h.orchestrator.ReserveSlot(orderID, req.SlotID)
	if err != nil {
		return h.writeError(c, err)
	}

	order, err := h.ledger.Get(orderID)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, reserveSlotResponse{
		Order:     toOrderResponse(order),
		ExpiresAt: expiresAt,
	})
}

// CancelOrder отменяет неоплаченный заказ и снимает резерв слота.
func (h *Handler) CancelOrder(c echo.Context) error {
	orderID := c.Param("id")
	if err := h.orchestrator.Cancel(orderID); err != nil {
		return h.writeError(c, err)
	}

	order, err := h.ledger.Get(orderID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

// RefundOrder возвращает средства по исполненному заказу.
func (h *Handler) RefundOrder(c echo.Context) error {
	ctx := c.Request().Context()
	orderID := c.Param("id")

	if err := h.orchestrator.Refund(ctx, orderID); err != nil {
		return h.writeError(c, err)
	}

	order, err := h.ledger.Get(orderID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

// PaymentCallback принимает подписанный webhook платёжного шлюза.
// Тело читается как есть: подпись считается от сырых байт.
func (h *Handler) PaymentCallback(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read body"})
	}

	signature := c.Request().Header.Get(SignatureHeader)
	if err := h.reconciler.HandleCallback(body, signature); err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}

// CapturePayment синхронно подтверждает платёж через шлюз (форма capture-on-confirm).
func (h *Handler) CapturePayment(c echo.Context) error {
	ctx := c.Request().Context()
	orderID := c.Param("id")

	event, err := h.bridge.Capture(ctx, orderID)
	if err != nil {
		return h.writeError(c, err)
	}

	if err := h.reconciler.Apply(event); err != nil {
		return h.writeError(c, err)
	}

	order, err := h.ledger.Get(orderID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *Handler) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		status = http.StatusUnauthorized
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAmountMismatch):
		status = http.StatusUnprocessableEntity
	case domain.IsConflict(err):
		status = http.StatusConflict
	case isValidation(err):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func isValidation(err error) bool {
	return errors.Is(err, domain.ErrUserRequired) ||
		errors.Is(err, domain.ErrSubjectRequired) ||
		errors.Is(err, domain.ErrSubjectTypeInvalid) ||
		errors.Is(err, domain.ErrCurrencyRequired) ||
		errors.Is(err, domain.ErrAmountNegative) ||
		errors.Is(err, domain.ErrIdempotencyKeyRequired) ||
		errors.Is(err, domain.ErrSlotRequired) ||
		errors.Is(err, domain.ErrOrderIDRequired) ||
		errors.Is(err, domain.ErrPaymentEventInvalid)
}
