package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bms/internal/domain"
	"github.com/vladislavdragonenkov/bms/internal/health"
	"github.com/vladislavdragonenkov/bms/internal/service/allocator"
	"github.com/vladislavdragonenkov/bms/internal/service/checkout"
	"github.com/vladislavdragonenkov/bms/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/bms/internal/service/ledger"
	"github.com/vladislavdragonenkov/bms/internal/service/payment"
	"github.com/vladislavdragonenkov/bms/internal/service/reconciler"
	"github.com/vladislavdragonenkov/bms/internal/storage/memory"
)

const testSecret = "test-webhook-secret"

type testServer struct {
	server   *Server
	ledger   *ledger.Service
	verifier *reconciler.Verifier
	gateway  *payment.MockGateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	orders := memory.NewOrderRepository()
	catalog := memory.NewCatalogRepository()
	catalog.SeedCourse(domain.Course{ID: "course-go", Title: "Go с нуля", Currency: "RUB", AmountMinor: 990000})
	catalog.SeedConsultation(domain.Consultation{ID: "cons-1", Title: "Консультация", Currency: "RUB", AmountMinor: 350000})

	slots := memory.NewSlotRepository()
	slots.Seed(domain.TimeSlot{
		ID:             "slot-1",
		ConsultationID: "cons-1",
		StartAt:        time.Now().Add(time.Hour),
		EndAt:          time.Now().Add(2 * time.Hour),
		Capacity:       1,
		Status:         domain.SlotStatusOpen,
	})

	gateway := payment.NewMockGateway()
	ledgerSvc := ledger.NewService(orders, catalog, nil)
	allocatorSvc := allocator.NewService(slots, time.Minute, nil)
	bridge := payment.NewBridge(gateway, ledgerSvc, nil)
	dispatcher := fulfillment.NewDispatcher(ledgerSvc, memory.NewEnrollmentRepository(), allocatorSvc, memory.NewOutboxRepository(), nil)
	orchestrator := checkout.NewOrchestrator(ledgerSvc, allocatorSvc, bridge, dispatcher, nil, nil)

	verifier := reconciler.NewVerifier(testSecret)
	reconcilerSvc := reconciler.NewService(verifier, ledgerSvc, allocatorSvc, dispatcher, nil, nil)

	healthHandler := health.NewHandler("test")

	return &testServer{
		server:   NewServer(orchestrator, ledgerSvc, bridge, reconcilerSvc, healthHandler, nil),
		ledger:   ledgerSvc,
		verifier: verifier,
		gateway:  gateway,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoContentType, "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.server.Echo().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func (ts *testServer) checkout(t *testing.T, body string) checkoutResponse {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/v1/checkout", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func courseCheckoutBody(key string) string {
	return fmt.Sprintf(`{"user_id":"user-1","subject_type":"course","subject_id":"course-go","idempotency_key":%q}`, key)
}

func TestCheckoutEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.checkout(t, courseCheckoutBody("key-1"))

	assert.Equal(t, "awaiting_payment", resp.Order.Status)
	assert.NotEmpty(t, resp.PaymentRef)
	assert.NotEmpty(t, resp.ApproveURL)
}

func TestCheckoutEndpointIdempotent(t *testing.T) {
	ts := newTestServer(t)

	first := ts.checkout(t, courseCheckoutBody("key-1"))
	second := ts.checkout(t, courseCheckoutBody("key-1"))

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.PaymentRef, second.PaymentRef)
}

func TestCheckoutEndpointValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/checkout",
		`{"user_id":"user-1","subject_type":"course","subject_id":"course-go"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutEndpointUnknownSubject(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/checkout",
		`{"user_id":"user-1","subject_type":"course","subject_id":"missing","idempotency_key":"key-1"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)

	created := ts.checkout(t, courseCheckoutBody("key-1"))

	rec := ts.do(t, http.MethodGet, "/api/v1/orders/"+created.Order.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var order orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, created.Order.ID, order.ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/orders/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrdersEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.checkout(t, courseCheckoutBody("key-1"))

	rec := ts.do(t, http.MethodGet, "/api/v1/orders?user_id=user-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var orders []orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentCallbackEndpoint(t *testing.T) {
	ts := newTestServer(t)

	created := ts.checkout(t, courseCheckoutBody("key-1"))

	payload := fmt.Sprintf(
		`{"outcome":"success","external_ref":%q,"provider_tx_id":"tx-1","amount_minor":990000,"currency":"RUB"}`,
		created.PaymentRef,
	)
	rec := ts.do(t, http.MethodPost, "/api/v1/payments/callback", payload, map[string]string{
		SignatureHeader: ts.verifier.Sign([]byte(payload)),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	order, err := ts.ledger.Get(created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFulfilled, order.Status)
}

func TestPaymentCallbackEndpointRejectsBadSignature(t *testing.T) {
	ts := newTestServer(t)

	created := ts.checkout(t, courseCheckoutBody("key-1"))

	payload := fmt.Sprintf(
		`{"outcome":"success","external_ref":%q,"provider_tx_id":"tx-1","amount_minor":990000,"currency":"RUB"}`,
		created.PaymentRef,
	)
	rec := ts.do(t, http.MethodPost, "/api/v1/payments/callback", payload, map[string]string{
		SignatureHeader: "deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	order, err := ts.ledger.Get(created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, order.Status)
}

func TestPaymentCallbackEndpointUnknownRef(t *testing.T) {
	ts := newTestServer(t)

	payload := `{"outcome":"success","external_ref":"ref-missing","provider_tx_id":"tx-1","amount_minor":990000,"currency":"RUB"}`
	rec := ts.do(t, http.MethodPost, "/api/v1/payments/callback", payload, map[string]string{
		SignatureHeader: ts.verifier.Sign([]byte(payload)),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCapturePaymentEndpoint(t *testing.T) {
	ts := newTestServer(t)

	created := ts.checkout(t, courseCheckoutBody("key-1"))

	rec := ts.do(t, http.MethodPost, "/api/v1/payments/"+created.Order.ID+"/capture", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var order orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, string(domain.OrderStatusFulfilled), order.Status)
}

func TestReserveSlotEndpoint(t *testing.T) {
	ts := newTestServer(t)

	created := ts.checkout(t, `{"user_id":"user-1","subject_type":"consultation","subject_id":"cons-1","slot_id":"slot-1","idempotency_key":"key-c1"}`)
	require.Equal(t, "slot-1", created.Order.SlotID)

	// Слот ёмкостью 1 занят первым заказом: второй заказ без слота
	// не сможет привязать тот же слот.
	second := ts.checkout(t, `{"user_id":"user-2","subject_type":"course","subject_id":"course-go","idempotency_key":"key-c2"}`)

	rec := ts.do(t, http.MethodPost, "/api/v1/orders/"+second.Order.ID+"/slot", `{"slot_id":"slot-1"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/orders/"+second.Order.ID+"/slot", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)

	created := ts.checkout(t, courseCheckoutBody("key-1"))

	rec := ts.do(t, http.MethodPost, "/api/v1/orders/"+created.Order.ID+"/cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var order orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, string(domain.OrderStatusCancelled), order.Status)
}

func TestRefundOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)

	created := ts.checkout(t, courseCheckoutBody("key-1"))

	// Оплата через синхронный capture доводит заказ до fulfilled.
	rec := ts.do(t, http.MethodPost, "/api/v1/payments/"+created.Order.ID+"/capture", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/orders/"+created.Order.ID+"/refund", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var order orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, string(domain.OrderStatusRefunded), order.Status)
}

func TestRefundEndpointRequiresFulfilled(t *testing.T) {
	ts := newTestServer(t)

	created := ts.checkout(t, courseCheckoutBody("key-1"))

	rec := ts.do(t, http.MethodPost, "/api/v1/orders/"+created.Order.ID+"/refund", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/livez", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
