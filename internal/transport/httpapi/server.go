package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bms/internal/health"
	"github.com/vladislavdragonenkov/bms/internal/service/checkout"
	"github.com/vladislavdragonenkov/bms/internal/service/ledger"
	"github.com/vladislavdragonenkov/bms/internal/service/payment"
	"github.com/vladislavdragonenkov/bms/internal/service/reconciler"
)

// Server — HTTP-фасад сервиса бронирования поверх echo.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// NewServer создаёт сервер и регистрирует маршруты.
func NewServer(
	orchestrator *checkout.Orchestrator,
	ledgerSvc *ledger.Service,
	bridge *payment.Bridge,
	reconcilerSvc *reconciler.Service,
	healthHandler *health.Handler,
	logger *log.Entry,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	if logger == nil {
		logger = log.WithField("component", "http")
	}

	s := &Server{
		echo:    e,
		handler: NewHandler(orchestrator, ledgerSvc, bridge, reconcilerSvc, logger),
	}

	s.setupRoutes(healthHandler)
	return s
}

func (s *Server) setupRoutes(healthHandler *health.Handler) {
	if healthHandler != nil {
		s.echo.GET("/healthz", echo.WrapHandler(healthHandler))
		s.echo.GET("/readyz", echo.WrapHandler(http.HandlerFunc(healthHandler.ReadinessHandler)))
	}
	s.echo.GET("/livez", echo.WrapHandler(http.HandlerFunc(health.LivenessHandler)))

	api := s.echo.Group("/api/v1")

	api.POST("/checkout", s.handler.Checkout)

	api.GET("/orders/:id", s.handler.GetOrder)
	api.GET("/orders", s.handler.ListOrders)
	api.POST("/orders/:id/slot", s.handler.ReserveSlot)
	api.POST("/orders/:id/cancel", s.handler.CancelOrder)
	api.POST("/orders/:id/refund", s.handler.RefundOrder)

	api.POST("/payments/callback", s.handler.PaymentCallback)
	api.POST("/payments/:id/capture", s.handler.CapturePayment)
}

// Echo отдаёт внутренний echo instance (используется в тестах).
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start запускает HTTP listener.
func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

// Shutdown останавливает сервер с учётом ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
