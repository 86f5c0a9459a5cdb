// Package httpapi is the JSON-over-HTTP surface of the storefront.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/AKPAING3147/Foood/internal/auth"
	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/order/service"
	"github.com/AKPAING3147/Foood/internal/payment"
	"github.com/AKPAING3147/Foood/internal/reconcile"
	"github.com/AKPAING3147/Foood/internal/store"
	"github.com/AKPAING3147/Foood/pkg/logging"
	"github.com/AKPAING3147/Foood/pkg/metrics"
)

const (
	svcName         = "storefront-api"
	maxJSONBody     = 1 << 20
	maxWebhookBody  = 64 << 10
	stripeSigHeader = "Stripe-Signature"
)

// EvidenceStore keeps uploaded bank-transfer slips.
type EvidenceStore interface {
	Put(ctx context.Context, orderID domain.OrderID, contentType string, body io.Reader, size int64) (string, error)
}

type Deps struct {
	Store    store.Store
	Orders   *service.Service
	Payments *payment.Manager
	Auth     *auth.Service
	// Webhooks is nil when card payments are not configured.
	Webhooks *reconcile.Handler
	// Evidence is nil when slip uploads are not configured.
	Evidence       EvidenceStore
	Metrics        *metrics.ServerMetrics
	RequestTimeout time.Duration
}

type Server struct {
	Deps
}

func New(d Deps) *Server {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 10 * time.Second
	}
	return &Server{Deps: d}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /health", "health", s.health)
	mux.Handle("GET /metrics", metrics.Handler())

	s.handle(mux, "POST /auth/register", "register", s.register)
	s.handle(mux, "POST /auth/login", "login", s.login(domain.RoleCustomer))
	s.handle(mux, "POST /admin/login", "admin_login", s.login(domain.RoleAdmin))

	s.handle(mux, "GET /products", "list_products", s.listProducts)

	s.handle(mux, "POST /orders", "place_order", s.requireRole(domain.RoleCustomer, s.placeOrder))
	s.handle(mux, "GET /orders", "list_orders", s.requireAuth(s.listOrders))
	s.handle(mux, "GET /orders/{id}", "get_order", s.requireAuth(s.getOrder))
	s.handle(mux, "DELETE /orders/{id}", "cancel_order", s.requireAuth(s.cancelOrder))
	s.handle(mux, "GET /orders/{id}/payment", "get_payment", s.requireAuth(s.getPayment))
	s.handle(mux, "POST /orders/{id}/payment/card", "initiate_card_payment", s.requireAuth(s.initiateCard))
	s.handle(mux, "POST /orders/{id}/payment/bank-evidence", "attach_bank_evidence", s.requireAuth(s.attachBankEvidence))
	s.handle(mux, "POST /orders/{id}/payment/bank-slip", "upload_bank_slip", s.requireAuth(s.uploadBankSlip))

	s.handle(mux, "PUT /admin/orders/{id}/status", "admin_update_status", s.requireRole(domain.RoleAdmin, s.adminUpdateStatus))
	s.handle(mux, "PUT /admin/orders/{id}/payment", "admin_update_payment", s.requireRole(domain.RoleAdmin, s.adminUpdatePayment))

	s.handle(mux, "POST /webhooks/stripe", "stripe_webhook", s.stripeWebhook)
	s.handle(mux, "GET /notifications", "list_notifications", s.requireAuth(s.listNotifications))

	return mux
}

// handle registers h with a request timeout and per-handler metrics.
func (s *Server) handle(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), s.RequestTimeout)
		defer cancel()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r.WithContext(ctx))
		s.Metrics.Observe(name, rec.status, start)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps the error taxonomy onto HTTP. Anything outside it is a 500.
func statusFor(err error) (int, *domain.Error) {
	de, ok := domain.AsError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, &domain.Error{Code: "timeout", Message: "request timed out"}
		}
		return http.StatusInternalServerError, &domain.Error{Code: "internal_error", Message: "internal server error"}
	}
	switch de.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest, de
	case domain.KindNotFound:
		return http.StatusNotFound, de
	case domain.KindConflict:
		return http.StatusConflict, de
	case domain.KindExternal:
		return http.StatusBadGateway, de
	case domain.KindSecurity:
		switch de.Code {
		case domain.ErrForbidden.Code:
			return http.StatusForbidden, de
		case domain.ErrInvalidSignature.Code:
			return http.StatusBadRequest, de
		}
		return http.StatusUnauthorized, de
	}
	return http.StatusInternalServerError, &domain.Error{Code: "internal_error", Message: "internal server error"}
}

// writeError answers with the stable code and message only; the wrapped
// detail goes to the log.
func writeError(w http.ResponseWriter, r *http.Request, step string, err error) {
	code, de := statusFor(err)
	f := logging.Fields{Service: svcName, OrderID: r.PathValue("id"), Step: step, Status: de.Code, Err: err, Message: r.Method + " " + r.URL.Path}
	if p, ok := auth.FromContext(r.Context()); ok {
		f.UserID = p.UserID
	}
	if code < http.StatusInternalServerError && code != http.StatusBadGateway {
		f.Level = logging.LevelWarn
	}
	logging.Log(f)
	writeJSON(w, code, errorBody{Error: de.Code, Message: de.Message})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		return errors.Join(domain.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, r, "auth", auth.ErrUnauthenticated)
			return
		}
		p, err := s.Auth.Parse(token)
		if err != nil {
			writeError(w, r, "auth", err)
			return
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	}
}

func (s *Server) requireRole(role domain.Role, next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.FromContext(r.Context())
		if p.Role != role {
			writeError(w, r, "auth", domain.ErrForbidden)
			return
		}
		next(w, r)
	})
}

func principal(r *http.Request) *auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
