package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/AKPAING3147/Foood/internal/auth"
	"github.com/AKPAING3147/Foood/internal/evidence"
	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/order/service"
	"github.com/AKPAING3147/Foood/pkg/idempotency"
)

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, "register", err)
		return
	}
	u, err := s.Auth.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, "register", err)
		return
	}
	token, err := s.Auth.Issue(u)
	if err != nil {
		writeError(w, r, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "user": u})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(role domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in loginRequest
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, r, "login", err)
			return
		}
		token, u, err := s.Auth.Login(r.Context(), role, in.Email, in.Password)
		if err != nil {
			writeError(w, r, "login", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": u})
	}
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.Store.ListProducts(r.Context(), r.URL.Query().Get("category_id"))
	if err != nil {
		writeError(w, r, "list_products", err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var in service.PlaceOrderInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, "place_order", err)
		return
	}
	in.UserID = principal(r).UserID
	in.IdempotencyKey = idempotency.Key(r)
	if !idempotency.Valid(in.IdempotencyKey) {
		writeError(w, r, "place_order", fmt.Errorf("%w: %s longer than %d characters", domain.ErrInvalidInput, idempotency.Header, idempotency.MaxKeyLength))
		return
	}

	res, err := s.Orders.PlaceOrder(r.Context(), in)
	if err != nil {
		if res == nil || res.Order == nil {
			writeError(w, r, "place_order", err)
			return
		}
		// The order is stored; only payment initiation failed. The client
		// retries payment against the returned order id.
		code, de := statusFor(err)
		writeJSON(w, code, map[string]any{"error": de.Code, "message": de.Message, "order": res.Order})
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{"order": res.Order, "payment": res.Payment, "replayed": res.Replayed})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	q := r.URL.Query()
	f := domain.OrderFilter{UserID: p.UserID, Status: domain.OrderStatus(strings.ToUpper(q.Get("status")))}
	if p.IsAdmin() {
		f.UserID = q.Get("user_id")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, "list_orders", fmt.Errorf("%w: limit %q", domain.ErrInvalidInput, v))
			return
		}
		f.Limit = n
	}
	orders, err := s.Orders.ListOrders(r.Context(), f)
	if err != nil {
		writeError(w, r, "list_orders", err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ownedOrder loads the path's order for its owner or an admin. Other
// customers get not-found so order ids cannot be probed.
func (s *Server) ownedOrder(r *http.Request) (*domain.Order, error) {
	id := domain.OrderID(r.PathValue("id"))
	o, err := s.Orders.GetOrder(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if p := principal(r); !p.IsAdmin() && o.UserID != p.UserID {
		return nil, fmt.Errorf("%w: %s not owned by caller", domain.ErrOrderNotFound, id)
	}
	return o, nil
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.ownedOrder(r)
	if err != nil {
		writeError(w, r, "get_order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.ownedOrder(r)
	if err != nil {
		writeError(w, r, "cancel_order", err)
		return
	}
	o, err = s.Orders.CancelOrder(r.Context(), o.ID)
	if err != nil {
		writeError(w, r, "cancel_order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	o, err := s.ownedOrder(r)
	if err != nil {
		writeError(w, r, "get_payment", err)
		return
	}
	p, err := s.Payments.Get(r.Context(), o.ID)
	if err != nil {
		writeError(w, r, "get_payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": p})
}

func (s *Server) initiateCard(w http.ResponseWriter, r *http.Request) {
	o, err := s.ownedOrder(r)
	if err != nil {
		writeError(w, r, "initiate_card_payment", err)
		return
	}
	out, err := s.Payments.InitiateCardPayment(r.Context(), o.ID)
	if err != nil {
		writeError(w, r, "initiate_card_payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": out})
}

type bankEvidenceRequest struct {
	EvidenceURL       string  `json:"evidence_url"`
	BankAccountNumber *string `json:"bank_account_number,omitempty"`
	BankAccountName   *string `json:"bank_account_name,omitempty"`
}

func (s *Server) attachBankEvidence(w http.ResponseWriter, r *http.Request) {
	o, err := s.ownedOrder(r)
	if err != nil {
		writeError(w, r, "attach_bank_evidence", err)
		return
	}
	var in bankEvidenceRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, "attach_bank_evidence", err)
		return
	}
	p, err := s.Payments.AttachBankEvidence(r.Context(), o.ID, in.EvidenceURL, in.BankAccountNumber, in.BankAccountName)
	if err != nil {
		writeError(w, r, "attach_bank_evidence", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": p})
}

func optionalForm(r *http.Request, key string) *string {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return nil
	}
	return &v
}

// uploadBankSlip stores a multipart "slip" file and records its URL as the
// order's transfer evidence.
func (s *Server) uploadBankSlip(w http.ResponseWriter, r *http.Request) {
	if s.Evidence == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "evidence_storage_disabled", Message: "slip uploads are not configured"})
		return
	}
	o, err := s.ownedOrder(r)
	if err != nil {
		writeError(w, r, "upload_bank_slip", err)
		return
	}
	if o.PaymentMethod != domain.PaymentMethodBankTransfer {
		writeError(w, r, "upload_bank_slip", fmt.Errorf("%w: order %s is paid by %s", domain.ErrPaymentMethodMismatch, o.ID, o.PaymentMethod))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, evidence.MaxSize+(1<<20))
	if err := r.ParseMultipartForm(evidence.MaxSize); err != nil {
		writeError(w, r, "upload_bank_slip", errors.Join(domain.ErrInvalidEvidence, err))
		return
	}
	file, hdr, err := r.FormFile("slip")
	if err != nil {
		writeError(w, r, "upload_bank_slip", fmt.Errorf("%w: slip file is required", domain.ErrMissingFields))
		return
	}
	defer file.Close()

	url, err := s.Evidence.Put(r.Context(), o.ID, hdr.Header.Get("Content-Type"), file, hdr.Size)
	if err != nil {
		writeError(w, r, "upload_bank_slip", err)
		return
	}
	p, err := s.Payments.AttachBankEvidence(r.Context(), o.ID, url, optionalForm(r, "bank_account_number"), optionalForm(r, "bank_account_name"))
	if err != nil {
		writeError(w, r, "upload_bank_slip", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": p})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var in statusRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, "admin_update_status", err)
		return
	}
	o, err := s.Orders.UpdateOrderStatus(r.Context(), domain.OrderID(r.PathValue("id")), domain.OrderStatus(strings.ToUpper(in.Status)))
	if err != nil {
		writeError(w, r, "admin_update_status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (s *Server) adminUpdatePayment(w http.ResponseWriter, r *http.Request) {
	var in statusRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, "admin_update_payment", err)
		return
	}
	p, err := s.Payments.SetStatus(r.Context(), domain.OrderID(r.PathValue("id")), domain.PaymentStatus(strings.ToUpper(in.Status)))
	if err != nil {
		writeError(w, r, "admin_update_payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": p})
}

// stripeWebhook acknowledges with 200 whenever the event needs no retry.
// A 5xx asks Stripe to deliver it again.
func (s *Server) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.Webhooks == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "card_payments_disabled", Message: "card payments are not configured"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, "stripe_webhook", errors.Join(domain.ErrInvalidInput, err))
		return
	}
	res, err := s.Webhooks.Handle(r.Context(), body, r.Header.Get(stripeSigHeader))
	if err != nil {
		writeError(w, r, "stripe_webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "result": res})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	list, err := s.Store.ListNotifications(r.Context(), principal(r).UserID, limit)
	if err != nil {
		writeError(w, r, "list_notifications", err)
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}
