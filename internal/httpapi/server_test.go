package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/AKPAING3147/Foood/internal/auth"
	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/order/service"
	"github.com/AKPAING3147/Foood/internal/payment"
	"github.com/AKPAING3147/Foood/internal/reconcile"
	"github.com/AKPAING3147/Foood/internal/store/memstore"
	"github.com/AKPAING3147/Foood/pkg/idempotency"
	"github.com/AKPAING3147/Foood/pkg/metrics"
)

type fakeProcessor struct{ calls int }

func (f *fakeProcessor) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	f.calls++
	return &payment.Intent{ID: "pi_" + req.OrderID, ClientSecret: "pi_" + req.OrderID + "_secret"}, nil
}

// stubVerifier accepts the signature "ok" and parses "id|type|intent" bodies.
type stubVerifier struct{}

func (stubVerifier) Verify(payload []byte, signature string) (*reconcile.Event, error) {
	if signature != "ok" {
		return nil, errors.New("bad signature")
	}
	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 {
		return nil, errors.New("malformed")
	}
	return &reconcile.Event{ID: parts[0], Type: parts[1], IntentID: parts[2]}, nil
}

type fakeEvidence struct{ puts int }

func (f *fakeEvidence) Put(_ context.Context, orderID domain.OrderID, contentType string, _ io.Reader, _ int64) (string, error) {
	f.puts++
	if contentType != "image/png" {
		return "", domain.ErrInvalidEvidence
	}
	return "https://slips.example.com/" + string(orderID) + ".png", nil
}

type harness struct {
	t        *testing.T
	store    *memstore.Store
	srv      *httptest.Server
	evidence *fakeEvidence
	admin    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := memstore.New()
	s.AddProduct(domain.Product{ID: "burger", Name: "Burger", Price: decimal.RequireFromString("9.99"), Available: true})
	s.AddProduct(domain.Product{ID: "fries", Name: "Fries", Price: decimal.RequireFromString("4.50"), Available: true})

	sm := metrics.NewServerMetrics("test", prometheus.NewRegistry())
	bank := payment.BankAccount{BankName: "KBZ", AccountName: "Foood Shop", AccountNumber: "0011-2233"}
	pm := payment.NewManager(s, &fakeProcessor{}, payment.Config{Bank: bank}, payment.WithMetrics(sm))
	authSvc := auth.NewService(s, "0123456789abcdef0123", 0, auth.WithBcryptCost(bcrypt.MinCost))
	ev := &fakeEvidence{}

	api := New(Deps{
		Store:    s,
		Orders:   service.New(s, pm),
		Payments: pm,
		Auth:     authSvc,
		Webhooks: reconcile.NewHandler(stubVerifier{}, s, pm, sm),
		Evidence: ev,
		Metrics:  sm,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	_, err := authSvc.SeedAdmin(context.Background(), "admin@foood.test", "admin-password", "Admin")
	require.NoError(t, err)

	h := &harness{t: t, store: s, srv: srv, evidence: ev}
	var login struct{ Token string }
	h.do(http.MethodPost, "/admin/login", "", map[string]string{"email": "admin@foood.test", "password": "admin-password"}, http.StatusOK, &login)
	h.admin = login.Token
	return h
}

func (h *harness) do(method, path, token string, body any, wantStatus int, out any, headers ...string) {
	h.t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(h.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	h.send(req, wantStatus, out)
}

func (h *harness) send(req *http.Request, wantStatus int, out any) {
	h.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	require.Equal(h.t, wantStatus, resp.StatusCode, string(raw))
	if out != nil {
		require.NoError(h.t, json.Unmarshal(raw, out), string(raw))
	}
}

func (h *harness) customer(email string) string {
	h.t.Helper()
	var reg struct{ Token string }
	h.do(http.MethodPost, "/auth/register", "", map[string]string{"email": email, "password": "hunter2hunter2", "name": "Pat"}, http.StatusCreated, &reg)
	return reg.Token
}

type placeResponse struct {
	Order    domain.Order     `json:"order"`
	Payment  *payment.Outcome `json:"payment"`
	Replayed bool             `json:"replayed"`
	Error    string           `json:"error"`
}

func cartBody(method domain.PaymentMethod) map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"product_id": "burger", "quantity": 2},
			{"product_id": "fries", "quantity": 1},
		},
		"payment_method":   method,
		"delivery_address": "12 Main St",
		"phone":            "555-0100",
	}
}

func TestHealthAndProducts(t *testing.T) {
	h := newHarness(t)
	var health map[string]string
	h.do(http.MethodGet, "/health", "", nil, http.StatusOK, &health)
	assert.Equal(t, "ok", health["status"])

	var out struct{ Products []domain.Product }
	h.do(http.MethodGet, "/products", "", nil, http.StatusOK, &out)
	assert.Len(t, out.Products, 2)
}

func TestPlaceOrder_RequiresCustomer(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodPost, "/orders", "", cartBody(domain.PaymentMethodCOD), http.StatusUnauthorized, nil)
	h.do(http.MethodPost, "/orders", "not-a-token", cartBody(domain.PaymentMethodCOD), http.StatusUnauthorized, nil)
	h.do(http.MethodPost, "/orders", h.admin, cartBody(domain.PaymentMethodCOD), http.StatusForbidden, nil)
}

func TestPlaceOrder_CashOnDeliveryLifecycle(t *testing.T) {
	h := newHarness(t)
	tok := h.customer("pat@foood.test")

	var placed placeResponse
	h.do(http.MethodPost, "/orders", tok, cartBody(domain.PaymentMethodCOD), http.StatusCreated, &placed)
	assert.Equal(t, "24.48", placed.Order.TotalAmount.StringFixed(2))
	assert.Equal(t, payment.ActionNone, placed.Payment.Action)
	id := string(placed.Order.ID)

	var errBody errorBody
	h.do(http.MethodGet, "/orders/"+id+"/payment", tok, nil, http.StatusNotFound, &errBody)
	assert.Equal(t, domain.ErrPaymentNotFound.Code, errBody.Error)

	for _, status := range []string{"confirmed", "delivered"} {
		h.do(http.MethodPut, "/admin/orders/"+id+"/status", h.admin, map[string]string{"status": status}, http.StatusOK, nil)
	}
	var got struct{ Order domain.Order }
	h.do(http.MethodGet, "/orders/"+id, tok, nil, http.StatusOK, &got)
	assert.Equal(t, domain.OrderStatusDelivered, got.Order.Status)
	assert.Equal(t, domain.PaymentStatusCompleted, got.Order.PaymentStatus)

	h.do(http.MethodDelete, "/orders/"+id, tok, nil, http.StatusConflict, &errBody)
	assert.Equal(t, domain.ErrInvalidTransition.Code, errBody.Error)
}

func TestPlaceOrder_ValidationErrors(t *testing.T) {
	h := newHarness(t)
	tok := h.customer("pat@foood.test")

	var errBody errorBody
	h.do(http.MethodPost, "/orders", tok, "{not json", http.StatusBadRequest, &errBody)
	assert.Equal(t, domain.ErrInvalidInput.Code, errBody.Error)

	h.do(http.MethodPost, "/orders", tok, cartBody("BITCOIN"), http.StatusBadRequest, &errBody)
	assert.Equal(t, domain.ErrInvalidPaymentMode.Code, errBody.Error)

	body := cartBody(domain.PaymentMethodCOD)
	body["items"] = []map[string]any{{"product_id": "nope", "quantity": 1}}
	h.do(http.MethodPost, "/orders", tok, body, http.StatusNotFound, nil)

	h.do(http.MethodPost, "/orders", tok, cartBody(domain.PaymentMethodCOD), http.StatusBadRequest, nil,
		idempotency.Header, strings.Repeat("k", idempotency.MaxKeyLength+1))
	assert.Zero(t, h.store.OrderCount())
}

func TestPlaceOrder_IdempotencyKeyReplays(t *testing.T) {
	h := newHarness(t)
	tok := h.customer("pat@foood.test")

	var first, second placeResponse
	h.do(http.MethodPost, "/orders", tok, cartBody(domain.PaymentMethodCard), http.StatusCreated, &first, idempotency.Header, "cart-42")
	h.do(http.MethodPost, "/orders", tok, cartBody(domain.PaymentMethodCard), http.StatusOK, &second, idempotency.Header, "cart-42")

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.Payment.ClientSecret, second.Payment.ClientSecret)
	assert.Equal(t, 1, h.store.OrderCount())
	assert.Equal(t, 1, h.store.PaymentCount())
}

func TestPlaceOrder_IdempotencyKeyReusedIsConflict(t *testing.T) {
	h := newHarness(t)
	tok := h.customer("pat@foood.test")

	h.do(http.MethodPost, "/orders", tok, cartBody(domain.PaymentMethodCOD), http.StatusCreated, nil, idempotency.Header, "cart-43")
	other := cartBody(domain.PaymentMethodCOD)
	other["delivery_address"] = "99 Side St"
	var out placeResponse
	h.do(http.MethodPost, "/orders", tok, other, http.StatusConflict, &out, idempotency.Header, "cart-43")

	assert.Equal(t, "idempotency_key_reused", out.Error)
	assert.Equal(t, 1, h.store.OrderCount())
}

func TestCardPayment_WebhookConfirmsOrder(t *testing.T) {
	h := newHarness(t)
	tok := h.customer("pat@foood.test")

	var placed placeResponse
	h.do(http.MethodPost, "/orders", tok, cartBody(domain.PaymentMethodCard), http.StatusCreated, &placed)
	require.Equal(t, payment.ActionConfirmCard, placed.Payment.Action)
	intent := placed.Payment.PaymentIntentID
	require.NotEmpty(t, intent)

	h.do(http.MethodPost, "/webhooks/stripe", "", "evt_1|payment_intent.succeeded|"+intent, http.StatusBadRequest, nil, stripeSigHeader, "forged")

	var ack struct {
		Received bool             `json:"received"`
		Result   reconcile.Result `json:"result"`
	}
	h.do(http.MethodPost, "/webhooks/stripe", "", "evt_1|payment_intent.succeeded|"+intent, http.StatusOK, &ack, stripeSigHeader, "ok")
	assert.Equal(t, reconcile.ResultApplied, ack.Result)
	h.do(http.MethodPost, "/webhooks/stripe", "", "evt_1|payment_intent.succeeded|"+intent, http.StatusOK, &ack, stripeSigHeader, "ok")
	assert.Equal(t, reconcile.ResultDuplicate, ack.Result)

	var got struct{ Order domain.Order }
	h.do(http.MethodGet, "/orders/"+string(placed.Order.ID), tok, nil, http.StatusOK, &got)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Order.Status)
	assert.Equal(t, domain.PaymentStatusCompleted, got.Order.PaymentStatus)

	h.do(http.MethodPost, "/orders/"+string(placed.Order.ID)+"/payment/card", tok, nil, http.StatusConflict, nil)
}

func TestOrders_HiddenFromOtherCustomers(t *testing.T) {
	h := newHarness(t)
	owner := h.customer("pat@foood.test")
	other := h.customer("sam@foood.test")

	var placed placeResponse
	h.do(http.MethodPost, "/orders", owner, cartBody(domain.PaymentMethodCOD), http.StatusCreated, &placed)
	id := string(placed.Order.ID)

	h.do(http.MethodGet, "/orders/"+id, other, nil, http.StatusNotFound, nil)
	h.do(http.MethodDelete, "/orders/"+id, other, nil, http.StatusNotFound, nil)
	h.do(http.MethodGet, "/orders/"+id, h.admin, nil, http.StatusOK, nil)

	var mine, theirs struct{ Orders []domain.Order }
	h.do(http.MethodGet, "/orders", owner, nil, http.StatusOK, &mine)
	h.do(http.MethodGet, "/orders", other, nil, http.StatusOK, &theirs)
	assert.Len(t, mine.Orders, 1)
	assert.Empty(t, theirs.Orders)

	h.do(http.MethodGet, "/orders?status=lost", owner, nil, http.StatusBadRequest, nil)
}

func TestBankTransfer_EvidenceAndAdminCompletion(t *testing.T) {
	h := newHarness(t)
	tok := h.customer("pat@foood.test")

	var placed placeResponse
	h.do(http.MethodPost, "/orders", tok, cartBody(domain.PaymentMethodBankTransfer), http.StatusCreated, &placed)
	require.Equal(t, payment.ActionUploadEvidence, placed.Payment.Action)
	assert.Equal(t, "0011-2233", placed.Payment.BankAccount.AccountNumber)
	id := string(placed.Order.ID)

	h.do(http.MethodPost, "/orders/"+id+"/payment/bank-evidence", tok, map[string]string{}, http.StatusBadRequest, nil)

	var got struct{ Payment domain.Payment }
	h.do(http.MethodPost, "/orders/"+id+"/payment/bank-evidence", tok,
		map[string]string{"evidence_url": "https://slips.example.com/a.png", "bank_account_name": "Pat"}, http.StatusOK, &got)
	require.NotNil(t, got.Payment.EvidenceURL)
	assert.Equal(t, domain.PaymentStatusPending, got.Payment.Status)

	h.do(http.MethodPut, "/admin/orders/"+id+"/payment", tok, map[string]string{"status": "completed"}, http.StatusForbidden, nil)
	h.do(http.MethodPut, "/admin/orders/"+id+"/payment", h.admin, map[string]string{"status": "paid"}, http.StatusBadRequest, nil)
	h.do(http.MethodPut, "/admin/orders/"+id+"/payment", h.admin, map[string]string{"status": "completed"}, http.StatusOK, &got)
	assert.Equal(t, domain.PaymentStatusCompleted, got.Payment.Status)

	var order struct{ Order domain.Order }
	h.do(http.MethodGet, "/orders/"+id, tok, nil, http.StatusOK, &order)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Order.Status)
}

func slipRequest(t *testing.T, url, token, contentType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="slip"; filename="slip.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG fake"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("bank_account_number", "99-1234"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadBankSlip(t *testing.T) {
	h := newHarness(t)
	tok := h.customer("pat@foood.test")

	var bank, cod placeResponse
	h.do(http.MethodPost, "/orders", tok, cartBody(domain.PaymentMethodBankTransfer), http.StatusCreated, &bank)
	h.do(http.MethodPost, "/orders", tok, cartBody(domain.PaymentMethodCOD), http.StatusCreated, &cod)

	h.send(slipRequest(t, h.srv.URL+"/orders/"+string(cod.Order.ID)+"/payment/bank-slip", tok, "image/png"), http.StatusConflict, nil)
	assert.Zero(t, h.evidence.puts, "mismatched orders never reach storage")

	h.send(slipRequest(t, h.srv.URL+"/orders/"+string(bank.Order.ID)+"/payment/bank-slip", tok, "text/plain"), http.StatusBadRequest, nil)

	var got struct{ Payment domain.Payment }
	h.send(slipRequest(t, h.srv.URL+"/orders/"+string(bank.Order.ID)+"/payment/bank-slip", tok, "image/png"), http.StatusOK, &got)
	require.NotNil(t, got.Payment.EvidenceURL)
	assert.Equal(t, "https://slips.example.com/"+string(bank.Order.ID)+".png", *got.Payment.EvidenceURL)
	require.NotNil(t, got.Payment.BankAccountNumber)
	assert.Equal(t, "99-1234", *got.Payment.BankAccountNumber)
}

func TestLogin_WrongRoleIsRejected(t *testing.T) {
	h := newHarness(t)
	h.customer("pat@foood.test")

	var errBody errorBody
	h.do(http.MethodPost, "/admin/login", "", map[string]string{"email": "pat@foood.test", "password": "hunter2hunter2"}, http.StatusUnauthorized, &errBody)
	assert.Equal(t, domain.ErrInvalidCredential.Code, errBody.Error)
	h.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "pat@foood.test", "password": "hunter2hunter2"}, http.StatusOK, nil)
}
