package stripeproc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AKPAING3147/Foood/internal/payment"
)

const secret = "whsec_test"

func sign(payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func intentEvent(eventType, intentID string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":{"id":%q,"object":"payment_intent"}}}`, eventType, intentID))
}

func TestVerify_ValidSignature(t *testing.T) {
	c := New(Config{SecretKey: "sk_test", WebhookSecret: secret})
	body := intentEvent("payment_intent.succeeded", "pi_123")

	evt, err := c.Verify(body, sign(body, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, "payment_intent.succeeded", evt.Type)
	assert.Equal(t, "pi_123", evt.IntentID)
}

func TestVerify_Rejects(t *testing.T) {
	c := New(Config{SecretKey: "sk_test", WebhookSecret: secret})
	body := intentEvent("payment_intent.succeeded", "pi_123")

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"tampered body", sign([]byte(`{"id":"evt_other"}`), time.Now())},
		{"stale timestamp", sign(body, time.Now().Add(-time.Hour))},
		{"garbage", "t=abc,v1=zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Verify(body, tt.header)
			assert.Error(t, err)
		})
	}
}

func TestVerify_NonIntentObject(t *testing.T) {
	c := New(Config{SecretKey: "sk_test", WebhookSecret: secret})
	body := []byte(`{"id":"evt_2","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`)

	evt, err := c.Verify(body, sign(body, time.Now()))
	require.NoError(t, err)
	assert.Empty(t, evt.IntentID)
}

func TestCreatePaymentIntent(t *testing.T) {
	var form url.Values
	var idemKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(raw))
		idemKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"pi_123","object":"payment_intent","amount":2448,"currency":"usd","client_secret":"pi_123_secret_abc","status":"requires_payment_method"}`)
	}))
	defer srv.Close()

	c := New(Config{SecretKey: "sk_test", APIURL: srv.URL})
	in, err := c.CreatePaymentIntent(context.Background(), payment.IntentRequest{
		AmountMinor:    2448,
		Currency:       "usd",
		OrderID:        "o-1",
		OrderNumber:    "FO-20261019-ABCDEF",
		IdempotencyKey: "storefront-order-o-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_123", in.ID)
	assert.Equal(t, "pi_123_secret_abc", in.ClientSecret)
	assert.Equal(t, "2448", form.Get("amount"))
	assert.Equal(t, "usd", form.Get("currency"))
	assert.Equal(t, "o-1", form.Get("metadata[order_id]"))
	assert.Equal(t, "storefront-order-o-1", idemKey)
}

func TestCreatePaymentIntent_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"error":{"type":"card_error","code":"card_declined","message":"declined"}}`)
	}))
	defer srv.Close()

	c := New(Config{SecretKey: "sk_test", APIURL: srv.URL})
	_, err := c.CreatePaymentIntent(context.Background(), payment.IntentRequest{AmountMinor: 100, Currency: "usd", OrderID: "o-1"})
	assert.Error(t, err)
}
