package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// apiClient drives the storefront HTTP API as one customer.
type apiClient struct {
	baseURL string
	http    *http.Client
	token   string
}

type apiError struct {
	Status int
	Code   string `json:"error"`
	Body   string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any, headers map[string]string) (int, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ae := &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		_ = json.Unmarshal(raw, ae)
		return resp.StatusCode, ae
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// signUp registers a throwaway customer and keeps its token.
func (c *apiClient) signUp(ctx context.Context) error {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{
		"email":    "cli-" + uuid.NewString()[:8] + "@foood.test",
		"password": "cli-password-" + uuid.NewString()[:8],
		"name":     "CLI Customer",
	}
	if _, err := c.do(ctx, http.MethodPost, "/auth/register", body, &out, nil); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	c.token = out.Token
	return nil
}

type product struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

func (c *apiClient) firstProduct(ctx context.Context) (string, error) {
	var out struct {
		Products []product `json:"products"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/products", nil, &out, nil); err != nil {
		return "", fmt.Errorf("list products: %w", err)
	}
	for _, p := range out.Products {
		if p.Available {
			return p.ID, nil
		}
	}
	return "", errors.New("catalog has no available products")
}

type placedOrder struct {
	Order struct {
		ID            string `json:"id"`
		Number        string `json:"order_number"`
		TotalAmount   string `json:"total_amount"`
		Status        string `json:"status"`
		PaymentStatus string `json:"payment_status"`
	} `json:"order"`
	Payment struct {
		Action          string `json:"action"`
		PaymentIntentID string `json:"payment_intent_id"`
		BankAccount     *struct {
			BankName      string `json:"bank_name"`
			AccountNumber string `json:"account_number"`
		} `json:"bank_account"`
	} `json:"payment"`
}

func (c *apiClient) placeOrder(ctx context.Context, productID, method string) (*placedOrder, error) {
	body := map[string]any{
		"items":            []map[string]any{{"product_id": productID, "quantity": 1}},
		"payment_method":   method,
		"delivery_address": "1 CLI Street",
		"phone":            "555-0100",
	}
	var out placedOrder
	_, err := c.do(ctx, http.MethodPost, "/orders", body, &out, map[string]string{"Idempotency-Key": uuid.NewString()})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) attachEvidence(ctx context.Context, orderID, url string) error {
	_, err := c.do(ctx, http.MethodPost, "/orders/"+orderID+"/payment/bank-evidence", map[string]string{"evidence_url": url}, nil, nil)
	return err
}
