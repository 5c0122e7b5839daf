package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmdatafocus/restaurant_backend/models"
)

var (
	ErrEmptyCredential = errors.New("provider access token is empty")
	ErrPaymentNotFound = errors.New("payment not found at provider")
)

// APIError is a non-2xx answer from the provider API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error %d: %s", e.StatusCode, e.Message)
}

// Client queries the payment provider with a single credential. The fallback
// and tenant lookups are two Client values built from different credentials.
type Client struct {
	baseURL     string
	accessToken string
	http        *http.Client
}

func NewClient(baseURL, accessToken string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrEmptyCredential
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		accessToken: strings.TrimSpace(accessToken),
		http:        &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) GetPayment(ctx context.Context, paymentId string) (models.PaymentSnapshot, error) {
	paymentId = strings.TrimSpace(paymentId)
	if paymentId == "" {
		return models.PaymentSnapshot{}, errors.New("payment id is empty")
	}
	endpoint := c.baseURL + "/v1/payments/" + url.PathEscape(paymentId)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.PaymentSnapshot{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.PaymentSnapshot{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return models.PaymentSnapshot{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentId)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.PaymentSnapshot{}, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	var parsed paymentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return models.PaymentSnapshot{}, fmt.Errorf("decode payment %s: %w", paymentId, err)
	}
	return parsed.snapshot(), nil
}

func errorMessage(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return strings.TrimSpace(string(body))
}
