package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.mercadopago.com"
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 1 << 20
)

// credential picks which access token signs a call.
type credential int

const (
	// credentialCard covers preapprovals and their authorized payments.
	credentialCard credential = iota
	// credentialPix covers one-shot payments.
	credentialPix
)

// MercadoPagoClient is the subset of the REST API the adapter uses.
type MercadoPagoClient interface {
	CreatePreapproval(ctx context.Context, req *CreatePreapprovalRequest, idempotencyKey string) (*Preapproval, error)
	GetPreapproval(ctx context.Context, id string) (*Preapproval, error)
	CancelPreapproval(ctx context.Context, id string) (*Preapproval, error)
	GetAuthorizedPayment(ctx context.Context, id string) (*AuthorizedPayment, error)
	CreatePixPayment(ctx context.Context, req *CreatePixPaymentRequest, idempotencyKey string) (*Payment, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

// Client talks to the MercadoPago REST API.
type Client struct {
	baseURL    string
	cardToken  string
	pixToken   string
	timeout    time.Duration
	httpClient *retryablehttp.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewClient builds a client from configuration. Card and PIX tokens fall
// back to the generic access token when unset.
func NewClient(cfg config.MercadoPagoConfig, timeout time.Duration, logger *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = cfg.RetryMax
	httpClient.RetryWaitMin = 200 * time.Millisecond
	httpClient.RetryWaitMax = 2 * time.Second
	httpClient.HTTPClient.Timeout = timeout
	httpClient.Logger = logger.GetRetryableHTTPLogger()
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	return &Client{
		baseURL:    baseURL,
		cardToken:  firstNonEmpty(cfg.CardToken, cfg.AccessToken),
		pixToken:   firstNonEmpty(cfg.PixToken, cfg.AccessToken),
		timeout:    timeout,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (c *Client) token(cred credential) (string, error) {
	token := c.cardToken
	if cred == credentialPix {
		token = c.pixToken
	}
	if token == "" {
		return "", ierr.NewError("mercadopago access token not configured").
			WithHint("Payment provider is not configured").
			Mark(ierr.ErrSystem)
	}
	return token, nil
}

func (c *Client) CreatePreapproval(ctx context.Context, req *CreatePreapprovalRequest, idempotencyKey string) (*Preapproval, error) {
	var out Preapproval
	if err := c.do(ctx, http.MethodPost, "/preapproval", credentialCard, idempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	var out Preapproval
	if err := c.do(ctx, http.MethodGet, "/preapproval/"+id, credentialCard, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	var out Preapproval
	body := &updatePreapprovalRequest{Status: "cancelled"}
	if err := c.do(ctx, http.MethodPut, "/preapproval/"+id, credentialCard, types.GenerateUUID(), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAuthorizedPayment(ctx context.Context, id string) (*AuthorizedPayment, error) {
	var out AuthorizedPayment
	if err := c.do(ctx, http.MethodGet, "/authorized_payments/"+id, credentialCard, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePixPayment(ctx context.Context, req *CreatePixPaymentRequest, idempotencyKey string) (*Payment, error) {
	var out Payment
	if err := c.do(ctx, http.MethodPost, "/v1/payments", credentialPix, idempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var out Payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+id, credentialPix, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, cred credential, idempotencyKey string, in, out interface{}) error {
	token, err := c.token(cred)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("Payment provider is unavailable").
			Mark(ierr.ErrProviderUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body []byte
	if in != nil {
		if body, err = json.Marshal(in); err != nil {
			return ierr.WithError(err).
				WithHint("Invalid payment request").
				Mark(ierr.ErrInternal)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrInternal)
	}
	req.Header.Set(types.HeaderAuthorization, "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(types.HeaderIdempotency, idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Errorw("mercadopago request failed", "method", method, "path", path, "error", err)
		return ierr.WithError(err).
			WithHint("Payment provider is unavailable").
			Mark(ierr.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return ierr.WithError(err).
			WithHint("Payment provider is unavailable").
			Mark(ierr.ErrProviderUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(method, path, resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return ierr.WithError(err).
			WithHint("Payment provider returned an unreadable response").
			Mark(ierr.ErrProviderUnavailable)
	}
	return nil
}

func (c *Client) statusError(method, path string, status int, body []byte) error {
	var errResp ErrorResponse
	_ = json.Unmarshal(body, &errResp)
	c.logger.Warnw("mercadopago api error",
		"method", method,
		"path", path,
		"status", status,
		"message", errResp.Message)

	details := map[string]interface{}{"status": status, "error": errResp.Error}
	msg := fmt.Sprintf("mercadopago api error (%d)", status)
	switch {
	case status == http.StatusNotFound:
		return ierr.NewError(msg).
			WithHint("Payment resource not found").
			WithReportableDetails(details).
			Mark(ierr.ErrNotFound)
	case status == http.StatusTooManyRequests || status >= 500:
		return ierr.NewError(msg).
			WithHint("Payment provider is unavailable").
			WithReportableDetails(details).
			Mark(ierr.ErrProviderUnavailable)
	default:
		return ierr.NewError(msg).
			WithHint("Payment provider rejected the request").
			WithReportableDetails(details).
			Mark(ierr.ErrHTTPClient)
	}
}
