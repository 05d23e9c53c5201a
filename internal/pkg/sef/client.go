package sef

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/e-fakture/sefsync/app/models"
)

// Exchange base URLs by environment.
const (
	demoBaseURL       = "https://demoefaktura.mfin.gov.rs/api/publicApi"
	productionBaseURL = "https://efaktura.mfin.gov.rs/api/publicApi"

	defaultTimeout = 30 * time.Second
)

// endpoint per declared document type.
var submitEndpoints = map[string]string{
	models.DocumentTypeInvoice:    "/sales-invoice/ubl",
	models.DocumentTypeCreditNote: "/credit-note/ubl",
	models.DocumentTypeDebitNote:  "/debit-note/ubl",
}

// Document is a fully formed payload ready for transmission. How the bytes
// are built is not this package's concern.
type Document struct {
	Type    string
	Payload []byte
}

// SubmitResult is the exchange's answer to an accepted submission.
type SubmitResult struct {
	SEFID  string `json:"sefId"`
	Status string `json:"status"`
}

// ExchangeClient is the outbound surface the submission service and the
// reconciler talk to. A single call maps to a single HTTP request; the retry
// loop lives in the submission service where attempts are recorded.
type ExchangeClient interface {
	Submit(ctx context.Context, doc Document) (*SubmitResult, error)
	PollStatus(ctx context.Context, sefID string) (string, error)
}

// Client talks to the exchange over HTTP with bearer-token authentication.
type Client struct {
	rest    *resty.Client
	baseURL string
}

// NewClient creates a client for the given environment. Anything other than
// production selects the demo platform.
func NewClient(environment, apiKey string) *Client {
	base := demoBaseURL
	if environment == models.ExchangeEnvProduction {
		base = productionBaseURL
	}
	return NewClientForBaseURL(base, apiKey)
}

// NewClientForBaseURL creates a client against an explicit base URL. Used by
// tests and non-standard deployments.
func NewClientForBaseURL(baseURL, apiKey string) *Client {
	rest := resty.New().
		SetTimeout(defaultTimeout).
		SetAuthToken(apiKey).
		SetHeader("Accept", "application/json")
	return &Client{rest: rest, baseURL: strings.TrimRight(baseURL, "/")}
}

// Submit transmits one document. The payload must be non-empty and the type
// one of the enumerated set; both are checked before any network traffic.
func (c *Client) Submit(ctx context.Context, doc Document) (*SubmitResult, error) {
	if len(doc.Payload) == 0 {
		return nil, fmt.Errorf("document payload must not be empty")
	}
	endpoint, ok := submitEndpoints[doc.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported document type %q", doc.Type)
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/xml").
		SetBody(doc.Payload).
		Post(c.baseURL + endpoint)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if err := classify(resp); err != nil {
		return nil, err
	}

	var out SubmitResult
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	if out.SEFID == "" {
		return nil, fmt.Errorf("submit response missing sefId: %s", truncate(string(resp.Body()), 200))
	}
	return &out, nil
}

// PollStatus asks the exchange for the current status of a registered
// document.
func (c *Client) PollStatus(ctx context.Context, sefID string) (string, error) {
	if strings.TrimSpace(sefID) == "" {
		return "", fmt.Errorf("sefID is required")
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("invoiceId", sefID).
		Get(c.baseURL + "/sales-invoice")
	if err != nil {
		return "", &TransientError{Err: err}
	}
	if err := classify(resp); err != nil {
		return "", err
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	return out.Status, nil
}

// classify sorts non-2xx responses into the error taxonomy: maintenance
// windows, transient (429 and 5xx) and permanent rejections (other 4xx).
func classify(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}

	body := string(resp.Body())
	if isMaintenance(code, body) {
		return fmt.Errorf("%w: %s", ErrMaintenance, truncate(body, 200))
	}
	if code == 429 || code >= 500 {
		return &TransientError{StatusCode: code, Body: body}
	}
	return &RejectionError{StatusCode: code, Body: body}
}

// isMaintenance detects the exchange's scheduled-maintenance response, a 503
// whose body announces the window.
func isMaintenance(status int, body string) bool {
	if status != 503 {
		return false
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "maintenance") || strings.Contains(lower, "odrzavanje") ||
		strings.Contains(lower, "održavanje")
}
