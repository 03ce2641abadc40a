// Package mediate is the agent-side half of the mediation bridge: an HTTP
// client for the broker's wire contract plus the bounded-poll waiter a
// tool-call handler runs while a human decides.
package mediate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaloml/cui/internal/domain"
)

// NotifyRequest is the body of POST /mediate/notify.
type NotifyRequest struct {
	Kind          domain.RequestKind `json:"kind"`
	Payload       json.RawMessage    `json:"payload"`
	CorrelationID string             `json:"correlationId"`
}

// DecideRequest is the body of POST /mediate/{id}/decide.
type DecideRequest struct {
	Approved      *bool               `json:"approved,omitempty"`
	ModifiedInput json.RawMessage     `json:"modifiedInput,omitempty"`
	DenyReason    string              `json:"denyReason,omitempty"`
	Answers       map[string][]string `json:"answers,omitempty"`
}

// RequestLister is the slice of the broker surface the waiter needs.
// Narrowed to an interface so tests can interpose on the poll phases.
type RequestLister interface {
	Requests(ctx context.Context, correlationID string, status domain.RequestStatus) ([]domain.MediationRequest, error)
}

// Client talks JSON-over-HTTP to the mediation broker.
type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Notify creates a mediation request and returns its id. A 400 from the
// broker surfaces as domain.ErrValidation: the caller must fail the tool
// call immediately, not enter the poll loop.
func (c *Client) Notify(ctx context.Context, kind domain.RequestKind, payload json.RawMessage, correlationID string) (string, error) {
	body, err := json.Marshal(NotifyRequest{Kind: kind, Payload: payload, CorrelationID: correlationID})
	if err != nil {
		return "", fmt.Errorf("mediate: encode notify: %w", err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/mediate/notify", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Requests lists mediation requests filtered by correlationId and status;
// empty values leave the corresponding filter off.
func (c *Client) Requests(ctx context.Context, correlationID string, status domain.RequestStatus) ([]domain.MediationRequest, error) {
	q := url.Values{}
	if correlationID != "" {
		q.Set("correlationId", correlationID)
	}
	if status != "" {
		q.Set("status", string(status))
	}
	path := "/mediate"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var resp struct {
		Requests []domain.MediationRequest `json:"requests"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Requests, nil
}

// Decide submits a human decision for a request.
func (c *Client) Decide(ctx context.Context, id string, decision DecideRequest) error {
	body, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("mediate: encode decision: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/mediate/"+url.PathEscape(id)+"/decide", body, nil)
}

// Cleanup removes every request tied to a finished agent run.
func (c *Client) Cleanup(ctx context.Context, correlationID string) (int, error) {
	q := url.Values{"correlationId": {correlationID}}
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodDelete, "/mediate?"+q.Encode(), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("mediate: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("mediate: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.TrimSpace(string(msg)))
	case resp.StatusCode >= 300:
		return fmt.Errorf("mediate: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mediate: decode response: %w", err)
	}
	return nil
}
