package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shaloml/cui/internal/broker/handler"
	"github.com/shaloml/cui/internal/domain"
	"github.com/shaloml/cui/internal/infra"
	"github.com/shaloml/cui/internal/live"
	"github.com/shaloml/cui/internal/mediation"
	"go.uber.org/zap"
)

type noopSource struct{}

func (noopSource) ListSummaries(context.Context, int, int) ([]domain.ConversationSummary, error) {
	return nil, nil
}

type noopWriter struct{}

func (noopWriter) UpsertSummary(context.Context, domain.ConversationSummary) error { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	gateway := mediation.NewGateway(mediation.NewStore(logger), logger)
	correlator := live.NewCorrelator(noopSource{}, 10, logger)

	srv := NewBrokerServer(
		&infra.Config{},
		logger,
		nil, // no auth key configured: routes run open, like local dev
		handler.NewMediationHandler(gateway, logger),
		handler.NewConversationHandler(correlator, noopWriter{}, logger),
	)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// The end-to-end permission flow over the real wire contract: notify for
// tool edit_file on run-1, see exactly one pending entry, approve it, see
// the pending list empty and the final status on the record.
func TestPermissionFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/mediate/notify",
		`{"kind":"permission","payload":{"toolName":"edit_file","toolInput":{"path":"main.go"}},"correlationId":"run-1"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("notify status %d", resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	decode(t, resp, &created)
	if created.ID == "" {
		t.Fatal("no id returned")
	}

	var listed struct {
		Requests []domain.MediationRequest `json:"requests"`
	}
	resp, err := http.Get(ts.URL + "/mediate?correlationId=run-1&status=pending")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	decode(t, resp, &listed)
	if len(listed.Requests) != 1 || listed.Requests[0].ID != created.ID {
		t.Fatalf("want exactly the new request pending, got %+v", listed.Requests)
	}

	resp = postJSON(t, ts.URL+"/mediate/"+created.ID+"/decide", `{"approved":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decide status %d", resp.StatusCode)
	}
	var decided struct {
		Success bool `json:"success"`
	}
	decode(t, resp, &decided)
	if !decided.Success {
		t.Fatal("decide did not report success")
	}

	resp, err = http.Get(ts.URL + "/mediate?status=pending")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	decode(t, resp, &listed)
	if len(listed.Requests) != 0 {
		t.Fatalf("pending list should be empty, got %+v", listed.Requests)
	}

	var got domain.MediationRequest
	resp, err = http.Get(ts.URL + "/mediate/" + created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	decode(t, resp, &got)
	if got.Status != domain.StatusApproved {
		t.Fatalf("want approved, got %s", got.Status)
	}
}

func TestNotifyValidationFailureIs400(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/mediate/notify",
		`{"kind":"question","payload":{"questions":[]},"correlationId":"run-1"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

func TestDoubleDecideIs404(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/mediate/notify",
		`{"kind":"permission","payload":{"toolName":"bash"},"correlationId":"run-1"}`)
	var created struct {
		ID string `json:"id"`
	}
	decode(t, resp, &created)

	resp = postJSON(t, ts.URL+"/mediate/"+created.ID+"/decide", `{"approved":false,"denyReason":"nope"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first decide status %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/mediate/"+created.ID+"/decide", `{"approved":true}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second decide must 404, got %d", resp.StatusCode)
	}

	// Unknown ids collapse to the same signal.
	resp = postJSON(t, ts.URL+"/mediate/ghost/decide", `{"approved":true}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown id must 404, got %d", resp.StatusCode)
	}
}

func TestMalformedDecideForKindIs400(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/mediate/notify",
		`{"kind":"permission","payload":{"toolName":"bash"},"correlationId":"run-1"}`)
	var created struct {
		ID string `json:"id"`
	}
	decode(t, resp, &created)

	// Question-shaped decision against a permission request.
	resp = postJSON(t, ts.URL+"/mediate/"+created.ID+"/decide", `{"answers":{"Plan":["yes"]}}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

func TestCleanupRemovesRun(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/mediate/notify",
			`{"kind":"permission","payload":{"toolName":"bash"},"correlationId":"run-1"}`)
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mediate?correlationId=run-1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	var removed struct {
		Removed int `json:"removed"`
	}
	decode(t, resp, &removed)
	if removed.Removed != 3 {
		t.Fatalf("want 3 removed, got %d", removed.Removed)
	}

	resp, err = http.DefaultClient.Do(req.Clone(context.Background()))
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	decode(t, resp, &removed)
	if removed.Removed != 0 {
		t.Fatalf("second cleanup must remove 0, got %d", removed.Removed)
	}
}
