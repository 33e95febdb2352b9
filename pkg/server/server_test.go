package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cexll/linguahome-go/pkg/agent"
	"github.com/cexll/linguahome-go/pkg/catalog"
	"github.com/cexll/linguahome-go/pkg/device"
	"github.com/cexll/linguahome-go/pkg/event"
	"github.com/cexll/linguahome-go/pkg/memory"
	"github.com/cexll/linguahome-go/pkg/model"
	"github.com/cexll/linguahome-go/pkg/prompt"
	"github.com/cexll/linguahome-go/pkg/sandbox"
)

type fixedModel struct{ completion string }

func (f fixedModel) Generate(ctx context.Context, _ []model.Message) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}
	return model.Assistant(f.completion), nil
}

func newTestServer(t *testing.T, completion string) *Server {
	t.Helper()
	cat := catalog.Default()
	home := device.NewMockHome(cat)
	loop, err := agent.NewLoop(agent.Config{
		Model:     fixedModel{completion: completion},
		Catalog:   cat,
		Prompts:   prompt.NewBuilder(cat),
		Validator: sandbox.NewValidator(),
		Executor:  sandbox.NewExecutor(home, home, sandbox.WithTimeout(2*time.Second)),
		Memory:    memory.NewInMemoryStore(cat.Rooms()),
	})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	t.Cleanup(loop.Close)
	return New(loop, cat)
}

const helloSnippet = "```go\npackage main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(\"hello from the home\") }\n```"

func TestRunEndpoint(t *testing.T) {
	srv := newTestServer(t, helloSnippet)

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"input":"say hello","session_id":"s1"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		TurnID    string `json:"turn_id"`
		SessionID string `json:"session_id"`
		Response  string `json:"response"`
		Outcome   string `json:"outcome"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != string(sandbox.OutcomeSuccess) {
		t.Fatalf("outcome %s", resp.Outcome)
	}
	if !strings.Contains(resp.Response, "hello from the home") {
		t.Fatalf("unexpected response: %q", resp.Response)
	}
	if resp.SessionID != "s1" || resp.TurnID == "" {
		t.Fatalf("identity fields missing: %+v", resp)
	}
}

func TestRunEndpointGeneratesSession(t *testing.T) {
	srv := newTestServer(t, helloSnippet)
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"input":"hi"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
}

func TestRunEndpointRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, helloSnippet)

	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/run", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"input":"  "}`))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty input status %d", rec.Code)
	}
}

func TestDevicesEndpoint(t *testing.T) {
	srv := newTestServer(t, helloSnippet)
	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var entries []struct {
		Name         string `json:"name"`
		SensorID     int    `json:"sensor_id"`
		Controllable bool   `json:"controllable"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != catalog.Default().Len() {
		t.Fatalf("expected %d devices, got %d", catalog.Default().Len(), len(entries))
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, helloSnippet)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
}

func TestStreamEndpointDeliversEvents(t *testing.T) {
	srv := newTestServer(t, helloSnippet)

	req := httptest.NewRequest(http.MethodGet, "/run/stream?input=say+hello&session_id=s1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "event: progress") {
		t.Fatalf("progress frames missing: %s", body)
	}
	if !strings.Contains(body, "event: completion") {
		t.Fatalf("completion frame missing: %s", body)
	}
	if !strings.Contains(body, "event: complete") {
		t.Fatalf("terminal frame missing: %s", body)
	}
}

func TestEventsEndpointBroadcastsMonitor(t *testing.T) {
	srv := newTestServer(t, helloSnippet)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor := make(chan event.Event, 1)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		srv.MonitorBus(ctx, monitor)
	}()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ts.URL+"/events", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.Contains(line, "connected") {
		t.Fatalf("handshake line %q: %v", line, err)
	}

	monitor <- event.NewEvent(event.EventAudit, "s1", event.AuditData{ActuatorID: 39, Action: "on", OK: true})

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("audit frame never arrived: %v", err)
		}
		if strings.Contains(line, "event: audit") {
			break
		}
	}

	close(monitor)
	<-drained
}

func TestEventsEndpointRejectsPost(t *testing.T) {
	srv := newTestServer(t, helloSnippet)
	req := httptest.NewRequest(http.MethodPost, "/events", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestStreamEndpointRequiresInput(t *testing.T) {
	srv := newTestServer(t, helloSnippet)
	req := httptest.NewRequest(http.MethodGet, "/run/stream", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}
