package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/api"
	"github.com/triagehq/triage/cron"
	"github.com/triagehq/triage/engine"
	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
	"github.com/triagehq/triage/stream"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupAPI builds an engine with an echo handler and wraps it in the
// HTTP surface. The engine is not started: submissions stay pending,
// which keeps route tests deterministic.
func setupAPI(t *testing.T, opts ...api.Option) (*engine.Engine, http.Handler) {
	t.Helper()

	eng, err := engine.New()
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	def := job.NewDefinition("echo", func(_ context.Context, in map[string]int) (map[string]int, error) {
		return in, nil
	})
	if err := engine.Register(eng, def); err != nil {
		t.Fatalf("register echo: %v", err)
	}
	return eng, api.New(eng, opts...).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

func TestAPI_SubmitAndFetchJob(t *testing.T) {
	_, h := setupAPI(t)

	w := doJSON(t, h, http.MethodPost, "/v1/jobs", map[string]any{
		"type":     "echo",
		"payload":  map[string]int{"n": 1},
		"priority": "high",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var created struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, w, &created)
	if created.JobID == "" {
		t.Fatal("expected a job_id in the response")
	}

	w = doJSON(t, h, http.MethodGet, "/v1/jobs/"+created.JobID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var got struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Priority string `json:"priority"`
		State    string `json:"state"`
	}
	decodeBody(t, w, &got)
	if got.ID != created.JobID {
		t.Errorf("id = %q, want %q", got.ID, created.JobID)
	}
	if got.Type != "echo" {
		t.Errorf("type = %q, want %q", got.Type, "echo")
	}
	if got.Priority != "high" {
		t.Errorf("priority = %q, want %q", got.Priority, "high")
	}
	if got.State != string(job.StatePending) {
		t.Errorf("state = %q, want %q", got.State, job.StatePending)
	}
}

func TestAPI_SubmitValidation(t *testing.T) {
	_, h := setupAPI(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing type", map[string]any{"payload": map[string]int{}}},
		{"unknown type", map[string]any{"type": "never-registered"}},
		{"bad priority", map[string]any{"type": "echo", "priority": "urgent"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/v1/jobs", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d: %s", w.Code, http.StatusBadRequest, w.Body.String())
			}
			var resp struct {
				Error string `json:"error"`
			}
			decodeBody(t, w, &resp)
			if resp.Error == "" {
				t.Error("expected an error envelope")
			}
		})
	}
}

func TestAPI_GetJobErrors(t *testing.T) {
	_, h := setupAPI(t)

	w := doJSON(t, h, http.MethodGet, "/v1/jobs/not-an-id", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = doJSON(t, h, http.MethodGet, "/v1/jobs/"+id.NewJobID().String(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPI_CancelJob(t *testing.T) {
	eng, h := setupAPI(t)

	jobID, err := eng.Submit(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	w := doJSON(t, h, http.MethodPost, "/v1/jobs/"+jobID.String()+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	decodeBody(t, w, &resp)
	if !resp.Cancelled {
		t.Error("cancelled = false, want true for a pending job")
	}

	// A second cancel is a no-op on the now-terminal record.
	w = doJSON(t, h, http.MethodPost, "/v1/jobs/"+jobID.String()+"/cancel", nil)
	decodeBody(t, w, &resp)
	if resp.Cancelled {
		t.Error("cancelled = true on second cancel, want false")
	}
}

func TestAPI_ListJobsByState(t *testing.T) {
	eng, h := setupAPI(t)

	for range 2 {
		if _, err := eng.Submit(context.Background(), "echo", nil); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	w := doJSON(t, h, http.MethodGet, "/v1/jobs?state=pending", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp struct {
		Jobs  []json.RawMessage `json:"jobs"`
		Total int64             `json:"total"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Jobs) != 2 {
		t.Errorf("jobs = %d, want 2", len(resp.Jobs))
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}

	w = doJSON(t, h, http.MethodGet, "/v1/jobs?state=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid state: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ──────────────────────────────────────────────────
// Metrics and health
// ──────────────────────────────────────────────────

func TestAPI_Metrics(t *testing.T) {
	eng, h := setupAPI(t)

	if _, err := eng.Submit(context.Background(), "echo", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	w := doJSON(t, h, http.MethodGet, "/v1/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		TotalSubmitted int64            `json:"total_submitted"`
		StateCounts    map[string]int64 `json:"state_counts"`
		LaneDepths     map[string]int   `json:"lane_depths"`
	}
	decodeBody(t, w, &resp)
	if resp.TotalSubmitted != 1 {
		t.Errorf("total_submitted = %d, want 1", resp.TotalSubmitted)
	}
	if resp.StateCounts["pending"] != 1 {
		t.Errorf("pending count = %d, want 1", resp.StateCounts["pending"])
	}
	if resp.LaneDepths["normal"] != 1 {
		t.Errorf("normal lane depth = %d, want 1", resp.LaneDepths["normal"])
	}
}

func TestAPI_Healthz(t *testing.T) {
	_, h := setupAPI(t)

	w := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Status string `json:"status"`
	}
	decodeBody(t, w, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
}

// ──────────────────────────────────────────────────
// Dead-letter archive
// ──────────────────────────────────────────────────

func TestAPI_DLQRoutes(t *testing.T) {
	eng, h := setupAPI(t)
	ctx := context.Background()

	rec := &job.Record{
		Entity:       triage.NewEntity(),
		ID:           id.NewJobID(),
		Type:         "echo",
		Priority:     job.PriorityNormal,
		State:        job.StateDeadLettered,
		AttemptCount: 2,
		MaxAttempts:  2,
	}
	if err := eng.DLQ().Push(ctx, rec, "handler exploded"); err != nil {
		t.Fatalf("push dlq: %v", err)
	}

	w := doJSON(t, h, http.MethodGet, "/v1/dlq", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want %d", w.Code, http.StatusOK)
	}
	var listResp struct {
		Entries []struct {
			ID    string `json:"id"`
			JobID string `json:"job_id"`
			Error string `json:"error"`
		} `json:"entries"`
		Total int64 `json:"total"`
	}
	decodeBody(t, w, &listResp)
	if listResp.Total != 1 || len(listResp.Entries) != 1 {
		t.Fatalf("total = %d, entries = %d, want 1 and 1", listResp.Total, len(listResp.Entries))
	}
	entry := listResp.Entries[0]
	if entry.JobID != rec.ID.String() {
		t.Errorf("job_id = %q, want %q", entry.JobID, rec.ID)
	}
	if entry.Error != "handler exploded" {
		t.Errorf("error = %q, want %q", entry.Error, "handler exploded")
	}

	w = doJSON(t, h, http.MethodGet, "/v1/dlq/"+entry.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get: status = %d, want %d", w.Code, http.StatusOK)
	}

	// Replay submits a fresh job with a clean budget.
	w = doJSON(t, h, http.MethodPost, "/v1/dlq/"+entry.ID+"/replay", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("replay: status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var replayed struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	decodeBody(t, w, &replayed)
	if replayed.ID == rec.ID.String() {
		t.Error("replayed job reused the original id")
	}
	if replayed.State != string(job.StatePending) {
		t.Errorf("replayed state = %q, want %q", replayed.State, job.StatePending)
	}

	w = doJSON(t, h, http.MethodDelete, "/v1/dlq", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("purge: status = %d, want %d", w.Code, http.StatusOK)
	}
	var purgeResp struct {
		Purged int64 `json:"purged"`
	}
	decodeBody(t, w, &purgeResp)
	if purgeResp.Purged != 1 {
		t.Errorf("purged = %d, want 1", purgeResp.Purged)
	}
}

// ──────────────────────────────────────────────────
// Cron management
// ──────────────────────────────────────────────────

func TestAPI_CronRoutes(t *testing.T) {
	eng, h := setupAPI(t)

	def := &cron.Definition[struct{}]{
		Name:     "hourly-echo",
		Schedule: "0 * * * *",
		JobName:  "echo",
		Priority: job.PriorityNormal,
	}
	if err := engine.RegisterCron(eng, def); err != nil {
		t.Fatalf("register cron: %v", err)
	}

	w := doJSON(t, h, http.MethodGet, "/v1/crons", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want %d", w.Code, http.StatusOK)
	}
	var listResp struct {
		Total int `json:"total"`
	}
	decodeBody(t, w, &listResp)
	if listResp.Total != 1 {
		t.Errorf("total = %d, want 1", listResp.Total)
	}

	w = doJSON(t, h, http.MethodPost, "/v1/crons/hourly-echo/disable", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("disable: status = %d, want %d", w.Code, http.StatusOK)
	}
	var entryResp struct {
		Enabled bool `json:"enabled"`
	}
	decodeBody(t, w, &entryResp)
	if entryResp.Enabled {
		t.Error("enabled = true after disable")
	}

	w = doJSON(t, h, http.MethodPost, "/v1/crons/hourly-echo/enable", nil)
	decodeBody(t, w, &entryResp)
	if !entryResp.Enabled {
		t.Error("enabled = false after enable")
	}

	w = doJSON(t, h, http.MethodDelete, "/v1/crons/hourly-echo", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d, want %d", w.Code, http.StatusNoContent)
	}

	w = doJSON(t, h, http.MethodGet, "/v1/crons/hourly-echo", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ──────────────────────────────────────────────────
// Event stream
// ──────────────────────────────────────────────────

func TestAPI_EventsWithoutBroker(t *testing.T) {
	_, h := setupAPI(t)

	w := doJSON(t, h, http.MethodGet, "/v1/events", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestAPI_EventsRejectsInvalidTopic(t *testing.T) {
	broker := stream.NewBroker(testLogger())
	_, h := setupAPI(t, api.WithBroker(broker))

	w := doJSON(t, h, http.MethodGet, "/v1/events?topics=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestAPI_EventsStreamsOverWebSocket(t *testing.T) {
	broker := stream.NewBroker(testLogger())

	eng, err := engine.New(engine.WithExtension(broker))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	def := job.NewDefinition("echo", func(_ context.Context, in map[string]int) (map[string]int, error) {
		return in, nil
	})
	if err := engine.Register(eng, def); err != nil {
		t.Fatalf("register echo: %v", err)
	}

	srv := httptest.NewServer(api.New(eng, api.WithBroker(broker)).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?topics=jobs"
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close() //nolint:errcheck // test teardown

	// Submissions repeat until the subscription is live and the first
	// enqueued event comes back.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			_, _ = eng.Submit(context.Background(), "echo", nil) //nolint:errcheck // retried until an event lands
			select {
			case <-done:
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("read event frame: %v", err)
	}

	var evt stream.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != stream.EventJobEnqueued {
		t.Errorf("event type = %q, want %q", evt.Type, stream.EventJobEnqueued)
	}
	var payload stream.JobEventData
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		t.Fatalf("decode event data: %v", err)
	}
	if payload.JobType != "echo" {
		t.Errorf("event job type = %q, want %q", payload.JobType, "echo")
	}
}
