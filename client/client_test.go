package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/triagehq/triage"
	"github.com/triagehq/triage/api"
	"github.com/triagehq/triage/client"
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

// newTestClient stands up an engine with an echo handler behind the full
// HTTP surface and points a client at it. The engine is not started, so
// submissions stay pending and the tests stay deterministic.
func newTestClient(t *testing.T) (*engine.Engine, *client.Client) {
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

	srv := httptest.NewServer(api.New(eng).Handler())
	t.Cleanup(srv.Close)

	return eng, client.New(srv.URL, client.WithLogger(testLogger()))
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

func TestClient_SubmitAndGetJob(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()

	jobID, err := c.Submit(ctx, "echo", json.RawMessage(`{"n":1}`),
		client.WithPriority("high"),
		client.WithMaxAttempts(5),
		client.WithTimeout(45*time.Second),
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if jobID.IsNil() {
		t.Fatal("expected a job id")
	}

	j, err := c.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.ID != jobID.String() {
		t.Errorf("id = %q, want %q", j.ID, jobID)
	}
	if j.Type != "echo" {
		t.Errorf("type = %q, want %q", j.Type, "echo")
	}
	if j.Priority != "high" {
		t.Errorf("priority = %q, want %q", j.Priority, "high")
	}
	if j.State != string(job.StatePending) {
		t.Errorf("state = %q, want %q", j.State, job.StatePending)
	}
	if j.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", j.MaxAttempts)
	}
	if j.TimeoutSeconds != 45 {
		t.Errorf("timeout_seconds = %v, want 45", j.TimeoutSeconds)
	}

	var payload map[string]int
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		t.Fatalf("decode payload %q: %v", j.Payload, err)
	}
	if payload["n"] != 1 {
		t.Errorf("payload n = %d, want 1", payload["n"])
	}
}

func TestClient_SubmitUnknownType(t *testing.T) {
	_, c := newTestClient(t)

	_, err := c.Submit(context.Background(), "no-such-type", nil)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *client.APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", apiErr.StatusCode, http.StatusBadRequest)
	}
	if !strings.Contains(apiErr.Message, "unknown job type") {
		t.Errorf("message = %q, want mention of unknown job type", apiErr.Message)
	}
}

func TestClient_GetJobNotFound(t *testing.T) {
	_, c := newTestClient(t)

	_, err := c.GetJob(context.Background(), id.NewJobID())
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *client.APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", apiErr.StatusCode, http.StatusNotFound)
	}
}

func TestClient_CancelJob(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()

	jobID, err := c.Submit(ctx, "echo", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	cancelled, err := c.CancelJob(ctx, jobID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled {
		t.Error("cancelled = false, want true")
	}

	j, err := c.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.State != string(job.StateCancelled) {
		t.Errorf("state = %q, want %q", j.State, job.StateCancelled)
	}

	// A second cancel is a no-op on a terminal record.
	cancelled, err = c.CancelJob(ctx, jobID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if cancelled {
		t.Error("cancelled = true on terminal job, want false")
	}
}

func TestClient_ListJobs(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()

	for range 3 {
		if _, err := c.Submit(ctx, "echo", nil); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	list, err := c.ListJobs(ctx, client.ListJobsOpts{State: string(job.StatePending), Limit: 2})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if list.Total != 3 {
		t.Errorf("total = %d, want 3", list.Total)
	}
	if len(list.Jobs) != 2 {
		t.Errorf("page size = %d, want 2", len(list.Jobs))
	}

	_, err = c.ListJobs(ctx, client.ListJobsOpts{State: "bogus"})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("error = %v, want 400 *client.APIError", err)
	}
}

func TestClient_Metrics(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Submit(ctx, "echo", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	m, err := c.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.TotalSubmitted != 1 {
		t.Errorf("total_submitted = %d, want 1", m.TotalSubmitted)
	}
	if m.StateCounts[string(job.StatePending)] != 1 {
		t.Errorf("pending count = %d, want 1", m.StateCounts[string(job.StatePending)])
	}
	if m.LaneDepths["normal"] != 1 {
		t.Errorf("normal lane depth = %d, want 1", m.LaneDepths["normal"])
	}
}

// ──────────────────────────────────────────────────
// Dead-letter archive
// ──────────────────────────────────────────────────

func TestClient_DLQFlow(t *testing.T) {
	eng, c := newTestClient(t)
	ctx := context.Background()

	rec := &job.Record{
		Entity:       triage.NewEntity(),
		ID:           id.NewJobID(),
		Type:         "echo",
		Priority:     job.PriorityHigh,
		State:        job.StateDeadLettered,
		AttemptCount: 2,
		MaxAttempts:  2,
	}
	if err := eng.DLQ().Push(ctx, rec, "handler exploded"); err != nil {
		t.Fatalf("push dlq: %v", err)
	}

	list, err := c.ListDLQ(ctx, client.ListDLQOpts{})
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if list.Total != 1 || len(list.Entries) != 1 {
		t.Fatalf("total = %d, entries = %d, want 1 and 1", list.Total, len(list.Entries))
	}
	entry := list.Entries[0]
	if entry.JobID != rec.ID.String() {
		t.Errorf("job_id = %q, want %q", entry.JobID, rec.ID)
	}
	if entry.Error != "handler exploded" {
		t.Errorf("error = %q, want %q", entry.Error, "handler exploded")
	}
	if entry.Priority != "high" {
		t.Errorf("priority = %q, want %q", entry.Priority, "high")
	}

	entryID, err := id.ParseDLQID(entry.ID)
	if err != nil {
		t.Fatalf("parse entry id %q: %v", entry.ID, err)
	}
	got, err := c.GetDLQEntry(ctx, entryID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.ID != entry.ID {
		t.Errorf("id = %q, want %q", got.ID, entry.ID)
	}

	// A cutoff in the past leaves the fresh entry alone.
	purged, err := c.PurgeDLQ(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("purge with old cutoff: %v", err)
	}
	if purged != 0 {
		t.Errorf("purged = %d, want 0", purged)
	}

	replayed, err := c.ReplayDLQ(ctx, entryID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.ID == rec.ID.String() {
		t.Error("replayed job reused the original id")
	}
	if replayed.State != string(job.StatePending) {
		t.Errorf("replayed state = %q, want %q", replayed.State, job.StatePending)
	}

	purged, err = c.PurgeDLQ(ctx, time.Time{})
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
}

// ──────────────────────────────────────────────────
// Cron management
// ──────────────────────────────────────────────────

func TestClient_CronManagement(t *testing.T) {
	eng, c := newTestClient(t)
	ctx := context.Background()

	def := &cron.Definition[struct{}]{
		Name:     "hourly-echo",
		Schedule: "0 * * * *",
		JobName:  "echo",
		Priority: job.PriorityNormal,
	}
	if err := engine.RegisterCron(eng, def); err != nil {
		t.Fatalf("register cron: %v", err)
	}

	list, err := c.ListCrons(ctx)
	if err != nil {
		t.Fatalf("list crons: %v", err)
	}
	if list.Total != 1 || len(list.Entries) != 1 {
		t.Fatalf("total = %d, entries = %d, want 1 and 1", list.Total, len(list.Entries))
	}
	if list.Entries[0].Name != "hourly-echo" {
		t.Errorf("name = %q, want %q", list.Entries[0].Name, "hourly-echo")
	}

	entry, err := c.GetCron(ctx, "hourly-echo")
	if err != nil {
		t.Fatalf("get cron: %v", err)
	}
	if entry.Schedule != "0 * * * *" {
		t.Errorf("schedule = %q, want %q", entry.Schedule, "0 * * * *")
	}
	if entry.JobName != "echo" {
		t.Errorf("job_name = %q, want %q", entry.JobName, "echo")
	}
	if !entry.Enabled {
		t.Error("enabled = false on fresh entry")
	}

	entry, err = c.DisableCron(ctx, "hourly-echo")
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if entry.Enabled {
		t.Error("enabled = true after disable")
	}

	entry, err = c.EnableCron(ctx, "hourly-echo")
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !entry.Enabled {
		t.Error("enabled = false after enable")
	}

	if err := c.DeleteCron(ctx, "hourly-echo"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err = c.GetCron(ctx, "hourly-echo")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("error = %v, want 404 *client.APIError", err)
	}
}

// ──────────────────────────────────────────────────
// Health and errors
// ──────────────────────────────────────────────────

func TestClient_Health(t *testing.T) {
	_, c := newTestClient(t)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestClient_APIErrorFormat(t *testing.T) {
	e := &client.APIError{StatusCode: http.StatusNotFound, Message: "triage: job not found"}
	got := e.Error()
	want := "triage/client: server returned 404: triage: job not found"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// ──────────────────────────────────────────────────
// Event stream
// ──────────────────────────────────────────────────

func TestClient_SubscribeStreamsEvents(t *testing.T) {
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

	c := client.New(srv.URL, client.WithLogger(testLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := c.Subscribe(ctx, stream.TopicJobs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close() //nolint:errcheck // test teardown

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

	var evt *stream.Event
	select {
	case evt = <-sub.C():
	case <-time.After(5 * time.Second):
		t.Fatal("no event within 5s")
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

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel did not close after Close")
		}
	}
}

func TestClient_SubscribeRejectsInvalidTopic(t *testing.T) {
	broker := stream.NewBroker(testLogger())
	eng, err := engine.New(engine.WithExtension(broker))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	srv := httptest.NewServer(api.New(eng, api.WithBroker(broker)).Handler())
	defer srv.Close()

	c := client.New(srv.URL, client.WithLogger(testLogger()))
	if _, err := c.Subscribe(context.Background(), "bogus"); err == nil {
		t.Fatal("expected subscribe to fail on an invalid topic")
	}
}
