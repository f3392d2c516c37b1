package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/triagehq/triage/id"
	"github.com/triagehq/triage/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBrokerSubscribeAndPublish(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	sub := b.Subscribe("sub-1", TopicJobs)

	evt := &Event{
		Type:      EventJobEnqueued,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-123"),
		Data:      json.RawMessage(`{"job_id":"job-123"}`),
	}
	b.publish(evt)

	// Event should arrive on the subscriber channel.
	select {
	case received := <-sub.C():
		if received.Type != EventJobEnqueued {
			t.Errorf("Type = %q, want %q", received.Type, EventJobEnqueued)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerMultipleTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	// Subscribe to firehose — should get everything.
	firehose := b.Subscribe("firehose-sub", TopicFirehose)

	// Subscribe to just jobs.
	jobsSub := b.Subscribe("jobs-sub", TopicJobs)

	// Publish a job event.
	evt := &Event{
		Type:      EventJobCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-456"),
		Data:      json.RawMessage(`{}`),
	}
	b.publish(evt)

	// Both should receive the event.
	for _, sub := range []*Subscriber{firehose, jobsSub} {
		select {
		case <-sub.C():
			// ok
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s timed out", sub.ID())
		}
	}
}

func TestBrokerLaneTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	// Subscribe to the critical lane only.
	sub := b.Subscribe("lane-sub", LaneTopic("critical"))

	evt := &Event{
		Type:      EventJobStarted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-crit"),
		Lane:      "critical",
		Data:      json.RawMessage(`{}`),
	}
	b.publish(evt)

	select {
	case received := <-sub.C():
		if received.Lane != "critical" {
			t.Errorf("Lane = %q, want critical", received.Lane)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lane event")
	}

	// Publish event on a different lane — should NOT arrive.
	evt2 := &Event{
		Type:      EventJobStarted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-low"),
		Lane:      "low",
		Data:      json.RawMessage(`{}`),
	}
	b.publish(evt2)

	select {
	case <-sub.C():
		t.Fatal("should not receive event for different lane")
	case <-time.After(50 * time.Millisecond):
		// ok — no event
	}
}

func TestBrokerJobTopicIsolation(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	sub := b.Subscribe("job-sub", JobTopic("job-abc"))

	b.publish(&Event{
		Type:      EventJobCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-abc"),
		Data:      json.RawMessage(`{}`),
	})

	select {
	case <-sub.C():
		// ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job event")
	}

	// Different job — should NOT arrive.
	b.publish(&Event{
		Type:      EventJobCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("job-other"),
		Data:      json.RawMessage(`{}`),
	})

	select {
	case <-sub.C():
		t.Fatal("should not receive event for different job")
	case <-time.After(50 * time.Millisecond):
		// ok — no event
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	sub := b.Subscribe("sub-rm", TopicFirehose)

	// Remove subscriber.
	b.RemoveSubscriber("sub-rm")

	evt := &Event{
		Type:      EventJobEnqueued,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic("j1"),
		Data:      json.RawMessage(`{}`),
	}
	b.publish(evt)

	// Channel should be closed.
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("channel should be closed after RemoveSubscriber")
		}
	case <-time.After(100 * time.Millisecond):
		// ok
	}
}

func TestBrokerStats(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())

	_ = b.Subscribe("s1", TopicJobs)
	_ = b.Subscribe("s2", TopicFirehose, LaneTopic("high"))

	stats := b.Stats()
	if stats.SubscriberCount != 2 {
		t.Errorf("SubscriberCount = %d, want 2", stats.SubscriberCount)
	}
	if stats.TopicCount < 2 {
		t.Errorf("TopicCount = %d, want >= 2", stats.TopicCount)
	}
}

func TestBrokerLifecycleHooks(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("hook-sub", TopicFirehose)

	rec := &job.Record{
		ID:           id.NewJobID(),
		Type:         "send-email",
		Priority:     job.PriorityHigh,
		AttemptCount: 1,
	}

	ctx := context.Background()
	_ = b.OnJobEnqueued(ctx, rec)
	_ = b.OnJobStarted(ctx, rec)
	_ = b.OnJobCompleted(ctx, rec, 250*time.Millisecond)

	expected := []EventType{EventJobEnqueued, EventJobStarted, EventJobCompleted}
	for _, want := range expected {
		select {
		case evt := <-sub.C():
			if evt.Type != want {
				t.Errorf("Type = %q, want %q", evt.Type, want)
			}
			if evt.Lane != "high" {
				t.Errorf("Lane = %q, want high", evt.Lane)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	var data JobEventData
	_ = b.OnJobCompleted(ctx, rec, 250*time.Millisecond)
	evt := <-sub.C()
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal event data: %v", err)
	}
	if data.ElapsedMs != 250 {
		t.Errorf("ElapsedMs = %d, want 250", data.ElapsedMs)
	}
	if data.JobType != "send-email" {
		t.Errorf("JobType = %q, want send-email", data.JobType)
	}
}

func TestSubscriberCredits(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("credit-sub", 10, 2)

	evt := &Event{Type: EventJobEnqueued, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}

	// Should accept 2 events (initial credits).
	if !sub.send(evt) {
		t.Fatal("first send should succeed")
	}
	if !sub.send(evt) {
		t.Fatal("second send should succeed")
	}

	// Third should fail — no credits.
	if sub.send(evt) {
		t.Fatal("third send should fail (no credits)")
	}

	// Replenish credits.
	sub.AddCredits(5)
	if sub.Credits() != 5 {
		t.Errorf("Credits = %d, want 5", sub.Credits())
	}

	if !sub.send(evt) {
		t.Fatal("send after credit replenishment should succeed")
	}
}

func TestSubscriberFilter(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("filter-sub", 10, 100)
	sub.SetFilter(func(e *Event) bool {
		return e.Type == EventJobDeadLettered
	})

	// Should be rejected by filter.
	if sub.send(&Event{Type: EventJobCompleted, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}) {
		t.Fatal("completed event should be filtered out")
	}

	// Should pass filter.
	if !sub.send(&Event{Type: EventJobDeadLettered, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}) {
		t.Fatal("dead-letter event should pass filter")
	}
}

func TestTopicValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic string
		valid bool
	}{
		{TopicJobs, true},
		{TopicFirehose, true},
		{"job:job-123", true},
		{"lane:critical", true},
		{"invalid", false},
		{"unknown:entity", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := ValidateTopic(tt.topic)
			if tt.valid && err != nil {
				t.Errorf("ValidateTopic(%q) returned error: %v", tt.topic, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidateTopic(%q) should return error", tt.topic)
			}
		})
	}
}

func TestTopicRegistry(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()

	sub1 := NewSubscriber("s1", 10, 100)
	sub2 := NewSubscriber("s2", 10, 100)

	tr.Subscribe("topic-a", sub1)
	tr.Subscribe("topic-a", sub2)
	tr.Subscribe("topic-b", sub1)

	if tr.TopicCount() != 2 {
		t.Errorf("TopicCount = %d, want 2", tr.TopicCount())
	}
	if tr.SubscriberCount("topic-a") != 2 {
		t.Errorf("SubscriberCount(topic-a) = %d, want 2", tr.SubscriberCount("topic-a"))
	}

	// Unsubscribe s2 from topic-a.
	tr.Unsubscribe("topic-a", "s2")
	if tr.SubscriberCount("topic-a") != 1 {
		t.Errorf("SubscriberCount(topic-a) = %d, want 1", tr.SubscriberCount("topic-a"))
	}

	// UnsubscribeAll for s1.
	tr.UnsubscribeAll("s1")
	if tr.TopicCount() != 0 {
		t.Errorf("TopicCount after UnsubscribeAll = %d, want 0", tr.TopicCount())
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub := NewSubscriber("dedup-sub", 10, 100)

	// Subscribe to multiple topics.
	tr.Subscribe("topic-x", sub)
	tr.Subscribe("topic-y", sub)

	evt := &Event{Type: EventJobEnqueued, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}

	delivered, dropped := tr.Broadcast([]string{"topic-x", "topic-y"}, evt)
	if delivered != 1 {
		t.Errorf("Broadcast delivered to %d subscribers, want 1 (deduplicated)", delivered)
	}
	if dropped != 0 {
		t.Errorf("Broadcast dropped %d, want 0", dropped)
	}
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		evt      *Event
		expected []string
	}{
		{
			evt:      &Event{Type: EventJobEnqueued, Topic: "job:j1", Lane: "normal"},
			expected: []string{TopicFirehose, TopicJobs, "lane:normal", "job:j1"},
		},
		{
			evt:      &Event{Type: EventJobDeadLettered, Topic: "job:j2", Lane: "low"},
			expected: []string{TopicFirehose, TopicJobs, "lane:low", "job:j2"},
		},
		{
			evt:      &Event{Type: EventCronFired, Topic: ""},
			expected: []string{TopicFirehose},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.evt.Type), func(t *testing.T) {
			topics := resolveTopics(tt.evt)
			if len(topics) != len(tt.expected) {
				t.Errorf("got %d topics, want %d: %v", len(topics), len(tt.expected), topics)
				return
			}
			for i, topic := range topics {
				if topic != tt.expected[i] {
					t.Errorf("topic[%d] = %q, want %q", i, topic, tt.expected[i])
				}
			}
		})
	}
}

func TestCodecNegotiation(t *testing.T) {
	t.Parallel()

	if got := GetCodec("msgpack").Name(); got != CodecNameMsgpack {
		t.Errorf("GetCodec(msgpack).Name() = %q", got)
	}
	if got := GetCodec("json").Name(); got != CodecNameJSON {
		t.Errorf("GetCodec(json).Name() = %q", got)
	}
	// Unknown and empty names fall back to JSON.
	if got := GetCodec("").Name(); got != CodecNameJSON {
		t.Errorf("GetCodec(\"\").Name() = %q", got)
	}
	if got := GetCodec("protobuf").Name(); got != CodecNameJSON {
		t.Errorf("GetCodec(protobuf).Name() = %q", got)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	evt := &Event{
		Type:      EventJobRetrying,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Topic:     JobTopic("job-rt"),
		Lane:      "high",
		Data:      json.RawMessage(`{"job_id":"job-rt","attempt":2}`),
	}

	for _, codec := range []Codec{&JSONCodec{}, &MsgpackCodec{}} {
		data, err := codec.Encode(evt)
		if err != nil {
			t.Fatalf("%s: Encode: %v", codec.Name(), err)
		}
		decoded, err := codec.Decode(data)
		if err != nil {
			t.Fatalf("%s: Decode: %v", codec.Name(), err)
		}
		if decoded.Type != evt.Type {
			t.Errorf("%s: Type = %q, want %q", codec.Name(), decoded.Type, evt.Type)
		}
		if decoded.Lane != evt.Lane {
			t.Errorf("%s: Lane = %q, want %q", codec.Name(), decoded.Lane, evt.Lane)
		}
		if decoded.Topic != evt.Topic {
			t.Errorf("%s: Topic = %q, want %q", codec.Name(), decoded.Topic, evt.Topic)
		}
	}
}
