package sink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/pdfcrawl/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

func statusEvent() model.Event {
	st := model.CrawlStatus{
		RunID:         "run-1",
		SeedURL:       "https://example.com/",
		State:         model.StateRunning,
		IsRunning:     true,
		MaxDepth:      2,
		URLsProcessed: 3,
	}
	return model.Event{Kind: model.EventStatus, RunID: "run-1", Time: time.Unix(100, 0), Status: &st}
}

func recordEvent() model.Event {
	rec := model.PDFRecord{
		URL:         "https://example.com/a.pdf",
		Filename:    "a.pdf",
		SourceURL:   "https://example.com/docs",
		ContentType: "application/pdf",
		Size:        model.Int64Ptr(99),
		Status:      model.StatusFound,
	}
	return model.Event{Kind: model.EventPDFFound, RunID: "run-1", Time: time.Unix(101, 0), Record: &rec}
}

type fakeSink struct {
	mu     sync.Mutex
	events []model.Event
	err    error
	closed bool
}

func (f *fakeSink) Publish(_ context.Context, ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeSink) Close() error {
	f.closed = true
	return f.err
}

// TestMulti tests fan-out publishing.
func TestMulti(t *testing.T) {
	t.Parallel()

	t.Run("delivers to all sinks despite failures", func(t *testing.T) {
		t.Parallel()

		bad := &fakeSink{err: errors.New("down")}
		good := &fakeSink{}
		m := NewMulti(bad, nil, good)

		if m.Len() != 2 {
			t.Errorf("expected nil sink to be skipped, got %d sinks", m.Len())
		}
		err := m.Publish(context.Background(), statusEvent())
		if err == nil || !strings.Contains(err.Error(), "down") {
			t.Errorf("expected joined error, got %v", err)
		}
		if len(good.events) != 1 {
			t.Errorf("expected healthy sink to receive the event, got %d", len(good.events))
		}
	})

	t.Run("close closes all", func(t *testing.T) {
		t.Parallel()

		a, b := &fakeSink{}, &fakeSink{}
		if err := NewMulti(a, b).Close(); err != nil {
			t.Fatal(err)
		}
		if !a.closed || !b.closed {
			t.Error("expected every sink closed")
		}
	})

	t.Run("empty multi is a no-op", func(t *testing.T) {
		t.Parallel()

		if err := NewMulti().Publish(context.Background(), statusEvent()); err != nil {
			t.Errorf("unexpected error %v", err)
		}
	})
}

type redisCall struct {
	cmd string
	key string
	arg []any
	ttl time.Duration
}

type fakeRedis struct {
	mu     sync.Mutex
	calls  []redisCall
	err    error
	closed bool
}

func (f *fakeRedis) record(c redisCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	f.record(redisCall{cmd: "SET", key: key, arg: []any{value}, ttl: exp})
	return redis.NewStatusResult("OK", f.err)
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	f.record(redisCall{cmd: "HSET", key: key, arg: values})
	return redis.NewIntResult(1, f.err)
}

func (f *fakeRedis) Expire(_ context.Context, key string, exp time.Duration) *redis.BoolCmd {
	f.record(redisCall{cmd: "EXPIRE", key: key, ttl: exp})
	return redis.NewBoolResult(true, f.err)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

// TestRedisSink tests the Redis mirror.
func TestRedisSink(t *testing.T) {
	t.Parallel()

	t.Run("status is stored as JSON with TTL", func(t *testing.T) {
		t.Parallel()

		client := &fakeRedis{}
		s := newRedisSink(client, WithRedisPrefix("test:"), WithRedisTTL(time.Minute))

		if err := s.Publish(context.Background(), statusEvent()); err != nil {
			t.Fatal(err)
		}
		if len(client.calls) != 1 {
			t.Fatalf("expected 1 call, got %d", len(client.calls))
		}
		call := client.calls[0]
		if call.cmd != "SET" || call.key != "test:run-1" || call.ttl != time.Minute {
			t.Errorf("unexpected call %+v", call)
		}

		var st model.CrawlStatus
		if err := json.Unmarshal(call.arg[0].([]byte), &st); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		if st.URLsProcessed != 3 || st.State != model.StateRunning {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("records go to a hash keyed by URL", func(t *testing.T) {
		t.Parallel()

		client := &fakeRedis{}
		s := newRedisSink(client)

		if err := s.Publish(context.Background(), recordEvent()); err != nil {
			t.Fatal(err)
		}
		if len(client.calls) != 2 {
			t.Fatalf("expected HSET and EXPIRE, got %+v", client.calls)
		}
		hset := client.calls[0]
		if hset.cmd != "HSET" || hset.key != s.RecordsKey("run-1") || hset.arg[0] != "https://example.com/a.pdf" {
			t.Errorf("unexpected HSET %+v", hset)
		}
		if client.calls[1].cmd != "EXPIRE" {
			t.Errorf("expected EXPIRE, got %s", client.calls[1].cmd)
		}
	})

	t.Run("zero TTL skips expire", func(t *testing.T) {
		t.Parallel()

		client := &fakeRedis{}
		s := newRedisSink(client, WithRedisTTL(0))
		if err := s.Publish(context.Background(), recordEvent()); err != nil {
			t.Fatal(err)
		}
		if len(client.calls) != 1 {
			t.Errorf("expected only HSET, got %+v", client.calls)
		}
	})

	t.Run("client errors are wrapped", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("connection refused")
		s := newRedisSink(&fakeRedis{err: boom})
		if err := s.Publish(context.Background(), statusEvent()); !errors.Is(err, boom) {
			t.Errorf("expected wrapped error, got %v", err)
		}
	})

	t.Run("close closes client", func(t *testing.T) {
		t.Parallel()

		client := &fakeRedis{}
		if err := newRedisSink(client).Close(); err != nil {
			t.Fatal(err)
		}
		if !client.closed {
			t.Error("expected client closed")
		}
	})
}

type fakeKafkaWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

// TestKafkaSink tests the event stream.
func TestKafkaSink(t *testing.T) {
	t.Parallel()

	t.Run("writes keyed JSON messages", func(t *testing.T) {
		t.Parallel()

		w := &fakeKafkaWriter{}
		s := NewKafkaSinkWithWriter(w)

		if err := s.Publish(context.Background(), recordEvent()); err != nil {
			t.Fatal(err)
		}
		if len(w.msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(w.msgs))
		}
		msg := w.msgs[0]
		if string(msg.Key) != "run-1" {
			t.Errorf("unexpected key %q", msg.Key)
		}
		if !msg.Time.Equal(time.Unix(101, 0)) {
			t.Errorf("unexpected time %v", msg.Time)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(model.EventPDFFound) {
			t.Errorf("unexpected headers %+v", msg.Headers)
		}

		var ev model.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		if ev.Record == nil || ev.Record.URL != "https://example.com/a.pdf" {
			t.Errorf("unexpected event %+v", ev)
		}
	})

	t.Run("writer errors are returned", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("broker down")
		s := NewKafkaSinkWithWriter(&fakeKafkaWriter{err: boom})
		if err := s.Publish(context.Background(), statusEvent()); !errors.Is(err, boom) {
			t.Errorf("expected wrapped error, got %v", err)
		}
	})

	t.Run("close closes writer", func(t *testing.T) {
		t.Parallel()

		w := &fakeKafkaWriter{}
		if err := NewKafkaSinkWithWriter(w).Close(); err != nil {
			t.Fatal(err)
		}
		if !w.closed {
			t.Error("expected writer closed")
		}
	})
}

type fakeRunner struct {
	mu      sync.Mutex
	queries []string
	params  []map[string]any
	err     error
}

func (f *fakeRunner) Write(_ context.Context, query string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.params = append(f.params, params)
	return f.err
}

func (f *fakeRunner) Close(context.Context) error { return nil }

// TestNeo4jSink tests the link graph writer.
func TestNeo4jSink(t *testing.T) {
	t.Parallel()

	t.Run("record links page to PDF", func(t *testing.T) {
		t.Parallel()

		r := &fakeRunner{}
		s := &Neo4jSink{runner: r}
		if err := s.Publish(context.Background(), recordEvent()); err != nil {
			t.Fatal(err)
		}
		if len(r.queries) != 1 {
			t.Fatalf("expected 1 query, got %d", len(r.queries))
		}
		if !strings.Contains(r.queries[0], "[r:LINKS_TO {run_id: $run_id}]") {
			t.Errorf("unexpected query %q", r.queries[0])
		}
		p := r.params[0]
		if p["source"] != "https://example.com/docs" || p["url"] != "https://example.com/a.pdf" || p["size"] != int64(99) {
			t.Errorf("unexpected params %v", p)
		}
	})

	t.Run("status merges run node", func(t *testing.T) {
		t.Parallel()

		r := &fakeRunner{}
		s := &Neo4jSink{runner: r}
		if err := s.Publish(context.Background(), statusEvent()); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(r.queries[0], "MERGE (r:Run {id: $run_id})") {
			t.Errorf("unexpected query %q", r.queries[0])
		}
		if r.params[0]["seed"] != "https://example.com/" || r.params[0]["state"] != "running" {
			t.Errorf("unexpected params %v", r.params[0])
		}
	})

	t.Run("unknown size is null", func(t *testing.T) {
		t.Parallel()

		rec := model.PDFRecord{URL: "https://example.com/x.pdf", SourceURL: "https://example.com/"}
		_, params := buildRecordQuery("run-1", rec)
		if params["size"] != nil {
			t.Errorf("expected nil size, got %v", params["size"])
		}
	})

	t.Run("empty event is ignored", func(t *testing.T) {
		t.Parallel()

		r := &fakeRunner{}
		s := &Neo4jSink{runner: r}
		if err := s.Publish(context.Background(), model.Event{Kind: model.EventStatus}); err != nil {
			t.Fatal(err)
		}
		if len(r.queries) != 0 {
			t.Error("expected no query")
		}
	})

	t.Run("runner errors are wrapped", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("unavailable")
		s := &Neo4jSink{runner: &fakeRunner{err: boom}}
		if err := s.Publish(context.Background(), recordEvent()); !errors.Is(err, boom) {
			t.Errorf("expected wrapped error, got %v", err)
		}
	})
}
