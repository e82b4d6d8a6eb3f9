package logging_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"spellforge/server/logging"
	"spellforge/server/logging/sinks"
)

func TestRouterDeliversToSinksAndAppliesFields(t *testing.T) {
	memory := sinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityDebug
	cfg.Fields = map[string]any{"node": "alpha"}
	fixed := time.Unix(1700000000, 0)
	router, err := logging.NewRouter(logging.ClockFunc(func() time.Time { return fixed }), cfg, nil, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}

	router.Publish(context.Background(), logging.Event{Type: "test.event", Tick: 7, Severity: logging.SeverityInfo})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !memory.Wait(ctx, 1) {
		t.Fatalf("expected event to reach memory sink")
	}
	if err := router.Close(ctx); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].Time.Equal(fixed) {
		t.Fatalf("expected clock time to be stamped, got %v", events[0].Time)
	}
	if events[0].Extra["node"] != "alpha" {
		t.Fatalf("expected default field to be merged, got %#v", events[0].Extra)
	}
	if stats := router.Stats(); stats.EventsTotal != 1 {
		t.Fatalf("expected 1 routed event, got %d", stats.EventsTotal)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	memory := sinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn
	router, err := logging.NewRouter(nil, cfg, nil, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}

	router.Publish(context.Background(), logging.Event{Type: "test.debug", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "test.warn", Severity: logging.SeverityWarn})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	events := memory.Events()
	if len(events) != 1 || events[0].Type != "test.warn" {
		t.Fatalf("expected only the warn event, got %#v", events)
	}
}

func TestRouterPublishAfterCloseIsIgnored(t *testing.T) {
	memory := sinks.NewMemorySink()
	router, err := logging.NewRouter(nil, logging.DefaultConfig(), nil, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := router.Close(ctx); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	router.Publish(context.Background(), logging.Event{Type: "late", Severity: logging.SeverityError})
	if len(memory.Events()) != 0 {
		t.Fatalf("expected no events after close")
	}
}

func TestNilRouterPublishIsSafe(t *testing.T) {
	var router *logging.Router
	router.Publish(context.Background(), logging.Event{Type: "noop"})
	if stats := router.Stats(); stats.EventsTotal != 0 {
		t.Fatalf("expected zero stats from nil router")
	}
}

func TestMetricsAddAndStore(t *testing.T) {
	metrics := logging.NewMetrics()
	metrics.TelemetryAdd("casts_total", 2)
	metrics.TelemetryAdd("casts_total", 3)
	metrics.TelemetryStore("queue_depth", 9)
	metrics.TelemetryStore("queue_depth", 4)

	if got := metrics.Value("casts_total"); got != 5 {
		t.Fatalf("expected counter 5, got %d", got)
	}
	if got := metrics.Value("queue_depth"); got != 4 {
		t.Fatalf("expected gauge 4, got %d", got)
	}
	keys := metrics.Keys()
	if len(keys) != 2 || keys[0] != "casts_total" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

// gateClock parks the dispatcher inside its first Now call so tests can fill
// the queues deterministically.
type gateClock struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGateClock() *gateClock {
	return &gateClock{entered: make(chan struct{}), release: make(chan struct{})}
}

func (c *gateClock) Now() time.Time {
	c.once.Do(func() {
		close(c.entered)
		<-c.release
	})
	return time.Unix(1700000000, 0)
}

func TestRouterSpillsRetainedEventsWhenQueueFull(t *testing.T) {
	memory := sinks.NewMemorySink()
	clock := newGateClock()
	cfg := logging.DefaultConfig()
	cfg.BufferSize = 1
	cfg.ReservedBuffer = 1
	router, err := logging.NewRouter(clock, cfg, nil, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	ctx := context.Background()

	router.Publish(ctx, logging.Event{Type: "held", Severity: logging.SeverityInfo, Category: logging.CategoryCasting})
	<-clock.entered

	router.Publish(ctx, logging.Event{Type: "queued", Severity: logging.SeverityInfo, Category: logging.CategoryCasting})
	router.Publish(ctx, logging.Event{Type: "routine", Severity: logging.SeverityInfo, Category: logging.CategoryCasting})
	router.Publish(ctx, logging.Event{Type: "joined", Severity: logging.SeverityInfo, Category: logging.CategoryLifecycle})
	router.Publish(ctx, logging.Event{Type: "late-warn", Severity: logging.SeverityWarn, Category: logging.CategoryToggles})
	router.Publish(ctx, logging.Event{Type: "bare", Severity: logging.SeverityInfo})

	stats := router.Stats()
	if stats.SpilledTotal != 1 {
		t.Fatalf("expected 1 spilled event, got %d", stats.SpilledTotal)
	}
	if stats.DroppedTotal != 3 {
		t.Fatalf("expected 3 dropped events, got %d", stats.DroppedTotal)
	}
	if stats.DroppedByCategory[logging.CategoryCasting] != 1 || stats.DroppedByCategory[logging.CategoryToggles] != 1 || stats.DroppedByCategory["uncategorized"] != 1 {
		t.Fatalf("unexpected per-category drops %#v", stats.DroppedByCategory)
	}
	if _, ok := stats.DroppedByCategory[logging.CategoryLifecycle]; ok {
		t.Fatalf("lifecycle event should not have been dropped")
	}

	close(clock.release)
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if !memory.Wait(waitCtx, 3) {
		t.Fatalf("expected 3 delivered events, got %d", len(memory.Events()))
	}
	if err := router.Close(waitCtx); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	events := memory.Events()
	got := make([]logging.EventType, 0, len(events))
	for _, event := range events {
		got = append(got, event.Type)
	}
	if len(got) != 3 || got[0] != "held" || got[1] != "joined" || got[2] != "queued" {
		t.Fatalf("expected reserved lane to drain before the queue, got %v", got)
	}
}

func TestRouterRetainedRules(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.RetainCategories = []string{logging.CategoryRuntime}
	cfg.RetainSeverity = logging.SeverityError
	router, err := logging.NewRouter(nil, cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	defer router.Close(context.Background())

	cases := []struct {
		name  string
		event logging.Event
		want  bool
	}{
		{"retained category", logging.Event{Category: logging.CategoryRuntime, Severity: logging.SeverityDebug}, true},
		{"other category", logging.Event{Category: logging.CategoryLifecycle, Severity: logging.SeverityWarn}, false},
		{"severity threshold", logging.Event{Category: logging.CategoryCasting, Severity: logging.SeverityError}, true},
		{"no category", logging.Event{Severity: logging.SeverityInfo}, false},
	}
	for _, tc := range cases {
		if got := router.Retained(tc.event); got != tc.want {
			t.Fatalf("%s: expected retained=%v, got %v", tc.name, tc.want, got)
		}
	}

	cfg.RetainSeverity = logging.SeverityDebug
	lenient, err := logging.NewRouter(nil, cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	defer lenient.Close(context.Background())
	if lenient.Retained(logging.Event{Category: logging.CategoryCasting, Severity: logging.SeverityError}) {
		t.Fatalf("expected debug threshold to disable the severity rule")
	}
}
