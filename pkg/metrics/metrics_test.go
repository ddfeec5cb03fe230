package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/reagent-go/reagent/pkg/reagent"
)

func TestHooksRecordEngineActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	hooks := New(WithRegistry(reg))

	engine := reagent.New(
		reagent.WithManualFlush(),
		reagent.WithHooks(hooks),
	)
	defer engine.Close()

	cell := engine.Wrap(map[string]any{"n": 0})
	sub := engine.Subscribe(cell, "n", func([]string) {})
	cell.Set("n", 1)
	engine.QueueJob(reagent.NewJob("work", func([]any) {}))
	engine.FlushSync()
	sub.Dispose()

	if got := testutil.ToFloat64(hooks.cells); got != 1 {
		t.Errorf("cells_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(hooks.notifications.WithLabelValues("sync")); got != 1 {
		t.Errorf("notifications_total{mode=sync} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(hooks.subscriptions); got != 0 {
		t.Errorf("subscriptions_active = %v after dispose, want 0", got)
	}
	if got := testutil.ToFloat64(hooks.jobsQueued.WithLabelValues("main")); got != 1 {
		t.Errorf("jobs_queued_total{lane=main} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(hooks.jobsExecuted.WithLabelValues("main")); got != 1 {
		t.Errorf("jobs_executed_total{lane=main} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(hooks.flushes); got != 1 {
		t.Errorf("flushes_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(hooks.queueDepth.WithLabelValues("main")); got != 0 {
		t.Errorf("queue_depth{lane=main} = %v after flush, want 0", got)
	}
}

func TestHooksRecordJobErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	hooks := New(WithRegistry(reg))

	engine := reagent.New(
		reagent.WithManualFlush(),
		reagent.WithHooks(hooks),
	)
	defer engine.Close()

	engine.QueueJob(reagent.NewJob("boom", func([]any) { panic("x") }))
	engine.FlushSync()

	if got := testutil.ToFloat64(hooks.jobErrors.WithLabelValues("main")); got != 1 {
		t.Errorf("job_errors_total{lane=main} = %v, want 1", got)
	}
}

func TestWithNamespaceAndConstLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	hooks := New(
		WithRegistry(reg),
		WithNamespace("myapp"),
		WithSubsystem("reactive"),
		WithConstLabels(prometheus.Labels{"instance": "a"}),
	)
	hooks.CellWrapped()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "myapp_reactive_cells_total" {
			found = true
		}
	}
	if !found {
		t.Error("namespaced metric myapp_reactive_cells_total not registered")
	}
}

type recordingHooks struct {
	cells   int
	flushes int
}

func (r *recordingHooks) CellWrapped()                     { r.cells++ }
func (r *recordingHooks) NotifyDelivered(bool)             {}
func (r *recordingHooks) SubscriptionOpened()              {}
func (r *recordingHooks) SubscriptionClosed()              {}
func (r *recordingHooks) JobQueued(reagent.Lane, int)      {}
func (r *recordingHooks) JobExecuted(reagent.Lane)         {}
func (r *recordingHooks) JobFailed(reagent.Lane)           {}
func (r *recordingHooks) FlushStarted()                    {}
func (r *recordingHooks) FlushFinished(time.Duration, int) { r.flushes++ }

func TestCombineFansOut(t *testing.T) {
	a := &recordingHooks{}
	b := &recordingHooks{}
	combined := Combine(a, b)

	combined.CellWrapped()
	combined.FlushFinished(time.Millisecond, 3)

	if a.cells != 1 || b.cells != 1 {
		t.Errorf("cells = %d/%d, want 1/1", a.cells, b.cells)
	}
	if a.flushes != 1 || b.flushes != 1 {
		t.Errorf("flushes = %d/%d, want 1/1", a.flushes, b.flushes)
	}
}
