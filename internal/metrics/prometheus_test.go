package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusObserver(t *testing.T) {
	obs := NewPrometheusObserver()

	before := testutil.ToFloat64(onlineGauge)
	obs.IncOnline()
	obs.IncOnline()
	obs.DecOnline()
	obs.RecordPush()
	obs.RecordDrop()

	if got := testutil.ToFloat64(onlineGauge) - before; got != 1 {
		t.Errorf("online delta = %v, want 1", got)
	}
}

func TestPipelineObserver(t *testing.T) {
	obs := NewPipelineObserver()

	created := testutil.ToFloat64(rowsCounter.WithLabelValues("created"))
	invalid := testutil.ToFloat64(rowsCounter.WithLabelValues("invalid"))
	obs.ObserveBatch(2, 1, 3, 10*time.Millisecond)
	if got := testutil.ToFloat64(rowsCounter.WithLabelValues("created")) - created; got != 2 {
		t.Errorf("created delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(rowsCounter.WithLabelValues("invalid")) - invalid; got != 3 {
		t.Errorf("invalid delta = %v, want 3", got)
	}

	obs.TaskStarted("ingestion")
	if got := testutil.ToFloat64(activeTasks.WithLabelValues("ingestion")); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
	obs.TaskFinished("ingestion", "succeeded", time.Second)
	if got := testutil.ToFloat64(activeTasks.WithLabelValues("ingestion")); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(taskOutcomes.WithLabelValues("ingestion", "succeeded")); got != 1 {
		t.Errorf("succeeded = %v, want 1", got)
	}

	obs.ObserveDelivery("entity.created", false, 4, 7*time.Second)
	if got := testutil.ToFloat64(deliveries.WithLabelValues("entity.created", "false")); got != 1 {
		t.Errorf("failed deliveries = %v, want 1", got)
	}
}
