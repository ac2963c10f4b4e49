package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalogsync_stream_clients",
		Help: "Number of connected progress stream clients",
	})
	pushCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalogsync_stream_push_total",
		Help: "Total number of progress records pushed to stream clients",
	})
	dropCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalogsync_stream_drop_total",
		Help: "Stream clients disconnected for falling behind",
	})

	rowsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_ingest_rows_total",
		Help: "Ingested rows by outcome",
	}, []string{"outcome"})
	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalogsync_ingest_batch_duration_seconds",
		Help:    "Time spent writing one ingestion batch",
		Buckets: prometheus.DefBuckets,
	})

	activeTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalogsync_tasks_active",
		Help: "Tasks currently executing",
	}, []string{"kind"})
	taskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_tasks_finished_total",
		Help: "Task executions by kind and outcome",
	}, []string{"kind", "outcome"})
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalogsync_task_duration_seconds",
		Help:    "Duration of task executions",
		Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"kind"})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_webhook_deliveries_total",
		Help: "Webhook delivery sequences by event and result",
	}, []string{"event", "success"})
	deliveryAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalogsync_webhook_delivery_attempts",
		Help:    "HTTP attempts per delivery sequence",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 11},
	})
	deliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalogsync_webhook_delivery_duration_seconds",
		Help:    "Wall time of a delivery sequence, retries included",
		Buckets: prometheus.DefBuckets,
	})
)

type prometheusObserver struct {
	onlineGauge prometheus.Gauge
	pushCounter prometheus.Counter
	dropCounter prometheus.Counter
}

func NewPrometheusObserver() HubObserver {
	return &prometheusObserver{
		onlineGauge: onlineGauge,
		pushCounter: pushCounter,
		dropCounter: dropCounter,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) IncOnline() {
	p.onlineGauge.Inc()
}
func (p *prometheusObserver) DecOnline() {
	p.onlineGauge.Dec()
}
func (p *prometheusObserver) RecordPush() {
	p.pushCounter.Inc()
}
func (p *prometheusObserver) RecordDrop() {
	p.dropCounter.Inc()
}

type pipelineObserver struct{}

func NewPipelineObserver() PipelineObserver {
	return pipelineObserver{}
}

func (pipelineObserver) ObserveBatch(created, updated, invalid int, elapsed time.Duration) {
	rowsCounter.WithLabelValues("created").Add(float64(created))
	rowsCounter.WithLabelValues("updated").Add(float64(updated))
	rowsCounter.WithLabelValues("invalid").Add(float64(invalid))
	batchDuration.Observe(elapsed.Seconds())
}

func (pipelineObserver) TaskStarted(kind string) {
	activeTasks.WithLabelValues(kind).Inc()
}

func (pipelineObserver) TaskFinished(kind, outcome string, elapsed time.Duration) {
	activeTasks.WithLabelValues(kind).Dec()
	taskOutcomes.WithLabelValues(kind, outcome).Inc()
	taskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (pipelineObserver) ObserveDelivery(event string, success bool, attempts int, elapsed time.Duration) {
	deliveries.WithLabelValues(event, strconv.FormatBool(success)).Inc()
	deliveryAttempts.Observe(float64(attempts))
	deliveryDuration.Observe(elapsed.Seconds())
}
