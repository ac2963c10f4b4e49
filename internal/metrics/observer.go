package metrics

import "time"

// HubObserver tracks progress-stream clients.
type HubObserver interface {
	IncOnline()
	DecOnline()
	RecordPush()
	RecordDrop()
}

// PipelineObserver receives ingestion, task and webhook delivery statistics.
type PipelineObserver interface {
	ObserveBatch(created, updated, invalid int, elapsed time.Duration)
	TaskStarted(kind string)
	TaskFinished(kind, outcome string, elapsed time.Duration)
	ObserveDelivery(event string, success bool, attempts int, elapsed time.Duration)
}
