// Package webhook delivers domain events to subscribed HTTP endpoints.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/events"
	"catalogsync/internal/model"
	"catalogsync/internal/retry"
	v1 "catalogsync/pkg/api/v1"
	"catalogsync/pkg/constraints"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
)

var (
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")
	// ErrNotSubscribed means the subscription was deactivated or dropped the
	// event after the delivery was planned.
	ErrNotSubscribed = errors.New("subscription no longer receives this event")
)

// Store is the subscription side of persistence the dispatcher needs.
type Store interface {
	Get(ctx context.Context, id uint64) (*model.WebhookSubscription, error)
	ListActiveByEvent(ctx context.Context, event string) ([]model.WebhookSubscription, error)
	RecordDelivery(ctx context.Context, log *model.WebhookDeliveryLog, updateStats bool) error
}

type Observer interface {
	ObserveDelivery(event string, success bool, attempts int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveDelivery(string, bool, int, time.Duration) {}

type Options struct {
	// BackoffUnit scales the 2^n retry delay.
	BackoffUnit time.Duration
	UserAgent   string
}

func DefaultOptions() Options {
	return Options{BackoffUnit: time.Second, UserAgent: constraints.DefaultUserAgent}
}

type Dispatcher struct {
	store     Store
	transport Transport
	observer  Observer
	opts      Options
}

func NewDispatcher(store Store, transport Transport, opts Options, observer Observer) *Dispatcher {
	def := DefaultOptions()
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = def.BackoffUnit
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{store: store, transport: transport, observer: observer, opts: opts}
}

// Outcome summarizes one delivery attempt sequence.
type Outcome struct {
	SubscriptionID uint64 `json:"subscription_id"`
	Success        bool   `json:"success"`
	StatusCode     *int   `json:"status_code,omitempty"`
	Attempts       int    `json:"attempts"`
	ElapsedMS      int64  `json:"elapsed_ms"`
	Error          string `json:"error,omitempty"`
}

// Targets lists the active subscriptions of an event. Each one gets its
// own delivery so that one subscriber's retries never eat into another's
// time budget.
func (d *Dispatcher) Targets(ctx context.Context, event string) ([]model.WebhookSubscription, error) {
	subs, err := d.store.ListActiveByEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", event, err)
	}
	return subs, nil
}

// Deliver runs one attempt sequence of ev against a subscription and logs
// it. The subscription is re-read so that changes made since the event was
// fanned out apply. A failed delivery is reported in the outcome; only a
// failed lookup is an error. Cancelling ctx ends the sequence after the
// attempt in flight.
func (d *Dispatcher) Deliver(ctx context.Context, subscriptionID uint64, ev events.Event) (*Outcome, error) {
	sub, err := d.store.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	if !sub.Active || !sub.Subscribes(ev.Name) {
		return nil, ErrNotSubscribed
	}

	out := d.deliver(ctx, sub, ev, false)
	return &out, nil
}

// Test sends a delivery to one subscription regardless of its active flag
// or event set. The attempt is logged as a test and leaves counters alone.
// An empty event defaults to the first subscribed event; nil data to a
// canned test payload.
func (d *Dispatcher) Test(ctx context.Context, subscriptionID uint64, event string, data any) (*Outcome, error) {
	sub, err := d.store.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}

	if event == "" {
		event = events.EntityCreated
		if len(sub.Events) > 0 {
			event = sub.Events[0]
		}
	}
	if data == nil {
		data = map[string]any{
			"test":       true,
			"message":    "This is a test webhook from CatalogSync",
			"webhook_id": sub.ID,
		}
	}
	ev, err := events.New(event, data)
	if err != nil {
		return nil, err
	}

	out := d.deliver(ctx, sub, ev, true)
	return &out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, sub *model.WebhookSubscription, ev events.Event, test bool) Outcome {
	log := logger.With(zap.Uint64("subscription_id", sub.ID), zap.String("event", ev.Name))
	out := Outcome{SubscriptionID: sub.ID}

	body, err := json.Marshal(v1.Envelope{Event: ev.Name, Timestamp: ev.OccurredAt, Data: ev.Data})
	if err != nil {
		out.Error = "encode payload: " + err.Error()
		d.record(ctx, sub, ev, body, out, nil, test)
		return out
	}

	req := Request{
		URL:     sub.URL,
		Body:    body,
		Headers: d.headers(sub, ev.Name, body),
		Timeout: timeoutOf(sub),
	}

	// In-flight attempts run to completion on cancellation; retry.Do stops
	// before the next one.
	sendCtx := context.WithoutCancel(ctx)
	var last *Response
	start := time.Now()
	attempts, err := retry.Do(ctx, retry.Exponential(retryBudget(sub), d.opts.BackoffUnit), func(_ context.Context, attempt int) error {
		resp, sendErr := d.transport.Send(sendCtx, req)
		last = resp
		if sendErr != nil {
			log.Debug("webhook attempt failed", zap.Int("attempt", attempt), zap.Error(sendErr))
			return sendErr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			log.Debug("webhook attempt rejected", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Body)
		}
		return nil
	})
	elapsed := time.Since(start)

	out.Attempts = attempts
	out.ElapsedMS = elapsed.Milliseconds()
	out.Success = err == nil
	if err != nil {
		out.Error = err.Error()
	}
	if last != nil {
		code := last.StatusCode
		out.StatusCode = &code
	}

	d.observer.ObserveDelivery(ev.Name, out.Success, attempts, elapsed)
	d.record(ctx, sub, ev, body, out, last, test)

	if out.Success {
		log.Info("webhook delivered", zap.Int("attempts", attempts), zap.Int64("elapsed_ms", out.ElapsedMS))
	} else {
		log.Warn("webhook delivery failed", zap.Int("attempts", attempts), zap.String("error", out.Error))
	}
	return out
}

func (d *Dispatcher) record(ctx context.Context, sub *model.WebhookSubscription, ev events.Event, body []byte, out Outcome, last *Response, test bool) {
	entry := &model.WebhookDeliveryLog{
		SubscriptionID: sub.ID,
		Event:          ev.Name,
		Payload:        string(body),
		StatusCode:     out.StatusCode,
		ElapsedMS:      out.ElapsedMS,
		Attempts:       out.Attempts,
		Success:        out.Success,
		Test:           test,
	}
	if last != nil {
		respBody := last.Body
		entry.ResponseBody = &respBody
	}
	if out.Error != "" {
		e := out.Error
		entry.Error = &e
	}

	if err := d.store.RecordDelivery(context.WithoutCancel(ctx), entry, !test); err != nil {
		logger.Error("failed to record webhook delivery",
			zap.Uint64("subscription_id", sub.ID), zap.String("event", ev.Name), zap.Error(err))
	}
}

func (d *Dispatcher) headers(sub *model.WebhookSubscription, event string, body []byte) map[string]string {
	h := make(map[string]string, len(sub.Headers)+4)
	h["Content-Type"] = "application/json"
	h["User-Agent"] = d.opts.UserAgent
	h[constraints.HeaderEvent] = event
	for k, v := range sub.Headers {
		h[k] = v
	}
	if sub.Secret != nil && *sub.Secret != "" {
		h[constraints.HeaderSignature] = v1.Sign(*sub.Secret, body)
	}
	return h
}

func timeoutOf(sub *model.WebhookSubscription) time.Duration {
	if sub.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(sub.TimeoutSeconds) * time.Second
}

func retryBudget(sub *model.WebhookSubscription) int {
	switch {
	case sub.RetryCount < 0:
		return 0
	case sub.RetryCount > MaxRetryCount:
		return MaxRetryCount
	default:
		return sub.RetryCount
	}
}
