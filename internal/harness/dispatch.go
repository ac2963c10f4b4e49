package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"catalogsync/internal/config"
	"catalogsync/internal/events"
	"catalogsync/internal/model"
	"catalogsync/internal/retry"
	"catalogsync/internal/webhook"
	"catalogsync/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errFanoutStopped = errors.New("fan-out stopped before every delivery was queued")

type TargetLister interface {
	Targets(ctx context.Context, event string) ([]model.WebhookSubscription, error)
}

type ChildSubmitter interface {
	SubmitOnce(ctx context.Context, task *model.Task) (bool, error)
}

type SubscriptionDeliverer interface {
	Deliver(ctx context.Context, subscriptionID uint64, ev events.Event) (*webhook.Outcome, error)
}

// DeliveryPayload is stored with a webhook delivery task.
type DeliveryPayload struct {
	SubscriptionID uint64       `json:"subscription_id"`
	Event          events.Event `json:"event"`
}

// FanoutResult is stored with a finished webhook dispatch task.
type FanoutResult struct {
	Event      string   `json:"event"`
	Deliveries []string `json:"deliveries"`
}

// DispatchJob turns the event stored in a webhook dispatch task into one
// delivery task per active subscription. Child IDs derive from the parent
// and the subscription, so a retried fan-out never queues a delivery twice.
func DispatchJob(targets TargetLister, submit ChildSubmitter, limits config.JobLimits) Job {
	return Job{
		Kind:   model.KindWebhookDispatch,
		Limits: limits,
		Run: func(ctx context.Context, exec *Execution) (any, error) {
			var ev events.Event
			if err := json.Unmarshal([]byte(exec.Task.Payload), &ev); err != nil {
				return nil, retry.Permanent(fmt.Errorf("decode event: %w", err))
			}
			subs, err := targets.Targets(ctx, ev.Name)
			if err != nil {
				return nil, err
			}

			res := &FanoutResult{Event: ev.Name, Deliveries: make([]string, 0, len(subs))}
			for _, sub := range subs {
				select {
				case <-exec.Stop:
					return res, errFanoutStopped
				default:
				}

				payload, err := json.Marshal(DeliveryPayload{SubscriptionID: sub.ID, Event: ev})
				if err != nil {
					return res, retry.Permanent(err)
				}
				child := &model.Task{
					ID:          deliveryTaskID(exec.Task.ID, sub.ID),
					Kind:        model.KindWebhookDelivery,
					Payload:     string(payload),
					InitiatedBy: "dispatch",
					TraceID:     exec.Task.TraceID,
				}
				if _, err := submit.SubmitOnce(ctx, child); err != nil {
					return res, fmt.Errorf("queue delivery to subscription %d: %w", sub.ID, err)
				}
				res.Deliveries = append(res.Deliveries, child.ID)
			}

			logger.Info("event fanned out",
				zap.String("task_id", exec.Task.ID),
				zap.String("event", ev.Name),
				zap.Int("subscribers", len(subs)))
			return res, nil
		},
	}
}

func deliveryTaskID(parentID string, subscriptionID uint64) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(parentID+"/"+strconv.FormatUint(subscriptionID, 10))).String()
}

// DeliveryJob runs the attempt sequence of one subscription. The limits
// must cover the longest sequence a subscription can configure. A stop
// request ends the sequence after the attempt in flight; the dispatcher
// still writes its single log entry. Delivery failures are final, only a
// failed subscription lookup is retried.
func DeliveryJob(d SubscriptionDeliverer, limits config.JobLimits) Job {
	return Job{
		Kind:   model.KindWebhookDelivery,
		Limits: limits,
		Run: func(ctx context.Context, exec *Execution) (any, error) {
			var p DeliveryPayload
			if err := json.Unmarshal([]byte(exec.Task.Payload), &p); err != nil {
				return nil, retry.Permanent(fmt.Errorf("decode delivery: %w", err))
			}

			seqCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				select {
				case <-exec.Stop:
					cancel()
				case <-seqCtx.Done():
				}
			}()

			out, err := d.Deliver(seqCtx, p.SubscriptionID, p.Event)
			switch {
			case errors.Is(err, webhook.ErrSubscriptionNotFound), errors.Is(err, webhook.ErrNotSubscribed):
				logger.Info("webhook delivery skipped",
					zap.String("task_id", exec.Task.ID),
					zap.Uint64("subscription_id", p.SubscriptionID),
					zap.String("reason", err.Error()))
				return nil, nil
			case err != nil:
				return nil, err
			}

			select {
			case <-exec.Stop:
				if !out.Success {
					return out, retry.Permanent(errors.New("delivery sequence stopped early"))
				}
			default:
			}
			return out, nil
		},
	}
}
