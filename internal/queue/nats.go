package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/model"
	"catalogsync/pkg/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// JetStreamQueue publishes jobs to <prefix>.<kind> subjects of one stream
// and consumes them with durable pull consumers, one per kind.
type JetStreamQueue struct {
	nc           *nats.Conn
	js           nats.JetStreamContext
	stream       string
	prefix       string
	ackWait      time.Duration
	fetchTimeout time.Duration
}

func NewJetStreamQueue(nc *nats.Conn, cfg config.NATSConfig) (*JetStreamQueue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("JetStream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("JetStream AddStream: %w", err)
	}

	q := &JetStreamQueue{
		nc:           nc,
		js:           js,
		stream:       cfg.Stream,
		prefix:       cfg.SubjectPrefix,
		ackWait:      cfg.AckWait,
		fetchTimeout: cfg.FetchTimeout,
	}
	if q.ackWait <= 0 {
		q.ackWait = time.Minute
	}
	if q.fetchTimeout <= 0 {
		q.fetchTimeout = 5 * time.Second
	}
	return q, nil
}

func (q *JetStreamQueue) subject(kind model.TaskKind) string {
	return q.prefix + "." + string(kind)
}

func (q *JetStreamQueue) Publish(ctx context.Context, job Job) error {
	data, err := job.encode()
	if err != nil {
		return err
	}

	ack, err := q.js.PublishMsg(&nats.Msg{
		Subject: q.subject(job.Kind),
		Data:    data,
		Header:  nats.Header{},
	}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("enqueue task %s: publish failed: %w", job.TaskID, err)
	}

	logger.Debug("task enqueued",
		zap.String("task_id", job.TaskID),
		zap.String("kind", string(job.Kind)),
		zap.String("stream", ack.Stream),
		zap.Uint64("seq", ack.Sequence))
	return nil
}

func (q *JetStreamQueue) Consume(ctx context.Context, kind model.TaskKind, workers int, h Handler) error {
	if workers <= 0 {
		workers = 1
	}
	subject := q.subject(kind)
	durable := "catalogsync-" + string(kind)

	_, err := q.js.AddConsumer(q.stream, &nats.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       q.ackWait,
		FilterSubject: subject,
		MaxAckPending: workers * 2,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return fmt.Errorf("JetStream AddConsumer: %w", err)
	}

	sub, err := q.js.PullSubscribe(subject, durable)
	if err != nil {
		return fmt.Errorf("JetStream PullSubscribe: %w", err)
	}

	logger.Info("queue consumer running", zap.String("subject", subject), zap.Int("workers", workers))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.runWorker(ctx, sub, h)
		}()
	}
	wg.Wait()

	if err := sub.Drain(); err != nil {
		logger.Warn("NATS subscription drain", zap.Error(err))
	}
	logger.Info("queue consumer stopped", zap.String("subject", subject))
	return nil
}

func (q *JetStreamQueue) runWorker(ctx context.Context, sub *nats.Subscription, h Handler) {
	for {
		if ctx.Err() != nil {
			return
		}

		fetchCtx, cancel := context.WithTimeout(ctx, q.fetchTimeout)
		msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			logger.Warn("NATS Fetch", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, msg := range msgs {
			q.handle(ctx, msg, h)
		}
	}
}

func (q *JetStreamQueue) handle(ctx context.Context, msg *nats.Msg, h Handler) {
	job, err := decodeJob(msg.Data)
	if err != nil {
		logger.Error("dropping undecodable job", zap.Error(err))
		_ = msg.Term()
		return
	}

	// Long jobs outlive AckWait; keep the message claimed while running.
	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(q.ackWait / 2)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				_ = msg.InProgress()
			}
		}
	}()
	err = h(ctx, job)
	close(stop)

	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			logger.Warn("NATS Ack", zap.Error(ackErr))
		}
		return
	}
	if delay, ok := RetryDelay(err); ok {
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			logger.Warn("NATS Nak", zap.Error(nakErr))
		}
		return
	}
	logger.Error("job dropped", zap.String("task_id", job.TaskID), zap.Error(err))
	_ = msg.Term()
}

// Close drains the connection.
func (q *JetStreamQueue) Close() error {
	return q.nc.Drain()
}
