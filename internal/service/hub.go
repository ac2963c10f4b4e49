package service

import (
	"context"
	"time"

	"catalogsync/internal/metrics"
	"catalogsync/internal/progress"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
)

const (
	MessageProgress = "progress"
	MessagePing     = "ping"
)

type Message struct {
	Type   string           `json:"type"`
	Record *progress.Record `json:"record,omitempty"`
}

// Client is one progress stream subscriber, following a single task.
type Client struct {
	TaskID string
	Send   chan Message
}

// Hub fans progress records out to the stream clients following each task.
// All maps are owned by the Run goroutine.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	Broadcast  chan progress.Record
	Register   chan *Client
	Unregister chan *Client
	observer   metrics.HubObserver
	heartbeat  time.Duration
	done       chan struct{}
}

type nopHubObserver struct{}

func (nopHubObserver) IncOnline()  {}
func (nopHubObserver) DecOnline()  {}
func (nopHubObserver) RecordPush() {}
func (nopHubObserver) RecordDrop() {}

func NewHub(observer metrics.HubObserver, heartbeat time.Duration, buffer int) *Hub {
	if observer == nil {
		observer = nopHubObserver{}
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		Broadcast:  make(chan progress.Record, buffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		observer:   observer,
		heartbeat:  heartbeat,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					h.drop(c)
				}
			}
			return
		case c := <-h.Register:
			set, ok := h.clients[c.TaskID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.TaskID] = set
			}
			set[c] = struct{}{}
			h.observer.IncOnline()
		case c := <-h.Unregister:
			h.drop(c)
		case rec := <-h.Broadcast:
			for c := range h.clients[rec.TaskID] {
				r := rec
				select {
				case c.Send <- Message{Type: MessageProgress, Record: &r}:
					h.observer.RecordPush()
				default:
					logger.Warn("stream client too slow, disconnecting", zap.String("task_id", c.TaskID))
					h.observer.RecordDrop()
					h.drop(c)
				}
			}
		case <-ticker.C:
			for _, set := range h.clients {
				for c := range set {
					select {
					case c.Send <- Message{Type: MessagePing}:
					default:
					}
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	set, ok := h.clients[c.TaskID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.TaskID)
	}
	close(c.Send)
	h.observer.DecOnline()
}

// Subscribe registers a client for taskID. It returns nil once the hub
// has stopped.
func (h *Hub) Subscribe(taskID string, buffer int) *Client {
	c := &Client{TaskID: taskID, Send: make(chan Message, buffer)}
	select {
	case h.Register <- c:
		return c
	case <-h.done:
		return nil
	}
}

func (h *Hub) Unsubscribe(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// Publish queues rec for fan-out without blocking the caller.
func (h *Hub) Publish(rec progress.Record) {
	select {
	case h.Broadcast <- rec:
	default:
		logger.Warn("progress hub saturated, dropping record", zap.String("task_id", rec.TaskID))
	}
}

type ProgressListener interface {
	Listen(ctx context.Context, fn func(progress.Record)) error
}

// Feed relays records from the progress store's pub/sub into the hub,
// resubscribing after failures until ctx is cancelled.
func (h *Hub) Feed(ctx context.Context, l ProgressListener) {
	backoff := time.Second
	for {
		err := l.Listen(ctx, h.Publish)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("progress subscription ended, resubscribing", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
