package repository

import (
	"context"
	"errors"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

var ErrLockHeld = errors.New("lock held by another instance")

// Locker hands out named mutual-exclusion locks. Unlock must be called
// exactly once after a successful TryLock.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(), err error)
}

// EtcdLocker backs locks with etcd leases so that a crashed holder releases
// its locks when the lease expires.
type EtcdLocker struct {
	client *clientv3.Client
	ttl    int
	prefix string
}

func NewEtcdLocker(client *clientv3.Client, ttlSeconds int) *EtcdLocker {
	if ttlSeconds <= 0 {
		ttlSeconds = 10
	}
	return &EtcdLocker{client: client, ttl: ttlSeconds, prefix: "/catalogsync/locks/"}
}

func (l *EtcdLocker) TryLock(ctx context.Context, name string) (func(), error) {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl))
	if err != nil {
		return nil, err
	}

	mutex := concurrency.NewMutex(session, l.prefix+name)
	if err := mutex.TryLock(ctx); err != nil {
		session.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, ErrLockHeld
		}
		return nil, err
	}

	return func() {
		_ = mutex.Unlock(context.Background())
		session.Close()
	}, nil
}

func (l *EtcdLocker) Health(ctx context.Context) error {
	_, err := l.client.Get(ctx, "health_check")
	return err
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return nil, ErrLockHeld
	}
	l.held[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}
