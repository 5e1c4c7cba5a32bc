package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

type nopStore struct{}

func (nopStore) Save(context.Context, *domain.Session) error { return nil }
func (nopStore) Load(context.Context, string) (*domain.Session, error) {
	return domain.NewSession("x", "start"), nil
}
func (nopStore) Delete(context.Context, string) error   { return nil }
func (nopStore) List(context.Context) ([]string, error) { return nil, nil }

type countingLocker struct {
	locks, unlocks int
	ttl            time.Duration
}

func (l *countingLocker) Lock(_ context.Context, _ string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.locks++
	l.ttl = ttl
	return func(context.Context) error {
		l.unlocks++
		return nil
	}, nil
}

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(nopStore{})
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		sid := fmt.Sprintf("session-%d", i)
		_ = mgr.Save(ctx, domain.NewSession(sid, "start"))
		_ = mgr.Delete(ctx, sid)
	}

	if lockCount := len(mgr.locks); lockCount != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after Delete", lockCount)
	}
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &countingLocker{}
	mgr := NewManager(nopStore{}, WithLocker(locker), WithLockTTL(5*time.Second))

	if err := mgr.WithLock(context.Background(), "s1", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}
	if locker.locks != 1 || locker.unlocks != 1 {
		t.Errorf("locks=%d unlocks=%d, want 1/1", locker.locks, locker.unlocks)
	}
	if locker.ttl != 5*time.Second {
		t.Errorf("ttl = %s, want 5s", locker.ttl)
	}
}
