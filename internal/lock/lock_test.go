package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal()

	var (
		active, peak int32
		wg           sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "acct-1")
			if err != nil {
				t.Errorf("Lock() error: %v", err)
				return
			}
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("peak concurrent holders = %d, want 1", peak)
	}
	if n := l.Held(); n != 0 {
		t.Errorf("Held() = %d after all released, want 0", n)
	}
}

func TestLocalDifferentKeysIndependent(t *testing.T) {
	l := NewLocal()

	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock(a) error: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked behind a: %v", err)
	}
	unlockB()
}

func TestLocalContextCancel(t *testing.T) {
	l := NewLocal()
	unlock, _ := l.Lock(context.Background(), "a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Lock() on held key error = %v, want DeadlineExceeded", err)
	}

	unlock()
	unlock()
	if n := l.Held(); n != 0 {
		t.Errorf("Held() = %d, want 0 after cancelled waiter and release", n)
	}
}

type failingLocker struct{ err error }

func (f failingLocker) Lock(context.Context, string) (func(), error) { return nil, f.err }

func TestChainReleasesOnFailure(t *testing.T) {
	local := NewLocal()
	boom := errors.New("redis down")

	if _, err := (Chain{local, failingLocker{boom}}).Lock(context.Background(), "a"); !errors.Is(err, boom) {
		t.Fatalf("Chain.Lock() error = %v, want %v", err, boom)
	}
	if n := local.Held(); n != 0 {
		t.Errorf("local lock still held after chain failure: %d", n)
	}

	unlock, err := (Chain{local, NewLocal()}).Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Chain.Lock() error: %v", err)
	}
	unlock()
	if n := local.Held(); n != 0 {
		t.Errorf("Held() = %d after chain unlock, want 0", n)
	}
}

// TestRedisLock needs a live server, e.g. WATCHLANE_TEST_REDIS=localhost:6379.
func TestRedisLock(t *testing.T) {
	addr := os.Getenv("WATCHLANE_TEST_REDIS")
	if addr == "" {
		t.Skip("WATCHLANE_TEST_REDIS not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	l := NewRedis(rdb, 5*time.Second, "watchlane-test", zap.NewNop())
	unlock, err := l.Lock(context.Background(), "acct")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "acct"); err == nil {
		t.Fatal("second Lock() succeeded while held")
	}

	unlock()
	unlock2, err := l.Lock(context.Background(), "acct")
	if err != nil {
		t.Fatalf("Lock() after release error: %v", err)
	}
	unlock2()
}
