package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Both implementations satisfy Locker.
var (
	_ Locker = (*Local)(nil)
	_ Locker = (*Redis)(nil)
)

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "abc123")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if n := l.held(); n != 0 {
		t.Errorf("held keys = %d after all unlocks, want 0", n)
	}
}

func TestLocal_KeysAreIndependent(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock on another key blocked: %v", err)
	}
	unlockB()
}

func TestLocal_ContextCancel(t *testing.T) {
	l := NewLocal()
	unlock, _ := l.Lock(context.Background(), "a")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	unlock()
	unlock() // second call is a no-op

	if n := l.held(); n != 0 {
		t.Errorf("held keys = %d, want 0", n)
	}
}

// fakeRedis implements redisAPI over a map.
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]string
	err  error
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func TestRedis_LockAndRelease(t *testing.T) {
	fr := &fakeRedis{keys: make(map[string]string)}
	r := newRedis(fr, time.Minute, zerolog.Nop())
	r.retry = time.Millisecond

	unlock, err := r.Lock(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, ok := fr.keys[keyPrefix+"abc123"]; !ok {
		t.Fatal("lock key not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Lock(ctx, "abc123"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Lock err = %v, want DeadlineExceeded", err)
	}

	unlock()
	if _, ok := fr.keys[keyPrefix+"abc123"]; ok {
		t.Error("lock key should be deleted on release")
	}
}

func TestRedis_ReleaseKeepsForeignToken(t *testing.T) {
	fr := &fakeRedis{keys: make(map[string]string)}
	r := newRedis(fr, time.Minute, zerolog.Nop())

	unlock, err := r.Lock(context.Background(), "abc123")
	if err != nil {
		t.Fatal(err)
	}
	// lease expired and another process took it
	fr.keys[keyPrefix+"abc123"] = "someone-else"
	unlock()
	if fr.keys[keyPrefix+"abc123"] != "someone-else" {
		t.Error("release must not delete another holder's lock")
	}
}

func TestRedis_Error(t *testing.T) {
	fr := &fakeRedis{keys: make(map[string]string), err: errors.New("connection refused")}
	r := newRedis(fr, time.Minute, zerolog.Nop())
	if _, err := r.Lock(context.Background(), "abc123"); err == nil {
		t.Error("expected error when redis is down")
	}
	if err := r.Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}
