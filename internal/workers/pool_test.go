package workers_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/workers"
)

func testPoolConfig() *workers.PoolConfig {
	return &workers.PoolConfig{
		Name:            "test",
		NumWorkers:      2,
		QueueSize:       16,
		TaskTimeout:     time.Second,
		ShutdownTimeout: time.Second,
	}
}

func TestPoolExecutesTasks(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), testPoolConfig())
	pool.Start()
	defer pool.Stop()

	var counter atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := pool.SubmitFunc(func() error {
			defer wg.Done()
			counter.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("SubmitFunc: %v", err)
		}
	}
	wg.Wait()

	if got := counter.Load(); got != 10 {
		t.Errorf("executed = %d, want 10", got)
	}
	if stats := pool.Stats(); stats.Submitted != 10 {
		t.Errorf("submitted = %d, want 10", stats.Submitted)
	}
}

func TestPoolSubmitAfterStop(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), testPoolConfig())
	pool.Start()
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	err := pool.SubmitFunc(func() error { return nil })
	if !errors.Is(err, workers.ErrPoolStopped) {
		t.Errorf("err = %v, want ErrPoolStopped", err)
	}
	if pool.IsRunning() {
		t.Error("pool should report stopped")
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), testPoolConfig())
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	if err := pool.SubmitFunc(func() error {
		defer wg.Done()
		panic("boom")
	}); err != nil {
		t.Fatalf("SubmitFunc: %v", err)
	}

	// A later task still runs on the same pool.
	ran := false
	if err := pool.SubmitFunc(func() error {
		defer wg.Done()
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("SubmitFunc: %v", err)
	}
	wg.Wait()

	if !ran {
		t.Error("pool must survive a panicking task")
	}
	// The recover counter lands after the task's own deferred Done; poll.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pool.Stats().Recovered == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Errorf("recovered = %d, want 1", pool.Stats().Recovered)
}

func TestPoolCountsFailures(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), testPoolConfig())
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	if err := pool.SubmitFunc(func() error {
		defer wg.Done()
		return errors.New("task failed")
	}); err != nil {
		t.Fatalf("SubmitFunc: %v", err)
	}
	wg.Wait()

	// The counter update races the WaitGroup by a hair; poll briefly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pool.Stats().Failed == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Errorf("failed = %d, want 1", pool.Stats().Failed)
}
