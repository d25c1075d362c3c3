package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func echo(v interface{}) func(context.Context) (interface{}, error) {
	return func(context.Context) (interface{}, error) { return v, nil }
}

func TestNewWorkerPool(t *testing.T) {
	pool := NewWorkerPool("test", 4)
	defer pool.Shutdown()

	stats := pool.GetStats()
	if stats.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", stats.Workers)
	}
	if stats.Name != "test" {
		t.Errorf("Expected name 'test', got %s", stats.Name)
	}
}

func TestWorkerPoolSubmit(t *testing.T) {
	pool := NewWorkerPool("test", 2)
	defer pool.Shutdown()

	if err := pool.Submit(NewTask(context.Background(), "task-1", echo("data"))); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case result := <-pool.Results():
		if !result.Success {
			t.Errorf("Task should succeed")
		}
		if result.TaskID != "task-1" {
			t.Errorf("Expected task ID 'task-1', got %s", result.TaskID)
		}
		if result.Data != "data" {
			t.Errorf("Expected data 'data', got %v", result.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for result")
	}
}

func TestWorkerPoolSubmitWithError(t *testing.T) {
	pool := NewWorkerPool("test", 2)
	defer pool.Shutdown()

	expectedErr := errors.New("task failed")
	_ = pool.Submit(NewTask(context.Background(), "task-error", func(context.Context) (interface{}, error) {
		return nil, expectedErr
	}))

	select {
	case result := <-pool.Results():
		if result.Success {
			t.Error("Task should have failed")
		}
		if !errors.Is(result.Error, expectedErr) {
			t.Errorf("Expected %v, got %v", expectedErr, result.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for result")
	}

	if stats := pool.GetStats(); stats.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", stats.Failed)
	}
}

func TestWorkerPoolRecoversPanic(t *testing.T) {
	pool := NewWorkerPool("test", 1)
	defer pool.Shutdown()

	result, err := pool.SubmitAndWait(context.Background(), NewTask(context.Background(), "boom", func(context.Context) (interface{}, error) {
		panic("boom")
	}))
	if err != nil {
		t.Fatalf("SubmitAndWait failed: %v", err)
	}
	if result.Success || result.Error == nil {
		t.Fatal("Expected panic to be reported as failure")
	}

	// The worker survives the panic.
	result, err = pool.SubmitAndWait(context.Background(), NewTask(context.Background(), "after", echo(1)))
	if err != nil || !result.Success {
		t.Fatalf("Pool unusable after panic: %v %+v", err, result)
	}
}

func TestWorkerPoolCancelledTask(t *testing.T) {
	pool := NewWorkerPool("test", 1)
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int32
	result, err := pool.SubmitAndWait(context.Background(), NewTask(ctx, "cancelled", func(context.Context) (interface{}, error) {
		atomic.StoreInt32(&ran, 1)
		return nil, nil
	}))
	if err != nil {
		t.Fatalf("SubmitAndWait failed: %v", err)
	}
	if !errors.Is(result.Error, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", result.Error)
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Error("Cancelled task should not run")
	}
}

func TestWorkerPoolSubmitAndWaitConcurrent(t *testing.T) {
	pool := NewWorkerPool("test", 4)
	defer pool.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("task-%d", i)
			result, err := pool.SubmitAndWait(context.Background(), NewTask(context.Background(), id, echo(i)))
			if err != nil {
				t.Errorf("SubmitAndWait %s: %v", id, err)
				return
			}
			if result.TaskID != id || result.Data != i {
				t.Errorf("Got result %s/%v for %s", result.TaskID, result.Data, id)
			}
		}(i)
	}
	wg.Wait()
}

func TestWorkerPoolConcurrency(t *testing.T) {
	pool := NewWorkerPool("test", 8)
	defer pool.Shutdown()

	numTasks := 100
	var completed int64
	var wg sync.WaitGroup

	go func() {
		for range pool.Results() {
			atomic.AddInt64(&completed, 1)
			wg.Done()
		}
	}()

	for i := 0; i < numTasks; i++ {
		wg.Add(1)
		task := NewTask(context.Background(), fmt.Sprintf("task-%d", i), func(context.Context) (interface{}, error) {
			time.Sleep(time.Millisecond)
			return nil, nil
		})
		if err := pool.Submit(task); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("Timeout: only %d/%d completed", atomic.LoadInt64(&completed), numTasks)
	}
}

func TestWorkerPoolShutdown(t *testing.T) {
	pool := NewWorkerPool("test", 4)

	task := NewTask(context.Background(), "task-1", func(context.Context) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})
	_ = pool.Submit(task)

	pool.Shutdown()

	if pool.IsRunning() {
		t.Error("Pool should not be running after shutdown")
	}
	if err := pool.Submit(task); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("Expected ErrPoolShutdown, got %v", err)
	}

	// Second shutdown is a no-op.
	pool.Shutdown()
}

func TestWorkerPoolShutdownFailsQueuedTasks(t *testing.T) {
	pool := NewWorkerPool("drain", 1)

	release := make(chan struct{})
	done := make(chan *Result, 10)
	blocker := NewTask(context.Background(), "blocker", func(context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	blocker.Done = done
	if err := pool.Submit(blocker); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		task := NewTask(context.Background(), fmt.Sprintf("queued-%d", i), echo(i))
		task.Done = done
		if err := pool.Submit(task); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-stopped

	shutdown := 0
	for i := 0; i < 6; i++ {
		select {
		case r := <-done:
			if errors.Is(r.Error, ErrPoolShutdown) {
				shutdown++
			}
		case <-time.After(time.Second):
			t.Fatalf("Only %d of 6 results delivered", i)
		}
	}
	if shutdown == 0 {
		t.Error("Expected queued tasks to fail with ErrPoolShutdown")
	}
}

func TestWorkerPoolStats(t *testing.T) {
	pool := NewWorkerPool("stats-test", 2)
	defer pool.Shutdown()

	for i := 0; i < 5; i++ {
		_ = pool.Submit(NewTask(context.Background(), fmt.Sprintf("ok-%d", i), echo(nil)))
	}
	for i := 0; i < 3; i++ {
		_ = pool.Submit(NewTask(context.Background(), fmt.Sprintf("fail-%d", i), func(context.Context) (interface{}, error) {
			return nil, errors.New("fail")
		}))
	}

	for i := 0; i < 8; i++ {
		<-pool.Results()
	}

	stats := pool.GetStats()
	if stats.Completed != 5 {
		t.Errorf("Expected 5 completed, got %d", stats.Completed)
	}
	if stats.Failed != 3 {
		t.Errorf("Expected 3 failed, got %d", stats.Failed)
	}
	if stats.SuccessRate != 62.5 {
		t.Errorf("Expected success rate 62.5, got %f", stats.SuccessRate)
	}
}

func BenchmarkWorkerPoolThroughput(b *testing.B) {
	pool := NewWorkerPool("throughput", 16)
	defer pool.Shutdown()

	var wg sync.WaitGroup

	go func() {
		for range pool.Results() {
			wg.Done()
		}
	}()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		wg.Add(1)
		for pool.Submit(NewTask(context.Background(), fmt.Sprintf("task-%d", i), echo(i))) != nil {
			time.Sleep(time.Microsecond)
		}
	}

	wg.Wait()
}
