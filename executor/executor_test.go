package executor

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestYieldNowRoundTrips(t *testing.T) {
	ex := New(8)
	var step int32
	jh := ex.Spawn(func(y *Yielder) any {
		atomic.AddInt32(&step, 1)
		y.YieldNow()
		atomic.AddInt32(&step, 1)
		return "done"
	})
	done := make(chan struct{})
	go func() {
		ex.RunUntilIdle(func() bool { return atomic.LoadInt32(&step) >= 2 })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("executor never drained")
	}
	if got := jh.Wait(); got != "done" {
		t.Fatalf("got %v", got)
	}
	if step != 2 {
		t.Fatalf("step = %d, want 2", step)
	}
}

func TestSpawnMany(t *testing.T) {
	ex := New(64)
	const n = 20
	var counter int32
	handles := make([]*JoinHandle, n)
	for i := 0; i < n; i++ {
		handles[i] = ex.Spawn(func(y *Yielder) any {
			y.YieldNow()
			atomic.AddInt32(&counter, 1)
			return nil
		})
	}
	go ex.RunUntilIdle(func() bool { return atomic.LoadInt32(&counter) == n })
	for _, h := range handles {
		h.Wait()
	}
	if counter != n {
		t.Fatalf("counter = %d, want %d", counter, n)
	}
}

func TestTimerWheelFiresInOrder(t *testing.T) {
	tw := NewTimerWheel()
	var fired []int
	done := make(chan struct{}, 3)
	tw.Arm(30, func() { fired = append(fired, 30); done <- struct{}{} })
	tw.Arm(10, func() { fired = append(fired, 10); done <- struct{}{} })
	tw.Arm(20, func() { fired = append(fired, 20); done <- struct{}{} })

	tw.CheckTimer(5)
	if len(fired) != 0 {
		t.Fatalf("fired before deadline: %v", fired)
	}
	tw.CheckTimer(25)
	<-done
	<-done
	if len(fired) != 2 || fired[0] != 10 || fired[1] != 20 {
		t.Fatalf("fired = %v, want [10 20]", fired)
	}
	tw.CheckTimer(100)
	<-done
	if len(fired) != 3 || fired[2] != 30 {
		t.Fatalf("fired = %v", fired)
	}
}

func TestBlockingFutureRestoresStatus(t *testing.T) {
	ex := New(4)
	var statuses []BlockingStatus
	jh := ex.Spawn(func(y *Yielder) any {
		setStatus := func(s BlockingStatus) { statuses = append(statuses, s) }
		return BlockingFuture(y, setStatus, func() int {
			return 42
		})
	})
	go ex.RunUntilIdle(func() bool { return len(statuses) >= 2 })
	if got := jh.Wait(); got != 42 {
		t.Fatalf("got %v", got)
	}
	if len(statuses) != 2 || statuses[0] != StatusBlocking || statuses[1] != StatusRunning {
		t.Fatalf("statuses = %v", statuses)
	}
}
