package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	if v, err := r.Unwrap(); v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
	if v, _ := e.Unwrap(); v != 0 {
		t.Fatal("Err should carry the zero value")
	}
}

func TestFromPair(t *testing.T) {
	if v, err := FromPair("vendor", nil).Unwrap(); v != "vendor" || err != nil {
		t.Fatal("FromPair ok")
	}
	boom := errors.New("boom")
	if _, err := FromPair("ignored", boom).Unwrap(); !errors.Is(err, boom) {
		t.Fatal("FromPair should keep the error")
	}
}

func TestUnwrapOr(t *testing.T) {
	if Ok(1).UnwrapOr(9) != 1 {
		t.Fatal("should return value")
	}
	if Err[int](errors.New("x")).UnwrapOr(9) != 9 {
		t.Fatal("should return fallback")
	}
}

func TestCollect(t *testing.T) {
	v, err := Collect([]Result[int]{Ok(1), Ok(2)}).Unwrap()
	if err != nil || len(v) != 2 || v[1] != 2 {
		t.Fatalf("Collect all ok: %v %v", v, err)
	}
	first := errors.New("first")
	_, err = Collect([]Result[int]{Ok(1), Err[int](first), Err[int](errors.New("second"))}).Unwrap()
	if !errors.Is(err, first) {
		t.Fatalf("Collect should return the first error, got %v", err)
	}
}

func TestMapFilterReduce(t *testing.T) {
	lens := Map([]string{"Sweets", "Kirana"}, func(s string) int { return len(s) })
	if len(lens) != 2 || lens[0] != 6 {
		t.Fatal("Map failed")
	}
	if got := Filter([]int{1, 3, 5}, func(int) bool { return false }); got == nil || len(got) != 0 {
		t.Fatal("Filter should return an empty, non-nil slice")
	}
	even := Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	if len(even) != 2 || even[1] != 4 {
		t.Fatal("Filter failed")
	}
	if sum := Reduce([]int{1, 2, 3}, 10, func(acc, v int) int { return acc + v }); sum != 16 {
		t.Fatal("Reduce failed")
	}
}

func TestChunk(t *testing.T) {
	c := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(c) != 3 || len(c[2]) != 1 || c[2][0] != 5 {
		t.Fatalf("unexpected chunks %v", c)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("n <= 0 should return nil")
	}
	if Chunk([]int{}, 3) != nil {
		t.Fatal("empty input has no chunks")
	}
}

func TestParMapResult(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := []int{1, 2, 3, 4, 5, 6}
	out := ParMapResult(items, 2, func(v int) Result[int] {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		if v == 4 {
			return Err[int](errors.New("four"))
		}
		return Ok(v * 10)
	})
	if len(out) != len(items) || out[0].UnwrapOr(0) != 10 || out[5].UnwrapOr(0) != 60 {
		t.Fatal("results should keep input order")
	}
	if out[3].IsOk() {
		t.Fatal("error should stay in place")
	}
	if peak.Load() > 2 {
		t.Fatalf("more than 2 workers ran at once: %d", peak.Load())
	}
	if len(ParMapResult([]int{}, 0, func(int) Result[int] { return Ok(0) })) != 0 {
		t.Fatal("empty input")
	}
}

func TestThen(t *testing.T) {
	double := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v * 2) })
	addOne := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v + 1) })
	if v, _ := Then(double, addOne)(context.Background(), 5).Unwrap(); v != 11 {
		t.Fatal("Then failed")
	}
}

func TestThenShortCircuits(t *testing.T) {
	fail := Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("fail")) })
	called := false
	second := Stage[int, string](func(_ context.Context, _ int) Result[string] {
		called = true
		return Ok("x")
	})
	if r := Then(fail, second)(context.Background(), 1); r.IsOk() || called {
		t.Fatal("Then should short-circuit")
	}
}

func TestTracedStage(t *testing.T) {
	s := TracedStage("test-stage", Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v + 1) }))
	if v, _ := s(context.Background(), 1).Unwrap(); v != 2 {
		t.Fatal("TracedStage failed")
	}
	e := TracedStage("err-stage", Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("x")) }))
	if e(context.Background(), 1).IsOk() {
		t.Fatal("TracedStage error should propagate")
	}
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(_ context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("not yet"))
		}
		return Ok(42)
	})
	if v, _ := r.Unwrap(); v != 42 || attempts != 3 {
		t.Fatal("Retry should succeed on 3rd attempt")
	}
}

func TestRetryExhausted(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Jitter: true}, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() || attempts != 2 {
		t.Fatalf("expected 2 failed attempts, got %d", attempts)
	}
}

func TestRetryAlwaysAttemptsOnce(t *testing.T) {
	attempts := 0
	Retry(context.Background(), RetryOpts{}, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](errors.New("fail"))
	})
	if attempts != 1 {
		t.Fatalf("zero MaxAttempts should still try once, got %d", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	r := Retry(ctx, RetryOpts{MaxAttempts: 100, InitialWait: time.Hour}, func(_ context.Context) Result[int] {
		attempts++
		cancel()
		return Err[int](errors.New("fail"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) || attempts != 1 {
		t.Fatalf("expected cancellation after one attempt, got %v after %d", err, attempts)
	}
}

func TestRetryStage(t *testing.T) {
	attempts := 0
	s := RetryStage(RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond},
		Stage[int, int](func(_ context.Context, v int) Result[int] {
			attempts++
			if attempts < 2 {
				return Err[int](errors.New("fail"))
			}
			return Ok(v * 2)
		}))
	if v, _ := s(context.Background(), 5).Unwrap(); v != 10 {
		t.Fatal("RetryStage failed")
	}
}
