package sched

import (
	"testing"

	"defs"
)

func TestSwitchPolicyRejectsNonPositiveQuantum(t *testing.T) {
	s := New()
	if err := s.SwitchPolicy(RR, 0); err != defs.EINVAL {
		t.Fatalf("err = %v, want EINVAL", err)
	}
	if err := s.SwitchPolicy(RR, -1); err != defs.EINVAL {
		t.Fatalf("err = %v, want EINVAL", err)
	}
}

func TestRRIgnoresPriorityAndIsFIFO(t *testing.T) {
	s := New()
	s.SwitchPolicy(RR, 1)
	s.AddThread(1)
	s.AddThread(2)
	s.AddThread(3)

	for _, want := range []defs.Tid_t{1, 2, 3} {
		got, ok := s.Next()
		if !ok || got != want {
			t.Fatalf("Next() = %v,%v want %v", got, ok, want)
		}
	}
	if _, ok := s.Next(); ok {
		t.Fatal("expected empty run queue")
	}
}

func TestRRRequeueOnQuantumExpiryStaysSingleQueue(t *testing.T) {
	s := New()
	s.SwitchPolicy(RR, 1)
	s.AddThread(1)
	s.AddThread(2)

	id, _ := s.Next() // 1
	s.QuantumExpired(id)
	s.AddThread(3)

	order := []defs.Tid_t{}
	for i := 0; i < 3; i++ {
		id, ok := s.Next()
		if !ok {
			t.Fatal("expected a runnable thread")
		}
		order = append(order, id)
	}
	want := []defs.Tid_t{2, 1, 3}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestMLFPromotesOnWakeAndDemotesOnExpiry(t *testing.T) {
	s := New()
	s.SwitchPolicy(MLF, 1)
	s.AddThread(1)

	id, _ := s.Next()
	if s.Level(id) != 0 {
		t.Fatalf("new thread should start at level 0, got %d", s.Level(id))
	}
	s.QuantumExpired(id)
	if lvl := s.Level(id); lvl != 1 {
		t.Fatalf("after quantum expiry level = %d, want 1", lvl)
	}

	// simulate the thread blocking, then waking: it should be promoted
	// by one level, not reset straight to the top queue.
	s.MakeRunnable(id)
	if lvl := s.Level(id); lvl != 0 {
		t.Fatalf("after wake level = %d, want 0", lvl)
	}
}

// TestMLFWakeAfterThreeDemotionsReachesLevelTwo reproduces spec.md 8
// scenario 2: a CPU-bound thread starts at level 0 and, after three full
// quanta without blocking, sits at level 3 (NumQueues-1). It then blocks
// (e.g. on a pipe) and wakes; MakeRunnable promotes it by exactly one
// level, landing it at level 2, not back at level 0.
func TestMLFWakeAfterThreeDemotionsReachesLevelTwo(t *testing.T) {
	s := New()
	s.SwitchPolicy(MLF, 1)
	s.AddThread(1)

	for i := 0; i < 3; i++ {
		s.QuantumExpired(1)
	}
	if lvl := s.Level(1); lvl != NumQueues-1 {
		t.Fatalf("after three quanta level = %d, want %d", lvl, NumQueues-1)
	}

	s.MakeRunnable(1)
	if lvl := s.Level(1); lvl != NumQueues-2 {
		t.Fatalf("after wake level = %d, want %d", lvl, NumQueues-2)
	}
}

func TestMLFDemotionCapsAtBottomQueue(t *testing.T) {
	s := New()
	s.SwitchPolicy(MLF, 1)
	s.AddThread(1)
	for i := 0; i < NumQueues+3; i++ {
		s.QuantumExpired(1)
	}
	if lvl := s.Level(1); lvl != NumQueues-1 {
		t.Fatalf("level = %d, want capped at %d", lvl, NumQueues-1)
	}
}

func TestIdleThreadAlwaysLast(t *testing.T) {
	s := New()
	s.SwitchPolicy(MLF, 1)
	s.SetIdle(99)
	s.AddThread(1)

	id, ok := s.Next()
	if !ok || id != 1 {
		t.Fatalf("expected thread 1 to run before idle, got %v,%v", id, ok)
	}
	// nothing else runnable but idle
	id, ok = s.Next()
	if !ok || id != 99 {
		t.Fatalf("expected idle thread to run, got %v,%v", id, ok)
	}
}

func TestMakeRunnableOnIdleKeepsItAtBottom(t *testing.T) {
	s := New()
	s.SwitchPolicy(MLF, 1)
	s.SetIdle(99)
	s.MakeRunnable(99)
	if lvl := s.Level(99); lvl != NumQueues-1 {
		t.Fatalf("idle level = %d, want %d", lvl, NumQueues-1)
	}
}
