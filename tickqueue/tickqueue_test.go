package tickqueue

import (
	"reflect"
	"testing"
)

func TestDrainHoldsUntilTargetTick(t *testing.T) {
	q := New[string]()
	q.Push("deferred", 100)

	if got := q.Drain(99); len(got) != 0 {
		t.Fatalf("Drain(99) = %v, want nothing before target", got)
	}
	if got := q.Drain(100); !reflect.DeepEqual(got, []string{"deferred"}) {
		t.Fatalf("Drain(100) = %v, want [deferred]", got)
	}
	if q.Len() != 0 {
		t.Error("queue should be empty after execution")
	}
}

func TestDrainNegativeTargetRunsNext(t *testing.T) {
	q := New[string]()
	q.Push("asap", -1)

	if got := q.Drain(-5); !reflect.DeepEqual(got, []string{"asap"}) {
		t.Fatalf("Drain = %v, want [asap] regardless of tick value", got)
	}
}

func TestDrainArrivalOrder(t *testing.T) {
	q := New[int]()
	q.Push(1, 10)
	q.Push(2, -1)
	q.Push(3, 5)

	got := q.Drain(10)
	want := []int{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Drain(10) = %v, want arrival order %v", got, want)
	}
}

func TestDrainKeepsPending(t *testing.T) {
	q := New[string]()
	q.Push("ready", 5)
	q.Push("later", 50)

	if got := q.Drain(10); !reflect.DeepEqual(got, []string{"ready"}) {
		t.Fatalf("Drain(10) = %v", got)
	}
	if q.Len() != 1 {
		t.Fatalf("pending entry should remain, Len() = %d", q.Len())
	}
	if got := q.Drain(50); !reflect.DeepEqual(got, []string{"later"}) {
		t.Errorf("Drain(50) = %v", got)
	}
}

func TestLastExecutionBookkeeping(t *testing.T) {
	q := New[string]()

	if _, ok := q.LastExecution(); ok {
		t.Fatal("no execution recorded yet")
	}

	q.Push("untracked", -1)
	q.Drain(7)
	if _, ok := q.LastExecution(); ok {
		t.Error("negative-target items must not update bookkeeping")
	}

	q.Push("tracked", 5)
	q.Drain(7)
	info, ok := q.LastExecution()
	if !ok {
		t.Fatal("expected execution info")
	}
	if info.TargetTick != 5 || info.ExecutionTick != 7 {
		t.Errorf("info = %+v, want target 5 executed at tick 7", info)
	}
	if info.ReceivedAt.IsZero() || info.ExecutedAt.IsZero() {
		t.Error("timestamps should be recorded")
	}
}
