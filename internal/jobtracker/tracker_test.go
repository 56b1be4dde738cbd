package jobtracker

import (
	"sync"
	"testing"
)

func TestTryStartRejectsSecondJob(t *testing.T) {
	tr := New()

	ok, id1, _ := tr.TryStart("alice")
	if !ok || id1 == "" {
		t.Fatalf("first TryStart should succeed, got ok=%v id=%q", ok, id1)
	}

	ok, id2, activeUser := tr.TryStart("bob")
	if ok || id2 != "" || activeUser != "alice" {
		t.Fatalf("second TryStart should fail with activeUser=alice, got ok=%v id=%q user=%q", ok, id2, activeUser)
	}
}

func TestEndReleasesSlot(t *testing.T) {
	tr := New()
	_, id, _ := tr.TryStart("alice")
	if !tr.End(id) {
		t.Fatal("End with matching job ID should succeed")
	}

	ok, _, _ := tr.TryStart("bob")
	if !ok {
		t.Fatal("TryStart after End should succeed")
	}
}

func TestEndWithMismatchedIDDoesNothing(t *testing.T) {
	tr := New()
	_, _, _ = tr.TryStart("alice")
	if tr.End("wrong-id") {
		t.Fatal("End with wrong job ID should report false")
	}

	ok, _, activeUser := tr.TryStart("bob")
	if ok || activeUser != "alice" {
		t.Fatal("End with wrong job ID should not release the slot")
	}
}

func TestCancelReturnsActiveUser(t *testing.T) {
	tr := New()

	if ok, _ := tr.Cancel(); ok {
		t.Fatal("Cancel on an idle tracker should report false")
	}
	if tr.IsCancelled() {
		t.Fatal("IsCancelled should be false with no active job")
	}

	_, id, _ := tr.TryStart("alice")
	ok, user := tr.Cancel()
	if !ok || user != "alice" {
		t.Fatalf("Cancel should succeed and report the active user, got ok=%v user=%q", ok, user)
	}
	if !tr.IsCancelled() {
		t.Fatal("IsCancelled should be true after Cancel")
	}

	tr.End(id)
	if tr.IsCancelled() {
		t.Fatal("IsCancelled should reset after End")
	}
}

func TestStatus(t *testing.T) {
	tr := New()
	if s := tr.Status(); s.Busy {
		t.Fatal("expected idle tracker to report Busy=false")
	}

	_, id, _ := tr.TryStart("alice")
	s := tr.Status()
	if !s.Busy || s.JobID != id || s.User != "alice" {
		t.Fatalf("unexpected status: %+v", s)
	}
}

// TestConcurrentTryStartAdmitsExactlyOne is property P1: across N concurrent
// callers, the number of successful TryStart calls minus matching End calls
// is always in {0, 1} - here specifically, exactly one of N racing TryStart
// calls succeeds.
func TestConcurrentTryStartAdmitsExactlyOne(t *testing.T) {
	tr := New()
	const n = 64

	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, _, _ := tr.TryStart("user")
			successes[i] = ok
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 successful TryStart out of %d concurrent callers, got %d", n, count)
	}
}
