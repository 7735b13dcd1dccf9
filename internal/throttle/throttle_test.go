package throttle

import (
	"testing"
	"time"
)

func TestShouldLogFirstCallTrue(t *testing.T) {
	th := New(50 * time.Millisecond)
	if !th.ShouldLog("hid_otg_eagain") {
		t.Fatal("expected first call to return true")
	}
}

func TestShouldLogSuppressedWithinInterval(t *testing.T) {
	th := New(50 * time.Millisecond)
	th.ShouldLog("k")
	if th.ShouldLog("k") {
		t.Fatal("expected second call within interval to be suppressed")
	}
}

func TestShouldLogTrueAfterInterval(t *testing.T) {
	th := New(10 * time.Millisecond)
	th.ShouldLog("k")
	time.Sleep(15 * time.Millisecond)
	if !th.ShouldLog("k") {
		t.Fatal("expected call after interval elapsed to return true")
	}
}

func TestClearResetsKey(t *testing.T) {
	th := New(time.Hour)
	th.ShouldLog("k")
	th.Clear("k")
	if !th.ShouldLog("k") {
		t.Fatal("expected call after Clear to return true")
	}
}

func TestClearAllResetsEveryKey(t *testing.T) {
	th := New(time.Hour)
	th.ShouldLog("a")
	th.ShouldLog("b")
	th.ClearAll()
	if !th.ShouldLog("a") || !th.ShouldLog("b") {
		t.Fatal("expected all keys reset after ClearAll")
	}
}

func TestShouldLogKeysAreIndependent(t *testing.T) {
	th := New(time.Hour)
	if !th.ShouldLog("a") {
		t.Fatal("expected first call for key a to be true")
	}
	if !th.ShouldLog("b") {
		t.Fatal("expected first call for key b to be true, independent of a")
	}
}
