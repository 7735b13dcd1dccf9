package broadcast

import "testing"

func TestPublishDeliversInOrderToSingleSubscriber(t *testing.T) {
	b := New[int](4)
	r := b.Subscribe()
	defer r.Close()

	for i := 0; i < 3; i++ {
		b.Publish(i)
	}

	for i := 0; i < 3; i++ {
		v, ok := r.Recv()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, v, ok)
		}
	}
}

func TestPublishFansOutToMultipleSubscribers(t *testing.T) {
	b := New[int](4)
	r1 := b.Subscribe()
	r2 := b.Subscribe()
	defer r1.Close()
	defer r2.Close()

	b.Publish(42)

	v1, _ := r1.Recv()
	v2, _ := r2.Recv()
	if v1 != 42 || v2 != 42 {
		t.Fatalf("expected both subscribers to see 42, got %d %d", v1, v2)
	}
}

func TestLaggedSubscriberDropsOldestAndReportsLag(t *testing.T) {
	b := New[int](2)
	r := b.Subscribe()
	defer r.Close()

	for i := 0; i < 5; i++ {
		b.Publish(i)
	}

	if lag := r.Lagged(); lag == 0 {
		t.Fatal("expected nonzero lag after overflowing a capacity-2 channel with 5 publishes")
	}

	// The newest value should have survived eviction of older ones; the
	// channel never blocked the producer.
	var last int
	for i := 0; i < 2; i++ {
		v, ok := r.Recv()
		if !ok {
			t.Fatal("expected channel still open")
		}
		last = v
	}
	if last != 4 {
		t.Fatalf("expected most recent value 4 to survive eviction, got %d", last)
	}
}

func TestCloseUnsubscribesAndClosesChannel(t *testing.T) {
	b := New[int](1)
	r := b.Subscribe()
	if got := b.NumSubscribers(); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}
	r.Close()
	if got := b.NumSubscribers(); got != 0 {
		t.Fatalf("expected 0 subscribers after Close, got %d", got)
	}
	if _, ok := r.Recv(); ok {
		t.Fatal("expected Recv to report closed after unsubscribe")
	}
}
