package lifecycle

import "testing"

func TestLifecycle_DrainOnce(t *testing.T) {
	var l Lifecycle
	if l.Draining() {
		t.Fatalf("zero value is draining")
	}
	if !l.Drain() {
		t.Fatalf("first Drain did not start the drain")
	}
	if l.Drain() {
		t.Fatalf("second Drain reported starting the drain")
	}
	if !l.Draining() {
		t.Fatalf("not draining after Drain")
	}

	var nilLC *Lifecycle
	if nilLC.Drain() || nilLC.Draining() {
		t.Fatalf("nil lifecycle should never drain")
	}
}
