package ratelimit

import "testing"

func TestLimiterBurstThenDeny(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		if !l.Allow("a", 5, 0) {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if l.Allow("a", 5, 0) {
		t.Fatal("request allowed past exhausted bucket")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		l.Allow("a", 3, 0)
	}
	if l.Allow("a", 3, 0) {
		t.Fatal("exhausted key allowed")
	}
	if !l.Allow("b", 3, 0) {
		t.Fatal("fresh key denied")
	}
}
