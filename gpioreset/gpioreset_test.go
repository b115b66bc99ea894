package gpioreset

import "testing"

func TestSimLine(t *testing.T) {
	l := NewSim()
	if l.High() {
		t.Fatalf("expected line low at rest")
	}
	l.Assert()
	if !l.High() {
		t.Fatalf("expected line high after Assert")
	}
	l.Deassert()
	if l.High() {
		t.Fatalf("expected line low after Deassert")
	}
}
