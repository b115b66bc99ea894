package session

import "testing"

func TestStateString(t *testing.T) {
	if StateNeedATR.String() != "NEED_ATR" {
		t.Fatalf("got %s", StateNeedATR)
	}
	if StateRDYToRelay.String() != "RDY_TO_RELAY" {
		t.Fatalf("got %s", StateRDYToRelay)
	}
}

func TestUARTModeString(t *testing.T) {
	if UARTModeSynchronous.String() != "synchronous" {
		t.Fatalf("got %s", UARTModeSynchronous)
	}
	if UARTModeAsynchronous.String() != "asynchronous" {
		t.Fatalf("got %s", UARTModeAsynchronous)
	}
}
