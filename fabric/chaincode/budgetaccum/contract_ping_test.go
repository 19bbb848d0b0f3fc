// Contract_ping_test.go
//
// Purpose: Smoke test for the contract wiring — harness, mock stub and the
// Simplest read-only function.

package main

import (
	"testing"
)

// TestPing verifies the contract responds through the mocked stub.
func TestPing(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	got, err := h.cc.Ping(h.ctx)
	requireNoErr(t, err)
	if got != "OK:tx-0001" {
		t.Fatalf("ping: got %q", got)
	}

	h.setTxID("tx-0042")
	got, err = h.cc.Ping(h.ctx)
	requireNoErr(t, err)
	if got != "OK:tx-0042" {
		t.Fatalf("ping after txID change: got %q", got)
	}
}
