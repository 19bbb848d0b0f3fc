// Access_test.go
//
// Purpose: Tests for initialization, ownership transfer, the reporter set and
// The global pause flag: owner gating, idempotency, and change notifications.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitialize(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	requireNoErr(t, h.cc.Initialize(h.ctx))

	owner, err := h.cc.GetOwner(h.ctx)
	requireNoErr(t, err)
	assert.Equal(t, testOwner, owner, "caller becomes owner")

	ok, err := h.cc.IsReporter(h.ctx, testOwner)
	requireNoErr(t, err)
	assert.True(t, ok, "owner is a reporter by construction")

	cur, err := h.cc.GetCurrentBatchID(h.ctx)
	requireNoErr(t, err)
	assert.Equal(t, int64(1), cur, "batch 1 is current")

	b, err := h.cc.GetBatch(h.ctx, 1)
	requireNoErr(t, err)
	assert.True(t, b.Open, "batch 1 opens on init")
	assert.Equal(t, "1", b.AccumHex, "empty accumulator is the identity")
	assert.Zero(t, b.SubmissionCount)

	requireErrContains(t, h.cc.Initialize(h.ctx), "already initialized")
}

func TestTransferOwnership(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()
	requireNoErr(t, h.cc.Initialize(h.ctx))

	h.setCaller(testOutsider)
	requireErrIs(t, h.cc.TransferOwnership(h.ctx, testOutsider), ErrUnauthorized)

	h.setCaller(testOwner)
	// Transfer to self is a no-op, no event.
	requireNoErr(t, h.cc.TransferOwnership(h.ctx, testOwner))
	assert.Zero(t, h.mem.countEvents(eventOwnershipTransferred))

	requireNoErr(t, h.cc.TransferOwnership(h.ctx, testReporter1))
	owner, err := h.cc.GetOwner(h.ctx)
	requireNoErr(t, err)
	assert.Equal(t, testReporter1, owner)
	assert.Equal(t, 1, h.mem.countEvents(eventOwnershipTransferred))

	// The previous owner lost its privileges.
	requireErrIs(t, h.cc.AddReporter(h.ctx, testReporter2), ErrUnauthorized)

	h.setCaller(testReporter1)
	requireNoErr(t, h.cc.AddReporter(h.ctx, testReporter2))
}

func TestReporterSetIdempotent(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()
	requireNoErr(t, h.cc.Initialize(h.ctx))

	requireNoErr(t, h.cc.AddReporter(h.ctx, testReporter1))
	ok, err := h.cc.IsReporter(h.ctx, testReporter1)
	requireNoErr(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.mem.countEvents(eventReporterAdded))

	// Re-adding changes nothing and emits no duplicate event.
	requireNoErr(t, h.cc.AddReporter(h.ctx, testReporter1))
	assert.Equal(t, 1, h.mem.countEvents(eventReporterAdded))

	requireNoErr(t, h.cc.RemoveReporter(h.ctx, testReporter1))
	ok, err = h.cc.IsReporter(h.ctx, testReporter1)
	requireNoErr(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, h.mem.countEvents(eventReporterRemoved))

	// Removing an absent principal is a no-op.
	requireNoErr(t, h.cc.RemoveReporter(h.ctx, testReporter1))
	assert.Equal(t, 1, h.mem.countEvents(eventReporterRemoved))
}

func TestReporterSetUnauthorized(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()
	requireNoErr(t, h.cc.Initialize(h.ctx))

	h.setCaller(testOutsider)
	requireErrIs(t, h.cc.AddReporter(h.ctx, testOutsider), ErrUnauthorized)

	h.setCaller(testOwner)
	ok, err := h.cc.IsReporter(h.ctx, testOutsider)
	requireNoErr(t, err)
	assert.False(t, ok, "reporter set unchanged by rejected call")
}

func TestPauseFlag(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()
	requireNoErr(t, h.cc.Initialize(h.ctx))

	h.setCaller(testOutsider)
	requireErrIs(t, h.cc.SetPaused(h.ctx, true), ErrUnauthorized)

	h.setCaller(testOwner)
	paused, err := h.cc.IsPaused(h.ctx)
	requireNoErr(t, err)
	assert.False(t, paused)

	requireNoErr(t, h.cc.SetPaused(h.ctx, true))
	paused, err = h.cc.IsPaused(h.ctx)
	requireNoErr(t, err)
	assert.True(t, paused)
	assert.Equal(t, 1, h.mem.countEvents(eventPauseToggled))

	// Setting the current value emits nothing.
	requireNoErr(t, h.cc.SetPaused(h.ctx, true))
	assert.Equal(t, 1, h.mem.countEvents(eventPauseToggled))

	requireNoErr(t, h.cc.SetPaused(h.ctx, false))
	assert.Equal(t, 2, h.mem.countEvents(eventPauseToggled))
}
