package match

import (
	"testing"

	"github.com/iFunFactory/dshostd/internal/apierrors"
)

func newTestRegistry(size int, maxActive int) *Registry {
	return NewRegistry(PortPoolConfig{BasePort: 7500, Size: size}, maxActive)
}

func TestRegistry_ReserveAllocatesFromPool(t *testing.T) {
	r := newTestRegistry(2, 0)

	_, port, beacon, err := r.Reserve("match-1", Origin{Host: "1.2.3.4", Port: 9000}, map[string]any{}, false)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if port != 7500 {
		t.Fatalf("expected first pool port 7500, got %d", port)
	}
	if beacon != 0 {
		t.Fatalf("expected no beacon port when useBeacon is false, got %d", beacon)
	}
	if got := r.FreePorts(); got != 1 {
		t.Fatalf("expected 1 free port remaining, got %d", got)
	}
}

func TestRegistry_ReserveBeaconSteppingByTwo(t *testing.T) {
	r := NewRegistry(PortPoolConfig{BasePort: 7500, Size: 2, UseBeacon: true}, 0)

	_, port, beacon, err := r.Reserve("match-1", Origin{}, map[string]any{}, true)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if port != 7500 || beacon != 7501 {
		t.Fatalf("expected port=7500 beacon=7501, got port=%d beacon=%d", port, beacon)
	}

	_, port2, beacon2, err := r.Reserve("match-2", Origin{}, map[string]any{}, true)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if port2 != 7502 || beacon2 != 7503 {
		t.Fatalf("expected port=7502 beacon=7503, got port=%d beacon=%d", port2, beacon2)
	}
}

func TestRegistry_ReserveDuplicateMatchIDFails(t *testing.T) {
	r := newTestRegistry(2, 0)
	if _, _, _, err := r.Reserve("match-1", Origin{}, map[string]any{}, false); err != nil {
		t.Fatalf("first Reserve failed: %v", err)
	}
	_, _, _, err := r.Reserve("match-1", Origin{}, map[string]any{}, false)
	if apierrors.AsAPIError(err).Code != apierrors.ErrAlreadyCreated.Code {
		t.Fatalf("expected ErrAlreadyCreated, got %v", err)
	}
}

func TestRegistry_ReserveCapacityExceeded(t *testing.T) {
	r := newTestRegistry(1, 0)
	if _, _, _, err := r.Reserve("match-1", Origin{}, map[string]any{}, false); err != nil {
		t.Fatalf("first Reserve failed: %v", err)
	}
	_, _, _, err := r.Reserve("match-2", Origin{}, map[string]any{}, false)
	if apierrors.AsAPIError(err).Code != apierrors.ErrCapacityExceeded.Code {
		t.Fatalf("expected ErrCapacityExceeded on exhausted pool, got %v", err)
	}
}

func TestRegistry_ReserveMaxActiveCap(t *testing.T) {
	r := newTestRegistry(10, 1)
	if _, _, _, err := r.Reserve("match-1", Origin{}, map[string]any{}, false); err != nil {
		t.Fatalf("first Reserve failed: %v", err)
	}
	_, _, _, err := r.Reserve("match-2", Origin{}, map[string]any{}, false)
	if apierrors.AsAPIError(err).Code != apierrors.ErrCapacityExceeded.Code {
		t.Fatalf("expected ErrCapacityExceeded when at maxActive, got %v", err)
	}
}

func TestRegistry_RemoveReturnsPortsForRelease(t *testing.T) {
	r := newTestRegistry(2, 0)
	r.Reserve("match-1", Origin{}, map[string]any{}, false)
	r.AttachInstance("match-1", Instance{PID: 123, GamePort: 7500})

	port, beacon, _, ok := r.Remove("match-1")
	if !ok {
		t.Fatalf("expected Remove to find match-1")
	}
	if port != 7500 || beacon != 0 {
		t.Fatalf("expected freed port 7500 beacon 0, got port=%d beacon=%d", port, beacon)
	}

	// Removing an already-gone match is a harmless no-op.
	if _, _, _, ok := r.Remove("match-1"); ok {
		t.Fatalf("expected second Remove to report ok=false")
	}
}

func TestRegistry_MarkReadyFiresSignalOnce(t *testing.T) {
	r := newTestRegistry(2, 0)
	r.Reserve("match-1", Origin{}, map[string]any{}, false)

	sig := r.MarkReady("match-1")
	if sig == nil {
		t.Fatalf("expected a non-nil signal")
	}
	if !sig.Fired() {
		t.Fatalf("expected signal to have fired")
	}

	rec, _ := r.Get("match-1")
	if rec.State != StateReady {
		t.Fatalf("expected state Ready, got %v", rec.State)
	}

	// A second call for an already-Ready match must not panic or refire.
	sig2 := r.MarkReady("match-1")
	if sig2 != sig {
		t.Fatalf("expected the same signal pointer back")
	}
}

func TestRegistry_MarkReadyUnknownMatch(t *testing.T) {
	r := newTestRegistry(2, 0)
	if sig := r.MarkReady("nope"); sig != nil {
		t.Fatalf("expected nil signal for unknown match_id")
	}
}

func TestRegistry_AppendAndDrainBatchesAllOrNothing(t *testing.T) {
	r := newTestRegistry(2, 0)
	r.Reserve("match-1", Origin{}, map[string]any{}, false)

	b1 := &Batch{Users: []string{"alice"}, Completion: NewSignal()}
	b2 := &Batch{Users: []string{"bob"}, Completion: NewSignal()}
	if err := r.AppendBatch("match-1", b1); err != nil {
		t.Fatalf("AppendBatch b1: %v", err)
	}
	if err := r.AppendBatch("match-1", b2); err != nil {
		t.Fatalf("AppendBatch b2: %v", err)
	}

	drained := r.DrainBatches("match-1")
	if len(drained) != 2 {
		t.Fatalf("expected both batches drained together, got %d", len(drained))
	}

	// A second drain with nothing pending returns nil, not an empty-but-partial slice.
	if drained2 := r.DrainBatches("match-1"); drained2 != nil {
		t.Fatalf("expected nil on empty drain, got %v", drained2)
	}
}

func TestRegistry_AppendBatchUnknownMatch(t *testing.T) {
	r := newTestRegistry(2, 0)
	err := r.AppendBatch("nope", &Batch{})
	if apierrors.AsAPIError(err).Code != apierrors.ErrMatchNotFound.Code {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestRegistry_TailPortDoesNotPop(t *testing.T) {
	r := newTestRegistry(3, 0)
	tail := r.TailPort()
	if tail != 7502 {
		t.Fatalf("expected tail port 7502, got %d", tail)
	}
	if got := r.FreePorts(); got != 3 {
		t.Fatalf("TailPort must not remove the port from the pool, free ports = %d", got)
	}
}

func TestRegistry_SnapshotInstancesExcludesProbe(t *testing.T) {
	r := newTestRegistry(3, 0)
	r.Reserve("match-1", Origin{}, map[string]any{}, false)
	r.AttachInstance("match-1", Instance{PID: 1, GamePort: 7500})
	r.Reserve(NullMatchID, Origin{}, map[string]any{}, false)
	r.AttachInstance(NullMatchID, Instance{PID: 2, GamePort: 7501})

	snap := r.SnapshotInstances()
	if _, ok := snap[NullMatchID]; ok {
		t.Fatalf("expected the version-probe sentinel to be excluded from the published snapshot")
	}
	if _, ok := snap["match-1"]; !ok {
		t.Fatalf("expected match-1 present in the snapshot")
	}
}
