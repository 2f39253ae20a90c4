package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/roombook/core"
)

// =============================================================================
// CONFLICT DETECTOR
// =============================================================================

// HasConflict reports whether window collides with a blocking reservation in
// the room. It must run on the transaction that performs the write.
func HasConflict(ctx context.Context, f core.OverlapFinder, roomID core.RoomID, window core.TimeRange, excludeID *core.ReservationID) (bool, error) {
	err := CheckConflict(ctx, f, roomID, window, excludeID)
	var conflict *core.ConflictError
	if errors.As(err, &conflict) {
		return true, nil
	}
	return false, err
}

// CheckConflict returns a *core.ConflictError naming the first blocking hit.
func CheckConflict(ctx context.Context, f core.OverlapFinder, roomID core.RoomID, window core.TimeRange, excludeID *core.ReservationID) error {
	hits, err := f.FindOverlapping(ctx, core.OverlapQuery{RoomID: roomID, Window: window, ExcludeID: excludeID})
	if err != nil {
		return fmt.Errorf("find overlapping: %w", err)
	}
	for i := range hits {
		if hits[i].Status.Blocking() && core.Overlaps(hits[i].Window, window) {
			return &core.ConflictError{RoomID: roomID, Window: window, ConflictingID: hits[i].ID}
		}
	}
	return nil
}
