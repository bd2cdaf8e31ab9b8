package sync

import (
	"errors"
	"fmt"

	"github.com/marcus/teer/internal/syncclient"
)

// ErrSyncInProgress is returned when a trigger arrives during a running sync.
// The trigger is dropped; the running session covers it.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrOffline is returned when a sync is requested while offline.
var ErrOffline = errors.New("offline")

// TransientSyncError is a replay failure that may succeed later. The
// operation stays queued.
type TransientSyncError struct {
	OperationID string
	Err         error
}

func (e *TransientSyncError) Error() string {
	return fmt.Sprintf("operation %s: transient: %v", e.OperationID, e.Err)
}

func (e *TransientSyncError) Unwrap() error { return e.Err }

// PermanentSyncError is a replay failure that can never succeed. The
// operation is discarded and reported as a lost write.
type PermanentSyncError struct {
	OperationID string
	Err         error
}

func (e *PermanentSyncError) Error() string {
	return fmt.Sprintf("operation %s: rejected: %v", e.OperationID, e.Err)
}

func (e *PermanentSyncError) Unwrap() error { return e.Err }

// classify wraps a replay error as transient or permanent. Errors already
// classified by the replay function are kept as they are.
func classify(opID string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientSyncError
	var pe *PermanentSyncError
	if errors.As(err, &te) || errors.As(err, &pe) {
		return err
	}
	if syncclient.IsRejected(err) {
		return &PermanentSyncError{OperationID: opID, Err: err}
	}
	return &TransientSyncError{OperationID: opID, Err: err}
}

// IsPermanent reports whether err is a *PermanentSyncError.
func IsPermanent(err error) bool {
	var pe *PermanentSyncError
	return errors.As(err, &pe)
}
