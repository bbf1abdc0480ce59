package recon

import "errors"

var (
	// ErrScanStarted is returned when Run is called twice on the same scan.
	ErrScanStarted = errors.New("scan already started")

	// ErrScanFinished is returned for commands sent after the scan loop exited.
	ErrScanFinished = errors.New("scan finished")

	// ErrScanInterrupted is returned by Run when its context ends before the
	// scan settles. The session stays resumable.
	ErrScanInterrupted = errors.New("scan interrupted")

	// ErrScanAborted is the cancellation cause handed to adapters on abort.
	ErrScanAborted = errors.New("scan aborted")

	// ErrTaskSkipped is the cancellation cause handed to an adapter whose task
	// the operator skipped.
	ErrTaskSkipped = errors.New("task skipped by operator")

	// ErrConfirmationNotFound is returned when deciding an unknown or already
	// resolved confirmation request.
	ErrConfirmationNotFound = errors.New("confirmation request not found")
)
