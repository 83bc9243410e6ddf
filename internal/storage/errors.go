package storage

import "errors"

// Common storage errors
var (
	// ErrEventNotFound indicates that event was not found in the log
	ErrEventNotFound = errors.New("event not found")

	// ErrDocumentNotFound indicates that no projection exists for (domain, canonical_path)
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDuplicateIdempotencyKey indicates that the idempotency key was already consumed
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

	// ErrPeerNotFound indicates that sync peer is not registered
	ErrPeerNotFound = errors.New("sync peer not found")

	// ErrMergeJobNotFound indicates that merge job was not found
	ErrMergeJobNotFound = errors.New("merge job not found")

	// ErrNoPendingJobs indicates that the claim found no pending work
	ErrNoPendingJobs = errors.New("no pending jobs")

	// ErrWorkspaceNotFound indicates that plugin workspace mapping is absent
	ErrWorkspaceNotFound = errors.New("plugin workspace not found")
)
