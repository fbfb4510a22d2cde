package neat

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by genome, species and generation operations.
// They are always wrapped with context, so compare them with errors.Is.
var (
	// ErrNotFound reports a lookup of a connection, node or ledger entry that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports an attempt to add a gene or identifier that already exists.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput reports malformed parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMembership reports a genome that is not part of the species it was queried against.
	ErrMembership = fmt.Errorf("genome is not a member of the species: %w", ErrNotFound)
	// ErrCycle reports a connection that would close a cycle in a feed-forward genome.
	ErrCycle = fmt.Errorf("connection would create a cycle: %w", ErrConflict)
)
