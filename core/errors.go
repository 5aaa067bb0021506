// Package core implements the coordinator-side poll state machine: message
// ingest, reverse-order batch processing, vote tallying and the subsidy
// calculation, each emitting the inputs of its proving circuit.
package core

import "fmt"

// ProcessMessageErrorKind enumerates the reasons a vote command is rejected.
// The order matters: validation stops at the first failing rule.
type ProcessMessageErrorKind int

const (
	ErrInvalidStateLeafIndex ProcessMessageErrorKind = iota
	ErrInvalidSignature
	ErrInvalidNonce
	ErrInvalidVoteOptionIndex
	ErrInsufficientVoiceCredits
	ErrFailedDecryption
)

// String returns the canonical name of the rejection kind.
func (k ProcessMessageErrorKind) String() string {
	switch k {
	case ErrInvalidStateLeafIndex:
		return "InvalidStateLeafIndex"
	case ErrInvalidSignature:
		return "InvalidSignature"
	case ErrInvalidNonce:
		return "InvalidNonce"
	case ErrInvalidVoteOptionIndex:
		return "InvalidVoteOptionIndex"
	case ErrInsufficientVoiceCredits:
		return "InsufficientVoiceCredits"
	case ErrFailedDecryption:
		return "FailedDecryption"
	default:
		return fmt.Sprintf("ProcessMessageErrorKind(%d)", int(k))
	}
}

// ProcessMessageError marks a rejected vote command. The batch processor
// converts it into witness placeholders and keeps going; every other error
// aborts the batch.
type ProcessMessageError struct {
	Kind ProcessMessageErrorKind
}

// Error implements the error interface.
func (e *ProcessMessageError) Error() string {
	return fmt.Sprintf("process message: %s", e.Kind)
}

func newProcessMessageError(kind ProcessMessageErrorKind) *ProcessMessageError {
	return &ProcessMessageError{Kind: kind}
}
