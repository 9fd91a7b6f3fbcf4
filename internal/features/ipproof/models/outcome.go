package models

// OutcomeKind distinguishes the two successful results of a registration.
type OutcomeKind int

const (
	// OutcomeCreated: a new record was persisted
	OutcomeCreated OutcomeKind = iota + 1
	// OutcomeAlreadyExists: the hash was registered before; nothing was written
	OutcomeAlreadyExists
)

// RegisterOutcome is Created(record) | AlreadyExists(existing).
// Callers switch on Kind instead of inspecting errors.
type RegisterOutcome struct {
	Kind    OutcomeKind
	Record  *ProofRecord
	Message string
}

func Created(record *ProofRecord, message string) RegisterOutcome {
	return RegisterOutcome{Kind: OutcomeCreated, Record: record, Message: message}
}

func AlreadyExists(existing *ProofRecord) RegisterOutcome {
	return RegisterOutcome{
		Kind:    OutcomeAlreadyExists,
		Record:  existing,
		Message: "This file has already been registered",
	}
}

// VerifyResult is the outcome of looking a hash up.
type VerifyResult struct {
	Exists  bool
	Record  *ProofRecord
	Message string
}
