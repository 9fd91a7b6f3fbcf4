package models

import (
	"fmt"
	"time"
)

// Status is the anchoring lifecycle state of a proof record.
type Status string

const (
	// StatusPending: no timestamp proof obtained yet
	StatusPending Status = "pending"
	// StatusAnchoring: proof submitted to calendars, awaiting Bitcoin inclusion
	StatusAnchoring Status = "anchoring"
	// StatusConfirmed: Bitcoin attestation present, attestation fields populated
	StatusConfirmed Status = "confirmed"
)

// validTransitions lists the only forward moves a record can make.
var validTransitions = map[Status]map[Status]bool{
	StatusPending:   {StatusAnchoring: true},
	StatusAnchoring: {StatusConfirmed: true},
	StatusConfirmed: {},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	return validTransitions[s][next]
}

// TransitionError is returned when a status change would move a record backwards
// or skip a state.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// CheckTransition returns a *TransitionError when from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Metadata is caller-supplied descriptive data; opaque to this service.
type Metadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ProofRecord is the stored association between a file hash and its
// anchoring status. FileHash is unique and never changes after creation.
type ProofRecord struct {
	ID         string `json:"id"`
	FileHash   string `json:"fileHash"`
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
	MimeType   string `json:"mimeType"`
	UserID     string `json:"userId"`
	TelegramID *int64 `json:"telegramId,omitempty"`

	// Base64 of a detached OpenTimestamps proof file
	OtsData *string `json:"otsData,omitempty"`
	Status  Status  `json:"status"`

	BitcoinTxID        *string    `json:"bitcoinTxId,omitempty"`
	BitcoinBlockHeight *int64     `json:"bitcoinBlockHeight,omitempty"`
	ConfirmationDate   *time.Time `json:"confirmationDate,omitempty"`

	Metadata *Metadata `json:"metadata,omitempty"`

	// Last time the anchoring worker picked the record up, successful or not
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasProof reports whether a timestamp proof blob is stored.
func (r *ProofRecord) HasProof() bool {
	return r.OtsData != nil && *r.OtsData != ""
}

// ShortHash returns the first 8 hex characters of the file hash.
func (r *ProofRecord) ShortHash() string {
	if len(r.FileHash) < 8 {
		return r.FileHash
	}
	return r.FileHash[:8]
}

// ConfirmParams carries the attestation data written when a record is confirmed.
type ConfirmParams struct {
	OtsData     string
	TxID        *string
	BlockHeight int64
	ConfirmedAt time.Time
}
