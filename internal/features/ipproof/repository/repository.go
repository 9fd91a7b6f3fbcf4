package repository

import (
	"context"
	"errors"
	"time"

	"ipproof-backend/internal/features/ipproof/models"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("proof record not found")
	// ErrConflict is returned when the file hash is already registered.
	ErrConflict = errors.New("proof record already exists")
)

// ProofRepository persists proof records.
type ProofRepository interface {
	// Insert stores r and fills ID, CreatedAt and UpdatedAt.
	Insert(ctx context.Context, r *models.ProofRecord) error
	FindByHash(ctx context.Context, fileHash string) (*models.ProofRecord, error)
	FindByID(ctx context.Context, id string) (*models.ProofRecord, error)
	// ListByStatus returns up to limit records. Records never attempted come
	// first, then the least recently attempted, oldest registration first on ties.
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.ProofRecord, error)
	// TouchAttempt records that the worker picked id up, whatever the result.
	TouchAttempt(ctx context.Context, id string) error

	// MarkAnchoring moves a pending record to anchoring with its first proof.
	MarkAnchoring(ctx context.Context, id, otsData string) error
	// UpdateProof replaces the proof of an anchoring record.
	UpdateProof(ctx context.Context, id, otsData string) error
	// MarkConfirmed moves an anchoring record to confirmed.
	MarkConfirmed(ctx context.Context, id string, p models.ConfirmParams) error
}

// Locker serialises work on a single record across processes.
type Locker interface {
	// TryLock returns false when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}
