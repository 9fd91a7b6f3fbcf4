package service

import (
	"context"
	"time"

	"ipproof-backend/internal/features/ipproof/models"
	"ipproof-backend/internal/platform/opentimestamps"
)

// RegistrationService binds file hashes to new proof records.
type RegistrationService interface {
	Register(ctx context.Context, req *models.RegisterRequest) (models.RegisterOutcome, error)
}

// VerificationService answers lookups by file hash.
type VerificationService interface {
	Verify(ctx context.Context, fileHash string) (models.VerifyResult, error)
	// Certificate returns the full record for rendering, or NOT_FOUND.
	Certificate(ctx context.Context, fileHash string) (*models.ProofRecord, error)
	// Invalidate drops any cached view of fileHash.
	Invalidate(fileHash string)
}

// AnchorService drives records from pending to confirmed in the background.
type AnchorService interface {
	Start()
	Stop()
	// RunOnce runs one pending pass and one upgrade pass.
	RunOnce(ctx context.Context) error
	// Process advances a single record immediately and returns its new state.
	Process(ctx context.Context, fileHash string) (*models.ProofRecord, error)
}

// Timestamper is the calendar client.
type Timestamper interface {
	Submit(ctx context.Context, digest []byte) (opentimestamps.SubmitResult, error)
	Upgrade(ctx context.Context, proof []byte) (opentimestamps.UpgradeResult, error)
}

// BlockClock resolves a Bitcoin block height to its header time.
type BlockClock interface {
	BlockTime(ctx context.Context, height int64) (time.Time, error)
}

// Notifier delivers confirmation messages to Telegram users.
type Notifier interface {
	Enabled() bool
	SendMessage(ctx context.Context, chatID int64, text string) error
}
