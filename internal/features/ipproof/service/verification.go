package service

import (
	"context"
	"errors"
	"time"

	"ipproof-backend/internal/common/cache"
	apperrors "ipproof-backend/internal/common/errors"
	"ipproof-backend/internal/common/validation"
	"ipproof-backend/internal/features/ipproof/models"
	"ipproof-backend/internal/features/ipproof/repository"
)

const (
	MessageNotFound        = "No proof found for this file hash"
	MessageStatusPending   = "Proof registered, awaiting blockchain submission"
	MessageStatusAnchoring = "Proof submitted, awaiting confirmation on Bitcoin blockchain"
	MessageStatusConfirmed = "Proof confirmed on Bitcoin blockchain"
	MessageStatusUnknown   = "Unknown status"
)

// StatusMessage is the verification message for a status. It must cover
// every models.Status value.
func StatusMessage(s models.Status) string {
	switch s {
	case models.StatusPending:
		return MessageStatusPending
	case models.StatusAnchoring:
		return MessageStatusAnchoring
	case models.StatusConfirmed:
		return MessageStatusConfirmed
	default:
		return MessageStatusUnknown
	}
}

type verificationService struct {
	repo  repository.ProofRepository
	cache *cache.CacheService[string, *models.ProofRecord]
}

// NewVerificationService caches confirmed records only; they never change.
func NewVerificationService(repo repository.ProofRepository, cacheSize int, cacheTTL time.Duration) VerificationService {
	return &verificationService{
		repo:  repo,
		cache: cache.NewCacheService[string, *models.ProofRecord]("verify", cacheSize, cacheTTL),
	}
}

func (s *verificationService) Verify(ctx context.Context, fileHash string) (models.VerifyResult, error) {
	record, err := s.lookup(ctx, fileHash)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return models.VerifyResult{Exists: false, Message: MessageNotFound}, nil
		}
		return models.VerifyResult{}, err
	}
	return models.VerifyResult{
		Exists:  true,
		Record:  record,
		Message: StatusMessage(record.Status),
	}, nil
}

func (s *verificationService) Certificate(ctx context.Context, fileHash string) (*models.ProofRecord, error) {
	return s.lookup(ctx, fileHash)
}

func (s *verificationService) Invalidate(fileHash string) {
	if h, err := validation.NormalizeFileHash(fileHash); err == nil {
		s.cache.Delete(h)
	}
}

func (s *verificationService) lookup(ctx context.Context, fileHash string) (*models.ProofRecord, error) {
	hash, err := validation.NormalizeFileHash(fileHash)
	if err != nil {
		return nil, err
	}

	if record, ok := s.cache.Get(hash); ok {
		return record, nil
	}

	record, err := s.repo.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("Proof")
		}
		return nil, apperrors.NewPersistenceError("find proof", err)
	}

	if record.Status == models.StatusConfirmed {
		s.cache.Set(hash, record)
	}
	return record, nil
}
