package service

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	apperrors "ipproof-backend/internal/common/errors"
	"ipproof-backend/internal/common/logger"
	"ipproof-backend/internal/common/validation"
	"ipproof-backend/internal/features/ipproof/models"
	"ipproof-backend/internal/features/ipproof/repository"
)

const (
	MessageRegisteredAnchoring = "Proof registered and submitted to Bitcoin blockchain. Confirmation expected in 1-2 hours."
	MessageRegisteredPending   = "Proof registered. Blockchain anchoring will be attempted shortly."
)

var registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ipproof_registrations_total",
	Help: "Registration outcomes: anchoring, pending or duplicate.",
}, []string{"outcome"})

type registrationService struct {
	repo        repository.ProofRepository
	timestamper Timestamper
	logger      zerolog.Logger
}

func NewRegistrationService(repo repository.ProofRepository, timestamper Timestamper) RegistrationService {
	return &registrationService{
		repo:        repo,
		timestamper: timestamper,
		logger:      logger.With("registration"),
	}
}

func (s *registrationService) Register(ctx context.Context, req *models.RegisterRequest) (models.RegisterOutcome, error) {
	if req == nil {
		return models.RegisterOutcome{}, apperrors.New(apperrors.ErrCodeBadRequest, "Request body is required")
	}
	if err := validation.RequireFields(req); err != nil {
		return models.RegisterOutcome{}, err
	}
	fileHash, err := validation.NormalizeFileHash(req.FileHash)
	if err != nil {
		return models.RegisterOutcome{}, err
	}

	existing, err := s.repo.FindByHash(ctx, fileHash)
	switch {
	case err == nil:
		registrationsTotal.WithLabelValues("duplicate").Inc()
		return models.AlreadyExists(existing), nil
	case !errors.Is(err, repository.ErrNotFound):
		return models.RegisterOutcome{}, apperrors.NewPersistenceError("find proof", err)
	}

	record := &models.ProofRecord{
		FileHash:   fileHash,
		FileName:   req.FileName,
		FileSize:   req.FileSize,
		MimeType:   req.MimeType,
		UserID:     req.UserID,
		TelegramID: req.TelegramID,
		Metadata:   req.Metadata,
		Status:     models.StatusPending,
	}

	// Calendar failures only defer anchoring; they never fail registration.
	digest, _ := hex.DecodeString(fileHash)
	res, err := s.timestamper.Submit(ctx, digest)
	if res.OK() {
		ots := base64.StdEncoding.EncodeToString(res.Proof)
		record.OtsData = &ots
		record.Status = models.StatusAnchoring
	} else {
		s.logger.Warn().
			Err(err).
			Str("file_hash", fileHash).
			Int("attempts", len(res.Attempts)).
			Msg("Timestamping deferred")
	}

	if err := s.repo.Insert(ctx, record); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Lost a concurrent registration race; report the winner.
			winner, ferr := s.repo.FindByHash(ctx, fileHash)
			if ferr != nil {
				return models.RegisterOutcome{}, apperrors.NewPersistenceError("find proof", ferr)
			}
			registrationsTotal.WithLabelValues("duplicate").Inc()
			return models.AlreadyExists(winner), nil
		}
		return models.RegisterOutcome{}, apperrors.NewPersistenceError("insert proof", err)
	}

	registrationsTotal.WithLabelValues(string(record.Status)).Inc()
	s.logger.Info().
		Str("proof_id", record.ID).
		Str("file_hash", fileHash).
		Str("status", string(record.Status)).
		Str("calendar", res.Calendar).
		Msg("Proof registered")

	message := MessageRegisteredPending
	if record.Status == models.StatusAnchoring {
		message = MessageRegisteredAnchoring
	}
	return models.Created(record, message), nil
}
