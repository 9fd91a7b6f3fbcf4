package service

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	apperrors "ipproof-backend/internal/common/errors"
	"ipproof-backend/internal/common/logger"
	"ipproof-backend/internal/common/validation"
	"ipproof-backend/internal/features/ipproof/models"
	"ipproof-backend/internal/features/ipproof/repository"
	lockrepo "ipproof-backend/internal/features/ipproof/repository/redis"
	"ipproof-backend/internal/platform/telegram"
)

const unlockTimeout = 5 * time.Second

var anchorTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ipproof_anchor_transitions_total",
	Help: "Status transitions performed by the anchoring worker.",
}, []string{"to"})

// AnchorConfig tunes the anchoring worker.
type AnchorConfig struct {
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
	// Used to build the verification link in notifications
	PublicBaseURL string
}

type anchorService struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	repo        repository.ProofRepository
	timestamper Timestamper
	blocks      BlockClock
	notifier    Notifier
	locker      repository.Locker
	cfg         AnchorConfig
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAnchorService wires the worker. blocks and notifier may be nil.
func NewAnchorService(
	repo repository.ProofRepository,
	timestamper Timestamper,
	blocks BlockClock,
	notifier Notifier,
	locker repository.Locker,
	cfg AnchorConfig,
) AnchorService {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &anchorService{
		ctx:         ctx,
		cancel:      cancel,
		repo:        repo,
		timestamper: timestamper,
		blocks:      blocks,
		notifier:    notifier,
		locker:      locker,
		cfg:         cfg,
		logger:      logger.With("anchor"),
		now:         time.Now,
	}
}

func (s *anchorService) Start() {
	s.logger.Info().Dur("interval", s.cfg.Interval).Int("batch_size", s.cfg.BatchSize).Msg("Starting anchoring worker")
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.RunOnce(s.ctx); err != nil && s.ctx.Err() == nil {
					s.logger.Error().Err(err).Msg("Anchoring pass failed")
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

func (s *anchorService) Stop() {
	s.logger.Info().Msg("Stopping anchoring worker")
	s.cancel()
	s.wg.Wait()
}

func (s *anchorService) RunOnce(ctx context.Context) error {
	var errs []error

	pending, err := s.repo.ListByStatus(ctx, models.StatusPending, s.cfg.BatchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("list pending: %w", err))
	}
	for _, r := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.withLock(ctx, r, s.submitPending); err != nil {
			s.logger.Warn().Err(err).Str("file_hash", r.FileHash).Msg("Pending submission failed")
		}
	}

	anchoring, err := s.repo.ListByStatus(ctx, models.StatusAnchoring, s.cfg.BatchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("list anchoring: %w", err))
	}
	for _, r := range anchoring {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.withLock(ctx, r, s.upgrade); err != nil {
			s.logger.Warn().Err(err).Str("file_hash", r.FileHash).Msg("Proof upgrade failed")
		}
	}

	s.logger.Debug().Int("pending", len(pending)).Int("anchoring", len(anchoring)).Msg("Anchoring pass done")
	return errors.Join(errs...)
}

func (s *anchorService) Process(ctx context.Context, fileHash string) (*models.ProofRecord, error) {
	hash, err := validation.NormalizeFileHash(fileHash)
	if err != nil {
		return nil, err
	}
	r, err := s.repo.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("Proof")
		}
		return nil, apperrors.NewPersistenceError("find proof", err)
	}

	switch r.Status {
	case models.StatusPending:
		r, err = s.withLock(ctx, r, s.submitPending)
	case models.StatusAnchoring:
		r, err = s.withLock(ctx, r, s.upgrade)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Anchoring failed")
	}
	return r, nil
}

type step func(ctx context.Context, r *models.ProofRecord) (*models.ProofRecord, error)

// withLock runs fn while holding the record's lock. A lock held elsewhere
// is not an error; r is returned unchanged.
func (s *anchorService) withLock(ctx context.Context, r *models.ProofRecord, fn step) (*models.ProofRecord, error) {
	key := lockrepo.LockKey(r.FileHash)
	ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return r, err
	}
	if !ok {
		s.logger.Debug().Str("file_hash", r.FileHash).Msg("Record locked elsewhere, skipping")
		return r, nil
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if err := s.locker.Unlock(uctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to release lock")
		}
	}()

	// Moves r behind the rest of its status on the next pass, even if fn fails.
	if err := s.repo.TouchAttempt(ctx, r.ID); err != nil {
		s.logger.Warn().Err(err).Str("file_hash", r.FileHash).Msg("Failed to record attempt")
	}

	next, err := fn(ctx, r)
	var te *models.TransitionError
	if errors.As(err, &te) {
		// Another worker moved the record first; report its current state.
		return s.reload(ctx, r)
	}
	return next, err
}

func (s *anchorService) reload(ctx context.Context, r *models.ProofRecord) (*models.ProofRecord, error) {
	fresh, err := s.repo.FindByID(ctx, r.ID)
	if err != nil {
		return r, err
	}
	return fresh, nil
}

func (s *anchorService) submitPending(ctx context.Context, r *models.ProofRecord) (*models.ProofRecord, error) {
	digest, err := hex.DecodeString(r.FileHash)
	if err != nil {
		return r, fmt.Errorf("stored hash is not hex: %w", err)
	}

	res, err := s.timestamper.Submit(ctx, digest)
	if !res.OK() {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		s.logger.Info().Err(err).Str("file_hash", r.FileHash).Msg("Calendars unavailable, record stays pending")
		return r, nil
	}

	ots := base64.StdEncoding.EncodeToString(res.Proof)
	if err := s.repo.MarkAnchoring(ctx, r.ID, ots); err != nil {
		return r, err
	}
	anchorTransitionsTotal.WithLabelValues(string(models.StatusAnchoring)).Inc()
	s.logger.Info().Str("proof_id", r.ID).Str("calendar", res.Calendar).Msg("Proof submitted to calendar")

	updated := *r
	updated.Status = models.StatusAnchoring
	updated.OtsData = &ots
	updated.UpdatedAt = s.now().UTC()
	return &updated, nil
}

func (s *anchorService) upgrade(ctx context.Context, r *models.ProofRecord) (*models.ProofRecord, error) {
	if !r.HasProof() {
		return r, fmt.Errorf("anchoring record %s has no proof", r.ID)
	}
	proof, err := base64.StdEncoding.DecodeString(*r.OtsData)
	if err != nil {
		return r, fmt.Errorf("stored proof is not base64: %w", err)
	}

	res, err := s.timestamper.Upgrade(ctx, proof)
	if err != nil {
		return r, err
	}
	if res.Upgraded {
		proof = res.Proof
	}
	ots := base64.StdEncoding.EncodeToString(proof)

	updated := *r
	updated.OtsData = &ots
	updated.UpdatedAt = s.now().UTC()

	if res.Bitcoin == nil {
		if !res.Upgraded {
			return r, nil
		}
		if err := s.repo.UpdateProof(ctx, r.ID, ots); err != nil {
			return r, err
		}
		return &updated, nil
	}

	height := int64(res.Bitcoin.BlockHeight)
	confirmedAt := s.blockTime(ctx, height)
	var txid *string
	if res.Bitcoin.TxID != "" {
		id := res.Bitcoin.TxID
		txid = &id
	}

	err = s.repo.MarkConfirmed(ctx, r.ID, models.ConfirmParams{
		OtsData:     ots,
		TxID:        txid,
		BlockHeight: height,
		ConfirmedAt: confirmedAt,
	})
	if err != nil {
		return r, err
	}
	anchorTransitionsTotal.WithLabelValues(string(models.StatusConfirmed)).Inc()
	s.logger.Info().
		Str("proof_id", r.ID).
		Int64("block_height", height).
		Str("txid", res.Bitcoin.TxID).
		Msg("Proof confirmed on Bitcoin")

	updated.Status = models.StatusConfirmed
	updated.BitcoinTxID = txid
	updated.BitcoinBlockHeight = &height
	updated.ConfirmationDate = &confirmedAt

	s.notify(ctx, &updated)
	return &updated, nil
}

// blockTime falls back to the detection time when the explorer is unavailable.
func (s *anchorService) blockTime(ctx context.Context, height int64) time.Time {
	if s.blocks != nil {
		t, err := s.blocks.BlockTime(ctx, height)
		if err == nil {
			return t.UTC()
		}
		s.logger.Warn().Err(err).Int64("block_height", height).Msg("Block time lookup failed")
	}
	return s.now().UTC()
}

func (s *anchorService) notify(ctx context.Context, r *models.ProofRecord) {
	if s.notifier == nil || !s.notifier.Enabled() || r.TelegramID == nil {
		return
	}
	verifyURL := ""
	if s.cfg.PublicBaseURL != "" {
		verifyURL = s.cfg.PublicBaseURL + "/verify?hash=" + r.FileHash
	}
	text := telegram.ConfirmationMessage(r.FileName, r.FileHash, *r.BitcoinBlockHeight, verifyURL)
	if err := s.notifier.SendMessage(ctx, *r.TelegramID, text); err != nil {
		s.logger.Warn().Err(err).Int64("telegram_id", *r.TelegramID).Msg("Confirmation notification failed")
	}
}
