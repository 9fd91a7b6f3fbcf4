package service

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ipproof-backend/internal/common/errors"
	"ipproof-backend/internal/features/ipproof/models"
	"ipproof-backend/internal/features/ipproof/repository"
	"ipproof-backend/internal/features/ipproof/repository/memory"
	lockrepo "ipproof-backend/internal/features/ipproof/repository/redis"
	"ipproof-backend/internal/platform/opentimestamps"
)

// --- stubs ---

type stubTimestamper struct {
	submitFn  func(ctx context.Context, digest []byte) (opentimestamps.SubmitResult, error)
	upgradeFn func(ctx context.Context, proof []byte) (opentimestamps.UpgradeResult, error)
	submits   int32
	upgrades  int32
}

func (s *stubTimestamper) Submit(ctx context.Context, digest []byte) (opentimestamps.SubmitResult, error) {
	atomic.AddInt32(&s.submits, 1)
	if s.submitFn != nil {
		return s.submitFn(ctx, digest)
	}
	return opentimestamps.SubmitResult{}, opentimestamps.ErrAllCalendarsFailed
}

func (s *stubTimestamper) Upgrade(ctx context.Context, proof []byte) (opentimestamps.UpgradeResult, error) {
	atomic.AddInt32(&s.upgrades, 1)
	if s.upgradeFn != nil {
		return s.upgradeFn(ctx, proof)
	}
	return opentimestamps.UpgradeResult{}, nil
}

func acceptingTimestamper(proof []byte) *stubTimestamper {
	return &stubTimestamper{
		submitFn: func(context.Context, []byte) (opentimestamps.SubmitResult, error) {
			return opentimestamps.SubmitResult{Proof: proof, Calendar: "https://a.pool.opentimestamps.org"}, nil
		},
	}
}

type stubBlockClock struct {
	t   time.Time
	err error
}

func (b stubBlockClock) BlockTime(context.Context, int64) (time.Time, error) {
	return b.t, b.err
}

type sentMessage struct {
	chatID int64
	text   string
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *stubNotifier) Enabled() bool { return true }

func (n *stubNotifier) SendMessage(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

// countingRepo counts FindByHash calls.
type countingRepo struct {
	repository.ProofRepository
	finds int32
}

func (r *countingRepo) FindByHash(ctx context.Context, hash string) (*models.ProofRecord, error) {
	atomic.AddInt32(&r.finds, 1)
	return r.ProofRepository.FindByHash(ctx, hash)
}

// racingRepo lets a competing registration win right before Insert.
type racingRepo struct {
	repository.ProofRepository
	winner *models.ProofRecord
}

func (r *racingRepo) Insert(ctx context.Context, p *models.ProofRecord) error {
	if r.winner != nil {
		if err := r.ProofRepository.Insert(ctx, r.winner); err != nil {
			return err
		}
		r.winner = nil
	}
	return r.ProofRepository.Insert(ctx, p)
}

type failingRepo struct {
	repository.ProofRepository
}

func (failingRepo) FindByHash(context.Context, string) (*models.ProofRecord, error) {
	return nil, errors.New("connection refused")
}

func validRequest() *models.RegisterRequest {
	return &models.RegisterRequest{
		FileHash: strings.Repeat("A", 64),
		FileName: "doc.pdf",
		FileSize: 2048,
		MimeType: "application/pdf",
		UserID:   "u1",
	}
}

// --- registration ---

func TestRegister_Anchoring(t *testing.T) {
	repo := memory.NewProofRepository()
	ts := acceptingTimestamper([]byte("ots-proof"))
	svc := NewRegistrationService(repo, ts)

	out, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, out.Kind)
	assert.Equal(t, models.StatusAnchoring, out.Record.Status)
	assert.Equal(t, strings.Repeat("a", 64), out.Record.FileHash)
	require.NotNil(t, out.Record.OtsData)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("ots-proof")), *out.Record.OtsData)
	assert.Equal(t, MessageRegisteredAnchoring, out.Message)

	stored, err := repo.FindByHash(context.Background(), strings.Repeat("a", 64))
	require.NoError(t, err)
	assert.Equal(t, out.Record.ID, stored.ID)
}

func TestRegister_CalendarsDown(t *testing.T) {
	repo := memory.NewProofRepository()
	svc := NewRegistrationService(repo, &stubTimestamper{})

	out, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, out.Kind)
	assert.Equal(t, models.StatusPending, out.Record.Status)
	assert.Nil(t, out.Record.OtsData)
	assert.Equal(t, MessageRegisteredPending, out.Message)
}

func TestRegister_Duplicate(t *testing.T) {
	repo := memory.NewProofRepository()
	ts := acceptingTimestamper([]byte("p"))
	svc := NewRegistrationService(repo, ts)

	first, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.FileHash = strings.ToLower(req.FileHash)
	second, err := svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAlreadyExists, second.Kind)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, first.Record.CreatedAt, second.Record.CreatedAt)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ts.submits))
}

func TestRegister_LostRace(t *testing.T) {
	winner := &models.ProofRecord{
		FileHash: strings.Repeat("a", 64),
		FileName: "other.pdf", FileSize: 1, MimeType: "x", UserID: "u2",
	}
	repo := &racingRepo{ProofRepository: memory.NewProofRepository(), winner: winner}
	svc := NewRegistrationService(repo, &stubTimestamper{})

	out, err := svc.Register(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAlreadyExists, out.Kind)
	assert.Equal(t, winner.ID, out.Record.ID)
	assert.Equal(t, "other.pdf", out.Record.FileName)
}

func TestRegister_MissingFields(t *testing.T) {
	svc := NewRegistrationService(memory.NewProofRepository(), &stubTimestamper{})

	req := validRequest()
	req.FileName = ""
	req.FileSize = 0
	_, err := svc.Register(context.Background(), req)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeMissingFields, appErr.Code)
	assert.ElementsMatch(t, []string{"fileName", "fileSize"}, appErr.Details["fields"])
}

func TestRegister_NegativeFileSizeStoredVerbatim(t *testing.T) {
	repo := memory.NewProofRepository()
	svc := NewRegistrationService(repo, &stubTimestamper{})

	req := validRequest()
	req.FileSize = -1
	out, err := svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, out.Kind)

	stored, err := repo.FindByHash(context.Background(), strings.Repeat("a", 64))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), stored.FileSize)
}

func TestRegister_InvalidHash(t *testing.T) {
	ts := &stubTimestamper{}
	svc := NewRegistrationService(memory.NewProofRepository(), ts)

	for _, h := range []string{"abc", strings.Repeat("g", 64), strings.Repeat("a", 65)} {
		req := validRequest()
		req.FileHash = h
		_, err := svc.Register(context.Background(), req)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidHash), h)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&ts.submits))
}

func TestRegister_StoreFailure(t *testing.T) {
	svc := NewRegistrationService(failingRepo{memory.NewProofRepository()}, &stubTimestamper{})
	_, err := svc.Register(context.Background(), validRequest())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePersistenceFailure))
}

// --- verification ---

func TestStatusMessage(t *testing.T) {
	assert.Contains(t, StatusMessage(models.StatusPending), "awaiting blockchain submission")
	assert.Contains(t, StatusMessage(models.StatusAnchoring), "awaiting confirmation")
	assert.Contains(t, StatusMessage(models.StatusConfirmed), "confirmed")
	assert.Equal(t, MessageStatusUnknown, StatusMessage(models.Status("archived")))
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProofRepository()
	svc := NewVerificationService(repo, 16, time.Minute)

	res, err := svc.Verify(ctx, strings.Repeat("b", 64))
	require.NoError(t, err)
	assert.False(t, res.Exists)
	assert.Equal(t, MessageNotFound, res.Message)

	_, err = svc.Verify(ctx, "nothex")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidHash))

	rec := &models.ProofRecord{FileHash: strings.Repeat("b", 64), FileName: "a", FileSize: 1, MimeType: "x", UserID: "u"}
	require.NoError(t, repo.Insert(ctx, rec))

	res, err = svc.Verify(ctx, strings.Repeat("B", 64))
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, MessageStatusPending, res.Message)

	_, err = svc.Certificate(ctx, strings.Repeat("c", 64))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestVerify_CachesConfirmedOnly(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{ProofRepository: memory.NewProofRepository()}
	svc := NewVerificationService(repo, 16, time.Minute)

	rec := &models.ProofRecord{FileHash: strings.Repeat("d", 64), FileName: "a", FileSize: 1, MimeType: "x", UserID: "u"}
	require.NoError(t, repo.Insert(ctx, rec))

	_, _ = svc.Verify(ctx, rec.FileHash)
	_, _ = svc.Verify(ctx, rec.FileHash)
	assert.Equal(t, int32(2), atomic.LoadInt32(&repo.finds))

	require.NoError(t, repo.MarkAnchoring(ctx, rec.ID, "x"))
	require.NoError(t, repo.MarkConfirmed(ctx, rec.ID, models.ConfirmParams{OtsData: "y", BlockHeight: 1, ConfirmedAt: time.Now()}))

	res, err := svc.Verify(ctx, rec.FileHash)
	require.NoError(t, err)
	assert.Equal(t, MessageStatusConfirmed, res.Message)
	_, _ = svc.Verify(ctx, rec.FileHash)
	assert.Equal(t, int32(3), atomic.LoadInt32(&repo.finds))

	svc.Invalidate(rec.FileHash)
	_, _ = svc.Verify(ctx, rec.FileHash)
	assert.Equal(t, int32(4), atomic.LoadInt32(&repo.finds))
}

// --- anchoring ---

func newAnchorFixture(t *testing.T, ts Timestamper) (repository.ProofRepository, *stubNotifier, AnchorService) {
	t.Helper()
	repo := memory.NewProofRepository()
	notifier := &stubNotifier{}
	blockTime := time.Date(2024, 4, 20, 0, 9, 27, 0, time.UTC)
	svc := NewAnchorService(repo, ts, stubBlockClock{t: blockTime}, notifier, lockrepo.NewMemoryLocker(), AnchorConfig{
		Interval:      time.Hour,
		BatchSize:     10,
		LockTTL:       time.Minute,
		PublicBaseURL: "https://example.com",
	})
	return repo, notifier, svc
}

func insertRecord(t *testing.T, repo repository.ProofRepository, hash string, tg *int64) *models.ProofRecord {
	t.Helper()
	rec := &models.ProofRecord{FileHash: hash, FileName: "doc.pdf", FileSize: 1, MimeType: "x", UserID: "u1", TelegramID: tg}
	require.NoError(t, repo.Insert(context.Background(), rec))
	return rec
}

func TestAnchor_PendingToConfirmed(t *testing.T) {
	ctx := context.Background()
	ts := acceptingTimestamper([]byte("proof-v1"))
	ready := false
	ts.upgradeFn = func(_ context.Context, proof []byte) (opentimestamps.UpgradeResult, error) {
		assert.Equal(t, []byte("proof-v1"), proof)
		if !ready {
			return opentimestamps.UpgradeResult{}, nil
		}
		return opentimestamps.UpgradeResult{
			Upgraded: true,
			Proof:    []byte("proof-v2"),
			Bitcoin:  &opentimestamps.BitcoinAnchor{BlockHeight: 840000, TxID: strings.Repeat("ef", 32)},
		}, nil
	}

	repo, notifier, svc := newAnchorFixture(t, ts)
	tg := int64(42)
	rec := insertRecord(t, repo, strings.Repeat("e", 64), &tg)

	// first pass: submit, and the fresh anchoring record gets an upgrade attempt
	require.NoError(t, svc.RunOnce(ctx))
	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnchoring, got.Status)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("proof-v1")), *got.OtsData)

	ready = true
	require.NoError(t, svc.RunOnce(ctx))
	got, err = repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, int64(840000), *got.BitcoinBlockHeight)
	assert.Equal(t, strings.Repeat("ef", 32), *got.BitcoinTxID)
	assert.Equal(t, time.Date(2024, 4, 20, 0, 9, 27, 0, time.UTC), *got.ConfirmationDate)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("proof-v2")), *got.OtsData)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, int64(42), notifier.sent[0].chatID)
	assert.Contains(t, notifier.sent[0].text, "https://example.com/verify?hash="+rec.FileHash)

	// confirmed records are left alone
	require.NoError(t, svc.RunOnce(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ts.submits))
}

func TestAnchor_StaysPendingWhenCalendarsDown(t *testing.T) {
	ctx := context.Background()
	repo, _, svc := newAnchorFixture(t, &stubTimestamper{})
	rec := insertRecord(t, repo, strings.Repeat("1", 64), nil)

	require.NoError(t, svc.RunOnce(ctx))
	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.OtsData)
}

func TestAnchor_FailingUpgradeDoesNotBlockBatch(t *testing.T) {
	ctx := context.Background()
	ts := &stubTimestamper{
		upgradeFn: func(_ context.Context, proof []byte) (opentimestamps.UpgradeResult, error) {
			if string(proof) == "corrupt" {
				return opentimestamps.UpgradeResult{}, opentimestamps.ErrMalformed
			}
			return opentimestamps.UpgradeResult{Bitcoin: &opentimestamps.BitcoinAnchor{BlockHeight: 840000}}, nil
		},
	}
	repo := memory.NewProofRepository()
	svc := NewAnchorService(repo, ts, stubBlockClock{t: time.Now()}, nil, lockrepo.NewMemoryLocker(),
		AnchorConfig{BatchSize: 1, LockTTL: time.Minute})

	older := insertRecord(t, repo, strings.Repeat("5", 64), nil)
	newer := insertRecord(t, repo, strings.Repeat("6", 64), nil)
	require.NoError(t, repo.MarkAnchoring(ctx, older.ID, base64.StdEncoding.EncodeToString([]byte("corrupt"))))
	require.NoError(t, repo.MarkAnchoring(ctx, newer.ID, base64.StdEncoding.EncodeToString([]byte("good"))))

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RunOnce(ctx))
	}

	got, err := repo.FindByID(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, int64(840000), *got.BitcoinBlockHeight)

	got, err = repo.FindByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnchoring, got.Status)
	assert.NotNil(t, got.LastAttemptAt)
}

func TestAnchor_RejectedSubmissionDoesNotBlockBatch(t *testing.T) {
	ctx := context.Background()
	stuck := strings.Repeat("7", 64)
	ts := &stubTimestamper{
		submitFn: func(_ context.Context, digest []byte) (opentimestamps.SubmitResult, error) {
			if hex.EncodeToString(digest) == stuck {
				return opentimestamps.SubmitResult{}, opentimestamps.ErrAllCalendarsFailed
			}
			return opentimestamps.SubmitResult{Proof: []byte("p"), Calendar: "https://a.pool.opentimestamps.org"}, nil
		},
	}
	repo := memory.NewProofRepository()
	svc := NewAnchorService(repo, ts, nil, nil, lockrepo.NewMemoryLocker(),
		AnchorConfig{BatchSize: 1, LockTTL: time.Minute})

	insertRecord(t, repo, stuck, nil)
	next := insertRecord(t, repo, strings.Repeat("8", 64), nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RunOnce(ctx))
	}

	got, err := repo.FindByID(ctx, next.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusPending, got.Status)
}

func TestAnchor_BlockTimeFallback(t *testing.T) {
	ctx := context.Background()
	ts := acceptingTimestamper([]byte("p"))
	ts.upgradeFn = func(context.Context, []byte) (opentimestamps.UpgradeResult, error) {
		return opentimestamps.UpgradeResult{Bitcoin: &opentimestamps.BitcoinAnchor{BlockHeight: 7}}, nil
	}

	repo := memory.NewProofRepository()
	detected := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewAnchorService(repo, ts, stubBlockClock{err: errors.New("explorer down")}, nil,
		lockrepo.NewMemoryLocker(), AnchorConfig{BatchSize: 10}).(*anchorService)
	svc.now = func() time.Time { return detected }

	rec := insertRecord(t, repo, strings.Repeat("2", 64), nil)
	got, err := svc.Process(ctx, rec.FileHash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnchoring, got.Status)

	got, err = svc.Process(ctx, rec.FileHash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Nil(t, got.BitcoinTxID)
	assert.Equal(t, detected, *got.ConfirmationDate)
}

func TestAnchor_SkipsLockedRecords(t *testing.T) {
	ctx := context.Background()
	ts := acceptingTimestamper([]byte("p"))
	repo := memory.NewProofRepository()
	locker := lockrepo.NewMemoryLocker()
	svc := NewAnchorService(repo, ts, nil, nil, locker, AnchorConfig{BatchSize: 10, LockTTL: time.Minute})

	rec := insertRecord(t, repo, strings.Repeat("3", 64), nil)
	ok, err := locker.TryLock(ctx, lockrepo.LockKey(rec.FileHash), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := svc.Process(ctx, rec.FileHash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ts.submits))
}

func TestAnchor_ProcessErrors(t *testing.T) {
	_, _, svc := newAnchorFixture(t, &stubTimestamper{})

	_, err := svc.Process(context.Background(), strings.Repeat("4", 64))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	_, err = svc.Process(context.Background(), "xyz")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidHash))
}

func TestAnchor_StartStop(t *testing.T) {
	_, _, svc := newAnchorFixture(t, &stubTimestamper{})
	svc.Start()

	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
