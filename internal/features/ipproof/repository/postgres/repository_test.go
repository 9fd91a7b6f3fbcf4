package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"ipproof-backend/internal/features/ipproof/models"
	"ipproof-backend/internal/features/ipproof/repository"
	platformpg "ipproof-backend/internal/platform/postgres"
)

// setupTestDB starts PostgreSQL in Docker, applies migrations and returns a
// repository. Skipped unless TEST_INTEGRATION is set.
func setupTestDB(t *testing.T) repository.ProofRepository {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION is not set")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("ipproof_test"),
		tcpostgres.WithUsername("ipproof"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, platformpg.Migrate(dsn))

	client, err := platformpg.Open(ctx, dsn, 5)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return NewProofRepository(client.Pool())
}

func newRecord(n int) *models.ProofRecord {
	return &models.ProofRecord{
		FileHash: fmt.Sprintf("%064x", n),
		FileName: "contract.pdf",
		FileSize: 2048,
		MimeType: "application/pdf",
		UserID:   "u1",
		Status:   models.StatusPending,
		Metadata: &models.Metadata{Title: "Contract", Tags: []string{"legal"}},
	}
}

func TestProofRepository_Lifecycle(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	rec := newRecord(1)
	require.NoError(t, repo.Insert(ctx, rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := repo.FindByHash(ctx, rec.FileHash)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.OtsData)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, "Contract", got.Metadata.Title)

	byID, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.FileHash, byID.FileHash)

	require.NoError(t, repo.MarkAnchoring(ctx, rec.ID, "b3RzMQ=="))
	require.NoError(t, repo.UpdateProof(ctx, rec.ID, "b3RzMg=="))

	anchoring, err := repo.ListByStatus(ctx, models.StatusAnchoring, 10)
	require.NoError(t, err)
	require.Len(t, anchoring, 1)
	assert.Equal(t, "b3RzMg==", *anchoring[0].OtsData)

	txid := strings.Repeat("ab", 32)
	confirmedAt := time.Date(2024, 4, 20, 0, 9, 27, 0, time.UTC)
	require.NoError(t, repo.MarkConfirmed(ctx, rec.ID, models.ConfirmParams{
		OtsData:     "b3RzMw==",
		TxID:        &txid,
		BlockHeight: 840000,
		ConfirmedAt: confirmedAt,
	}))

	got, err = repo.FindByHash(ctx, rec.FileHash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, txid, *got.BitcoinTxID)
	assert.Equal(t, int64(840000), *got.BitcoinBlockHeight)
	assert.True(t, confirmedAt.Equal(*got.ConfirmationDate))
}

func TestProofRepository_ForwardOnly(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	rec := newRecord(2)
	require.NoError(t, repo.Insert(ctx, rec))

	var te *models.TransitionError
	err := repo.MarkConfirmed(ctx, rec.ID, models.ConfirmParams{OtsData: "x", BlockHeight: 1, ConfirmedAt: time.Now()})
	require.True(t, errors.As(err, &te))
	assert.Equal(t, models.StatusPending, te.From)

	require.NoError(t, repo.MarkAnchoring(ctx, rec.ID, "x"))
	err = repo.MarkAnchoring(ctx, rec.ID, "y")
	require.True(t, errors.As(err, &te))
	assert.Equal(t, models.StatusAnchoring, te.From)

	err = repo.MarkAnchoring(ctx, "00000000-0000-0000-0000-000000000000", "x")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProofRepository_NotFound(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	_, err := repo.FindByHash(ctx, strings.Repeat("f", 64))
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.FindByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProofRepository_ConcurrentInsertSameHash(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Insert(ctx, newRecord(3))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, repository.ErrConflict)
	}
	assert.Equal(t, 1, created)
}

func TestProofRepository_AttemptOrder(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	older, newer := newRecord(4), newRecord(5)
	require.NoError(t, repo.Insert(ctx, older))
	require.NoError(t, repo.Insert(ctx, newer))

	list, err := repo.ListByStatus(ctx, models.StatusPending, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, older.ID, list[0].ID)
	assert.Nil(t, list[0].LastAttemptAt)

	require.NoError(t, repo.TouchAttempt(ctx, older.ID))
	list, err = repo.ListByStatus(ctx, models.StatusPending, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, newer.ID, list[0].ID)

	got, err := repo.FindByID(ctx, older.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastAttemptAt)

	err = repo.TouchAttempt(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProofRepository_NegativeFileSize(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	rec := newRecord(6)
	rec.FileSize = -1
	require.NoError(t, repo.Insert(ctx, rec))

	got, err := repo.FindByHash(ctx, rec.FileHash)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), got.FileSize)
}
