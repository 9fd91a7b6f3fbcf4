// Package postgres is the pgx implementation of the proof store. Plain SQL,
// no ORM.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ipproof-backend/internal/features/ipproof/models"
	"ipproof-backend/internal/features/ipproof/repository"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const proofColumns = `id, file_hash, file_name, file_size, mime_type, user_id, telegram_id,
	ots_data, status, bitcoin_tx_id, bitcoin_block_height, confirmation_date,
	metadata, created_at, updated_at, last_attempt_at`

type proofRepository struct {
	db DBTX
}

func NewProofRepository(db DBTX) repository.ProofRepository {
	return &proofRepository{db: db}
}

func (r *proofRepository) Insert(ctx context.Context, p *models.ProofRecord) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}

	query := `
		INSERT INTO ip_proofs (id, file_hash, file_name, file_size, mime_type, user_id,
			telegram_id, ots_data, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.FileHash, p.FileName, p.FileSize, p.MimeType, p.UserID,
		p.TelegramID, p.OtsData, string(p.Status), p.Metadata,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: file hash %s", repository.ErrConflict, p.FileHash)
		}
		return fmt.Errorf("failed to insert proof: %w", err)
	}
	return nil
}

func (r *proofRepository) FindByHash(ctx context.Context, fileHash string) (*models.ProofRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+proofColumns+` FROM ip_proofs WHERE file_hash = $1`, fileHash)
	return scanOne(row)
}

func (r *proofRepository) FindByID(ctx context.Context, id string) (*models.ProofRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+proofColumns+` FROM ip_proofs WHERE id = $1`, id)
	return scanOne(row)
}

func (r *proofRepository) ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.ProofRecord, error) {
	query := `SELECT ` + proofColumns + `
		FROM ip_proofs
		WHERE status = $1
		ORDER BY last_attempt_at ASC NULLS FIRST, created_at ASC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list proofs: %w", err)
	}
	defer rows.Close()

	var out []*models.ProofRecord
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proof: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list proofs: %w", err)
	}
	return out, nil
}

func (r *proofRepository) TouchAttempt(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE ip_proofs SET last_attempt_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *proofRepository) MarkAnchoring(ctx context.Context, id, otsData string) error {
	query := `
		UPDATE ip_proofs
		SET status = $2, ots_data = $3, updated_at = now()
		WHERE id = $1 AND status = $4`

	tag, err := r.db.Exec(ctx, query, id, string(models.StatusAnchoring), otsData, string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to mark proof anchoring: %w", err)
	}
	return r.checkGuard(ctx, tag, id, models.StatusAnchoring)
}

func (r *proofRepository) UpdateProof(ctx context.Context, id, otsData string) error {
	query := `
		UPDATE ip_proofs
		SET ots_data = $2, updated_at = now()
		WHERE id = $1 AND status = $3`

	tag, err := r.db.Exec(ctx, query, id, otsData, string(models.StatusAnchoring))
	if err != nil {
		return fmt.Errorf("failed to update proof: %w", err)
	}
	return r.checkGuard(ctx, tag, id, models.StatusAnchoring)
}

func (r *proofRepository) MarkConfirmed(ctx context.Context, id string, p models.ConfirmParams) error {
	query := `
		UPDATE ip_proofs
		SET status = $2, ots_data = $3, bitcoin_tx_id = $4, bitcoin_block_height = $5,
			confirmation_date = $6, updated_at = now()
		WHERE id = $1 AND status = $7`

	tag, err := r.db.Exec(ctx, query,
		id, string(models.StatusConfirmed), p.OtsData, p.TxID, p.BlockHeight,
		p.ConfirmedAt.UTC(), string(models.StatusAnchoring),
	)
	if err != nil {
		return fmt.Errorf("failed to mark proof confirmed: %w", err)
	}
	return r.checkGuard(ctx, tag, id, models.StatusConfirmed)
}

// checkGuard turns a guarded update that touched no row into ErrNotFound or
// a *models.TransitionError, depending on whether the record exists.
func (r *proofRepository) checkGuard(ctx context.Context, tag pgconn.CommandTag, id string, to models.Status) error {
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err := r.db.QueryRow(ctx, `SELECT status FROM ip_proofs WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("failed to read proof status: %w", err)
	}
	return &models.TransitionError{From: models.Status(current), To: to}
}

func scanOne(row pgx.Row) (*models.ProofRecord, error) {
	p, err := scanProof(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get proof: %w", err)
	}
	return p, nil
}

func scanProof(row pgx.Row) (*models.ProofRecord, error) {
	p := &models.ProofRecord{}
	var status string
	err := row.Scan(
		&p.ID, &p.FileHash, &p.FileName, &p.FileSize, &p.MimeType, &p.UserID, &p.TelegramID,
		&p.OtsData, &status, &p.BitcoinTxID, &p.BitcoinBlockHeight, &p.ConfirmationDate,
		&p.Metadata, &p.CreatedAt, &p.UpdatedAt, &p.LastAttemptAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = models.Status(status)
	return p, nil
}

// isUniqueViolation reports a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
