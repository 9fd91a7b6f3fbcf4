// Package memory is an in-process ProofRepository with the same guard and
// uniqueness semantics as the Postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ipproof-backend/internal/features/ipproof/models"
	"ipproof-backend/internal/features/ipproof/repository"
)

type proofRepository struct {
	mu     sync.RWMutex
	byID   map[string]*models.ProofRecord
	byHash map[string]string
	now    func() time.Time

	// attempt order per id; absent means never attempted
	seq      uint64
	attempts map[string]uint64
}

func NewProofRepository() repository.ProofRepository {
	return &proofRepository{
		byID:     make(map[string]*models.ProofRecord),
		byHash:   make(map[string]string),
		now:      time.Now,
		attempts: make(map[string]uint64),
	}
}

func (r *proofRepository) Insert(_ context.Context, p *models.ProofRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byHash[p.FileHash]; ok {
		return repository.ErrConflict
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	now := r.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	r.byID[p.ID] = clone(p)
	r.byHash[p.FileHash] = p.ID
	return nil
}

func (r *proofRepository) FindByHash(_ context.Context, fileHash string) (*models.ProofRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byHash[fileHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *proofRepository) FindByID(_ context.Context, id string) (*models.ProofRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(p), nil
}

func (r *proofRepository) ListByStatus(_ context.Context, status models.Status, limit int) ([]*models.ProofRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.ProofRecord
	for _, p := range r.byID {
		if p.Status == status {
			out = append(out, clone(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := r.attempts[out[i].ID], r.attempts[out[j].ID]
		if ai != aj {
			return ai < aj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *proofRepository) TouchAttempt(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.seq++
	r.attempts[id] = r.seq
	at := r.now().UTC()
	p.LastAttemptAt = &at
	return nil
}

func (r *proofRepository) MarkAnchoring(_ context.Context, id, otsData string) error {
	return r.update(id, models.StatusPending, models.StatusAnchoring, func(p *models.ProofRecord) {
		p.Status = models.StatusAnchoring
		p.OtsData = &otsData
	})
}

func (r *proofRepository) UpdateProof(_ context.Context, id, otsData string) error {
	return r.update(id, models.StatusAnchoring, models.StatusAnchoring, func(p *models.ProofRecord) {
		p.OtsData = &otsData
	})
}

func (r *proofRepository) MarkConfirmed(_ context.Context, id string, c models.ConfirmParams) error {
	return r.update(id, models.StatusAnchoring, models.StatusConfirmed, func(p *models.ProofRecord) {
		height := c.BlockHeight
		at := c.ConfirmedAt.UTC()
		p.Status = models.StatusConfirmed
		p.OtsData = &c.OtsData
		p.BitcoinTxID = c.TxID
		p.BitcoinBlockHeight = &height
		p.ConfirmationDate = &at
	})
}

func (r *proofRepository) update(id string, expected, to models.Status, apply func(*models.ProofRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.Status != expected {
		return &models.TransitionError{From: p.Status, To: to}
	}
	apply(p)
	p.UpdatedAt = r.now().UTC()
	return nil
}

func clone(p *models.ProofRecord) *models.ProofRecord {
	c := *p
	if p.Metadata != nil {
		m := *p.Metadata
		m.Tags = append([]string(nil), p.Metadata.Tags...)
		c.Metadata = &m
	}
	if p.LastAttemptAt != nil {
		at := *p.LastAttemptAt
		c.LastAttemptAt = &at
	}
	return &c
}
