// Package memory keeps the ledger in process, indexed by user. An optional write-ahead
// log makes it survive restarts.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/movement-ledger/internal/lib/wal"
)

type Storage struct {
	mu     sync.RWMutex
	byUser map[string][]models.Transaction
	last   time.Time
	log    *wal.WAL
	now    func() time.Time
}

// New builds the store and replays log into it. log may be nil.
func New(log *wal.WAL) (*Storage, error) {
	const op = "storage.memory.New"

	s := &Storage{
		byUser: make(map[string][]models.Transaction),
		log:    log,
		now:    time.Now,
	}
	if log == nil {
		return s, nil
	}

	err := log.ReadAll(func(raw []byte) error {
		var tx models.Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			return err
		}
		s.index(tx)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s, nil
}

func (s *Storage) Stop() error {
	if s.log == nil {
		return nil
	}
	return s.log.Close()
}

func (s *Storage) Ping(_ context.Context) error {
	return nil
}

// Append stamps tx.CreatedAt and records it. Timestamps never go backwards, so the
// per-user slices stay sorted.
func (s *Storage) Append(ctx context.Context, tx *models.Transaction) error {
	const op = "storage.memory.Append"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := s.now().UTC()
	if createdAt.Before(s.last) {
		createdAt = s.last
	}

	record := *tx
	record.CreatedAt = createdAt

	if s.log != nil {
		if err := s.log.Write(record); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	s.index(record)
	tx.CreatedAt = createdAt

	return nil
}

// Query returns the user's records with start <= CreatedAt <= end, oldest first.
func (s *Storage) Query(ctx context.Context, userID string, start, end time.Time) ([]models.Transaction, error) {
	const op = "storage.memory.Query"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.byUser[userID]
	from := sort.Search(len(records), func(i int) bool {
		return !records[i].CreatedAt.Before(start)
	})
	to := sort.Search(len(records), func(i int) bool {
		return records[i].CreatedAt.After(end)
	})

	if from >= to {
		return []models.Transaction{}, nil
	}

	result := make([]models.Transaction, to-from)
	copy(result, records[from:to])
	return result, nil
}

// index must be called with the write lock held (or before the store is shared).
func (s *Storage) index(tx models.Transaction) {
	s.byUser[tx.UserID] = append(s.byUser[tx.UserID], tx)
	if tx.CreatedAt.After(s.last) {
		s.last = tx.CreatedAt
	}
}
