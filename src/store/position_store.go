package store

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	logger "github.com/sirupsen/logrus"

	"positionmanager/src/model"
	"positionmanager/src/repository"
)

// ErrPositionNotFound is returned when a position id resolves to nothing.
var ErrPositionNotFound = errors.New("position not found")

// PositionRepository is the persistence surface the store needs. Satisfied by
// repository.PositionRepository.
type PositionRepository interface {
	Create(ctx context.Context, position *model.Position) error
	FindByPositionID(ctx context.Context, positionID string) (*model.Position, error)
	FindOpenByUser(ctx context.Context, userID uint) ([]model.Position, error)
	FindOpenBySignal(ctx context.Context, userID uint, signalID, symbol string) ([]model.Position, error)
	FindAllOpen(ctx context.Context) ([]model.Position, error)
	DistinctOpenSymbols(ctx context.Context) ([]repository.SymbolMarket, error)
	Save(ctx context.Context, position *model.Position) error
}

// lockStripes bounds the lock table: positions hash onto a fixed set of
// mutexes, so memory stays constant no matter how many ids pass through.
const lockStripes = 64

// PositionStore owns all mutation of positions. Every write goes through
// Update, which serializes read-modify-write cycles per position id on a
// striped lock array. The trigger loop and the user-facing close path
// therefore never observe or produce interleaved state for the same position.
type PositionStore struct {
	repo  PositionRepository
	locks [lockStripes]sync.Mutex
}

// NewPositionStore wraps a repository with per-position serialization.
func NewPositionStore(repo PositionRepository) *PositionStore {
	return &PositionStore{repo: repo}
}

func (s *PositionStore) lockFor(positionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(positionID))
	return &s.locks[h.Sum32()%lockStripes]
}

// Create persists a brand new position.
func (s *PositionStore) Create(ctx context.Context, position *model.Position) error {
	return s.repo.Create(ctx, position)
}

// Get fetches a position by id. Returns ErrPositionNotFound when missing.
func (s *PositionStore) Get(ctx context.Context, positionID string) (*model.Position, error) {
	position, err := s.repo.FindByPositionID(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrPositionNotFound
	}
	return position, nil
}

// ListOpenByUser returns the user's open and partially closed positions.
func (s *PositionStore) ListOpenByUser(ctx context.Context, userID uint) ([]model.Position, error) {
	return s.repo.FindOpenByUser(ctx, userID)
}

// ListBySignal resolves the open positions created by an originating signal.
func (s *PositionStore) ListBySignal(ctx context.Context, userID uint, signalID, symbol string) ([]model.Position, error) {
	return s.repo.FindOpenBySignal(ctx, userID, signalID, symbol)
}

// ListOpen returns every open position across all users.
func (s *PositionStore) ListOpen(ctx context.Context) ([]model.Position, error) {
	return s.repo.FindAllOpen(ctx)
}

// DistinctOpenSymbols returns the deduplicated symbol/market tuples needed by
// a price tick.
func (s *PositionStore) DistinctOpenSymbols(ctx context.Context) ([]repository.SymbolMarket, error) {
	return s.repo.DistinctOpenSymbols(ctx)
}

// Update runs mutator under the position's exclusive lock. The mutator
// receives the freshly loaded row; when it returns nil the row is persisted
// with all TP/SL association changes. A mutator error aborts without
// persisting anything, leaving the position untouched for the next attempt.
func (s *PositionStore) Update(ctx context.Context, positionID string, mutator func(*model.Position) error) error {
	l := s.lockFor(positionID)
	l.Lock()
	defer l.Unlock()

	position, err := s.repo.FindByPositionID(ctx, positionID)
	if err != nil {
		return err
	}
	if position == nil {
		return ErrPositionNotFound
	}

	if err := mutator(position); err != nil {
		return err
	}

	if position.RemainingQuantity < 0 {
		// Should be impossible given per-position serialization. Treated as a
		// logic bug, never persisted.
		logger.WithFields(map[string]interface{}{
			"component":   "PositionStore",
			"position_id": positionID,
			"remaining":   position.RemainingQuantity,
		}).Error("mutator produced negative remaining quantity")

		return errors.New("negative remaining quantity after mutation")
	}

	return s.repo.Save(ctx, position)
}
