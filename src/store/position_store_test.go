package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"positionmanager/src/model"
	"positionmanager/src/repository"
)

type fakeRepo struct {
	mu        sync.Mutex
	positions map[string]model.Position
}

func newFakeRepo(positions ...model.Position) *fakeRepo {
	r := &fakeRepo{positions: map[string]model.Position{}}
	for _, p := range positions {
		r.positions[p.PositionID] = p
	}
	return r
}

func (r *fakeRepo) Create(_ context.Context, p *model.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[p.PositionID] = *p
	return nil
}

func (r *fakeRepo) FindByPositionID(_ context.Context, id string) (*model.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (r *fakeRepo) FindOpenByUser(_ context.Context, _ uint) ([]model.Position, error) {
	return nil, nil
}

func (r *fakeRepo) FindOpenBySignal(_ context.Context, _ uint, _, _ string) ([]model.Position, error) {
	return nil, nil
}

func (r *fakeRepo) FindAllOpen(_ context.Context) ([]model.Position, error) {
	return nil, nil
}

func (r *fakeRepo) DistinctOpenSymbols(_ context.Context) ([]repository.SymbolMarket, error) {
	return nil, nil
}

func (r *fakeRepo) Save(_ context.Context, p *model.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[p.PositionID] = *p
	return nil
}

func TestGet_NotFound(t *testing.T) {
	s := NewPositionStore(newFakeRepo())
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestUpdate_MutatorErrorAbortsWrite(t *testing.T) {
	repo := newFakeRepo(model.Position{PositionID: "pos-1", RemainingQuantity: 10, Status: model.PositionStatusOpen})
	s := NewPositionStore(repo)

	boom := errors.New("boom")
	err := s.Update(context.Background(), "pos-1", func(p *model.Position) error {
		p.RemainingQuantity = 0
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}

	got, _ := s.Get(context.Background(), "pos-1")
	if got.RemainingQuantity != 10 {
		t.Fatalf("aborted mutation leaked: %+v", got)
	}
}

func TestUpdate_RejectsNegativeRemainder(t *testing.T) {
	repo := newFakeRepo(model.Position{PositionID: "pos-1", RemainingQuantity: 1, Status: model.PositionStatusOpen})
	s := NewPositionStore(repo)

	err := s.Update(context.Background(), "pos-1", func(p *model.Position) error {
		p.RemainingQuantity = -1
		return nil
	})
	if err == nil {
		t.Fatal("expected an error")
	}

	got, _ := s.Get(context.Background(), "pos-1")
	if got.RemainingQuantity != 1 {
		t.Fatalf("rejected mutation leaked: %+v", got)
	}
}

// Concurrent read-modify-write cycles on the same position must serialize.
// With 100 goroutines each decrementing by 1 from 100, a lost update would
// leave the remainder above zero.
func TestUpdate_SerializesPerPosition(t *testing.T) {
	repo := newFakeRepo(model.Position{PositionID: "pos-1", RemainingQuantity: 100, Status: model.PositionStatusOpen})
	s := NewPositionStore(repo)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(context.Background(), "pos-1", func(p *model.Position) error {
				p.RemainingQuantity--
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get(context.Background(), "pos-1")
	if got.RemainingQuantity != 0 {
		t.Fatalf("lost updates: remaining %v, want 0", got.RemainingQuantity)
	}
}

// Updates across more ids than there are lock stripes must still serialize
// correctly for each id, and the lock table stays at its fixed size.
func TestUpdate_ManyPositionsShareStripes(t *testing.T) {
	seed := make([]model.Position, 0, 3*lockStripes)
	ids := make([]string, 0, 3*lockStripes)
	for i := 0; i < 3*lockStripes; i++ {
		id := "pos-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
		seed = append(seed, model.Position{PositionID: id, RemainingQuantity: 10, Status: model.PositionStatusOpen})
		ids = append(ids, id)
	}
	repo := newFakeRepo(seed...)
	s := NewPositionStore(repo)

	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_ = s.Update(context.Background(), id, func(p *model.Position) error {
					p.RemainingQuantity--
					return nil
				})
			}(id)
		}
	}
	wg.Wait()

	for _, id := range ids {
		got, _ := s.Get(context.Background(), id)
		if got.RemainingQuantity != 0 {
			t.Fatalf("lost updates on %s: remaining %v, want 0", id, got.RemainingQuantity)
		}
	}
}

func TestUpdate_UnknownPosition(t *testing.T) {
	s := NewPositionStore(newFakeRepo())
	err := s.Update(context.Background(), "missing", func(p *model.Position) error { return nil })
	if !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}
