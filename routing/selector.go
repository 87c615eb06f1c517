package routing

import (
	"context"
	"errors"
	"sync"

	"tidbyt.dev/transit/model"
)

var ErrSuperseded = errors.New("selection superseded")

// Serializes path selections from a single consumer. Starting a new
// selection cancels the one in flight, and a result is only committed
// if no newer selection was started meanwhile.
type Selector struct {
	mutex      sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	current    []model.Coord
}

func (s *Selector) Select(
	ctx context.Context,
	build func(ctx context.Context) ([]model.Coord, error),
) ([]model.Coord, error) {
	s.mutex.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mutex.Unlock()

	defer cancel()

	path, err := build(ctx)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if gen != s.generation {
		return nil, ErrSuperseded
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	s.current = path
	s.cancel = nil

	return path, nil
}

// The most recently committed path.
func (s *Selector) Current() []model.Coord {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.current
}
