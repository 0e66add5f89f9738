package gallery

import (
	"context"
	"sync"
	"time"

	"github.com/google/logger"

	"github.com/radif/gallery/internal/storage"
)

const defaultHistoryLimit = 50

// Service hands out one Gallery per viewer session.
type Service struct {
	store  storage.Storage
	ledger Ledger
	opts   Options

	mu        sync.Mutex
	galleries map[string]*slot
}

// slot holds a session's gallery; ready closes once its first refresh is over.
type slot struct {
	g     *Gallery
	ready chan struct{}
}

// NewService creates a new gallery Service. ledger may be nil.
func NewService(store storage.Storage, ledger Ledger, opts Options) *Service {
	return &Service{
		store:     store,
		ledger:    ledger,
		opts:      opts.withDefaults(),
		galleries: make(map[string]*slot),
	}
}

// Open returns the session's gallery. The call that creates it runs the initial
// refresh and gets that refresh's result and error back; the gallery is usable
// either way. Calls arriving meanwhile wait for it and get a nil Result.
func (s *Service) Open(ctx context.Context, sessionID string) (*Gallery, *Result, error) {
	s.mu.Lock()
	sl, ok := s.galleries[sessionID]
	if !ok {
		sl = &slot{g: New(s.store, s.ledger, sessionID, s.opts), ready: make(chan struct{})}
		s.galleries[sessionID] = sl
	}
	s.mu.Unlock()

	if !ok {
		defer close(sl.ready)
		res, err := sl.g.Refresh(ctx)
		return sl.g, &res, err
	}
	select {
	case <-sl.ready:
		return sl.g, nil, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Sweep forgets galleries idle for longer than idle and returns how many it dropped.
func (s *Service) Sweep(idle time.Duration) int {
	cutoff := s.opts.Now().Add(-idle)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sl := range s.galleries {
		if sl.g.LastSeen().Before(cutoff) {
			delete(s.galleries, id)
			n++
		}
	}
	if n > 0 {
		logger.Infof("gallery: swept %d idle sessions", n)
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(idle)
		}
	}
}

// Len reports how many galleries are open.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.galleries)
}

// History returns the session's latest uploads, newest first.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if s.ledger == nil {
		return []Record{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}
	return s.ledger.Recent(ctx, sessionID, limit)
}
