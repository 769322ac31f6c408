package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/storagesync/internal/domain"
)

const DefaultDebounce = 200 * time.Millisecond

// Func runs one search. It should honour ctx cancellation.
type Func func(ctx context.Context, keyword string) ([]*domain.Item, error)

// Dispatcher runs result delivery on the UI-affinity context. *loop.Loop
// satisfies it.
type Dispatcher interface {
	Post(fn func()) bool
}

type Result struct {
	Keyword string
	Items   []*domain.Item
	Err     error
}

// Searcher debounces keyword changes from one client. Each Submit supersedes
// every earlier one: the pending search is cancelled and its result, even if
// already computed, is never delivered.
type Searcher struct {
	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	timer      *time.Timer
	closed     bool
	wg         sync.WaitGroup

	debounce   time.Duration
	search     Func
	dispatcher Dispatcher
	deliver    func(Result)
	logger     *slog.Logger
}

// NewSearcher returns a Searcher that hands results to deliver on dispatcher.
func NewSearcher(debounce time.Duration, search Func, dispatcher Dispatcher, deliver func(Result), logger *slog.Logger) *Searcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Searcher{
		debounce:   debounce,
		search:     search,
		dispatcher: dispatcher,
		deliver:    deliver,
		logger:     logger,
	}
}

// Submit schedules a search for keyword after the debounce window.
func (s *Searcher) Submit(keyword string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.supersedeLocked()
	gen := s.generation
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	s.timer = time.AfterFunc(s.debounce, func() {
		defer s.wg.Done()
		s.run(ctx, gen, keyword)
	})
}

// Close cancels any pending search and waits for running ones to return. No
// result is delivered after Close.
func (s *Searcher) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.supersedeLocked()
	s.mu.Unlock()

	s.wg.Wait()
}

// supersedeLocked invalidates the current generation.
func (s *Searcher) supersedeLocked() {
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.timer != nil {
		if s.timer.Stop() {
			// The callback will never run, so settle its wait group slot here.
			s.wg.Done()
		}
		s.timer = nil
	}
}

func (s *Searcher) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.generation == gen
}

func (s *Searcher) run(ctx context.Context, gen uint64, keyword string) {
	if ctx.Err() != nil {
		return
	}
	items, err := s.search(ctx, keyword)
	if ctx.Err() != nil {
		s.logger.Debug("search superseded", "keyword", keyword)
		return
	}

	res := Result{Keyword: keyword, Items: items, Err: err}
	if !s.dispatcher.Post(func() {
		// A newer Submit may have arrived after the search finished.
		if s.current(gen) {
			s.deliver(res)
		}
	}) {
		s.logger.Warn("dropped search result, dispatcher stopped", "keyword", keyword)
	}
}
