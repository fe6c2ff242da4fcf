package taskstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryStore keeps records in process memory.
//
// Deployment precondition: only correct when a single process serves both
// the callback and the poll endpoint. Two instances each holding their own
// MemoryStore will never see each other's callbacks.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	ttl     time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store. A non-positive ttl
// falls back to DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		records: make(map[string]*Record),
		ttl:     ttl,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

func (s *MemoryStore) Put(_ context.Context, taskID string, rec *Record) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}
	if rec == nil {
		return ErrNilRecord
	}
	stored := rec.clone()
	stored.TaskID = taskID
	stored.RecordedAt = s.now()

	s.mu.Lock()
	s.records[taskID] = stored
	s.mu.Unlock()

	rec.TaskID = taskID
	rec.RecordedAt = stored.RecordedAt
	log.Debug().Str("taskId", taskID).Int("code", rec.Code).Msg("Task result stored in memory")
	return nil
}

func (s *MemoryStore) Get(_ context.Context, taskID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[taskID]
	if !ok {
		return nil, nil
	}
	if expired(rec.RecordedAt, s.ttl, s.now()) {
		delete(s.records, taskID)
		log.Debug().Str("taskId", taskID).Msg("Task result expired on read")
		return nil, nil
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	delete(s.records, taskID)
	s.mu.Unlock()
	log.Debug().Str("taskId", taskID).Msg("Task result deleted from memory")
	return nil
}

// Len returns the number of records currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep removes every record older than the TTL and returns how many were
// removed. Readers already ignore expired records; this only reclaims memory.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0

	s.mu.Lock()
	for id, rec := range s.records {
		if expired(rec.RecordedAt, s.ttl, now) {
			delete(s.records, id)
			removed++
		}
	}
	remaining := len(s.records)
	s.mu.Unlock()

	if removed > 0 {
		log.Debug().Int("removed", removed).Int("remaining", remaining).Msg("Swept expired task results")
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled or Close is called.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Close stops the background sweeper, if any, and waits for it to exit.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	return nil
}
