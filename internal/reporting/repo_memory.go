package reporting

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps call records in process. It is bounded: once full, the
// oldest finished record is evicted first.
type MemoryRepo struct {
	mu      sync.Mutex
	max     int
	records map[string]*CallRecord
}

const defaultMaxRecords = 10000

func NewMemoryRepo(max int) *MemoryRepo {
	if max <= 0 {
		max = defaultMaxRecords
	}
	return &MemoryRepo{max: max, records: map[string]*CallRecord{}}
}

// Update applies fn to the record for id, creating it when absent.
func (r *MemoryRepo) Update(ctx context.Context, id string, createdAt time.Time, fn func(*CallRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		r.evictLocked()
		rec = &CallRecord{ConversationID: id, Status: CallStatusInProgress, CreatedAt: createdAt}
		r.records[id] = rec
	}
	fn(rec)
	return nil
}

func (r *MemoryRepo) evictLocked() {
	if len(r.records) < r.max {
		return
	}
	var victim *CallRecord
	for _, rec := range r.records {
		if victim == nil || older(rec, victim) {
			victim = rec
		}
	}
	if victim != nil {
		delete(r.records, victim.ConversationID)
	}
}

// older prefers finished records, then earlier creation.
func older(a, b *CallRecord) bool {
	aDone, bDone := a.Status != CallStatusInProgress, b.Status != CallStatusInProgress
	if aDone != bDone {
		return aDone
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (r *MemoryRepo) ListCalls(ctx context.Context, from, to time.Time, direction string) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, rec := range r.records {
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		if direction != "" && rec.Direction != direction {
			continue
		}
		cp := *rec
		if rec.Actions != nil {
			cp.Actions = make(map[string]int, len(rec.Actions))
			for k, v := range rec.Actions {
				cp.Actions[k] = v
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (CallRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return CallRecord{}, false, nil
	}
	return *rec, true, nil
}
