// Package memory provides an in-process store for local demos and tests. It
// enforces the same uniqueness rules as the Postgres schema.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/smartcheck/internal/domain"
)

type pairKey struct {
	targetID      string
	participantID string
}

// Repository implements domain.TargetReader, domain.CodeRepository and
// domain.AttendanceRepository.
type Repository struct {
	mu      sync.RWMutex
	events  map[string]domain.Event
	targets map[string]domain.Target
	codes   map[string]domain.AccessCode
	byValue map[string]string
	records map[string]domain.AttendanceRecord
	byPair  map[pairKey]string

	lockMu      sync.Mutex
	targetLocks map[string]*sync.Mutex
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{
		events:      make(map[string]domain.Event),
		targets:     make(map[string]domain.Target),
		codes:       make(map[string]domain.AccessCode),
		byValue:     make(map[string]string),
		records:     make(map[string]domain.AttendanceRecord),
		byPair:      make(map[pairKey]string),
		targetLocks: make(map[string]*sync.Mutex),
	}
}

// PutEvent stores or replaces an event. An empty ID is assigned.
func (r *Repository) PutEvent(event domain.Event) domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	r.events[event.ID] = event
	return event
}

// PutTarget stores or replaces a target. An empty ID is assigned.
func (r *Repository) PutTarget(target domain.Target) domain.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.TrimSpace(target.ID) == "" {
		target.ID = uuid.NewString()
	}
	r.targets[target.ID] = target
	return target
}

// GetTarget implements domain.TargetReader.
func (r *Repository) GetTarget(_ context.Context, targetID string) (*domain.Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target, ok := r.targets[targetID]
	if !ok {
		return nil, nil
	}
	return &target, nil
}

// GetEvent implements domain.TargetReader.
func (r *Repository) GetEvent(_ context.Context, eventID string) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[eventID]
	if !ok {
		return nil, nil
	}
	return &event, nil
}

func (r *Repository) targetLock(targetID string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.targetLocks[targetID]
	if !ok {
		l = &sync.Mutex{}
		r.targetLocks[targetID] = l
	}
	return l
}

// WithTargetLock implements domain.CodeRepository. Writes are staged and applied
// atomically when fn succeeds.
func (r *Repository) WithTargetLock(ctx context.Context, targetID string, fn func(domain.CodeTx) error) error {
	if target, _ := r.GetTarget(ctx, targetID); target == nil {
		return domain.ErrNotFound
	}

	l := r.targetLock(targetID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &codeTx{repo: r, targetID: targetID, staged: make(map[string]domain.AccessCode)}
	if err := fn(tx); err != nil {
		return err
	}
	return r.commit(tx)
}

func (r *Repository) commit(tx *codeTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, code := range tx.staged {
		if ownerID, ok := r.byValue[code.Code]; ok && ownerID != id {
			return domain.ErrUniqueViolation
		}
	}
	for id, code := range tx.staged {
		if prev, ok := r.codes[id]; ok && prev.Code != code.Code {
			delete(r.byValue, prev.Code)
		}
		r.codes[id] = code
		r.byValue[code.Code] = id
	}
	return nil
}

// GetCode implements domain.CodeRepository.
func (r *Repository) GetCode(_ context.Context, codeID string) (*domain.AccessCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.codes[codeID]
	if !ok {
		return nil, nil
	}
	return &code, nil
}

// FindByCode implements domain.CodeRepository.
func (r *Repository) FindByCode(_ context.Context, value string) (*domain.AccessCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byValue[value]
	if !ok {
		return nil, nil
	}
	code := r.codes[id]
	return &code, nil
}

// ListByTarget implements domain.CodeRepository.
func (r *Repository) ListByTarget(_ context.Context, targetID string) ([]domain.AccessCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AccessCode
	for _, code := range r.codes {
		if code.TargetID == targetID {
			out = append(out, code)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ActiveByTarget implements domain.CodeRepository.
func (r *Repository) ActiveByTarget(_ context.Context, targetID string) (*domain.AccessCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, code := range r.codes {
		if code.TargetID == targetID && code.Active {
			c := code
			return &c, nil
		}
	}
	return nil, nil
}

type codeTx struct {
	repo     *Repository
	targetID string
	staged   map[string]domain.AccessCode
}

func (tx *codeTx) GetCode(ctx context.Context, codeID string) (*domain.AccessCode, error) {
	if code, ok := tx.staged[codeID]; ok {
		return &code, nil
	}
	return tx.repo.GetCode(ctx, codeID)
}

func (tx *codeTx) CodeExists(_ context.Context, value string) (bool, error) {
	for _, code := range tx.staged {
		if code.Code == value {
			return true, nil
		}
	}
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	_, ok := tx.repo.byValue[value]
	return ok, nil
}

func (tx *codeTx) DeactivateAll(_ context.Context) error {
	now := time.Now().UTC()
	for id, code := range tx.staged {
		if code.TargetID == tx.targetID && code.Active {
			code.Active = false
			code.UpdatedAt = now
			tx.staged[id] = code
		}
	}

	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	for id, code := range tx.repo.codes {
		if _, ok := tx.staged[id]; ok {
			continue
		}
		if code.TargetID == tx.targetID && code.Active {
			code.Active = false
			code.UpdatedAt = now
			tx.staged[id] = code
		}
	}
	return nil
}

func (tx *codeTx) Insert(ctx context.Context, code domain.AccessCode) error {
	exists, err := tx.CodeExists(ctx, code.Code)
	if err != nil {
		return err
	}
	if exists {
		return domain.ErrUniqueViolation
	}
	tx.staged[code.ID] = code
	return nil
}

func (tx *codeTx) SetActive(ctx context.Context, codeID string, active bool, at time.Time) error {
	code, err := tx.GetCode(ctx, codeID)
	if err != nil {
		return err
	}
	if code == nil || code.TargetID != tx.targetID {
		return domain.ErrNotFound
	}
	code.Active = active
	code.UpdatedAt = at
	tx.staged[codeID] = *code
	return nil
}

// Find implements domain.AttendanceRepository.
func (r *Repository) Find(_ context.Context, targetID, participantID string) (*domain.AttendanceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPair[pairKey{targetID, participantID}]
	if !ok {
		return nil, nil
	}
	record := r.records[id]
	return &record, nil
}

// Insert implements domain.AttendanceRepository.
func (r *Repository) Insert(_ context.Context, record domain.AttendanceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey{record.TargetID, record.ParticipantID}
	if _, ok := r.byPair[key]; ok {
		return domain.ErrUniqueViolation
	}
	if _, ok := r.records[record.ID]; ok {
		return domain.ErrUniqueViolation
	}
	r.records[record.ID] = record
	r.byPair[key] = record.ID
	return nil
}

// CompleteCheckOut implements domain.AttendanceRepository.
func (r *Repository) CompleteCheckOut(_ context.Context, update domain.CheckOutUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[update.RecordID]
	if !ok || record.CheckedOut() {
		return false, nil
	}
	at, lat, lng := update.At, update.Latitude, update.Longitude
	record.CheckOutAt = &at
	record.CheckOutLatitude = &lat
	record.CheckOutLongitude = &lng
	record.UpdatedAt = at
	r.records[record.ID] = record
	return true, nil
}

// ListByParticipant implements domain.AttendanceRepository. Records are ordered by
// check-in time descending, ties broken by ID descending.
func (r *Repository) ListByParticipant(_ context.Context, participantID string, cursor *domain.Cursor, limit int) ([]domain.AttendanceRecord, *domain.Cursor, error) {
	r.mu.RLock()
	var all []domain.AttendanceRecord
	for _, record := range r.records {
		if record.ParticipantID == participantID {
			all = append(all, record)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(all)

	start := 0
	if cursor != nil {
		start = len(all)
		for i, record := range all {
			if pastCursor(record, *cursor) {
				start = i
				break
			}
		}
	}
	all = all[start:]

	if limit <= 0 || len(all) <= limit {
		return all, nil, nil
	}
	page := all[:limit]
	last := page[len(page)-1]
	return page, &domain.Cursor{CheckInAt: last.CheckInAt, ID: last.ID}, nil
}

// ListByEvent implements domain.AttendanceRepository.
func (r *Repository) ListByEvent(_ context.Context, eventID string) ([]domain.AttendanceRecord, error) {
	r.mu.RLock()
	var out []domain.AttendanceRecord
	for _, record := range r.records {
		if record.EventID == eventID {
			out = append(out, record)
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(records []domain.AttendanceRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.CheckInAt.Equal(b.CheckInAt) {
			return a.ID > b.ID
		}
		return a.CheckInAt.After(b.CheckInAt)
	})
}

// pastCursor reports whether record sorts strictly after the cursor position.
func pastCursor(record domain.AttendanceRecord, c domain.Cursor) bool {
	if record.CheckInAt.Equal(c.CheckInAt) {
		return record.ID < c.ID
	}
	return record.CheckInAt.Before(c.CheckInAt)
}
