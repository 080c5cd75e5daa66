package calls

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and local runs.
// Writes made inside WithCall are staged and only become visible when fn returns nil.
type MemoryStore struct {
	mu sync.RWMutex

	keyMu sync.Mutex
	locks map[string]*keyLock

	records    map[string]CallRecord       // by id
	byProvider map[string]string           // provider call id -> record id
	activities map[string]ContactActivity  // by call record id
	sessions   map[string]AgentCallSession // by provider call id
	contacts   []Contact
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:      map[string]*keyLock{},
		records:    map[string]CallRecord{},
		byProvider: map[string]string{},
		activities: map[string]ContactActivity{},
		sessions:   map[string]AgentCallSession{},
	}
}

// AddContact seeds a CRM contact for phone matching.
func (s *MemoryStore) AddContact(c Contact) Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.contacts = append(s.contacts, c)
	return c
}

func (s *MemoryStore) lock(key string) func() {
	s.keyMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.keyMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.keyMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.keyMu.Unlock()
	}
}

func (s *MemoryStore) WithCall(ctx context.Context, providerCallID string, fn func(ctx context.Context, tx Tx) error) error {
	key := strings.TrimSpace(providerCallID)
	if key == "" {
		return ErrMissingProviderCallID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(key)
	defer unlock()

	tx := &memoryTx{store: s, key: key}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.record != nil {
		s.records[tx.record.ID] = *tx.record
		s.byProvider[tx.key] = tx.record.ID
	}
	if tx.activity != nil {
		if _, exists := s.activities[tx.activity.CallRecordID]; !exists {
			s.activities[tx.activity.CallRecordID] = *tx.activity
		}
	}
	if tx.session != nil {
		s.sessions[tx.key] = *tx.session
	}
}

func (s *MemoryStore) Get(_ context.Context, orgID, id string) (CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || (orgID != "" && rec.OrgID != orgID) {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) GetByProviderCallID(_ context.Context, providerCallID string) (CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byProvider[strings.TrimSpace(providerCallID)]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return s.records[id], nil
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CallRecord, 0)
	for _, rec := range s.records {
		if f.matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ActivityForCall(_ context.Context, callRecordID string) (ContactActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[callRecordID]
	if !ok {
		return ContactActivity{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) SessionForCall(_ context.Context, providerCallID string) (AgentCallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[strings.TrimSpace(providerCallID)]
	if !ok {
		return AgentCallSession{}, ErrNotFound
	}
	return sess, nil
}

// Counts reports row totals. Tests use it to check that no duplicate rows appear.
func (s *MemoryStore) Counts() (records, activities, sessions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), len(s.activities), len(s.sessions)
}

type memoryTx struct {
	store *MemoryStore
	key   string

	record   *CallRecord
	activity *ContactActivity
	session  *AgentCallSession
}

func (t *memoryTx) GetCall(ctx context.Context) (CallRecord, error) {
	if t.record != nil {
		return *t.record, nil
	}
	return t.store.GetByProviderCallID(ctx, t.key)
}

func (t *memoryTx) InsertCall(ctx context.Context, rec CallRecord) error {
	if _, err := t.GetCall(ctx); err == nil {
		return ErrDuplicateCall
	}
	t.record = &rec
	return nil
}

func (t *memoryTx) UpdateCall(ctx context.Context, rec CallRecord) error {
	if _, err := t.GetCall(ctx); err != nil {
		return err
	}
	t.record = &rec
	return nil
}

func (t *memoryTx) FindContactByPhone(_ context.Context, orgID, phone string) (Contact, error) {
	key := phoneKey(phone)
	if key == "" {
		return Contact{}, ErrNotFound
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, c := range t.store.contacts {
		if c.OrgID == orgID && phoneKey(c.Phone) == key {
			return c, nil
		}
	}
	return Contact{}, ErrNotFound
}

func (t *memoryTx) InsertActivity(ctx context.Context, a ContactActivity) error {
	if t.activity != nil {
		return nil
	}
	if _, err := t.store.ActivityForCall(ctx, a.CallRecordID); err == nil {
		return nil
	}
	t.activity = &a
	return nil
}

func (t *memoryTx) UpsertAgentSession(ctx context.Context, in AgentCallSession) error {
	var cur *AgentCallSession
	if t.session != nil {
		cur = t.session
	} else if existing, err := t.store.SessionForCall(ctx, t.key); err == nil {
		cur = &existing
	}
	if cur == nil && in.ID == "" {
		in.ID = uuid.NewString()
	}
	merged := mergeSession(cur, in)
	t.session = &merged
	return nil
}
