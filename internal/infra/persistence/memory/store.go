// Package memory provides an in-memory implementation of the genealogy
// persistence store used for tests, ephemeral environments and as the
// transactional arena behind the durable snapshot backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"familytree/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Person aliases domain.Person for in-memory persistence operations.
	Person = domain.Person
	// Relationship aliases domain.Relationship.
	Relationship = domain.Relationship
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook runs after rules pass and before the new state is published.
// Durable backends persist the snapshot here; a returned error aborts the
// transaction and leaves the committed state untouched.
type CommitHook func(ctx context.Context, snapshot Snapshot, changes []Change) error

type memoryState struct {
	persons       map[string]Person
	relationships map[string]Relationship
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Persons       map[string]Person       `json:"persons" yaml:"persons"`
	Relationships map[string]Relationship `json:"relationships" yaml:"relationships"`
}

func newMemoryState() memoryState {
	return memoryState{
		persons:       make(map[string]Person),
		relationships: make(map[string]Relationship),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Persons:       make(map[string]Person, len(state.persons)),
		Relationships: make(map[string]Relationship, len(state.relationships)),
	}
	for k, v := range state.persons {
		s.Persons[k] = clonePerson(v)
	}
	for k, v := range state.relationships {
		s.Relationships[k] = cloneRelationship(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Persons {
		if v.ID == "" {
			v.ID = k
		}
		v.Relationships = dedupeStrings(v.Relationships)
		state.persons[k] = clonePerson(v)
	}
	for k, v := range s.Relationships {
		if v.ID == "" {
			v.ID = k
		}
		if v.State == "" {
			v.State = domain.StateMarried
		}
		v.Children = dedupeStrings(v.Children)
		state.relationships[k] = cloneRelationship(v)
	}
	return state
}

func (s memoryState) clone() memoryState {
	return memoryStateFromSnapshot(snapshotFromMemoryState(s))
}

func cloneDate(d *domain.Date) *domain.Date {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneEvent(e domain.Event) domain.Event {
	e.Date = cloneDate(e.Date)
	return e
}

func clonePerson(p Person) Person {
	cp := p
	cp.Birth = cloneEvent(p.Birth)
	cp.Death = cloneEvent(p.Death)
	if p.Origin != nil {
		origin := *p.Origin
		cp.Origin = &origin
	}
	cp.Relationships = append([]string{}, p.Relationships...)
	return cp
}

func cloneRelationship(r Relationship) Relationship {
	cp := r
	cp.MarriageInfo.StartDate = cloneDate(r.MarriageInfo.StartDate)
	cp.MarriageInfo.EndDate = cloneDate(r.MarriageInfo.EndDate)
	cp.Children = append([]string{}, r.Children...)
	return cp
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SortPersons orders persons by creation time, then id.
func SortPersons(out []Person) {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

// SortRelationships orders relationships by creation time, then id.
func SortRelationships(out []Relationship) {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

// Store provides an in-memory transactional store for the genealogy domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	idFn   func() string
	hooks  []CommitHook
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for createdAt/updatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithIDGenerator overrides the id generator used for new records.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.idFn = gen
		}
	}
}

// WithCommitHook registers a hook invoked for every successful transaction.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) {
		if hook != nil {
			s.hooks = append(s.hooks, hook)
		}
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddCommitHook registers an additional hook after construction.
func (s *Store) AddCommitHook(hook CommitHook) {
	if hook == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListPersons() []Person {
	out := make([]Person, 0, len(v.state.persons))
	for _, p := range v.state.persons {
		out = append(out, clonePerson(p))
	}
	SortPersons(out)
	return out
}

func (v transactionView) ListRelationships() []Relationship {
	out := make([]Relationship, 0, len(v.state.relationships))
	for _, r := range v.state.relationships {
		out = append(out, cloneRelationship(r))
	}
	SortRelationships(out)
	return out
}

func (v transactionView) FindPerson(id string) (Person, bool) {
	p, ok := v.state.persons[id]
	if !ok {
		return Person{}, false
	}
	return clonePerson(p), true
}

func (v transactionView) FindRelationship(id string) (Relationship, bool) {
	r, ok := v.state.relationships[id]
	if !ok {
		return Relationship{}, false
	}
	return cloneRelationship(r), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy is published only after rules and commit hooks succeed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if len(tx.changes) > 0 {
		snapshot := snapshotFromMemoryState(tx.state)
		for _, hook := range s.hooks {
			if err := hook(ctx, snapshot, tx.changes); err != nil {
				return result, err
			}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindPerson(id string) (Person, bool) {
	return transactionView{state: &tx.state}.FindPerson(id)
}

func (tx *transaction) FindRelationship(id string) (Relationship, bool) {
	return transactionView{state: &tx.state}.FindRelationship(id)
}

func (tx *transaction) CountPersons() int {
	return len(tx.state.persons)
}

// CreatePerson stores a new person within the transaction.
func (tx *transaction) CreatePerson(p Person) (Person, error) {
	if p.ID == "" {
		p.ID = tx.store.idFn()
	}
	if _, exists := tx.state.persons[p.ID]; exists {
		return Person{}, fmt.Errorf("person %q already exists", p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	p.Relationships = dedupeStrings(p.Relationships)
	tx.state.persons[p.ID] = clonePerson(p)
	tx.recordChange(Change{Entity: domain.EntityPerson, Action: domain.ActionCreate, After: clonePerson(p)})
	return clonePerson(p), nil
}

// UpdatePerson mutates a person using the provided mutator function.
func (tx *transaction) UpdatePerson(id string, mutator func(*Person) error) (Person, error) {
	current, ok := tx.state.persons[id]
	if !ok {
		return Person{}, domain.NotFound(domain.EntityPerson, id)
	}
	before := clonePerson(current)
	if err := mutator(&current); err != nil {
		return Person{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	current.Relationships = dedupeStrings(current.Relationships)
	tx.state.persons[id] = clonePerson(current)
	tx.recordChange(Change{Entity: domain.EntityPerson, Action: domain.ActionUpdate, Before: before, After: clonePerson(current)})
	return clonePerson(current), nil
}

// DeletePerson removes a person from the transaction state. References held by
// other records are the caller's responsibility.
func (tx *transaction) DeletePerson(id string) error {
	current, ok := tx.state.persons[id]
	if !ok {
		return domain.NotFound(domain.EntityPerson, id)
	}
	delete(tx.state.persons, id)
	tx.recordChange(Change{Entity: domain.EntityPerson, Action: domain.ActionDelete, Before: clonePerson(current)})
	return nil
}

// CreateRelationship stores a new union within the transaction.
func (tx *transaction) CreateRelationship(r Relationship) (Relationship, error) {
	if r.ID == "" {
		r.ID = tx.store.idFn()
	}
	if _, exists := tx.state.relationships[r.ID]; exists {
		return Relationship{}, fmt.Errorf("relationship %q already exists", r.ID)
	}
	if r.State == "" {
		r.State = domain.StateMarried
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	r.Children = dedupeStrings(r.Children)
	tx.state.relationships[r.ID] = cloneRelationship(r)
	tx.recordChange(Change{Entity: domain.EntityRelationship, Action: domain.ActionCreate, After: cloneRelationship(r)})
	return cloneRelationship(r), nil
}

// UpdateRelationship mutates a union using the provided mutator function.
func (tx *transaction) UpdateRelationship(id string, mutator func(*Relationship) error) (Relationship, error) {
	current, ok := tx.state.relationships[id]
	if !ok {
		return Relationship{}, domain.NotFound(domain.EntityRelationship, id)
	}
	before := cloneRelationship(current)
	if err := mutator(&current); err != nil {
		return Relationship{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	current.Children = dedupeStrings(current.Children)
	tx.state.relationships[id] = cloneRelationship(current)
	tx.recordChange(Change{Entity: domain.EntityRelationship, Action: domain.ActionUpdate, Before: before, After: cloneRelationship(current)})
	return cloneRelationship(current), nil
}

// DeleteRelationship removes a union from the transaction state.
func (tx *transaction) DeleteRelationship(id string) error {
	current, ok := tx.state.relationships[id]
	if !ok {
		return domain.NotFound(domain.EntityRelationship, id)
	}
	delete(tx.state.relationships, id)
	tx.recordChange(Change{Entity: domain.EntityRelationship, Action: domain.ActionDelete, Before: cloneRelationship(current)})
	return nil
}

// Read helpers ---------------------------------------------------------------

// GetPerson retrieves a person by ID from committed state.
func (s *Store) GetPerson(id string) (Person, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindPerson(id)
}

// ListPersons returns all persons from committed state.
func (s *Store) ListPersons() []Person {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListPersons()
}

// GetRelationship retrieves a union by ID from committed state.
func (s *Store) GetRelationship(id string) (Relationship, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindRelationship(id)
}

// ListRelationships returns all unions from committed state.
func (s *Store) ListRelationships() []Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListRelationships()
}
