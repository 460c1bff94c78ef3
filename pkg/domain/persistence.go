package domain

import "context"

// Transaction exposes the record operations that a persistence implementation
// must support within an atomic scope. Returning an error from the function
// passed to RunInTransaction aborts every write made through the Transaction.
type Transaction interface {
	Snapshot() TransactionView
	FindPerson(id string) (Person, bool)
	FindRelationship(id string) (Relationship, bool)
	CountPersons() int
	CreatePerson(Person) (Person, error)
	UpdatePerson(id string, mutator func(*Person) error) (Person, error)
	DeletePerson(id string) error
	CreateRelationship(Relationship) (Relationship, error)
	UpdateRelationship(id string, mutator func(*Relationship) error) (Relationship, error)
	DeleteRelationship(id string) error
}

// TransactionView provides read-only access to snapshot data.
type TransactionView = RuleView

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetPerson(id string) (Person, bool)
	ListPersons() []Person
	GetRelationship(id string) (Relationship, bool)
	ListRelationships() []Relationship
	Close() error
}
