package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"familytree/pkg/domain"
)

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindRelationship("missing"); ok {
			t.Fatalf("expected missing relationship lookup")
		}
		created, err := tx.CreatePerson(domain.Person{FullName: "Ivan", Sex: domain.SexMale})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if tx.CountPersons() != 1 {
			t.Fatalf("expected one person in transaction")
		}
		if len(tx.Snapshot().ListPersons()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListPersons()) != 1 {
		t.Fatalf("expected persisted person")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListPersons()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListPersons()) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
	if store.NowFunc() == nil {
		t.Fatalf("expected now func")
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreatePerson(domain.Person{FullName: "Fail"})
		return e
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ListPersons()) != 0 {
		t.Fatalf("blocked transaction must not publish state")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	res.Merge(domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}})
	return res, nil
}

func TestAbortLeavesStateUntouched(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var id string
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		p, err := tx.CreatePerson(domain.Person{FullName: "Anna", Sex: domain.SexFemale})
		id = p.ID
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.UpdatePerson(id, func(p *domain.Person) error {
			p.FullName = "Changed"
			return nil
		}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	if err == nil {
		t.Fatalf("expected abort error")
	}
	got, _ := store.GetPerson(id)
	if got.FullName != "Anna" {
		t.Fatalf("expected untouched name, got %q", got.FullName)
	}
}

func TestCommitHookFailureAborts(t *testing.T) {
	var seen []Change
	store := NewStore(nil, WithCommitHook(func(_ context.Context, snap Snapshot, changes []Change) error {
		seen = changes
		if len(snap.Persons) != 1 {
			t.Fatalf("hook should see the pending snapshot")
		}
		return fmt.Errorf("disk full")
	}))
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreatePerson(domain.Person{FullName: "Lost"})
		return err
	})
	if err == nil {
		t.Fatalf("expected hook error")
	}
	if len(seen) != 1 || seen[0].Action != domain.ActionCreate {
		t.Fatalf("unexpected change set: %+v", seen)
	}
	if len(store.ListPersons()) != 0 {
		t.Fatalf("hook failure must not publish state")
	}
}

func TestCommitHookSkippedForReadOnlyTransaction(t *testing.T) {
	calls := 0
	store := NewStore(nil)
	store.AddCommitHook(func(context.Context, Snapshot, []Change) error {
		calls++
		return nil
	})
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("empty transaction: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no hook call, got %d", calls)
	}
}

func TestUpdateAndDeleteErrors(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.UpdatePerson("missing", func(*domain.Person) error { return nil }); domain.KindOf(err) != domain.KindNotFound {
			t.Fatalf("expected not found, got %v", err)
		}
		if err := tx.DeleteRelationship("missing"); domain.KindOf(err) != domain.KindNotFound {
			t.Fatalf("expected not found, got %v", err)
		}
		p, err := tx.CreatePerson(domain.Person{Base: domain.Base{ID: "fixed"}, FullName: "A"})
		if err != nil {
			return err
		}
		if _, err := tx.CreatePerson(domain.Person{Base: domain.Base{ID: p.ID}}); err == nil {
			t.Fatalf("expected duplicate id error")
		}
		if _, err := tx.UpdatePerson(p.ID, func(*domain.Person) error { return fmt.Errorf("boom") }); err == nil {
			t.Fatalf("expected mutator error")
		}
		return tx.DeletePerson(p.ID)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestClockAndIDOptions(t *testing.T) {
	fixed := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	store := NewStore(nil,
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		p, err := tx.CreatePerson(domain.Person{FullName: "A"})
		if err != nil {
			return err
		}
		r, err := tx.CreateRelationship(domain.Relationship{Husb: p.ID, Children: []string{"c", "c", ""}})
		if err != nil {
			return err
		}
		if r.State != domain.StateMarried {
			t.Fatalf("expected default married state, got %q", r.State)
		}
		if len(r.Children) != 1 {
			t.Fatalf("expected deduplicated children, got %v", r.Children)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	p, ok := store.GetPerson("id-1")
	if !ok || !p.CreatedAt.Equal(fixed) {
		t.Fatalf("expected stamped person id-1, got %+v", p)
	}
	if _, ok := store.GetRelationship("id-2"); !ok {
		t.Fatalf("expected relationship id-2")
	}
}

func TestReturnedRecordsAreClones(t *testing.T) {
	store := NewStore(nil)
	var id string
	_, _ = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		p, err := tx.CreatePerson(domain.Person{FullName: "A", Relationships: []string{"r1"}})
		id = p.ID
		return err
	})
	p, _ := store.GetPerson(id)
	p.Relationships[0] = "mutated"
	again, _ := store.GetPerson(id)
	if again.Relationships[0] != "r1" {
		t.Fatalf("store leaked internal slice")
	}
}

func TestListOrderingIsStable(t *testing.T) {
	tick := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(nil, WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	for _, name := range []string{"first", "second", "third"} {
		name := name
		if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			_, err := tx.CreatePerson(domain.Person{FullName: name})
			return err
		}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	got := store.ListPersons()
	if got[0].FullName != "first" || got[2].FullName != "third" {
		t.Fatalf("unexpected order: %s, %s, %s", got[0].FullName, got[1].FullName, got[2].FullName)
	}
}
