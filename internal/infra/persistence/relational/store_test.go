package relational

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"familytree/pkg/domain"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(Config{Path: path, LogLevel: "silent", LogWriter: io.Discard}, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("gorm sqlite unavailable: %v", err)
	}
	return store
}

func TestRelationalStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.db")
	store := openTestStore(t, path)
	var unionID, childID string
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		h, err := tx.CreatePerson(domain.Person{FullName: "Ivan", Sex: domain.SexMale})
		if err != nil {
			return err
		}
		w, err := tx.CreatePerson(domain.Person{FullName: "Maria", Sex: domain.SexFemale, IsDead: true, Death: domain.Event{Date: domain.MustDate("1990-05-01").Ptr(), Place: "Kyiv"}})
		if err != nil {
			return err
		}
		r, err := tx.CreateRelationship(domain.Relationship{Husb: h.ID, Wife: w.ID, MarriageInfo: domain.MarriageInfo{StartDate: domain.MustDate("1950-06-01").Ptr()}})
		if err != nil {
			return err
		}
		unionID = r.ID
		origin := r.ID
		c, err := tx.CreatePerson(domain.Person{FullName: "Petro", Sex: domain.SexMale, Origin: &origin})
		if err != nil {
			return err
		}
		childID = c.ID
		for _, id := range []string{h.ID, w.ID} {
			if _, err := tx.UpdatePerson(id, func(p *domain.Person) error {
				p.Relationships = append(p.Relationships, r.ID)
				return nil
			}); err != nil {
				return err
			}
		}
		_, err = tx.UpdateRelationship(r.ID, func(rel *domain.Relationship) error {
			rel.Children = append(rel.Children, c.ID)
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded := openTestStore(t, path)
	t.Cleanup(func() { _ = reloaded.Close() })
	r, ok := reloaded.GetRelationship(unionID)
	if !ok {
		t.Fatalf("expected relationship after reload")
	}
	if len(r.Children) != 1 || r.Children[0] != childID {
		t.Fatalf("unexpected children: %v", r.Children)
	}
	if r.MarriageInfo.StartDate == nil || r.MarriageInfo.StartDate.String() != "1950-06-01" {
		t.Fatalf("unexpected start date: %+v", r.MarriageInfo)
	}
	w, _ := reloaded.GetPerson(r.Wife)
	if !w.IsDead || w.Death.Place != "Kyiv" || len(w.Relationships) != 1 {
		t.Fatalf("unexpected wife: %+v", w)
	}
	c, _ := reloaded.GetPerson(childID)
	if c.Origin == nil || *c.Origin != unionID {
		t.Fatalf("unexpected child origin: %+v", c.Origin)
	}
}

func TestRelationshipDeletionRemovesRows(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "tree.db"))
	t.Cleanup(func() { _ = store.Close() })
	var pid string
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		p, err := tx.CreatePerson(domain.Person{FullName: "Solo"})
		pid = p.ID
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeletePerson(pid)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var count int64
	if err := store.DB().Model(&PersonRow{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no person rows, got %d", count)
	}
}

func TestTouchedIDsDeduplicates(t *testing.T) {
	changes := []domain.Change{
		{Entity: domain.EntityPerson, Action: domain.ActionCreate, After: domain.Person{Base: domain.Base{ID: "p1"}}},
		{Entity: domain.EntityPerson, Action: domain.ActionUpdate, After: domain.Person{Base: domain.Base{ID: "p1"}}},
		{Entity: domain.EntityRelationship, Action: domain.ActionDelete, Before: domain.Relationship{Base: domain.Base{ID: "r1"}}},
	}
	persons, unions := touchedIDs(changes)
	if len(persons) != 1 || persons[0] != "p1" {
		t.Fatalf("unexpected persons: %v", persons)
	}
	if len(unions) != 1 || unions[0] != "r1" {
		t.Fatalf("unexpected unions: %v", unions)
	}
}

func TestGormLogLevel(t *testing.T) {
	if gormLogLevel("silent") == gormLogLevel("info") {
		t.Fatalf("expected distinct levels")
	}
	if gormLogLevel("unknown") != gormLogLevel("warn") {
		t.Fatalf("expected warn default")
	}
}
