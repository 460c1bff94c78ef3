package core

import (
	"context"
	"testing"

	"familytree/internal/infra/persistence/memory"
	"familytree/pkg/domain"
)

type ruleCase struct {
	name    string
	rule    domain.Rule
	persons []domain.Person
	unions  []domain.Relationship
	changes []domain.Change
	reason  domain.Reason
}

func strPtr(s string) *string { return &s }

func viewOf(t *testing.T, persons []domain.Person, unions []domain.Relationship) domain.RuleView {
	t.Helper()
	store := memory.NewStore(nil)
	snap := memory.Snapshot{Persons: map[string]domain.Person{}, Relationships: map[string]domain.Relationship{}}
	for _, p := range persons {
		snap.Persons[p.ID] = p
	}
	for _, r := range unions {
		snap.Relationships[r.ID] = r
	}
	store.ImportState(snap)
	var view domain.RuleView
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		view = v
		return nil
	})
	return view
}

func person(id string, sex domain.Sex, rels ...string) domain.Person {
	return domain.Person{Base: domain.Base{ID: id}, FullName: id, Sex: sex, Relationships: rels}
}

func TestBuiltInRules(t *testing.T) {
	touch := []domain.Change{{Entity: domain.EntityPerson, Action: domain.ActionUpdate, After: person("h", domain.SexMale, "r")}}
	consistent := domain.Relationship{Base: domain.Base{ID: "r"}, Husb: "h", Wife: "w", State: domain.StateMarried}
	cases := []ruleCase{
		{
			name:    "consistent tree",
			rule:    LineageIntegrityRule(),
			persons: []domain.Person{person("h", domain.SexMale, "r"), person("w", domain.SexFemale, "r")},
			unions:  []domain.Relationship{consistent},
			changes: touch,
		},
		{
			name:    "dangling relationship",
			rule:    LineageIntegrityRule(),
			persons: []domain.Person{person("h", domain.SexMale, "gone")},
			changes: touch,
			reason:  domain.ReasonBrokenReference,
		},
		{
			name: "child without origin",
			rule: LineageIntegrityRule(),
			persons: []domain.Person{
				person("h", domain.SexMale, "r"), person("w", domain.SexFemale, "r"), person("c", domain.SexMale),
			},
			unions:  []domain.Relationship{{Base: domain.Base{ID: "r"}, Husb: "h", Wife: "w", Children: []string{"c"}}},
			changes: touch,
			reason:  domain.ReasonBrokenReference,
		},
		{
			name: "origin not listed",
			rule: LineageIntegrityRule(),
			persons: []domain.Person{
				person("h", domain.SexMale, "r"), person("w", domain.SexFemale, "r"),
				{Base: domain.Base{ID: "c"}, Sex: domain.SexMale, Origin: strPtr("r")},
			},
			unions:  []domain.Relationship{consistent},
			changes: touch,
			reason:  domain.ReasonBrokenReference,
		},
		{
			name:    "swapped sexes",
			rule:    SexComplementarityRule(),
			persons: []domain.Person{person("h", domain.SexFemale, "r"), person("w", domain.SexMale, "r")},
			unions:  []domain.Relationship{consistent},
			changes: []domain.Change{{Entity: domain.EntityRelationship, Action: domain.ActionCreate, After: consistent}},
			reason:  domain.ReasonInvalidSex,
		},
		{
			name:    "divorced to married",
			rule:    UnionStateTransitionRule(),
			persons: []domain.Person{person("h", domain.SexMale, "r"), person("w", domain.SexFemale, "r")},
			unions:  []domain.Relationship{consistent},
			changes: []domain.Change{{
				Entity: domain.EntityRelationship, Action: domain.ActionUpdate,
				Before: domain.Relationship{Base: domain.Base{ID: "r"}, State: domain.StateDivorced},
				After:  consistent,
			}},
			reason: domain.ReasonIllegalTransition,
		},
		{
			name:    "widowed without deceased",
			rule:    UnionStateTransitionRule(),
			persons: []domain.Person{person("h", domain.SexMale, "r"), person("w", domain.SexFemale, "r")},
			unions:  []domain.Relationship{{Base: domain.Base{ID: "r"}, Husb: "h", Wife: "w", State: domain.StateWidowed}},
			changes: []domain.Change{{
				Entity: domain.EntityRelationship, Action: domain.ActionCreate,
				After: domain.Relationship{Base: domain.Base{ID: "r"}, Husb: "h", Wife: "w", State: domain.StateWidowed},
			}},
			reason: domain.ReasonWidowedRequiresDeceased,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tc.rule.Evaluate(context.Background(), viewOf(t, tc.persons, tc.unions), tc.changes)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			v, blocked := res.FirstBlocking()
			if tc.reason == "" {
				if blocked {
					t.Fatalf("unexpected violation %+v", v)
				}
				return
			}
			if !blocked || v.Reason != tc.reason {
				t.Fatalf("expected %s violation, got %+v", tc.reason, res.Violations)
			}
		})
	}
}

func TestDefaultRulesEngineRegistersPolicySet(t *testing.T) {
	got := NewDefaultRulesEngine().Rules()
	want := []string{"lineage_integrity", "sex_complementarity", "union_state_transition"}
	if len(got) != len(want) {
		t.Fatalf("unexpected rules %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rule %d: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestRulesBlockDirectStoreCorruption(t *testing.T) {
	svc, store := newTestService(t)
	root := mustInit(t, svc)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdatePerson(root.GrandFather.ID, func(p *domain.Person) error {
			p.Relationships = nil
			return nil
		})
		return err
	})
	expectKind(t, classify(err), domain.KindValidation, domain.ReasonBrokenReference)
}

func TestLineageHelpers(t *testing.T) {
	view := viewOf(t,
		[]domain.Person{person("h", domain.SexMale, "r"), person("w", domain.SexFemale, "r"), person("x", "")},
		[]domain.Relationship{{Base: domain.Base{ID: "r"}, Husb: "h", Wife: "w"}},
	)
	h, _ := view.FindPerson("h")
	if err := CheckDeletable(view, h); domain.ReasonOf(err) != domain.ReasonSpouseWithoutOrigin {
		t.Fatalf("expected spouse_without_origin, got %v", err)
	}
	x, _ := view.FindPerson("x")
	if err := CheckDeletable(view, x); err != nil {
		t.Fatalf("loner is deletable: %v", err)
	}
	if _, err := SpouseSex(x); domain.ReasonOf(err) != domain.ReasonInvalidSex {
		t.Fatalf("expected invalid_sex for unset sex, got %v", err)
	}
	if _, _, err := AssignSpouses(h, h); err == nil {
		t.Fatalf("expected same-sex assignment to fail")
	}
	rel, _ := view.FindRelationship("r")
	if err := CheckStateTransition(view, rel, "engaged"); domain.ReasonOf(err) != domain.ReasonInvalidState {
		t.Fatalf("expected invalid_state, got %v", err)
	}
	if err := CheckStateTransition(view, rel, domain.StateMarried); err != nil {
		t.Fatalf("empty state is married, self transition ok: %v", err)
	}
}
