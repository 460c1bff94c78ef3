package core

import (
	"fmt"

	"familytree/pkg/domain"
)

// lineageReader is the read side shared by transactions and snapshots.
type lineageReader interface {
	FindPerson(id string) (Person, bool)
	FindRelationship(id string) (Relationship, bool)
}

// spouseUnions resolves the unions personID is a spouse in. References that
// do not resolve or do not name the person are skipped.
func spouseUnions(r lineageReader, p Person) []Relationship {
	out := make([]Relationship, 0, len(p.Relationships))
	for _, id := range p.Relationships {
		rel, ok := r.FindRelationship(id)
		if !ok || !rel.HasSpouse(p.ID) {
			continue
		}
		out = append(out, rel)
	}
	return out
}

// CheckDeletable reports whether p can be removed without breaking lineage:
// none of p's unions may have children, and every spouse must descend from a
// recorded union.
func CheckDeletable(r lineageReader, p Person) error {
	unions := spouseUnions(r, p)
	for _, rel := range unions {
		if len(rel.Children) > 0 {
			return domain.Validation(domain.ReasonPersonIsParent,
				fmt.Sprintf("person %s is a parent in relationship %s; deleting would break the children's lineage", p.ID, rel.ID))
		}
	}
	for _, rel := range unions {
		spouseID, _ := rel.SpouseOf(p.ID)
		spouse, ok := r.FindPerson(spouseID)
		if !ok {
			continue
		}
		if !spouse.HasOrigin() {
			return domain.Validation(domain.ReasonSpouseWithoutOrigin,
				fmt.Sprintf("spouse %s of person %s has no origin and would be detached from the tree", spouse.ID, p.ID))
		}
	}
	return nil
}

// SpouseSex returns the sex a new spouse of p must have.
func SpouseSex(p Person) (Sex, error) {
	sex, ok := p.Sex.Opposite()
	if !ok {
		return "", domain.Validation(domain.ReasonInvalidSex,
			fmt.Sprintf("person %s has no valid sex to infer a spouse from", p.ID))
	}
	return sex, nil
}

// AssignSpouses orders a and b into husband and wife.
func AssignSpouses(a, b Person) (husb, wife Person, err error) {
	switch {
	case a.Sex == domain.SexMale && b.Sex == domain.SexFemale:
		return a, b, nil
	case a.Sex == domain.SexFemale && b.Sex == domain.SexMale:
		return b, a, nil
	default:
		return Person{}, Person{}, domain.Validation(domain.ReasonInvalidSex,
			fmt.Sprintf("a union needs one male and one female spouse, got %q and %q", a.Sex, b.Sex))
	}
}

// CheckEmptyTree enforces the single-root guarantee.
func CheckEmptyTree(tx domain.Transaction) error {
	if n := tx.CountPersons(); n > 0 {
		return domain.Conflict(domain.ReasonTreeInitialized, fmt.Sprintf("tree already holds %d person(s)", n))
	}
	return nil
}

// CheckStateTransition validates moving a union from its current state to next.
func CheckStateTransition(r lineageReader, rel Relationship, next RelationshipState) error {
	if !next.Valid() {
		return domain.Validation(domain.ReasonInvalidState, fmt.Sprintf("unknown relationship state %q", next))
	}
	current := rel.State
	if current == "" {
		current = domain.StateMarried
	}
	if !current.CanTransitionTo(next) {
		return domain.Conflict(domain.ReasonIllegalTransition,
			fmt.Sprintf("relationship %s cannot move from %s to %s", rel.ID, current, next))
	}
	if current != next && next.RequiresDeceasedSpouse() && !hasDeceasedSpouse(r, rel) {
		return domain.Conflict(domain.ReasonWidowedRequiresDeceased,
			fmt.Sprintf("relationship %s cannot be widowed while both spouses are alive", rel.ID))
	}
	return nil
}

func hasDeceasedSpouse(r lineageReader, rel Relationship) bool {
	for _, id := range []string{rel.Husb, rel.Wife} {
		if p, ok := r.FindPerson(id); ok && p.IsDead {
			return true
		}
	}
	return false
}

// childBirths collects the birth dates of the children of every union p is a
// spouse in.
func childBirths(r lineageReader, p Person) []*Date {
	var out []*Date
	for _, rel := range spouseUnions(r, p) {
		for _, cid := range rel.Children {
			if c, ok := r.FindPerson(cid); ok {
				out = append(out, c.Birth.Date)
			}
		}
	}
	return out
}

func unionChildBirths(r lineageReader, rel Relationship) []*Date {
	out := make([]*Date, 0, len(rel.Children))
	for _, cid := range rel.Children {
		if c, ok := r.FindPerson(cid); ok {
			out = append(out, c.Birth.Date)
		}
	}
	return out
}
