package core

import (
	"context"
	"fmt"
	"slices"

	"familytree/pkg/domain"
)

// LineageIntegrityRule enforces bidirectional consistency between persons and
// unions: origin links match children sets, spouse links match husb/wife, and
// no reference dangles.
func LineageIntegrityRule() domain.Rule {
	return lineageIntegrityRule{}
}

type lineageIntegrityRule struct{}

func (lineageIntegrityRule) Name() string { return "lineage_integrity" }

func (lineageIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	if len(changes) == 0 {
		return res, nil
	}

	for _, person := range view.ListPersons() {
		if person.HasOrigin() {
			origin, ok := view.FindRelationship(*person.Origin)
			switch {
			case !ok:
				res.Violations = append(res.Violations, lineageViolation(domain.EntityPerson, person.ID,
					fmt.Sprintf("person %s references missing origin %s", person.ID, *person.Origin)))
			case !slices.Contains(origin.Children, person.ID):
				res.Violations = append(res.Violations, lineageViolation(domain.EntityPerson, person.ID,
					fmt.Sprintf("person %s is not listed among the children of origin %s", person.ID, origin.ID)))
			}
		}
		for _, relID := range person.Relationships {
			rel, ok := view.FindRelationship(relID)
			switch {
			case !ok:
				res.Violations = append(res.Violations, lineageViolation(domain.EntityPerson, person.ID,
					fmt.Sprintf("person %s references missing relationship %s", person.ID, relID)))
			case !rel.HasSpouse(person.ID):
				res.Violations = append(res.Violations, lineageViolation(domain.EntityPerson, person.ID,
					fmt.Sprintf("person %s lists relationship %s without being a spouse in it", person.ID, relID)))
			}
		}
	}

	for _, rel := range view.ListRelationships() {
		if rel.Husb == rel.Wife {
			res.Violations = append(res.Violations, lineageViolation(domain.EntityRelationship, rel.ID,
				fmt.Sprintf("relationship %s joins person %s with themselves", rel.ID, rel.Husb)))
			continue
		}
		for _, spouseID := range []string{rel.Husb, rel.Wife} {
			spouse, ok := view.FindPerson(spouseID)
			switch {
			case !ok:
				res.Violations = append(res.Violations, lineageViolation(domain.EntityRelationship, rel.ID,
					fmt.Sprintf("relationship %s references missing spouse %s", rel.ID, spouseID)))
			case !slices.Contains(spouse.Relationships, rel.ID):
				res.Violations = append(res.Violations, lineageViolation(domain.EntityRelationship, rel.ID,
					fmt.Sprintf("spouse %s does not list relationship %s", spouseID, rel.ID)))
			}
		}
		for _, childID := range rel.Children {
			child, ok := view.FindPerson(childID)
			switch {
			case !ok:
				res.Violations = append(res.Violations, lineageViolation(domain.EntityRelationship, rel.ID,
					fmt.Sprintf("relationship %s references missing child %s", rel.ID, childID)))
			case !child.HasOrigin() || *child.Origin != rel.ID:
				res.Violations = append(res.Violations, lineageViolation(domain.EntityRelationship, rel.ID,
					fmt.Sprintf("child %s does not descend from relationship %s", childID, rel.ID)))
			}
		}
	}

	return res, nil
}

func lineageViolation(entity domain.EntityType, entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "lineage_integrity",
		Severity: domain.SeverityBlock,
		Reason:   domain.ReasonBrokenReference,
		Message:  message,
		Entity:   entity,
		EntityID: entityID,
	}
}
