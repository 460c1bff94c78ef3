package core

import (
	"context"
	"fmt"

	"familytree/pkg/domain"
)

// SexComplementarityRule blocks unions whose husband is not male or whose
// wife is not female.
func SexComplementarityRule() domain.Rule {
	return sexComplementarityRule{}
}

type sexComplementarityRule struct{}

func (sexComplementarityRule) Name() string { return "sex_complementarity" }

func (sexComplementarityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checked := make(map[string]struct{})
	check := func(relID string) {
		if _, done := checked[relID]; done {
			return
		}
		checked[relID] = struct{}{}
		rel, ok := view.FindRelationship(relID)
		if !ok {
			return
		}
		if husb, ok := view.FindPerson(rel.Husb); ok && husb.Sex != domain.SexMale {
			res.Violations = append(res.Violations, sexViolation(rel.ID, fmt.Sprintf("husband %s of relationship %s is %q, want male", husb.ID, rel.ID, husb.Sex)))
		}
		if wife, ok := view.FindPerson(rel.Wife); ok && wife.Sex != domain.SexFemale {
			res.Violations = append(res.Violations, sexViolation(rel.ID, fmt.Sprintf("wife %s of relationship %s is %q, want female", wife.ID, rel.ID, wife.Sex)))
		}
	}

	for _, change := range changes {
		switch after := change.After.(type) {
		case domain.Relationship:
			check(after.ID)
		case domain.Person:
			for _, relID := range after.Relationships {
				check(relID)
			}
		}
	}
	return res, nil
}

func sexViolation(relID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "sex_complementarity",
		Severity: domain.SeverityBlock,
		Reason:   domain.ReasonInvalidSex,
		Message:  message,
		Entity:   domain.EntityRelationship,
		EntityID: relID,
	}
}
