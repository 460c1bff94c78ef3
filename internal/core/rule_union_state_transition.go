package core

import (
	"context"
	"fmt"

	"familytree/pkg/domain"
)

// UnionStateTransitionRule blocks illegal union state transitions and widowed
// unions without a deceased spouse.
func UnionStateTransitionRule() domain.Rule {
	return unionStateTransitionRule{}
}

type unionStateTransitionRule struct{}

func (unionStateTransitionRule) Name() string { return "union_state_transition" }

func (unionStateTransitionRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		switch change.Entity {
		case domain.EntityRelationship:
			after, ok := change.After.(domain.Relationship)
			if !ok {
				continue
			}
			if !after.State.Valid() {
				res.Violations = append(res.Violations, stateViolation(domain.ReasonInvalidState, after.ID,
					fmt.Sprintf("relationship %s has unknown state %q", after.ID, after.State)))
				continue
			}
			from := domain.StateMarried
			if before, ok := change.Before.(domain.Relationship); ok && before.State != "" {
				from = before.State
			}
			if !from.CanTransitionTo(after.State) {
				res.Violations = append(res.Violations, stateViolation(domain.ReasonIllegalTransition, after.ID,
					fmt.Sprintf("relationship %s moved from %s to %s", after.ID, from, after.State)))
				continue
			}
			if after.State.RequiresDeceasedSpouse() && !hasDeceasedSpouse(view, after) {
				res.Violations = append(res.Violations, stateViolation(domain.ReasonWidowedRequiresDeceased, after.ID,
					fmt.Sprintf("relationship %s is widowed while both spouses are alive", after.ID)))
			}
		case domain.EntityPerson:
			before, okBefore := change.Before.(domain.Person)
			after, okAfter := change.After.(domain.Person)
			if !okBefore || !okAfter || !before.IsDead || after.IsDead {
				continue
			}
			for _, relID := range after.Relationships {
				rel, ok := view.FindRelationship(relID)
				if ok && rel.State.RequiresDeceasedSpouse() && !hasDeceasedSpouse(view, rel) {
					res.Violations = append(res.Violations, stateViolation(domain.ReasonWidowedRequiresDeceased, rel.ID,
						fmt.Sprintf("reviving person %s leaves widowed relationship %s without a deceased spouse", after.ID, rel.ID)))
				}
			}
		}
	}
	return res, nil
}

func stateViolation(reason domain.Reason, relID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "union_state_transition",
		Severity: domain.SeverityBlock,
		Reason:   reason,
		Message:  message,
		Entity:   domain.EntityRelationship,
		EntityID: relID,
	}
}
