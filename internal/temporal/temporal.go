// Package temporal holds the pure date-ordering checks applied to genealogy
// mutations. Every function is total: a missing date never fails a check.
package temporal

import (
	"fmt"
	"time"

	"familytree/pkg/domain"
)

// Parental tolerance windows in years. The father's death must fall within a
// year of the child's birth on either side; the mother must be alive at birth.
const (
	FatherToleranceYears = 1
	MotherToleranceYears = 0
)

// Verdict is the outcome of a temporal check.
type Verdict struct {
	OK     bool
	Reason domain.Reason
	Detail string
}

// Pass is the successful verdict.
var Pass = Verdict{OK: true}

func fail(reason domain.Reason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Err converts a failed verdict into a validation error. It returns nil for
// passing verdicts.
func (v Verdict) Err() error {
	if v.OK {
		return nil
	}
	return domain.Validation(v.Reason, v.Detail)
}

// First returns the first failing verdict, or Pass.
func First(verdicts ...Verdict) Verdict {
	for _, v := range verdicts {
		if !v.OK {
			return v
		}
	}
	return Pass
}

func present(d *domain.Date) bool {
	return d != nil && !d.IsZero()
}

// BirthBeforeDeath fails when both dates are known and death precedes birth.
func BirthBeforeDeath(birth, death *domain.Date) Verdict {
	if present(birth) && present(death) && death.Before(*birth) {
		return fail(domain.ReasonDeathBeforeBirth, "death date %s is before birth date %s", death, birth)
	}
	return Pass
}

// ChildAfterUnionStart fails when the child is born before the union started.
func ChildAfterUnionStart(unionStart, childBirth *domain.Date) Verdict {
	if present(unionStart) && present(childBirth) && childBirth.Before(*unionStart) {
		return fail(domain.ReasonChildBeforeUnionStart, "child birth date %s is before union start %s", childBirth, unionStart)
	}
	return Pass
}

// ParentAliveAtBirth fails when the child is born more than toleranceYears
// after the parent's death.
func ParentAliveAtBirth(parentDeath, childBirth *domain.Date, toleranceYears int, reason domain.Reason) Verdict {
	if !present(parentDeath) || !present(childBirth) {
		return Pass
	}
	limit := parentDeath.AddDate(toleranceYears, 0, 0)
	if childBirth.After(limit) {
		if toleranceYears == 0 {
			return fail(reason, "parent died on %s, before the child's birth on %s", parentDeath, childBirth)
		}
		return fail(reason, "parent died on %s, more than %d year(s) before the child's birth on %s", parentDeath, toleranceYears, childBirth)
	}
	return Pass
}

// DeathWithinTolerance fails when the parent's death is recorded more than
// toleranceYears after the child's birth.
func DeathWithinTolerance(parentDeath, childBirth *domain.Date, toleranceYears int, reason domain.Reason) Verdict {
	if !present(parentDeath) || !present(childBirth) {
		return Pass
	}
	limit := childBirth.AddDate(toleranceYears, 0, 0)
	if parentDeath.After(limit) {
		return fail(reason, "parent died on %s, more than %d year(s) after the child's birth on %s", parentDeath, toleranceYears, childBirth)
	}
	return Pass
}

// FatherAliveAtBirth requires the father's death to lie within
// FatherToleranceYears of the child's birth.
func FatherAliveAtBirth(fatherDeath, childBirth *domain.Date) Verdict {
	return First(
		ParentAliveAtBirth(fatherDeath, childBirth, FatherToleranceYears, domain.ReasonFatherDeceased),
		DeathWithinTolerance(fatherDeath, childBirth, FatherToleranceYears, domain.ReasonFatherDeceased),
	)
}

// MotherAliveAtBirth requires the mother to be alive at the child's birth.
func MotherAliveAtBirth(motherDeath, childBirth *domain.Date) Verdict {
	return ParentAliveAtBirth(motherDeath, childBirth, MotherToleranceYears, domain.ReasonMotherDeceased)
}

// UnionEndAfterStart fails when the union ends before it starts.
func UnionEndAfterStart(start, end *domain.Date) Verdict {
	if present(start) && present(end) && end.Before(*start) {
		return fail(domain.ReasonUnionEndBeforeStart, "union end date %s is before start date %s", end, start)
	}
	return Pass
}

// NoChildBeforeUnionStart fails when moving the union start after any
// existing child's birth.
func NoChildBeforeUnionStart(childBirths []*domain.Date, newStart *domain.Date) Verdict {
	for _, birth := range childBirths {
		if v := ChildAfterUnionStart(newStart, birth); !v.OK {
			return v
		}
	}
	return Pass
}

// ChildAfterPersonBirth fails when a parent's birth date would fall after one
// of their children's birth dates.
func ChildAfterPersonBirth(parentBirth *domain.Date, childBirths []*domain.Date) Verdict {
	if !present(parentBirth) {
		return Pass
	}
	for _, birth := range childBirths {
		if present(birth) && birth.Before(*parentBirth) {
			return fail(domain.ReasonParentYoungerThanChild, "birth date %s is after a child's birth date %s", parentBirth, birth)
		}
	}
	return Pass
}

// NotInFuture fails when date lies after now's calendar day.
func NotInFuture(date *domain.Date, now time.Time) Verdict {
	if present(date) && date.After(domain.DateOf(now)) {
		return fail(domain.ReasonDateInFuture, "date %s is in the future", date)
	}
	return Pass
}
