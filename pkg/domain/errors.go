package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the mutation engine.
type ErrorKind string

// Error kinds. NotFound and ValidationFailed are never retried; Conflict may
// be retried after re-reading; Internal covers store failures.
const (
	KindNotFound   ErrorKind = "not_found"
	KindValidation ErrorKind = "validation_failed"
	KindConflict   ErrorKind = "conflict"
	KindInternal   ErrorKind = "internal"
)

// Reason is a machine-distinguishable code attached to rejected mutations.
type Reason string

// Reason codes.
const (
	ReasonFullNameRequired        Reason = "full_name_required"
	ReasonInvalidSex              Reason = "invalid_sex"
	ReasonInvalidState            Reason = "invalid_state"
	ReasonDeathBeforeBirth        Reason = "death_before_birth"
	ReasonDateInFuture            Reason = "date_in_future"
	ReasonChildBeforeUnionStart   Reason = "child_before_union_start"
	ReasonFatherDeceased          Reason = "father_deceased_before_birth"
	ReasonMotherDeceased          Reason = "mother_deceased_before_birth"
	ReasonDeathRequiresDeceased   Reason = "death_requires_deceased"
	ReasonUnionEndBeforeStart     Reason = "union_end_before_start"
	ReasonParentYoungerThanChild  Reason = "parent_younger_than_child"
	ReasonPersonIsParent          Reason = "person_is_parent"
	ReasonSpouseWithoutOrigin     Reason = "spouse_without_origin"
	ReasonSexLocked               Reason = "sex_locked"
	ReasonTreeInitialized         Reason = "tree_already_initialized"
	ReasonIllegalTransition       Reason = "illegal_state_transition"
	ReasonWidowedRequiresDeceased Reason = "widowed_requires_deceased"
	ReasonWriteConflict           Reason = "write_conflict"
	ReasonRuleViolation           Reason = "rule_violation"
	ReasonBrokenReference         Reason = "broken_reference"
)

// Error is the classified error returned by core operations.
type Error struct {
	Kind   ErrorKind
	Reason Reason
	Entity EntityType
	ID     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	switch {
	case e.Detail != "":
		msg += ": " + e.Detail
	case e.Entity != "" && e.ID != "":
		msg += fmt.Sprintf(": %s %s", e.Entity, e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, and by reason when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrValidation = &Error{Kind: KindValidation}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrInternal   = &Error{Kind: KindInternal}
)

// NotFound reports a referenced entity that does not exist.
func NotFound(entity EntityType, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Detail: fmt.Sprintf("%s %s not found", entity, id)}
}

// Validation reports a violated temporal or invariant rule.
func Validation(reason Reason, detail string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Detail: detail}
}

// Conflict reports a state-machine, single-root or write conflict.
func Conflict(reason Reason, detail string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Detail: detail}
}

// Internal wraps an unexpected store failure.
func Internal(err error, detail string) *Error {
	return &Error{Kind: KindInternal, Detail: detail, Err: err}
}

// KindOf classifies err. Unclassified errors are internal; nil yields "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var rv RuleViolationError
	if errors.As(err, &rv) {
		return KindValidation
	}
	return KindInternal
}

// ReasonOf extracts the reason code from err, if any.
func ReasonOf(err error) Reason {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	var rv RuleViolationError
	if errors.As(err, &rv) {
		if v, ok := rv.Result.FirstBlocking(); ok && v.Reason != "" {
			return v.Reason
		}
		return ReasonRuleViolation
	}
	return ""
}
