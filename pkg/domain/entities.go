// Package domain defines the persistent genealogy records, value types, error
// taxonomy and rule evaluation primitives used by familytree.
package domain

import "time"

// EntityType identifies the type of record stored in the genealogy arena.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityPerson identifies an individual person record.
	EntityPerson EntityType = "person"
	// EntityRelationship identifies a union between two persons.
	EntityRelationship EntityType = "relationship"
)

// Sex is the fixed two-value enumeration used for union complementarity.
type Sex string

// Canonical sex values.
const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

// Valid reports whether s is one of the canonical values.
func (s Sex) Valid() bool {
	return s == SexMale || s == SexFemale
}

// Opposite returns the complementary sex. The second return value is false
// when s is unset or not a canonical value.
func (s Sex) Opposite() (Sex, bool) {
	switch s {
	case SexMale:
		return SexFemale, true
	case SexFemale:
		return SexMale, true
	default:
		return "", false
	}
}

// RelationshipState represents the lifecycle of a union.
type RelationshipState string

// Union states. Married is the initial state; divorced and widowed are terminal.
const (
	StateMarried  RelationshipState = "married"
	StateDivorced RelationshipState = "divorced"
	StateWidowed  RelationshipState = "widowed"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Event is a dated, placed life event such as a birth or a death.
type Event struct {
	Date  *Date  `json:"date,omitempty" yaml:"date,omitempty"`
	Place string `json:"place,omitempty" yaml:"place,omitempty"`
}

// Contact holds free-form contact details. None of it takes part in lineage rules.
type Contact struct {
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	Email   string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone   string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// MarriageInfo describes when and where a union started and ended.
type MarriageInfo struct {
	StartDate  *Date  `json:"startDate,omitempty" yaml:"startDate,omitempty"`
	StartPlace string `json:"startPlace,omitempty" yaml:"startPlace,omitempty"`
	EndDate    *Date  `json:"endDate,omitempty" yaml:"endDate,omitempty"`
	EndPlace   string `json:"endPlace,omitempty" yaml:"endPlace,omitempty"`
}

// Person is an individual in the tree. Origin references the union that
// produced the person; Relationships lists the unions the person is a spouse in.
type Person struct {
	Base          `yaml:",inline"`
	FullName      string   `json:"fullName" yaml:"fullName"`
	Sex           Sex      `json:"sex" yaml:"sex"`
	Birth         Event    `json:"birth" yaml:"birth"`
	IsDead        bool     `json:"isDead" yaml:"isDead"`
	Death         Event    `json:"death" yaml:"death"`
	Contact       Contact  `json:"contact" yaml:"contact"`
	Origin        *string  `json:"origin,omitempty" yaml:"origin,omitempty"`
	Relationships []string `json:"relationships" yaml:"relationships"`
}

// HasOrigin reports whether the person descends from a recorded union.
func (p Person) HasOrigin() bool {
	return p.Origin != nil && *p.Origin != ""
}

// Relationship is a union between a husband and a wife, optionally with children.
type Relationship struct {
	Base         `yaml:",inline"`
	Husb         string            `json:"husb" yaml:"husb"`
	Wife         string            `json:"wife" yaml:"wife"`
	State        RelationshipState `json:"state" yaml:"state"`
	MarriageInfo MarriageInfo      `json:"marriageInfo" yaml:"marriageInfo"`
	Children     []string          `json:"children" yaml:"children"`
}

// HasSpouse reports whether personID is the husband or the wife of the union.
func (r Relationship) HasSpouse(personID string) bool {
	return personID != "" && (r.Husb == personID || r.Wife == personID)
}

// SpouseOf returns the other party of the union for personID.
func (r Relationship) SpouseOf(personID string) (string, bool) {
	switch personID {
	case r.Husb:
		return r.Wife, true
	case r.Wife:
		return r.Husb, true
	default:
		return "", false
	}
}

// Change describes a mutation applied within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the change set.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Reason   Reason
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// FirstBlocking returns the first blocking violation, if any.
func (r Result) FirstBlocking() (Violation, bool) {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return v, true
		}
	}
	return Violation{}, false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	if v, ok := e.Result.FirstBlocking(); ok && v.Message != "" {
		return "transaction blocked by rules: " + v.Message
	}
	return "transaction blocked by rules"
}
