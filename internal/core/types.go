package core

import "familytree/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Person             = domain.Person
	Relationship       = domain.Relationship
	Sex                = domain.Sex
	RelationshipState  = domain.RelationshipState
	Date               = domain.Date
	Event              = domain.Event
	Contact            = domain.Contact
	MarriageInfo       = domain.MarriageInfo
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
)

const (
	EntityPerson       = domain.EntityPerson
	EntityRelationship = domain.EntityRelationship
)

// PersonInput carries the attributes of a person to create.
type PersonInput struct {
	FullName string  `json:"fullName"`
	Sex      Sex     `json:"sex,omitempty"`
	Birth    Event   `json:"birth"`
	IsDead   bool    `json:"isDead"`
	Death    Event   `json:"death"`
	Contact  Contact `json:"contact"`
}

// UnionInfo describes a union being created. An empty State means married.
type UnionInfo struct {
	State        RelationshipState `json:"state,omitempty"`
	MarriageInfo MarriageInfo      `json:"marriageInfo"`
}

// EventPatch updates a birth or death event field by field.
type EventPatch struct {
	Date  domain.Optional[*Date]  `json:"date"`
	Place domain.Optional[string] `json:"place"`
}

// ContactPatch updates contact details field by field.
type ContactPatch struct {
	Address domain.Optional[string] `json:"address"`
	Email   domain.Optional[string] `json:"email"`
	Phone   domain.Optional[string] `json:"phone"`
}

// PersonPatch is a partial person update. Absent fields keep stored values.
type PersonPatch struct {
	FullName domain.Optional[string] `json:"fullName"`
	Sex      domain.Optional[Sex]    `json:"sex"`
	Birth    EventPatch              `json:"birth"`
	IsDead   domain.Optional[bool]   `json:"isDead"`
	Death    EventPatch              `json:"death"`
	Contact  ContactPatch            `json:"contact"`
}

// MarriageInfoPatch updates union dates and places field by field.
type MarriageInfoPatch struct {
	StartDate  domain.Optional[*Date]  `json:"startDate"`
	StartPlace domain.Optional[string] `json:"startPlace"`
	EndDate    domain.Optional[*Date]  `json:"endDate"`
	EndPlace   domain.Optional[string] `json:"endPlace"`
}

// RelationshipPatch is a partial union update.
type RelationshipPatch struct {
	State        domain.Optional[RelationshipState] `json:"state"`
	MarriageInfo MarriageInfoPatch                  `json:"marriageInfo"`
}

// PersonRef is the short reference returned by mutations.
type PersonRef struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Sex      Sex    `json:"sex,omitempty"`
}

// UnionRef is the short union reference returned by mutations.
type UnionRef struct {
	ID            string            `json:"id"`
	State         RelationshipState `json:"state"`
	ChildrenCount *int              `json:"childrenCount,omitempty"`
}

type InitTreeResult struct {
	RootRelationship UnionRef  `json:"rootRelationship"`
	GrandFather      PersonRef `json:"grandFather"`
	GrandMother      PersonRef `json:"grandMother"`
}

type AddSpouseResult struct {
	Person       PersonRef `json:"person"`
	Spouse       PersonRef `json:"spouse"`
	Relationship UnionRef  `json:"relationship"`
}

type AddChildResult struct {
	Relationship UnionRef  `json:"relationship"`
	Child        PersonRef `json:"child"`
}

// DeletedUnion records a union removed by a person deletion.
type DeletedUnion struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	OtherSpouse PersonRef `json:"otherSpouse"`
}

// OriginRef names the union a deleted person was detached from.
type OriginRef struct {
	RelationshipID string `json:"relationshipId"`
}

// AffectedRecords counts the records a deletion touched.
type AffectedRecords struct {
	Persons       int `json:"persons"`
	Relationships int `json:"relationships"`
}

// DeletionSummary describes what DeletePerson removed.
type DeletionSummary struct {
	Person          PersonRef       `json:"person"`
	Relationships   []DeletedUnion  `json:"relationships"`
	Origin          *OriginRef      `json:"origin,omitempty"`
	AffectedRecords AffectedRecords `json:"affectedRecords"`
}

func personRef(p Person) PersonRef {
	return PersonRef{ID: p.ID, FullName: p.FullName, Sex: p.Sex}
}

func unionRef(r Relationship) UnionRef {
	return UnionRef{ID: r.ID, State: r.State}
}
