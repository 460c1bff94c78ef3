package core

import (
	"context"

	"familytree/internal/infra/persistence/memory"
	"familytree/pkg/domain"
)

// PersonBasic is the compact person projection used in tree listings.
type PersonBasic struct {
	ID            string   `json:"id"`
	FullName      string   `json:"fullName"`
	Sex           Sex      `json:"sex"`
	BirthYear     *int     `json:"birthYear,omitempty"`
	IsDead        bool     `json:"isDead"`
	DeathYear     *int     `json:"deathYear,omitempty"`
	Origin        *string  `json:"origin,omitempty"`
	Relationships []string `json:"relationships"`
}

// UnionBasic is the compact union projection used in tree listings.
type UnionBasic struct {
	ID       string            `json:"id"`
	State    RelationshipState `json:"state"`
	Husb     string            `json:"husb"`
	Wife     string            `json:"wife"`
	Children []string          `json:"children"`
}

// TreeView lists every person and union.
type TreeView struct {
	People        []PersonBasic `json:"people"`
	Relationships []UnionBasic  `json:"relationships"`
}

// OriginView describes the union a person descends from.
type OriginView struct {
	ID    string            `json:"id"`
	State RelationshipState `json:"state"`
	Husb  *PersonBasic      `json:"husb,omitempty"`
	Wife  *PersonBasic      `json:"wife,omitempty"`
}

// SpouseUnionView describes a union from one spouse's side.
type SpouseUnionView struct {
	ID           string            `json:"id"`
	State        RelationshipState `json:"state"`
	MarriageInfo MarriageInfo      `json:"marriageInfo"`
	Spouse       *PersonBasic      `json:"spouse,omitempty"`
	Children     []PersonBasic     `json:"children"`
}

// PersonDetail is the full projection of one person.
type PersonDetail struct {
	Person
	Origin        *OriginView       `json:"origin,omitempty"`
	Relationships []SpouseUnionView `json:"relationships"`
}

func yearOf(d *Date) *int {
	if d == nil || d.IsZero() {
		return nil
	}
	y := d.Year()
	return &y
}

func basicInfo(p Person) PersonBasic {
	rels := make([]string, len(p.Relationships))
	copy(rels, p.Relationships)
	return PersonBasic{
		ID:            p.ID,
		FullName:      p.FullName,
		Sex:           p.Sex,
		BirthYear:     yearOf(p.Birth.Date),
		IsDead:        p.IsDead,
		DeathYear:     yearOf(p.Death.Date),
		Origin:        p.Origin,
		Relationships: rels,
	}
}

func lookupBasic(view domain.TransactionView, id string) *PersonBasic {
	p, ok := view.FindPerson(id)
	if !ok {
		return nil
	}
	b := basicInfo(p)
	return &b
}

// GetTree returns every person and union ordered by creation time.
func (s *Service) GetTree(ctx context.Context) (TreeView, error) {
	var out TreeView
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		persons := view.ListPersons()
		memory.SortPersons(persons)
		unions := view.ListRelationships()
		memory.SortRelationships(unions)

		out.People = make([]PersonBasic, 0, len(persons))
		for _, p := range persons {
			out.People = append(out.People, basicInfo(p))
		}
		out.Relationships = make([]UnionBasic, 0, len(unions))
		for _, r := range unions {
			children := make([]string, len(r.Children))
			copy(children, r.Children)
			out.Relationships = append(out.Relationships, UnionBasic{ID: r.ID, State: r.State, Husb: r.Husb, Wife: r.Wife, Children: children})
		}
		return nil
	})
	if err != nil {
		return TreeView{}, classify(err)
	}
	return out, nil
}

// GetPerson returns the full projection of one person.
func (s *Service) GetPerson(ctx context.Context, personID string) (PersonDetail, error) {
	var out PersonDetail
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		p, ok := view.FindPerson(personID)
		if !ok {
			return domain.NotFound(domain.EntityPerson, personID)
		}
		out.Person = p
		if p.HasOrigin() {
			if origin, ok := view.FindRelationship(*p.Origin); ok {
				out.Origin = &OriginView{
					ID:    origin.ID,
					State: origin.State,
					Husb:  lookupBasic(view, origin.Husb),
					Wife:  lookupBasic(view, origin.Wife),
				}
			}
		}
		out.Relationships = make([]SpouseUnionView, 0, len(p.Relationships))
		for _, rel := range spouseUnions(view, p) {
			spouseID, _ := rel.SpouseOf(p.ID)
			children := make([]PersonBasic, 0, len(rel.Children))
			for _, cid := range rel.Children {
				if c := lookupBasic(view, cid); c != nil {
					children = append(children, *c)
				}
			}
			out.Relationships = append(out.Relationships, SpouseUnionView{
				ID:           rel.ID,
				State:        rel.State,
				MarriageInfo: rel.MarriageInfo,
				Spouse:       lookupBasic(view, spouseID),
				Children:     children,
			})
		}
		return nil
	})
	if err != nil {
		return PersonDetail{}, classify(err)
	}
	return out, nil
}

// Snapshot returns a point-in-time copy of all records, ordered by creation.
func (s *Service) Snapshot(ctx context.Context) ([]Person, []Relationship, error) {
	var (
		persons []Person
		unions  []Relationship
	)
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		persons = view.ListPersons()
		memory.SortPersons(persons)
		unions = view.ListRelationships()
		memory.SortRelationships(unions)
		return nil
	})
	if err != nil {
		return nil, nil, classify(err)
	}
	return persons, unions, nil
}
