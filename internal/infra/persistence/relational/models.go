package relational

import (
	"time"

	"familytree/pkg/domain"
)

// PersonRow maps a person onto the persons table.
type PersonRow struct {
	ID         string  `gorm:"primaryKey;size:64"`
	FullName   string  `gorm:"not null"`
	Sex        string  `gorm:"size:16"`
	BirthDate  *string `gorm:"size:10"`
	BirthPlace string
	IsDead     bool    `gorm:"not null;default:false"`
	DeathDate  *string `gorm:"size:10"`
	DeathPlace string
	Address    string
	Email      string
	Phone      string
	OriginID   *string `gorm:"index;size:64"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName explicitly sets the table name for GORM.
func (PersonRow) TableName() string { return "persons" }

// RelationshipRow maps a union onto the relationships table.
type RelationshipRow struct {
	ID         string  `gorm:"primaryKey;size:64"`
	HusbID     string  `gorm:"index;size:64"`
	WifeID     string  `gorm:"index;size:64"`
	State      string  `gorm:"size:16;not null"`
	StartDate  *string `gorm:"size:10"`
	StartPlace string
	EndDate    *string `gorm:"size:10"`
	EndPlace   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName explicitly sets the table name for GORM.
func (RelationshipRow) TableName() string { return "relationships" }

// PersonRelationshipRow keeps the ordered set of unions a person is a spouse in.
type PersonRelationshipRow struct {
	PersonID       string `gorm:"primaryKey;size:64"`
	RelationshipID string `gorm:"primaryKey;size:64"`
	Position       int    `gorm:"not null"`
}

// TableName explicitly sets the table name for GORM.
func (PersonRelationshipRow) TableName() string { return "person_relationships" }

// RelationshipChildRow keeps the ordered children of a union.
type RelationshipChildRow struct {
	RelationshipID string `gorm:"primaryKey;size:64"`
	PersonID       string `gorm:"primaryKey;size:64"`
	Position       int    `gorm:"not null"`
}

// TableName explicitly sets the table name for GORM.
func (RelationshipChildRow) TableName() string { return "relationship_children" }

func dateColumn(d *domain.Date) *string {
	if d == nil || d.IsZero() {
		return nil
	}
	s := d.String()
	return &s
}

func parseDateColumn(s *string) (*domain.Date, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func personToRow(p domain.Person) PersonRow {
	row := PersonRow{
		ID:         p.ID,
		FullName:   p.FullName,
		Sex:        string(p.Sex),
		BirthDate:  dateColumn(p.Birth.Date),
		BirthPlace: p.Birth.Place,
		IsDead:     p.IsDead,
		DeathDate:  dateColumn(p.Death.Date),
		DeathPlace: p.Death.Place,
		Address:    p.Contact.Address,
		Email:      p.Contact.Email,
		Phone:      p.Contact.Phone,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	if p.HasOrigin() {
		origin := *p.Origin
		row.OriginID = &origin
	}
	return row
}

func rowToPerson(row PersonRow, relationships []string) (domain.Person, error) {
	birth, err := parseDateColumn(row.BirthDate)
	if err != nil {
		return domain.Person{}, err
	}
	death, err := parseDateColumn(row.DeathDate)
	if err != nil {
		return domain.Person{}, err
	}
	p := domain.Person{
		Base:     domain.Base{ID: row.ID, CreatedAt: row.CreatedAt.UTC(), UpdatedAt: row.UpdatedAt.UTC()},
		FullName: row.FullName,
		Sex:      domain.Sex(row.Sex),
		Birth:    domain.Event{Date: birth, Place: row.BirthPlace},
		IsDead:   row.IsDead,
		Death:    domain.Event{Date: death, Place: row.DeathPlace},
		Contact:  domain.Contact{Address: row.Address, Email: row.Email, Phone: row.Phone},
		Origin:   row.OriginID,
	}
	p.Relationships = append([]string{}, relationships...)
	return p, nil
}

func relationshipToRow(r domain.Relationship) RelationshipRow {
	return RelationshipRow{
		ID:         r.ID,
		HusbID:     r.Husb,
		WifeID:     r.Wife,
		State:      string(r.State),
		StartDate:  dateColumn(r.MarriageInfo.StartDate),
		StartPlace: r.MarriageInfo.StartPlace,
		EndDate:    dateColumn(r.MarriageInfo.EndDate),
		EndPlace:   r.MarriageInfo.EndPlace,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func rowToRelationship(row RelationshipRow, children []string) (domain.Relationship, error) {
	start, err := parseDateColumn(row.StartDate)
	if err != nil {
		return domain.Relationship{}, err
	}
	end, err := parseDateColumn(row.EndDate)
	if err != nil {
		return domain.Relationship{}, err
	}
	return domain.Relationship{
		Base:  domain.Base{ID: row.ID, CreatedAt: row.CreatedAt.UTC(), UpdatedAt: row.UpdatedAt.UTC()},
		Husb:  row.HusbID,
		Wife:  row.WifeID,
		State: domain.RelationshipState(row.State),
		MarriageInfo: domain.MarriageInfo{
			StartDate:  start,
			StartPlace: row.StartPlace,
			EndDate:    end,
			EndPlace:   row.EndPlace,
		},
		Children: append([]string{}, children...),
	}, nil
}
