package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"familytree/internal/infra/persistence/memory"
	"familytree/internal/temporal"
	"familytree/pkg/domain"
)

// Operation names used for logging, metrics, tracing and audit.
const (
	OpInitTree           = "init_tree"
	OpAddSpouse          = "add_spouse"
	OpAddChild           = "add_child"
	OpUpdatePerson       = "update_person"
	OpUpdateRelationship = "update_relationship"
	OpDeletePerson       = "delete_person"
)

// Service is the mutation engine. Every operation runs inside exactly one
// store transaction and either applies all of its writes or none.
type Service struct {
	store   domain.PersistentStore
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	now     func() time.Time
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Close releases the store.
func (s *Service) Close() error {
	return s.store.Close()
}

func (s *Service) run(ctx context.Context, op string, fn func(tx domain.Transaction) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	var entityID string
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		id, err := fn(tx)
		entityID = id
		return err
	})
	err = classify(err)
	elapsed := time.Since(started)

	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	entry := AuditEntry{Operation: op, Status: AuditStatusSuccess, EntityID: entityID, Duration: elapsed, At: s.now()}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)

	switch domain.KindOf(err) {
	case "":
		s.logger.Info("tree operation committed", "operation", op, "entity_id", entityID, "duration", elapsed)
	case domain.KindInternal:
		s.logger.Error("tree operation failed", "operation", op, "entity_id", entityID, "duration", elapsed, "error", err)
	default:
		s.logger.Warn("tree operation rejected", "operation", op, "entity_id", entityID,
			"kind", domain.KindOf(err), "reason", domain.ReasonOf(err), "error", err)
	}
	return err
}

// classify maps store and rule errors onto the domain taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var rv domain.RuleViolationError
	if errors.As(err, &rv) {
		v, _ := rv.Result.FirstBlocking()
		reason := v.Reason
		if reason == "" {
			reason = domain.ReasonRuleViolation
		}
		kind := domain.KindValidation
		if reason == domain.ReasonIllegalTransition || reason == domain.ReasonWidowedRequiresDeceased {
			kind = domain.KindConflict
		}
		return &domain.Error{Kind: kind, Reason: reason, Entity: v.Entity, ID: v.EntityID, Detail: fmt.Sprintf("%s: %s", v.Rule, v.Message), Err: err}
	}
	return domain.Internal(err, "store failure")
}

func errorCode(err error) domain.Reason {
	if r := domain.ReasonOf(err); r != "" {
		return r
	}
	return domain.Reason(domain.KindOf(err))
}

func normDate(d *Date) *Date {
	if d == nil || d.IsZero() {
		return nil
	}
	out := *d
	return &out
}

func normEvent(e Event) Event {
	return Event{Date: normDate(e.Date), Place: strings.TrimSpace(e.Place)}
}

func normMarriageInfo(m MarriageInfo) MarriageInfo {
	return MarriageInfo{
		StartDate:  normDate(m.StartDate),
		StartPlace: strings.TrimSpace(m.StartPlace),
		EndDate:    normDate(m.EndDate),
		EndPlace:   strings.TrimSpace(m.EndPlace),
	}
}

// buildPerson validates in and returns the person to create.
func (s *Service) buildPerson(in PersonInput) (Person, error) {
	p := Person{
		FullName: strings.TrimSpace(in.FullName),
		Sex:      in.Sex,
		Birth:    normEvent(in.Birth),
		IsDead:   in.IsDead,
		Contact:  in.Contact,
	}
	if p.IsDead {
		p.Death = normEvent(in.Death)
	}
	if p.FullName == "" {
		return Person{}, domain.Validation(domain.ReasonFullNameRequired, "full name is required")
	}
	if !p.Sex.Valid() {
		return Person{}, domain.Validation(domain.ReasonInvalidSex, fmt.Sprintf("sex must be male or female, got %q", p.Sex))
	}
	now := s.now()
	if err := temporal.First(
		temporal.NotInFuture(p.Birth.Date, now),
		temporal.NotInFuture(p.Death.Date, now),
		temporal.BirthBeforeDeath(p.Birth.Date, p.Death.Date),
	).Err(); err != nil {
		return Person{}, err
	}
	return p, nil
}

// buildUnion validates info for a union between husb and wife.
func buildUnion(info UnionInfo, husb, wife Person) (Relationship, error) {
	rel := Relationship{
		Husb:         husb.ID,
		Wife:         wife.ID,
		State:        info.State,
		MarriageInfo: normMarriageInfo(info.MarriageInfo),
	}
	if rel.State == "" {
		rel.State = domain.StateMarried
	}
	if !rel.State.Valid() {
		return Relationship{}, domain.Validation(domain.ReasonInvalidState, fmt.Sprintf("unknown relationship state %q", rel.State))
	}
	if rel.State.RequiresDeceasedSpouse() && !husb.IsDead && !wife.IsDead {
		return Relationship{}, domain.Conflict(domain.ReasonWidowedRequiresDeceased, "a widowed union needs a deceased spouse")
	}
	if err := temporal.UnionEndAfterStart(rel.MarriageInfo.StartDate, rel.MarriageInfo.EndDate).Err(); err != nil {
		return Relationship{}, err
	}
	return rel, nil
}

// link creates the union and records it on both spouses.
func link(tx domain.Transaction, rel Relationship) (Relationship, error) {
	created, err := tx.CreateRelationship(rel)
	if err != nil {
		return Relationship{}, err
	}
	for _, id := range []string{created.Husb, created.Wife} {
		if _, err := tx.UpdatePerson(id, func(p *Person) error {
			p.Relationships = append(p.Relationships, created.ID)
			return nil
		}); err != nil {
			return Relationship{}, err
		}
	}
	return created, nil
}

// InitTree creates the root couple of an empty tree.
func (s *Service) InitTree(ctx context.Context, grandFather, grandMother PersonInput, union UnionInfo) (InitTreeResult, error) {
	var out InitTreeResult
	err := s.run(ctx, OpInitTree, func(tx domain.Transaction) (string, error) {
		if err := CheckEmptyTree(tx); err != nil {
			return "", err
		}
		grandFather.Sex = domain.SexMale
		grandMother.Sex = domain.SexFemale
		gf, err := s.buildPerson(grandFather)
		if err != nil {
			return "", fmt.Errorf("grandfather: %w", err)
		}
		gm, err := s.buildPerson(grandMother)
		if err != nil {
			return "", fmt.Errorf("grandmother: %w", err)
		}
		rel, err := buildUnion(union, gf, gm)
		if err != nil {
			return "", err
		}
		if gf, err = tx.CreatePerson(gf); err != nil {
			return "", err
		}
		if gm, err = tx.CreatePerson(gm); err != nil {
			return "", err
		}
		rel.Husb, rel.Wife = gf.ID, gm.ID
		created, err := link(tx, rel)
		if err != nil {
			return "", err
		}
		out = InitTreeResult{RootRelationship: unionRef(created), GrandFather: personRef(gf), GrandMother: personRef(gm)}
		return created.ID, nil
	})
	return out, err
}

// AddSpouse creates a spouse for personID and the union joining them.
func (s *Service) AddSpouse(ctx context.Context, personID string, spouse PersonInput, union UnionInfo) (AddSpouseResult, error) {
	var out AddSpouseResult
	err := s.run(ctx, OpAddSpouse, func(tx domain.Transaction) (string, error) {
		person, ok := tx.FindPerson(personID)
		if !ok {
			return personID, domain.NotFound(domain.EntityPerson, personID)
		}
		sex, err := SpouseSex(person)
		if err != nil {
			return personID, err
		}
		if spouse.Sex != "" && spouse.Sex != sex {
			return personID, domain.Validation(domain.ReasonInvalidSex,
				fmt.Sprintf("spouse of a %s person must be %s, got %s", person.Sex, sex, spouse.Sex))
		}
		spouse.Sex = sex
		sp, err := s.buildPerson(spouse)
		if err != nil {
			return personID, fmt.Errorf("spouse: %w", err)
		}
		if sp, err = tx.CreatePerson(sp); err != nil {
			return personID, err
		}
		husb, wife, err := AssignSpouses(person, sp)
		if err != nil {
			return personID, err
		}
		rel, err := buildUnion(union, husb, wife)
		if err != nil {
			return personID, err
		}
		created, err := link(tx, rel)
		if err != nil {
			return personID, err
		}
		out = AddSpouseResult{Person: personRef(person), Spouse: personRef(sp), Relationship: unionRef(created)}
		return created.ID, nil
	})
	return out, err
}

// AddChild creates a child of the union and appends it to the union's children.
func (s *Service) AddChild(ctx context.Context, unionID string, child PersonInput) (AddChildResult, error) {
	var out AddChildResult
	err := s.run(ctx, OpAddChild, func(tx domain.Transaction) (string, error) {
		rel, ok := tx.FindRelationship(unionID)
		if !ok {
			return unionID, domain.NotFound(domain.EntityRelationship, unionID)
		}
		c, err := s.buildPerson(child)
		if err != nil {
			return unionID, fmt.Errorf("child: %w", err)
		}
		husb, _ := tx.FindPerson(rel.Husb)
		wife, _ := tx.FindPerson(rel.Wife)
		birth := c.Birth.Date
		if err := temporal.First(
			temporal.ChildAfterUnionStart(rel.MarriageInfo.StartDate, birth),
			temporal.FatherAliveAtBirth(husb.Death.Date, birth),
			temporal.MotherAliveAtBirth(wife.Death.Date, birth),
			temporal.ChildAfterPersonBirth(husb.Birth.Date, []*Date{birth}),
			temporal.ChildAfterPersonBirth(wife.Birth.Date, []*Date{birth}),
		).Err(); err != nil {
			return unionID, err
		}
		origin := rel.ID
		c.Origin = &origin
		if c, err = tx.CreatePerson(c); err != nil {
			return unionID, err
		}
		updated, err := tx.UpdateRelationship(rel.ID, func(r *Relationship) error {
			r.Children = append(r.Children, c.ID)
			return nil
		})
		if err != nil {
			return unionID, err
		}
		count := len(updated.Children)
		ref := unionRef(updated)
		ref.ChildrenCount = &count
		out = AddChildResult{Relationship: ref, Child: personRef(c)}
		return c.ID, nil
	})
	return out, err
}

func applyEventPatch(e Event, patch EventPatch) Event {
	if d, ok := patch.Date.Get(); ok {
		e.Date = normDate(d)
	}
	if place, ok := patch.Place.Get(); ok {
		e.Place = strings.TrimSpace(place)
	}
	return e
}

// suppliesDeath reports whether the patch carries a non-empty death date or place.
func (e EventPatch) suppliesDeath() bool {
	if d, ok := e.Date.Get(); ok && d != nil && !d.IsZero() {
		return true
	}
	place, ok := e.Place.Get()
	return ok && strings.TrimSpace(place) != ""
}

func applyPersonPatch(p Person, patch PersonPatch) (Person, error) {
	next := p
	if name, ok := patch.FullName.Get(); ok {
		next.FullName = strings.TrimSpace(name)
	}
	if sex, ok := patch.Sex.Get(); ok {
		next.Sex = sex
	}
	next.Birth = applyEventPatch(p.Birth, patch.Birth)
	if dead, ok := patch.IsDead.Get(); ok {
		next.IsDead = dead
	}
	if !next.IsDead && patch.Death.suppliesDeath() {
		return Person{}, domain.Validation(domain.ReasonDeathRequiresDeceased,
			fmt.Sprintf("person %s is not deceased; set isDead to record death details", p.ID))
	}
	next.Death = applyEventPatch(p.Death, patch.Death)
	if !next.IsDead {
		next.Death = Event{}
	}
	if v, ok := patch.Contact.Address.Get(); ok {
		next.Contact.Address = v
	}
	if v, ok := patch.Contact.Email.Get(); ok {
		next.Contact.Email = v
	}
	if v, ok := patch.Contact.Phone.Get(); ok {
		next.Contact.Phone = v
	}
	return next, nil
}

// checkPersonUpdate validates moving person from current to next.
func (s *Service) checkPersonUpdate(tx domain.Transaction, current, next Person) error {
	if next.FullName == "" {
		return domain.Validation(domain.ReasonFullNameRequired, "full name is required")
	}
	if next.Sex != current.Sex {
		if !next.Sex.Valid() {
			return domain.Validation(domain.ReasonInvalidSex, fmt.Sprintf("sex must be male or female, got %q", next.Sex))
		}
		if len(spouseUnions(tx, current)) > 0 {
			return domain.Validation(domain.ReasonSexLocked, fmt.Sprintf("person %s is a spouse; sex can no longer change", current.ID))
		}
	}
	now := s.now()
	verdicts := []temporal.Verdict{
		temporal.NotInFuture(next.Birth.Date, now),
		temporal.NotInFuture(next.Death.Date, now),
		temporal.BirthBeforeDeath(next.Birth.Date, next.Death.Date),
	}
	if !domain.SameDate(current.Birth.Date, next.Birth.Date) {
		if current.HasOrigin() {
			if origin, ok := tx.FindRelationship(*current.Origin); ok {
				father, _ := tx.FindPerson(origin.Husb)
				mother, _ := tx.FindPerson(origin.Wife)
				verdicts = append(verdicts,
					temporal.ChildAfterUnionStart(origin.MarriageInfo.StartDate, next.Birth.Date),
					temporal.FatherAliveAtBirth(father.Death.Date, next.Birth.Date),
					temporal.MotherAliveAtBirth(mother.Death.Date, next.Birth.Date),
				)
			}
		}
		verdicts = append(verdicts, temporal.ChildAfterPersonBirth(next.Birth.Date, childBirths(tx, current)))
	}
	if !domain.SameDate(current.Death.Date, next.Death.Date) {
		check := temporal.MotherAliveAtBirth
		if next.Sex == domain.SexMale {
			check = temporal.FatherAliveAtBirth
		}
		for _, birth := range childBirths(tx, current) {
			verdicts = append(verdicts, check(next.Death.Date, birth))
		}
	}
	if err := temporal.First(verdicts...).Err(); err != nil {
		return err
	}
	if current.IsDead && !next.IsDead {
		for _, rel := range spouseUnions(tx, current) {
			if !rel.State.RequiresDeceasedSpouse() {
				continue
			}
			otherID, _ := rel.SpouseOf(current.ID)
			if other, ok := tx.FindPerson(otherID); !ok || !other.IsDead {
				return domain.Conflict(domain.ReasonWidowedRequiresDeceased,
					fmt.Sprintf("reviving person %s would leave widowed relationship %s without a deceased spouse", current.ID, rel.ID))
			}
		}
	}
	return nil
}

// UpdatePerson applies a partial update to a person.
func (s *Service) UpdatePerson(ctx context.Context, personID string, patch PersonPatch) (Person, error) {
	var out Person
	err := s.run(ctx, OpUpdatePerson, func(tx domain.Transaction) (string, error) {
		current, ok := tx.FindPerson(personID)
		if !ok {
			return personID, domain.NotFound(domain.EntityPerson, personID)
		}
		next, err := applyPersonPatch(current, patch)
		if err != nil {
			return personID, err
		}
		if err := s.checkPersonUpdate(tx, current, next); err != nil {
			return personID, err
		}
		updated, err := tx.UpdatePerson(personID, func(p *Person) error {
			p.FullName = next.FullName
			p.Sex = next.Sex
			p.Birth = next.Birth
			p.IsDead = next.IsDead
			p.Death = next.Death
			p.Contact = next.Contact
			return nil
		})
		if err != nil {
			return personID, err
		}
		out = updated
		return personID, nil
	})
	return out, err
}

func applyRelationshipPatch(r Relationship, patch RelationshipPatch) Relationship {
	next := r
	if state, ok := patch.State.Get(); ok {
		next.State = state
	}
	m := patch.MarriageInfo
	if d, ok := m.StartDate.Get(); ok {
		next.MarriageInfo.StartDate = normDate(d)
	}
	if v, ok := m.StartPlace.Get(); ok {
		next.MarriageInfo.StartPlace = strings.TrimSpace(v)
	}
	if d, ok := m.EndDate.Get(); ok {
		next.MarriageInfo.EndDate = normDate(d)
	}
	if v, ok := m.EndPlace.Get(); ok {
		next.MarriageInfo.EndPlace = strings.TrimSpace(v)
	}
	return next
}

// UpdateRelationship applies a partial update to a union.
func (s *Service) UpdateRelationship(ctx context.Context, unionID string, patch RelationshipPatch) (Relationship, error) {
	var out Relationship
	err := s.run(ctx, OpUpdateRelationship, func(tx domain.Transaction) (string, error) {
		current, ok := tx.FindRelationship(unionID)
		if !ok {
			return unionID, domain.NotFound(domain.EntityRelationship, unionID)
		}
		next := applyRelationshipPatch(current, patch)
		if patch.State.Set {
			if err := CheckStateTransition(tx, current, next.State); err != nil {
				return unionID, err
			}
		}
		verdicts := []temporal.Verdict{temporal.UnionEndAfterStart(next.MarriageInfo.StartDate, next.MarriageInfo.EndDate)}
		if !domain.SameDate(current.MarriageInfo.StartDate, next.MarriageInfo.StartDate) {
			verdicts = append(verdicts, temporal.NoChildBeforeUnionStart(unionChildBirths(tx, current), next.MarriageInfo.StartDate))
		}
		if err := temporal.First(verdicts...).Err(); err != nil {
			return unionID, err
		}
		updated, err := tx.UpdateRelationship(unionID, func(r *Relationship) error {
			r.State = next.State
			r.MarriageInfo = next.MarriageInfo
			return nil
		})
		if err != nil {
			return unionID, err
		}
		out = updated
		return unionID, nil
	})
	return out, err
}

// DeletePerson removes a person together with the childless unions they are
// a spouse in, and detaches them from their origin.
func (s *Service) DeletePerson(ctx context.Context, personID string) (DeletionSummary, error) {
	var out DeletionSummary
	err := s.run(ctx, OpDeletePerson, func(tx domain.Transaction) (string, error) {
		person, ok := tx.FindPerson(personID)
		if !ok {
			return personID, domain.NotFound(domain.EntityPerson, personID)
		}
		if err := CheckDeletable(tx, person); err != nil {
			return personID, err
		}
		summary := DeletionSummary{Person: PersonRef{ID: person.ID, FullName: person.FullName}, Relationships: []DeletedUnion{}}
		for _, rel := range spouseUnions(tx, person) {
			spouseID, _ := rel.SpouseOf(person.ID)
			spouse, ok := tx.FindPerson(spouseID)
			if ok {
				if _, err := tx.UpdatePerson(spouseID, func(p *Person) error {
					p.Relationships = slices.DeleteFunc(p.Relationships, func(id string) bool { return id == rel.ID })
					return nil
				}); err != nil {
					return personID, err
				}
			}
			if err := tx.DeleteRelationship(rel.ID); err != nil {
				return personID, err
			}
			summary.Relationships = append(summary.Relationships, DeletedUnion{
				ID:          rel.ID,
				Type:        "spouse",
				OtherSpouse: PersonRef{ID: spouseID, FullName: spouse.FullName},
			})
		}
		if person.HasOrigin() {
			originID := *person.Origin
			if _, ok := tx.FindRelationship(originID); ok {
				if _, err := tx.UpdateRelationship(originID, func(r *Relationship) error {
					r.Children = slices.DeleteFunc(r.Children, func(id string) bool { return id == person.ID })
					return nil
				}); err != nil {
					return personID, err
				}
			}
			summary.Origin = &OriginRef{RelationshipID: originID}
		}
		if err := tx.DeletePerson(person.ID); err != nil {
			return personID, err
		}
		summary.AffectedRecords = AffectedRecords{Persons: 1, Relationships: len(summary.Relationships)}
		out = summary
		return personID, nil
	})
	return out, err
}
