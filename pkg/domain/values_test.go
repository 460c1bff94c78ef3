package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseDateFormats(t *testing.T) {
	got, err := ParseDate("1950-06-01")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	if !got.Equal(NewDate(1950, time.June, 1)) {
		t.Fatalf("unexpected date %s", got)
	}
	ts, err := ParseDate("1950-06-01T10:00:00+02:00")
	if err != nil {
		t.Fatalf("parse rfc3339: %v", err)
	}
	if ts.Time().Location() != time.UTC || ts.Time().Hour() != 8 {
		t.Fatalf("expected UTC normalisation, got %v", ts.Time())
	}
	if _, err := ParseDate("01/06/1950"); err == nil {
		t.Fatalf("expected invalid format error")
	}
}

func TestDateJSON(t *testing.T) {
	var ev Event
	if err := json.Unmarshal([]byte(`{"date":"2001-02-03","place":"Lviv"}`), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Date == nil || ev.Date.Year() != 2001 {
		t.Fatalf("unexpected event %+v", ev)
	}
	out, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"date":"2001-02-03","place":"Lviv"}` {
		t.Fatalf("unexpected json %s", out)
	}
	if !SameDate(nil, nil) || SameDate(ev.Date, nil) || !SameDate(ev.Date, MustDate("2001-02-03").Ptr()) {
		t.Fatalf("SameDate mismatch")
	}
}

func TestOptionalDistinguishesAbsentFromNull(t *testing.T) {
	type patch struct {
		Name  Optional[string] `json:"name"`
		Death Optional[*Date]  `json:"death"`
		Dead  Optional[bool]   `json:"dead"`
	}
	var p patch
	if err := json.Unmarshal([]byte(`{"death":null,"dead":true}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Name.Set {
		t.Fatalf("absent field must stay unset")
	}
	if v, ok := p.Death.Get(); !ok || v != nil {
		t.Fatalf("null must be set with zero value, got %v %v", v, ok)
	}
	if !p.Dead.Or(false) {
		t.Fatalf("expected dead=true")
	}
	if Some("x").Or("y") != "x" {
		t.Fatalf("Some should be set")
	}
}

func TestSexOpposite(t *testing.T) {
	if s, ok := SexMale.Opposite(); !ok || s != SexFemale {
		t.Fatalf("male opposite mismatch")
	}
	if s, ok := SexFemale.Opposite(); !ok || s != SexMale {
		t.Fatalf("female opposite mismatch")
	}
	if _, ok := Sex("").Opposite(); ok {
		t.Fatalf("unset sex has no opposite")
	}
	if Sex("other").Valid() {
		t.Fatalf("unexpected valid sex")
	}
}

func TestUnionStateMachine(t *testing.T) {
	cases := []struct {
		from, to RelationshipState
		ok       bool
	}{
		{StateMarried, StateDivorced, true},
		{StateMarried, StateWidowed, true},
		{StateMarried, StateMarried, true},
		{StateDivorced, StateDivorced, true},
		{StateDivorced, StateMarried, false},
		{StateDivorced, StateWidowed, false},
		{StateWidowed, StateMarried, false},
		{StateWidowed, StateDivorced, false},
		{StateMarried, "engaged", false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
	if StateMarried.Terminal() || !StateDivorced.Terminal() || !StateWidowed.Terminal() {
		t.Fatalf("terminal states mismatch")
	}
	if !StateWidowed.RequiresDeceasedSpouse() || StateDivorced.RequiresDeceasedSpouse() {
		t.Fatalf("widowed precondition mismatch")
	}
}

func TestRelationshipSpouseHelpers(t *testing.T) {
	r := Relationship{Husb: "h", Wife: "w"}
	if !r.HasSpouse("h") || r.HasSpouse("x") || r.HasSpouse("") {
		t.Fatalf("HasSpouse mismatch")
	}
	if other, ok := r.SpouseOf("w"); !ok || other != "h" {
		t.Fatalf("SpouseOf mismatch")
	}
	if _, ok := r.SpouseOf("x"); ok {
		t.Fatalf("expected no spouse for stranger")
	}
	origin := ""
	if (Person{Origin: &origin}).HasOrigin() {
		t.Fatalf("empty origin must not count")
	}
}

func TestErrorClassification(t *testing.T) {
	nf := NotFound(EntityPerson, "p1")
	wrapped := fmt.Errorf("add spouse: %w", nf)
	if KindOf(wrapped) != KindNotFound || !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("expected not found classification")
	}
	conflict := Conflict(ReasonIllegalTransition, "divorced is terminal")
	if !errors.Is(conflict, &Error{Kind: KindConflict, Reason: ReasonIllegalTransition}) {
		t.Fatalf("expected reason match")
	}
	if errors.Is(conflict, &Error{Kind: KindConflict, Reason: ReasonWriteConflict}) {
		t.Fatalf("unexpected reason match")
	}
	cause := errors.New("disk")
	internal := Internal(cause, "persist")
	if !errors.Is(internal, cause) || KindOf(internal) != KindInternal {
		t.Fatalf("expected internal wrapping")
	}
	if KindOf(errors.New("plain")) != KindInternal || KindOf(nil) != "" {
		t.Fatalf("unexpected fallback classification")
	}
	if ReasonOf(Validation(ReasonSexLocked, "x")) != ReasonSexLocked {
		t.Fatalf("expected reason")
	}
}
