package domain

// unionTransitions lists the legal outgoing transitions per state. Terminal
// states map to an empty set.
var unionTransitions = map[RelationshipState]map[RelationshipState]struct{}{
	StateMarried: {
		StateDivorced: {},
		StateWidowed:  {},
	},
	StateDivorced: {},
	StateWidowed:  {},
}

// Valid reports whether s is a known union state.
func (s RelationshipState) Valid() bool {
	_, ok := unionTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s RelationshipState) Terminal() bool {
	next, ok := unionTransitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether moving from s to next is legal. Staying in
// the same state is always permitted for valid states.
func (s RelationshipState) CanTransitionTo(next RelationshipState) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	_, ok := unionTransitions[s][next]
	return ok
}

// RequiresDeceasedSpouse reports whether entering s needs a deceased spouse.
func (s RelationshipState) RequiresDeceasedSpouse() bool {
	return s == StateWidowed
}
