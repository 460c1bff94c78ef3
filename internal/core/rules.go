package core

import "familytree/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in lineage policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(LineageIntegrityRule())
	engine.Register(SexComplementarityRule())
	engine.Register(UnionStateTransitionRule())
	return engine
}
