package core

import "coacore/pkg/domain"

// NewDefaultRulesEngine constructs the engine with the built-in workflow rules.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(StatusTransitionRule())
	return engine
}
