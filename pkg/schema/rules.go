package schema

import (
	"errors"
	"fmt"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// ErrRuleViolated is wrapped by validation errors raised by rules.
var ErrRuleViolated = errors.New("rule violated")

type rule struct {
	source  string
	program *vm.Program
	actions []types.ChangeAction
	deref   func(any) any
}

func (r *rule) check(entity any, action types.ChangeAction) error {
	if len(r.actions) > 0 && !slices.Contains(r.actions, action) {
		return nil
	}
	out, err := expr.Run(r.program, r.deref(entity))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if ok, _ := out.(bool); !ok {
		return ErrRuleViolated
	}
	return nil
}

// Rule adds a boolean expression evaluated against the entity's exported
// fields before the listed actions (all actions when none are given), for
// example `Price >= 0 && len(Name) > 0`. Compile errors are reported by
// Model.Build.
func (t *Table[T]) Rule(source string, actions ...types.ChangeAction) *Table[T] {
	var env T
	program, err := expr.Compile(source, expr.Env(env), expr.AsBool())
	if err != nil {
		t.mt.model.fail("%s: rule %q: %w", t.mt.name, source, err)
		return t
	}
	t.mt.rules = append(t.mt.rules, &rule{
		source:  source,
		program: program,
		actions: actions,
		deref:   func(e any) any { return *(e.(*T)) },
	})
	return t
}
