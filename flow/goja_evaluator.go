package flow

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

var _ ConditionEvaluator = new(GojaConditionEvaluator)

// GojaConditionEvaluator evaluates custom edge expressions as javascript
// with the run's data bound to $.
type GojaConditionEvaluator struct{}

func NewGojaConditionEvaluator() *GojaConditionEvaluator {
	return &GojaConditionEvaluator{}
}

func (GojaConditionEvaluator) Evaluate(expression string, runContext *RunContext) (bool, error) {
	data, err := json.Marshal(runContext.Data)
	if err != nil {
		return false, err
	}
	vm := goja.New()
	script := fmt.Sprintf("var $ = %s;\n%s", data, expression)
	value, err := vm.RunString(script)
	if err != nil {
		return false, fmt.Errorf("error evaluating expression %w", err)
	}
	return value.ToBoolean(), nil
}
