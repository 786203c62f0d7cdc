package flow

import (
	"fmt"

	"github.com/flowmason/flowmason/model"
)

type InvalidTransitionError struct {
	RunId  string
	From   model.RunState
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("can not %s run %s in state %s", e.Action, e.RunId, e.From)
}
