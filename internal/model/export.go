package model

import (
	"encoding/json"
	"strconv"
)

// EvaluationExport maps a question order to the answers of completed sessions.
type EvaluationExport map[int][]int

// MarshalJSON writes the export as an object keyed by stringified order.
// Orders without answers are written as empty arrays, never null.
func (e EvaluationExport) MarshalJSON() ([]byte, error) {
	out := make(map[string][]int, len(e))
	for order, answers := range e {
		if answers == nil {
			answers = []int{}
		}
		out[strconv.Itoa(order)] = answers
	}
	return json.Marshal(out)
}
