package riskmodel

import "errors"

// asErr keeps the standard library errors import out of every call site.
func asErr(err error, target any) bool {
	return errors.As(err, target)
}

// IsAtRisk is the read-side predicate flagging contractors, supervisors
// and crews whose score sits more than one standard deviation above the
// tenant average. Any undefined operand yields false; the predicate is
// pure and never errors.
func IsAtRisk(score, average, stddev *float64) bool {
	if score == nil || average == nil || stddev == nil {
		return false
	}
	return *score > *average+*stddev
}
