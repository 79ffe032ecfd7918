// Package sitecondition deterministically computes which site
// conditions apply at a location from an externally assembled world-data
// record. The evaluator performs no I/O: callers fetch world data, the
// evaluator maps it to (handle, applies, multiplier, alert) tuples. A
// missing source makes its handle not apply; it is never an error.
package sitecondition
