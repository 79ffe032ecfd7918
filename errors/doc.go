// Package errors provides the error classification the reactor's retry
// policy routes on. Errors are transient (temporary, retry with
// backoff), invalid (bad input or configuration, do not retry) or fatal
// (unrecoverable, stop the component). Wrap helpers add
// component/operation context in a uniform
// "component.method: action failed" form so log lines and error chains
// read the same everywhere.
package errors
