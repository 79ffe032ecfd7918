// Package retry provides bounded exponential backoff with jitter. The
// reactor queue uses it for Redis reconnects and empty-queue polling;
// the worker loop uses it for transient store failures.
package retry
