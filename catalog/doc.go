// Package catalog is the static metric registry. Each metric type owns
// a descriptor naming its dependencies (as key projections onto other
// metrics), its compute variants, and its configuration family. The
// registry is a flat arena indexed by the metric type discriminant and
// is validated for acyclicity when built.
//
// Compute functions are pure apart from the source-of-truth reads they
// declare through SourceReader; dependency metric values are loaded by
// the caller and handed in, so the same descriptor drives both the
// worker loop and diagnostic explain paths.
package catalog
