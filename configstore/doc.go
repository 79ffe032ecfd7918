// Package configstore persists tenant-scoped configuration for the risk
// model under the reserved RISK_MODEL.* namespace. Each name has at most
// one row per tenant plus at most one tenant-less default row; lookup
// resolves tenant first, then default, then the compiled-in default a
// spec may declare. Scalar values coerce from their string form, nested
// values parse from JSON with unknown fields ignored for forward
// compatibility.
package configstore
