// Package design holds the immutable representation of a complex survey
// sample: per-unit sampling weights, optional stratum and cluster (primary
// sampling unit) labels, optional per-stratum finite population corrections,
// arbitrary numeric measure columns, arbitrary label columns used for domain
// grouping, and an optional set of replicate weights for resampling variance
// estimation.
//
// A Design is constructed once from a validated Frame and never mutated.
// Operations that need to attach derived data (for example a synthesized
// per-unit ratio column) return a new Design value; operations that need a
// sub-population return a new Design restricted to the selected rows. This
// keeps a Design safe to share across concurrent estimation calls.
package design
