// Package estimator computes design-based population estimates from complex
// survey samples: weighted totals, means, and ratios per domain, each with a
// standard error, confidence interval, and design effect, under a selection
// of variance methods (Taylor linearization, survey bootstrap, delete-one-PSU
// jackknife, or a caller-supplied replicate-weight scheme).
//
// The package is layered the way the estimates flow:
//
//   - Backend is the variance machine: one statistic, one design, one method,
//     with guaranteed fallback to linearization when a resampling method
//     cannot be constructed. The method actually executed is always recorded
//     separately from the method requested.
//   - DomainEstimator partitions a design by grouping columns, drives the
//     Backend once per domain, and joins per-domain sample counts to
//     per-domain estimates strictly by group key, never by position.
//   - RatioEstimator forms rate statistics (ratio of sums, or mean of
//     per-unit ratios) with explicit zero/negative-exposure cleaning before
//     delegating to DomainEstimator.
//   - EstimateProduct combines two result tables into a derived product
//     estimate with delta-method variance propagation.
//   - Decompose splits a two-stage variance into within- and among-unit
//     components for diagnostic use.
//
// Estimation degrades, it does not crash: data problems (empty domains,
// zero-exposure units, lonely PSUs, dropped replicates) surface as
// count-bearing diagnostics on the affected rows while the rest of the table
// computes normally. Only configuration mistakes (unknown columns, reserved
// column collisions, invalid confidence levels or correlations) abort a call,
// as *ConfigError.
package estimator
