// Package dataset loads tabular survey data from disk and turns it into the
// validated sample designs the estimation core consumes.
//
// A Loader lists and reads datasets from a single data directory, caching
// decoded tables in a cost-bounded ristretto cache keyed by file name,
// modification time and size. CSV and xlsx files are supported; column types
// are inferred from the cell contents. BuildDesign then assembles a
// design.Design from a loaded table and the caller's column-role spec.
package dataset
