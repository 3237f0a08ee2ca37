// Package exporter flattens estimation result tables into CSV files and
// Excel workbooks. Column order is stable: group-key columns in
// caller-declared order, then the statistic columns, then diagnostics.
// Undefined numeric values export as empty cells.
package exporter
