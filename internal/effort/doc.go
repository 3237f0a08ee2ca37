// Package effort expands boundary counts of fishing activity into effort
// values, one per counting protocol: instantaneous counts, progressive
// (roving) counts, bus-route counts and aerial counts.
//
// The expanded values feed the estimation core as an ordinary numeric
// column; a Total over them estimates total effort for the covered window,
// which a product run then combines with a catch-rate estimate.
package effort
