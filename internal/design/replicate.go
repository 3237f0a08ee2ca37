package design

import (
	"fmt"
	"math"
)

// ReplicateKind identifies how an attached replicate-weight set was built.
type ReplicateKind int

const (
	// BootstrapReplicates marks weights from a survey bootstrap generator.
	BootstrapReplicates ReplicateKind = iota
	// JackknifeReplicates marks delete-one-PSU weights.
	JackknifeReplicates
	// CustomReplicates marks an arbitrary externally supplied scheme.
	CustomReplicates
)

// String returns the replicate kind name.
func (k ReplicateKind) String() string {
	switch k {
	case BootstrapReplicates:
		return "bootstrap"
	case JackknifeReplicates:
		return "jackknife"
	case CustomReplicates:
		return "custom"
	default:
		return "unknown"
	}
}

// ReplicateScheme is a family of alternate weight vectors used for
// resampling variance estimation. Weights[r] holds the full per-unit weight
// vector of replicate r; Coefs[r] is the coefficient its squared deviation
// contributes to the variance sum.
type ReplicateScheme struct {
	Kind    ReplicateKind
	Weights [][]float64
	Coefs   []float64
}

// Len returns the number of replicates in the scheme.
func (s *ReplicateScheme) Len() int { return len(s.Weights) }

func (s *ReplicateScheme) validate(n int) error {
	if len(s.Weights) == 0 {
		return fmt.Errorf("design: replicate scheme has no replicates")
	}
	if len(s.Coefs) != len(s.Weights) {
		return fmt.Errorf("design: replicate scheme has %d coefficients for %d replicates", len(s.Coefs), len(s.Weights))
	}
	for r, w := range s.Weights {
		if len(w) != n {
			return fmt.Errorf("design: replicate %d has %d weights, want %d", r, len(w), n)
		}
		for i, v := range w {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return fmt.Errorf("design: replicate %d weight at row %d is %v, want finite and >= 0", r, i, v)
			}
		}
	}
	for r, c := range s.Coefs {
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
			return fmt.Errorf("design: replicate %d coefficient is %v, want finite and >= 0", r, c)
		}
	}
	return nil
}

func (s *ReplicateScheme) clone() *ReplicateScheme {
	out := &ReplicateScheme{
		Kind:    s.Kind,
		Weights: make([][]float64, len(s.Weights)),
		Coefs:   append([]float64(nil), s.Coefs...),
	}
	for r, w := range s.Weights {
		out.Weights[r] = append([]float64(nil), w...)
	}
	return out
}

func (s *ReplicateScheme) subset(idx []int) *ReplicateScheme {
	out := &ReplicateScheme{
		Kind:    s.Kind,
		Weights: make([][]float64, len(s.Weights)),
		Coefs:   append([]float64(nil), s.Coefs...),
	}
	for r, w := range s.Weights {
		sub := make([]float64, len(idx))
		for j, i := range idx {
			sub[j] = w[i]
		}
		out.Weights[r] = sub
	}
	return out
}
