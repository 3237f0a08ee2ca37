package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"surveykit/internal/design"
)

var errInsufficientReplicates = errors.New("insufficient usable replicates")

// replicateSource yields replicate weight vectors one at a time. Generated
// sources build each vector on demand, so a large replicate set is never
// materialized in full.
type replicateSource interface {
	count() int
	// weightsInto fills dst (length = design size) with replicate r's
	// weight vector. Deterministic per r.
	weightsInto(r int, dst []float64)
	// coef returns the variance coefficient of replicate r.
	coef(r int) float64
	// finalize converts the coefficient-weighted sum of squared deviations
	// over the usable replicates into the variance estimate.
	finalize(sumSq float64, usable int) float64
}

// replicateVariance runs the statistic once per replicate and accumulates
// squared deviations from the full-sample estimate. Replicates that cannot
// form a finite estimate are dropped and counted.
func replicateVariance(ctx context.Context, d *design.Design, s Statistic, full float64, src replicateSource) (variance float64, usable, dropped int, err error) {
	buf := make([]float64, d.Len())
	sumSq := 0.0
	for r := 0; r < src.count(); r++ {
		if err := ctx.Err(); err != nil {
			return 0, usable, dropped, err
		}
		src.weightsInto(r, buf)
		est := pointEstimate(d, s, buf)
		if math.IsNaN(est) || math.IsInf(est, 0) {
			dropped++
			continue
		}
		dev := est - full
		sumSq += src.coef(r) * dev * dev
		usable++
	}
	if usable < MinUsableReplicates {
		return 0, usable, dropped, errInsufficientReplicates
	}
	return src.finalize(sumSq, usable), usable, dropped, nil
}

// schemeSource serves replicate weights attached to the design.
type schemeSource struct {
	scheme *design.ReplicateScheme
}

func (s *schemeSource) count() int           { return s.scheme.Len() }
func (s *schemeSource) coef(r int) float64   { return s.scheme.Coefs[r] }
func (s *schemeSource) weightsInto(r int, dst []float64) {
	copy(dst, s.scheme.Weights[r])
}
func (s *schemeSource) finalize(sumSq float64, _ int) float64 { return sumSq }

// bootstrapSource generates Rao-Wu-Yue rescaling bootstrap replicates:
// within each stratum, n_h-1 PSUs are drawn with replacement and every
// unit's weight is scaled by its PSU's draw count times n_h/(n_h-1). With
// that rescaling the variance is the plain mean of squared deviations over
// the replicates.
type bootstrapSource struct {
	d      *design.Design
	groups *psuGroups
	reps   int
	seed   int64
}

func newBootstrapSource(d *design.Design, reps int, seed int64) (*bootstrapSource, error) {
	groups := groupPSUs(d)
	for _, info := range groups.strata {
		if info.psuCount < 2 {
			return nil, &constructError{
				method: Bootstrap,
				reason: fmt.Sprintf("stratum %q has a single PSU", info.id),
			}
		}
	}
	return &bootstrapSource{d: d, groups: groups, reps: reps, seed: seed}, nil
}

func (s *bootstrapSource) count() int         { return s.reps }
func (s *bootstrapSource) coef(int) float64   { return 1 }
func (s *bootstrapSource) finalize(sumSq float64, usable int) float64 {
	return sumSq / float64(usable)
}

func (s *bootstrapSource) weightsInto(r int, dst []float64) {
	// Seeded per replicate: the vector for replicate r does not depend on
	// which replicates were generated before it.
	rng := rand.New(rand.NewSource(s.seed + int64(r) + 1))

	mult := make([][]float64, len(s.groups.strata))
	for h, info := range s.groups.strata {
		nh := info.psuCount
		times := make([]int, nh)
		for k := 0; k < nh-1; k++ {
			times[rng.Intn(nh)]++
		}
		scale := float64(nh) / float64(nh-1)
		mult[h] = make([]float64, nh)
		for c, t := range times {
			mult[h][c] = float64(t) * scale
		}
	}
	for i := 0; i < s.d.Len(); i++ {
		dst[i] = s.d.Weight(i) * mult[s.groups.stratumOf[i]][s.groups.psuOf[i]]
	}
}

// jackknifeSource generates delete-one-PSU (JKn) replicates: one replicate
// per PSU, zeroing that PSU's units and scaling the rest of its stratum by
// n_h/(n_h-1), with variance coefficient (n_h-1)/n_h per replicate.
type jackknifeSource struct {
	d          *design.Design
	groups     *psuGroups
	repStratum []int
	repPSU     []int
}

func newJackknifeSource(d *design.Design) (*jackknifeSource, error) {
	groups := groupPSUs(d)
	src := &jackknifeSource{d: d, groups: groups}
	for h, info := range groups.strata {
		if info.psuCount < 2 {
			return nil, &constructError{
				method: Jackknife,
				reason: fmt.Sprintf("stratum %q has a single PSU", info.id),
			}
		}
		for c := 0; c < info.psuCount; c++ {
			src.repStratum = append(src.repStratum, h)
			src.repPSU = append(src.repPSU, c)
		}
	}
	return src, nil
}

func (s *jackknifeSource) count() int { return len(s.repStratum) }

func (s *jackknifeSource) coef(r int) float64 {
	nh := float64(s.groups.strata[s.repStratum[r]].psuCount)
	return (nh - 1) / nh
}

func (s *jackknifeSource) finalize(sumSq float64, _ int) float64 { return sumSq }

func (s *jackknifeSource) weightsInto(r int, dst []float64) {
	h := s.repStratum[r]
	c := s.repPSU[r]
	nh := float64(s.groups.strata[h].psuCount)
	scale := nh / (nh - 1)
	for i := 0; i < s.d.Len(); i++ {
		w := s.d.Weight(i)
		switch {
		case s.groups.stratumOf[i] != h:
			dst[i] = w
		case s.groups.psuOf[i] == c:
			dst[i] = 0
		default:
			dst[i] = w * scale
		}
	}
}
