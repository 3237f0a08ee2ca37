package estimator

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"surveykit/internal/design"
)

// statComputation is the point estimate of a statistic plus the per-unit
// linearized values whose weighted total carries the estimate's variance.
type statComputation struct {
	estimate float64
	// lin holds the linearized value of each unit; zero for units excluded
	// from the statistic, so they contribute nothing to the variance.
	lin []float64
	// valid counts units contributing to the statistic.
	valid int
	// excluded counts units dropped for missing values.
	excluded int
	// undefined marks a statistic with an estimated-zero denominator.
	undefined bool
}

// computeStatistic evaluates a statistic on a design. Columns are assumed to
// exist (validated at the call boundary). Units with missing values in any
// involved column are excluded and counted, never propagated as NaN.
func computeStatistic(d *design.Design, s Statistic) statComputation {
	n := d.Len()
	comp := statComputation{estimate: math.NaN(), lin: make([]float64, n)}
	y, _ := d.Numeric(s.Response)

	switch s.Kind {
	case Total:
		total := 0.0
		for i := 0; i < n; i++ {
			if math.IsNaN(y[i]) {
				comp.excluded++
				continue
			}
			total += d.Weight(i) * y[i]
			comp.lin[i] = y[i]
			comp.valid++
		}
		if comp.valid == 0 {
			return comp
		}
		comp.estimate = total

	case Mean:
		var sum, wsum float64
		for i := 0; i < n; i++ {
			if math.IsNaN(y[i]) {
				comp.excluded++
				continue
			}
			w := d.Weight(i)
			sum += w * y[i]
			wsum += w
			comp.valid++
		}
		if comp.valid == 0 {
			return comp
		}
		est := sum / wsum
		comp.estimate = est
		for i := 0; i < n; i++ {
			if !math.IsNaN(y[i]) {
				comp.lin[i] = (y[i] - est) / wsum
			}
		}

	case Ratio:
		x, _ := d.Numeric(s.Denominator)
		var ysum, xsum float64
		for i := 0; i < n; i++ {
			if math.IsNaN(y[i]) || math.IsNaN(x[i]) {
				comp.excluded++
				continue
			}
			w := d.Weight(i)
			ysum += w * y[i]
			xsum += w * x[i]
			comp.valid++
		}
		if comp.valid == 0 {
			return comp
		}
		if xsum == 0 {
			comp.undefined = true
			return comp
		}
		est := ysum / xsum
		comp.estimate = est
		for i := 0; i < n; i++ {
			if !math.IsNaN(y[i]) && !math.IsNaN(x[i]) {
				comp.lin[i] = (y[i] - est*x[i]) / xsum
			}
		}
	}
	return comp
}

// pointEstimate evaluates the statistic under an alternate weight vector.
// Used by the replicate loop; returns NaN when the replicate cannot form the
// statistic (no valid units, zero denominator).
func pointEstimate(d *design.Design, s Statistic, weights []float64) float64 {
	n := d.Len()
	y, _ := d.Numeric(s.Response)

	switch s.Kind {
	case Total:
		total := 0.0
		valid := 0
		for i := 0; i < n; i++ {
			if math.IsNaN(y[i]) {
				continue
			}
			total += weights[i] * y[i]
			valid++
		}
		if valid == 0 {
			return math.NaN()
		}
		return total

	case Mean:
		var sum, wsum float64
		for i := 0; i < n; i++ {
			if math.IsNaN(y[i]) {
				continue
			}
			sum += weights[i] * y[i]
			wsum += weights[i]
		}
		if wsum == 0 {
			return math.NaN()
		}
		return sum / wsum

	case Ratio:
		x, _ := d.Numeric(s.Denominator)
		var ysum, xsum float64
		for i := 0; i < n; i++ {
			if math.IsNaN(y[i]) || math.IsNaN(x[i]) {
				continue
			}
			ysum += weights[i] * y[i]
			xsum += weights[i] * x[i]
		}
		if xsum == 0 {
			return math.NaN()
		}
		return ysum / xsum
	}
	return math.NaN()
}

// psuGroups indexes every unit by stratum and PSU in first-appearance order,
// so that variance sums are deterministic across runs.
type psuGroups struct {
	stratumOf []int // unit -> stratum index
	psuOf     []int // unit -> PSU index within its stratum
	strata    []stratumInfo
}

type stratumInfo struct {
	id       string
	psuCount int
}

func groupPSUs(d *design.Design) *psuGroups {
	n := d.Len()
	g := &psuGroups{
		stratumOf: make([]int, n),
		psuOf:     make([]int, n),
	}
	stratumIdx := make(map[string]int)
	psuIdx := make(map[string]int) // stratum\x1fcluster -> index within stratum

	for i := 0; i < n; i++ {
		sid := d.Stratum(i)
		h, ok := stratumIdx[sid]
		if !ok {
			h = len(g.strata)
			stratumIdx[sid] = h
			g.strata = append(g.strata, stratumInfo{id: sid})
		}
		g.stratumOf[i] = h

		if !d.HasClusters() {
			// Every unit is its own PSU.
			g.psuOf[i] = g.strata[h].psuCount
			g.strata[h].psuCount++
			continue
		}
		ck := sid + keySep + d.Cluster(i)
		c, ok := psuIdx[ck]
		if !ok {
			c = g.strata[h].psuCount
			psuIdx[ck] = c
			g.strata[h].psuCount++
		}
		g.psuOf[i] = c
	}
	return g
}

// varianceInfo carries a design-based variance and the structure it came
// from: degrees of freedom (PSUs minus strata), how many strata exist, and
// how many of them had a single PSU and so contributed no variance term.
type varianceInfo struct {
	variance float64
	df       int
	strata   int
	lonely   int
}

// contributing counts strata that supplied a variance term.
func (v varianceInfo) contributing() int { return v.strata - v.lonely }

// totalVariance estimates Var(sum_i w_i * lin_i) under the design's
// stratified cluster structure: per stratum, n_h/(n_h-1) times the squared
// deviations of PSU totals, scaled by the finite population correction when
// one is attached.
func totalVariance(d *design.Design, lin []float64) varianceInfo {
	groups := groupPSUs(d)

	totals := make([][]float64, len(groups.strata))
	for h := range totals {
		totals[h] = make([]float64, groups.strata[h].psuCount)
	}
	for i := 0; i < d.Len(); i++ {
		totals[groups.stratumOf[i]][groups.psuOf[i]] += d.Weight(i) * lin[i]
	}

	info := varianceInfo{strata: len(groups.strata)}
	totalPSUs := 0
	for h, s := range groups.strata {
		nh := s.psuCount
		totalPSUs += nh
		if nh < 2 {
			info.lonely++
			continue
		}
		// n_h/(n_h-1) * sum (z - zbar)^2 == n_h * sample variance.
		v := float64(nh) * stat.Variance(totals[h], nil)
		if f, ok := d.StratumFraction(s.id); ok {
			v *= 1 - f
		}
		info.variance += v
	}
	info.df = totalPSUs - info.strata
	return info
}

// srsVariance estimates the variance the same linearized statistic would
// have under an equal-weight, unstratified, unclustered design of the same
// size. The deff denominator.
func srsVariance(d *design.Design, lin []float64) float64 {
	n := d.Len()
	if n < 2 {
		return math.NaN()
	}
	wbar := d.TotalWeight() / float64(n)
	return float64(n) * wbar * wbar * stat.Variance(lin, nil)
}

// tQuantile returns the two-sided Student-t critical value for the given
// degrees of freedom, or NaN when no degrees of freedom remain.
func tQuantile(df int, confidence float64) float64 {
	if df <= 0 {
		return math.NaN()
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	return dist.Quantile(0.5 + confidence/2)
}
