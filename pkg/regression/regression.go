// Package regression fits the probe burst's recorded memory-bandwidth
// utilization against the commanded probe frequency, selecting between a
// single line and a two-segment fold-line model per device (§4.5).
package regression

import "math"

// Line is a least-squares fit y = Slope*x + Intercept together with its
// summed squared residual.
type Line struct {
	Slope     float64
	Intercept float64
	Err       float64
}

// OLS performs ordinary least squares on n points (x[k], y[k]).
func OLS(x, y []float64) Line {
	n := float64(len(x))
	var sumx, sumxsq, sumy, sumxy, sumysq float64
	for k := range x {
		sumx += x[k]
		sumxsq += x[k] * x[k]
		sumy += y[k]
		sumxy += x[k] * y[k]
		sumysq += y[k] * y[k]
	}
	div := n*sumxsq - sumx*sumx
	a := (n*sumxy - sumx*sumy) / div
	b := (sumy*sumxsq - sumx*sumxy) / div
	err := sumysq + a*a*sumxsq + n*b*b - 2*a*sumxy - 2*b*sumy + 2*a*b*sumx
	return Line{Slope: a, Intercept: b, Err: err}
}

// FoldLine is a two-segment model: Line1 fits the probe points below the
// turn index, Line2 the rest. When Foldline solved it, the two lines meet at
// its knee xc by construction (H != 0).
type FoldLine struct {
	Line1, Line2 Line
	Err          float64
	Degenerate   bool // H == 0: the 3x3 system was singular, fit is unusable
}

// Foldline fits two lines meeting at x == xc (Cramer's rule on the 3x3
// normal-equations system for shared intercept continuity), given the two
// point groups already partitioned by the candidate turn index.
func Foldline(xc float64, x1, y1, x2, y2 []float64) FoldLine {
	var sum1x, sum1y, sum1xsq, sum1xy float64
	for i := range x1 {
		sum1x += x1[i]
		sum1y += y1[i]
		sum1xsq += x1[i] * x1[i]
		sum1xy += x1[i] * y1[i]
	}
	var sum2x, sum2y, sum2xsq, sum2xy float64
	for j := range x2 {
		sum2x += x2[j]
		sum2y += y2[j]
		sum2xsq += x2[j] * x2[j]
		sum2xy += x2[j] * y2[j]
	}
	n1 := float64(len(x1))
	n2 := float64(len(x2))
	n := n1 + n2

	c11 := sum1xsq + n2*xc*xc
	c12 := xc*sum2x - n2*xc*xc
	c13 := sum1x + xc*n2
	c14 := -sum1xy - sum2y*xc
	c21 := xc*sum2x - n2*xc*xc
	c22 := sum2xsq - 2*xc*sum2x + n2*xc*xc
	c23 := sum2x - n2*xc
	c24 := -sum2xy + xc*sum2y
	c31 := sum1x + n2*xc
	c32 := sum2x - n2*xc
	c33 := n
	c34 := -sum1y - sum2y

	h := c11*c22*c33 + c12*c23*c31 + c21*c32*c13 - c13*c22*c31 - c12*c21*c33 - c11*c23*c32
	if h == 0 {
		return FoldLine{Degenerate: true, Err: math.MaxFloat64}
	}

	a1 := -(c14*c22*c33 + c12*c23*c34 + c13*c24*c32 - c13*c22*c34 - c12*c24*c33 - c23*c32*c14) / h
	a2 := -(c11*c24*c33 + c21*c34*c13 + c14*c23*c31 - c13*c31*c24 - c11*c23*c34 - c33*c14*c21) / h
	b1 := -(c11*c22*c34 + c21*c32*c14 + c12*c24*c31 - c22*c14*c31 - c12*c21*c34 - c11*c32*c24) / h
	b2 := xc*(a1-a2) + b1

	var errSum float64
	for i := range x1 {
		d := a1*x1[i] + b1 - y1[i]
		errSum += d * d
	}
	for j := range x2 {
		d := a2*x2[j] + b2 - y2[j]
		errSum += d * d
	}
	return FoldLine{
		Line1: Line{Slope: a1, Intercept: b1},
		Line2: Line{Slope: a2, Intercept: b2},
		Err:   errSum,
	}
}

// Model is the regression engine's verdict for one device's probe burst: the
// single-line fit, or the chosen fold-line fit and its turn index, plus
// whether any model passed the residual-error acceptance threshold.
type Model struct {
	Skip bool // true: regression error too large for every candidate, discard

	Turn int // 0 means the single-line model won; otherwise 2..k-2

	Single Line
	Fold   FoldLine
}

// Fit selects the best model for one device's burst: first a single OLS fit
// over every (freq, util) pair, then every valid two-segment fold-line
// partition (turn in [2, k-2]), keeping whichever has the lowest summed
// squared residual among candidates where slope1 > slope2 (concave) or,
// for the single line, unconditionally. freqs is the probe set P (length
// k); samples[j] holds the r utilization readings recorded at freqs[j]
// (already de-interleaved from the burst's zig-zag order). errThreshold is
// regErrThres*(k*r), the acceptance bound on the winning model's error.
func Fit(freqs []int, samples [][]float64, errThreshold float64) Model {
	k := len(freqs)
	r := len(samples[0])
	n := k * r

	x := make([]float64, 0, n)
	y := make([]float64, 0, n)
	for j, f := range freqs {
		for _, v := range samples[j] {
			x = append(x, float64(f))
			y = append(y, v)
		}
	}
	best := Model{Turn: 0, Single: OLS(x, y)}
	bestErr := best.Single.Err

	for turn := 2; turn <= k-2; turn++ {
		var x1, y1, x2, y2 []float64
		for j, f := range freqs {
			for _, v := range samples[j] {
				if j < turn {
					x1 = append(x1, float64(f))
					y1 = append(y1, v)
				} else {
					x2 = append(x2, float64(f))
					y2 = append(y2, v)
				}
			}
		}
		l1 := OLS(x1, y1)
		l2 := OLS(x2, y2)

		var fl FoldLine
		var crossErr float64
		if l2.Slope != l1.Slope {
			freqCross := (l1.Intercept - l2.Intercept) / (l2.Slope - l1.Slope)
			if freqCross >= float64(freqs[turn-1]) && freqCross <= float64(freqs[turn]) {
				fl = FoldLine{Line1: l1, Line2: l2, Err: l1.Err + l2.Err}
				crossErr = fl.Err
			} else {
				fl = Foldline(float64(freqs[turn-1]), x1, y1, x2, y2)
				crossErr = fl.Err
			}
		} else {
			fl = Foldline(float64(freqs[turn-1]), x1, y1, x2, y2)
			crossErr = fl.Err
		}

		if fl.Degenerate {
			continue
		}
		if fl.Line1.Slope <= fl.Line2.Slope {
			// theoretically impossible for a genuine performance curve; discard.
			continue
		}
		if crossErr < bestErr {
			bestErr = crossErr
			best = Model{Turn: turn, Fold: fl}
		}
	}

	if bestErr > errThreshold {
		best.Skip = true
	}
	return best
}
