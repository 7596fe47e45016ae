package service

import "math"

// Small statistical helpers shared by the credibility engine and the
// pattern gate. Nothing here is domain-aware.

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// linearRegression fits y = slope*x + intercept by least squares and
// returns the fit's r-squared. Degenerate inputs (fewer than two points,
// zero x-variance) yield a flat line with r2 = 0.
func linearRegression(xs, ys []float64) (slope, intercept, r2 float64) {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0, mean(ys), 0
	}

	mx, my := mean(xs), mean(ys)
	var sxx, sxy, syy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 {
		return 0, my, 0
	}

	slope = sxy / sxx
	intercept = my - slope*mx
	if syy == 0 {
		return slope, intercept, 0
	}
	r2 = (sxy * sxy) / (sxx * syy)
	return slope, intercept, r2
}

// pearson computes the correlation between predicted and observed series.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var sxx, sxy, syy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// correlationPValue is the two-sided p-value for the null hypothesis of no
// correlation, via the t-statistic on r with a normal approximation to the
// t distribution. Good enough at the sample sizes the gate requires.
func correlationPValue(r float64, n int) float64 {
	if n < 3 {
		return 1
	}
	if r >= 1 || r <= -1 {
		return 0
	}
	t := r * math.Sqrt(float64(n-2)/(1-r*r))
	return 2 * (1 - normalCDF(math.Abs(t)))
}

func normalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// proportionCI is the normal-approximation confidence interval for an
// accuracy estimate, clamped to [0,1]. z = 1.96 for 95%.
func proportionCI(p float64, n int) (low, high float64) {
	if n == 0 {
		return 0, 1
	}
	const z = 1.96
	half := z * math.Sqrt(p*(1-p)/float64(n))
	low = p - half
	high = p + half
	if low < 0 {
		low = 0
	}
	if high > 1 {
		high = 1
	}
	return low, high
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
