// Package stats provides the small set of statistical primitives the
// analysis pipeline needs: descriptive moments, ordinary least squares
// regression with significance testing, series detrending, peak
// finding, and Welch's t-test.
package stats

import (
	"math"
)

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var s float64
	for _, v := range values {
		s += v
	}
	return s / float64(len(values))
}

// Variance returns the population variance, or 0 for fewer than two
// values.
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	var s float64
	for _, v := range values {
		d := v - m
		s += d * d
	}
	return s / float64(len(values))
}

// Std returns the population standard deviation.
func Std(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// Regression holds an ordinary least squares fit of values against
// their sample index.
type Regression struct {
	Slope     float64
	Intercept float64
	R         float64 // correlation coefficient
	PValue    float64 // two-sided p-value for a non-zero slope
	StdErr    float64 // standard error of the slope
}

// Linregress fits y against x = 0..n-1 by ordinary least squares,
// mirroring the usual slope/intercept/r/p/stderr quintuple.
func Linregress(values []float64) Regression {
	n := float64(len(values))
	if len(values) < 3 {
		return Regression{PValue: 1.0}
	}

	var sumX, sumY, sumXX, sumXY, sumYY float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXX += x * x
		sumXY += x * y
		sumYY += y * y
	}

	ssXX := sumXX - sumX*sumX/n
	ssYY := sumYY - sumY*sumY/n
	ssXY := sumXY - sumX*sumY/n

	if ssXX == 0 {
		return Regression{PValue: 1.0}
	}

	slope := ssXY / ssXX
	intercept := (sumY - slope*sumX) / n

	var r float64
	if ssYY > 0 {
		r = ssXY / math.Sqrt(ssXX*ssYY)
	}

	df := n - 2
	residual := ssYY - slope*ssXY
	if residual < 0 {
		residual = 0
	}
	stderr := math.Sqrt(residual / df / ssXX)

	p := 1.0
	if stderr > 0 {
		t := math.Abs(slope / stderr)
		p = 2 * StudentTSF(t, df)
	} else if slope != 0 {
		p = 0.0
	}

	return Regression{
		Slope:     slope,
		Intercept: intercept,
		R:         r,
		PValue:    p,
		StdErr:    stderr,
	}
}

// Detrend subtracts the least squares linear fit from the series.
func Detrend(values []float64) []float64 {
	reg := Linregress(values)
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v - (reg.Intercept + reg.Slope*float64(i))
	}
	return out
}

// Peaks returns the indices of local maxima whose height is at least
// minHeight. Endpoints are never peaks.
func Peaks(values []float64, minHeight float64) []int {
	var peaks []int
	for i := 1; i < len(values)-1; i++ {
		if values[i] > values[i-1] && values[i] > values[i+1] && values[i] >= minHeight {
			peaks = append(peaks, i)
		}
	}
	return peaks
}

// Troughs returns the indices of local minima whose depth is at least
// minHeight below zero.
func Troughs(values []float64, minHeight float64) []int {
	inverted := make([]float64, len(values))
	for i, v := range values {
		inverted[i] = -v
	}
	return Peaks(inverted, minHeight)
}

// TTestResult holds a Welch two-sample t-test outcome.
type TTestResult struct {
	Statistic float64
	PValue    float64
}

// WelchTTest compares the means of two independent samples without
// assuming equal variances.
func WelchTTest(a, b []float64) TTestResult {
	if len(a) < 2 || len(b) < 2 {
		return TTestResult{PValue: 1.0}
	}

	na, nb := float64(len(a)), float64(len(b))
	ma, mb := Mean(a), Mean(b)
	// Sample variances.
	va := Variance(a) * na / (na - 1)
	vb := Variance(b) * nb / (nb - 1)

	se := math.Sqrt(va/na + vb/nb)
	if se == 0 {
		if ma == mb {
			return TTestResult{PValue: 1.0}
		}
		return TTestResult{Statistic: math.Inf(1), PValue: 0.0}
	}

	t := (ma - mb) / se

	// Welch-Satterthwaite degrees of freedom.
	num := math.Pow(va/na+vb/nb, 2)
	den := math.Pow(va/na, 2)/(na-1) + math.Pow(vb/nb, 2)/(nb-1)
	df := num / den

	return TTestResult{
		Statistic: t,
		PValue:    2 * StudentTSF(math.Abs(t), df),
	}
}

// NormalSF is the standard normal survival function P(Z > z).
func NormalSF(z float64) float64 {
	return 0.5 * math.Erfc(z/math.Sqrt2)
}

// StudentTSF is the Student's t survival function P(T > t) for t >= 0
// with df degrees of freedom, via the regularized incomplete beta
// function.
func StudentTSF(t, df float64) float64 {
	if df <= 0 {
		return 0.5
	}
	if t < 0 {
		return 1 - StudentTSF(-t, df)
	}
	x := df / (df + t*t)
	return 0.5 * regIncBeta(df/2, 0.5, x)
}

// regIncBeta computes the regularized incomplete beta function
// I_x(a, b) using the continued fraction expansion.
func regIncBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lnBeta := lgamma(a+b) - lgamma(a) - lgamma(b)
	front := math.Exp(lnBeta + a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return front * betaCF(a, b, x) / a
	}
	return 1 - front*betaCF(b, a, 1-x)/b
}

// betaCF evaluates the incomplete beta continued fraction by the
// modified Lentz method.
func betaCF(a, b, x float64) float64 {
	const (
		maxIterations = 200
		epsilon       = 3e-14
		tiny          = 1e-30
	)

	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIterations; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		delta := d * c
		h *= delta

		if math.Abs(delta-1) < epsilon {
			break
		}
	}

	return h
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
