package experiment

import "math"

// TestResult holds the outcome of a two-proportion z-test between the
// control and treatment conversion rates.
type TestResult struct {
	ZScore      float64 `json:"z_score"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
}

// TwoProportionZTest compares conversion counts between two arms.
//
// Pooled proportion p = (convA + convB) / (nA + nB), standard error
// sqrt(p(1-p)(1/nA + 1/nB)), z = (rateB - rateA)/SE, two-tailed p-value
// from the normal CDF. significanceLevel is 1 - confidence (0.01 for 99%).
//
// Degenerate inputs (empty arm, zero variance) return an insignificant
// result rather than an error.
func TwoProportionZTest(convA, nA, convB, nB int, significanceLevel float64) TestResult {
	if nA == 0 || nB == 0 {
		return TestResult{PValue: 1}
	}

	rateA := float64(convA) / float64(nA)
	rateB := float64(convB) / float64(nB)

	pooled := float64(convA+convB) / float64(nA+nB)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(nA) + 1/float64(nB)))
	if se == 0 {
		return TestResult{PValue: 1}
	}

	z := (rateB - rateA) / se
	p := 2 * (1 - normalCDF(math.Abs(z)))

	return TestResult{
		ZScore:      z,
		PValue:      p,
		Significant: p < significanceLevel,
	}
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
