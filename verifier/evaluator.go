package verifier

import "math"

// DefaultThreshold is the discrepancy percentage from which a reserve is not verified.
const DefaultThreshold = 5.0

// Outcome is the result of comparing a claimed reserve with the observed balance.
type Outcome struct {
	Account        string  `json:"account"`
	Claimed        float64 `json:"claimedAmount"`
	Actual         float64 `json:"actualAmount"`
	Verified       bool    `json:"verified"`
	DiscrepancyPct float64 `json:"discrepancyPct"`
}

// Evaluate compares claimed with actual. A zero claim is never verified and has a 100% discrepancy, otherwise the
// discrepancy is the difference relative to the claim and the reserve is verified when it is below threshold. A non
// positive threshold means DefaultThreshold.
func Evaluate(claimed, actual, threshold float64) Outcome {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	o := Outcome{Claimed: claimed, Actual: actual}

	if claimed == 0 {
		o.DiscrepancyPct = 100

		return o
	}

	o.DiscrepancyPct = math.Abs((claimed - actual) / claimed * 100)
	o.Verified = o.DiscrepancyPct < threshold

	return o
}
