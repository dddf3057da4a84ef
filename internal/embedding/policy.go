package embedding

import "fmt"

// Metric selects the comparison function used by a Policy.
type Metric int

const (
	// MetricCosine accepts when similarity is strictly above the threshold.
	MetricCosine Metric = iota
	// MetricEuclidean accepts when distance is strictly below the threshold.
	MetricEuclidean
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricEuclidean:
		return "euclidean"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMetric converts a configuration string into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "", "cosine":
		return MetricCosine, nil
	case "euclidean":
		return MetricEuclidean, nil
	default:
		return 0, fmt.Errorf("unknown similarity metric %q", s)
	}
}

// Default decision thresholds. A score exactly at the threshold is a
// reject for both metrics.
const (
	DefaultCosineThreshold    = 0.8
	DefaultEuclideanThreshold = 0.6
)

// Policy bundles a metric with its threshold and comparison direction so
// callers never special-case metric semantics.
type Policy struct {
	Metric    Metric
	Threshold float64
}

// DefaultPolicy returns the standard policy for the given metric.
func DefaultPolicy(m Metric) Policy {
	switch m {
	case MetricEuclidean:
		return Policy{Metric: MetricEuclidean, Threshold: DefaultEuclideanThreshold}
	default:
		return Policy{Metric: MetricCosine, Threshold: DefaultCosineThreshold}
	}
}

// Score computes the policy's metric for the two vectors.
func (p Policy) Score(a, b Vector) (float64, error) {
	switch p.Metric {
	case MetricEuclidean:
		return Euclidean(a, b)
	default:
		return Cosine(a, b)
	}
}

// Accept reports whether a score passes the policy threshold. Cosine
// accepts strictly above, Euclidean strictly below.
func (p Policy) Accept(score float64) bool {
	if p.Metric == MetricEuclidean {
		return score < p.Threshold
	}
	return score > p.Threshold
}

// Compare scores the two vectors and applies the threshold in one step.
func (p Policy) Compare(a, b Vector) (score float64, accepted bool, err error) {
	score, err = p.Score(a, b)
	if err != nil {
		return 0, false, err
	}
	return score, p.Accept(score), nil
}
