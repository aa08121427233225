package allocation

import "math"

// DefaultEpsilon bounds sum-equality checks on recomputed weight totals.
const DefaultEpsilon = 1e-9

// TopicWeight returns the topic's derived weight: the sum of its lecture and
// exam weights. The two pools are independent; an empty pool contributes zero.
func TopicWeight(lectureWeights, examWeights []float64) float64 {
	total := 0.0
	for _, w := range lectureWeights {
		total += w
	}
	for _, w := range examWeights {
		total += w
	}
	return total
}

// Balance reports a course-level weight consistency check.
type Balance struct {
	Balanced bool    `json:"balanced"`
	Total    float64 `json:"total"`
}

// CourseCheck sums topic weights and reports whether they land on 100 within
// epsilon. A course with no topics is vacuously balanced. The check is
// diagnostic; callers decide whether an imbalance is actionable.
func CourseCheck(topicWeights []float64, epsilon float64) Balance {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if len(topicWeights) == 0 {
		return Balance{Balanced: true, Total: 0}
	}
	total := 0.0
	for _, w := range topicWeights {
		total += w
	}
	return Balance{Balanced: math.Abs(total-100) < epsilon, Total: total}
}
