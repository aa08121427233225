package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicWeight(t *testing.T) {
	t.Run("sums lecture and exam weights", func(t *testing.T) {
		assert.InDelta(t, 50.0, TopicWeight([]float64{10, 20}, []float64{5, 15}), 1e-9)
	})

	t.Run("missing lectures contribute zero", func(t *testing.T) {
		assert.InDelta(t, 50.0, TopicWeight(nil, []float64{50}), 1e-9)
	})

	t.Run("missing exams contribute zero", func(t *testing.T) {
		assert.InDelta(t, 30.0, TopicWeight([]float64{30}, nil), 1e-9)
	})

	t.Run("no children yields zero", func(t *testing.T) {
		assert.Equal(t, 0.0, TopicWeight(nil, nil))
	})
}

func TestCourseCheck(t *testing.T) {
	t.Run("balanced at exactly 100", func(t *testing.T) {
		got := CourseCheck([]float64{40, 60}, DefaultEpsilon)
		assert.True(t, got.Balanced)
		assert.InDelta(t, 100.0, got.Total, 1e-9)
	})

	t.Run("tolerates float drift inside epsilon", func(t *testing.T) {
		got := CourseCheck([]float64{33.333333, 33.333333, 33.333334}, DefaultEpsilon)
		assert.True(t, got.Balanced)
	})

	t.Run("unbalanced outside epsilon", func(t *testing.T) {
		got := CourseCheck([]float64{40, 50}, DefaultEpsilon)
		assert.False(t, got.Balanced)
		assert.InDelta(t, 90.0, got.Total, 1e-9)
	})

	t.Run("vacuously balanced with no topics", func(t *testing.T) {
		got := CourseCheck(nil, DefaultEpsilon)
		assert.True(t, got.Balanced)
		assert.Equal(t, 0.0, got.Total)
	})

	t.Run("non-positive epsilon falls back to default", func(t *testing.T) {
		got := CourseCheck([]float64{100}, 0)
		assert.True(t, got.Balanced)
	})
}
