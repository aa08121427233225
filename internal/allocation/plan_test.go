package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepKinds(plan Plan) []StepKind {
	kinds := make([]StepKind, len(plan))
	for i, s := range plan {
		kinds[i] = s.Kind
	}
	return kinds
}

func TestBuildPlanLecture(t *testing.T) {
	m := Mutation{CourseID: "c1", TopicID: "t1", BasisChanged: true}

	t.Run("create redistributes then recomputes topic", func(t *testing.T) {
		plan := BuildPlan(EntityLecture, OpCreate, m)
		require.Len(t, plan, 2)
		assert.Equal(t, []StepKind{StepRedistributeLectures, StepRecomputeTopic}, stepKinds(plan))
		assert.Equal(t, "t1", plan[0].TopicID)
	})

	t.Run("delete triggers same steps", func(t *testing.T) {
		plan := BuildPlan(EntityLecture, OpDelete, m)
		assert.Equal(t, []StepKind{StepRedistributeLectures, StepRecomputeTopic}, stepKinds(plan))
	})

	t.Run("update without duration change is a no-op", func(t *testing.T) {
		plan := BuildPlan(EntityLecture, OpUpdate, Mutation{CourseID: "c1", TopicID: "t1"})
		assert.Empty(t, plan)
	})

	t.Run("update with duration change triggers", func(t *testing.T) {
		plan := BuildPlan(EntityLecture, OpUpdate, m)
		assert.Len(t, plan, 2)
	})
}

func TestBuildPlanExam(t *testing.T) {
	m := Mutation{CourseID: "c1", TopicID: "t1", BasisChanged: true}

	t.Run("create touches exam pool only", func(t *testing.T) {
		plan := BuildPlan(EntityExam, OpCreate, m)
		assert.Equal(t, []StepKind{StepRedistributeExams, StepRecomputeTopic}, stepKinds(plan))
	})

	t.Run("update without marks change is a no-op", func(t *testing.T) {
		plan := BuildPlan(EntityExam, OpUpdate, Mutation{CourseID: "c1", TopicID: "t1"})
		assert.Empty(t, plan)
	})
}

func TestBuildPlanTopic(t *testing.T) {
	t.Run("create only runs the course check", func(t *testing.T) {
		plan := BuildPlan(EntityTopic, OpCreate, Mutation{CourseID: "c1", TopicID: "t1"})
		assert.Equal(t, []StepKind{StepCourseCheck}, stepKinds(plan))
	})

	t.Run("rename is a no-op", func(t *testing.T) {
		plan := BuildPlan(EntityTopic, OpUpdate, Mutation{CourseID: "c1", TopicID: "t1"})
		assert.Empty(t, plan)
	})
}

func TestBuildPlanCourse(t *testing.T) {
	t.Run("split change cascades over every topic", func(t *testing.T) {
		plan := BuildPlan(EntityCourse, OpUpdate, Mutation{
			CourseID:     "c1",
			TopicIDs:     []string{"t1", "t2"},
			SplitChanged: true,
		})
		require.Len(t, plan, 7)
		assert.Equal(t, []StepKind{
			StepRedistributeLectures, StepRedistributeExams, StepRecomputeTopic,
			StepRedistributeLectures, StepRedistributeExams, StepRecomputeTopic,
			StepCourseCheck,
		}, stepKinds(plan))
		assert.Equal(t, "t1", plan[0].TopicID)
		assert.Equal(t, "t2", plan[3].TopicID)
		assert.Equal(t, "c1", plan[6].CourseID)
	})

	t.Run("update without split change is a no-op", func(t *testing.T) {
		plan := BuildPlan(EntityCourse, OpUpdate, Mutation{CourseID: "c1", TopicIDs: []string{"t1"}})
		assert.Empty(t, plan)
	})

	t.Run("create is a no-op", func(t *testing.T) {
		plan := BuildPlan(EntityCourse, OpCreate, Mutation{CourseID: "c1", SplitChanged: true})
		assert.Empty(t, plan)
	})
}
