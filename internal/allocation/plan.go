package allocation

// EntityType identifies which entity a mutation touched.
type EntityType string

const (
	EntityLecture EntityType = "lecture"
	EntityExam    EntityType = "exam"
	EntityTopic   EntityType = "topic"
	EntityCourse  EntityType = "course"
)

// Operation identifies the kind of mutation.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// StepKind enumerates recalculation step types.
type StepKind string

const (
	StepRedistributeLectures StepKind = "redistribute_lectures"
	StepRedistributeExams    StepKind = "redistribute_exams"
	StepRecomputeTopic       StepKind = "recompute_topic"
	StepCourseCheck          StepKind = "course_check"
)

// Step is one recalculation action scoped to a topic or course.
type Step struct {
	Kind     StepKind
	CourseID string
	TopicID  string
}

// Plan is an ordered list of steps. Order is a happens-before chain: sibling
// redistribution completes before the parent topic roll-up, which completes
// before any course-level check.
type Plan []Step

// Mutation carries the context a plan is built from.
type Mutation struct {
	CourseID string
	TopicID  string
	// TopicIDs lists every topic under the course; required for split changes.
	TopicIDs []string
	// BasisChanged is true when an update touched duration or marks. Updates
	// to descriptive fields must not trigger recalculation.
	BasisChanged bool
	// SplitChanged is true when a course update touched lecture_weight.
	SplitChanged bool
}

// BuildPlan determines which sibling sets a mutation invalidates and in what
// order they must be recomputed. An empty plan means nothing to do.
func BuildPlan(entity EntityType, op Operation, m Mutation) Plan {
	switch entity {
	case EntityLecture:
		if op == OpUpdate && !m.BasisChanged {
			return nil
		}
		return Plan{
			{Kind: StepRedistributeLectures, CourseID: m.CourseID, TopicID: m.TopicID},
			{Kind: StepRecomputeTopic, CourseID: m.CourseID, TopicID: m.TopicID},
		}
	case EntityExam:
		if op == OpUpdate && !m.BasisChanged {
			return nil
		}
		return Plan{
			{Kind: StepRedistributeExams, CourseID: m.CourseID, TopicID: m.TopicID},
			{Kind: StepRecomputeTopic, CourseID: m.CourseID, TopicID: m.TopicID},
		}
	case EntityTopic:
		if op == OpUpdate {
			return nil
		}
		// A new topic has no children yet and a deleted topic takes its
		// children with it, so no redistribution is needed; the course check
		// is an informational post-condition.
		return Plan{{Kind: StepCourseCheck, CourseID: m.CourseID}}
	case EntityCourse:
		if op != OpUpdate || !m.SplitChanged {
			return nil
		}
		plan := make(Plan, 0, len(m.TopicIDs)*3+1)
		for _, topicID := range m.TopicIDs {
			plan = append(plan,
				Step{Kind: StepRedistributeLectures, CourseID: m.CourseID, TopicID: topicID},
				Step{Kind: StepRedistributeExams, CourseID: m.CourseID, TopicID: topicID},
				Step{Kind: StepRecomputeTopic, CourseID: m.CourseID, TopicID: topicID},
			)
		}
		plan = append(plan, Step{Kind: StepCourseCheck, CourseID: m.CourseID})
		return plan
	}
	return nil
}
