package allocation

import (
	"context"

	"go.uber.org/zap"
)

// SiblingSource supplies the current rows a plan step needs. Implementations
// read inside the caller's transaction so redistribution sees its own writes.
type SiblingSource interface {
	LectureItems(ctx context.Context, topicID string) ([]Item, error)
	ExamItems(ctx context.Context, topicID string) ([]Item, error)
	LectureWeights(ctx context.Context, topicID string) ([]float64, error)
	ExamWeights(ctx context.Context, topicID string) ([]float64, error)
	CourseSplit(ctx context.Context, courseID string) (float64, error)
	TopicWeights(ctx context.Context, courseID string) ([]float64, error)
}

// WeightSink persists computed weights. Writes for one sibling set must be
// all-or-nothing; the caller owns the enclosing transaction.
type WeightSink interface {
	ApplyLectureWeights(ctx context.Context, topicID string, assignments []Assignment) error
	ApplyExamWeights(ctx context.Context, topicID string, assignments []Assignment) error
	ApplyTopicWeight(ctx context.Context, topicID string, weight float64) error
}

// EngineObserver receives engine telemetry. All methods are optional no-ops
// when no observer is configured.
type EngineObserver interface {
	ObserveRecalcStep(kind string)
	ObserveGuardSkip(lock string)
}

// Engine executes recalculation plans step by step, honoring the recursion
// guard and the plan's ordering.
type Engine struct {
	calc     *Calculator
	guard    *Guard
	epsilon  float64
	logger   *zap.Logger
	observer EngineObserver
}

// NewEngine constructs an engine. Nil calculator/guard/logger fall back to
// defaults so tests can pass only what they exercise.
func NewEngine(calc *Calculator, guard *Guard, epsilon float64, logger *zap.Logger) *Engine {
	if calc == nil {
		calc = NewCalculator(DefaultPrecision)
	}
	if guard == nil {
		guard = NewGuard()
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{calc: calc, guard: guard, epsilon: epsilon, logger: logger}
}

// SetObserver attaches a telemetry observer.
func (e *Engine) SetObserver(obs EngineObserver) {
	e.observer = obs
}

// Guard exposes the engine's recursion guard so collaborators with their own
// write paths can respect its lock signal.
func (e *Engine) Guard() *Guard {
	return e.guard
}

// Execute runs the plan in order. Sibling redistribution completes before the
// parent topic roll-up; any course check runs last. A step failure aborts the
// rest of the plan so the caller can roll back the whole mutation.
func (e *Engine) Execute(ctx context.Context, plan Plan, src SiblingSource, sink WeightSink) error {
	for _, step := range plan {
		if err := e.execute(ctx, step, src, sink); err != nil {
			return err
		}
		if e.observer != nil {
			e.observer.ObserveRecalcStep(string(step.Kind))
		}
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, step Step, src SiblingSource, sink WeightSink) error {
	switch step.Kind {
	case StepRedistributeLectures:
		if e.guard.Held(LockLectures) && e.observer != nil {
			e.observer.ObserveGuardSkip(LockLectures)
		}
		return e.guard.WithLock(LockLectures, func() error {
			split, err := src.CourseSplit(ctx, step.CourseID)
			if err != nil {
				return err
			}
			items, err := src.LectureItems(ctx, step.TopicID)
			if err != nil {
				return err
			}
			assignments, err := e.calc.Distribute(split, items)
			if err != nil {
				return err
			}
			return sink.ApplyLectureWeights(ctx, step.TopicID, assignments)
		})
	case StepRedistributeExams:
		if e.guard.Held(LockExams) && e.observer != nil {
			e.observer.ObserveGuardSkip(LockExams)
		}
		return e.guard.WithLock(LockExams, func() error {
			split, err := src.CourseSplit(ctx, step.CourseID)
			if err != nil {
				return err
			}
			items, err := src.ExamItems(ctx, step.TopicID)
			if err != nil {
				return err
			}
			assignments, err := e.calc.Distribute(100-split, items)
			if err != nil {
				return err
			}
			return sink.ApplyExamWeights(ctx, step.TopicID, assignments)
		})
	case StepRecomputeTopic:
		lectureWeights, err := src.LectureWeights(ctx, step.TopicID)
		if err != nil {
			return err
		}
		examWeights, err := src.ExamWeights(ctx, step.TopicID)
		if err != nil {
			return err
		}
		return sink.ApplyTopicWeight(ctx, step.TopicID, TopicWeight(lectureWeights, examWeights))
	case StepCourseCheck:
		topicWeights, err := src.TopicWeights(ctx, step.CourseID)
		if err != nil {
			return err
		}
		balance := CourseCheck(topicWeights, e.epsilon)
		if !balance.Balanced {
			e.logger.Warn("course weight total out of balance",
				zap.String("course_id", step.CourseID),
				zap.Float64("total", balance.Total),
			)
		}
	}
	return nil
}
