package service

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/opencourse/lms-api/internal/allocation"
	"github.com/opencourse/lms-api/internal/models"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
)

type recalcCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type recalcTopicRepo interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Topic, error)
	UpdateWeight(ctx context.Context, id string, weight float64) error
	Weights(ctx context.Context, courseID string) ([]float64, error)
}

type recalcLectureRepo interface {
	ListByTopic(ctx context.Context, topicID string) ([]models.Lecture, error)
	Weights(ctx context.Context, topicID string) ([]float64, error)
	UpdateWeights(ctx context.Context, assignments []allocation.Assignment) error
}

type recalcExamRepo interface {
	ListByTopic(ctx context.Context, topicID string) ([]models.Exam, error)
	Weights(ctx context.Context, topicID string) ([]float64, error)
	UpdateWeights(ctx context.Context, assignments []allocation.Assignment) error
}

// RecalcService runs weight recalculation plans against the database. It
// adapts the repositories to the allocation engine's source and sink
// contracts and owns the recursion guard scope: every Execute call gets a
// fresh guard so independent requests never see each other's locks.
type RecalcService struct {
	courses  recalcCourseReader
	topics   recalcTopicRepo
	lectures recalcLectureRepo
	exams    recalcExamRepo
	calc     *allocation.Calculator
	epsilon  float64
	observer allocation.EngineObserver
	logger   *zap.Logger
}

// NewRecalcService constructs RecalcService.
func NewRecalcService(courses recalcCourseReader, topics recalcTopicRepo, lectures recalcLectureRepo, exams recalcExamRepo, calc *allocation.Calculator, epsilon float64, logger *zap.Logger) *RecalcService {
	if calc == nil {
		calc = allocation.NewCalculator(allocation.DefaultPrecision)
	}
	if epsilon <= 0 {
		epsilon = allocation.DefaultEpsilon
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecalcService{
		courses:  courses,
		topics:   topics,
		lectures: lectures,
		exams:    exams,
		calc:     calc,
		epsilon:  epsilon,
		logger:   logger,
	}
}

// SetObserver attaches engine telemetry, typically the metrics service.
func (s *RecalcService) SetObserver(obs allocation.EngineObserver) {
	s.observer = obs
}

// Execute runs a recalculation plan.
func (s *RecalcService) Execute(ctx context.Context, plan allocation.Plan) error {
	if len(plan) == 0 {
		return nil
	}
	engine := allocation.NewEngine(s.calc, allocation.NewGuard(), s.epsilon, s.logger)
	if s.observer != nil {
		engine.SetObserver(s.observer)
	}
	if err := engine.Execute(ctx, plan, s, s); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "weight recalculation failed")
	}
	return nil
}

// RecalculateCourse redistributes every topic of the course from scratch and
// verifies the persisted totals afterwards. Callers use it to repair drift
// after imports or manual database edits.
func (s *RecalcService) RecalculateCourse(ctx context.Context, courseID string) error {
	topics, err := s.topics.ListByCourse(ctx, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topics")
	}
	topicIDs := make([]string, len(topics))
	for i, topic := range topics {
		topicIDs[i] = topic.ID
	}
	plan := allocation.BuildPlan(allocation.EntityCourse, allocation.OpUpdate, allocation.Mutation{
		CourseID:     courseID,
		TopicIDs:     topicIDs,
		SplitChanged: true,
	})
	if err := s.Execute(ctx, plan); err != nil {
		return err
	}
	return s.verifyTopicTotals(ctx, courseID, topicIDs)
}

// verifyTopicTotals compares each persisted topic weight against the sum of
// its children. A mismatch after a full recalculation means a concurrent
// writer or a failed partial write.
func (s *RecalcService) verifyTopicTotals(ctx context.Context, courseID string, topicIDs []string) error {
	topics, err := s.topics.ListByCourse(ctx, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topics")
	}
	stored := make(map[string]float64, len(topics))
	for _, topic := range topics {
		stored[topic.ID] = topic.Weight
	}
	for _, topicID := range topicIDs {
		lectureWeights, err := s.lectures.Weights(ctx, topicID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecture weights")
		}
		examWeights, err := s.exams.Weights(ctx, topicID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam weights")
		}
		want := allocation.TopicWeight(lectureWeights, examWeights)
		if math.Abs(stored[topicID]-want) >= s.epsilon {
			s.logger.Error("topic weight drifted after recalculation",
				zap.String("course_id", courseID),
				zap.String("topic_id", topicID),
				zap.Float64("stored", stored[topicID]),
				zap.Float64("computed", want),
			)
			return appErrors.ErrInconsistentState
		}
	}
	return nil
}

// CheckBalance reports whether the course's topic weights land on 100.
func (s *RecalcService) CheckBalance(ctx context.Context, courseID string) (allocation.Balance, error) {
	weights, err := s.topics.Weights(ctx, courseID)
	if err != nil {
		return allocation.Balance{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic weights")
	}
	return allocation.CourseCheck(weights, s.epsilon), nil
}

// LectureItems implements allocation.SiblingSource.
func (s *RecalcService) LectureItems(ctx context.Context, topicID string) ([]allocation.Item, error) {
	lectures, err := s.lectures.ListByTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	items := make([]allocation.Item, len(lectures))
	for i, lecture := range lectures {
		items[i] = allocation.Item{ID: lecture.ID, Basis: lecture.Duration}
	}
	return items, nil
}

// ExamItems implements allocation.SiblingSource.
func (s *RecalcService) ExamItems(ctx context.Context, topicID string) ([]allocation.Item, error) {
	exams, err := s.exams.ListByTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	items := make([]allocation.Item, len(exams))
	for i, exam := range exams {
		items[i] = allocation.Item{ID: exam.ID, Basis: exam.Marks}
	}
	return items, nil
}

// LectureWeights implements allocation.SiblingSource.
func (s *RecalcService) LectureWeights(ctx context.Context, topicID string) ([]float64, error) {
	return s.lectures.Weights(ctx, topicID)
}

// ExamWeights implements allocation.SiblingSource.
func (s *RecalcService) ExamWeights(ctx context.Context, topicID string) ([]float64, error) {
	return s.exams.Weights(ctx, topicID)
}

// CourseSplit implements allocation.SiblingSource.
func (s *RecalcService) CourseSplit(ctx context.Context, courseID string) (float64, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return 0, err
	}
	return course.LectureWeight, nil
}

// TopicWeights implements allocation.SiblingSource.
func (s *RecalcService) TopicWeights(ctx context.Context, courseID string) ([]float64, error) {
	return s.topics.Weights(ctx, courseID)
}

// ApplyLectureWeights implements allocation.WeightSink.
func (s *RecalcService) ApplyLectureWeights(ctx context.Context, topicID string, assignments []allocation.Assignment) error {
	return s.lectures.UpdateWeights(ctx, assignments)
}

// ApplyExamWeights implements allocation.WeightSink.
func (s *RecalcService) ApplyExamWeights(ctx context.Context, topicID string, assignments []allocation.Assignment) error {
	return s.exams.UpdateWeights(ctx, assignments)
}

// ApplyTopicWeight implements allocation.WeightSink.
func (s *RecalcService) ApplyTopicWeight(ctx context.Context, topicID string, weight float64) error {
	return s.topics.UpdateWeight(ctx, topicID, weight)
}
