package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/opencourse/lms-api/internal/allocation"
	"github.com/opencourse/lms-api/internal/models"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
)

type topicRepo interface {
	Create(ctx context.Context, topic *models.Topic) error
	FindByID(ctx context.Context, id string) (*models.Topic, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Topic, error)
	Update(ctx context.Context, topic *models.Topic) error
	Delete(ctx context.Context, id string) error
}

type topicCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// CreateTopicRequest is the payload for creating a topic.
type CreateTopicRequest struct {
	Title    string `json:"title" validate:"required"`
	Position int    `json:"position" validate:"min=0"`
}

// UpdateTopicRequest updates a topic's descriptive fields. Topic renames and
// reorders never trigger a recalculation.
type UpdateTopicRequest struct {
	Title    string `json:"title" validate:"required"`
	Position int    `json:"position" validate:"min=0"`
}

// TopicService manages topics under a course.
type TopicService struct {
	topics    topicRepo
	courses   topicCourseReader
	recalc    recalcExecutor
	tx        txRunner
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTopicService constructs TopicService.
func NewTopicService(topics topicRepo, courses topicCourseReader, recalc recalcExecutor, tx txRunner, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *TopicService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tx == nil {
		tx = passthroughTx{}
	}
	return &TopicService{topics: topics, courses: courses, recalc: recalc, tx: tx, cache: cache, validator: validate, logger: logger}
}

// Create adds a topic to a course. A new topic starts with no children, so
// its weight is zero and siblings are untouched.
func (s *TopicService) Create(ctx context.Context, courseID string, req CreateTopicRequest) (*models.Topic, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid topic payload")
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	topic := &models.Topic{
		CourseID: courseID,
		Title:    req.Title,
		Position: req.Position,
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.topics.Create(ctx, topic); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create topic")
		}
		plan := allocation.BuildPlan(allocation.EntityTopic, allocation.OpCreate, allocation.Mutation{CourseID: courseID, TopicID: topic.ID})
		return s.recalc.Execute(ctx, plan)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, courseID)
	return topic, nil
}

// Get returns a topic by ID.
func (s *TopicService) Get(ctx context.Context, id string) (*models.Topic, error) {
	topic, err := s.topics.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "topic not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic")
	}
	return topic, nil
}

// List returns the topics of a course in position order.
func (s *TopicService) List(ctx context.Context, courseID string) ([]models.Topic, error) {
	topics, err := s.topics.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list topics")
	}
	return topics, nil
}

// Update renames or reorders a topic without touching any weights.
func (s *TopicService) Update(ctx context.Context, id string, req UpdateTopicRequest) (*models.Topic, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid topic payload")
	}
	topic, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	topic.Title = req.Title
	topic.Position = req.Position
	if err := s.topics.Update(ctx, topic); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update topic")
	}
	s.invalidate(ctx, topic.CourseID)
	return topic, nil
}

// Delete removes a topic and its children. Sibling topics keep their weights;
// only the course-level balance check runs afterwards.
func (s *TopicService) Delete(ctx context.Context, id string) error {
	topic, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.topics.Delete(ctx, id); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete topic")
		}
		plan := allocation.BuildPlan(allocation.EntityTopic, allocation.OpDelete, allocation.Mutation{CourseID: topic.CourseID, TopicID: id})
		return s.recalc.Execute(ctx, plan)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, topic.CourseID)
	return nil
}

func (s *TopicService) invalidate(ctx context.Context, courseID string) {
	if err := s.cache.Invalidate(ctx, "course:"+courseID+":*"); err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("course_id", courseID), zap.Error(err))
	}
}
