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

type examRepo interface {
	Create(ctx context.Context, exam *models.Exam) error
	FindByID(ctx context.Context, id string) (*models.Exam, error)
	ListByTopic(ctx context.Context, topicID string) ([]models.Exam, error)
	Update(ctx context.Context, exam *models.Exam) error
	Delete(ctx context.Context, id string) error
}

// CreateExamRequest is the payload for creating an exam.
type CreateExamRequest struct {
	Title       string  `json:"title" validate:"required"`
	Marks       float64 `json:"marks" validate:"min=0"`
	DurationMin *int    `json:"duration_min" validate:"omitempty,min=1"`
}

// UpdateExamRequest updates an exam. Only a marks change moves sibling
// weights; the time limit is descriptive.
type UpdateExamRequest struct {
	Title       string  `json:"title" validate:"required"`
	Marks       float64 `json:"marks" validate:"min=0"`
	DurationMin *int    `json:"duration_min" validate:"omitempty,min=1"`
}

// ExamService manages exams and keeps sibling weights current.
type ExamService struct {
	exams     examRepo
	topics    lectureTopicReader
	recalc    recalcExecutor
	tx        txRunner
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewExamService constructs ExamService.
func NewExamService(exams examRepo, topics lectureTopicReader, recalc recalcExecutor, tx txRunner, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ExamService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tx == nil {
		tx = passthroughTx{}
	}
	return &ExamService{exams: exams, topics: topics, recalc: recalc, tx: tx, cache: cache, validator: validate, logger: logger}
}

// Create adds an exam and redistributes the topic's exam pool.
func (s *ExamService) Create(ctx context.Context, topicID string, req CreateExamRequest) (*models.Exam, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exam payload")
	}
	topic, err := s.topic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	exam := &models.Exam{
		TopicID:     topicID,
		Title:       req.Title,
		Marks:       req.Marks,
		DurationMin: req.DurationMin,
	}
	// The insert and the redistribution it forces commit together: if the
	// redistribution fails, the exam is not added.
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.exams.Create(ctx, exam); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create exam")
		}
		plan := allocation.BuildPlan(allocation.EntityExam, allocation.OpCreate, allocation.Mutation{
			CourseID:     topic.CourseID,
			TopicID:      topicID,
			BasisChanged: true,
		})
		return s.recalc.Execute(ctx, plan)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, topic.CourseID)
	return s.Get(ctx, exam.ID)
}

// Get returns an exam by ID.
func (s *ExamService) Get(ctx context.Context, id string) (*models.Exam, error) {
	exam, err := s.exams.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	return exam, nil
}

// List returns a topic's exams.
func (s *ExamService) List(ctx context.Context, topicID string) ([]models.Exam, error) {
	exams, err := s.exams.ListByTopic(ctx, topicID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list exams")
	}
	return exams, nil
}

// Update edits an exam, redistributing only when the marks changed.
func (s *ExamService) Update(ctx context.Context, id string, req UpdateExamRequest) (*models.Exam, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exam payload")
	}
	exam, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	topic, err := s.topic(ctx, exam.TopicID)
	if err != nil {
		return nil, err
	}
	basisChanged := exam.Marks != req.Marks
	exam.Title = req.Title
	exam.Marks = req.Marks
	exam.DurationMin = req.DurationMin
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.exams.Update(ctx, exam); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update exam")
		}
		plan := allocation.BuildPlan(allocation.EntityExam, allocation.OpUpdate, allocation.Mutation{
			CourseID:     topic.CourseID,
			TopicID:      exam.TopicID,
			BasisChanged: basisChanged,
		})
		return s.recalc.Execute(ctx, plan)
	})
	if err != nil {
		return nil, err
	}
	if basisChanged {
		s.invalidate(ctx, topic.CourseID)
		return s.Get(ctx, id)
	}
	return exam, nil
}

// Delete removes an exam and redistributes the remaining pool.
func (s *ExamService) Delete(ctx context.Context, id string) error {
	exam, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	topic, err := s.topic(ctx, exam.TopicID)
	if err != nil {
		return err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.exams.Delete(ctx, id); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete exam")
		}
		plan := allocation.BuildPlan(allocation.EntityExam, allocation.OpDelete, allocation.Mutation{
			CourseID:     topic.CourseID,
			TopicID:      exam.TopicID,
			BasisChanged: true,
		})
		return s.recalc.Execute(ctx, plan)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, topic.CourseID)
	return nil
}

func (s *ExamService) topic(ctx context.Context, topicID string) (*models.Topic, error) {
	topic, err := s.topics.FindByID(ctx, topicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "topic not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic")
	}
	return topic, nil
}

func (s *ExamService) invalidate(ctx context.Context, courseID string) {
	if err := s.cache.Invalidate(ctx, "course:"+courseID+":*"); err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("course_id", courseID), zap.Error(err))
	}
}
