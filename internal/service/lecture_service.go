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

type lectureRepo interface {
	Create(ctx context.Context, lecture *models.Lecture) error
	FindByID(ctx context.Context, id string) (*models.Lecture, error)
	ListByTopic(ctx context.Context, topicID string) ([]models.Lecture, error)
	Update(ctx context.Context, lecture *models.Lecture) error
	Delete(ctx context.Context, id string) error
}

type lectureTopicReader interface {
	FindByID(ctx context.Context, id string) (*models.Topic, error)
}

// CreateLectureRequest is the payload for creating a lecture.
type CreateLectureRequest struct {
	Title    string  `json:"title" validate:"required"`
	VideoURL *string `json:"video_url" validate:"omitempty,url"`
	Duration float64 `json:"duration" validate:"min=0"`
}

// UpdateLectureRequest updates a lecture. Only a duration change moves
// sibling weights.
type UpdateLectureRequest struct {
	Title    string  `json:"title" validate:"required"`
	VideoURL *string `json:"video_url" validate:"omitempty,url"`
	Duration float64 `json:"duration" validate:"min=0"`
}

// LectureService manages lectures and keeps sibling weights current.
type LectureService struct {
	lectures  lectureRepo
	topics    lectureTopicReader
	recalc    recalcExecutor
	tx        txRunner
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLectureService constructs LectureService.
func NewLectureService(lectures lectureRepo, topics lectureTopicReader, recalc recalcExecutor, tx txRunner, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *LectureService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tx == nil {
		tx = passthroughTx{}
	}
	return &LectureService{lectures: lectures, topics: topics, recalc: recalc, tx: tx, cache: cache, validator: validate, logger: logger}
}

// Create adds a lecture and redistributes the topic's lecture pool.
func (s *LectureService) Create(ctx context.Context, topicID string, req CreateLectureRequest) (*models.Lecture, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lecture payload")
	}
	topic, err := s.topic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	lecture := &models.Lecture{
		TopicID:  topicID,
		Title:    req.Title,
		VideoURL: req.VideoURL,
		Duration: req.Duration,
	}
	// The insert and the redistribution it forces commit together: if the
	// redistribution fails, the lecture is not added.
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.lectures.Create(ctx, lecture); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lecture")
		}
		plan := allocation.BuildPlan(allocation.EntityLecture, allocation.OpCreate, allocation.Mutation{
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
	// Reload to pick up the weight the redistribution assigned.
	return s.Get(ctx, lecture.ID)
}

// Get returns a lecture by ID.
func (s *LectureService) Get(ctx context.Context, id string) (*models.Lecture, error) {
	lecture, err := s.lectures.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecture")
	}
	return lecture, nil
}

// List returns a topic's lectures.
func (s *LectureService) List(ctx context.Context, topicID string) ([]models.Lecture, error) {
	lectures, err := s.lectures.ListByTopic(ctx, topicID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lectures")
	}
	return lectures, nil
}

// Update edits a lecture. Title or URL edits leave weights alone; a duration
// change redistributes the sibling pool.
func (s *LectureService) Update(ctx context.Context, id string, req UpdateLectureRequest) (*models.Lecture, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lecture payload")
	}
	lecture, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	topic, err := s.topic(ctx, lecture.TopicID)
	if err != nil {
		return nil, err
	}
	basisChanged := lecture.Duration != req.Duration
	lecture.Title = req.Title
	lecture.VideoURL = req.VideoURL
	lecture.Duration = req.Duration
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.lectures.Update(ctx, lecture); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lecture")
		}
		plan := allocation.BuildPlan(allocation.EntityLecture, allocation.OpUpdate, allocation.Mutation{
			CourseID:     topic.CourseID,
			TopicID:      lecture.TopicID,
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
	return lecture, nil
}

// Delete removes a lecture and redistributes what remains of the pool.
func (s *LectureService) Delete(ctx context.Context, id string) error {
	lecture, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	topic, err := s.topic(ctx, lecture.TopicID)
	if err != nil {
		return err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.lectures.Delete(ctx, id); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete lecture")
		}
		plan := allocation.BuildPlan(allocation.EntityLecture, allocation.OpDelete, allocation.Mutation{
			CourseID:     topic.CourseID,
			TopicID:      lecture.TopicID,
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

func (s *LectureService) topic(ctx context.Context, topicID string) (*models.Topic, error) {
	topic, err := s.topics.FindByID(ctx, topicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "topic not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic")
	}
	return topic, nil
}

func (s *LectureService) invalidate(ctx context.Context, courseID string) {
	if err := s.cache.Invalidate(ctx, "course:"+courseID+":*"); err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("course_id", courseID), zap.Error(err))
	}
}
