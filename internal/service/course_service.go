package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/opencourse/lms-api/internal/allocation"
	"github.com/opencourse/lms-api/internal/models"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
)

type courseRepo interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	Update(ctx context.Context, course *models.Course) error
	UpdateSplit(ctx context.Context, id string, lectureWeight float64) error
	Delete(ctx context.Context, id string) error
}

type courseTopicReader interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Topic, error)
}

type courseLectureReader interface {
	ListByTopic(ctx context.Context, topicID string) ([]models.Lecture, error)
}

type courseExamReader interface {
	ListByTopic(ctx context.Context, topicID string) ([]models.Exam, error)
}

type recalcExecutor interface {
	Execute(ctx context.Context, plan allocation.Plan) error
	RecalculateCourse(ctx context.Context, courseID string) error
	CheckBalance(ctx context.Context, courseID string) (allocation.Balance, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// txRunner groups an entity write and the weight recomputation it triggers
// into one transaction, so neither commits without the other.
type txRunner interface {
	RunInTx(ctx context.Context, fn func(context.Context) error) error
}

// passthroughTx runs the function without a transaction. It stands in when a
// service is built without a transaction manager.
type passthroughTx struct{}

func (passthroughTx) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	Title         string  `json:"title" validate:"required"`
	Description   *string `json:"description"`
	LectureWeight float64 `json:"lecture_weight" validate:"min=0,max=100"`
	Published     bool    `json:"published"`
}

// UpdateCourseRequest updates descriptive course fields. Changing these never
// triggers a recalculation.
type UpdateCourseRequest struct {
	Title       string  `json:"title" validate:"required"`
	Description *string `json:"description"`
	Published   bool    `json:"published"`
}

// UpdateSplitRequest changes the course-level lecture/exam weight split.
type UpdateSplitRequest struct {
	LectureWeight float64 `json:"lecture_weight" validate:"min=0,max=100"`
}

// AuditContext carries actor info for audit trail entries.
type AuditContext struct {
	UserID    *string
	IP        string
	UserAgent string
}

// CourseService orchestrates course CRUD, the weight split and the weight
// breakdown view.
type CourseService struct {
	courses   courseRepo
	topics    courseTopicReader
	lectures  courseLectureReader
	exams     courseExamReader
	recalc    recalcExecutor
	tx        txRunner
	audits    auditWriter
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(courses courseRepo, topics courseTopicReader, lectures courseLectureReader, exams courseExamReader, recalc recalcExecutor, tx txRunner, audits auditWriter, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tx == nil {
		tx = passthroughTx{}
	}
	return &CourseService{
		courses:   courses,
		topics:    topics,
		lectures:  lectures,
		exams:     exams,
		recalc:    recalc,
		tx:        tx,
		audits:    audits,
		cache:     cache,
		validator: validate,
		logger:    logger,
	}
}

// Create stores a new course.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest, createdBy string) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course := &models.Course{
		Title:         req.Title,
		Description:   req.Description,
		LectureWeight: req.LectureWeight,
		Published:     req.Published,
	}
	if createdBy != "" {
		course.CreatedBy = &createdBy
	}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// Get returns a course by ID.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// List returns courses matching the filter.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	courses, total, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, total, nil
}

// Update changes descriptive fields only; the weight split has its own path.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	course.Title = req.Title
	course.Description = req.Description
	course.Published = req.Published
	if err := s.courses.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// UpdateSplit changes the lecture/exam split and cascades a recalculation
// over every topic of the course. An unchanged split is a no-op.
func (s *CourseService) UpdateSplit(ctx context.Context, id string, req UpdateSplitRequest, actor AuditContext) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidWeights, "lecture_weight must be between 0 and 100")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	oldWeight := course.LectureWeight
	if oldWeight == req.LectureWeight {
		return course, nil
	}

	// The split write and the cascade it forces commit together: a failed
	// recalculation leaves the old split in place.
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.courses.UpdateSplit(ctx, id, req.LectureWeight); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course split")
		}
		topics, err := s.topics.ListByCourse(ctx, id)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topics")
		}
		topicIDs := make([]string, len(topics))
		for i, topic := range topics {
			topicIDs[i] = topic.ID
		}
		plan := allocation.BuildPlan(allocation.EntityCourse, allocation.OpUpdate, allocation.Mutation{
			CourseID:     id,
			TopicIDs:     topicIDs,
			SplitChanged: true,
		})
		return s.recalc.Execute(ctx, plan)
	})
	if err != nil {
		return nil, err
	}
	course.LectureWeight = req.LectureWeight

	s.writeAudit(ctx, actor, models.AuditActionSplitChange, id, oldWeight, req.LectureWeight)
	s.invalidateCache(ctx, id)
	return course, nil
}

// Recalculate rebuilds every weight in the course from current bases.
func (s *CourseService) Recalculate(ctx context.Context, id string, actor AuditContext) (allocation.Balance, error) {
	course, err := s.Get(ctx, id)
	if err != nil {
		return allocation.Balance{}, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.recalc.RecalculateCourse(ctx, id)
	})
	if err != nil {
		return allocation.Balance{}, err
	}
	balance, err := s.recalc.CheckBalance(ctx, id)
	if err != nil {
		return allocation.Balance{}, err
	}
	s.writeAudit(ctx, actor, models.AuditActionRecalculate, id, course.LectureWeight, course.LectureWeight)
	s.invalidateCache(ctx, id)
	return balance, nil
}

// WeightBreakdown assembles the course's full weight tree with the balance
// diagnostic. Results are cached until the next mutation invalidates them.
func (s *CourseService) WeightBreakdown(ctx context.Context, id string, includeChildren bool) (*models.CourseWeightBreakdown, error) {
	cacheKey := fmt.Sprintf("course:%s:weights:%t", id, includeChildren)
	var cached models.CourseWeightBreakdown
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	topics, err := s.topics.ListByCourse(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topics")
	}

	breakdown := &models.CourseWeightBreakdown{
		CourseID:      course.ID,
		LectureWeight: course.LectureWeight,
		ExamWeight:    course.ExamWeight(),
		Topics:        make([]models.TopicWeightRow, 0, len(topics)),
		GeneratedAt:   time.Now().UTC(),
	}
	for _, topic := range topics {
		lectures, err := s.lectures.ListByTopic(ctx, topic.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lectures")
		}
		exams, err := s.exams.ListByTopic(ctx, topic.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exams")
		}
		row := models.TopicWeightRow{
			TopicID: topic.ID,
			Title:   topic.Title,
			Weight:  topic.Weight,
		}
		for _, lecture := range lectures {
			row.LectureTotal += lecture.Weight
		}
		for _, exam := range exams {
			row.ExamTotal += exam.Weight
		}
		if includeChildren {
			row.Lectures = lectures
			row.Exams = exams
		}
		breakdown.Topics = append(breakdown.Topics, row)
	}

	// The balance diagnostic goes through the recalc service so the
	// configured epsilon governs it.
	balance, err := s.recalc.CheckBalance(ctx, id)
	if err != nil {
		return nil, err
	}
	breakdown.Balanced = balance.Balanced
	breakdown.Total = balance.Total

	s.cache.Set(ctx, cacheKey, breakdown, 0) //nolint:errcheck
	return breakdown, nil
}

// Delete removes a course with everything under it.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.courses.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.invalidateCache(ctx, id)
	return nil
}

func (s *CourseService) writeAudit(ctx context.Context, actor AuditContext, action, courseID string, oldWeight, newWeight float64) {
	if s.audits == nil {
		return
	}
	oldValues, _ := json.Marshal(map[string]float64{"lecture_weight": oldWeight})
	newValues, _ := json.Marshal(map[string]float64{"lecture_weight": newWeight})
	entry := &models.AuditLog{
		UserID:     actor.UserID,
		Action:     action,
		Resource:   "course",
		ResourceID: &courseID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  actor.IP,
		UserAgent:  actor.UserAgent,
	}
	if err := s.audits.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *CourseService) invalidateCache(ctx context.Context, courseID string) {
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("course:%s:*", courseID)); err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("course_id", courseID), zap.Error(err))
	}
}
