package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/opencourse/lms-api/internal/models"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
)

type enrollmentRepo interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByUserCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error)
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
	MarkLectureCompleted(ctx context.Context, progress *models.LectureProgress) error
	CompletedLectureWeight(ctx context.Context, enrollmentID string) (float64, int, error)
	CourseLectureStats(ctx context.Context, courseID string) (float64, int, error)
}

type enrollmentLectureReader interface {
	FindByID(ctx context.Context, id string) (*models.Lecture, error)
}

// EnrollmentService manages enrollments and weighted progress.
type EnrollmentService struct {
	enrollments enrollmentRepo
	courses     courseRepo
	lectures    enrollmentLectureReader
	topics      lectureTopicReader
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(enrollments enrollmentRepo, courses courseRepo, lectures enrollmentLectureReader, topics lectureTopicReader, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{enrollments: enrollments, courses: courses, lectures: lectures, topics: topics, validator: validate, logger: logger}
}

// Enroll links a user to a published course.
func (s *EnrollmentService) Enroll(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Published {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course is not published")
	}
	if existing, err := s.enrollments.FindByUserCourse(ctx, userID, courseID); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already enrolled in this course")
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	enrollment := &models.Enrollment{
		UserID:   userID,
		CourseID: courseID,
		Status:   models.EnrollmentStatusActive,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll")
	}
	return enrollment, nil
}

// List returns the caller's enrollments.
func (s *EnrollmentService) List(ctx context.Context, userID string) ([]models.Enrollment, error) {
	enrollments, err := s.enrollments.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

// CompleteLecture records a lecture completion for the caller's enrollment.
// Repeating a completion is a no-op.
func (s *EnrollmentService) CompleteLecture(ctx context.Context, userID, enrollmentID, lectureID string) error {
	enrollment, err := s.enrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if enrollment.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "enrollment does not belong to user")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not active")
	}
	lecture, err := s.lectures.FindByID(ctx, lectureID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecture")
	}
	topic, err := s.topics.FindByID(ctx, lecture.TopicID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic")
	}
	if topic.CourseID != enrollment.CourseID {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "lecture does not belong to the enrolled course")
	}
	if err := s.enrollments.MarkLectureCompleted(ctx, &models.LectureProgress{
		EnrollmentID: enrollmentID,
		LectureID:    lectureID,
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record completion")
	}
	return nil
}

// Complete transitions an enrollment to COMPLETED.
func (s *EnrollmentService) Complete(ctx context.Context, userID, enrollmentID string) error {
	enrollment, err := s.enrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if enrollment.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "enrollment does not belong to user")
	}
	if err := s.enrollments.UpdateStatus(ctx, enrollmentID, models.EnrollmentStatusCompleted); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}
	return nil
}

// Progress builds the weighted progress report: completed lecture weight over
// the course's total available lecture weight.
func (s *EnrollmentService) Progress(ctx context.Context, userID, enrollmentID string) (*models.ProgressReport, error) {
	enrollment, err := s.enrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.UserID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment does not belong to user")
	}
	earned, completed, err := s.enrollments.CompletedLectureWeight(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute earned weight")
	}
	available, total, err := s.enrollments.CourseLectureStats(ctx, enrollment.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute available weight")
	}
	report := &models.ProgressReport{
		EnrollmentID:      enrollmentID,
		CourseID:          enrollment.CourseID,
		CompletedLectures: completed,
		TotalLectures:     total,
		WeightEarned:      earned,
		WeightAvailable:   available,
		GeneratedAt:       time.Now().UTC(),
	}
	if available > 0 {
		report.Percent = earned / available * 100
	}
	return report, nil
}

func (s *EnrollmentService) enrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}
