package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/lms-api/internal/models"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments map[string]models.Enrollment
	progress    []models.LectureProgress
	earned      float64
	completed   int
	available   float64
	total       int
}

func (m *mockEnrollmentRepo) Create(_ context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = "enr-new"
	}
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *mockEnrollmentRepo) FindByID(_ context.Context, id string) (*models.Enrollment, error) {
	enrollment, ok := m.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &enrollment, nil
}

func (m *mockEnrollmentRepo) FindByUserCourse(_ context.Context, userID, courseID string) (*models.Enrollment, error) {
	for _, enrollment := range m.enrollments {
		if enrollment.UserID == userID && enrollment.CourseID == courseID {
			return &enrollment, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ListByUser(_ context.Context, userID string) ([]models.Enrollment, error) {
	var result []models.Enrollment
	for _, enrollment := range m.enrollments {
		if enrollment.UserID == userID {
			result = append(result, enrollment)
		}
	}
	return result, nil
}

func (m *mockEnrollmentRepo) UpdateStatus(_ context.Context, id string, status models.EnrollmentStatus) error {
	enrollment := m.enrollments[id]
	enrollment.Status = status
	m.enrollments[id] = enrollment
	return nil
}

func (m *mockEnrollmentRepo) MarkLectureCompleted(_ context.Context, progress *models.LectureProgress) error {
	m.progress = append(m.progress, *progress)
	return nil
}

func (m *mockEnrollmentRepo) CompletedLectureWeight(_ context.Context, _ string) (float64, int, error) {
	return m.earned, m.completed, nil
}

func (m *mockEnrollmentRepo) CourseLectureStats(_ context.Context, _ string) (float64, int, error) {
	return m.available, m.total, nil
}

func newEnrollmentFixture() (*EnrollmentService, *mockEnrollmentRepo) {
	enrollments := &mockEnrollmentRepo{
		enrollments: map[string]models.Enrollment{
			"enr-1": {ID: "enr-1", UserID: "usr-1", CourseID: "crs-1", Status: models.EnrollmentStatusActive},
		},
		earned:    25,
		completed: 1,
		available: 50,
		total:     2,
	}
	courses := &mockCourseRepo{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", Title: "Go Fundamentals", LectureWeight: 50, Published: true},
		"crs-2": {ID: "crs-2", Title: "Drafts", LectureWeight: 50, Published: false},
	}}
	lectures := &mockLectureCrudRepo{lectures: map[string]models.Lecture{
		"lec-1": {ID: "lec-1", TopicID: "top-1", Weight: 25},
		"lec-9": {ID: "lec-9", TopicID: "top-9", Weight: 10},
	}}
	topics := &mockTopicReader{topics: map[string]models.Topic{
		"top-1": {ID: "top-1", CourseID: "crs-1"},
		"top-9": {ID: "top-9", CourseID: "crs-other"},
	}}
	return NewEnrollmentService(enrollments, courses, lectures, topics, nil, nil), enrollments
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	svc, repo := newEnrollmentFixture()

	enrollment, err := svc.Enroll(context.Background(), "usr-2", "crs-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Contains(t, repo.enrollments, enrollment.ID)
}

func TestEnrollmentServiceEnrollUnpublishedCourse(t *testing.T) {
	svc, _ := newEnrollmentFixture()

	_, err := svc.Enroll(context.Background(), "usr-1", "crs-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollTwice(t *testing.T) {
	svc, _ := newEnrollmentFixture()

	_, err := svc.Enroll(context.Background(), "usr-1", "crs-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCompleteLecture(t *testing.T) {
	svc, repo := newEnrollmentFixture()

	require.NoError(t, svc.CompleteLecture(context.Background(), "usr-1", "enr-1", "lec-1"))
	require.Len(t, repo.progress, 1)
	assert.Equal(t, "lec-1", repo.progress[0].LectureID)
}

func TestEnrollmentServiceCompleteLectureWrongCourse(t *testing.T) {
	svc, repo := newEnrollmentFixture()

	err := svc.CompleteLecture(context.Background(), "usr-1", "enr-1", "lec-9")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.progress)
}

func TestEnrollmentServiceCompleteLectureForeignEnrollment(t *testing.T) {
	svc, _ := newEnrollmentFixture()

	err := svc.CompleteLecture(context.Background(), "usr-2", "enr-1", "lec-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceProgress(t *testing.T) {
	svc, _ := newEnrollmentFixture()

	report, err := svc.Progress(context.Background(), "usr-1", "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.CompletedLectures)
	assert.Equal(t, 2, report.TotalLectures)
	assert.InDelta(t, 25.0, report.WeightEarned, 1e-9)
	assert.InDelta(t, 50.0, report.WeightAvailable, 1e-9)
	assert.InDelta(t, 50.0, report.Percent, 1e-9)
}
