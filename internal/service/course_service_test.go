package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/lms-api/internal/allocation"
	"github.com/opencourse/lms-api/internal/models"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
)

type mockCourseRepo struct {
	courses map[string]models.Course
	splits  []float64
}

func (m *mockCourseRepo) Create(_ context.Context, course *models.Course) error {
	if m.courses == nil {
		m.courses = make(map[string]models.Course)
	}
	if course.ID == "" {
		course.ID = "crs-new"
	}
	m.courses[course.ID] = *course
	return nil
}

func (m *mockCourseRepo) FindByID(_ context.Context, id string) (*models.Course, error) {
	course, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &course, nil
}

func (m *mockCourseRepo) List(_ context.Context, _ models.CourseFilter) ([]models.Course, int, error) {
	var result []models.Course
	for _, course := range m.courses {
		result = append(result, course)
	}
	return result, len(result), nil
}

func (m *mockCourseRepo) Update(_ context.Context, course *models.Course) error {
	m.courses[course.ID] = *course
	return nil
}

func (m *mockCourseRepo) UpdateSplit(_ context.Context, id string, lectureWeight float64) error {
	course := m.courses[id]
	course.LectureWeight = lectureWeight
	m.courses[id] = course
	m.splits = append(m.splits, lectureWeight)
	return nil
}

func (m *mockCourseRepo) Delete(_ context.Context, id string) error {
	delete(m.courses, id)
	return nil
}

type mockCourseTopicReader struct {
	topics []models.Topic
}

func (m *mockCourseTopicReader) ListByCourse(_ context.Context, courseID string) ([]models.Topic, error) {
	var result []models.Topic
	for _, topic := range m.topics {
		if topic.CourseID == courseID {
			result = append(result, topic)
		}
	}
	return result, nil
}

type mockCourseLectureReader struct {
	lectures map[string][]models.Lecture
}

func (m *mockCourseLectureReader) ListByTopic(_ context.Context, topicID string) ([]models.Lecture, error) {
	return m.lectures[topicID], nil
}

type mockCourseExamReader struct {
	exams map[string][]models.Exam
}

func (m *mockCourseExamReader) ListByTopic(_ context.Context, topicID string) ([]models.Exam, error) {
	return m.exams[topicID], nil
}

type mockRecalcExecutor struct {
	plans       []allocation.Plan
	fullRecalcs []string
	balance     allocation.Balance
	execErr     error
}

func (m *mockRecalcExecutor) Execute(_ context.Context, plan allocation.Plan) error {
	m.plans = append(m.plans, plan)
	return m.execErr
}

func (m *mockRecalcExecutor) RecalculateCourse(_ context.Context, courseID string) error {
	m.fullRecalcs = append(m.fullRecalcs, courseID)
	return nil
}

func (m *mockRecalcExecutor) CheckBalance(_ context.Context, _ string) (allocation.Balance, error) {
	return m.balance, nil
}

// recordingTxRunner counts transactions and rollbacks so tests can assert a
// mutation and its recalculation ran as one unit.
type recordingTxRunner struct {
	begun     int
	rollbacks int
}

func (m *recordingTxRunner) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	m.begun++
	if err := fn(ctx); err != nil {
		m.rollbacks++
		return err
	}
	return nil
}

type mockAuditWriter struct {
	entries []models.AuditLog
}

func (m *mockAuditWriter) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.entries = append(m.entries, *log)
	return nil
}

func newCourseFixture() (*CourseService, *mockCourseRepo, *mockRecalcExecutor, *mockAuditWriter) {
	repo := &mockCourseRepo{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", Title: "Go Fundamentals", LectureWeight: 50, Published: true, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}}
	topics := &mockCourseTopicReader{topics: []models.Topic{
		{ID: "top-1", CourseID: "crs-1", Title: "Basics", Weight: 60},
		{ID: "top-2", CourseID: "crs-1", Title: "Advanced", Weight: 40},
	}}
	lectures := &mockCourseLectureReader{lectures: map[string][]models.Lecture{
		"top-1": {{ID: "lec-1", TopicID: "top-1", Duration: 100, Weight: 30}},
		"top-2": {{ID: "lec-2", TopicID: "top-2", Duration: 50, Weight: 20}},
	}}
	exams := &mockCourseExamReader{exams: map[string][]models.Exam{
		"top-1": {{ID: "exm-1", TopicID: "top-1", Marks: 40, Weight: 30}},
		"top-2": {{ID: "exm-2", TopicID: "top-2", Marks: 20, Weight: 20}},
	}}
	recalc := &mockRecalcExecutor{balance: allocation.Balance{Balanced: true, Total: 100}}
	audits := &mockAuditWriter{}
	svc := NewCourseService(repo, topics, lectures, exams, recalc, nil, audits, nil, nil, nil)
	return svc, repo, recalc, audits
}

func TestCourseServiceUpdateSplitCascades(t *testing.T) {
	svc, repo, recalc, audits := newCourseFixture()

	course, err := svc.UpdateSplit(context.Background(), "crs-1", UpdateSplitRequest{LectureWeight: 70}, AuditContext{})
	require.NoError(t, err)
	assert.Equal(t, 70.0, course.LectureWeight)
	assert.Equal(t, []float64{70}, repo.splits)

	require.Len(t, recalc.plans, 1)
	plan := recalc.plans[0]
	// Two topics redistributed plus the final course check.
	require.Len(t, plan, 7)
	assert.Equal(t, allocation.StepRedistributeLectures, plan[0].Kind)
	assert.Equal(t, allocation.StepCourseCheck, plan[6].Kind)

	require.Len(t, audits.entries, 1)
	assert.Equal(t, models.AuditActionSplitChange, audits.entries[0].Action)
}

func TestCourseServiceUpdateSplitUnchangedIsNoop(t *testing.T) {
	svc, repo, recalc, audits := newCourseFixture()

	_, err := svc.UpdateSplit(context.Background(), "crs-1", UpdateSplitRequest{LectureWeight: 50}, AuditContext{})
	require.NoError(t, err)
	assert.Empty(t, repo.splits)
	assert.Empty(t, recalc.plans)
	assert.Empty(t, audits.entries)
}

func TestCourseServiceUpdateSplitRejectsOutOfRange(t *testing.T) {
	svc, _, _, _ := newCourseFixture()

	_, err := svc.UpdateSplit(context.Background(), "crs-1", UpdateSplitRequest{LectureWeight: 130}, AuditContext{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidWeights.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceWeightBreakdown(t *testing.T) {
	svc, _, _, _ := newCourseFixture()

	breakdown, err := svc.WeightBreakdown(context.Background(), "crs-1", true)
	require.NoError(t, err)
	assert.Equal(t, 50.0, breakdown.LectureWeight)
	assert.Equal(t, 50.0, breakdown.ExamWeight)
	require.Len(t, breakdown.Topics, 2)
	assert.InDelta(t, 30.0, breakdown.Topics[0].LectureTotal, 1e-9)
	assert.InDelta(t, 30.0, breakdown.Topics[0].ExamTotal, 1e-9)
	assert.Len(t, breakdown.Topics[0].Lectures, 1)
	assert.True(t, breakdown.Balanced)
	assert.InDelta(t, 100.0, breakdown.Total, 1e-9)
}

func TestCourseServiceRecalculate(t *testing.T) {
	svc, _, recalc, audits := newCourseFixture()

	balance, err := svc.Recalculate(context.Background(), "crs-1", AuditContext{})
	require.NoError(t, err)
	assert.True(t, balance.Balanced)
	assert.Equal(t, []string{"crs-1"}, recalc.fullRecalcs)
	require.Len(t, audits.entries, 1)
	assert.Equal(t, models.AuditActionRecalculate, audits.entries[0].Action)
}

func TestCourseServiceUpdateSplitAbortsWhenCascadeFails(t *testing.T) {
	repo := &mockCourseRepo{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", Title: "Go Fundamentals", LectureWeight: 50},
	}}
	topics := &mockCourseTopicReader{topics: []models.Topic{{ID: "top-1", CourseID: "crs-1"}}}
	recalc := &mockRecalcExecutor{execErr: errors.New("weight sink unavailable")}
	tx := &recordingTxRunner{}
	audits := &mockAuditWriter{}
	svc := NewCourseService(repo, topics, nil, nil, recalc, tx, audits, nil, nil, nil)

	_, err := svc.UpdateSplit(context.Background(), "crs-1", UpdateSplitRequest{LectureWeight: 70}, AuditContext{})
	require.Error(t, err)
	// The split write and the cascade ran in one transaction that rolled
	// back, so nothing was audited.
	assert.Equal(t, 1, tx.begun)
	assert.Equal(t, 1, tx.rollbacks)
	assert.Empty(t, audits.entries)
}

func TestCourseServiceWeightBreakdownBalanceComesFromRecalc(t *testing.T) {
	svc, _, recalc, _ := newCourseFixture()
	recalc.balance = allocation.Balance{Balanced: false, Total: 99.25}

	breakdown, err := svc.WeightBreakdown(context.Background(), "crs-1", false)
	require.NoError(t, err)
	assert.False(t, breakdown.Balanced)
	assert.InDelta(t, 99.25, breakdown.Total, 1e-9)
}

func TestCourseServiceGetNotFound(t *testing.T) {
	svc, _, _, _ := newCourseFixture()

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
