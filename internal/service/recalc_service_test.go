package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/lms-api/internal/allocation"
	"github.com/opencourse/lms-api/internal/models"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
)

type mockCourseReader struct {
	courses map[string]models.Course
}

func (m *mockCourseReader) FindByID(_ context.Context, id string) (*models.Course, error) {
	course := m.courses[id]
	return &course, nil
}

type mockTopicRepo struct {
	topics map[string]models.Topic
	order  []string
	// drift, when set, offsets stored topic weights so the post-condition
	// check sees a mismatch.
	drift float64
}

func (m *mockTopicRepo) ListByCourse(_ context.Context, courseID string) ([]models.Topic, error) {
	var result []models.Topic
	for _, id := range m.order {
		topic := m.topics[id]
		if topic.CourseID == courseID {
			topic.Weight += m.drift
			result = append(result, topic)
		}
	}
	return result, nil
}

func (m *mockTopicRepo) UpdateWeight(_ context.Context, id string, weight float64) error {
	topic := m.topics[id]
	topic.Weight = weight
	m.topics[id] = topic
	return nil
}

func (m *mockTopicRepo) Weights(_ context.Context, courseID string) ([]float64, error) {
	var weights []float64
	for _, id := range m.order {
		topic := m.topics[id]
		if topic.CourseID == courseID {
			weights = append(weights, topic.Weight)
		}
	}
	return weights, nil
}

type mockLectureRepo struct {
	lectures map[string][]models.Lecture
}

func (m *mockLectureRepo) ListByTopic(_ context.Context, topicID string) ([]models.Lecture, error) {
	return m.lectures[topicID], nil
}

func (m *mockLectureRepo) Weights(_ context.Context, topicID string) ([]float64, error) {
	var weights []float64
	for _, lecture := range m.lectures[topicID] {
		weights = append(weights, lecture.Weight)
	}
	return weights, nil
}

func (m *mockLectureRepo) UpdateWeights(_ context.Context, assignments []allocation.Assignment) error {
	byID := make(map[string]float64, len(assignments))
	for _, a := range assignments {
		byID[a.ID] = a.Weight
	}
	for topicID, lectures := range m.lectures {
		for i := range lectures {
			if w, ok := byID[lectures[i].ID]; ok {
				lectures[i].Weight = w
			}
		}
		m.lectures[topicID] = lectures
	}
	return nil
}

type mockExamRepo struct {
	exams map[string][]models.Exam
}

func (m *mockExamRepo) ListByTopic(_ context.Context, topicID string) ([]models.Exam, error) {
	return m.exams[topicID], nil
}

func (m *mockExamRepo) Weights(_ context.Context, topicID string) ([]float64, error) {
	var weights []float64
	for _, exam := range m.exams[topicID] {
		weights = append(weights, exam.Weight)
	}
	return weights, nil
}

func (m *mockExamRepo) UpdateWeights(_ context.Context, assignments []allocation.Assignment) error {
	byID := make(map[string]float64, len(assignments))
	for _, a := range assignments {
		byID[a.ID] = a.Weight
	}
	for topicID, exams := range m.exams {
		for i := range exams {
			if w, ok := byID[exams[i].ID]; ok {
				exams[i].Weight = w
			}
		}
		m.exams[topicID] = exams
	}
	return nil
}

func newRecalcFixture() (*RecalcService, *mockTopicRepo, *mockLectureRepo, *mockExamRepo) {
	courses := &mockCourseReader{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", LectureWeight: 50},
	}}
	topics := &mockTopicRepo{
		topics: map[string]models.Topic{
			"top-1": {ID: "top-1", CourseID: "crs-1"},
		},
		order: []string{"top-1"},
	}
	lectures := &mockLectureRepo{lectures: map[string][]models.Lecture{
		"top-1": {
			{ID: "lec-1", TopicID: "top-1", Duration: 100},
			{ID: "lec-2", TopicID: "top-1", Duration: 50},
		},
	}}
	exams := &mockExamRepo{exams: map[string][]models.Exam{
		"top-1": {
			{ID: "exm-1", TopicID: "top-1", Marks: 40},
		},
	}}
	svc := NewRecalcService(courses, topics, lectures, exams, nil, 0, nil)
	return svc, topics, lectures, exams
}

func TestRecalcServiceExecuteLecturePlan(t *testing.T) {
	svc, topics, lectures, _ := newRecalcFixture()

	plan := allocation.BuildPlan(allocation.EntityLecture, allocation.OpCreate, allocation.Mutation{
		CourseID:     "crs-1",
		TopicID:      "top-1",
		BasisChanged: true,
	})
	require.NoError(t, svc.Execute(context.Background(), plan))

	stored := lectures.lectures["top-1"]
	assert.InDelta(t, 33.333333, stored[0].Weight, 1e-9)
	assert.InDelta(t, 50.0, stored[0].Weight+stored[1].Weight, 1e-9)
	// Topic weight is the lecture sum; the single exam still carries zero
	// until its own pool is redistributed.
	assert.InDelta(t, 50.0, topics.topics["top-1"].Weight, 1e-9)
}

func TestRecalcServiceExecuteEmptyPlanIsNoop(t *testing.T) {
	svc, _, lectures, _ := newRecalcFixture()
	require.NoError(t, svc.Execute(context.Background(), nil))
	assert.Equal(t, 0.0, lectures.lectures["top-1"][0].Weight)
}

func TestRecalcServiceRecalculateCourse(t *testing.T) {
	svc, topics, lectures, exams := newRecalcFixture()

	require.NoError(t, svc.RecalculateCourse(context.Background(), "crs-1"))

	assert.InDelta(t, 50.0, lectures.lectures["top-1"][0].Weight+lectures.lectures["top-1"][1].Weight, 1e-9)
	// Single exam takes the whole exam budget.
	assert.InDelta(t, 50.0, exams.exams["top-1"][0].Weight, 1e-9)
	assert.InDelta(t, 100.0, topics.topics["top-1"].Weight, 1e-9)

	balance, err := svc.CheckBalance(context.Background(), "crs-1")
	require.NoError(t, err)
	assert.True(t, balance.Balanced)
}

func TestRecalcServiceDetectsDrift(t *testing.T) {
	svc, topics, _, _ := newRecalcFixture()
	topics.drift = 5

	err := svc.RecalculateCourse(context.Background(), "crs-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInconsistentState.Code, appErrors.FromError(err).Code)
}
