package allocation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore backs an engine test with an in-memory course: one split, items
// and weights keyed by topic. It plays both the source and the sink so the
// recompute step reads the redistribution's own writes, like a real
// transaction would.
type fakeStore struct {
	split          float64
	lectures       map[string][]Item
	exams          map[string][]Item
	lectureWeights map[string][]float64
	examWeights    map[string][]float64
	topicWeights   map[string]float64
	topicOrder     []string

	splitErr error
}

func newFakeStore(split float64) *fakeStore {
	return &fakeStore{
		split:          split,
		lectures:       make(map[string][]Item),
		exams:          make(map[string][]Item),
		lectureWeights: make(map[string][]float64),
		examWeights:    make(map[string][]float64),
		topicWeights:   make(map[string]float64),
	}
}

func (s *fakeStore) LectureItems(_ context.Context, topicID string) ([]Item, error) {
	return s.lectures[topicID], nil
}

func (s *fakeStore) ExamItems(_ context.Context, topicID string) ([]Item, error) {
	return s.exams[topicID], nil
}

func (s *fakeStore) LectureWeights(_ context.Context, topicID string) ([]float64, error) {
	return s.lectureWeights[topicID], nil
}

func (s *fakeStore) ExamWeights(_ context.Context, topicID string) ([]float64, error) {
	return s.examWeights[topicID], nil
}

func (s *fakeStore) CourseSplit(_ context.Context, _ string) (float64, error) {
	if s.splitErr != nil {
		return 0, s.splitErr
	}
	return s.split, nil
}

func (s *fakeStore) TopicWeights(_ context.Context, _ string) ([]float64, error) {
	weights := make([]float64, 0, len(s.topicOrder))
	for _, id := range s.topicOrder {
		weights = append(weights, s.topicWeights[id])
	}
	return weights, nil
}

func (s *fakeStore) ApplyLectureWeights(_ context.Context, topicID string, assignments []Assignment) error {
	weights := make([]float64, len(assignments))
	for i, a := range assignments {
		weights[i] = a.Weight
	}
	s.lectureWeights[topicID] = weights
	return nil
}

func (s *fakeStore) ApplyExamWeights(_ context.Context, topicID string, assignments []Assignment) error {
	weights := make([]float64, len(assignments))
	for i, a := range assignments {
		weights[i] = a.Weight
	}
	s.examWeights[topicID] = weights
	return nil
}

func (s *fakeStore) ApplyTopicWeight(_ context.Context, topicID string, weight float64) error {
	s.topicWeights[topicID] = weight
	return nil
}

type fakeObserver struct {
	steps []string
	skips []string
}

func (o *fakeObserver) ObserveRecalcStep(kind string) { o.steps = append(o.steps, kind) }
func (o *fakeObserver) ObserveGuardSkip(lock string)  { o.skips = append(o.skips, lock) }

func sum(weights []float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	return total
}

func TestEngineExecuteAddLecture(t *testing.T) {
	store := newFakeStore(50)
	store.topicOrder = []string{"t1"}
	// One existing 100-minute lecture, a second 50-minute one just added.
	store.lectures["t1"] = []Item{
		{ID: "l1", Basis: 100},
		{ID: "l2", Basis: 50},
	}
	store.examWeights["t1"] = []float64{50}

	engine := NewEngine(nil, nil, 0, nil)
	plan := BuildPlan(EntityLecture, OpCreate, Mutation{CourseID: "c1", TopicID: "t1", BasisChanged: true})

	err := engine.Execute(context.Background(), plan, store, store)
	require.NoError(t, err)

	got := store.lectureWeights["t1"]
	require.Len(t, got, 2)
	assert.InDelta(t, 33.333333, got[0], 1e-9)
	assert.InDelta(t, 50.0, sum(got), 1e-9)
	// Topic weight folds in the untouched exam pool.
	assert.InDelta(t, 100.0, store.topicWeights["t1"], 1e-9)
}

func TestEngineExecuteDeleteExam(t *testing.T) {
	store := newFakeStore(50)
	store.topicOrder = []string{"t1"}
	// Two exams remain after a third was deleted; equal marks.
	store.exams["t1"] = []Item{
		{ID: "e1", Basis: 20},
		{ID: "e2", Basis: 20},
	}
	store.lectureWeights["t1"] = []float64{50}

	engine := NewEngine(nil, nil, 0, nil)
	plan := BuildPlan(EntityExam, OpDelete, Mutation{CourseID: "c1", TopicID: "t1", BasisChanged: true})

	require.NoError(t, engine.Execute(context.Background(), plan, store, store))

	got := store.examWeights["t1"]
	require.Len(t, got, 2)
	assert.InDelta(t, 25.0, got[0], 1e-9)
	assert.InDelta(t, 25.0, got[1], 1e-9)
	assert.InDelta(t, 100.0, store.topicWeights["t1"], 1e-9)
}

func TestEngineExecuteSplitCascade(t *testing.T) {
	store := newFakeStore(70)
	store.topicOrder = []string{"t1", "t2"}
	store.lectures["t1"] = []Item{{ID: "l1", Basis: 30}, {ID: "l2", Basis: 30}}
	store.exams["t1"] = []Item{{ID: "e1", Basis: 10}}
	store.lectures["t2"] = []Item{{ID: "l3", Basis: 45}}
	store.exams["t2"] = []Item{{ID: "e2", Basis: 15}, {ID: "e3", Basis: 5}}

	engine := NewEngine(nil, nil, 0, nil)
	plan := BuildPlan(EntityCourse, OpUpdate, Mutation{
		CourseID:     "c1",
		TopicIDs:     []string{"t1", "t2"},
		SplitChanged: true,
	})

	require.NoError(t, engine.Execute(context.Background(), plan, store, store))

	assert.InDelta(t, 70.0, sum(store.lectureWeights["t1"]), 1e-9)
	assert.InDelta(t, 30.0, sum(store.examWeights["t1"]), 1e-9)
	// Single lecture takes the topic's whole lecture budget.
	assert.InDelta(t, 70.0, store.lectureWeights["t2"][0], 1e-9)
	assert.InDelta(t, 100.0, store.topicWeights["t1"], 1e-9)
	assert.InDelta(t, 100.0, store.topicWeights["t2"], 1e-9)
}

func TestEngineExecuteGuardReentry(t *testing.T) {
	store := newFakeStore(50)
	store.lectures["t1"] = []Item{{ID: "l1", Basis: 10}, {ID: "l2", Basis: 10}}

	guard := NewGuard()
	obs := &fakeObserver{}
	engine := NewEngine(nil, guard, 0, nil)
	engine.SetObserver(obs)

	plan := Plan{{Kind: StepRedistributeLectures, CourseID: "c1", TopicID: "t1"}}
	err := guard.WithLock(LockLectures, func() error {
		return engine.Execute(context.Background(), plan, store, store)
	})
	require.NoError(t, err)

	// The nested redistribution was suppressed: nothing was written.
	assert.Empty(t, store.lectureWeights["t1"])
	assert.Equal(t, []string{LockLectures}, obs.skips)
}

func TestEngineExecuteObserverCountsSteps(t *testing.T) {
	store := newFakeStore(50)
	store.topicOrder = []string{"t1"}
	store.lectures["t1"] = []Item{{ID: "l1", Basis: 10}}

	obs := &fakeObserver{}
	engine := NewEngine(nil, nil, 0, nil)
	engine.SetObserver(obs)

	plan := BuildPlan(EntityLecture, OpCreate, Mutation{CourseID: "c1", TopicID: "t1", BasisChanged: true})
	require.NoError(t, engine.Execute(context.Background(), plan, store, store))

	assert.Equal(t, []string{
		string(StepRedistributeLectures),
		string(StepRecomputeTopic),
	}, obs.steps)
}

func TestEngineExecuteAbortsOnSourceError(t *testing.T) {
	store := newFakeStore(50)
	store.splitErr = errors.New("course lookup failed")
	store.lectures["t1"] = []Item{{ID: "l1", Basis: 10}}

	engine := NewEngine(nil, nil, 0, nil)
	plan := BuildPlan(EntityLecture, OpCreate, Mutation{CourseID: "c1", TopicID: "t1", BasisChanged: true})

	err := engine.Execute(context.Background(), plan, store, store)
	require.Error(t, err)
	assert.Empty(t, store.topicWeights)
}

func TestEngineExecuteCourseCheckOnly(t *testing.T) {
	store := newFakeStore(50)
	store.topicOrder = []string{"t1", "t2"}
	store.topicWeights["t1"] = 40
	store.topicWeights["t2"] = 50 // totals 90, engine logs but does not fail

	engine := NewEngine(nil, nil, 0, nil)
	plan := BuildPlan(EntityTopic, OpDelete, Mutation{CourseID: "c1"})

	assert.NoError(t, engine.Execute(context.Background(), plan, store, store))
}
