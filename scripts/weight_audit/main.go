// Command weight_audit walks every course in the database, recomputes the
// expected lecture, exam and topic weights, and reports rows that drifted from
// the stored values. Exits non-zero when any course is out of balance so it
// can gate deploys.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/opencourse/lms-api/internal/allocation"
	"github.com/opencourse/lms-api/internal/models"
	"github.com/opencourse/lms-api/internal/repository"
	"github.com/opencourse/lms-api/pkg/config"
	"github.com/opencourse/lms-api/pkg/database"
)

type drift struct {
	CourseID string
	TopicID  string
	Kind     string
	ItemID   string
	Stored   float64
	Expected float64
}

func main() {
	var (
		courseID string
		epsilon  float64
		timeout  time.Duration
	)
	flag.StringVar(&courseID, "course", "", "Audit a single course ID (default: all)")
	flag.Float64Var(&epsilon, "epsilon", allocation.DefaultEpsilon, "Tolerance for weight comparisons")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	courses := repository.NewCourseRepository(db)
	topics := repository.NewTopicRepository(db)
	lectures := repository.NewLectureRepository(db)
	exams := repository.NewExamRepository(db)
	calc := allocation.NewCalculator(cfg.Weights.Precision)

	targets, err := auditTargets(ctx, courses, courseID)
	if err != nil {
		log.Fatalf("failed to load courses: %v", err)
	}

	var drifts []drift
	for _, course := range targets {
		found, err := auditCourse(ctx, topics, lectures, exams, calc, course, epsilon)
		if err != nil {
			log.Fatalf("audit of course %s failed: %v", course.ID, err)
		}
		drifts = append(drifts, found...)
	}

	for _, d := range drifts {
		fmt.Printf("%-8s course=%s topic=%s item=%s stored=%.6f expected=%.6f\n",
			d.Kind, d.CourseID, d.TopicID, d.ItemID, d.Stored, d.Expected)
	}
	fmt.Printf("Audited %d course(s), %d drifted row(s)\n", len(targets), len(drifts))
	if len(drifts) > 0 {
		os.Exit(1)
	}
}

func auditTargets(ctx context.Context, courses *repository.CourseRepository, courseID string) ([]models.Course, error) {
	if courseID != "" {
		course, err := courses.FindByID(ctx, courseID)
		if err != nil {
			return nil, err
		}
		return []models.Course{*course}, nil
	}
	list, _, err := courses.List(ctx, models.CourseFilter{Page: 1, PageSize: 10000})
	return list, err
}

func auditCourse(ctx context.Context, topics *repository.TopicRepository, lectures *repository.LectureRepository, exams *repository.ExamRepository, calc *allocation.Calculator, course models.Course, epsilon float64) ([]drift, error) {
	topicList, err := topics.ListByCourse(ctx, course.ID)
	if err != nil {
		return nil, err
	}

	var drifts []drift
	for _, topic := range topicList {
		lectureList, err := lectures.ListByTopic(ctx, topic.ID)
		if err != nil {
			return nil, err
		}
		examList, err := exams.ListByTopic(ctx, topic.ID)
		if err != nil {
			return nil, err
		}

		lectureItems := make([]allocation.Item, len(lectureList))
		for i, l := range lectureList {
			lectureItems[i] = allocation.Item{ID: l.ID, Basis: l.Duration}
		}
		examItems := make([]allocation.Item, len(examList))
		for i, e := range examList {
			examItems[i] = allocation.Item{ID: e.ID, Basis: e.Marks}
		}

		expectedLectures, err := calc.Distribute(course.LectureWeight, lectureItems)
		if err != nil {
			return nil, err
		}
		expectedExams, err := calc.Distribute(course.ExamWeight(), examItems)
		if err != nil {
			return nil, err
		}

		var topicTotal float64
		for i, assignment := range expectedLectures {
			topicTotal += assignment.Weight
			if math.Abs(lectureList[i].Weight-assignment.Weight) > epsilon {
				drifts = append(drifts, drift{
					CourseID: course.ID, TopicID: topic.ID, Kind: "lecture",
					ItemID: assignment.ID, Stored: lectureList[i].Weight, Expected: assignment.Weight,
				})
			}
		}
		for i, assignment := range expectedExams {
			topicTotal += assignment.Weight
			if math.Abs(examList[i].Weight-assignment.Weight) > epsilon {
				drifts = append(drifts, drift{
					CourseID: course.ID, TopicID: topic.ID, Kind: "exam",
					ItemID: assignment.ID, Stored: examList[i].Weight, Expected: assignment.Weight,
				})
			}
		}
		if math.Abs(topic.Weight-topicTotal) > epsilon {
			drifts = append(drifts, drift{
				CourseID: course.ID, TopicID: topic.ID, Kind: "topic",
				ItemID: topic.ID, Stored: topic.Weight, Expected: topicTotal,
			})
		}
	}
	return drifts, nil
}
