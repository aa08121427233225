package models

import "time"

// EnrollmentStatus represents lifecycle states of a course enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusDropped   EnrollmentStatus = "DROPPED"
)

// Enrollment links a user to a course.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	UserID     string           `db:"user_id" json:"user_id"`
	CourseID   string           `db:"course_id" json:"course_id"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
}

// LectureProgress records a completed lecture for an enrollment.
type LectureProgress struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	LectureID    string    `db:"lecture_id" json:"lecture_id"`
	CompletedAt  time.Time `db:"completed_at" json:"completed_at"`
}

// ProgressReport summarises weighted progress for an enrollment. Percent is
// the sum of completed lecture weights relative to the course lecture share.
type ProgressReport struct {
	EnrollmentID      string    `json:"enrollment_id"`
	CourseID          string    `json:"course_id"`
	CompletedLectures int       `json:"completed_lectures"`
	TotalLectures     int       `json:"total_lectures"`
	WeightEarned      float64   `json:"weight_earned"`
	WeightAvailable   float64   `json:"weight_available"`
	Percent           float64   `json:"percent"`
	GeneratedAt       time.Time `json:"generated_at"`
}
