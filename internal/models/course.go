package models

import "time"

// Course is the top-level catalog entity. LectureWeight is the percentage of
// the total grade carried by lectures; exams carry the remaining
// 100 - LectureWeight points.
type Course struct {
	ID            string    `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	Description   *string   `db:"description" json:"description,omitempty"`
	LectureWeight float64   `db:"lecture_weight" json:"lecture_weight"`
	Published     bool      `db:"published" json:"published"`
	CreatedBy     *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ExamWeight returns the exam share of the course grade.
func (c Course) ExamWeight() float64 {
	return 100 - c.LectureWeight
}

// Topic groups lectures and exams under a course. Weight is derived: the sum
// of the topic's lecture and exam weights after a recalculation.
type Topic struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	Title     string    `db:"title" json:"title"`
	Position  int       `db:"position" json:"position"`
	Weight    float64   `db:"weight" json:"weight"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Lecture belongs to a topic. Duration (minutes) is the proportional basis for
// its derived Weight within the topic's lecture pool.
type Lecture struct {
	ID        string    `db:"id" json:"id"`
	TopicID   string    `db:"topic_id" json:"topic_id"`
	Title     string    `db:"title" json:"title"`
	VideoURL  *string   `db:"video_url" json:"video_url,omitempty"`
	Duration  float64   `db:"duration" json:"duration"`
	Weight    float64   `db:"weight" json:"weight"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Exam belongs to a topic. Marks is the proportional basis for its derived
// Weight within the topic's exam pool.
type Exam struct {
	ID          string    `db:"id" json:"id"`
	TopicID     string    `db:"topic_id" json:"topic_id"`
	Title       string    `db:"title" json:"title"`
	Marks       float64   `db:"marks" json:"marks"`
	DurationMin *int      `db:"duration_min" json:"duration_min,omitempty"`
	Weight      float64   `db:"weight" json:"weight"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Question belongs to an exam. Questions carry no weight of their own.
type Question struct {
	ID        string    `db:"id" json:"id"`
	ExamID    string    `db:"exam_id" json:"exam_id"`
	Text      string    `db:"text" json:"text"`
	Options   []byte    `db:"options" json:"options,omitempty"`
	Answer    string    `db:"answer" json:"-"`
	Marks     float64   `db:"marks" json:"marks"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CourseFilter captures filtering criteria for listing courses.
type CourseFilter struct {
	Search    string
	Published *bool
	Page      int
	PageSize  int
}

// TopicWeightRow is a topic plus its child weight subtotals, used by the
// weight breakdown endpoint and exports.
type TopicWeightRow struct {
	TopicID      string    `json:"topic_id"`
	Title        string    `json:"title"`
	LectureTotal float64   `json:"lecture_total"`
	ExamTotal    float64   `json:"exam_total"`
	Weight       float64   `json:"weight"`
	Lectures     []Lecture `json:"lectures,omitempty"`
	Exams        []Exam    `json:"exams,omitempty"`
}

// CourseWeightBreakdown reports the full weight tree for a course together
// with the balance diagnostic.
type CourseWeightBreakdown struct {
	CourseID      string           `json:"course_id"`
	LectureWeight float64          `json:"lecture_weight"`
	ExamWeight    float64          `json:"exam_weight"`
	Topics        []TopicWeightRow `json:"topics"`
	Balanced      bool             `json:"balanced"`
	Total         float64          `json:"total"`
	GeneratedAt   time.Time        `json:"generated_at"`
}
