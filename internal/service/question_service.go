package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/opencourse/lms-api/internal/models"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
)

type questionRepo interface {
	Create(ctx context.Context, question *models.Question) error
	FindByID(ctx context.Context, id string) (*models.Question, error)
	ListByExam(ctx context.Context, examID string) ([]models.Question, error)
	Update(ctx context.Context, question *models.Question) error
	Delete(ctx context.Context, id string) error
}

type questionExamReader interface {
	FindByID(ctx context.Context, id string) (*models.Exam, error)
}

// QuestionRequest is the payload for creating or updating a question. A
// question's marks score answers inside the exam; they do not participate in
// weight allocation, so no question edit ever moves weights.
type QuestionRequest struct {
	Text    string   `json:"text" validate:"required"`
	Options []string `json:"options" validate:"omitempty,min=2"`
	Answer  string   `json:"answer" validate:"required"`
	Marks   float64  `json:"marks" validate:"min=0"`
}

// QuestionService manages exam questions.
type QuestionService struct {
	questions questionRepo
	exams     questionExamReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewQuestionService constructs QuestionService.
func NewQuestionService(questions questionRepo, exams questionExamReader, validate *validator.Validate, logger *zap.Logger) *QuestionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuestionService{questions: questions, exams: exams, validator: validate, logger: logger}
}

// Create adds a question to an exam.
func (s *QuestionService) Create(ctx context.Context, examID string, req QuestionRequest) (*models.Question, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid question payload")
	}
	if _, err := s.exams.FindByID(ctx, examID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	options, err := json.Marshal(req.Options)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode options")
	}
	question := &models.Question{
		ExamID:  examID,
		Text:    req.Text,
		Options: options,
		Answer:  req.Answer,
		Marks:   req.Marks,
	}
	if err := s.questions.Create(ctx, question); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create question")
	}
	return question, nil
}

// Get returns a question by ID.
func (s *QuestionService) Get(ctx context.Context, id string) (*models.Question, error) {
	question, err := s.questions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "question not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load question")
	}
	return question, nil
}

// List returns an exam's questions.
func (s *QuestionService) List(ctx context.Context, examID string) ([]models.Question, error) {
	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list questions")
	}
	return questions, nil
}

// Update edits a question.
func (s *QuestionService) Update(ctx context.Context, id string, req QuestionRequest) (*models.Question, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid question payload")
	}
	question, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	options, err := json.Marshal(req.Options)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode options")
	}
	question.Text = req.Text
	question.Options = options
	question.Answer = req.Answer
	question.Marks = req.Marks
	if err := s.questions.Update(ctx, question); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update question")
	}
	return question, nil
}

// Delete removes a question.
func (s *QuestionService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.questions.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete question")
	}
	return nil
}
