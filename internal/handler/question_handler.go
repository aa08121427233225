package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencourse/lms-api/internal/service"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
	"github.com/opencourse/lms-api/pkg/response"
)

// QuestionHandler exposes exam question endpoints.
type QuestionHandler struct {
	questions *service.QuestionService
}

// NewQuestionHandler constructs QuestionHandler.
func NewQuestionHandler(questions *service.QuestionService) *QuestionHandler {
	return &QuestionHandler{questions: questions}
}

// List godoc
// @Summary List questions for an exam
// @Tags Questions
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Router /exams/{id}/questions [get]
func (h *QuestionHandler) List(c *gin.Context) {
	questions, err := h.questions.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, questions, nil)
}

// Get godoc
// @Summary Get question detail
// @Tags Questions
// @Produce json
// @Param id path string true "Question ID"
// @Success 200 {object} response.Envelope
// @Router /questions/{id} [get]
func (h *QuestionHandler) Get(c *gin.Context) {
	question, err := h.questions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, question, nil)
}

// Create godoc
// @Summary Create question under an exam
// @Tags Questions
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param payload body service.QuestionRequest true "Question payload"
// @Success 201 {object} response.Envelope
// @Router /exams/{id}/questions [post]
func (h *QuestionHandler) Create(c *gin.Context) {
	var req service.QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	question, err := h.questions.Create(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, question)
}

// Update godoc
// @Summary Update question
// @Tags Questions
// @Accept json
// @Produce json
// @Param id path string true "Question ID"
// @Param payload body service.QuestionRequest true "Question payload"
// @Success 200 {object} response.Envelope
// @Router /questions/{id} [put]
func (h *QuestionHandler) Update(c *gin.Context) {
	var req service.QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	question, err := h.questions.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, question, nil)
}

// Delete godoc
// @Summary Delete question
// @Tags Questions
// @Produce json
// @Param id path string true "Question ID"
// @Success 204 {object} response.Envelope
// @Router /questions/{id} [delete]
func (h *QuestionHandler) Delete(c *gin.Context) {
	if err := h.questions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
