package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencourse/lms-api/internal/service"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
	"github.com/opencourse/lms-api/pkg/response"
)

// ExamHandler exposes exam endpoints.
type ExamHandler struct {
	exams *service.ExamService
}

// NewExamHandler constructs ExamHandler.
func NewExamHandler(exams *service.ExamService) *ExamHandler {
	return &ExamHandler{exams: exams}
}

// List godoc
// @Summary List exams for a topic
// @Tags Exams
// @Produce json
// @Param id path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Router /topics/{id}/exams [get]
func (h *ExamHandler) List(c *gin.Context) {
	exams, err := h.exams.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exams, nil)
}

// Get godoc
// @Summary Get exam detail
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Router /exams/{id} [get]
func (h *ExamHandler) Get(c *gin.Context) {
	exam, err := h.exams.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exam, nil)
}

// Create godoc
// @Summary Create exam under a topic
// @Description Adding an exam redistributes sibling weights by total marks.
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Topic ID"
// @Param payload body service.CreateExamRequest true "Exam payload"
// @Success 201 {object} response.Envelope
// @Router /topics/{id}/exams [post]
func (h *ExamHandler) Create(c *gin.Context) {
	var req service.CreateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exam, err := h.exams.Create(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, exam)
}

// Update godoc
// @Summary Update exam
// @Description Changing the marks redistributes sibling weights; the time limit does not.
// @Tags Exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param payload body service.UpdateExamRequest true "Exam payload"
// @Success 200 {object} response.Envelope
// @Router /exams/{id} [put]
func (h *ExamHandler) Update(c *gin.Context) {
	var req service.UpdateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	exam, err := h.exams.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exam, nil)
}

// Delete godoc
// @Summary Delete exam
// @Description Remaining siblings absorb the freed weight.
// @Tags Exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 204 {object} response.Envelope
// @Router /exams/{id} [delete]
func (h *ExamHandler) Delete(c *gin.Context) {
	if err := h.exams.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
