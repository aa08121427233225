package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencourse/lms-api/internal/service"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
	"github.com/opencourse/lms-api/pkg/response"
)

// LectureHandler exposes lecture endpoints.
type LectureHandler struct {
	lectures *service.LectureService
}

// NewLectureHandler constructs LectureHandler.
func NewLectureHandler(lectures *service.LectureService) *LectureHandler {
	return &LectureHandler{lectures: lectures}
}

// List godoc
// @Summary List lectures for a topic
// @Tags Lectures
// @Produce json
// @Param id path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Router /topics/{id}/lectures [get]
func (h *LectureHandler) List(c *gin.Context) {
	lectures, err := h.lectures.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lectures, nil)
}

// Get godoc
// @Summary Get lecture detail
// @Tags Lectures
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Router /lectures/{id} [get]
func (h *LectureHandler) Get(c *gin.Context) {
	lecture, err := h.lectures.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecture, nil)
}

// Create godoc
// @Summary Create lecture under a topic
// @Description Adding a lecture redistributes sibling weights by duration.
// @Tags Lectures
// @Accept json
// @Produce json
// @Param id path string true "Topic ID"
// @Param payload body service.CreateLectureRequest true "Lecture payload"
// @Success 201 {object} response.Envelope
// @Router /topics/{id}/lectures [post]
func (h *LectureHandler) Create(c *gin.Context) {
	var req service.CreateLectureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lecture, err := h.lectures.Create(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lecture)
}

// Update godoc
// @Summary Update lecture
// @Description Changing the duration redistributes sibling weights; renames do not.
// @Tags Lectures
// @Accept json
// @Produce json
// @Param id path string true "Lecture ID"
// @Param payload body service.UpdateLectureRequest true "Lecture payload"
// @Success 200 {object} response.Envelope
// @Router /lectures/{id} [put]
func (h *LectureHandler) Update(c *gin.Context) {
	var req service.UpdateLectureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lecture, err := h.lectures.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecture, nil)
}

// Delete godoc
// @Summary Delete lecture
// @Description Remaining siblings absorb the freed weight.
// @Tags Lectures
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 204 {object} response.Envelope
// @Router /lectures/{id} [delete]
func (h *LectureHandler) Delete(c *gin.Context) {
	if err := h.lectures.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
