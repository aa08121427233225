package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencourse/lms-api/internal/service"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
	"github.com/opencourse/lms-api/pkg/response"
)

// TopicHandler exposes topic endpoints.
type TopicHandler struct {
	topics *service.TopicService
}

// NewTopicHandler constructs TopicHandler.
func NewTopicHandler(topics *service.TopicService) *TopicHandler {
	return &TopicHandler{topics: topics}
}

// List godoc
// @Summary List topics for a course
// @Tags Topics
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/topics [get]
func (h *TopicHandler) List(c *gin.Context) {
	topics, err := h.topics.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topics, nil)
}

// Get godoc
// @Summary Get topic detail
// @Tags Topics
// @Produce json
// @Param id path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Router /topics/{id} [get]
func (h *TopicHandler) Get(c *gin.Context) {
	topic, err := h.topics.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topic, nil)
}

// Create godoc
// @Summary Create topic under a course
// @Tags Topics
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.CreateTopicRequest true "Topic payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/topics [post]
func (h *TopicHandler) Create(c *gin.Context) {
	var req service.CreateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	topic, err := h.topics.Create(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, topic)
}

// Update godoc
// @Summary Update topic descriptive fields
// @Tags Topics
// @Accept json
// @Produce json
// @Param id path string true "Topic ID"
// @Param payload body service.UpdateTopicRequest true "Topic payload"
// @Success 200 {object} response.Envelope
// @Router /topics/{id} [put]
func (h *TopicHandler) Update(c *gin.Context) {
	var req service.UpdateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	topic, err := h.topics.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topic, nil)
}

// Delete godoc
// @Summary Delete topic
// @Tags Topics
// @Produce json
// @Param id path string true "Topic ID"
// @Success 204 {object} response.Envelope
// @Router /topics/{id} [delete]
func (h *TopicHandler) Delete(c *gin.Context) {
	if err := h.topics.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
