package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/lms-api/internal/middleware"
	"github.com/opencourse/lms-api/internal/models"
	"github.com/opencourse/lms-api/pkg/response"
)

func TestAuthHandlerLoginInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerMeRequiresClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/auth/me", nil)
	c.Request = req

	handler.Me(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerMeReturnsClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/auth/me", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{
		UserID:   "u1",
		Email:    "student@example.com",
		FullName: "Test Student",
		Role:     models.RoleStudent,
	})

	handler.Me(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	info, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "u1", info["id"])
	assert.Equal(t, string(models.RoleStudent), info["role"])
}
