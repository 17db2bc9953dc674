package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var r Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	return r
}

func TestInternalError_HidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	InternalError(c, errors.New("pq: relation \"orders\" does not exist"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	r := decode(t, rec)
	assert.Equal(t, "internal server error", r.Message)
	assert.NotContains(t, rec.Body.String(), "pq:")
	assert.Len(t, c.Errors, 1)
}

func TestConflict_CarriesData(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Conflict(c, "insufficient stock", gin.H{"available": 1})

	assert.Equal(t, http.StatusConflict, rec.Code)
	r := decode(t, rec)
	assert.Equal(t, http.StatusConflict, r.Code)
	assert.Equal(t, map[string]interface{}{"available": float64(1)}, r.Data)
}

func TestSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Success(c, gin.H{"ok": true})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode(t, rec).Message)
}
