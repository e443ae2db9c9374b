package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-gin-event-registration/internal/handler"
	"go-gin-event-registration/internal/service/mocks"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var (
	InvalidJSON = `{"invalid": json}`
)

func setupTestRouter(registration *mocks.RegistrationServiceMock, events *mocks.EventServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	if events != nil {
		handler.NewEventHandler(events).RegisterRoutes(router)
	}
	if registration != nil {
		handler.NewAttendeeHandler(registration).RegisterRoutes(router)
	}
	return router
}

// create HTTP request with JSON body，字串會原樣送出
func createJSONHTTPRequest(method, url string, data interface{}) *http.Request {
	var body []byte
	switch v := data.(type) {
	case nil:
	case string:
		body = []byte(v)
	default:
		body, _ = json.Marshal(v)
	}
	req := httptest.NewRequest(method, url, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
