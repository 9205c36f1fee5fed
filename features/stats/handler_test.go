package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/postgres"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/middleware"
)

type MockCorpusStore struct{ mock.Mock }

func (m *MockCorpusStore) Stats(ctx context.Context) (postgres.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(postgres.Stats), args.Error(1)
}

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		stats      postgres.Stats
		err        error
		wantStatus int
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name:       "Success",
			stats:      postgres.Stats{Pages: 10, Chunks: 200, Embedded: 50},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 10, data["pages"])
				assert.EqualValues(t, 200, data["chunks"])
				assert.EqualValues(t, 50, data["embedded"])
				assert.InDelta(t, 0.25, data["embedding_coverage"], 1e-9)
				assert.Equal(t, "postgres", data["vector_backend"])
			},
		},
		{
			name:       "Empty corpus",
			stats:      postgres.Stats{},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 0, data["embedding_coverage"])
			},
		},
		{
			name:       "Store error",
			err:        errors.New("db error"),
			wantStatus: http.StatusInternalServerError,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				errMap := body["error"].(map[string]interface{})
				assert.Equal(t, "INTERNAL_ERROR", errMap["code"])
				assert.Equal(t, "trace-1", body["traceId"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockCorpusStore)
			store.On("Stats", mock.Anything).Return(tt.stats, tt.err)

			h := NewHandler(store, "postgres")
			req := httptest.NewRequest("GET", "/stats", nil)
			req = req.WithContext(middleware.WithTraceID(req.Context(), "trace-1"))
			w := httptest.NewRecorder()

			h.GetStats(w, req)

			resp := w.Result()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]interface{}
			err := json.NewDecoder(resp.Body).Decode(&body)
			assert.NoError(t, err)
			tt.checkBody(t, body)
			store.AssertExpectations(t)
		})
	}
}
