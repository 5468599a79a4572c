package chi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	logpkg "github.com/kailas-cloud/imgdex/internal/logger"
)

func TestRequestLogMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	r := gochi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogMiddleware(zap.New(core)))
	r.Get("/v1/images/{id}/similar", func(w http.ResponseWriter, r *http.Request) {
		logpkg.FromContext(r.Context()).Debug("inside handler")
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	tests := []struct {
		path      string
		wantLevel zapcore.Level
		wantRoute string
	}{
		{"/v1/images/5/similar", zapcore.InfoLevel, "/v1/images/{id}/similar"},
		{"/boom", zapcore.ErrorLevel, "/boom"},
		{"/missing", zapcore.WarnLevel, "unmatched"},
	}
	for i, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest("GET", tc.path, http.NoBody))
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}

			lines := logs.FilterMessage("http_request").All()
			if len(lines) != i+1 {
				t.Fatalf("request lines = %d, want %d", len(lines), i+1)
			}
			line := lines[i]
			if line.Level != tc.wantLevel {
				t.Errorf("level = %v, want %v", line.Level, tc.wantLevel)
			}
			if got := line.ContextMap()["route"]; got != tc.wantRoute {
				t.Errorf("route = %v, want %s", got, tc.wantRoute)
			}
			if line.ContextMap()["request_id"] == "" {
				t.Error("missing request_id")
			}
		})
	}

	inner := logs.FilterMessage("inside handler").All()
	if len(inner) != 1 || inner[0].ContextMap()["request_id"] == "" {
		t.Errorf("handler log = %+v", inner)
	}
}
