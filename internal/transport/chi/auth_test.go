package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerAuthMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		keys        []string
		path        string
		header      string
		wantStatus  int
		wantMessage string
	}{
		{"no keys disables auth", nil, "/v1/stats/cache", "", http.StatusOK, ""},
		{"blank keys disable auth", []string{"", "  "}, "/v1/stats/cache", "", http.StatusOK, ""},
		{"missing header", []string{"secret"}, "/v1/stats/cache", "", http.StatusUnauthorized, "missing authorization header"},
		{"basic scheme", []string{"secret"}, "/v1/stats/cache", "Basic dXNlcjpwYXNz", http.StatusUnauthorized,
			"authorization header must use Bearer scheme"},
		{"wrong key", []string{"secret"}, "/v1/images/query", "Bearer wrong-key", http.StatusUnauthorized, "invalid api key"},
		{"prefix of key", []string{"secret"}, "/v1/images/query", "Bearer secr", http.StatusUnauthorized, "invalid api key"},
		{"valid key", []string{"secret"}, "/v1/images/query", "Bearer secret", http.StatusOK, ""},
		{"second of several keys", []string{"key1", "key2"}, "/v1/stats/cache", "Bearer key2", http.StatusOK, ""},
		{"configured key is trimmed", []string{" secret\n"}, "/v1/stats/cache", "Bearer secret", http.StatusOK, ""},
		{"health is public", []string{"secret"}, "/health", "", http.StatusOK, ""},
		{"metrics is public", []string{"secret"}, "/metrics", "", http.StatusOK, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, http.NoBody)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			BearerAuthMiddleware(tc.keys)(okHandler()).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if tc.wantStatus != http.StatusUnauthorized {
				return
			}
			if got := rr.Header().Get("WWW-Authenticate"); got != `Bearer realm="imgdex"` {
				t.Errorf("WWW-Authenticate = %q", got)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode error response: %v", err)
			}
			if resp.Code != CodeUnauthorized || resp.Message != tc.wantMessage {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestKeyring(t *testing.T) {
	k := newKeyring([]string{"a", "", "bb"})
	if len(k) != 2 {
		t.Fatalf("keys = %d, want 2", len(k))
	}
	for token, want := range map[string]bool{"a": true, "bb": true, "": false, "b": false, "abb": false} {
		if got := k.contains(token); got != want {
			t.Errorf("contains(%q) = %v, want %v", token, got, want)
		}
	}
}
