package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubVerifier struct {
	id  Identity
	err error
	got string
}

func (s *stubVerifier) Verify(_ context.Context, raw string) (Identity, error) {
	s.got = raw
	return s.id, s.err
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(id.Subject))
	})
}

func TestMiddlewareRequiresBearer(t *testing.T) {
	t.Parallel()

	v := &stubVerifier{id: Identity{Subject: "alice", Role: RoleOperator}}
	h := Middleware(v, zap.NewNop())(echoIdentity())

	cases := map[string]string{
		"missing": "",
		"basic":   "Basic abc",
		"short":   "Bearer",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer tok-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
	assert.Equal(t, "tok-123", v.got)
}

func TestMiddlewareInvalidToken(t *testing.T) {
	t.Parallel()

	v := &stubVerifier{err: errors.New("bad")}
	h := Middleware(v, zap.NewNop())(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid or expired token")
}

func TestMiddlewareDisabledUsesDevIdentity(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	h := Middleware(nil, zap.New(core))(echoIdentity())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DevIdentity().Subject, rec.Body.String())
	assert.Equal(t, 1, logs.Len())
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	h := RequireRole(RoleOperator)(echoIdentity())

	cases := []struct {
		name string
		id   *Identity
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"viewer", &Identity{Subject: "v", Role: RoleViewer}, http.StatusForbidden},
		{"operator", &Identity{Subject: "o", Role: RoleOperator}, http.StatusOK},
		{"admin", &Identity{Subject: "a", Role: RoleAdmin}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.id != nil {
				req = req.WithContext(WithIdentity(req.Context(), *tc.id))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
