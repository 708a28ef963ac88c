package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/devicevault/server/internal/models"
)

type fakeAuthenticator struct {
	required bool
	tokens   map[string]string
	inactive map[string]bool
	err      error
}

func (f *fakeAuthenticator) RequireRegistered() bool { return f.required }

func (f *fakeAuthenticator) Authenticate(_ context.Context, id, token string) (*models.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	expected, ok := f.tokens[id]
	if !ok {
		return nil, models.ErrDeviceNotFound
	}
	if f.inactive[id] {
		return nil, models.ErrDeviceInactive
	}
	if token != expected {
		return nil, models.ErrInvalidDeviceToken
	}
	return &models.Device{ID: id, IsActive: true}, nil
}

func deviceRouter(auth DeviceAuthenticator) http.Handler {
	r := chi.NewRouter()
	r.Route("/devices/{deviceId}", func(r chi.Router) {
		r.Use(DeviceAuth(auth, "X-Device-Token"))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			if d := GetDeviceFromContext(r.Context()); d != nil {
				w.Header().Set("X-Authenticated", d.ID)
			}
			w.WriteHeader(http.StatusOK)
		})
	})
	return r
}

func TestDeviceAuth(t *testing.T) {
	auth := &fakeAuthenticator{
		required: true,
		tokens:   map[string]string{"D1": "t1", "D2": "t2"},
		inactive: map[string]bool{"D2": true},
	}

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"valid token", "/devices/D1", "t1", http.StatusOK},
		{"missing token", "/devices/D1", "", http.StatusUnauthorized},
		{"wrong token", "/devices/D1", "t2", http.StatusUnauthorized},
		{"unknown device", "/devices/D9", "t1", http.StatusNotFound},
		{"inactive device", "/devices/D2", "t2", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("X-Device-Token", tt.token)
			}
			rec := httptest.NewRecorder()
			deviceRouter(auth).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	t.Run("device is placed in the context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/devices/D1", nil)
		req.Header.Set("X-Device-Token", "t1")
		rec := httptest.NewRecorder()
		deviceRouter(auth).ServeHTTP(rec, req)
		assert.Equal(t, "D1", rec.Header().Get("X-Authenticated"))
	})

	t.Run("passes through when registration is optional", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/devices/D9", nil)
		rec := httptest.NewRecorder()
		deviceRouter(&fakeAuthenticator{}).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Authenticated"))
	})

	t.Run("storage errors are a generic 500", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/devices/D1", nil)
		req.Header.Set("X-Device-Token", "t1")
		rec := httptest.NewRecorder()
		deviceRouter(&fakeAuthenticator{required: true, err: errors.New("disk on fire")}).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk on fire")
	})
}

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		configured string
		provided   string
		status     int
	}{
		{"valid key", "secret", "secret", http.StatusOK},
		{"missing key", "secret", "", http.StatusUnauthorized},
		{"wrong key", "secret", "guess", http.StatusUnauthorized},
		{"admin disabled", "", "anything", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/audit/run", nil)
			if tt.provided != "" {
				req.Header.Set("X-API-Key", tt.provided)
			}
			rec := httptest.NewRecorder()
			APIKeyAuth(tt.configured, "X-API-Key")(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"success":false`)
			}
		})
	}
}

func TestAPIKeyMatches(t *testing.T) {
	req := func(key string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/devices/register", nil)
		if key != "" {
			r.Header.Set("X-API-Key", key)
		}
		return r
	}

	isAdmin := APIKeyMatches("secret", "X-API-Key")
	assert.True(t, isAdmin(req("secret")))
	assert.False(t, isAdmin(req("guess")))
	assert.False(t, isAdmin(req("")))

	// no configured key never matches, not even an empty header
	assert.False(t, APIKeyMatches("", "X-API-Key")(req("")))
}
