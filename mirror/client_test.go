package mirror_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/mirror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var record = session.AccountRecord{
	Name:     "Ada Lovelace",
	Email:    "ada@example.com",
	PhotoURL: "",
	Role:     session.DefaultAccountRole,
}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := mirror.New(mirror.Config{})
	require.Error(t, err)
}

func TestMirrorPostsRecord(t *testing.T) {
	var got map[string]string
	var method, path string

	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"insertedId":"1"}`))
	})

	client, err := mirror.New(mirror.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, client.Mirror(context.Background(), record))
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, mirror.DefaultPath, path)
	assert.Equal(t, map[string]string{
		"name":     "Ada Lovelace",
		"email":    "ada@example.com",
		"photoURL": "",
		"role":     "student",
	}, got)
}

func TestMirrorConflictStatus(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	client, err := mirror.New(mirror.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	err = client.Mirror(context.Background(), record)
	require.Error(t, err)
	assert.True(t, session.IsMirrorConflict(err))
}

func TestMirrorConflictMessage(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"User already exists"}`))
	})

	client, err := mirror.New(mirror.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	err = client.Mirror(context.Background(), record)
	require.Error(t, err)
	assert.True(t, session.IsMirrorConflict(err))
}

func TestMirrorFailure(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	client, err := mirror.New(mirror.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	err = client.Mirror(context.Background(), record)
	require.Error(t, err)
	assert.True(t, session.IsMirrorFailure(err))
	assert.False(t, session.IsMirrorConflict(err))
}

func TestMirrorConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := mirror.New(mirror.Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	err = client.Mirror(context.Background(), record)
	require.Error(t, err)
	assert.True(t, session.IsMirrorFailure(err))
}

func TestMirrorRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	client, err := mirror.New(mirror.Config{BaseURL: srv.URL, RetryAttempts: 3})
	require.NoError(t, err)

	require.NoError(t, client.Mirror(context.Background(), record))
	assert.Equal(t, int32(2), calls.Load())
}

func TestMirrorDoesNotRetryConflicts(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	})

	client, err := mirror.New(mirror.Config{BaseURL: srv.URL, RetryAttempts: 3})
	require.NoError(t, err)

	err = client.Mirror(context.Background(), record)
	assert.True(t, session.IsMirrorConflict(err))
	assert.Equal(t, int32(1), calls.Load())
}
