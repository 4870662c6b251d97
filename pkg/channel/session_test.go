package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessionId":"s-1","userId":"alice","createdAt":1700000000000}`))
	}))
	defer srv.Close()

	session, err := BootstrapSession(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "s-1", session.SessionID)
	assert.Equal(t, "alice", session.UserID)
	assert.Equal(t, uint64(1700000000000), session.CreatedAt)
}

func TestBootstrapSessionRejectsBadResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			_, _ = w.Write([]byte(`{"userId":"alice"}`))
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	_, err := BootstrapSession(context.Background(), srv.Client(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "empty sessionId")

	_, err = BootstrapSession(context.Background(), srv.Client(), srv.URL+"/error")
	assert.ErrorContains(t, err, "status")

	_, err = BootstrapSession(context.Background(), srv.Client(), srv.URL+"/garbage")
	assert.Error(t, err)
}
