package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finopsmind/backend/internal/model"
)

func newTestExecutor() *Executor {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.BackoffBase = time.Millisecond
	e := New(cfg)
	e.Start()
	return e
}

func TestExecute_SuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	e := newTestExecutor()
	defer e.Stop()

	run := e.Execute(context.Background(), Request{
		URL:            srv.URL,
		Method:         model.MethodGET,
		ExpectedStatus: http.StatusOK,
	})

	require.NotNil(t, run.StatusCode)
	assert.Equal(t, http.StatusOK, *run.StatusCode)
	assert.True(t, run.IsSuccess)
	assert.Nil(t, run.ErrorMessage)
	assert.Equal(t, true, run.ResponseBodyJSON["ok"])
}

func TestExecute_StatusMismatchIsNotSuccessButNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := newTestExecutor()
	defer e.Stop()

	run := e.Execute(context.Background(), Request{
		URL:            srv.URL,
		Method:         model.MethodGET,
		ExpectedStatus: http.StatusOK,
	})

	require.NotNil(t, run.StatusCode)
	assert.Equal(t, http.StatusNotFound, *run.StatusCode)
	assert.False(t, run.IsSuccess)
	assert.Nil(t, run.ErrorMessage)
}

func TestExecute_ServerErrorDoesNotRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestExecutor()
	defer e.Stop()

	run := e.Execute(context.Background(), Request{
		URL:            srv.URL,
		Method:         model.MethodGET,
		ExpectedStatus: http.StatusOK,
	})

	assert.Equal(t, 1, attempts)
	require.NotNil(t, run.StatusCode)
	assert.Equal(t, http.StatusInternalServerError, *run.StatusCode)
}

func TestExecute_TransportFailureYieldsErrorMessage(t *testing.T) {
	e := newTestExecutor()
	defer e.Stop()

	run := e.Execute(context.Background(), Request{
		URL:            "http://127.0.0.1:1",
		Method:         model.MethodGET,
		ExpectedStatus: http.StatusOK,
	})

	assert.Nil(t, run.StatusCode)
	require.NotNil(t, run.ErrorMessage)
	assert.False(t, run.IsSuccess)
}

func TestExecute_NonObjectJSONIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	e := newTestExecutor()
	defer e.Stop()

	run := e.Execute(context.Background(), Request{
		URL:            srv.URL,
		Method:         model.MethodGET,
		ExpectedStatus: http.StatusOK,
	})

	require.NotNil(t, run.ResponseBodyJSON)
	_, ok := run.ResponseBodyJSON["_value"]
	assert.True(t, ok)
}

func TestExecute_NonJSONContentTypeSkipsParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	e := newTestExecutor()
	defer e.Stop()

	run := e.Execute(context.Background(), Request{
		URL:            srv.URL,
		Method:         model.MethodGET,
		ExpectedStatus: http.StatusOK,
	})

	assert.Nil(t, run.ResponseBodyJSON)
}
