package azure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medreport-backend/internal/ocr"
)

func TestExtractNotConfigured(t *testing.T) {
	c := New(Options{Endpoint: "", Key: ""})
	assert.False(t, c.IsConfigured())

	_, err := c.Extract(context.Background(), ocr.Document{Data: []byte("x")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ocr.ErrServiceUnavailable))
	assert.Equal(t, NotConfiguredMessage, err.Error())
}

func TestExtractRejectsInvalidEndpoint(t *testing.T) {
	c := New(Options{Endpoint: "not a url", Key: "k"})
	assert.False(t, c.IsConfigured())
}

func TestExtractPollsUntilSucceeded(t *testing.T) {
	var polls int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Ocp-Apim-Subscription-Key"))
		switch {
		case r.Method == http.MethodPost:
			assert.True(t, strings.HasSuffix(r.URL.Path, "/documentModels/prebuilt-read:analyze"))
			assert.Equal(t, "2024-11-30", r.URL.Query().Get("api-version"))
			assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "image-bytes", string(body))
			w.Header().Set("Operation-Location", srv.URL+"/operations/1")
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodGet && r.URL.Path == "/operations/1":
			if atomic.AddInt32(&polls, 1) == 1 {
				_, _ = io.WriteString(w, `{"status":"running"}`)
				return
			}
			_, _ = io.WriteString(w, `{
				"status":"succeeded",
				"analyzeResult":{
					"content":"Patient has diabetes",
					"pages":[
						{"pageNumber":1,"words":[
							{"content":"Patient","confidence":0.9},
							{"content":"has","confidence":0.8},
							{"content":"diabetes","confidence":0.95}
						]}
					]
				}
			}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL + "/", Key: "secret", PollInterval: time.Millisecond})
	res, err := c.Extract(context.Background(), ocr.Document{Data: []byte("image-bytes"), ContentType: "image/png"})
	require.NoError(t, err)

	assert.Equal(t, "Patient has diabetes", res.Text)
	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, []float64{0.9, 0.8, 0.95}, res.Confidences())
	assert.EqualValues(t, 2, atomic.LoadInt32(&polls))
}

func TestExtractQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":"429","message":"quota exceeded"}}`)
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Key: "secret"})
	_, err := c.Extract(context.Background(), ocr.Document{Data: []byte("x")})
	require.Error(t, err)

	var up *ocr.UpstreamError
	require.True(t, errors.As(err, &up))
	assert.Equal(t, http.StatusTooManyRequests, up.StatusCode)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestExtractOperationFailed(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Operation-Location", srv.URL+"/operations/9")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = io.WriteString(w, `{"status":"failed","error":{"code":"InvalidContent","message":"The file is corrupted."}}`)
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Key: "secret", PollInterval: time.Millisecond})
	_, err := c.Extract(context.Background(), ocr.Document{Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidContent")
	assert.Contains(t, err.Error(), "The file is corrupted.")
}

func TestExtractMissingOperationLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Key: "secret"})
	_, err := c.Extract(context.Background(), ocr.Document{Data: []byte("x")})

	var up *ocr.UpstreamError
	require.True(t, errors.As(err, &up))
	assert.Equal(t, ocr.CodeMalformedPayload, up.Code)
}

func TestExtractTimesOutWhilePolling(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Operation-Location", srv.URL+"/operations/slow")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = io.WriteString(w, `{"status":"running"}`)
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Key: "secret", PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Extract(ctx, ocr.Document{Data: []byte("x")})
	require.Error(t, err)
	assert.True(t, ocr.IsTimeout(err))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
	assert.Zero(t, parseRetryAfter("-1"))
}
