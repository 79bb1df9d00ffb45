package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestbot/internal/config"
	"nestbot/internal/dispatch"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

type recordingDispatcher struct {
	received chan *dispatch.Interaction
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{received: make(chan *dispatch.Interaction, 10)}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, in *dispatch.Interaction) {
	in.Ack()
	d.received <- in
}

func (d *recordingDispatcher) next(t *testing.T) *dispatch.Interaction {
	t.Helper()
	select {
	case in := <-d.received:
		return in
	case <-time.After(time.Second):
		t.Fatal("no interaction dispatched")
		return nil
	}
}

func newTestServer(d dispatcher, ready ReadyFunc) *Server {
	return New(config.NewHolder(&config.Config{SlackSigningSecret: testSecret}), d, ready)
}

func signedRequest(t *testing.T, path, contentType, body string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestSlashCommand(t *testing.T) {
	d := newRecordingDispatcher()
	srv := newTestServer(d, nil)

	form := url.Values{
		"command":    {"/projects"},
		"text":       {"juice"},
		"user_id":    {"U1"},
		"channel_id": {"C1"},
		"team_id":    {"T1"},
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, signedRequest(t, "/slack/commands", "application/x-www-form-urlencoded", form.Encode()))

	assert.Equal(t, http.StatusOK, rec.Code)
	in := d.next(t)
	assert.Equal(t, dispatch.KindCommand, in.Kind)
	assert.Equal(t, "/projects", in.Key)
	assert.Equal(t, "juice", in.Text)
	assert.Equal(t, "U1", in.UserID)
}

func TestBlockAction(t *testing.T) {
	d := newRecordingDispatcher()
	srv := newTestServer(d, nil)

	payload := `{"type":"block_actions","user":{"id":"U1"},"team":{"id":"T1"},"actions":[{"block_id":"b1","action_id":"view_chapters_action","value":"chapters"}]}`
	form := url.Values{"payload": {payload}}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, signedRequest(t, "/slack/actions", "application/x-www-form-urlencoded", form.Encode()))

	assert.Equal(t, http.StatusOK, rec.Code)
	in := d.next(t)
	assert.Equal(t, dispatch.KindAction, in.Kind)
	assert.Equal(t, "view_chapters_action", in.Key)
	assert.Equal(t, "chapters", in.Value)
}

func TestEvents(t *testing.T) {
	t.Run("url verification", func(t *testing.T) {
		d := newRecordingDispatcher()
		srv := newTestServer(d, nil)

		body := `{"token":"t","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P","type":"url_verification"}`
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, signedRequest(t, "/slack/events", "application/json", body))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P", rec.Body.String())
		assert.Empty(t, d.received)
	})

	t.Run("callback", func(t *testing.T) {
		d := newRecordingDispatcher()
		srv := newTestServer(d, nil)

		body := `{"type":"event_callback","team_id":"T1","event_id":"Ev1","event":{"type":"app_home_opened","user":"U1","channel":"D1","tab":"home"}}`
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, signedRequest(t, "/slack/events", "application/json", body))

		assert.Equal(t, http.StatusOK, rec.Code)
		in := d.next(t)
		assert.Equal(t, "app_home_opened", in.Key)
		assert.Equal(t, "U1", in.UserID)
	})

	t.Run("retry is dropped", func(t *testing.T) {
		d := newRecordingDispatcher()
		srv := newTestServer(d, nil)

		body := `{"type":"event_callback","team_id":"T1","event_id":"Ev1","event":{"type":"app_home_opened","user":"U1"}}`
		req := signedRequest(t, "/slack/events", "application/json", body)
		req.Header.Set("X-Slack-Retry-Num", "1")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, d.received)
	})
}

func TestSignatureVerification(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(r *http.Request)
	}{
		{name: "bad signature", mutate: func(r *http.Request) { r.Header.Set("X-Slack-Signature", "v0=deadbeef") }},
		{name: "missing timestamp", mutate: func(r *http.Request) { r.Header.Del("X-Slack-Request-Timestamp") }},
		{name: "stale timestamp", mutate: func(r *http.Request) {
			r.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := newRecordingDispatcher()
			srv := newTestServer(d, nil)

			req := signedRequest(t, "/slack/commands", "application/x-www-form-urlencoded", "command=%2Fprojects")
			tc.mutate(req)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Empty(t, d.received)
		})
	}
}

func TestSignatureSkippedWithoutSecret(t *testing.T) {
	d := newRecordingDispatcher()
	srv := New(config.NewHolder(&config.Config{}), d, nil)

	form := url.Values{"command": {"/projects"}, "text": {"zap"}, "user_id": {"U1"}, "channel_id": {"C1"}}
	req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	in := d.next(t)
	assert.Equal(t, "/projects", in.Key)
	assert.Equal(t, "zap", in.Text)
}

func TestHealthAndReady(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(newRecordingDispatcher(), nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	newTestServer(newRecordingDispatcher(), func(context.Context) error { return errors.New("db down") }).
		Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	newTestServer(newRecordingDispatcher(), nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

type fakeAnswerer struct {
	answer string
	err    error
	delay  time.Duration
	asked  []string
}

func (f *fakeAnswerer) Answer(ctx context.Context, text string) (string, error) {
	f.asked = append(f.asked, text)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.answer, f.err
}

func TestQueryAPI(t *testing.T) {
	testCases := []struct {
		name       string
		token      string
		auth       string
		body       string
		answerErr  error
		wantStatus int
		wantBody   string
	}{
		{name: "answered", token: "secret", auth: "Bearer secret", body: `{"query":" What is ASVS? "}`, wantStatus: http.StatusOK, wantBody: `{"query":"What is ASVS?","answer":"A verification standard."}`},
		{name: "wrong token", token: "secret", auth: "Bearer nope", body: `{"query":"q"}`, wantStatus: http.StatusUnauthorized},
		{name: "disabled without token", token: "", auth: "Bearer ", body: `{"query":"q"}`, wantStatus: http.StatusUnauthorized},
		{name: "empty query", token: "secret", auth: "Bearer secret", body: `{"query":"  "}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", token: "secret", auth: "Bearer secret", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "qa failure", token: "secret", auth: "Bearer secret", body: `{"query":"q"}`, answerErr: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			qa := &fakeAnswerer{answer: "A verification standard.", err: tc.answerErr}
			holder := config.NewHolder(&config.Config{QueryAPIToken: tc.token, QATimeout: 30 * time.Second})
			srv := New(holder, newRecordingDispatcher(), nil, WithQueryAPI(qa))

			req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(tc.body))
			req.Header.Set("Authorization", tc.auth)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantBody != "" {
				assert.JSONEq(t, tc.wantBody, rec.Body.String())
			}
		})
	}
}

func TestQueryAPI_OutlivesServerWriteTimeout(t *testing.T) {
	qa := &fakeAnswerer{answer: "A verification standard.", delay: 300 * time.Millisecond}
	holder := config.NewHolder(&config.Config{QueryAPIToken: "secret", QATimeout: 30 * time.Second})

	ts := httptest.NewUnstartedServer(New(holder, newRecordingDispatcher(), nil, WithQueryAPI(qa)).Handler())
	ts.Config.WriteTimeout = 50 * time.Millisecond
	ts.Start()
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/query", strings.NewReader(`{"query":"What is ASVS?"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"query":"What is ASVS?","answer":"A verification standard."}`, string(body))
}

func TestQueryAPI_NotRoutedWithoutAnswerer(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(newRecordingDispatcher(), nil).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"q"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
