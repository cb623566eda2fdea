package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/store"
	"pricewatch/internal/watcher"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Tracef(format string, v ...any) { l.t.Logf("TRACE: "+format, v...) }
func (l testLogger) Debugf(format string, v ...any) { l.t.Logf("DEBUG: "+format, v...) }
func (l testLogger) Infof(format string, v ...any)  { l.t.Logf("INFO : "+format, v...) }
func (l testLogger) Warnf(format string, v ...any)  { l.t.Logf("WARN : "+format, v...) }
func (l testLogger) Errorf(format string, v ...any) { l.t.Logf("ERROR: "+format, v...) }

type fakeTickRunner struct {
	report  watcher.TickReport
	err     error
	lastNow time.Time
	calls   int
}

func (f *fakeTickRunner) RunTick(_ context.Context, now time.Time) (watcher.TickReport, error) {
	f.calls++
	f.lastNow = now
	return f.report, f.err
}

func newTestServer(t *testing.T, runner *fakeTickRunner) (Server, jwk.Key) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "watches.json"), testLogger{t})
	require.NoError(t, err)
	key, err := jwk.FromRaw([]byte("test-secret-key"))
	require.NoError(t, err)
	return Server{
		Store:         st,
		Watcher:       runner,
		Logger:        testLogger{t},
		AuthSecretKey: key,
	}, key
}

func signedToken(t *testing.T, key jwk.Key, expiresIn time.Duration) string {
	t.Helper()
	tok, err := jwt.NewBuilder().Expiration(time.Now().Add(expiresIn)).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, key))
	require.NoError(t, err)
	return string(signed)
}

func doRequest(s Server, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s, _ := newTestServer(t, &fakeTickRunner{})
	rec := doRequest(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTickRejectsMissingToken(t *testing.T) {
	runner := &fakeTickRunner{}
	s, _ := newTestServer(t, runner)
	rec := doRequest(s, http.MethodPost, "/api/watcher/tick", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestTickRejectsBadToken(t *testing.T) {
	runner := &fakeTickRunner{}
	s, _ := newTestServer(t, runner)
	rec := doRequest(s, http.MethodPost, "/api/watcher/tick", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestTickRejectsExpiredToken(t *testing.T) {
	runner := &fakeTickRunner{}
	s, key := newTestServer(t, runner)
	rec := doRequest(s, http.MethodPost, "/api/watcher/tick", signedToken(t, key, -time.Hour), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestTickRunsAndReports(t *testing.T) {
	runner := &fakeTickRunner{report: watcher.TickReport{Checked: 3, Notified: 1, Skipped: 1}}
	s, key := newTestServer(t, runner)

	rec := doRequest(s, http.MethodPost, "/api/watcher/tick", signedToken(t, key, time.Hour), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checked":3,"notified":1,"skipped":1}`, rec.Body.String())
	assert.Equal(t, 1, runner.calls)
	assert.WithinDuration(t, time.Now(), runner.lastNow, time.Minute)
}

func TestTickNowOverride(t *testing.T) {
	runner := &fakeTickRunner{}
	s, key := newTestServer(t, runner)

	rec := doRequest(s, http.MethodPost, "/api/watcher/tick", signedToken(t, key, time.Hour),
		`{"now": "2026-01-02T03:04:05Z"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	want, _ := time.Parse(time.RFC3339, "2026-01-02T03:04:05Z")
	assert.True(t, runner.lastNow.Equal(want))
}

func TestTickBadNowOverride(t *testing.T) {
	runner := &fakeTickRunner{}
	s, key := newTestServer(t, runner)

	rec := doRequest(s, http.MethodPost, "/api/watcher/tick", signedToken(t, key, time.Hour),
		`{"now": "domani"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestTickMalformedBody(t *testing.T) {
	runner := &fakeTickRunner{}
	s, key := newTestServer(t, runner)

	rec := doRequest(s, http.MethodPost, "/api/watcher/tick", signedToken(t, key, time.Hour), `{ not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestTickReportsFailure(t *testing.T) {
	runner := &fakeTickRunner{
		report: watcher.TickReport{Checked: 2},
		err:    errors.New("disk full"),
	}
	s, key := newTestServer(t, runner)

	rec := doRequest(s, http.MethodPost, "/api/watcher/tick", signedToken(t, key, time.Hour), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":"error","checked":2,"notified":0,"skipped":0}`, rec.Body.String())
}

func TestWatchGetForChat(t *testing.T) {
	s, key := newTestServer(t, &fakeTickRunner{})
	thr := decimal.NewFromInt(100)
	require.NoError(t, s.Store.SetThreshold(42, "B08XYZ1234", thr))

	rec := doRequest(s, http.MethodGet, "/api/watch/42", signedToken(t, key, time.Hour), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chat_id":42`)
	assert.Contains(t, rec.Body.String(), `"B08XYZ1234"`)

	rec = doRequest(s, http.MethodGet, "/api/watch/notanumber", signedToken(t, key, time.Hour), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
