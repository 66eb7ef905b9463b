package handler

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"facescan/internal/auth"
	"facescan/internal/cloudinary"
	"facescan/internal/detection"
	"facescan/internal/faceclient"
	"facescan/internal/history"
	"facescan/internal/queue"
	"facescan/internal/roster"
)

type testServer struct {
	router  *gin.Engine
	handler *Handler
	history *history.Store
	roster  *roster.Store
}

func instantMatch() detection.Detector {
	return detection.DetectorFunc(func(ctx context.Context, image string) (detection.Outcome, error) {
		return detection.Outcome{
			Matched:   true,
			Student:   detection.DemoIdentity,
			Accuracy:  detection.DemoAccuracy,
			Timestamp: time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local),
		}, nil
	})
}

func blocking() detection.Detector {
	return detection.DetectorFunc(func(ctx context.Context, image string) (detection.Outcome, error) {
		<-ctx.Done()
		return detection.Outcome{}, ctx.Err()
	})
}

func newTestServer(t *testing.T, d detection.Detector, with ...func(*Deps)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	students, err := roster.Seed()
	require.NoError(t, err)
	entries, err := history.Seed()
	require.NoError(t, err)
	rs := roster.NewStore(students)
	hs := history.NewStore(entries)

	q := queue.NewInMemory(8)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	go history.NewRecorder(hs, zap.NewNop()).Run(ctx, msgs)

	deps := Deps{
		Roster:   rs,
		History:  hs,
		Detector: d,
		Queue:    q,
		Revoker:  auth.NewMemoryRevoker(),
		Log:      zap.NewNop(),
	}
	for _, f := range with {
		f(&deps)
	}
	h := New(Options{
		Issuer:     "facescan-test",
		SigningKey: "test-key",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}, deps)
	t.Cleanup(h.Close)

	r := gin.New()
	h.Register(r)
	return &testServer{router: r, handler: h, history: hs, roster: rs}
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T, role string) (access, refresh string) {
	t.Helper()
	w := s.do(http.MethodPost, "/v1/login", "", gin.H{"email": "a@kampus.ac.id", "password": "x", "role": role})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken, resp.RefreshToken
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func noticeTitle(body map[string]interface{}) string {
	n, _ := body["notice"].(map[string]interface{})
	title, _ := n["title"].(string)
	return title
}

func TestLoggedOutIsRedirectedToLogin(t *testing.T) {
	s := newTestServer(t, instantMatch())

	for _, path := range []string{"/v1/dashboard", "/v1/students", "/v1/history", "/v1/detection"} {
		w := s.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, "/login", decode(t, w)["redirect"], path)
	}

	w := s.do(http.MethodGet, "/v1/navigate?path=/mahasiswa", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"outcome": "redirect", "path": "/login"}, decode(t, w))

	w = s.do(http.MethodGet, "/v1/navigate?path=/unknown", "", nil)
	assert.Equal(t, "not_found", decode(t, w)["outcome"])
}

func TestLoginValidation(t *testing.T) {
	s := newTestServer(t, instantMatch())

	w := s.do(http.MethodPost, "/v1/login", "", gin.H{"email": "", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Login gagal", noticeTitle(decode(t, w)))

	w = s.do(http.MethodPost, "/v1/login", "", gin.H{"email": "a@b.c", "password": "x", "role": "dosen"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserCannotOpenRoster(t *testing.T) {
	s := newTestServer(t, instantMatch())
	token, _ := s.login(t, "user")

	w := s.do(http.MethodGet, "/v1/students", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "/", decode(t, w)["redirect"])

	w = s.do(http.MethodGet, "/v1/layout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	layout := decode(t, w)
	assert.Equal(t, "User Dashboard", layout["title"])
	assert.Len(t, layout["menu"], 3)

	w = s.do(http.MethodGet, "/v1/session", token, nil)
	body := decode(t, w)
	exp, ok := body["expires_at"].(float64)
	require.True(t, ok, "session reports token expiry")
	assert.InDelta(t, float64(time.Now().Add(time.Minute).Unix()), exp, 5)
	delete(body, "expires_at")
	assert.Equal(t, map[string]interface{}{"logged_in": true, "admin": false, "email": "a@kampus.ac.id", "role": "user"}, body)

	w = s.do(http.MethodGet, "/v1/session", "", nil)
	assert.NotContains(t, decode(t, w), "expires_at")
}

func TestAdminAddsStudent(t *testing.T) {
	s := newTestServer(t, instantMatch())
	token, _ := s.login(t, "admin")

	w := s.do(http.MethodPost, "/v1/students", token, gin.H{"name": "Dewi Lestari", "nim": "190046789", "program": "Sistem Informasi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Berhasil", noticeTitle(body))
	st := body["student"].(map[string]interface{})
	assert.EqualValues(t, 6, st["id"])
	assert.Regexp(t, `^https://i\.pravatar\.cc/150\?img=\d+$`, st["photo"])

	w = s.do(http.MethodPost, "/v1/students", token, gin.H{"name": "Tanpa NIM", "program": "Sistem Informasi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Validasi Gagal", noticeTitle(decode(t, w)))
	assert.Equal(t, 6, s.roster.Count())

	w = s.do(http.MethodGet, "/v1/students?query=sistem", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["total"])

	w = s.do(http.MethodPost, "/v1/students/import", token, nil)
	assert.Equal(t, "Import Berhasil", noticeTitle(decode(t, w)))
}

type fakeCloudinary struct {
	client    *cloudinary.Client
	secureURL string
	hits      atomic.Int32
}

func newFakeCloudinary(t *testing.T) *fakeCloudinary {
	t.Helper()
	f := &fakeCloudinary{secureURL: "https://res.cloudinary.com/demo/image/upload/p1.png"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		_, _ = w.Write([]byte(`{"public_id":"p1","secure_url":"` + f.secureURL + `"}`))
	}))
	t.Cleanup(srv.Close)
	f.client = cloudinary.New("demo", "key", "secret", "")
	f.client.BaseURL = srv.URL
	return f
}

type fakeEnroller struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeEnroller) Enroll(ctx context.Context, userID, image, name string) (*faceclient.EnrollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	if f.err != nil {
		return nil, f.err
	}
	return &faceclient.EnrollResult{}, nil
}

func (f *fakeEnroller) enrolled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestAddStudentUploadsAndEnrolls(t *testing.T) {
	cdn := newFakeCloudinary(t)
	faces := &fakeEnroller{}
	s := newTestServer(t, instantMatch(), func(d *Deps) {
		d.Cloud = cdn.client
		d.Enroller = faces
	})
	token, _ := s.login(t, "admin")

	// rejected before anything leaves the server
	w := s.do(http.MethodPost, "/v1/students", token, gin.H{"name": "Dewi", "nim": "190046789", "program": "Kedokteran", "photo": "data:image/png;base64,AA"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, cdn.hits.Load())
	assert.Empty(t, faces.enrolled())

	w = s.do(http.MethodPost, "/v1/students", token, gin.H{"program": "Kedokteran", "photo": "data:image/png;base64,AA"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, cdn.hits.Load())

	w = s.do(http.MethodPost, "/v1/students", token, gin.H{"name": "Dewi Lestari", "nim": "190046789", "program": "Sistem Informasi", "photo": "data:image/png;base64,AA"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	st := decode(t, w)["student"].(map[string]interface{})
	assert.Equal(t, cdn.secureURL, st["photo"])
	assert.EqualValues(t, 1, cdn.hits.Load())
	assert.Equal(t, []string{"190046789"}, faces.enrolled())

	faces.err = errors.New("face service down")
	w = s.do(http.MethodPost, "/v1/students", token, gin.H{"name": "Eko Saputra", "nim": "190046790", "program": "Sistem Informasi", "photo": "data:image/png;base64,BB"})
	assert.Equal(t, http.StatusCreated, w.Code, "enroll failures keep the student")
	assert.Equal(t, 7, s.roster.Count())
}

func historyIDs(t *testing.T, w *httptest.ResponseRecorder) []int {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Entries []history.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	ids := make([]int, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestHistoryFilterAndSort(t *testing.T) {
	s := newTestServer(t, instantMatch())
	token, _ := s.login(t, "user")

	assert.Equal(t, []int{3, 6}, historyIDs(t, s.do(http.MethodGet, "/v1/history?status=not_found", token, nil)))
	assert.Equal(t, []int{6, 5, 4}, historyIDs(t, s.do(http.MethodGet, "/v1/history?date=2023-05-08&sort=asc", token, nil)))
	assert.Equal(t, []int{1}, historyIDs(t, s.do(http.MethodGet, "/v1/history?search=BUDI", token, nil)))

	w := s.do(http.MethodGet, "/v1/history?sort=sideways", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/v1/history/stats", token, nil)
	assert.Equal(t, map[string]interface{}{"total": 8.0, "match": 6.0, "not_found": 2.0}, decode(t, w))
}

func TestHistoryReport(t *testing.T) {
	s := newTestServer(t, instantMatch())
	token, _ := s.login(t, "user")

	w := s.do(http.MethodGet, "/v1/history/report?status=not_found", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")

	rows, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, []string{"3", "2023-05-09T08:32:22", "", "", "not_found", "", "https://example.com/photos/3.jpg"}, rows[1])
}

func TestDetectionRecordsHistory(t *testing.T) {
	s := newTestServer(t, instantMatch())
	token, _ := s.login(t, "user")

	w := s.do(http.MethodPost, "/v1/detection/detect", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Gambar diperlukan", noticeTitle(decode(t, w)))

	w = s.do(http.MethodPost, "/v1/detection/image", token, gin.H{"image": "data:image/png;base64,AA"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/v1/detection/detect", token, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(http.MethodGet, "/v1/detection?wait=true", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	det := body["detection"].(map[string]interface{})
	assert.Equal(t, "match", det["status"])
	assert.Equal(t, "96.8%", det["accuracy"])
	assert.Equal(t, "Wajah Terdeteksi", noticeTitle(body))

	require.Eventually(t, func() bool { return len(s.history.List()) == 9 }, time.Second, 10*time.Millisecond)
	last := s.history.List()[8]
	assert.Equal(t, 9, last.ID)
	assert.Equal(t, "2024-03-01T09:30:00", last.Timestamp)
	require.NotNil(t, last.StudentName)
	assert.Equal(t, "Budi Santoso", *last.StudentName)
	assert.Empty(t, last.PhotoURL, "inline images are not kept in the history")
}

func TestDetectionPhotoUploadedToCloudinary(t *testing.T) {
	cdn := newFakeCloudinary(t)
	s := newTestServer(t, instantMatch(), func(d *Deps) { d.Cloud = cdn.client })
	token, _ := s.login(t, "user")

	s.do(http.MethodPost, "/v1/detection/image", token, gin.H{"image": "data:image/png;base64,AA"})
	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/detection/detect", token, nil).Code)

	require.Eventually(t, func() bool { return len(s.history.List()) == 9 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, cdn.secureURL, s.history.List()[8].PhotoURL)
	assert.EqualValues(t, 1, cdn.hits.Load())
}

func TestDetectionWaitTimesOut(t *testing.T) {
	s := newTestServer(t, blocking())
	s.handler.maxWait = 20 * time.Millisecond
	token, _ := s.login(t, "user")

	s.do(http.MethodPost, "/v1/detection/image", token, gin.H{"image": "data:image/png;base64,AA"})
	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/detection/detect", token, nil).Code)

	w := s.do(http.MethodGet, "/v1/detection?wait=true", token, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["timed_out"])
	assert.Equal(t, "loading", body["detection"].(map[string]interface{})["status"])
}

func TestExpiredSessionsReleaseMachines(t *testing.T) {
	s := newTestServer(t, blocking())
	now := time.Now()
	s.handler.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		token, _ := s.login(t, "user")
		w := s.do(http.MethodPost, "/v1/detection/image", token, gin.H{"image": "data:image/png;base64,AA"})
		require.Equal(t, http.StatusOK, w.Code)
	}
	require.Equal(t, 5, s.handler.registry.Len())

	now = now.Add(time.Hour + time.Second)
	s.login(t, "user")
	assert.Zero(t, s.handler.registry.Len())
}

func TestLogoutRefusesLateDetectionRequests(t *testing.T) {
	s := newTestServer(t, blocking())
	token, _ := s.login(t, "user")

	// a request that passed the session check before logout
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/detection", nil)
	c.Request.Header.Set("Authorization", "Bearer "+token)
	auth.Sessions("test-key", "facescan-test", s.handler.revoker)(c)
	require.False(t, c.IsAborted())
	require.True(t, auth.SessionFrom(c).LoggedIn)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/logout", token, nil).Code)

	m, ok := s.handler.machine(c)
	assert.False(t, ok)
	assert.Nil(t, m)
	assert.Equal(t, http.StatusUnauthorized, c.Writer.Status())
	assert.Zero(t, s.handler.registry.Len())
}

func TestDetectWhileLoading(t *testing.T) {
	s := newTestServer(t, blocking())
	token, _ := s.login(t, "admin")

	s.do(http.MethodPost, "/v1/detection/image", token, gin.H{"image": "data:image/png;base64,AA"})
	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/detection/detect", token, nil).Code)

	w := s.do(http.MethodPost, "/v1/detection/detect", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/v1/detection/image", token, gin.H{"image": "data:image/png;base64,BB"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/v1/detection/reset", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	det := decode(t, w)["detection"].(map[string]interface{})
	assert.Equal(t, "idle", det["status"])
	assert.Nil(t, det["image"])
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t, blocking())
	token, refresh := s.login(t, "admin")

	s.do(http.MethodPost, "/v1/detection/image", token, gin.H{"image": "data:image/png;base64,AA"})
	require.Equal(t, 1, s.handler.registry.Len())

	w := s.do(http.MethodPost, "/v1/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["logged_in"])
	assert.Zero(t, s.handler.registry.Len())

	w = s.do(http.MethodGet, "/v1/session", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/v1/refresh", "", gin.H{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/v1/logout", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefreshKeepsSession(t *testing.T) {
	s := newTestServer(t, instantMatch())
	_, refresh := s.login(t, "admin")

	w := s.do(http.MethodPost, "/v1/refresh", "", gin.H{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := decode(t, w)["access_token"].(string)

	w = s.do(http.MethodGet, "/v1/students", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/v1/refresh", "", gin.H{"refresh_token": token})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "access tokens cannot refresh")
}

func TestDashboardSummary(t *testing.T) {
	s := newTestServer(t, instantMatch())
	s.handler.now = func() time.Time { return time.Date(2023, 5, 9, 10, 0, 0, 0, time.Local) }
	token, _ := s.login(t, "admin")

	w := s.do(http.MethodGet, "/v1/dashboard", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 5, body["total_students"])
	assert.EqualValues(t, 3, body["detections_today"])
	assert.Len(t, body["recent"], 4)
}

func TestEntryFromResult(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)

	e, ok := entryFromResult("https://res.cloudinary.com/demo/p1.png", detection.Result{Status: detection.StatusNotFound, Timestamp: &ts})
	require.True(t, ok)
	assert.Equal(t, "https://res.cloudinary.com/demo/p1.png", e.PhotoURL)
	assert.NoError(t, e.Validate())
	assert.Nil(t, e.StudentName)

	_, ok = entryFromResult("", detection.Result{Status: detection.StatusIdle})
	assert.False(t, ok)
}

func TestLoginIsRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(Options{Issuer: "i", SigningKey: "k", AccessTTL: time.Minute, RefreshTTL: time.Hour, LoginLimit: 1}, Deps{
		Roster:   roster.NewStore(nil),
		History:  history.NewStore(nil),
		Detector: instantMatch(),
		Queue:    queue.NewInMemory(1),
		Revoker:  auth.NewMemoryRevoker(),
	})
	defer h.Close()
	r := gin.New()
	h.Register(r)
	s := &testServer{router: r, handler: h}

	body := gin.H{"email": "a@b.c", "password": "x"}
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/login", "", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodPost, "/v1/login", "", body).Code)
}
