package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"room-reserve/internal/domain"
	"room-reserve/internal/service"
	"room-reserve/internal/storage"
)

type userServiceStub struct {
	users map[string]*domain.User
}

func (s *userServiceStub) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, ok := s.users[username]
	if !ok || password != "letmein" {
		return nil, service.ErrInvalidCredentials
	}
	return user, nil
}

func (s *userServiceStub) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	for _, user := range s.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, service.ErrInvalidCredentials
}

func (s *userServiceStub) SeedAdmin(ctx context.Context, username, password string) (bool, error) {
	return false, nil
}

type reservationServiceStub struct {
	created      []domain.Reservation
	listResponse map[int64][]domain.Reservation
	all          []domain.Reservation
}

func (s *reservationServiceStub) Create(ctx context.Context, actor domain.Actor, startStr, endStr string) (*domain.Reservation, error) {
	if actor.Role != domain.RoleStudent {
		return nil, service.ErrPermissionDenied
	}
	start, err := time.ParseInLocation(domain.TimeLayout, startStr, time.UTC)
	if err != nil {
		return nil, service.ErrMalformedTime
	}
	end, err := time.ParseInLocation(domain.TimeLayout, endStr, time.UTC)
	if err != nil {
		return nil, service.ErrMalformedTime
	}
	if !end.After(start) {
		return nil, service.ErrInvalidTimeRange
	}
	res := domain.Reservation{
		ID:          int64(len(s.created) + 1),
		UserID:      actor.ID,
		Username:    actor.Username,
		StartTime:   start,
		EndTime:     end,
		Status:      domain.ReservationStatusConfirmed,
		ReceiptPath: "receipt_1.png",
	}
	s.created = append(s.created, res)
	return &res, nil
}

func (s *reservationServiceStub) List(ctx context.Context, actor domain.Actor) ([]domain.Reservation, error) {
	if actor.Role == domain.RoleAdmin {
		return s.all, nil
	}
	return s.listResponse[actor.ID], nil
}

func (s *reservationServiceStub) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func testUsers() map[string]*domain.User {
	return map[string]*domain.User{
		"admin": {ID: 1, Username: "admin", Role: domain.RoleAdmin},
		"alice": {ID: 2, Username: "alice", Role: domain.RoleStudent},
	}
}

func newTestRouter(t *testing.T, reservations *reservationServiceStub) (*gin.Engine, *SessionManager, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	receiptsDir := t.TempDir()
	sessions := NewSessionManager("test-secret", time.Hour)
	handler := NewHandler(&userServiceStub{users: testUsers()}, reservations, sessions, nil, "", receiptsDir, "/receipts", t.TempDir())

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, sessions, receiptsDir
}

func sessionCookieFor(t *testing.T, sessions *SessionManager, user *domain.User) *http.Cookie {
	t.Helper()
	token, err := sessions.Issue(user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return &http.Cookie{Name: sessionCookie, Value: token}
}

func TestLoginSuccessSetsCookie(t *testing.T) {
	router, _, _ := newTestRouter(t, &reservationServiceStub{})

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"admin","password":"letmein"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Success     bool   `json:"success"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Success || body.RedirectURL != "/" {
		t.Fatalf("unexpected body %+v", body)
	}

	var found bool
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookie && cookie.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected session cookie to be set")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	router, _, _ := newTestRouter(t, &reservationServiceStub{})

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"admin","password":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success || body.Message == "" {
		t.Fatalf("unexpected body %+v", body)
	}
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookie && cookie.Value != "" {
			t.Fatal("no session cookie should be set on failed login")
		}
	}
}

func TestReserveRequiresSession(t *testing.T) {
	router, _, _ := newTestRouter(t, &reservationServiceStub{})

	req := httptest.NewRequest(http.MethodPost, "/reserve", strings.NewReader(`{"start_time":"2024-01-01T10:00:00","end_time":"2024-01-01T11:00:00"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestReserveForbiddenForAdmin(t *testing.T) {
	reservations := &reservationServiceStub{}
	router, sessions, _ := newTestRouter(t, reservations)

	req := httptest.NewRequest(http.MethodPost, "/reserve", strings.NewReader(`{"start_time":"2024-01-01T10:00:00","end_time":"2024-01-01T11:00:00"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(sessionCookieFor(t, sessions, testUsers()["admin"]))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(reservations.created) != 0 {
		t.Fatalf("expected no reservation created, got %d", len(reservations.created))
	}
}

func TestReserveAsStudent(t *testing.T) {
	reservations := &reservationServiceStub{}
	router, sessions, _ := newTestRouter(t, reservations)

	req := httptest.NewRequest(http.MethodPost, "/reserve", strings.NewReader(`{"start_time":"2024-01-01T10:00:00","end_time":"2024-01-01T11:00:00"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(sessionCookieFor(t, sessions, testUsers()["alice"]))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Success {
		t.Fatalf("expected success, got %s", rec.Body.String())
	}
	if len(reservations.created) != 1 {
		t.Fatalf("expected one reservation, got %d", len(reservations.created))
	}
}

func TestReserveMalformedTimes(t *testing.T) {
	router, sessions, _ := newTestRouter(t, &reservationServiceStub{})

	req := httptest.NewRequest(http.MethodPost, "/reserve", strings.NewReader(`{"start_time":"yesterday","end_time":"tomorrow"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(sessionCookieFor(t, sessions, testUsers()["alice"]))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListReservationsScopedByRole(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	aliceRes := domain.Reservation{
		ID: 1, UserID: 2, Username: "alice",
		StartTime: start, EndTime: start.Add(time.Hour),
		Status: domain.ReservationStatusConfirmed, ReceiptPath: "receipt_1.png",
	}
	bobRes := domain.Reservation{
		ID: 2, UserID: 3, Username: "bob",
		StartTime: start.Add(24 * time.Hour), EndTime: start.Add(25 * time.Hour),
		Status: domain.ReservationStatusExpired,
	}
	reservations := &reservationServiceStub{
		all:          []domain.Reservation{aliceRes, bobRes},
		listResponse: map[int64][]domain.Reservation{2: {aliceRes}},
	}
	router, sessions, _ := newTestRouter(t, reservations)

	fetch := func(user *domain.User) []ReservationResponse {
		req := httptest.NewRequest(http.MethodGet, "/reservations", nil)
		req.AddCookie(sessionCookieFor(t, sessions, user))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var out []ReservationResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return out
	}

	adminView := fetch(testUsers()["admin"])
	if len(adminView) != 2 {
		t.Fatalf("admin should see 2 reservations, got %d", len(adminView))
	}
	if adminView[0].StartTime != "2024-01-01T10:00:00" {
		t.Fatalf("unexpected start time format %q", adminView[0].StartTime)
	}
	if adminView[0].ReceiptURL == nil || *adminView[0].ReceiptURL != "/receipts/receipt_1.png" {
		t.Fatalf("unexpected receipt url %v", adminView[0].ReceiptURL)
	}
	if adminView[1].ReceiptURL != nil {
		t.Fatalf("expected null receipt url, got %v", *adminView[1].ReceiptURL)
	}

	aliceView := fetch(testUsers()["alice"])
	if len(aliceView) != 1 || aliceView[0].Username != "alice" {
		t.Fatalf("alice should see only her reservation, got %+v", aliceView)
	}
}

func TestListReservationsRequiresSession(t *testing.T) {
	router, _, _ := newTestRouter(t, &reservationServiceStub{})

	req := httptest.NewRequest(http.MethodGet, "/reservations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestReceiptImageRequiresSession(t *testing.T) {
	router, sessions, receiptsDir := newTestRouter(t, &reservationServiceStub{})

	if err := os.WriteFile(filepath.Join(receiptsDir, "receipt_1.png"), []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write receipt: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/receipts/receipt_1.png", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/receipts/receipt_1.png", nil)
	req.AddCookie(sessionCookieFor(t, sessions, testUsers()["alice"]))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with session, got %d", rec.Code)
	}
	if rec.Body.String() != "png-bytes" {
		t.Fatalf("unexpected receipt body %q", rec.Body.String())
	}
}

func TestSessionForUnknownUserRejected(t *testing.T) {
	router, sessions, _ := newTestRouter(t, &reservationServiceStub{})

	ghost := &domain.User{ID: 99, Username: "ghost", Role: domain.RoleStudent}
	req := httptest.NewRequest(http.MethodGet, "/reservations", nil)
	req.AddCookie(sessionCookieFor(t, sessions, ghost))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token without a backing account, got %d", rec.Code)
	}
}

func TestIndexRedirectsWithoutSession(t *testing.T) {
	router, _, _ := newTestRouter(t, &reservationServiceStub{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Fatalf("expected redirect to /login, got %q", loc)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	router, sessions, _ := newTestRouter(t, &reservationServiceStub{})

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(sessionCookieFor(t, sessions, testUsers()["alice"]))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	var cleared bool
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookie && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expected session cookie to be cleared")
	}

	// logout without a session behaves the same
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302 on repeat logout, got %d", rec.Code)
	}
}

type storageStub struct {
	objects    []storage.ObjectInfo
	lastBucket string
	lastPrefix string
}

func (s *storageStub) UploadFile(ctx context.Context, localPath string, opts storage.UploadOptions) (string, error) {
	return "", nil
}

func (s *storageStub) ListObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	s.lastBucket = bucket
	s.lastPrefix = prefix
	return s.objects, nil
}

func newStorageTestRouter(t *testing.T, store storage.Service, bucket string) (*gin.Engine, *SessionManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := NewSessionManager("test-secret", time.Hour)
	handler := NewHandler(&userServiceStub{users: testUsers()}, &reservationServiceStub{}, sessions, store, bucket, t.TempDir(), "/receipts", t.TempDir())

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, sessions
}

func TestListObjectsAdminOnly(t *testing.T) {
	router, sessions := newStorageTestRouter(t, &storageStub{}, "receipts-bucket")

	req := httptest.NewRequest(http.MethodGet, "/storage/objects", nil)
	req.AddCookie(sessionCookieFor(t, sessions, testUsers()["alice"]))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student, got %d", rec.Code)
	}
}

func TestListObjectsReturnsMirroredReceipts(t *testing.T) {
	modified := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &storageStub{
		objects: []storage.ObjectInfo{
			{Key: "receipts/receipt_1.png", Size: 432, LastModified: &modified},
			{Key: "receipts/receipt_2.png", Size: 440},
		},
	}
	router, sessions := newStorageTestRouter(t, store, "receipts-bucket")

	req := httptest.NewRequest(http.MethodGet, "/storage/objects?prefix=receipts", nil)
	req.AddCookie(sessionCookieFor(t, sessions, testUsers()["admin"]))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.lastBucket != "receipts-bucket" || store.lastPrefix != "receipts" {
		t.Fatalf("unexpected list call bucket=%q prefix=%q", store.lastBucket, store.lastPrefix)
	}

	var out []StorageObjectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(out))
	}
	if out[0].Key != "receipts/receipt_1.png" || out[0].Size != 432 {
		t.Fatalf("unexpected object %+v", out[0])
	}
	if out[0].LastModified == nil || *out[0].LastModified != "2024-01-01T12:00:00Z" {
		t.Fatalf("unexpected last modified %v", out[0].LastModified)
	}
	if out[1].LastModified != nil {
		t.Fatalf("expected omitted last modified, got %v", *out[1].LastModified)
	}
}

func TestListObjectsUnconfiguredStorage(t *testing.T) {
	router, sessions := newStorageTestRouter(t, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/storage/objects", nil)
	req.AddCookie(sessionCookieFor(t, sessions, testUsers()["admin"]))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when storage is not configured, got %d", rec.Code)
	}
}
