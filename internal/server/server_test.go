package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"lessonvault/internal/api"
	"lessonvault/internal/kdf"
	"lessonvault/internal/license"
	"lessonvault/internal/model"
	"lessonvault/internal/origin"
	"lessonvault/internal/testutil"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	handler http.Handler
	auth    *TokenAuth
	clock   *testutil.StubClock
	origin  *origin.MemoryOrigin
	metrics *Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	ledger := testutil.NewTestLedger(t)
	clock := testutil.FixedClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	signer, err := origin.NewSigner(testutil.TestSecret, "http://licensed.test", clock)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	mem := origin.NewMemoryOrigin(signer)

	registry := license.NewRegistry(ledger, clock, logger)
	authority, err := license.NewAuthority(ledger, registry, mem, license.AuthorityConfig{
		Secret:        testutil.TestSecret,
		DemoContentID: "demo",
	}, clock, testutil.NewStubIDGenerator(), logger)
	if err != nil {
		t.Fatalf("NewAuthority() error = %v", err)
	}

	auth, err := NewTokenAuth(testJWTSecret, "licensed", clock)
	if err != nil {
		t.Fatalf("NewTokenAuth() error = %v", err)
	}

	for _, c := range []*model.Content{
		{ContentID: "lessonA", CourseID: "c1", ObjectKey: "c1/a.mp3", SizeBytes: 11},
		{ContentID: "lessonX", CourseID: "c2", ObjectKey: "c2/x.mp3"},
		{ContentID: "demo", CourseID: "intro", ObjectKey: "demo.mp3"},
	} {
		if err := ledger.UpsertContent(ctx, c); err != nil {
			t.Fatalf("UpsertContent() error = %v", err)
		}
	}
	if err := ledger.UpsertEnrollment(ctx, &model.Enrollment{AccountID: "u1", CourseID: "c1", Active: true, GrantedAt: clock.Now()}); err != nil {
		t.Fatalf("UpsertEnrollment() error = %v", err)
	}
	if err := mem.Put(ctx, "c1/a.mp3", strings.NewReader("lesson data"), 11); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	metrics := NewMetrics()
	srv := New(Options{
		Registry:  registry,
		Authority: authority,
		Origin:    mem,
		Auth:      auth,
		Metrics:   metrics,
		Logger:    logger,
	})
	return &testServer{handler: srv.Handler(), auth: auth, clock: clock, origin: mem, metrics: metrics}
}

func (ts *testServer) token(t *testing.T, account string, admin bool) string {
	t.Helper()
	tok, err := ts.auth.Issue(account, admin, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok
}

// do sends a request and decodes a JSON response into out when non-nil.
func (ts *testServer) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal() error = %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding %s %s response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func (ts *testServer) register(t *testing.T, token, deviceID string) {
	t.Helper()
	code := ts.do(t, http.MethodPost, "/v1/devices", token, api.RegisterDeviceRequest{DeviceID: deviceID, DisplayName: deviceID, Platform: "linux"}, nil)
	if code != http.StatusOK {
		t.Fatalf("register %s status = %d, want 200", deviceID, code)
	}
}

func TestServer_RequiresBearerToken(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res api.ErrorResponse
			code := ts.do(t, http.MethodGet, "/v1/devices", tt.token, nil, &res)
			if code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", code)
			}
			if res.Code != api.CodeUnauthorized {
				t.Errorf("code = %q, want %q", res.Code, api.CodeUnauthorized)
			}
		})
	}
}

func TestServer_ExpiredToken(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tok := ts.token(t, "u1", false)

	ts.clock.Advance(2 * time.Hour)
	if code := ts.do(t, http.MethodGet, "/v1/devices", tok, nil, nil); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
}

func TestServer_Devices(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tok := ts.token(t, "u1", false)

	ts.register(t, tok, "d1")
	ts.register(t, tok, "d2")
	ts.register(t, tok, "d1")

	var list api.DeviceList
	if code := ts.do(t, http.MethodGet, "/v1/devices", tok, nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(list.Devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(list.Devices))
	}

	if code := ts.do(t, http.MethodDelete, "/v1/devices/d2", tok, nil, nil); code != http.StatusNoContent {
		t.Errorf("deactivate status = %d, want 204", code)
	}
	var res api.ErrorResponse
	if code := ts.do(t, http.MethodDelete, "/v1/devices/d2", tok, nil, &res); code != http.StatusForbidden || res.Code != api.CodeDeviceNotRegistered {
		t.Errorf("second deactivate = %d %q, want 403 %q", code, res.Code, api.CodeDeviceNotRegistered)
	}

	// Devices are scoped to the token's account.
	var other api.DeviceList
	ts.do(t, http.MethodGet, "/v1/devices", ts.token(t, "u2", false), nil, &other)
	if len(other.Devices) != 0 {
		t.Errorf("u2 devices = %d, want 0", len(other.Devices))
	}
}

func TestServer_DownloadFlow(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tok := ts.token(t, "u1", false)
	ts.register(t, tok, "d1")

	var grant api.AuthorizeResponse
	code := ts.do(t, http.MethodPost, "/v1/contents/lessonA/authorize", tok, api.AuthorizeRequest{DeviceID: "d1"}, &grant)
	if code != http.StatusOK {
		t.Fatalf("authorize status = %d", code)
	}

	want, err := kdf.Derive("u1", "d1", "lessonA", testutil.TestSecret)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if grant.Key != hex.EncodeToString(want) {
		t.Errorf("key = %s, want derived key", grant.Key)
	}
	if grant.Algorithm != license.AlgorithmAES256CBC {
		t.Errorf("algorithm = %q", grant.Algorithm)
	}
	if grant.Content.SizeBytes != 11 || grant.Content.CourseID != "c1" {
		t.Errorf("content = %+v", grant.Content)
	}

	u, err := url.Parse(grant.FetchURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.Path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch status = %d", rec.Code)
	}
	if rec.Body.String() != "lesson data" {
		t.Errorf("fetch body = %q", rec.Body.String())
	}

	var ok api.OKResponse
	if code := ts.do(t, http.MethodPost, "/v1/contents/lessonA/confirm", tok, api.ConfirmRequest{DeviceID: "d1", FileSizeBytes: 32}, &ok); code != http.StatusOK || !ok.OK {
		t.Fatalf("confirm = %d %v", code, ok.OK)
	}

	var key api.KeyResponse
	if code := ts.do(t, http.MethodPost, "/v1/contents/lessonA/key", tok, api.KeyRequest{DeviceID: "d1"}, &key); code != http.StatusOK {
		t.Fatalf("key status = %d", code)
	}
	if key.Key != grant.Key {
		t.Errorf("reissued key differs from authorized key")
	}

	if code := ts.do(t, http.MethodDelete, "/v1/contents/lessonA/license?deviceId=d1", tok, nil, nil); code != http.StatusNoContent {
		t.Errorf("release status = %d, want 204", code)
	}
	var res api.ErrorResponse
	if code := ts.do(t, http.MethodPost, "/v1/contents/lessonA/key", tok, api.KeyRequest{DeviceID: "d1"}, &res); code != http.StatusConflict || res.Code != api.CodeKeyVerificationFailed {
		t.Errorf("key after release = %d %q", code, res.Code)
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tok := ts.token(t, "u1", false)
	ts.register(t, tok, "d1")

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"unknown device", "/v1/contents/lessonA/authorize", api.AuthorizeRequest{DeviceID: "nope"}, http.StatusForbidden, api.CodeDeviceNotRegistered},
		{"not enrolled", "/v1/contents/lessonX/authorize", api.AuthorizeRequest{DeviceID: "d1"}, http.StatusForbidden, api.CodeNotEntitled},
		{"unknown content", "/v1/contents/missing/authorize", api.AuthorizeRequest{DeviceID: "d1"}, http.StatusNotFound, api.CodeContentNotFound},
		{"missing device id", "/v1/contents/lessonA/authorize", api.AuthorizeRequest{}, http.StatusBadRequest, api.CodeInvalidRequest},
		{"confirm without authorize", "/v1/contents/lessonA/confirm", api.ConfirmRequest{DeviceID: "d1", FileSizeBytes: 1}, http.StatusConflict, api.CodeKeyVerificationFailed},
		{"negative size", "/v1/contents/lessonA/confirm", api.ConfirmRequest{DeviceID: "d1", FileSizeBytes: -1}, http.StatusBadRequest, api.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res api.ErrorResponse
			code := ts.do(t, http.MethodPost, tt.path, tok, tt.body, &res)
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			if res.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", res.Code, tt.wantCode)
			}
		})
	}
}

func TestServer_MalformedBody(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/devices", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+ts.token(t, "u1", false))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestServer_Demo(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tok := ts.token(t, "u1", false)
	ts.register(t, tok, "d1")
	ts.register(t, tok, "d2")

	if code := ts.do(t, http.MethodPost, "/v1/contents/demo/authorize", tok, api.AuthorizeRequest{DeviceID: "d1"}, nil); code != http.StatusOK {
		t.Fatalf("demo authorize status = %d", code)
	}
	if code := ts.do(t, http.MethodPost, "/v1/contents/demo/confirm", tok, api.ConfirmRequest{DeviceID: "d1", FileSizeBytes: 16}, nil); code != http.StatusOK {
		t.Fatalf("demo confirm status = %d", code)
	}

	var res api.ErrorResponse
	code := ts.do(t, http.MethodPost, "/v1/contents/demo/authorize", tok, api.AuthorizeRequest{DeviceID: "d2"}, &res)
	if code != http.StatusConflict || res.Code != api.CodeAlreadyConsumed {
		t.Errorf("second device demo = %d %q, want 409 %q", code, res.Code, api.CodeAlreadyConsumed)
	}
}

func TestServer_AdminRevoke(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tok := ts.token(t, "u1", false)
	admin := ts.token(t, "ops", true)
	ts.register(t, tok, "d1")

	if code := ts.do(t, http.MethodPost, "/v1/contents/lessonA/authorize", tok, api.AuthorizeRequest{DeviceID: "d1"}, nil); code != http.StatusOK {
		t.Fatalf("authorize status = %d", code)
	}

	if code := ts.do(t, http.MethodPost, "/v1/admin/revoke", tok, api.RevokeRequest{AccountID: "u1"}, nil); code != http.StatusForbidden {
		t.Errorf("non-admin revoke status = %d, want 403", code)
	}

	var revoked api.RevokeResponse
	if code := ts.do(t, http.MethodPost, "/v1/admin/revoke", admin, api.RevokeRequest{AccountID: "u1"}, &revoked); code != http.StatusOK {
		t.Fatalf("revoke status = %d", code)
	}
	if revoked.Revoked != 1 {
		t.Errorf("revoked = %d, want 1", revoked.Revoked)
	}

	var res api.ErrorResponse
	code := ts.do(t, http.MethodPost, "/v1/contents/lessonA/authorize", tok, api.AuthorizeRequest{DeviceID: "d1"}, &res)
	if code != http.StatusForbidden || res.Code != api.CodeLicenseRevoked {
		t.Errorf("authorize after revoke = %d %q", code, res.Code)
	}

	var reinstated api.ReinstateResponse
	if code := ts.do(t, http.MethodPost, "/v1/admin/reinstate", admin, api.ReinstateRequest{AccountID: "u1"}, &reinstated); code != http.StatusOK {
		t.Fatalf("reinstate status = %d", code)
	}
	if reinstated.Reinstated != 1 {
		t.Errorf("reinstated = %d, want 1", reinstated.Reinstated)
	}
	if code := ts.do(t, http.MethodPost, "/v1/contents/lessonA/authorize", tok, api.AuthorizeRequest{DeviceID: "d1"}, nil); code != http.StatusOK {
		t.Errorf("authorize after reinstate = %d", code)
	}
}

func TestServer_Fetch(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	signer, err := origin.NewSigner(testutil.TestSecret, "http://licensed.test", ts.clock)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	good, _, err := signer.Sign("c1/a.mp3", time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	missing, _, err := signer.Sign("c1/none.mp3", time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	path := func(raw string) string {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("url.Parse() error = %v", err)
		}
		return u.Path
	}

	get := func(p string, header map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, p, nil)
		for k, v := range header {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := get(path(good), map[string]string{"Range": "bytes=0-5"}); rec.Code != http.StatusPartialContent || rec.Body.String() != "lesson" {
		t.Errorf("range fetch = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(path(missing), nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing fetch = %d, want 404", rec.Code)
	}
	if rec := get("/v1/fetch/garbage", nil); rec.Code != http.StatusForbidden {
		t.Errorf("garbage fetch = %d, want 403", rec.Code)
	}

	ts.clock.Advance(2 * time.Minute)
	if rec := get(path(good), nil); rec.Code != http.StatusGone {
		t.Errorf("expired fetch = %d, want 410", rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tok := ts.token(t, "u1", false)
	ts.register(t, tok, "d1")
	ts.do(t, http.MethodPost, "/v1/contents/lessonX/authorize", tok, api.AuthorizeRequest{DeviceID: "d1"}, nil)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`license_operations_total{operation="authorize",outcome="not_entitled"} 1`,
		`license_operations_total{operation="register_device",outcome="success"} 1`,
		`route="/v1/contents/{contentId}/authorize"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestServer_RateLimit(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	srv := New(Options{
		Registry:  nil,
		Authority: nil,
		Auth:      ts.auth,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		RateLimit: 1,
	})
	h := srv.Handler()
	tok := ts.token(t, "u1", false)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/contents/lessonA/authorize", strings.NewReader("{"))
		req.Header.Set("Authorization", "Bearer "+tok)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusBadRequest {
		t.Fatalf("first request status = %d, want 400", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
