package authclient_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"lessonvault/internal/authclient"
	"lessonvault/internal/kdf"
	"lessonvault/internal/offline"
	"lessonvault/internal/testutil"
	"lessonvault/internal/testutil/testserver"
)

func TestClient_DownloadProtocol(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := testserver.New(t)
	asset := bytes.Repeat([]byte("lesson"), 1000)
	env.AddContent(t, "lessonA", "c1", asset)
	env.Enroll(t, "u1", "c1")
	tok := env.Token(t, "u1", false)

	c := authclient.New(env.URL, "d1", nil)
	dev, err := c.RegisterDevice(ctx, tok, "laptop", "linux")
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	if dev.DeviceID != "d1" || !dev.Active {
		t.Errorf("RegisterDevice() = %+v", dev)
	}

	devices, err := c.ListDevices(ctx, tok)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("ListDevices() = %d devices, want 1", len(devices))
	}

	grant, err := c.Authorize(ctx, tok, "lessonA")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	want, err := kdf.Derive("u1", "d1", "lessonA", testutil.TestSecret)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if !bytes.Equal(grant.Key, want) {
		t.Error("Authorize() key differs from derived key")
	}
	if grant.Content.SizeBytes != int64(len(asset)) || grant.Content.CourseID != "c1" {
		t.Errorf("Authorize() content = %+v", grant.Content)
	}

	var buf bytes.Buffer
	var lastReceived, lastTotal int64
	n, err := authclient.NewHTTPFetcher(nil).Fetch(ctx, grant.FetchURL, &buf, func(received, total int64) {
		lastReceived, lastTotal = received, total
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if n != int64(len(asset)) || !bytes.Equal(buf.Bytes(), asset) {
		t.Errorf("Fetch() returned %d bytes, want %d", n, len(asset))
	}
	if lastReceived != int64(len(asset)) || lastTotal != int64(len(asset)) {
		t.Errorf("last progress = %d/%d", lastReceived, lastTotal)
	}

	if err := c.Confirm(ctx, tok, "lessonA", int64(len(asset))); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	key, err := c.ReissueKey(ctx, tok, "lessonA")
	if err != nil {
		t.Fatalf("ReissueKey() error = %v", err)
	}
	if !bytes.Equal(key, want) {
		t.Error("ReissueKey() key differs from derived key")
	}

	if err := c.Release(ctx, tok, "lessonA"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := c.ReissueKey(ctx, tok, "lessonA"); !errors.Is(err, offline.ErrKeyVerificationFailed) {
		t.Errorf("ReissueKey() after release error = %v, want %v", err, offline.ErrKeyVerificationFailed)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := testserver.New(t)
	env.AddContent(t, "lessonA", "c1", []byte("a"))
	env.AddContent(t, testserver.DemoID, "intro", []byte("demo"))
	tok := env.Token(t, "u1", false)

	registered := authclient.New(env.URL, "d1", nil)
	if _, err := registered.RegisterDevice(ctx, tok, "d1", "linux"); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	// The demo is consumed by d1 before the table runs.
	if _, err := registered.Authorize(ctx, tok, testserver.DemoID); err != nil {
		t.Fatalf("Authorize(demo) error = %v", err)
	}
	if err := registered.Confirm(ctx, tok, testserver.DemoID, 4); err != nil {
		t.Fatalf("Confirm(demo) error = %v", err)
	}

	tests := []struct {
		name    string
		client  *authclient.Client
		token   string
		content string
		want    error
	}{
		{"unregistered device", authclient.New(env.URL, "ghost", nil), tok, "lessonA", offline.ErrDeviceNotRegistered},
		{"not enrolled", registered, tok, "lessonA", offline.ErrNotEntitled},
		{"demo consumed", registered, tok, testserver.DemoID, offline.ErrAlreadyConsumed},
		{"unknown content", registered, tok, "missing", offline.ErrNotFound},
		{"bad token", registered, "garbage", "lessonA", authclient.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.Authorize(ctx, tt.token, tt.content)
			if !errors.Is(err, tt.want) {
				t.Errorf("Authorize() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_ReissueAfterRevoke(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := testserver.New(t)
	env.AddContent(t, "lessonA", "c1", []byte("a"))
	env.Enroll(t, "u1", "c1")
	tok := env.Token(t, "u1", false)

	c := authclient.New(env.URL, "d1", nil)
	if _, err := c.RegisterDevice(ctx, tok, "d1", "linux"); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	if _, err := c.Authorize(ctx, tok, "lessonA"); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if _, err := env.Ledger.RevokeLicenses(ctx, "u1", "", ""); err != nil {
		t.Fatalf("RevokeLicenses() error = %v", err)
	}

	_, err := c.ReissueKey(ctx, tok, "lessonA")
	if !errors.Is(err, offline.ErrLicenseRevoked) {
		t.Errorf("ReissueKey() error = %v, want %v", err, offline.ErrLicenseRevoked)
	}
	if !offline.IsEntitlementError(err) {
		t.Error("IsEntitlementError() = false for a revoked license")
	}
}

func TestClient_UnknownErrorBody(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	c := authclient.New(ts.URL, "d1", nil)
	err := c.Confirm(context.Background(), "tok", "lessonA", 1)
	if err == nil {
		t.Fatal("Confirm() error = nil")
	}
	if offline.IsEntitlementError(err) || offline.IsIntegrityError(err) {
		t.Errorf("Confirm() error = %v, want a generic error", err)
	}
}

func TestHTTPFetcher_Errors(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/short":
			w.Header().Set("Content-Length", "100")
			w.Write([]byte("only ten b"))
		}
	}))
	defer ts.Close()

	f := authclient.NewHTTPFetcher(nil)
	for _, path := range []string{"/gone", "/short"} {
		var buf bytes.Buffer
		if _, err := f.Fetch(context.Background(), ts.URL+path, &buf, nil); err == nil {
			t.Errorf("Fetch(%s) error = nil", path)
		}
	}
}
