// Package testserver runs a license server on an httptest listener.
package testserver

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lessonvault/internal/database"
	"lessonvault/internal/license"
	"lessonvault/internal/model"
	"lessonvault/internal/origin"
	"lessonvault/internal/server"
	"lessonvault/internal/testutil"
)

const jwtSecret = "test-jwt-secret-0123456789abcdef"

// DemoID is the content id of the demo lesson.
const DemoID = "demo"

// Env is a running server with its collaborators exposed.
type Env struct {
	URL    string
	Ledger *database.SQLiteLedger
	Origin *origin.MemoryOrigin
	Clock  *testutil.StubClock
	Auth   *server.TokenAuth
}

// New starts a server backed by an in-memory ledger and origin. The server
// is closed when the test completes.
func New(t *testing.T) *Env {
	t.Helper()

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	ledger := testutil.NewTestLedger(t)
	clock := testutil.FixedClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	signer, err := origin.NewSigner(testutil.TestSecret, ts.URL, clock)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	mem := origin.NewMemoryOrigin(signer)

	registry := license.NewRegistry(ledger, clock, logger)
	authority, err := license.NewAuthority(ledger, registry, mem, license.AuthorityConfig{
		Secret:        testutil.TestSecret,
		DemoContentID: DemoID,
	}, clock, testutil.NewStubIDGenerator(), logger)
	if err != nil {
		t.Fatalf("NewAuthority() error = %v", err)
	}

	auth, err := server.NewTokenAuth(jwtSecret, "", clock)
	if err != nil {
		t.Fatalf("NewTokenAuth() error = %v", err)
	}

	handler = server.New(server.Options{
		Registry:  registry,
		Authority: authority,
		Origin:    mem,
		Auth:      auth,
		Logger:    logger,
	}).Handler()

	return &Env{URL: ts.URL, Ledger: ledger, Origin: mem, Clock: clock, Auth: auth}
}

// Token issues an account token valid for a day.
func (e *Env) Token(t *testing.T, accountID string, admin bool) string {
	t.Helper()
	tok, err := e.Auth.Issue(accountID, admin, 24*time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok
}

// AddContent publishes data as contentID in courseID.
func (e *Env) AddContent(t *testing.T, contentID, courseID string, data []byte) {
	t.Helper()
	ctx := context.Background()
	key := courseID + "/" + contentID + ".mp3"
	if err := e.Origin.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	err := e.Ledger.UpsertContent(ctx, &model.Content{
		ContentID: contentID,
		CourseID:  courseID,
		Title:     "Lesson " + contentID,
		ObjectKey: key,
		SizeBytes: int64(len(data)),
		IsDemo:    contentID == DemoID,
	})
	if err != nil {
		t.Fatalf("UpsertContent() error = %v", err)
	}
}

// Enroll grants accountID an active enrollment in courseID.
func (e *Env) Enroll(t *testing.T, accountID, courseID string) {
	t.Helper()
	err := e.Ledger.UpsertEnrollment(context.Background(), &model.Enrollment{
		AccountID: accountID,
		CourseID:  courseID,
		Active:    true,
		GrantedAt: e.Clock.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertEnrollment() error = %v", err)
	}
}
