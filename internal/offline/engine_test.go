package offline_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"lessonvault/internal/offline"
)

func TestEngine_PreparePlayback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	asset := []byte("the first lesson, read aloud")
	h.authority.add("lessonA", asset)
	h.download(t, "u1", "lessonA")

	handle, err := h.engine.PreparePlayback(ctx, "lessonA", "u1")
	if err != nil {
		t.Fatalf("PreparePlayback() error = %v", err)
	}
	if state, _ := h.tracker.Get("lessonA"); state != offline.StatePlaying {
		t.Errorf("state = %v, want %v", state, offline.StatePlaying)
	}
	if handle.Size() != int64(len(asset)) {
		t.Errorf("Size() = %d, want %d", handle.Size(), len(asset))
	}

	r, err := handle.Reader()
	if err != nil {
		t.Fatalf("Reader() error = %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, asset) {
		t.Errorf("plaintext = %q, want %q", got, asset)
	}

	// A cached key means no server round trip.
	if _, _, reissues, _ := h.authority.counts(); reissues != 0 {
		t.Errorf("reissues = %d, want 0", reissues)
	}

	handle.Release()
	handle.Release()
	if handle.Size() != 0 {
		t.Errorf("Size() after Release = %d, want 0", handle.Size())
	}
	if _, err := handle.Reader(); !errors.Is(err, offline.ErrReleased) {
		t.Errorf("Reader() after Release error = %v, want %v", err, offline.ErrReleased)
	}
	if state, _ := h.tracker.Get("lessonA"); state != offline.StateDownloaded {
		t.Errorf("state after Release = %v, want %v", state, offline.StateDownloaded)
	}
}

func TestEngine_PlaysAfterFailedRedownload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	asset := []byte("lesson kept from the first download")
	h.authority.add("lessonA", asset)
	h.download(t, "u1", "lessonA")

	h.fetcher.hook = func(context.Context) error { return errors.New("connection reset") }
	if _, err := h.downloader.Download(ctx, "u1", "lessonA", nil); err == nil {
		t.Fatal("Download() error = nil, want fetch failure")
	}
	if state, _ := h.tracker.Get("lessonA"); state != offline.StateError {
		t.Fatalf("state after failed download = %v, want %v", state, offline.StateError)
	}

	handle, err := h.engine.PreparePlayback(ctx, "lessonA", "u1")
	if err != nil {
		t.Fatalf("PreparePlayback() error = %v", err)
	}
	r, err := handle.Reader()
	if err != nil {
		t.Fatalf("Reader() error = %v", err)
	}
	if got, _ := io.ReadAll(r); !bytes.Equal(got, asset) {
		t.Errorf("plaintext = %q, want %q", got, asset)
	}
	if state, _ := h.tracker.Get("lessonA"); state != offline.StatePlaying {
		t.Errorf("state = %v, want %v", state, offline.StatePlaying)
	}
	handle.Release()
	if state, _ := h.tracker.Get("lessonA"); state != offline.StateDownloaded {
		t.Errorf("state after Release = %v, want %v", state, offline.StateDownloaded)
	}
}

func TestEngine_ConcurrentHandles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.authority.add("lessonA", []byte("lesson"))
	h.download(t, "u1", "lessonA")

	first, err := h.engine.PreparePlayback(ctx, "lessonA", "u1")
	if err != nil {
		t.Fatalf("PreparePlayback() error = %v", err)
	}
	second, err := h.engine.PreparePlayback(ctx, "lessonA", "u1")
	if err != nil {
		t.Fatalf("second PreparePlayback() error = %v", err)
	}

	first.Release()
	if state, _ := h.tracker.Get("lessonA"); state != offline.StatePlaying {
		t.Errorf("state with one handle open = %v, want %v", state, offline.StatePlaying)
	}
	if _, err := second.Reader(); err != nil {
		t.Errorf("Reader() on open handle error = %v", err)
	}
	if err := h.downloader.Delete(ctx, "u1", "lessonA"); !errors.Is(err, offline.ErrInvalidTransition) {
		t.Errorf("Delete() while playing error = %v, want %v", err, offline.ErrInvalidTransition)
	}

	second.Release()
	if state, _ := h.tracker.Get("lessonA"); state != offline.StateDownloaded {
		t.Errorf("state after last Release = %v, want %v", state, offline.StateDownloaded)
	}
	if h.tracker.Playing("lessonA") {
		t.Error("Playing() = true after last Release")
	}
	if err := h.downloader.Delete(ctx, "u1", "lessonA"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestEngine_KeyCacheMissReissues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.authority.add("lessonA", []byte("lesson"))
	h.download(t, "u1", "lessonA")
	if err := h.keys.Remove(ctx, "lessonA"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	handle, err := h.engine.PreparePlayback(ctx, "lessonA", "u1")
	if err != nil {
		t.Fatalf("PreparePlayback() error = %v", err)
	}
	handle.Release()

	if _, _, reissues, _ := h.authority.counts(); reissues != 1 {
		t.Errorf("reissues = %d, want 1", reissues)
	}
	if _, err := h.keys.Get(ctx, "lessonA"); err != nil {
		t.Errorf("cached key after reissue error = %v", err)
	}
}

func TestEngine_RevokedLicense(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.authority.add("lessonA", []byte("lesson"))
	h.download(t, "u1", "lessonA")
	h.authority.setReissueErr(offline.ErrLicenseRevoked)

	// The cached key still opens the package offline.
	handle, err := h.engine.PreparePlayback(ctx, "lessonA", "u1")
	if err != nil {
		t.Fatalf("PreparePlayback() with cached key error = %v", err)
	}
	handle.Release()

	if err := h.keys.Remove(ctx, "lessonA"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	_, err = h.engine.PreparePlayback(ctx, "lessonA", "u1")
	if !errors.Is(err, offline.ErrLicenseRevoked) {
		t.Fatalf("PreparePlayback() error = %v, want %v", err, offline.ErrLicenseRevoked)
	}
	if state, _ := h.tracker.Get("lessonA"); state != offline.StateRevoked {
		t.Errorf("state = %v, want %v", state, offline.StateRevoked)
	}
}

func TestEngine_CorruptPackage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.authority.add("lessonA", []byte("lesson"))
	h.download(t, "u1", "lessonA")

	raw, ok := h.mem.Raw("lessonA")
	if !ok {
		t.Fatal("Raw() found nothing")
	}
	pkg, err := offline.UnmarshalPackage(raw)
	if err != nil {
		t.Fatalf("UnmarshalPackage() error = %v", err)
	}
	pkg.Data[0] ^= 0x01
	tampered, err := pkg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	h.mem.PutRaw("lessonA", tampered)
	if err := h.keys.Remove(ctx, "lessonA"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	_, err = h.engine.PreparePlayback(ctx, "lessonA", "u1")
	if !errors.Is(err, offline.ErrCorruptPackage) {
		t.Fatalf("PreparePlayback() error = %v, want %v", err, offline.ErrCorruptPackage)
	}
	if !offline.IsIntegrityError(err) {
		t.Errorf("IsIntegrityError(%v) = false", err)
	}
	// Integrity is checked before any key is fetched.
	if _, _, reissues, _ := h.authority.counts(); reissues != 0 {
		t.Errorf("reissues = %d, want 0", reissues)
	}
}

func TestEngine_UnreadablePackages(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"future version", `{"version":99,"algorithm":"AES-256-CBC"}`, offline.ErrCorruptPackage},
		{"not json", `garbage`, offline.ErrCorruptPackage},
		{"missing checksum", `{"version":1,"algorithm":"AES-256-CBC","iv":"","data":""}`, offline.ErrCorruptPackage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.mem.PutRaw("lessonA", []byte(tt.raw))
			_, err := h.engine.PreparePlayback(context.Background(), "lessonA", "u1")
			if !errors.Is(err, tt.want) {
				t.Errorf("PreparePlayback() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEngine_WrongKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.authority.add("lessonA", bytes.Repeat([]byte("lesson"), 100))
	h.download(t, "u1", "lessonA")

	// A key cached for another account cannot open the package.
	if err := h.keys.Save(ctx, "lessonA", testKey(t, "u2", "lessonA")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	_, err := h.engine.PreparePlayback(ctx, "lessonA", "u1")
	if !errors.Is(err, offline.ErrDecryptionFailed) {
		t.Errorf("PreparePlayback() error = %v, want %v", err, offline.ErrDecryptionFailed)
	}
}

func TestEngine_NotDownloaded(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.engine.PreparePlayback(context.Background(), "missing", "u1")
	if !errors.Is(err, offline.ErrNotDownloaded) {
		t.Errorf("PreparePlayback() error = %v, want %v", err, offline.ErrNotDownloaded)
	}
}

func TestHandle_Serve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	asset := bytes.Repeat([]byte("0123456789"), 1000)
	h.authority.add("lessonA", asset)
	h.download(t, "u1", "lessonA")

	handle, err := h.engine.PreparePlayback(ctx, "lessonA", "u1")
	if err != nil {
		t.Fatalf("PreparePlayback() error = %v", err)
	}
	defer handle.Release()

	url, err := handle.Serve(ctx)
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if _, err := handle.Serve(ctx); err == nil {
		t.Error("second Serve() error = nil")
	}

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Range", "bytes=10-19")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent || string(body) != "0123456789" {
		t.Errorf("GET range = %d %q", resp.StatusCode, body)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}

	resp, err = http.Get(url + "x")
	if err != nil {
		t.Fatalf("GET wrong token error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET wrong token = %d, want 404", resp.StatusCode)
	}

	handle.Release()
	if resp, err := http.Get(url); err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			t.Error("GET after Release succeeded")
		}
	}
	if _, err := handle.Serve(ctx); !errors.Is(err, offline.ErrReleased) {
		t.Errorf("Serve() after Release error = %v, want %v", err, offline.ErrReleased)
	}
}
