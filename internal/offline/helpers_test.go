package offline_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"lessonvault/internal/encryption"
	"lessonvault/internal/kdf"
	"lessonvault/internal/keycache"
	"lessonvault/internal/offline"
	"lessonvault/internal/spool"
	"lessonvault/internal/store"
	"lessonvault/internal/testutil"
)

const testDevice = "d1"

func testKey(t *testing.T, token, contentID string) []byte {
	t.Helper()
	key, err := kdf.Derive(token, testDevice, contentID, testutil.TestSecret)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	return key
}

// fakeAuthority serves grants for assets held in memory. The token is used
// as the account id.
type fakeAuthority struct {
	mu           sync.Mutex
	assets       map[string][]byte
	authorizeErr error
	reissueErr   error
	confirmErr   error
	authorizes   int
	confirms     int
	reissues     int
	releases     int
	confirmed    map[string]int64
}

var _ offline.Authority = (*fakeAuthority)(nil)

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{
		assets:    make(map[string][]byte),
		confirmed: make(map[string]int64),
	}
}

func (a *fakeAuthority) add(contentID string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assets[contentID] = data
}

func (a *fakeAuthority) asset(contentID string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.assets[contentID]
	return data, ok
}

func (a *fakeAuthority) setReissueErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reissueErr = err
}

func (a *fakeAuthority) counts() (authorizes, confirms, reissues, releases int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authorizes, a.confirms, a.reissues, a.releases
}

func (a *fakeAuthority) Authorize(_ context.Context, token, contentID string) (*offline.Grant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authorizes++
	if a.authorizeErr != nil {
		return nil, a.authorizeErr
	}
	data, ok := a.assets[contentID]
	if !ok {
		return nil, offline.ErrNotFound
	}
	key, err := kdf.Derive(token, testDevice, contentID, testutil.TestSecret)
	if err != nil {
		return nil, err
	}
	return &offline.Grant{
		FetchURL:  "mem://" + contentID,
		Key:       key,
		Algorithm: encryption.AlgorithmAES256CBC,
		Content: offline.ContentInfo{
			ContentID: contentID,
			CourseID:  "c1",
			Title:     "Lesson " + contentID,
			SizeBytes: int64(len(data)),
		},
	}, nil
}

func (a *fakeAuthority) Confirm(_ context.Context, _, contentID string, size int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirms++
	if a.confirmErr != nil {
		return a.confirmErr
	}
	a.confirmed[contentID] = size
	return nil
}

func (a *fakeAuthority) ReissueKey(_ context.Context, token, contentID string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reissues++
	if a.reissueErr != nil {
		return nil, a.reissueErr
	}
	return kdf.Derive(token, testDevice, contentID, testutil.TestSecret)
}

func (a *fakeAuthority) Release(context.Context, string, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releases++
	return nil
}

// fakeFetcher streams assets from a fakeAuthority in fixed chunks. hook runs
// before the first byte is written.
type fakeFetcher struct {
	authority *fakeAuthority
	chunk     int
	hook      func(ctx context.Context) error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, w io.Writer, progress func(received, total int64)) (int64, error) {
	contentID := strings.TrimPrefix(url, "mem://")
	data, ok := f.authority.asset(contentID)
	if !ok {
		return 0, fmt.Errorf("no asset at %s", url)
	}
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return 0, err
		}
	}

	chunk := f.chunk
	if chunk <= 0 {
		chunk = 64 << 10
	}
	total := int64(len(data))
	var written int64
	for written < total {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		end := min(written+int64(chunk), total)
		n, err := w.Write(data[written:end])
		written += int64(n)
		if err != nil {
			return written, err
		}
		if progress != nil {
			progress(written, total)
		}
	}
	return written, nil
}

// failingSaveStore fails the next n saves with err.
type failingSaveStore struct {
	offline.Store
	mu  sync.Mutex
	n   int
	err error
}

func (s *failingSaveStore) Save(ctx context.Context, contentID string, pkg *offline.Package) error {
	s.mu.Lock()
	if s.n > 0 {
		s.n--
		s.mu.Unlock()
		return s.err
	}
	s.mu.Unlock()
	return s.Store.Save(ctx, contentID, pkg)
}

type harness struct {
	authority  *fakeAuthority
	fetcher    *fakeFetcher
	mem        *store.MemoryStore
	keys       *keycache.MemoryStore
	tracker    *offline.Tracker
	packager   *offline.Packager
	downloader *offline.Downloader
	engine     *offline.Engine
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore wires the client. A nil wrap uses the memory store
// directly.
func newHarnessWithStore(t *testing.T, wrap func(offline.Store) offline.Store) *harness {
	t.Helper()
	h := &harness{
		authority: newFakeAuthority(),
		mem:       store.NewMemoryStore(0),
		keys:      keycache.NewMemoryStore(),
		tracker:   offline.NewTracker(),
		packager:  offline.NewPackager(encryption.NewRegistry(), testutil.FixedClock()),
	}
	h.fetcher = &fakeFetcher{authority: h.authority}

	var s offline.Store = h.mem
	if wrap != nil {
		s = wrap(h.mem)
	}
	logger := offline.NewNopLogger()
	h.downloader = offline.NewDownloader(offline.DownloaderDeps{
		Authority: h.authority,
		Fetcher:   h.fetcher,
		Spool:     spool.NewMemorySpool(spool.DefaultMaxSize),
		Packager:  h.packager,
		Store:     s,
		Keys:      h.keys,
		Tracker:   h.tracker,
		Clock:     testutil.FixedClock(),
		Logger:    logger,
	})
	h.engine = offline.NewEngine(s, h.keys, h.authority, h.packager, h.tracker, logger)
	return h
}

func (h *harness) download(t *testing.T, token, contentID string) *offline.IndexEntry {
	t.Helper()
	entry, err := h.downloader.Download(context.Background(), token, contentID, nil)
	if err != nil {
		t.Fatalf("Download(%s) error = %v", contentID, err)
	}
	return entry
}
