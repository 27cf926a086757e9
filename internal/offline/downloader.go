package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Progress budget per phase, in percent.
const (
	progressFetched   = 60
	progressEncrypted = 80
	progressDone      = 100
)

// Downloader runs authorize, fetch, encrypt and save for one lesson.
// Concurrent downloads of the same lesson share one run, which is cancelled
// only when every caller waiting on it has gone.
type Downloader struct {
	authority Authority
	fetcher   Fetcher
	spool     Spool
	packager  *Packager
	store     Store
	keys      KeyCache
	tracker   *Tracker
	clock     Clock
	logger    Logger
	group     singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the cancellation scope of a shared run.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// DownloaderDeps wires a Downloader.
type DownloaderDeps struct {
	Authority Authority
	Fetcher   Fetcher
	Spool     Spool
	Packager  *Packager
	Store     Store
	Keys      KeyCache
	Tracker   *Tracker
	Clock     Clock
	Logger    Logger
}

func NewDownloader(d DownloaderDeps) *Downloader {
	return &Downloader{
		authority: d.Authority,
		fetcher:   d.Fetcher,
		spool:     d.Spool,
		packager:  d.Packager,
		store:     d.Store,
		keys:      d.Keys,
		tracker:   d.Tracker,
		clock:     d.Clock,
		logger:    d.Logger,
		flights:   make(map[string]*flight),
	}
}

// Download fetches, encrypts and stores contentID. progress may be nil; only
// the caller that started the run receives progress.
func (d *Downloader) Download(ctx context.Context, token, contentID string, progress ProgressFunc) (*IndexEntry, error) {
	if contentID == "" {
		return nil, fmt.Errorf("content id required")
	}
	if progress == nil {
		progress = func(int) {}
	}

	f := d.join(ctx, contentID)
	defer d.leave(contentID, f)

	for {
		ch := d.group.DoChan(contentID, func() (any, error) {
			return d.download(f.ctx, token, contentID, progress)
		})
		select {
		case res := <-ch:
			if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil && f.ctx.Err() == nil {
				// Joined the tail of a run whose waiters had all left.
				continue
			}
			if res.Err != nil {
				return nil, res.Err
			}
			entry := *res.Val.(*IndexEntry)
			return &entry, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// join registers a waiter on contentID's shared run scope.
func (d *Downloader) join(ctx context.Context, contentID string) *flight {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.flights[contentID]
	if !ok {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: runCtx, cancel: cancel}
		d.flights[contentID] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter and cancels the run once nobody is waiting.
func (d *Downloader) leave(contentID string, f *flight) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if d.flights[contentID] == f {
		delete(d.flights, contentID)
	}
}

func (d *Downloader) download(ctx context.Context, token, contentID string, progress ProgressFunc) (_ *IndexEntry, err error) {
	initial, err := d.State(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if err := d.tracker.Transition(contentID, initial, StateAuthorizing); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			d.tracker.fail(contentID)
			d.logger.Warn("download failed", "content_id", contentID, "error", err)
		}
	}()

	progress(0)
	grant, err := d.authority.Authorize(ctx, token, contentID)
	if err != nil {
		return nil, fmt.Errorf("authorizing: %w", err)
	}
	defer zero(grant.Key)

	if err := d.tracker.Transition(contentID, initial, StateDownloading); err != nil {
		return nil, err
	}
	file, err := d.spool.Create(contentID)
	if err != nil {
		return nil, fmt.Errorf("creating spool: %w", err)
	}
	defer func() {
		if derr := file.Discard(); derr != nil {
			d.logger.Warn("discarding spool failed", "content_id", contentID, "error", derr)
		}
	}()

	if _, err := d.fetcher.Fetch(ctx, grant.FetchURL, file, func(received, total int64) {
		if total <= 0 {
			total = grant.Content.SizeBytes
		}
		if total > 0 {
			progress(int(min(received, total) * progressFetched / total))
		}
	}); err != nil {
		return nil, fmt.Errorf("fetching: %w", err)
	}
	progress(progressFetched)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := d.tracker.Transition(contentID, initial, StateEncrypting); err != nil {
		return nil, err
	}
	plaintext, err := file.Bytes()
	if err != nil {
		return nil, fmt.Errorf("reading spool: %w", err)
	}
	pkg, err := d.packager.Seal(contentID, plaintext, grant.Key)
	zero(plaintext)
	if err != nil {
		return nil, err
	}
	progress(progressEncrypted)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := d.tracker.Transition(contentID, initial, StateSaving); err != nil {
		return nil, err
	}
	if err := d.store.Save(ctx, contentID, pkg); err != nil {
		return nil, fmt.Errorf("saving package: %w", err)
	}
	if err := d.keys.Save(ctx, contentID, grant.Key); err != nil {
		// Playback falls back to a key reissue.
		d.logger.Warn("caching key failed", "content_id", contentID, "error", err)
	}

	entry := IndexEntry{
		ContentID:    contentID,
		Title:        grant.Content.Title,
		Course:       grant.Content.CourseID,
		SizeBytes:    pkg.Metadata.OriginalSizeBytes,
		DownloadedAt: d.clock.Now().UTC(),
	}
	if err := d.store.PutIndex(ctx, entry); err != nil {
		return nil, fmt.Errorf("updating index: %w", err)
	}

	if err := d.authority.Confirm(ctx, token, contentID, pkg.Metadata.OriginalSizeBytes); err != nil {
		d.logger.Warn("confirm failed", "content_id", contentID, "error", err)
	}

	if err := d.tracker.Transition(contentID, initial, StateDownloaded); err != nil {
		return nil, err
	}
	progress(progressDone)

	d.logger.Info("lesson downloaded", "content_id", contentID, "size", entry.SizeBytes)
	return &entry, nil
}

// Delete removes the package, index entry and cached key, then tells the
// server. Local removal is the source of truth; a failed notification is
// only logged.
func (d *Downloader) Delete(ctx context.Context, token, contentID string) error {
	if s, ok := d.tracker.Get(contentID); ok && (s.InFlight() || s == StatePlaying) {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, contentID, s)
	}
	if d.tracker.Playing(contentID) {
		return fmt.Errorf("%w: %s has open playback", ErrInvalidTransition, contentID)
	}

	if err := d.store.Delete(ctx, contentID); err != nil {
		return fmt.Errorf("deleting package: %w", err)
	}
	if err := d.store.DeleteIndex(ctx, contentID); err != nil {
		return fmt.Errorf("deleting index entry: %w", err)
	}
	if err := d.keys.Remove(ctx, contentID); err != nil {
		return fmt.Errorf("removing cached key: %w", err)
	}
	d.tracker.set(contentID, StateDeleted)

	if err := d.authority.Release(ctx, token, contentID); err != nil {
		d.logger.Warn("release notification failed", "content_id", contentID, "error", err)
	}
	d.logger.Info("lesson deleted", "content_id", contentID)
	return nil
}

// State returns the lesson's state, falling back to the index for lessons
// not touched in this process.
func (d *Downloader) State(ctx context.Context, contentID string) (State, error) {
	if s, ok := d.tracker.Get(contentID); ok {
		return s, nil
	}
	entries, err := d.store.ListIndex(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing index: %w", err)
	}
	for _, e := range entries {
		if e.ContentID == contentID {
			return StateDownloaded, nil
		}
	}
	return StateNotDownloaded, nil
}
