package offline

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Handle is decrypted lesson audio held in memory. Release zeroes it.
// This implementation is safe for concurrent use.
type Handle struct {
	contentID string
	onRelease func()

	mu       sync.RWMutex
	data     []byte
	released bool
	server   *http.Server
}

func newHandle(contentID string, data []byte, onRelease func()) *Handle {
	return &Handle{contentID: contentID, data: data, onRelease: onRelease}
}

func (h *Handle) ContentID() string { return h.contentID }

// Size returns the plaintext length, or 0 once released.
func (h *Handle) Size() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return int64(len(h.data))
}

// Reader returns a reader over the plaintext. Readers must not be used after
// Release.
func (h *Handle) Reader() (io.ReadSeeker, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return nil, ErrReleased
	}
	return bytes.NewReader(h.data), nil
}

// Serve exposes the plaintext at an unguessable loopback URL until Release.
func (h *Handle) Serve(_ context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return "", ErrReleased
	}
	if h.server != nil {
		return "", fmt.Errorf("handle already served")
	}

	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	token := hex.EncodeToString(raw[:])

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listening: %w", err)
	}

	r := chi.NewRouter()
	r.Get("/play/{token}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "token") != token {
			http.NotFound(w, req)
			return
		}
		rs, err := h.Reader()
		if err != nil {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.ServeContent(w, req, h.contentID, time.Time{}, rs)
	})

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	h.server = srv
	go func() { _ = srv.Serve(ln) }()

	return fmt.Sprintf("http://%s/play/%s", ln.Addr().String(), token), nil
}

// Release zeroes the plaintext and stops any loopback server. It is safe to
// call more than once.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	srv := h.server
	h.mu.Unlock()

	// Close outside the lock so in-flight handlers can finish their read.
	if srv != nil {
		_ = srv.Close()
	}

	h.mu.Lock()
	zero(h.data)
	h.data = nil
	h.mu.Unlock()

	if h.onRelease != nil {
		h.onRelease()
	}
}
