package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/coopcam/coopcam/pkg/mjpeg"
)

// Upstream is a fake MJPEG camera served over HTTP. It loops over its
// frame set at the configured rate until the client disconnects, which is
// how a real camera behaves.
type Upstream struct {
	server *httptest.Server
	frames [][]byte
	fps    int

	busy     atomic.Bool
	requests atomic.Int64
}

// NewUpstream starts a fake camera serving the given frames at fps. Close
// it when done.
func NewUpstream(frames [][]byte, fps int) *Upstream {
	if fps <= 0 {
		fps = 30
	}
	u := &Upstream{frames: frames, fps: fps}
	u.server = httptest.NewServer(http.HandlerFunc(u.serve))
	return u
}

// URL returns the upstream's stream URL, shaped like a DroidCam endpoint.
func (u *Upstream) URL() string {
	return u.server.URL + "/video"
}

// SetBusy switches the upstream into the "DroidCam is Busy" HTML response
// mode that the proxy must recognize as a transient failure.
func (u *Upstream) SetBusy(busy bool) {
	u.busy.Store(busy)
}

// Requests returns how many stream requests the upstream has received,
// which is the proxy's connection attempt count.
func (u *Upstream) Requests() int64 {
	return u.requests.Load()
}

// Close shuts the fake camera down.
func (u *Upstream) Close() {
	u.server.Close()
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	u.requests.Add(1)

	if u.busy.Load() {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>DroidCam is Busy</body></html>"))
		return
	}

	w.Header().Set("Content-Type", mjpeg.ContentType)
	w.WriteHeader(http.StatusOK)

	fl, ok := w.(http.Flusher)
	if !ok {
		return
	}

	ticker := time.NewTicker(time.Second / time.Duration(u.fps))
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame := u.frames[i%len(u.frames)]
			if err := mjpeg.WritePart(w, frame); err != nil {
				return
			}
			fl.Flush()
		}
	}
}
