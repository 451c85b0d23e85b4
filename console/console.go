// Package console implements the kernel's debug console sink:
// diagnostic strings from any caller — including driver domains
// echoing arbitrary bytes back via the LOG kernel service — are never
// interleaved mid-line, and have wide runes folded to their narrow
// forms before they reach the backing serial/VGA writer so a
// misbehaving domain can't widen the fixed-width text layout. Other
// runes, control characters included, pass through unchanged.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/text/width"
)

/// Sink is the single global debug console. Writes from concurrent
/// callers are serialized by lock so no two callers' lines interleave.
type Sink struct {
	mu  sync.Mutex
	out io.Writer
}

/// Default is the system debug console, writing to the process's
/// standard output until a real backend (serial/VGA, an external
/// collaborator outside this module's scope) is attached with
/// SetBackend.
var Default = &Sink{out: os.Stdout}

/// SetBackend redirects where the console sink writes. Used by the
/// boot entry point once the real serial/VGA driver is available.
func (s *Sink) SetBackend(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = w
}

/// Printf writes a formatted diagnostic line atomically with respect
/// to other callers.
func (s *Sink) Printf(format string, args ...interface{}) {
	s.Write([]byte(fmt.Sprintf(format, args...)))
}

/// Write sanitizes and writes b as a single atomic unit. It implements
/// io.Writer so it can be handed to log.New.
func (s *Sink) Write(b []byte) (int, error) {
	clean := sanitize(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.out.Write(clean)
	return len(b), err
}

// sanitize folds wide/ambiguous-width runes down to their narrow form
// so a driver domain logging arbitrary bytes through DRIVER_SVC_LOG
// cannot widen the console past its fixed column count.
func sanitize(b []byte) []byte {
	s := string(b)
	narrow := width.Narrow.String(s)
	return []byte(narrow)
}
