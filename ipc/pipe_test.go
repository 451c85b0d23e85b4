package ipc

import (
	"testing"
	"time"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/pmm"
)

// freshPhysmem gives each test a clean pmm.Physmem singleton, since
// circbuf's lazy frame allocation (Cb_ensure, via Copyin/Copyout) draws
// from it.
func freshPhysmem(t *testing.T) {
	t.Helper()
	if _, err := pmm.Init(8 << 20); err != nil {
		t.Fatalf("pmm.Init: %v", err)
	}
	t.Cleanup(func() {
		if err := pmm.Physmem.Close(); err != nil {
			t.Errorf("pmm Close: %v", err)
		}
	})
}

func withTimeout(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for goroutine")
	}
}

// TestPipeEchoRoundTrip writes a message on one end and reads it back
// on the other, the pipe-echo scenario: a writer and a reader sharing
// one pipe, data in equals data out.
func TestPipeEchoRoundTrip(t *testing.T) {
	freshPhysmem(t)
	p, err := NewPipe()
	if err != 0 {
		t.Fatalf("NewPipe: %v", err)
	}
	re := p.NewReadEnd()
	we := p.NewWriteEnd()

	const msg = "echo this back"
	got := make(chan string, 1)
	withTimeout(t, 2*time.Second, func() {
		go func() {
			buf := make([]byte, len(msg))
			total := 0
			for total < len(msg) {
				n, err := re.Read(NewBytebuf(buf[total:]))
				if err != 0 {
					t.Errorf("Read: %v", err)
					return
				}
				if n == 0 {
					break
				}
				total += n
			}
			got <- string(buf[:total])
		}()

		n, err := we.Write(NewBytebuf([]byte(msg)))
		if err != 0 {
			t.Fatalf("Write: %v", err)
		}
		if n != len(msg) {
			t.Fatalf("Write returned %d, want %d", n, len(msg))
		}

		if echoed := <-got; echoed != msg {
			t.Fatalf("echoed = %q, want %q", echoed, msg)
		}
	})
}

// TestReadReturnsEOFAfterWritersClose verifies a blocked reader wakes
// with a zero-byte, zero-error read once the last writer closes,
// rather than blocking forever.
func TestReadReturnsEOFAfterWritersClose(t *testing.T) {
	freshPhysmem(t)
	p, err := NewPipe()
	if err != 0 {
		t.Fatalf("NewPipe: %v", err)
	}
	re := p.NewReadEnd()
	we := p.NewWriteEnd()

	done := make(chan struct{})
	var n int
	var rerr defs.Err_t
	go func() {
		buf := make([]byte, 16)
		n, rerr = re.Read(NewBytebuf(buf))
		close(done)
	}()

	// Give the reader time to park on the empty buffer before the
	// writer closes out from under it.
	time.Sleep(10 * time.Millisecond)
	we.Close()

	withTimeout(t, 2*time.Second, func() { <-done })
	if rerr != 0 || n != 0 {
		t.Fatalf("Read after writer close = (%d, %v), want (0, 0) for EOF", n, rerr)
	}
}

// fakeRaiser is a minimal SignalRaiser recording every signal raised
// against it, standing in for proc.Process_t without importing proc
// (which would be a cycle: proc doesn't import ipc, but nothing stops
// this package from importing proc directly either way — a fake here
// keeps the test focused on the pipe/owner contract).
type fakeRaiser struct {
	raised []defs.Signal_t
}

func (f *fakeRaiser) Raise(sig defs.Signal_t) defs.Err_t {
	f.raised = append(f.raised, sig)
	return 0
}

// TestWriteAfterReadersCloseReturnsEPIPEAndRaisesSIGPIPE verifies that
// once every reader has closed, Write fails with EPIPE and delivers
// SIGPIPE to the owner set by SetOwner.
func TestWriteAfterReadersCloseReturnsEPIPEAndRaisesSIGPIPE(t *testing.T) {
	freshPhysmem(t)
	p, err := NewPipe()
	if err != 0 {
		t.Fatalf("NewPipe: %v", err)
	}
	re := p.NewReadEnd()
	we := p.NewWriteEnd()
	owner := &fakeRaiser{}
	we.SetOwner(owner)

	re.Close()

	n, werr := we.Write(NewBytebuf([]byte("nobody home")))
	if werr != defs.EPIPE {
		t.Fatalf("Write err = %v, want EPIPE", werr)
	}
	if n != 0 {
		t.Fatalf("Write n = %d, want 0", n)
	}
	if len(owner.raised) != 1 || owner.raised[0] != defs.SIGPIPE {
		t.Fatalf("owner.raised = %v, want [SIGPIPE]", owner.raised)
	}
}

// TestWriteWithNoOwnerStillReturnsEPIPE confirms a WriteEnd_t never
// wired to an owner (e.g. one used directly in a unit test) degrades
// to plain EPIPE instead of panicking on a nil SignalRaiser.
func TestWriteWithNoOwnerStillReturnsEPIPE(t *testing.T) {
	freshPhysmem(t)
	p, err := NewPipe()
	if err != 0 {
		t.Fatalf("NewPipe: %v", err)
	}
	re := p.NewReadEnd()
	we := p.NewWriteEnd()
	re.Close()

	if _, werr := we.Write(NewBytebuf([]byte("x"))); werr != defs.EPIPE {
		t.Fatalf("Write err = %v, want EPIPE", werr)
	}
}

func TestIsPipeRecognizesBothEnds(t *testing.T) {
	freshPhysmem(t)
	p, err := NewPipe()
	if err != 0 {
		t.Fatalf("NewPipe: %v", err)
	}
	if !IsPipe(p.NewReadEnd()) || !IsPipe(p.NewWriteEnd()) {
		t.Fatal("IsPipe false for a real pipe end")
	}
	if IsPipe(42) {
		t.Fatal("IsPipe true for a non-pipe value")
	}
}
