package emboot

import (
	"bytes"
	"fmt"
	"testing"
	"time"
)

// fakeClock drives StpsParser time in tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestParser() (*StpsParser, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := NewStpsParser()
	p.now = clock.now
	return p, clock
}

func TestNewStpsFrame(t *testing.T) {
	got := NewStpsFrame(2, []byte{0x01, 0x02, 0x03})
	want := []byte{0xA9, 0x65, 0x03, 0x00, 0x02, 0x00, 0x00, 0x17, 0x01, 0x02, 0x03}
	if !bytes.Equal(got, want) {
		t.Fatalf("NewStpsFrame() = % X, want % X", got, want)
	}
}

func TestStpsRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x01, 0x49, 0xFC, 0x00, 0x00, 0x00, 0x00, 0xAA}
	frame := NewStpsFrame(DefaultScpDeviceID, payload)

	p, _ := newTestParser()
	got, ok := p.Feed(frame)
	if !ok {
		t.Fatal("complete frame not recognized")
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = % X, want % X", got, payload)
	}
}

// Byte-at-a-time delivery, the way the serial layer hands over integers.
func TestStpsFragmentation(t *testing.T) {
	payload := []byte{0x10, 0x20, 0x30, 0x40}
	frame := NewStpsFrame(2, payload)

	for split := 1; split <= len(frame); split++ {
		t.Run(fmt.Sprintf("chunk size %d", split), func(t *testing.T) {
			p, _ := newTestParser()
			var got []byte
			var completions int
			for i := 0; i < len(frame); i += split {
				end := i + split
				if end > len(frame) {
					end = len(frame)
				}
				if msg, ok := p.Feed(frame[i:end]); ok {
					got = msg
					completions++
				}
			}
			if completions != 1 {
				t.Fatalf("completed %v times, want 1", completions)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("payload = % X, want % X", got, payload)
			}
		})
	}
}

func TestStpsCorruptCrcDropped(t *testing.T) {
	frame := NewStpsFrame(2, []byte{0x01, 0x02})
	frame[7] ^= 0x40

	p, _ := newTestParser()
	if _, ok := p.Feed(frame); ok {
		t.Fatal("corrupt frame accepted")
	}
	if p.state != stpsIdle || len(p.buf) != 0 {
		t.Fatal("parser not reset after CRC failure")
	}
}

func TestStpsPreambleMismatchPurged(t *testing.T) {
	p, _ := newTestParser()
	if _, ok := p.Feed([]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}); ok {
		t.Fatal("garbage accepted as frame")
	}
	if len(p.buf) != 0 {
		t.Fatalf("buffer holds %v bytes after purge, want 0", len(p.buf))
	}

	// A valid frame afterwards parses normally.
	if _, ok := p.Feed(NewStpsFrame(2, []byte{0x01})); !ok {
		t.Fatal("valid frame not recognized after purge")
	}
}

// A stalled partial is purged after the inter-byte timeout, whether the
// timeout is observed on a poll tick or on the next byte arrival.
func TestStpsTimeoutPurge(t *testing.T) {
	frame := NewStpsFrame(2, []byte{0x0A, 0x0B, 0x0C})

	t.Run("poll tick", func(t *testing.T) {
		p, clock := newTestParser()
		p.Feed(frame[:5])
		clock.advance(150 * time.Millisecond)
		p.CheckTimeout()
		if p.state != stpsIdle || len(p.buf) != 0 {
			t.Fatal("stale partial not purged on tick")
		}

		got, ok := p.Feed(frame)
		if !ok {
			t.Fatal("fresh frame not recognized after purge")
		}
		if !bytes.Equal(got, []byte{0x0A, 0x0B, 0x0C}) {
			t.Errorf("payload = % X", got)
		}
	})

	t.Run("next byte arrival", func(t *testing.T) {
		p, clock := newTestParser()
		p.Feed(frame[:5])
		clock.advance(150 * time.Millisecond)

		// The old partial must not be concatenated with the new frame.
		got, ok := p.Feed(frame)
		if !ok {
			t.Fatal("fresh frame not recognized after stale partial")
		}
		if !bytes.Equal(got, []byte{0x0A, 0x0B, 0x0C}) {
			t.Errorf("payload = % X", got)
		}
	})
}

// A short gap must not purge an in-flight frame.
func TestStpsNoPurgeWithinTimeout(t *testing.T) {
	frame := NewStpsFrame(2, []byte{0x01, 0x02})

	p, clock := newTestParser()
	p.Feed(frame[:6])
	clock.advance(50 * time.Millisecond)
	got, ok := p.Feed(frame[6:])
	if !ok {
		t.Fatal("frame split by a short gap not recognized")
	}
	if !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Errorf("payload = % X", got)
	}
}
