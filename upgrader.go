// Package emboot implements the host side of an embedded device's firmware
// upgrade and service protocols over a byte-oriented serial link.
//
// The package contains three main components. Codec frames and unframes the
// bootloader command/response protocol. Upgrader drives a complete firmware
// upgrade session (connect, prepare, flash loop, exit) over a Codec, reading
// data from a FwImage. StpsParser and ScpParser handle the secondary
// transport used for the device's CLI tunnel.
//
// Also included is a command line tool, found in the cmd/emboot directory,
// that serves as both an example on how to use the library and a functional
// host program for upgrading devices.
package emboot

import (
	"fmt"
	"sync"
	"time"
)

// Phase identifies the state of an upgrade session.
type Phase int

// Upgrade session phases.
const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhasePreparing
	PhaseFlashing
	PhaseExiting
	PhaseDone
	PhaseFailed
	PhaseCanceled
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhasePreparing:
		return "preparing"
	case PhaseFlashing:
		return "flashing"
	case PhaseExiting:
		return "exiting"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	case PhaseCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// active returns true while a session is in progress on the wire.
func (p Phase) active() bool {
	switch p {
	case PhaseConnecting, PhasePreparing, PhaseFlashing, PhaseExiting:
		return true
	}
	return false
}

// Outcome is the terminal result of an upgrade session.
type Outcome int

// Session outcomes.
const (
	OutcomeDone Outcome = iota
	OutcomeFailed
	OutcomeCanceled
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeFailed:
		return "failed"
	case OutcomeCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options holds upgrade session parameters. The zero value of any field is
// replaced with its default.
type Options struct {
	// ChunkSize is the flash data payload size per frame.
	ChunkSize int `yaml:"chunk_size"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PrepareTimeout time.Duration `yaml:"prepare_timeout"`
	FlashTimeout   time.Duration `yaml:"flash_timeout"`
	ExitTimeout    time.Duration `yaml:"exit_timeout"`
}

// DefaultOptions returns the default session parameters.
func DefaultOptions() Options {
	return Options{
		ChunkSize:      1024,
		ConnectTimeout: 5 * time.Second,
		PrepareTimeout: 10 * time.Second,
		FlashTimeout:   500 * time.Millisecond,
		ExitTimeout:    5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = def.ChunkSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.PrepareTimeout <= 0 {
		o.PrepareTimeout = def.PrepareTimeout
	}
	if o.FlashTimeout <= 0 {
		o.FlashTimeout = def.FlashTimeout
	}
	if o.ExitTimeout <= 0 {
		o.ExitTimeout = def.ExitTimeout
	}
	return o
}

// ProgressFunc reports upgrade progress as a percentage plus the current
// phase name.
type ProgressFunc func(percent float64, phase string)

// CompleteFunc reports the terminal result of a session with a
// human-readable detail message.
type CompleteFunc func(outcome Outcome, detail string)

// Upgrader drives a firmware upgrade session: connect, prepare, flash loop,
// exit. It owns the session state machine, the per-stage timeout timer and
// the protocol codec.
//
// Byte chunks from the transport are delivered through HandleBytes. Timer
// expiries and byte events are serialized on an internal lock, so "response
// just arrived" can never race "timeout just fired". Callbacks are invoked
// from that dispatch context and must not call back into the Upgrader.
type Upgrader struct {
	mu    sync.Mutex
	codec *Codec
	opts  Options

	image     *FwImage
	phase     Phase
	addr      uint32
	size      uint32
	lastChunk uint32
	started   time.Time

	// gen tags the pending timer. A stale expiry from a canceled or
	// superseded stage compares unequal and is ignored.
	gen   int
	timer *time.Timer

	onProgress ProgressFunc
	onComplete CompleteFunc
}

// NewUpgrader creates an upgrader that transmits frames through send.
func NewUpgrader(send func([]byte) error, opts Options) *Upgrader {
	u := &Upgrader{opts: opts.withDefaults()}
	u.codec = NewCodec(send, Handlers{
		Connect:   u.onConnectRsp,
		Prepare:   u.onPrepareRsp,
		FlashData: u.onFlashRsp,
		Exit:      u.onExitRsp,
	})
	return u
}

// OnProgress registers the progress callback. Must be set before Start.
func (u *Upgrader) OnProgress(f ProgressFunc) {
	u.onProgress = f
}

// OnComplete registers the terminal callback. Must be set before Start.
func (u *Upgrader) OnComplete(f CompleteFunc) {
	u.onComplete = f
}

// Phase returns the current session phase.
func (u *Upgrader) Phase() Phase {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.phase
}

// HandleBytes feeds raw bytes received from the transport into the protocol
// codec, advancing the session state machine if a response completes.
func (u *Upgrader) HandleBytes(b []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.codec.Receive(b)
}

// Start begins an upgrade session with the given firmware image. The image
// header is validated first; a corrupt header fails Start before any wire
// traffic occurs. An error is also returned if a session is already in
// progress.
func (u *Upgrader) Start(img *FwImage) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.phase.active() {
		return fmt.Errorf("upgrade already in progress (%s)", u.phase)
	}
	if !img.Validate() {
		return fmt.Errorf("firmware image header CRC invalid")
	}

	u.image = img
	u.size = img.Size()
	u.addr = 0
	u.lastChunk = 0
	u.started = time.Now()
	u.phase = PhaseConnecting
	u.codec.ResetRxQueue()

	pkgLog.Infof("starting upgrade: sw version %v, hw version %v, size %v bytes",
		img.SwVersion(), img.HwVersion(), u.size)

	if err := u.codec.SendConnect(); err != nil {
		return u.failStart(err)
	}
	u.armTimer(u.opts.ConnectTimeout)
	u.reportProgress(0)
	return nil
}

// failStart unwinds a session that could not even transmit its first frame.
func (u *Upgrader) failStart(err error) error {
	u.phase = PhaseIdle
	return fmt.Errorf("failed to send connect: %v", err)
}

// Cancel aborts an in-progress session. It is idempotent and safe to call at
// any time. No abort message is sent to the device; the device times out on
// its own when the next expected step never arrives.
func (u *Upgrader) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.phase.active() {
		return
	}
	u.stopTimer()
	u.codec.ResetRxQueue()
	u.phase = PhaseCanceled
	pkgLog.Infof("upgrade canceled at %v/%v bytes", u.addr, u.size)
	if u.onComplete != nil {
		u.onComplete(OutcomeCanceled, "upgrade canceled")
	}
}

func (u *Upgrader) onConnectRsp(status Status, _ []byte) {
	if u.phase != PhaseConnecting {
		return
	}
	if !status.OK() {
		u.fail(fmt.Sprintf("device rejected connect: %s", status))
		return
	}
	pkgLog.Debugf("connected, sending prepare")
	u.phase = PhasePreparing
	if err := u.codec.SendPrepare(u.image.HeaderBytes()); err != nil {
		u.fail(fmt.Sprintf("failed to send prepare: %v", err))
		return
	}
	u.armTimer(u.opts.PrepareTimeout)
	u.reportProgress(0)
}

func (u *Upgrader) onPrepareRsp(status Status, _ []byte) {
	if u.phase != PhasePreparing {
		return
	}
	if !status.OK() {
		u.fail(fmt.Sprintf("device rejected prepare: %s", status))
		return
	}
	pkgLog.Debugf("prepared, flashing %v bytes in %v byte chunks", u.size, u.opts.ChunkSize)
	u.phase = PhaseFlashing
	u.addr = 0
	if u.size == 0 {
		u.beginExit()
		return
	}
	u.sendNextChunk()
}

func (u *Upgrader) onFlashRsp(status Status, _ []byte) {
	if u.phase != PhaseFlashing {
		return
	}
	if !status.OK() {
		u.fail(fmt.Sprintf("device rejected flash data at address 0x%X: %s", u.addr, status))
		return
	}
	u.addr += u.lastChunk
	if u.addr >= u.size {
		u.beginExit()
		return
	}
	u.sendNextChunk()
}

func (u *Upgrader) onExitRsp(status Status, _ []byte) {
	if u.phase != PhaseExiting {
		return
	}
	if !status.OK() {
		u.fail(fmt.Sprintf("device rejected exit: %s", status))
		return
	}
	u.stopTimer()
	u.phase = PhaseDone
	elapsed := time.Since(u.started).Round(time.Millisecond)
	pkgLog.Infof("upgrade complete in %v", elapsed)
	u.reportProgress(100)
	if u.onComplete != nil {
		u.onComplete(OutcomeDone, fmt.Sprintf("upgrade completed in %v", elapsed))
	}
}

// sendNextChunk transmits the flash data frame at the working address and
// rearms the flash timer.
func (u *Upgrader) sendNextChunk() {
	n := uint32(u.opts.ChunkSize)
	if remaining := u.size - u.addr; remaining < n {
		n = remaining
	}
	// Application data follows the header in the image file.
	data := u.image.Read(ImageHeaderSize+u.addr, int(n))
	if uint32(len(data)) < n {
		u.fail(fmt.Sprintf("image truncated at address 0x%X", u.addr))
		return
	}
	u.lastChunk = n
	if err := u.codec.SendFlashData(data); err != nil {
		u.fail(fmt.Sprintf("failed to send flash data: %v", err))
		return
	}
	u.armTimer(u.opts.FlashTimeout)
	u.reportProgress(float64(u.addr) / float64(u.size) * 100)
}

func (u *Upgrader) beginExit() {
	pkgLog.Debugf("flashing complete, sending exit")
	u.phase = PhaseExiting
	if err := u.codec.SendExit(); err != nil {
		u.fail(fmt.Sprintf("failed to send exit: %v", err))
		return
	}
	u.armTimer(u.opts.ExitTimeout)
	u.reportProgress(100)
}

// fail moves the session to Failed, tears down the timer and drops any
// partial frame so retry starts clean.
func (u *Upgrader) fail(detail string) {
	u.stopTimer()
	u.codec.ResetRxQueue()
	u.phase = PhaseFailed
	pkgLog.Infof("upgrade failed: %s", detail)
	if u.onComplete != nil {
		u.onComplete(OutcomeFailed, detail)
	}
}

// armTimer restarts the stage timer. Any previous timer is invalidated by
// the generation bump even if its expiry is already in flight.
func (u *Upgrader) armTimer(d time.Duration) {
	u.stopTimer()
	gen := u.gen
	u.timer = time.AfterFunc(d, func() {
		u.onTimeout(gen)
	})
}

func (u *Upgrader) stopTimer() {
	u.gen++
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
}

func (u *Upgrader) onTimeout(gen int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if gen != u.gen || !u.phase.active() {
		// Stale expiry from a superseded stage or ended session.
		return
	}
	u.fail(fmt.Sprintf("timeout while %s: no response from device", u.phase))
}

func (u *Upgrader) reportProgress(percent float64) {
	if u.onProgress != nil {
		u.onProgress(percent, u.phase.String())
	}
}
