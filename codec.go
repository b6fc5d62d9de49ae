package emboot

import "encoding/binary"

// DefaultMaxBuffer caps the reassembly buffer. A frame can never legitimately
// exceed the header plus a 1KB flash chunk, so anything bigger is desync and
// is dropped wholesale.
const DefaultMaxBuffer = 4096

// Handlers holds one callback per bootloader response. Each is invoked with
// the response status and payload when a valid frame with the matching
// command code is received. Nil entries are ignored, as are frames with
// unrecognized command codes.
type Handlers struct {
	Connect   func(Status, []byte)
	Prepare   func(Status, []byte)
	FlashData func(Status, []byte)
	Exit      func(Status, []byte)
	Info      func(Status, []byte)
}

// Codec frames and unframes bootloader protocol messages. Inbound bytes may
// arrive in arbitrary chunk sizes; the codec reassembles them into complete
// frames and dispatches through the handler table.
//
// Codec is not safe for concurrent use. Drive it from a single goroutine.
type Codec struct {
	send     func([]byte) error
	handlers Handlers
	buf      []byte

	// MaxBuffer bounds reassembly buffer growth. When exceeded without a
	// complete frame the buffer is dropped and the parser resyncs.
	MaxBuffer int
}

// NewCodec creates a codec that transmits frames through send and dispatches
// received responses through handlers.
func NewCodec(send func([]byte) error, handlers Handlers) *Codec {
	return &Codec{
		send:      send,
		handlers:  handlers,
		MaxBuffer: DefaultMaxBuffer,
	}
}

// Receive appends a chunk of raw bytes to the reassembly buffer and
// dispatches a frame if one is now complete and valid. Frames with a bad
// preamble or CRC are dropped silently; the upgrade layer's stage timeout is
// what eventually surfaces a stalled exchange.
func (c *Codec) Receive(chunk []byte) {
	c.buf = append(c.buf, chunk...)

	if len(c.buf) < frameHeaderLen {
		c.capBuffer()
		return
	}

	if c.buf[0] != framePreamble0 || c.buf[1] != framePreamble1 {
		// Desync: drop everything received so far.
		pkgLog.Debugf("preamble mismatch, dropping %v bytes", len(c.buf))
		c.buf = nil
		return
	}

	payloadLen := int(binary.LittleEndian.Uint16(c.buf[2:4]))
	if len(c.buf) < frameHeaderLen+payloadLen {
		c.capBuffer()
		return
	}

	source := c.buf[4]
	command := c.buf[5]
	status := Status(c.buf[6])
	payload := c.buf[8 : frameHeaderLen+payloadLen]

	crc := crc8Fields(crcSeedBoot,
		c.buf[2:4],
		[]byte{source},
		[]byte{command},
		[]byte{byte(status)},
		payload,
	)
	if crc != c.buf[7] {
		pkgLog.Debugf("frame CRC mismatch: calculated 0x%02X, received 0x%02X", crc, c.buf[7])
		c.buf = nil
		return
	}

	// Detach the payload before clearing the buffer.
	p := make([]byte, len(payload))
	copy(p, payload)
	c.buf = nil

	if h := c.handlerFor(command); h != nil {
		h(status, p)
	} else {
		pkgLog.Debugf("ignoring frame with command 0x%02X", command)
	}
}

func (c *Codec) handlerFor(command byte) func(Status, []byte) {
	switch command {
	case RspConnect:
		return c.handlers.Connect
	case RspPrepare:
		return c.handlers.Prepare
	case RspFlashData:
		return c.handlers.FlashData
	case RspExit:
		return c.handlers.Exit
	case RspInfo:
		return c.handlers.Info
	default:
		return nil
	}
}

func (c *Codec) capBuffer() {
	if c.MaxBuffer > 0 && len(c.buf) > c.MaxBuffer {
		pkgLog.Debugf("reassembly buffer exceeded %v bytes, resyncing", c.MaxBuffer)
		c.buf = nil
	}
}

// ResetRxQueue drops any partially reassembled frame. Called on
// communication timeouts so a stale partial cannot corrupt the next
// exchange.
func (c *Codec) ResetRxQueue() {
	c.buf = nil
}

// SendConnect transmits a connect request.
func (c *Codec) SendConnect() error {
	return c.send(NewConnectFrame().Encode())
}

// SendPrepare transmits a prepare request carrying the firmware image header.
func (c *Codec) SendPrepare(header []byte) error {
	return c.send(NewPrepareFrame(header).Encode())
}

// SendFlashData transmits one chunk of application data.
func (c *Codec) SendFlashData(data []byte) error {
	return c.send(NewFlashDataFrame(data).Encode())
}

// SendExit transmits an exit request.
func (c *Codec) SendExit() error {
	return c.send(NewExitFrame().Encode())
}

// SendInfo transmits a device info request.
func (c *Codec) SendInfo() error {
	return c.send(NewInfoFrame().Encode())
}
