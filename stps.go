package emboot

import (
	"encoding/binary"
	"time"
)

// STPS frame layout constants.
const (
	stpsPreamble0 = 0xA9
	stpsPreamble1 = 0x65
	stpsHeaderLen = 8
)

// StpsTimeout is the inter-byte timeout. A parse that stalls mid-frame for
// longer than this is abandoned and the buffer purged.
const StpsTimeout = 100 * time.Millisecond

// NewStpsFrame wraps an SCP payload in an STPS transport frame:
//
//	[0xA9][0x65][LEN_L][LEN_H][DEVID_L][DEVID_H][0x00][CRC][PAYLOAD...]
//
// The CRC-8 (seed 0x34) covers the payload, length bytes and device id
// bytes, combined field-wise per crc8Fields.
func NewStpsFrame(devID uint16, payload []byte) []byte {
	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, uint16(len(payload)))
	devBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(devBytes, devID)

	crc := crc8Fields(crcSeedStps, payload, lenBytes, devBytes)

	b := make([]byte, 0, stpsHeaderLen+len(payload))
	b = append(b, stpsPreamble0, stpsPreamble1)
	b = append(b, lenBytes...)
	b = append(b, devBytes...)
	b = append(b, 0x00, crc)
	b = append(b, payload...)
	return b
}

type stpsState int

const (
	stpsIdle stpsState = iota
	stpsHeader
	stpsPayload
)

// StpsParser reconstructs STPS frames from a byte stream arriving in
// arbitrary chunk sizes. Frames with a bad preamble or CRC are dropped
// silently. The parser is not safe for concurrent use.
type StpsParser struct {
	buf    []byte
	state  stpsState
	lastRx time.Time

	// now is the clock used for the inter-byte timeout, replaceable in tests.
	now func() time.Time
}

// NewStpsParser creates an STPS stream parser.
func NewStpsParser() *StpsParser {
	return &StpsParser{now: time.Now}
}

// Reset purges the buffer and returns the parser to idle.
func (p *StpsParser) Reset() {
	p.buf = nil
	p.state = stpsIdle
}

// Feed appends a chunk of received bytes and advances the parser. It returns
// the frame payload and true once a complete, CRC-valid frame has been
// reassembled. A stale partial frame left over from more than StpsTimeout ago
// is purged before the new bytes are considered.
func (p *StpsParser) Feed(chunk []byte) ([]byte, bool) {
	p.CheckTimeout()

	if len(chunk) > 0 {
		p.buf = append(p.buf, chunk...)
		p.lastRx = p.now()
	}

	for {
		switch p.state {
		case stpsIdle:
			if len(p.buf) == 0 {
				return nil, false
			}
			p.state = stpsHeader

		case stpsHeader:
			if len(p.buf) < stpsHeaderLen {
				return nil, false
			}
			if p.buf[0] != stpsPreamble0 || p.buf[1] != stpsPreamble1 {
				p.Reset()
				return nil, false
			}
			p.state = stpsPayload

		case stpsPayload:
			payloadLen := int(binary.LittleEndian.Uint16(p.buf[2:4]))
			if len(p.buf) < stpsHeaderLen+payloadLen {
				return nil, false
			}

			payload := p.buf[stpsHeaderLen : stpsHeaderLen+payloadLen]
			crc := crc8Fields(crcSeedStps, payload, p.buf[2:4], p.buf[4:6])
			valid := crc == p.buf[7]

			out := make([]byte, len(payload))
			copy(out, payload)
			p.Reset()

			if valid {
				return out, true
			}
			return nil, false
		}
	}
}

// CheckTimeout purges the buffer and resets to idle if the parser is mid-
// frame and no byte has arrived within StpsTimeout. The transport may
// deliver bytes one at a time with long gaps, so this must be polled on a
// tick independent of byte arrival.
func (p *StpsParser) CheckTimeout() {
	if p.state == stpsIdle {
		return
	}
	if p.now().Sub(p.lastRx) > StpsTimeout {
		p.Reset()
	}
}
