package emboot

import "encoding/binary"

// Bootloader frame layout constants.
const (
	framePreamble0 = 0xB0
	framePreamble1 = 0x07
	frameHeaderLen = 8

	// SourceDevice and SourceHost identify the frame originator.
	SourceDevice = 0xB2
	SourceHost   = 0x2B
)

// Bootloader command codes.
const (
	CmdConnect   = 0x10
	CmdPrepare   = 0x20
	CmdFlashData = 0x30
	CmdExit      = 0x40
	CmdInfo      = 0xA0
)

// Bootloader response command codes.
const (
	RspConnect   = 0x11
	RspPrepare   = 0x21
	RspFlashData = 0x31
	RspExit      = 0x41
	RspInfo      = 0xA1
)

// Frame represents one bootloader protocol frame.
type Frame struct {
	Source  byte
	Command byte
	Status  Status
	Payload []byte
}

// Encode returns the wire representation of the frame:
//
//	[0xB0][0x07][LEN_L][LEN_H][SOURCE][COMMAND][STATUS][CRC][PAYLOAD...]
//
// The CRC-8 (seed 0xB6) covers the length bytes, source, command, status and
// payload, combined field-wise per crc8Fields.
func (f Frame) Encode() []byte {
	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, uint16(len(f.Payload)))

	crc := crc8Fields(crcSeedBoot,
		lenBytes,
		[]byte{f.Source},
		[]byte{f.Command},
		[]byte{byte(f.Status)},
		f.Payload,
	)

	b := make([]byte, 0, frameHeaderLen+len(f.Payload))
	b = append(b, framePreamble0, framePreamble1)
	b = append(b, lenBytes...)
	b = append(b, f.Source, f.Command, byte(f.Status), crc)
	b = append(b, f.Payload...)
	return b
}

// NewConnectFrame returns the connect request frame.
func NewConnectFrame() Frame {
	return Frame{Source: SourceHost, Command: CmdConnect}
}

// NewPrepareFrame returns the prepare request frame. The payload is the
// firmware image header, carried whole so the device can check size, version
// and signature fields before flashing starts.
func NewPrepareFrame(header []byte) Frame {
	return Frame{Source: SourceHost, Command: CmdPrepare, Payload: header}
}

// NewFlashDataFrame returns a flash data frame carrying one chunk of the
// application image.
func NewFlashDataFrame(data []byte) Frame {
	return Frame{Source: SourceHost, Command: CmdFlashData, Payload: data}
}

// NewExitFrame returns the exit request frame.
func NewExitFrame() Frame {
	return Frame{Source: SourceHost, Command: CmdExit}
}

// NewInfoFrame returns the device info request frame.
func NewInfoFrame() Frame {
	return Frame{Source: SourceHost, Command: CmdInfo}
}
