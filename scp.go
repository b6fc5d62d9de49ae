package emboot

import "encoding/binary"

// SCP command types.
const (
	ScpCmdRead         = 0x00
	ScpCmdWrite        = 0x01
	ScpCmdReadRsp      = 0x02
	ScpCmdWriteRsp     = 0x03
	ScpCmdSubscribe    = 0x04
	ScpCmdSubscribeRsp = 0x05
	ScpCmdNotify       = 0x06
)

// SCP attribute data types.
const (
	ScpAttrU8  = 0x20
	ScpAttrU16 = 0x21
	ScpAttrU32 = 0x23
	ScpAttrI8  = 0x28
	ScpAttrI16 = 0x29
	ScpAttrI32 = 0x2B
	ScpAttrF32 = 0x39
	ScpAttrStr = 0x42
)

// SCP status codes.
const (
	ScpStatusOK                      = 0x00
	ScpStatusError                   = 0x01
	ScpStatusMalformedCmd            = 0x80
	ScpStatusUnsupportedAttribute    = 0x86
	ScpStatusInvalidValue            = 0x87
	ScpStatusUnsubscribableAttribute = 0x8C
	ScpStatusInvalidDataType         = 0x8D
	ScpStatusUnsupportedCluster      = 0xC3
	ScpStatusNotAuthorized           = 0x7E
)

// CLI tunnel cluster and endpoint attributes.
const (
	scpCliClusterID    = 0xFC49
	scpCliAttrReceive  = 0x0001
	scpCliAttrTransmit = 0x0000
	scpHeaderLen       = 8
)

// DefaultScpDeviceID is the STPS device id for the USB-attached device.
const DefaultScpDeviceID = 2

// ScpCliMessage builds CLI tunnel commands: a command string is carried as a
// string attribute written to the CLI cluster's receive endpoint.
type ScpCliMessage struct {
	// DeviceID selects the STPS transport device id. Zero means
	// DefaultScpDeviceID.
	DeviceID uint16
}

// Assemble wraps the command text in an SCP WRITE frame and an STPS
// transport frame, returning the complete wire bytes. A CR LF terminator is
// appended to the text, as the device CLI expects.
func (m ScpCliMessage) Assemble(text string) []byte {
	devID := m.DeviceID
	if devID == 0 {
		devID = DefaultScpDeviceID
	}

	scp := make([]byte, 0, scpHeaderLen+4+len(text)+2)

	// Header: frame control, command type, cluster id, TSN, reserved.
	scp = append(scp, 0x00, ScpCmdWrite)
	scp = binary.LittleEndian.AppendUint16(scp, scpCliClusterID)
	scp = append(scp, 0x00)
	scp = append(scp, 0x00, 0x00, 0x00)

	// Payload: one string attribute addressed to the receive endpoint.
	scp = binary.LittleEndian.AppendUint16(scp, scpCliAttrReceive)
	scp = append(scp, ScpAttrStr)
	scp = append(scp, byte(len(text)+2))
	scp = append(scp, text...)
	scp = append(scp, '\r', '\n')

	return NewStpsFrame(devID, scp)
}

// ScpParser extracts CLI tunnel strings from the inbound STPS stream. The
// device transmits its console output as string attribute writes on the CLI
// cluster's transmit endpoint.
type ScpParser struct {
	stps *StpsParser
}

// NewScpParser creates a parser over a fresh STPS framer.
func NewScpParser() *ScpParser {
	return &ScpParser{stps: NewStpsParser()}
}

// Reset purges any partially received frame.
func (p *ScpParser) Reset() {
	p.stps.Reset()
}

// CheckTimeout forwards the inter-byte timeout check to the STPS framer.
func (p *ScpParser) CheckTimeout() {
	p.stps.CheckTimeout()
}

// Parse feeds received bytes and returns the CLI string and true once a
// complete message has been reassembled. Messages for other clusters,
// commands or attributes are dropped.
func (p *ScpParser) Parse(chunk []byte) (string, bool) {
	msg, ok := p.stps.Feed(chunk)
	if !ok {
		return "", false
	}
	if len(msg) < scpHeaderLen+4 {
		return "", false
	}

	cmdType := msg[1]
	clusterID := binary.LittleEndian.Uint16(msg[2:4])
	if clusterID != scpCliClusterID || cmdType != ScpCmdWrite {
		return "", false
	}

	attrID := binary.LittleEndian.Uint16(msg[8:10])
	attrType := msg[10]
	attrSize := int(msg[11])
	if attrID != scpCliAttrTransmit || attrType != ScpAttrStr {
		return "", false
	}
	if scpHeaderLen+4+attrSize > len(msg) {
		return "", false
	}

	return string(msg[12 : 12+attrSize]), true
}
