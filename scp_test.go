package emboot

import (
	"bytes"
	"testing"
)

func TestScpCliMessageAssemble(t *testing.T) {
	msg := ScpCliMessage{}.Assemble("help")

	// STPS header: preamble, SCP length, device id, reserved.
	if msg[0] != 0xA9 || msg[1] != 0x65 {
		t.Fatalf("bad STPS preamble % X", msg[:2])
	}
	scpLen := int(msg[2]) | int(msg[3])<<8
	if want := len(msg) - stpsHeaderLen; scpLen != want {
		t.Errorf("STPS length field = %v, want %v", scpLen, want)
	}
	if devID := int(msg[4]) | int(msg[5])<<8; devID != DefaultScpDeviceID {
		t.Errorf("device id = %v, want %v", devID, DefaultScpDeviceID)
	}

	scp := msg[stpsHeaderLen:]
	if scp[0] != 0x00 || scp[1] != ScpCmdWrite {
		t.Errorf("SCP header = % X, want frame control 00, command %02X", scp[:2], ScpCmdWrite)
	}
	if scp[2] != 0x49 || scp[3] != 0xFC {
		t.Errorf("cluster id bytes = % X, want 49 FC", scp[2:4])
	}
	if scp[8] != 0x01 || scp[9] != 0x00 {
		t.Errorf("attribute id bytes = % X, want 01 00", scp[8:10])
	}
	if scp[10] != ScpAttrStr {
		t.Errorf("attribute type = 0x%02X, want 0x%02X", scp[10], ScpAttrStr)
	}
	if scp[11] != byte(len("help")+2) {
		t.Errorf("attribute length = %v, want %v", scp[11], len("help")+2)
	}
	if !bytes.Equal(scp[12:], []byte("help\r\n")) {
		t.Errorf("attribute value = %q, want %q", scp[12:], "help\r\n")
	}
}

// deviceCliFrame builds the STPS frame the device transmits for one line of
// console output: a string attribute write on the transmit endpoint.
func deviceCliFrame(text string) []byte {
	scp := []byte{0x00, ScpCmdWrite, 0x49, 0xFC, 0x00, 0x00, 0x00, 0x00}
	scp = append(scp, 0x00, 0x00, ScpAttrStr, byte(len(text)))
	scp = append(scp, text...)
	return NewStpsFrame(DefaultScpDeviceID, scp)
}

func TestScpParserRoundTrip(t *testing.T) {
	p := NewScpParser()
	p.stps.now = (&fakeClock{}).now

	got, ok := p.Parse(deviceCliFrame("OK\r\n"))
	if !ok {
		t.Fatal("complete CLI message not recognized")
	}
	if got != "OK\r\n" {
		t.Errorf("Parse() = %q, want %q", got, "OK\r\n")
	}
}

func TestScpParserFragmented(t *testing.T) {
	p := NewScpParser()
	p.stps.now = (&fakeClock{}).now

	frame := deviceCliFrame("hello")
	for i := 0; i < len(frame)-1; i++ {
		if _, ok := p.Parse(frame[i : i+1]); ok {
			t.Fatalf("message completed early at byte %v", i)
		}
	}
	got, ok := p.Parse(frame[len(frame)-1:])
	if !ok {
		t.Fatal("message not completed on final byte")
	}
	if got != "hello" {
		t.Errorf("Parse() = %q, want %q", got, "hello")
	}
}

func TestScpParserRejects(t *testing.T) {
	tests := []struct {
		name  string
		mut   func([]byte)
		regen bool
	}{
		{"wrong cluster", func(scp []byte) { scp[2] = 0x00 }, true},
		{"wrong command", func(scp []byte) { scp[1] = ScpCmdRead }, true},
		{"wrong attribute id", func(scp []byte) { scp[8] = 0x05 }, true},
		{"wrong attribute type", func(scp []byte) { scp[10] = ScpAttrU32 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scp := []byte{0x00, ScpCmdWrite, 0x49, 0xFC, 0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, ScpAttrStr, 0x02, 'h', 'i'}
			tt.mut(scp)
			frame := NewStpsFrame(DefaultScpDeviceID, scp)

			p := NewScpParser()
			p.stps.now = (&fakeClock{}).now
			if got, ok := p.Parse(frame); ok {
				t.Errorf("invalid message accepted: %q", got)
			}
		})
	}
}

func TestScpParserTruncatedAttribute(t *testing.T) {
	// Attribute claims more bytes than the frame carries.
	scp := []byte{0x00, ScpCmdWrite, 0x49, 0xFC, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, ScpAttrStr, 0xFF, 'h', 'i'}
	frame := NewStpsFrame(DefaultScpDeviceID, scp)

	p := NewScpParser()
	p.stps.now = (&fakeClock{}).now
	if got, ok := p.Parse(frame); ok {
		t.Errorf("truncated attribute accepted: %q", got)
	}
}
