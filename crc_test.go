package emboot

import "testing"

func TestCrc8(t *testing.T) {
	tests := []struct {
		name string
		seed byte
		data []byte
		want byte
	}{
		{"boot seed empty", crcSeedBoot, nil, crcSeedBoot},
		{"boot seed bytes", crcSeedBoot, []byte{0x01, 0x02, 0x03}, 0xDF},
		{"stps seed bytes", crcSeedStps, []byte{0x01, 0x02, 0x03}, 0x02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Crc8(tt.seed, crcPoly, tt.data); got != tt.want {
				t.Errorf("Crc8() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

// The connect frame CRC is a known-good literal from the device firmware:
// length {00 00}, source 0x2B, command 0x10, status 0x00 must give 0x9B.
func TestCrc8FieldsConnectVector(t *testing.T) {
	got := crc8Fields(crcSeedBoot,
		[]byte{0x00, 0x00},
		[]byte{0x2B},
		[]byte{0x10},
		[]byte{0x00},
		nil,
	)
	if got != 0x9B {
		t.Fatalf("connect frame CRC = 0x%02X, want 0x9B", got)
	}
}

// Field CRCs are computed independently from the seed and XORed, not
// streamed across the concatenation. The two must disagree on multi-field
// input or the combination rule has been "fixed" and is no longer wire
// compatible.
func TestCrc8FieldsIsNotStreaming(t *testing.T) {
	fieldwise := crc8Fields(crcSeedBoot, []byte{0x01, 0x02}, []byte{0x03})
	streamed := Crc8(crcSeedBoot, crcPoly, []byte{0x01, 0x02, 0x03})
	if fieldwise == streamed {
		t.Fatalf("field-wise combine matches streaming CRC (0x%02X); combination rule is wrong", fieldwise)
	}
}

// Empty fields contribute nothing to the combine. XORing in the bare seed
// for a zero-length payload would break the 0x9B connect vector.
func TestCrc8FieldsSkipsEmpty(t *testing.T) {
	with := crc8Fields(crcSeedBoot, []byte{0x01}, nil, []byte{})
	without := crc8Fields(crcSeedBoot, []byte{0x01})
	if with != without {
		t.Fatalf("empty fields changed CRC: 0x%02X != 0x%02X", with, without)
	}
}
