package emboot

import (
	"encoding/binary"
	"os"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// ImageHeaderSize is the size of the fixed header at the start of every
// firmware image. Byte 0 holds a CRC-8 over the remaining 255 header bytes.
const ImageHeaderSize = 256

// Firmware image header field offsets.
const (
	imgOffHeaderCrc     = 0
	imgOffHeaderVersion = 1
	imgOffSwVersion     = 8
	imgOffHwVersion     = 12
	imgOffSize          = 16
	imgOffAppCrc        = 20
	imgOffEncType       = 24
	imgOffSigType       = 28
	imgOffSignature     = 32
)

// FwImage is a read-only, random-access view of a firmware image: a 256-byte
// header followed by the raw application binary.
type FwImage struct {
	data []byte
}

// OpenImage opens a raw binary firmware image file.
func OpenImage(path string) (*FwImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open firmware image")
	}
	return NewImage(data)
}

// OpenImageHex opens an Intel HEX firmware image file. The HEX records are
// flattened into a contiguous binary starting at the lowest address, with
// gaps filled with 0xFF, and the result is treated the same as a raw image.
func OpenImageHex(path string) (*FwImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open firmware image")
	}
	defer file.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(file); err != nil {
		return nil, errors.Wrap(err, "failed to parse hex file")
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, errors.New("hex file contains no data")
	}

	base := segments[0].Address
	end := base
	for _, s := range segments {
		if s.Address < base {
			base = s.Address
		}
		if top := s.Address + uint32(len(s.Data)); top > end {
			end = top
		}
	}

	data := make([]byte, end-base)
	for i := range data {
		data[i] = 0xFF
	}
	for _, s := range segments {
		copy(data[s.Address-base:], s.Data)
	}
	return NewImage(data)
}

// NewImage wraps raw image bytes. The data must contain at least the full
// header.
func NewImage(data []byte) (*FwImage, error) {
	if len(data) < ImageHeaderSize {
		return nil, errors.Errorf("image too small: %v bytes, header alone is %v", len(data), ImageHeaderSize)
	}
	return &FwImage{data: data}, nil
}

// Read returns n bytes starting at the absolute file offset addr. Reads past
// the end of the image are truncated.
func (f *FwImage) Read(addr uint32, n int) []byte {
	if int(addr) >= len(f.data) {
		return nil
	}
	end := int(addr) + n
	if end > len(f.data) {
		end = len(f.data)
	}
	return f.data[addr:end]
}

// HeaderBytes returns the raw 256-byte image header. This is the payload of
// the prepare request.
func (f *FwImage) HeaderBytes() []byte {
	return f.data[:ImageHeaderSize]
}

// HeaderVersion returns the header format version byte.
func (f *FwImage) HeaderVersion() byte {
	return f.data[imgOffHeaderVersion]
}

// SwVersion returns the software version field.
func (f *FwImage) SwVersion() uint32 {
	return binary.LittleEndian.Uint32(f.data[imgOffSwVersion:])
}

// HwVersion returns the hardware version field.
func (f *FwImage) HwVersion() uint32 {
	return binary.LittleEndian.Uint32(f.data[imgOffHwVersion:])
}

// Size returns the application payload size in bytes, excluding the header.
func (f *FwImage) Size() uint32 {
	return binary.LittleEndian.Uint32(f.data[imgOffSize:])
}

// AppCrc returns the application CRC field.
func (f *FwImage) AppCrc() uint32 {
	return binary.LittleEndian.Uint32(f.data[imgOffAppCrc:])
}

// EncType returns the encryption type field.
func (f *FwImage) EncType() uint32 {
	return binary.LittleEndian.Uint32(f.data[imgOffEncType:])
}

// SigType returns the signature type field.
func (f *FwImage) SigType() uint32 {
	return binary.LittleEndian.Uint32(f.data[imgOffSigType:])
}

// Validate recomputes the header CRC-8 over bytes [1..256) and compares it to
// byte 0. No header field may be trusted before this passes, and an upgrade
// must not start on an image that fails it.
func (f *FwImage) Validate() bool {
	crc := Crc8(crcSeedBoot, crcPoly, f.data[1:ImageHeaderSize])
	return crc == f.data[imgOffHeaderCrc]
}
