package emboot

import (
	"fmt"
	"strings"
)

// Status is the bootloader response status bitmask. A response may carry
// several error bits at once.
type Status byte

// Bootloader status codes.
const (
	StatusOK         Status = 0x00
	StatusValidation Status = 0x01
	StatusInvRequest Status = 0x02
	StatusFlashWrite Status = 0x04
	StatusFlashErase Status = 0x08
	StatusFwSize     Status = 0x10
	StatusFwVer      Status = 0x20
	StatusHwVer      Status = 0x40
	StatusSignature  Status = 0x80
)

var statusNames = []struct {
	bit  Status
	name string
}{
	{StatusValidation, "validation error"},
	{StatusInvRequest, "invalid request"},
	{StatusFlashWrite, "flash write error"},
	{StatusFlashErase, "flash erase error"},
	{StatusFwSize, "firmware size error"},
	{StatusFwVer, "firmware version error"},
	{StatusHwVer, "hardware version error"},
	{StatusSignature, "signature error"},
}

// OK returns true if no error bits are set.
func (s Status) OK() bool {
	return s == StatusOK
}

// String returns a human-readable description of the status, listing every
// error bit that is set.
func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	var parts []string
	for _, sn := range statusNames {
		if s&sn.bit != 0 {
			parts = append(parts, sn.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("unknown status 0x%02X", byte(s))
	}
	return strings.Join(parts, ", ")
}

// StatusError is returned when the device answers a request with a non-OK
// status code.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Op, e.Status, byte(e.Status))
}
