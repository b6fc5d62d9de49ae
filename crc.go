package emboot

// CRC-8 seeds used by the two framing layers.
const (
	crcSeedBoot = 0xB6
	crcSeedStps = 0x34
	crcPoly     = 0x07
)

// Crc8 computes a CRC-8 over data, starting from seed with the given
// polynomial.
func Crc8(seed, poly byte, data []byte) byte {
	crc := seed
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// crc8Fields combines per-field CRC-8 partials with XOR. The device firmware
// computes each field's CRC independently from the fixed seed and XORs the
// results together, rather than streaming one CRC across the concatenation.
// Zero-length fields contribute nothing. This must not be "fixed" to a
// conventional streaming CRC: wire compatibility depends on it.
func crc8Fields(seed byte, fields ...[]byte) byte {
	var crc byte
	for _, f := range fields {
		if len(f) == 0 {
			continue
		}
		crc ^= Crc8(seed, crcPoly, f)
	}
	return crc
}
