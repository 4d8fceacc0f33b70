package audio

var ulawTable [256]int16

func init() {
	for i := range 256 {
		ulawTable[i] = decodeUlaw(byte(i))
	}
}

// decodeUlaw expands one G.711 µ-law byte to a 16-bit linear sample.
func decodeUlaw(b byte) int16 {
	b = ^b
	sign := int16(1)
	if b&0x80 != 0 {
		sign = -1
	}
	exponent := (b >> 4) & 0x07
	mantissa := int16(b & 0x0F)
	magnitude := ((mantissa << 3) + 0x84) << exponent
	return sign * (magnitude - 0x84)
}

// DecodeUlaw converts µ-law bytes to 16-bit PCM samples, one per byte.
func DecodeUlaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = ulawTable[b]
	}
	return out
}
