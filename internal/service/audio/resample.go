package audio

// Upsample raises the sample rate of pcm by an integer factor using linear
// interpolation between neighbouring samples. The last input sample is held.
func Upsample(pcm []int16, factor int) []int16 {
	if factor <= 1 || len(pcm) == 0 {
		return pcm
	}
	out := make([]int16, len(pcm)*factor)
	for i, s := range pcm {
		next := s
		if i+1 < len(pcm) {
			next = pcm[i+1]
		}
		for k := range factor {
			v := int32(s) + (int32(next)-int32(s))*int32(k)/int32(factor)
			out[i*factor+k] = int16(v)
		}
	}
	return out
}
