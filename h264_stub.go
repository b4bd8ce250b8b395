//go:build !(darwin || linux) || noh264

package recorder

// IsH264EncoderAvailable reports false when the native encoder is compiled out.
func IsH264EncoderAvailable() bool {
	return false
}
