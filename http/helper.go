package http

import "mime"

// writeIntToBuffer writes the decimal form of n into buf without allocating
// and returns the digit count. buf must be large enough.
func writeIntToBuffer(n int, buf []byte) int {
	if n == 0 {
		buf[0] = '0'
		return 1
	}

	temp := n
	digits := 0
	for temp > 0 {
		digits++
		temp /= 10
	}

	for i := digits - 1; i >= 0; i-- {
		buf[i] = '0' + byte(n%10)
		n /= 10
	}

	return digits
}

// writeHexToBuffer writes the lowercase hex form of n into buf without
// allocating and returns the digit count. Used for chunk size lines.
func writeHexToBuffer(n int, buf []byte) int {
	if n == 0 {
		buf[0] = '0'
		return 1
	}

	const hexDigits = "0123456789abcdef"
	digits := 0
	temp := n
	for temp > 0 {
		digits++
		temp >>= 4
	}

	for i := digits - 1; i >= 0; i-- {
		buf[i] = hexDigits[n&0xF]
		n >>= 4
	}

	return digits
}

// GetMimeType resolves a content type from a file extension, falling back to
// application/octet-stream.
func GetMimeType(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			if mimeType := mime.TypeByExtension(path[i:]); mimeType != "" {
				return mimeType
			}
			break
		}
	}
	return "application/octet-stream"
}
