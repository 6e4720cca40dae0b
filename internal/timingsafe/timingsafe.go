// Package timingsafe provides a constant-time string comparison for
// the gateway's auth and admin-key checks (spec §4.2: "constant time
// in the length of the longer input; mismatched lengths still consume
// the full shorter comparison"). crypto/subtle.ConstantTimeCompare
// requires equal-length inputs and returns 0 immediately otherwise, so
// it cannot serve this exact contract; this loops to the longer
// operand's length regardless.
package timingsafe

// Equal reports whether a and b hold the same bytes, always looping
// max(len(a), len(b)) times.
func Equal(a, b string) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var diff byte
	if len(a) != len(b) {
		diff = 1
	}
	for i := 0; i < n; i++ {
		var ca, cb byte
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		diff |= ca ^ cb
	}
	return diff == 0
}
