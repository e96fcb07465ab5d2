package model

// ShortAddress renders an account identifier as "0x1234...abcd" for display.
// Inputs shorter than ten characters are returned unchanged.
func ShortAddress(addr string) string {
	if len(addr) < 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
