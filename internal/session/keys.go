package session

// Named special keys accepted on the is_input path. The set is open; new
// entries only need a control byte here. Anything not in the table is
// forwarded as literal keystrokes followed by enter.
var specialKeys = map[string]byte{
	"C-c":  0x03, // interrupt
	"C-d":  0x04, // end of input
	"C-z":  0x1a, // suspend
	"C-l":  0x0c, // clear screen
	"C-\\": 0x1c, // quit
}

// IsSpecialKey reports whether input names a control key rather than
// literal text. The empty string is not a special key.
func IsSpecialKey(input string) bool {
	_, ok := specialKeys[input]
	return ok
}

func specialKeyByte(input string) (byte, bool) {
	b, ok := specialKeys[input]
	return b, ok
}
