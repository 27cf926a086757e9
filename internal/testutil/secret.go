package testutil

import "bytes"

// TestSecret is a 32-byte server secret for tests.
var TestSecret = bytes.Repeat([]byte{0x42}, 32)
