// socket/addr_test.go
// Author: momentics <momentics@gmail.com>

package socket

import (
	"net"
	"testing"

	"gotest.tools/v3/assert"
)

// TestFormatIPPort covers bracketing, zone stripping and the
// empty-input contract.
func TestFormatIPPort(t *testing.T) {
	v4 := net.ParseIP("127.0.0.1")
	v6 := net.ParseIP("2001:db8::1")

	assert.Equal(t, "127.0.0.1:21", FormatIPPort(v4, "", 21, true, false))
	assert.Equal(t, "127.0.0.1", FormatIPPort(v4, "", 21, false, false))
	assert.Equal(t, "[2001:db8::1]:21", FormatIPPort(v6, "", 21, true, false))
	assert.Equal(t, "2001:db8::1", FormatIPPort(v6, "", 21, false, false))
	assert.Equal(t, "fe80::1%lo0", FormatIPPort(net.ParseIP("fe80::1"), "lo0", 0, false, false))
	assert.Equal(t, "fe80::1", FormatIPPort(net.ParseIP("fe80::1"), "lo0", 0, false, true))
	assert.Equal(t, "[fe80::1%lo0]:21", FormatIPPort(net.ParseIP("fe80::1"), "lo0", 21, true, false))
	assert.Equal(t, "", FormatIPPort(nil, "", 21, true, false))
}

// TestFormatIPPort_RoundTrip verifies formatting a parsed numeric
// address reproduces it.
func TestFormatIPPort_RoundTrip(t *testing.T) {
	for _, in := range []string{"127.0.0.1:2121", "[2001:db8::42]:990"} {
		host, portStr, err := net.SplitHostPort(in)
		assert.NilError(t, err)
		ip := net.ParseIP(host)
		assert.Assert(t, ip != nil)
		port := 0
		for _, c := range portStr {
			port = port*10 + int(c-'0')
		}
		assert.Equal(t, in, FormatIPPort(ip, "", port, true, false))
	}
}
