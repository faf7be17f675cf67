package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTunnelLike(t *testing.T) {
	assert.True(t, tunnelLike("wg0", nil))
	assert.True(t, tunnelLike("utun3", nil))
	assert.True(t, tunnelLike("eth0", []net.IP{net.ParseIP("100.100.12.1")}))
	assert.False(t, tunnelLike("eth0", []net.IP{net.ParseIP("192.168.1.10")}))
	assert.False(t, tunnelLike("en0", []net.IP{net.ParseIP("100.128.0.1")}))
}

func TestRelayNeedsTURN(t *testing.T) {
	orig := relayPreferred
	defer func() { relayPreferred = orig }()

	relayPreferred = func() bool { return true }
	assert.False(t, useRelay(false, true))
	assert.True(t, useRelay(true, false))

	relayPreferred = func() bool { return false }
	assert.True(t, useRelay(true, true))
	assert.False(t, useRelay(true, false))
}
