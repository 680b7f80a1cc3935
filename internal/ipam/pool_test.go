package ipam

import (
	"testing"

	"hostinv/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetwork(t *testing.T) {
	p, err := ParseNetwork(" 10.0.0.7/24 ")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", p.String())

	p, err = ParseNetwork("2001:db8::1/64")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::/64", p.String())

	for _, bad := range []string{"", "10.0.0.0", "10.0.0.0/33", "not-a-network", "10.0.0.256/24"} {
		_, err := ParseNetwork(bad)
		assert.ErrorIs(t, err, apperr.ErrInvalidNetwork, bad)
	}
}

func TestUsableHosts(t *testing.T) {
	cases := []struct {
		cidr        string
		limit       int
		n           int
		first, last string
	}{
		{"10.0.0.0/24", 0, 254, "10.0.0.1", "10.0.0.254"},
		{"10.0.0.0/30", 0, 2, "10.0.0.1", "10.0.0.2"},
		{"10.0.0.0/23", 0, 510, "10.0.0.1", "10.0.1.254"},
		{"10.0.0.0/24", 10, 10, "10.0.0.1", "10.0.0.10"},
		{"255.255.255.252/30", 0, 2, "255.255.255.253", "255.255.255.254"},
		{"2001:db8::/126", 0, 2, "2001:db8::1", "2001:db8::2"},
	}
	for _, c := range cases {
		t.Run(c.cidr, func(t *testing.T) {
			p, err := ParseNetwork(c.cidr)
			require.NoError(t, err)
			hosts := UsableHosts(p, c.limit)
			require.Len(t, hosts, c.n)
			assert.Equal(t, c.first, hosts[0].String())
			assert.Equal(t, c.last, hosts[len(hosts)-1].String())
		})
	}

	for _, cidr := range []string{"10.0.0.0/31", "10.0.0.1/32", "2001:db8::1/128"} {
		p, err := ParseNetwork(cidr)
		require.NoError(t, err)
		assert.Empty(t, UsableHosts(p, 0), cidr)
	}
}

func TestParseAddress(t *testing.T) {
	p, err := ParseNetwork("10.0.0.0/24")
	require.NoError(t, err)

	a, err := ParseAddress(p, " 10.0.0.5 ")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", a.String())

	a, err = ParseAddress(p, "::ffff:10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", a.String())

	_, err = ParseAddress(p, "10.0.1.5")
	assert.ErrorIs(t, err, apperr.ErrOutOfRange)
	_, err = ParseAddress(p, "banana")
	assert.ErrorIs(t, err, apperr.ErrOutOfRange)
}

func TestDescribe(t *testing.T) {
	p, _ := ParseNetwork("192.168.10.0/23")
	info := Describe(p)
	assert.Equal(t, "255.255.254.0", info.Netmask)
	assert.Equal(t, "192.168.10.1", info.Gateway)
	assert.Equal(t, "192.168.10.1", info.First)
	assert.Equal(t, "192.168.11.254", info.Last)

	p, _ = ParseNetwork("10.0.0.1/32")
	info = Describe(p)
	assert.Equal(t, "255.255.255.255", info.Netmask)
	assert.Empty(t, info.Gateway)

	p, _ = ParseNetwork("2001:db8::/64")
	info = Describe(p)
	assert.Empty(t, info.Netmask)
	assert.Equal(t, "2001:db8::ffff:ffff:ffff:fffe", info.Last)
}
