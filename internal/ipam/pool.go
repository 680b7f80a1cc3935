package ipam

import (
	"net/netip"
	"strings"

	"hostinv/internal/apperr"

	"github.com/pkg/errors"
)

// ParseNetwork — разбирает CIDR и приводит его к канонической форме
// (адрес сети с маской, "10.0.0.7/24" -> "10.0.0.0/24").
func ParseNetwork(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(strings.TrimSpace(s))
	if err != nil {
		return netip.Prefix{}, errors.Wrapf(apperr.ErrInvalidNetwork, "%q", s)
	}
	return p.Masked(), nil
}

// UsableHosts — адреса сети без первого (сеть) и последнего (broadcast).
// limit > 0 ограничивает длину результата.
func UsableHosts(p netip.Prefix, limit int) []netip.Addr {
	p = p.Masked()
	if p.Addr().BitLen()-p.Bits() < 2 {
		return nil // /31, /32, /127, /128
	}
	var out []netip.Addr
	for a := p.Addr().Next(); p.Contains(a); a = a.Next() {
		if !p.Contains(a.Next()) {
			break // a — последний адрес сети
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, a)
	}
	return out
}

// ParseAddress — разбор адреса для ручного назначения в сети p.
func ParseAddress(p netip.Prefix, raw string) (netip.Addr, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return netip.Addr{}, errors.Wrapf(apperr.ErrOutOfRange, "invalid address %q", raw)
	}
	a = a.Unmap()
	if !p.Contains(a) {
		return netip.Addr{}, errors.Wrapf(apperr.ErrOutOfRange, "%s is outside %s", a, p)
	}
	return a, nil
}

// PoolInfo — вычисляемые параметры сети для ответов API.
type PoolInfo struct {
	Netmask string `json:"netmask,omitempty"`
	Gateway string `json:"gateway,omitempty"`
	First   string `json:"first_usable,omitempty"`
	Last    string `json:"last_usable,omitempty"`
}

// Describe — маска (только IPv4) и границы диапазона хостов; gateway = первый
// пригодный адрес, как принято в наших сетях.
func Describe(p netip.Prefix) PoolInfo {
	p = p.Masked()
	var info PoolInfo
	if p.Addr().Is4() {
		m := uint32(0xffffffff) << (32 - p.Bits())
		info.Netmask = netip.AddrFrom4([4]byte{byte(m >> 24), byte(m >> 16), byte(m >> 8), byte(m)}).String()
	}
	if p.Addr().BitLen()-p.Bits() < 2 {
		return info
	}
	first := p.Addr().Next()
	last := lastAddr(p).Prev()
	info.First, info.Last, info.Gateway = first.String(), last.String(), first.String()
	return info
}

func lastAddr(p netip.Prefix) netip.Addr {
	b := p.Addr().AsSlice()
	host := p.Addr().BitLen() - p.Bits()
	for i := len(b) - 1; i >= 0 && host > 0; i-- {
		n := min(host, 8)
		b[i] |= 0xff >> (8 - n)
		host -= n
	}
	a, _ := netip.AddrFromSlice(b)
	return a
}
