// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bacnet

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Address locates a BACnet device: the B/IP endpoint a datagram is sent to,
// plus the remote network number and MAC when the device sits behind a
// router.
type Address struct {
	IP   net.IP
	Port int
	Net  uint16
	Adr  []byte
}

// NewAddress returns the address of a device on the local network
func NewAddress(ip net.IP, port int) Address {
	if port == 0 {
		port = DefaultPort
	}
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	return Address{IP: ip, Port: port}
}

// AddressFromUDP converts a datagram source into an Address
func AddressFromUDP(u *net.UDPAddr) Address {
	if u == nil {
		return Address{}
	}
	return NewAddress(u.IP, u.Port)
}

// ParseAddress parses "10.0.0.5", "10.0.0.5:47809" or, for a routed device,
// "2001:0a@10.0.0.5" (network number, hex MAC, router endpoint).
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	var route string
	if at := strings.IndexByte(s, '@'); at >= 0 {
		route, s = s[:at], s[at+1:]
	}

	host, port := s, DefaultPort
	if strings.Contains(s, ":") {
		h, p, err := net.SplitHostPort(s)
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return Address{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, p)
		}
		host, port = h, n
	}

	ip := net.ParseIP(host).To4()
	if ip == nil {
		return Address{}, fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidAddress, host)
	}
	addr := Address{IP: ip, Port: port}

	if route != "" {
		netStr, macStr, ok := strings.Cut(route, ":")
		if !ok {
			return Address{}, fmt.Errorf("%w: route %q", ErrInvalidAddress, route)
		}
		n, err := strconv.ParseUint(netStr, 10, 16)
		if err != nil || n == 0 || n == 0xFFFF {
			return Address{}, fmt.Errorf("%w: network number %q", ErrInvalidAddress, netStr)
		}
		mac, err := hex.DecodeString(macStr)
		if err != nil || len(mac) == 0 {
			return Address{}, fmt.Errorf("%w: mac %q", ErrInvalidAddress, macStr)
		}
		addr.Net = uint16(n)
		addr.Adr = mac
	}

	return addr, nil
}

// IsRouted reports whether the device is on a remote BACnet network
func (a Address) IsRouted() bool {
	return a.Net != 0
}

// Host returns the IP address as text
func (a Address) Host() string {
	if a.IP == nil {
		return ""
	}
	return a.IP.String()
}

// UDPAddr returns the datagram destination
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: a.Port}
}

// Equal reports whether two addresses name the same device
func (a Address) Equal(b Address) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port && a.Net == b.Net && bytes.Equal(a.Adr, b.Adr)
}

func (a Address) String() string {
	host := a.Host()
	if a.Port != 0 && a.Port != DefaultPort {
		host = net.JoinHostPort(host, strconv.Itoa(a.Port))
	}
	if a.IsRouted() {
		return fmt.Sprintf("%d:%s@%s", a.Net, hex.EncodeToString(a.Adr), host)
	}
	return host
}

// MarshalText renders the address in its ParseAddress form
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// key identifies the address in correlation tables
func (a Address) key() string {
	return fmt.Sprintf("%s|%d|%d|%x", a.Host(), a.Port, a.Net, a.Adr)
}
