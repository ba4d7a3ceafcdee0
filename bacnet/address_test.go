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
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		ip      string
		port    int
		net     uint16
		adr     []byte
		str     string
		wantErr bool
	}{
		{in: "10.0.0.5", ip: "10.0.0.5", port: 47808, str: "10.0.0.5"},
		{in: " 10.0.0.5:47808 ", ip: "10.0.0.5", port: 47808, str: "10.0.0.5"},
		{in: "10.0.0.5:47809", ip: "10.0.0.5", port: 47809, str: "10.0.0.5:47809"},
		{in: "2001:0a@10.0.0.5", ip: "10.0.0.5", port: 47808, net: 2001, adr: []byte{0x0a}, str: "2001:0a@10.0.0.5"},
		{in: "5:c0a8000aBAC0@10.0.0.1:47809", ip: "10.0.0.1", port: 47809, net: 5, adr: []byte{0xc0, 0xa8, 0x00, 0x0a, 0xba, 0xc0}, str: "5:c0a8000abac0@10.0.0.1:47809"},
		{in: "", wantErr: true},
		{in: "device-7", wantErr: true},
		{in: "10.0.0.5:0", wantErr: true},
		{in: "10.0.0.5:99999", wantErr: true},
		{in: "::1", wantErr: true},
		{in: "0:0a@10.0.0.5", wantErr: true},
		{in: "65535:0a@10.0.0.5", wantErr: true},
		{in: "12:zz@10.0.0.5", wantErr: true},
		{in: "12@10.0.0.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			addr, err := ParseAddress(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ip, addr.Host())
			assert.Equal(t, tt.port, addr.Port)
			assert.Equal(t, tt.net, addr.Net)
			assert.Equal(t, tt.adr, addr.Adr)
			assert.Equal(t, tt.str, addr.String())

			again, err := ParseAddress(addr.String())
			require.NoError(t, err)
			assert.True(t, addr.Equal(again))
		})
	}
}

func TestAddressKey(t *testing.T) {
	a := NewAddress(net.ParseIP("10.0.0.5"), 0)
	b := AddressFromUDP(&net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: DefaultPort})
	assert.Equal(t, a.key(), b.key())

	routed := a
	routed.Net, routed.Adr = 7, []byte{1}
	assert.NotEqual(t, a.key(), routed.key())
	assert.True(t, routed.IsRouted())

	other := NewAddress(net.ParseIP("10.0.0.5"), 47809)
	assert.NotEqual(t, a.key(), other.key())
}
