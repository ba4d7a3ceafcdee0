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

package bacnet_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/bacscan/bacnet"
	"github.com/edgeo-scada/bacscan/bacnet/bacnettest"
)

const localAddr = "10.0.0.1:47808"

func newLAN(t *testing.T) *bacnettest.Network {
	t.Helper()
	n, err := bacnettest.NewNetwork("10.0.0.0/24")
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n
}

func connect(t *testing.T, n *bacnettest.Network, addr string, opts ...bacnet.Option) *bacnet.Participant {
	t.Helper()
	p, err := n.Participant(addr, opts...)
	require.NoError(t, err)
	require.NoError(t, p.Connect(context.Background()))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func addDevice(t *testing.T, n *bacnettest.Network, d *bacnettest.Device) *bacnettest.Device {
	t.Helper()
	require.NoError(t, n.AddDevice(d))
	return d
}

func instances(devices []*bacnet.DeviceInfo) []uint32 {
	out := make([]uint32, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Instance())
	}
	return out
}

func TestConnect(t *testing.T) {
	n := newLAN(t)

	p, err := n.Participant(localAddr)
	require.NoError(t, err)
	assert.Equal(t, bacnet.StateDisconnected, p.State())

	_, err = p.ReadProperty(context.Background(), bacnet.Address{}, bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1), bacnet.PropertyObjectName)
	assert.ErrorIs(t, err, bacnet.ErrNotConnected)

	require.NoError(t, p.Connect(context.Background()))
	defer p.Close()

	assert.Equal(t, bacnet.StateConnected, p.State())
	assert.ErrorIs(t, p.Connect(context.Background()), bacnet.ErrAlreadyConnected)
	assert.Equal(t, "10.0.0.1:47808", p.LocalAddr().String())

	t.Run("port already bound", func(t *testing.T) {
		other, err := n.Participant(localAddr)
		require.NoError(t, err)

		err = other.Connect(context.Background())
		require.Error(t, err)
		assert.True(t, bacnet.IsBindError(err))
		assert.Equal(t, bacnet.StateDisconnected, other.State())
	})

	require.NoError(t, p.Close())
	assert.Equal(t, bacnet.StateDisconnected, p.State())
	require.NoError(t, p.Close())
}

func TestNewParticipantValidation(t *testing.T) {
	n := newLAN(t)

	_, err := n.Participant(localAddr, bacnet.WithDeviceID(bacnet.MaxInstance+1))
	assert.Error(t, err)

	_, err = n.Participant(localAddr, bacnet.WithMaxAPDULength(20))
	assert.Error(t, err)

	p, err := n.Participant(localAddr, bacnet.WithDeviceID(42), bacnet.WithObjectName("gateway"))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), p.Identity().Device.Instance)
	assert.Equal(t, "gateway", p.Identity().ObjectName)
}

func TestWhoIsDiscovery(t *testing.T) {
	n := newLAN(t)
	addDevice(t, n, bacnettest.NewDevice(999001, "10.0.0.5:47808"))

	late := bacnettest.NewDevice(999002, "10.0.0.6:47808")
	late.IAmDelay = 150 * time.Millisecond
	addDevice(t, n, late)

	silent := bacnettest.NewDevice(999003, "10.0.0.7:47808")
	silent.Silent = true
	addDevice(t, n, silent)

	p := connect(t, n, localAddr)

	devices, err := p.WhoIs(context.Background(), bacnet.WithDiscoveryTimeout(500*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, []uint32{999001, 999002}, instances(devices))

	assert.Equal(t, "10.0.0.5", devices[0].Address.String())
	assert.Equal(t, uint16(1476), devices[0].MaxAPDULength)
	assert.Equal(t, bacnet.SegmentationNone, devices[0].Segmentation)
	assert.Equal(t, uint16(15), devices[0].VendorID)

	assert.Equal(t, []uint32{999001, 999002}, instances(p.Devices()))
	assert.Equal(t, int64(1), p.Metrics().WhoIsSent.Value())
	assert.Equal(t, int64(2), p.Metrics().DevicesDiscovered.Value())
}

func TestWhoIsDeduplicates(t *testing.T) {
	n := newLAN(t)
	p := connect(t, n, localAddr)

	iam := func(instance uint32) []byte {
		return bacnet.EncodeIAm(bacnet.Address{}, bacnet.IAm{
			Device:       bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, instance),
			MaxAPDU:      480,
			Segmentation: bacnet.SegmentationNone,
			VendorID:     7,
		}, true)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = n.Inject("10.0.0.5:47808", localAddr, iam(100))
		_ = n.Inject("10.0.0.6:47808", localAddr, iam(200))
		_ = n.Inject("10.0.0.9:47808", localAddr, iam(100))
	}()

	devices, err := p.WhoIs(context.Background(), bacnet.WithDiscoveryTimeout(400*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, []uint32{100, 200}, instances(devices))
	assert.Equal(t, "10.0.0.5", devices[0].Address.String(), "first I-Am wins")

	assert.Equal(t, int64(3), p.Metrics().IAmReceived.Value())
	assert.Equal(t, int64(2), p.Metrics().DevicesDiscovered.Value())
}

func TestWhoIsRange(t *testing.T) {
	n := newLAN(t)
	addDevice(t, n, bacnettest.NewDevice(100, "10.0.0.5:47808"))
	addDevice(t, n, bacnettest.NewDevice(200, "10.0.0.6:47808"))
	addDevice(t, n, bacnettest.NewDevice(300, "10.0.0.7:47808"))

	p := connect(t, n, localAddr)

	devices, err := p.WhoIs(context.Background(),
		bacnet.WithDeviceRange(150, 250),
		bacnet.WithDiscoveryTimeout(300*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, []uint32{200}, instances(devices))
}

func TestWhoIsContext(t *testing.T) {
	n := newLAN(t)
	addDevice(t, n, bacnettest.NewDevice(999001, "10.0.0.5:47808"))
	p := connect(t, n, localAddr)

	t.Run("deadline shortens the window", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		devices, err := p.WhoIs(ctx, bacnet.WithDiscoveryTimeout(5*time.Second))
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, []uint32{999001}, instances(devices))
	})

	t.Run("cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()

		_, err := p.WhoIs(ctx, bacnet.WithDiscoveryTimeout(5*time.Second))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestParticipantAnswersWhoIs(t *testing.T) {
	n := newLAN(t)
	p := connect(t, n, localAddr, bacnet.WithDeviceID(1234))
	connect(t, n, "10.0.0.2:47808", bacnet.WithDeviceID(5678), bacnet.WithObjectName("peer"))

	// Our own I-Am must not show up as a device
	_ = n.Inject("10.0.0.3:47808", localAddr, bacnet.EncodeIAm(bacnet.Address{}, bacnet.IAm{
		Device:  bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1234),
		MaxAPDU: 1476,
	}, true))

	devices, err := p.WhoIs(context.Background(), bacnet.WithDiscoveryTimeout(300*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, []uint32{5678}, instances(devices))
	assert.Equal(t, "10.0.0.2", devices[0].Address.String())
	assert.Equal(t, uint16(1024), devices[0].MaxAPDULength)
	assert.Equal(t, bacnet.SegmentationBoth, devices[0].Segmentation)

	_, ok := p.Device(1234)
	assert.False(t, ok)
}

func TestParticipantServesDeviceObject(t *testing.T) {
	n := newLAN(t)
	p := connect(t, n, localAddr)
	connect(t, n, "10.0.0.2:47808", bacnet.WithDeviceID(5678), bacnet.WithObjectName("peer"), bacnet.WithVendorID(260))

	peer, err := bacnet.ParseAddress("10.0.0.2")
	require.NoError(t, err)
	ctx := context.Background()

	v, err := p.ReadProperty(ctx, peer, bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 5678), bacnet.PropertyObjectName)
	require.NoError(t, err)
	assert.Equal(t, "peer", v)

	v, err = p.ReadProperty(ctx, peer, bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, bacnet.WildcardInstance), bacnet.PropertyVendorIdentifier)
	require.NoError(t, err)
	assert.Equal(t, uint32(260), v)

	_, err = p.ReadProperty(ctx, peer, bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 5678), bacnet.PropertyPresentValue)
	assert.True(t, bacnet.IsPropertyNotFound(err))

	_, err = p.ReadProperty(ctx, peer, bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1), bacnet.PropertyPresentValue)
	assert.True(t, bacnet.IsDeviceNotFound(err))
}

func TestReadProperty(t *testing.T) {
	n := newLAN(t)
	dev := addDevice(t, n, bacnettest.NewDevice(999001, "10.0.0.5:47808"))
	ai1 := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1)
	dev.AddObject(ai1, map[bacnet.PropertyIdentifier]interface{}{
		bacnet.PropertyObjectName:   "Supply Temp",
		bacnet.PropertyPresentValue: float32(21.5),
		bacnet.PropertyUnits:        bacnet.Enumerated(bacnet.UnitsDegreesCelsius),
	})

	p := connect(t, n, localAddr)
	ctx := context.Background()

	tests := []struct {
		name    string
		oid     bacnet.ObjectIdentifier
		prop    bacnet.PropertyIdentifier
		want    interface{}
		wantErr error
	}{
		{name: "present value", oid: ai1, prop: bacnet.PropertyPresentValue, want: float32(21.5)},
		{name: "units", oid: ai1, prop: bacnet.PropertyUnits, want: bacnet.Enumerated(bacnet.UnitsDegreesCelsius)},
		{name: "device name", oid: dev.DeviceID(), prop: bacnet.PropertyObjectName, want: "DEV-999001"},
		{name: "unknown property", oid: ai1, prop: bacnet.PropertyDescription,
			wantErr: bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodeUnknownProperty)},
		{name: "unknown object", oid: bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 9),
			wantErr: bacnet.NewBACnetError(bacnet.ErrorClassObject, bacnet.ErrorCodeUnknownObject)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := p.ReadProperty(ctx, dev.Address(), tt.oid, tt.prop)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, bacnet.IsProtocolError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}

	assert.Len(t, dev.Requests(), len(tests))
	assert.Zero(t, p.Outstanding())
	assert.Equal(t, int64(3), p.Metrics().RequestsMatched.Value())
	assert.Equal(t, int64(2), p.Metrics().RequestsErrored.Value())
}

func TestReadPropertyTimeout(t *testing.T) {
	n := newLAN(t)
	dev := addDevice(t, n, bacnettest.NewDevice(999001, "10.0.0.5:47808"))
	dev.Mute(dev.DeviceID(), bacnet.PropertyLocation)

	p := connect(t, n, localAddr)

	start := time.Now()
	_, err := p.ReadProperty(context.Background(), dev.Address(), dev.DeviceID(), bacnet.PropertyLocation,
		bacnet.WithReadTimeout(200*time.Millisecond))
	assert.ErrorIs(t, err, bacnet.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Zero(t, p.Outstanding())
	assert.Equal(t, int64(1), p.Metrics().RequestsTimedOut.Value())

	// The participant stays usable
	v, err := p.ReadProperty(context.Background(), dev.Address(), dev.DeviceID(), bacnet.PropertyModelName)
	require.NoError(t, err)
	assert.Equal(t, "SIM-100", v)
}

func TestReadPropertyDroppedRequest(t *testing.T) {
	n := newLAN(t)
	dev := addDevice(t, n, bacnettest.NewDevice(999001, "10.0.0.5:47808"))
	p := connect(t, n, localAddr)

	n.SetDrop(func(_, _ *net.UDPAddr, _ []byte) bool { return true })
	_, err := p.ReadProperty(context.Background(), dev.Address(), dev.DeviceID(), bacnet.PropertyObjectName,
		bacnet.WithReadTimeout(150*time.Millisecond))
	assert.True(t, bacnet.IsTimeout(err))

	n.SetDrop(nil)
	_, err = p.ReadProperty(context.Background(), dev.Address(), dev.DeviceID(), bacnet.PropertyObjectName)
	assert.NoError(t, err)
}

func TestReadPropertyIgnoresUnmatchedReply(t *testing.T) {
	n := newLAN(t)
	dev := addDevice(t, n, bacnettest.NewDevice(999001, "10.0.0.5:47808"))
	dev.Delay = 300 * time.Millisecond

	p := connect(t, n, localAddr)

	forged, err := bacnet.EncodeReadPropertyAck(bacnet.Address{}, 77, bacnet.ReadPropertyAck{
		Object:   dev.DeviceID(),
		Property: bacnet.PropertyObjectName,
		Value:    "forged",
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = n.Inject(dev.Addr, localAddr, forged)
		_ = n.Inject(dev.Addr, localAddr, []byte{0x81, 0x0a, 0x00})
	}()

	v, err := p.ReadProperty(context.Background(), dev.Address(), dev.DeviceID(), bacnet.PropertyObjectName)
	require.NoError(t, err)
	assert.Equal(t, "DEV-999001", v)
	assert.Equal(t, int64(1), p.Metrics().UnmatchedReplies.Value())
	assert.Equal(t, int64(1), p.Metrics().MalformedFrames.Value())
}

func TestConcurrentReadsAreSerialized(t *testing.T) {
	n := newLAN(t)
	dev := addDevice(t, n, bacnettest.NewDevice(999001, "10.0.0.5:47808"))
	dev.Delay = 30 * time.Millisecond

	p := connect(t, n, localAddr)

	done := make(chan struct{})
	maxOutstanding := 0
	var sampler sync.WaitGroup
	sampler.Add(1)
	go func() {
		defer sampler.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if o := p.Outstanding(); o > maxOutstanding {
				maxOutstanding = o
			}
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := p.ReadProperty(context.Background(), dev.Address(), dev.DeviceID(), bacnet.PropertyVendorName)
			if err == nil && v != "Edgeo Controls" {
				err = errors.New("unexpected value")
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()
	close(done)
	sampler.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, maxOutstanding)
	assert.Len(t, dev.Requests(), 5)
}

func TestReadObjectList(t *testing.T) {
	n := newLAN(t)
	dev := bacnettest.NewDevice(999001, "10.0.0.5:47808")
	ai1 := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1)
	bo2 := bacnet.NewObjectIdentifier(bacnet.ObjectTypeBinaryOutput, 2)
	dev.AddObject(ai1, map[bacnet.PropertyIdentifier]interface{}{bacnet.PropertyPresentValue: float32(1)})
	dev.AddObject(bo2, map[bacnet.PropertyIdentifier]interface{}{bacnet.PropertyPresentValue: bacnet.Enumerated(1)})
	addDevice(t, n, dev)

	p := connect(t, n, localAddr)
	ctx := context.Background()
	want := []bacnet.ObjectIdentifier{dev.DeviceID(), ai1, bo2}

	list, err := p.ReadObjectList(ctx, dev.Address(), dev.Instance)
	require.NoError(t, err)
	assert.Equal(t, want, list)

	t.Run("segmentation required", func(t *testing.T) {
		dev.SegmentObjectList = true
		defer func() { dev.SegmentObjectList = false }()

		_, err := p.ReadObjectList(ctx, dev.Address(), dev.Instance)
		require.Error(t, err)
		assert.True(t, bacnet.IsResponseTooLong(err))

		list, err := p.ReadObjectListIndexed(ctx, dev.Address(), dev.Instance)
		require.NoError(t, err)
		assert.Equal(t, want, list)
	})
}

func TestReadObjectListIndexedRejectsHugeLength(t *testing.T) {
	n := newLAN(t)
	dev := bacnettest.NewDevice(999001, "10.0.0.5:47808")
	dev.SegmentObjectList = true
	dev.ObjectListLength = 0xFFFFFFFF
	addDevice(t, n, dev)

	p := connect(t, n, localAddr)

	list, err := p.ReadObjectListIndexed(context.Background(), dev.Address(), dev.Instance)
	require.ErrorIs(t, err, bacnet.ErrInvalidResponse)
	assert.Nil(t, list)

	// Only the length was asked for
	reqs := dev.Requests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].ArrayIndex)
	assert.Equal(t, uint32(0), *reqs[0].ArrayIndex)
}

func TestRoutedDevices(t *testing.T) {
	n := newLAN(t)

	a := bacnettest.NewDevice(999005, "10.0.0.9:47808")
	a.Net, a.MAC = 2001, []byte{0x0a}
	addDevice(t, n, a)

	b := bacnettest.NewDevice(999006, "10.0.0.9:47808")
	b.Net, b.MAC = 2001, []byte{0x0b}
	addDevice(t, n, b)

	p := connect(t, n, localAddr)

	devices, err := p.WhoIs(context.Background(), bacnet.WithDiscoveryTimeout(300*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, []uint32{999005, 999006}, instances(devices))
	assert.Equal(t, "2001:0a@10.0.0.9", devices[0].Address.String())
	assert.Equal(t, "2001:0b@10.0.0.9", devices[1].Address.String())

	for _, dev := range devices {
		v, err := p.ReadProperty(context.Background(), dev.Address, dev.ObjectID, bacnet.PropertyObjectName)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("DEV-%d", dev.Instance()), v)
	}
}

func TestLocate(t *testing.T) {
	n := newLAN(t)
	addDevice(t, n, bacnettest.NewDevice(999001, "10.0.0.5:47808"))
	p := connect(t, n, localAddr)
	ctx := context.Background()

	dev, err := p.Locate(ctx, 999001, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", dev.Address.String())

	// Served from the cache
	_, err = p.Locate(ctx, 999001, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Metrics().WhoIsSent.Value())

	_, err = p.Locate(ctx, 4242, 200*time.Millisecond)
	assert.ErrorIs(t, err, bacnet.ErrDeviceNotFound)
}

func TestCloseFailsPendingRequests(t *testing.T) {
	n := newLAN(t)
	dev := addDevice(t, n, bacnettest.NewDevice(999001, "10.0.0.5:47808"))
	dev.MuteObject(dev.DeviceID())

	p, err := n.Participant(localAddr)
	require.NoError(t, err)
	require.NoError(t, p.Connect(context.Background()))

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = p.Close()
	}()

	_, err = p.ReadProperty(context.Background(), dev.Address(), dev.DeviceID(), bacnet.PropertyObjectName,
		bacnet.WithReadTimeout(5*time.Second))
	assert.ErrorIs(t, err, bacnet.ErrConnectionClosed)
	assert.Zero(t, p.Outstanding())
}
