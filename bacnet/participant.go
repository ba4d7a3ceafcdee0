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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeo-scada/bacscan/bacnet/internal/transport"
)

// pollInterval bounds each Receive call of the receiver loop
const pollInterval = 100 * time.Millisecond

// ConnectionState represents the participant connection state
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Identity is the local device a participant presents on the network
type Identity struct {
	Device       ObjectIdentifier
	ObjectName   string
	VendorID     uint16
	MaxAPDU      uint16
	Segmentation Segmentation
}

// Participant is the local BACnet/IP device. It owns one bound endpoint,
// sends every request from it and receives every reply on it. Run one
// Participant per port.
type Participant struct {
	opts      *participantOptions
	transport transport.Transport
	identity  Identity

	state atomic.Int32

	correlator *Correlator
	// Held for a whole round trip when requests are serialized
	roundTripMu sync.Mutex

	collectorsMu sync.Mutex
	collectors   map[*collector]struct{}

	// Address cache, first I-Am wins
	devicesMu   sync.RWMutex
	devices     map[uint32]*DeviceInfo
	deviceOrder []uint32

	metrics *Metrics
	logger  *slog.Logger

	// Host addresses, filled when bound to the wildcard address
	selfIPs []net.IP

	closing        chan struct{}
	receiverCancel context.CancelFunc
	receiverDone   chan struct{}
}

// NewParticipant creates a participant. Nothing is bound until Connect.
func NewParticipant(opts ...Option) (*Participant, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.deviceID > MaxInstance {
		return nil, fmt.Errorf("device id %d out of range", options.deviceID)
	}
	if options.maxAPDU < 50 || options.maxAPDU > MaxAPDULength {
		return nil, fmt.Errorf("max apdu length %d out of range", options.maxAPDU)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	t := options.transport
	if t == nil {
		ip, mask, err := transport.ParseInterface(options.iface)
		if err != nil {
			return nil, err
		}
		udp := transport.NewUDPTransport(ip, mask, options.port)
		udp.SetWriteTimeout(options.timeout)
		t = udp
	}

	return &Participant{
		opts:      options,
		transport: t,
		identity: Identity{
			Device:       NewObjectIdentifier(ObjectTypeDevice, options.deviceID),
			ObjectName:   options.objectName,
			VendorID:     options.vendorID,
			MaxAPDU:      options.maxAPDU,
			Segmentation: options.segmentation,
		},
		correlator: NewCorrelator(),
		collectors: make(map[*collector]struct{}),
		devices:    make(map[uint32]*DeviceInfo),
		metrics:    NewMetrics(),
		logger:     options.logger.With(slog.Uint64("local_device", uint64(options.deviceID))),
	}, nil
}

// Connect binds the endpoint and starts the receiver. A port that is already
// bound yields an error matching *BindError.
func (p *Participant) Connect(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}

	if err := p.transport.Open(ctx); err != nil {
		p.state.Store(int32(StateDisconnected))
		return fmt.Errorf("open transport: %w", err)
	}

	p.selfIPs = nil
	if local := p.transport.LocalAddr(); local.IP == nil || local.IP.IsUnspecified() {
		ips, err := transport.HostIPs()
		if err != nil {
			p.logger.Warn("host addresses unavailable", slog.String("error", err.Error()))
		}
		p.selfIPs = ips
	}

	var receiverCtx context.Context
	receiverCtx, p.receiverCancel = context.WithCancel(context.Background())
	p.receiverDone = make(chan struct{})
	p.closing = make(chan struct{})
	go p.receiver(receiverCtx)

	p.state.Store(int32(StateConnected))

	p.logger.Info("connected",
		slog.String("local_addr", p.transport.LocalAddr().String()),
		slog.String("broadcast_addr", p.broadcastAddr().String()),
	)
	return nil
}

// Close stops the receiver, fails every pending request with
// ErrConnectionClosed and releases the endpoint.
func (p *Participant) Close() error {
	if !p.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		return nil
	}

	close(p.closing)
	p.receiverCancel()
	<-p.receiverDone

	p.correlator.CloseAll(ErrConnectionClosed)

	if err := p.transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}

	p.logger.Info("disconnected")
	return nil
}

// State returns the current connection state
func (p *Participant) State() ConnectionState {
	return ConnectionState(p.state.Load())
}

// Identity returns the local device identity
func (p *Participant) Identity() Identity {
	return p.identity
}

// LocalAddr returns the bound endpoint address
func (p *Participant) LocalAddr() *net.UDPAddr {
	return p.transport.LocalAddr()
}

// Metrics returns the participant metrics
func (p *Participant) Metrics() *Metrics {
	return p.metrics
}

// Outstanding returns the number of requests awaiting a reply
func (p *Participant) Outstanding() int {
	return p.correlator.Outstanding()
}

func (p *Participant) broadcastAddr() *net.UDPAddr {
	addr := p.transport.BroadcastAddr()
	if p.opts.broadcastPort != 0 {
		return &net.UDPAddr{IP: addr.IP, Port: p.opts.broadcastPort}
	}
	return addr
}

// Request sends one raw datagram to dst. It is safe for concurrent use.
func (p *Participant) Request(ctx context.Context, dst *net.UDPAddr, data []byte) error {
	if p.State() != StateConnected {
		return ErrNotConnected
	}

	if err := p.transport.Send(ctx, dst, data); err != nil {
		return fmt.Errorf("send to %s: %w", dst, err)
	}

	p.metrics.BytesSent.Add(int64(len(data)))
	p.metrics.RecordActivity()
	return nil
}

// roundTrip sends one confirmed request built by encode and waits for the
// correlated reply.
func (p *Participant) roundTrip(ctx context.Context, target Address, service ConfirmedServiceChoice, timeout time.Duration, encode func(invokeID uint8) []byte) (Frame, error) {
	if p.State() != StateConnected {
		return Frame{}, ErrNotConnected
	}
	if timeout <= 0 {
		timeout = p.opts.timeout
	}

	if p.opts.serialized {
		p.roundTripMu.Lock()
		defer p.roundTripMu.Unlock()
	}

	pending, err := p.correlator.Register(target, service, time.Now().Add(timeout))
	if err != nil {
		return Frame{}, err
	}

	p.metrics.RequestsSent.Inc()
	p.metrics.ActiveRequests.Inc()
	defer p.metrics.ActiveRequests.Dec()

	if err := p.Request(ctx, target.UDPAddr(), encode(pending.InvokeID)); err != nil {
		p.correlator.Cancel(pending, err)
		p.metrics.RequestsErrored.Inc()
		return Frame{}, err
	}

	f, err := p.correlator.Wait(ctx, pending)

	switch pending.State() {
	case RequestMatched:
		p.metrics.RequestsMatched.Inc()
		p.metrics.RequestLatency.Record(time.Since(pending.Sent))
	case RequestTimedOut:
		p.metrics.RequestsTimedOut.Inc()
	default:
		p.metrics.RequestsErrored.Inc()
		if f.Kind != FrameUnrecognized {
			p.metrics.RequestLatency.Record(time.Since(pending.Sent))
		}
	}

	if f.Kind == FrameReadPropertyAck && f.Segmented {
		// Stop the device from streaming the remaining segments
		abort := EncodeAbort(target, pending.InvokeID, AbortReasonSegmentationNotSupported, false)
		if sendErr := p.Request(ctx, target.UDPAddr(), abort); sendErr != nil {
			p.logger.Debug("send abort failed", slog.String("error", sendErr.Error()))
		}
	}

	return f, err
}

// receiver drains the transport until the participant is closed. Frames are
// handled inline so they are processed in arrival order.
func (p *Participant) receiver(ctx context.Context) {
	defer close(p.receiverDone)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pollCtx, cancel := context.WithTimeout(ctx, pollInterval)
		data, from, err := p.transport.Receive(pollCtx)
		cancel()
		if err != nil {
			if transport.IsTimeout(err) || errors.Is(err, context.Canceled) {
				continue
			}
			if p.transport.IsClosed() {
				return
			}
			p.logger.Debug("receive error", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		p.metrics.BytesReceived.Add(int64(len(data)))
		p.metrics.RecordActivity()

		p.handleDatagram(data, from)
	}
}

func (p *Participant) handleDatagram(data []byte, from *net.UDPAddr) {
	f := Decode(data)
	src := f.Source(from)

	switch f.Kind {
	case FrameUnrecognized:
		p.metrics.MalformedFrames.Inc()
		p.logger.Debug("dropped datagram",
			slog.String("from", from.String()),
			slog.String("reason", f.Reason),
		)

	case FrameIAm:
		p.handleIAm(f.IAm, src)

	case FrameWhoIs:
		p.handleWhoIs(f.WhoIs, from)

	case FrameReadPropertyRequest:
		p.handleReadProperty(&f, from)

	default:
		if !p.correlator.Deliver(src, f) {
			p.metrics.UnmatchedReplies.Inc()
			p.logger.Debug("unmatched reply",
				slog.String("from", src.String()),
				slog.String("kind", f.Kind.String()),
				slog.Int("invoke_id", int(f.InvokeID)),
			)
		}
	}
}

func (p *Participant) handleIAm(iam *IAm, src Address) {
	p.metrics.IAmReceived.Inc()

	instance := iam.Device.Instance
	if instance == p.identity.Device.Instance {
		return
	}

	info := &DeviceInfo{
		ObjectID:      iam.Device,
		Address:       src,
		MaxAPDULength: iam.MaxAPDU,
		Segmentation:  iam.Segmentation,
		VendorID:      iam.VendorID,
	}

	p.devicesMu.Lock()
	_, known := p.devices[instance]
	if !known {
		p.devices[instance] = info
		p.deviceOrder = append(p.deviceOrder, instance)
	}
	p.devicesMu.Unlock()

	if !known {
		p.metrics.DevicesDiscovered.Inc()
		p.logger.Debug("device discovered",
			slog.Uint64("device_id", uint64(instance)),
			slog.String("address", src.String()),
			slog.Uint64("vendor_id", uint64(iam.VendorID)),
		)
	}

	p.collectorsMu.Lock()
	for c := range p.collectors {
		c.offer(info)
	}
	p.collectorsMu.Unlock()
}

// handleWhoIs answers a Who-Is that covers the local instance
func (p *Participant) handleWhoIs(whoIs *WhoIs, from *net.UDPAddr) {
	if !whoIs.Covers(p.identity.Device.Instance) {
		return
	}
	if p.fromSelf(from) {
		return
	}

	iam := EncodeIAm(Address{}, IAm{
		Device:       p.identity.Device,
		MaxAPDU:      p.identity.MaxAPDU,
		Segmentation: p.identity.Segmentation,
		VendorID:     p.identity.VendorID,
	}, true)
	if err := p.Request(context.Background(), p.broadcastAddr(), iam); err != nil {
		p.logger.Debug("i-am reply failed", slog.String("error", err.Error()))
	}
}

// fromSelf reports whether a datagram came from our own endpoint, including
// the looped-back copy of our broadcasts when bound to the wildcard address.
func (p *Participant) fromSelf(from *net.UDPAddr) bool {
	local := p.transport.LocalAddr()
	if from.Port != local.Port {
		return false
	}
	return from.IP.Equal(local.IP) || transport.ContainsIP(p.selfIPs, from.IP)
}

// handleReadProperty serves reads of the local device object
func (p *Participant) handleReadProperty(f *Frame, from *net.UDPAddr) {
	req := f.Request
	oid := req.Object
	if oid.Type == ObjectTypeDevice && oid.Instance == WildcardInstance {
		oid = p.identity.Device
	}

	var out []byte
	if oid != p.identity.Device {
		out = EncodeError(Address{}, f.InvokeID, ServiceReadProperty, ErrorClassObject, ErrorCodeUnknownObject)
	} else if value, ok := p.localProperty(req.Property); !ok {
		out = EncodeError(Address{}, f.InvokeID, ServiceReadProperty, ErrorClassProperty, ErrorCodeUnknownProperty)
	} else if req.ArrayIndex != nil {
		out = EncodeError(Address{}, f.InvokeID, ServiceReadProperty, ErrorClassProperty, ErrorCodePropertyIsNotAnArray)
	} else {
		var err error
		out, err = EncodeReadPropertyAck(Address{}, f.InvokeID, ReadPropertyAck{
			Object:   oid,
			Property: req.Property,
			Value:    value,
		})
		if err != nil {
			p.logger.Debug("encode local property", slog.String("error", err.Error()))
			return
		}
	}

	if err := p.Request(context.Background(), from, out); err != nil {
		p.logger.Debug("read-property reply failed", slog.String("error", err.Error()))
	}
}

func (p *Participant) localProperty(prop PropertyIdentifier) (interface{}, bool) {
	id := p.identity
	switch prop {
	case PropertyObjectIdentifier:
		return id.Device, true
	case PropertyObjectName:
		return id.ObjectName, true
	case PropertyObjectType:
		return Enumerated(ObjectTypeDevice), true
	case PropertyVendorIdentifier:
		return uint32(id.VendorID), true
	case PropertyMaxApduLengthAccepted:
		return uint32(id.MaxAPDU), true
	case PropertySegmentationSupported:
		return Enumerated(id.Segmentation), true
	case PropertySystemStatus:
		return Enumerated(DeviceStatusOperational), true
	case PropertyProtocolVersion:
		return uint32(1), true
	}
	return nil, false
}
