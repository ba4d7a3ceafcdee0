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
	"sync"
	"sync/atomic"
	"time"
)

// RequestState is the lifecycle state of a PendingRequest
type RequestState int32

const (
	RequestSent RequestState = iota
	RequestMatched
	RequestTimedOut
	RequestErrored
)

func (s RequestState) String() string {
	switch s {
	case RequestSent:
		return "sent"
	case RequestMatched:
		return "matched"
	case RequestTimedOut:
		return "timed-out"
	case RequestErrored:
		return "errored"
	default:
		return "unknown"
	}
}

type reply struct {
	frame Frame
	err   error
}

// PendingRequest tracks one confirmed request until it is resolved. A request
// leaves RequestSent exactly once.
type PendingRequest struct {
	InvokeID uint8
	Target   Address
	Service  ConfirmedServiceChoice
	Deadline time.Time
	Sent     time.Time

	key   string
	state atomic.Int32
	done  chan reply
}

// State returns the current state of the request
func (p *PendingRequest) State() RequestState {
	return RequestState(p.state.Load())
}

// Correlator matches replies to outstanding requests by target address and
// invoke id.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]map[uint8]*PendingRequest
	next    map[string]uint8
	count   int
}

// NewCorrelator creates an empty correlator
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[string]map[uint8]*PendingRequest),
		next:    make(map[string]uint8),
	}
}

// Register tracks a new request to target and allocates an invoke id that is
// not in use for that target.
func (c *Correlator) Register(target Address, service ConfirmedServiceChoice, deadline time.Time) (*PendingRequest, error) {
	key := target.key()

	c.mu.Lock()
	defer c.mu.Unlock()

	slots := c.pending[key]
	if slots == nil {
		slots = make(map[uint8]*PendingRequest)
		c.pending[key] = slots
	}
	if len(slots) > 0xFF {
		return nil, ErrInvokeIDExhausted
	}

	id := c.next[key]
	for {
		if _, used := slots[id]; !used {
			break
		}
		id++
	}
	c.next[key] = id + 1

	p := &PendingRequest{
		InvokeID: id,
		Target:   target,
		Service:  service,
		Deadline: deadline,
		Sent:     time.Now(),
		key:      key,
		done:     make(chan reply, 1),
	}
	slots[id] = p
	c.count++
	return p, nil
}

// Deliver hands a reply from src to the request it answers. It returns false
// when no outstanding request matches; such frames are left for the caller to
// count and leave every pending request untouched.
func (c *Correlator) Deliver(src Address, f Frame) bool {
	if !f.Kind.IsReply() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pending[src.key()][f.InvokeID]
	if p == nil {
		return false
	}

	state := RequestErrored
	switch f.Kind {
	case FrameReadPropertyAck, FrameSimpleAck:
		if f.Service != byte(p.Service) {
			return false
		}
		if !f.Segmented {
			state = RequestMatched
		}
	case FrameError:
		if f.Service != byte(p.Service) {
			return false
		}
	}

	c.resolveLocked(p, state, reply{frame: f, err: f.Err()})
	return true
}

// Wait blocks until p is resolved, its deadline passes or ctx is done. An
// expired deadline, on the request or on ctx, is reported as ErrTimeout.
func (c *Correlator) Wait(ctx context.Context, p *PendingRequest) (Frame, error) {
	timer := time.NewTimer(time.Until(p.Deadline))
	defer timer.Stop()

	select {
	case r := <-p.done:
		return r.frame, r.err

	case <-timer.C:
		c.resolve(p, RequestTimedOut, reply{err: ErrTimeout})

	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		c.resolve(p, RequestTimedOut, reply{err: err})
	}

	// Either our resolution or a reply that won the race
	r := <-p.done
	return r.frame, r.err
}

// Cancel resolves p as errored with err, e.g. when the send failed
func (c *Correlator) Cancel(p *PendingRequest, err error) {
	c.resolve(p, RequestErrored, reply{err: err})
}

// CloseAll resolves every outstanding request with err
func (c *Correlator) CloseAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, slots := range c.pending {
		for _, p := range slots {
			c.resolveLocked(p, RequestErrored, reply{err: err})
		}
	}
}

// Outstanding returns the number of unresolved requests
func (c *Correlator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *Correlator) resolve(p *PendingRequest, state RequestState, r reply) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(p, state, r)
}

func (c *Correlator) resolveLocked(p *PendingRequest, state RequestState, r reply) bool {
	if !p.state.CompareAndSwap(int32(RequestSent), int32(state)) {
		return false
	}

	if slots := c.pending[p.key]; slots[p.InvokeID] == p {
		delete(slots, p.InvokeID)
		if len(slots) == 0 {
			delete(c.pending, p.key)
		}
		c.count--
	}
	p.done <- r
	return true
}
