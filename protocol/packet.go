package protocol

import (
	"fmt"

	"github.com/encodeous/dvr/state"
)

// Kind is the tag carried in the first byte of every datagram
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindBye
	KindRoute
	KindData
)

var Kinds = []Kind{KindHello, KindBye, KindRoute, KindData}

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindBye:
		return "BYE"
	case KindRoute:
		return "ROUTE"
	case KindData:
		return "DATA"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

type Packet interface {
	Kind() Kind
	// Origin is the address field that follows the tag
	Origin() state.Address
	encode(w *Writer)
}

// Hello announces the sender and the distance it configured for the link
type Hello struct {
	Addr     state.Address
	Distance int
}

// Bye tells the receiver that the sender is removing the adjacency
type Bye struct {
	Addr state.Address
}

// Route carries the sender's distance vector, valid for TTL seconds
type Route struct {
	Sender  state.Address
	TTL     int
	Entries []state.Entry
}

// Data is a user message travelling from Sender to Dest. Path lists the routers it went through.
type Data struct {
	Sender  state.Address
	Dest    state.Address
	Message []byte
	Path    state.AddressList
}

func (p *Hello) Kind() Kind { return KindHello }
func (p *Bye) Kind() Kind   { return KindBye }
func (p *Route) Kind() Kind { return KindRoute }
func (p *Data) Kind() Kind  { return KindData }

func (p *Hello) Origin() state.Address { return p.Addr }
func (p *Bye) Origin() state.Address   { return p.Addr }
func (p *Route) Origin() state.Address { return p.Sender }
func (p *Data) Origin() state.Address  { return p.Sender }

func (p *Hello) encode(w *Writer) {
	if err := state.DistanceValidator(p.Distance); err != nil {
		w.fail("hello: %w", err)
	}
	w.Address(p.Addr)
	w.Int32(p.Distance)
}

func (p *Bye) encode(w *Writer) {
	w.Address(p.Addr)
}

func (p *Route) encode(w *Writer) {
	if len(p.Entries) < 1 || len(p.Entries) > state.MaxVectorLen {
		w.fail("route: vector length %d out of range [1, %d]", len(p.Entries), state.MaxVectorLen)
	}
	w.Address(p.Sender)
	w.Int32(p.TTL)
	w.Int32(len(p.Entries))
	for _, e := range p.Entries {
		w.Entry(e)
	}
}

func (p *Data) encode(w *Writer) {
	if len(p.Message) > state.MaxMessageLen {
		w.fail("data: message too long (%d > %d)", len(p.Message), state.MaxMessageLen)
	}
	w.Address(p.Sender)
	w.Address(p.Dest)
	w.Uint16(uint16(len(p.Message)))
	w.Bytes(p.Message)
	w.AddressList(p.Path)
}

// Encode serialises p, tag first
func Encode(p Packet) ([]byte, error) {
	w := NewWriter(64)
	w.Uint8(uint8(p.Kind()))
	p.encode(w)
	b, err := w.Finish()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Kind(), err)
	}
	return b, nil
}

// Decode parses a datagram. Unknown tags, out of range fields and trailing bytes are errors.
func Decode(b []byte) (Packet, error) {
	r := NewReader(b)
	kind := Kind(r.Uint8())
	if r.Err() != nil {
		return nil, r.Err()
	}
	var pkt Packet
	switch kind {
	case KindHello:
		pkt = decodeHello(r)
	case KindBye:
		pkt = &Bye{Addr: r.Address()}
	case KindRoute:
		pkt = decodeRoute(r)
	case KindData:
		pkt = decodeData(r)
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformed, uint8(kind))
	}
	r.End()
	if r.Err() != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, r.Err())
	}
	return pkt, nil
}

func decodeHello(r *Reader) *Hello {
	p := &Hello{
		Addr:     r.Address(),
		Distance: r.Int32(),
	}
	if r.Err() == nil && state.DistanceValidator(p.Distance) != nil {
		r.fail("invalid distance %d", p.Distance)
	}
	return p
}

func decodeRoute(r *Reader) *Route {
	p := &Route{
		Sender: r.Address(),
		TTL:    r.Int32(),
	}
	n := r.Int32()
	if r.Err() != nil {
		return p
	}
	if n <= 0 || n > state.MaxVectorLen {
		r.fail("invalid list length %d", n)
		return p
	}
	p.Entries = make([]state.Entry, 0, n)
	for range n {
		e := r.Entry()
		if r.Err() != nil {
			return p
		}
		p.Entries = append(p.Entries, e)
	}
	return p
}

func decodeData(r *Reader) *Data {
	p := &Data{
		Sender: r.Address(),
		Dest:   r.Address(),
	}
	n := int(r.Uint16())
	if r.Err() != nil {
		return p
	}
	if n > state.MaxMessageLen {
		r.fail("message too long (%d > %d)", n, state.MaxMessageLen)
		return p
	}
	p.Message = r.Bytes(n)
	p.Path = r.AddressList()
	if r.Err() == nil && p.Path.Len() > state.MaxPathLen {
		r.fail("path length too long (%d > %d)", p.Path.Len(), state.MaxPathLen)
	}
	return p
}
