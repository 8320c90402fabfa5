package state

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid address")

// Address identifies a machine inside an area, e.g. A.3. Machine 0 denotes the area itself.
// The zero value is invalid and formats as "0.0".
type Address struct {
	Area    byte
	Machine int8
}

// NoAddress is the empty address, used as the next hop of the self route.
var NoAddress = Address{}

func NewAddress(area byte, machine int) (Address, error) {
	a := Address{Area: area, Machine: int8(machine)}
	if machine < 0 || machine > 9 || !a.IsValid() {
		return NoAddress, fmt.Errorf("%w: area %q machine %d", ErrInvalidAddress, area, machine)
	}
	return a, nil
}

func ParseAddress(s string) (Address, error) {
	if len(s) != 3 || s == "0.0" || s[1] != '.' {
		return NoAddress, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if s[2] < '0' || s[2] > '9' {
		return NoAddress, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return NewAddress(s[0], int(s[2]-'0'))
}

func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func validArea(area byte) bool {
	return area >= 'A' && area <= 'Z'
}

func (a Address) IsValid() bool {
	return validArea(a.Area) && a.Machine >= 0 && a.Machine <= 9
}

// IsNetwork is true for valid area addresses (machine 0)
func (a Address) IsNetwork() bool {
	return a.IsValid() && a.Machine == 0
}

// Network returns a copy of the address with the machine set to 0
func (a Address) Network() Address {
	return Address{Area: a.Area, Machine: 0}
}

func (a Address) Equal(o Address) bool {
	return a == o
}

func (a Address) SameNetwork(o Address) bool {
	return a.Area == o.Area
}

func (a Address) String() string {
	if !a.IsValid() {
		return "0.0"
	}
	return fmt.Sprintf("%c.%d", a.Area, a.Machine)
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	p, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = p
	return nil
}

// AddressList is an ordered sequence of addresses, used as a path vector.
// Methods that change the list return a new list and never write into the receiver.
type AddressList []Address

func (l AddressList) Len() int {
	return len(l)
}

func (l AddressList) Get(i int) Address {
	return l[i]
}

// Prepend returns a copy of the list with addr inserted at the head
func (l AddressList) Prepend(addr Address) AddressList {
	out := make(AddressList, 0, len(l)+1)
	out = append(out, addr)
	return append(out, l...)
}

// Append returns a copy of the list with addr added at the tail
func (l AddressList) Append(addr Address) AddressList {
	out := make(AddressList, 0, len(l)+1)
	out = append(out, l...)
	return append(out, addr)
}

// Remove returns a copy of the list without the element at position i
func (l AddressList) Remove(i int) AddressList {
	out := make(AddressList, 0, len(l))
	out = append(out, l[:i]...)
	return append(out, l[i+1:]...)
}

func (l AddressList) IndexOf(addr Address) int {
	for i, a := range l {
		if a == addr {
			return i
		}
	}
	return -1
}

func (l AddressList) Contains(addr Address) bool {
	return l.IndexOf(addr) != -1
}

func (l AddressList) Equal(o AddressList) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		if l[i] != o[i] {
			return false
		}
	}
	return true
}

func (l AddressList) Clone() AddressList {
	if l == nil {
		return nil
	}
	return append(make(AddressList, 0, len(l)), l...)
}

// Flatten replaces every hop outside the local network by its network address and drops
// consecutive duplicates, so a run of hops through a foreign area shows up once.
// An invalid local address flattens every hop.
func (l AddressList) Flatten(local Address) AddressList {
	out := make(AddressList, 0, len(l))
	for _, a := range l {
		hop := a
		if !local.IsValid() || !a.SameNetwork(local) {
			hop = a.Network()
		}
		if len(out) > 0 && out[len(out)-1] == hop {
			continue
		}
		out = append(out, hop)
	}
	return out
}

func (l AddressList) String() string {
	sb := strings.Builder{}
	sb.WriteByte('[')
	for i, a := range l {
		if i != 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(a.String())
	}
	sb.WriteByte(']')
	return sb.String()
}
