// Package ports hands out auth and game ports to servers from the configured
// ranges. Allocation is deterministic: given the same reserved set the same
// port is always chosen.
package ports

import (
	"fmt"
	"sort"

	"emperror.dev/errors"
)

const (
	ErrPortsExhausted = errors.Sentinel("ports: every port in range is reserved")
	ErrInvalidPort    = errors.Sentinel("ports: pinned port is out of bounds")
	ErrPortInUse      = errors.Sentinel("ports: pinned port is already reserved")
	ErrInvalidRange   = errors.Sentinel("ports: range start is greater than range end")
)

// Range is an inclusive range of ports.
type Range struct {
	Start uint16 `json:"start" yaml:"start" toml:"start"`
	End   uint16 `json:"end" yaml:"end" toml:"end"`
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Validate returns an error if the range is empty or starts at port zero.
func (r Range) Validate() error {
	if r.Start == 0 {
		return errors.WithStack(ErrInvalidPort)
	}
	if r.Start > r.End {
		return errors.WithStack(ErrInvalidRange)
	}
	return nil
}

// Contains reports whether p lies within the range.
func (r Range) Contains(p uint16) bool {
	return p >= r.Start && p <= r.End
}

// Size returns the number of ports in the range.
func (r Range) Size() int {
	if r.Start > r.End {
		return 0
	}
	return int(r.End-r.Start) + 1
}

// Assignment is the pair of ports held by a single server.
type Assignment struct {
	AuthPort uint16 `json:"auth_port"`
	GamePort uint16 `json:"game_port"`
}

func (a Assignment) String() string {
	return fmt.Sprintf("auth=%d game=%d", a.AuthPort, a.GamePort)
}

// Reserved is a set of ports that may not be handed out.
type Reserved map[uint16]struct{}

// NewReserved returns a reserved set containing the given ports.
func NewReserved(ports ...uint16) Reserved {
	r := make(Reserved, len(ports))
	for _, p := range ports {
		r.Add(p)
	}
	return r
}

func (r Reserved) Add(p uint16) {
	r[p] = struct{}{}
}

func (r Reserved) Remove(p uint16) {
	delete(r, p)
}

func (r Reserved) Has(p uint16) bool {
	_, ok := r[p]
	return ok
}

// Merge adds every port in o to the set.
func (r Reserved) Merge(o Reserved) {
	for p := range o {
		r.Add(p)
	}
}

// Clone returns a copy of the reserved set.
func (r Reserved) Clone() Reserved {
	c := make(Reserved, len(r))
	c.Merge(r)
	return c
}

// Allocate returns a port for a server and marks it as reserved. A pinned port
// is trusted and returned as-is once it passes the bounds check, even when it
// lies outside of the range. Otherwise the range is scanned in ascending order
// and the first port not in reserved wins.
func Allocate(r Range, reserved Reserved, pinned *uint16) (uint16, error) {
	if pinned != nil {
		if *pinned == 0 {
			return 0, errors.WithStack(ErrInvalidPort)
		}
		reserved.Add(*pinned)
		return *pinned, nil
	}
	if r.Start > r.End {
		return 0, errors.WithStack(ErrInvalidRange)
	}
	// Use an int cursor so that a range ending at 65535 terminates.
	for p := int(r.Start); p <= int(r.End); p++ {
		if !reserved.Has(uint16(p)) {
			reserved.Add(uint16(p))
			return uint16(p), nil
		}
	}
	return 0, errors.WithDetails(errors.WithStack(ErrPortsExhausted), "range", r.String())
}

// Request asks for an assignment for a named server, optionally pinning
// either port.
type Request struct {
	Name     string
	AuthPort *uint16
	GamePort *uint16
}

// Batch is the outcome of a single allocation pass.
type Batch struct {
	Assigned map[string]Assignment
	Failed   map[string]error
}

// Allocator allocates port pairs from the auth and game ranges.
type Allocator struct {
	Auth Range
	Game Range
}

// AllocateBatch assigns ports to every request in two phases. Pins are claimed
// first for the whole batch so that they win regardless of declaration order,
// then the remaining ports are auto-assigned in name order. A port handed out
// from one range is never handed out from the other during the same pass.
//
// inUse holds the ports of every live server and is not modified. A failure
// only affects its own request.
func (a Allocator) AllocateBatch(inUse Reserved, reqs []Request) Batch {
	b := Batch{
		Assigned: make(map[string]Assignment, len(reqs)),
		Failed:   make(map[string]error),
	}
	reserved := inUse.Clone()

	sorted := make([]Request, len(reqs))
	copy(sorted, reqs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	// Phase one: claim every pin.
	claimed := make(map[string]Assignment, len(sorted))
	for _, req := range sorted {
		var asn Assignment
		for _, pin := range []struct {
			port *uint16
			dst  *uint16
		}{{req.AuthPort, &asn.AuthPort}, {req.GamePort, &asn.GamePort}} {
			if pin.port == nil {
				continue
			}
			if reserved.Has(*pin.port) {
				b.Failed[req.Name] = errors.WithDetails(errors.WithStack(ErrPortInUse), "port", *pin.port)
				break
			}
			p, err := Allocate(Range{}, reserved, pin.port)
			if err != nil {
				b.Failed[req.Name] = err
				break
			}
			*pin.dst = p
		}
		if _, failed := b.Failed[req.Name]; failed {
			release(reserved, asn)
			continue
		}
		claimed[req.Name] = asn
	}

	// Phase two: fill in everything that was not pinned.
	for _, req := range sorted {
		if _, failed := b.Failed[req.Name]; failed {
			continue
		}
		asn := claimed[req.Name]
		if req.AuthPort == nil {
			p, err := Allocate(a.Auth, reserved, nil)
			if err != nil {
				b.Failed[req.Name] = errors.WrapIf(err, "ports: failed to allocate auth port")
				release(reserved, asn)
				continue
			}
			asn.AuthPort = p
		}
		if req.GamePort == nil {
			p, err := Allocate(a.Game, reserved, nil)
			if err != nil {
				b.Failed[req.Name] = errors.WrapIf(err, "ports: failed to allocate game port")
				release(reserved, asn)
				continue
			}
			asn.GamePort = p
		}
		b.Assigned[req.Name] = asn
	}

	return b
}

// release gives back the ports a failed request managed to claim so that the
// rest of the pass can use them.
func release(reserved Reserved, asn Assignment) {
	if asn.AuthPort != 0 {
		reserved.Remove(asn.AuthPort)
	}
	if asn.GamePort != 0 {
		reserved.Remove(asn.GamePort)
	}
}
