package effort

import "fmt"

// Protocol selects the count-expansion arithmetic.
type Protocol int

const (
	// ProtocolInstantaneous expands point-in-time counts of a fully visible
	// fishery: effort = mean(count) x window.
	ProtocolInstantaneous Protocol = iota
	// ProtocolProgressive expands counts collected while moving along a
	// route, correcting for the route fraction actually covered.
	ProtocolProgressive
	// ProtocolBusRoute expands per-stop counts weighted by the wait time at
	// each stop: effort = window x sum(count_i / wait_i).
	ProtocolBusRoute
	// ProtocolAerial expands overflight counts with a visibility correction
	// for units the plane cannot see.
	ProtocolAerial
)

var protocolNames = map[Protocol]string{
	ProtocolInstantaneous: "instantaneous",
	ProtocolProgressive:   "progressive",
	ProtocolBusRoute:      "bus_route",
	ProtocolAerial:        "aerial",
}

// String returns the protocol's wire name.
func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Protocol(%d)", int(p))
}

// ParseProtocol maps a wire name to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	for p, name := range protocolNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("effort: unknown protocol %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Protocol) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
