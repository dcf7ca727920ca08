package advertising

import "fmt"

// Type is the advertising event type.
type Type uint8

const (
	TypeInd        Type = 0x00 // connectable undirected
	TypeDirectIndH Type = 0x01
	TypeScanInd    Type = 0x02
	TypeNonconnInd Type = 0x03
	TypeDirectIndL Type = 0x04
)

// Own address types
const (
	AddrPublic uint8 = 0x00
	AddrRandom uint8 = 0x01
)

// ChannelAll enables channels 37, 38 and 39.
const ChannelAll uint8 = 0x07

// FilterAllowScanAnyConAny accepts scan and connect requests from anyone.
const FilterAllowScanAnyConAny uint8 = 0x00

// Params are the advertising parameters handed to the controller.
// Intervals are in 0.625 ms units.
type Params struct {
	IntervalMin  uint16
	IntervalMax  uint16
	Type         Type
	OwnAddrType  uint8
	ChannelMap   uint8
	FilterPolicy uint8
}

// DefaultParams returns 20-40 ms connectable undirected advertising on all
// channels from the public address.
func DefaultParams() Params {
	return Params{
		IntervalMin:  0x20,
		IntervalMax:  0x40,
		Type:         TypeInd,
		OwnAddrType:  AddrPublic,
		ChannelMap:   ChannelAll,
		FilterPolicy: FilterAllowScanAnyConAny,
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if p.IntervalMin < 0x20 || p.IntervalMax > 0x4000 {
		return fmt.Errorf("advertising: interval %d..%d outside 0x0020..0x4000", p.IntervalMin, p.IntervalMax)
	}
	if p.IntervalMin > p.IntervalMax {
		return fmt.Errorf("advertising: interval min %d > max %d", p.IntervalMin, p.IntervalMax)
	}
	if p.Type > TypeDirectIndL {
		return fmt.Errorf("advertising: unknown type 0x%02X", uint8(p.Type))
	}
	if p.ChannelMap == 0 || p.ChannelMap&^ChannelAll != 0 {
		return fmt.Errorf("advertising: invalid channel map 0x%02X", p.ChannelMap)
	}
	return nil
}

// IntervalMinMs returns the minimum interval in milliseconds.
func (p Params) IntervalMinMs() float64 {
	return float64(p.IntervalMin) * 0.625
}

// IntervalMaxMs returns the maximum interval in milliseconds.
func (p Params) IntervalMaxMs() float64 {
	return float64(p.IntervalMax) * 0.625
}

// Connectable reports whether the advertising type accepts connections.
func (p Params) Connectable() bool {
	return p.Type == TypeInd || p.Type == TypeDirectIndH || p.Type == TypeDirectIndL
}

func (t Type) String() string {
	switch t {
	case TypeInd:
		return "ADV_IND"
	case TypeDirectIndH:
		return "ADV_DIRECT_IND_HIGH"
	case TypeScanInd:
		return "ADV_SCAN_IND"
	case TypeNonconnInd:
		return "ADV_NONCONN_IND"
	case TypeDirectIndL:
		return "ADV_DIRECT_IND_LOW"
	}
	return fmt.Sprintf("Type(0x%02X)", uint8(t))
}
