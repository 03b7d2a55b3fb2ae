// Package platform resolves the immutable platform identity that drives
// dialect selection, core-mask encoding and discovery scan ranges.
package platform

// Codename identifies a processor generation the way the kernel driver
// numbers them; ParseID maps the driver's codename node to this enum.
type Codename int

const (
	Unknown Codename = iota
	Colfax
	Renoir
	Picasso
	Matisse
	Threadripper
	CastlePeak
	RavenRidge
	RavenRidge2
	SummitRidge
	PinnacleRidge
	Rembrandt
	Vermeer
	VanGogh
	Cezanne
	Milan
	Dali
	Lucienne
	Naples
	Chagall
	Raphael
	Phoenix
	HawkPoint
	GraniteRidge
	StormPeak
	StrixPoint
	StrixHalo
	ShimadaPeak

	codenameCount
)

var codenameNames = map[Codename]string{
	Unknown:       "Unknown",
	Colfax:        "Colfax",
	Renoir:        "Renoir",
	Picasso:       "Picasso",
	Matisse:       "Matisse",
	Threadripper:  "Threadripper",
	CastlePeak:    "CastlePeak",
	RavenRidge:    "RavenRidge",
	RavenRidge2:   "RavenRidge2",
	SummitRidge:   "SummitRidge",
	PinnacleRidge: "PinnacleRidge",
	Rembrandt:     "Rembrandt",
	Vermeer:       "Vermeer",
	VanGogh:       "VanGogh",
	Cezanne:       "Cezanne",
	Milan:         "Milan",
	Dali:          "Dali",
	Lucienne:      "Lucienne",
	Naples:        "Naples",
	Chagall:       "Chagall",
	Raphael:       "Raphael",
	Phoenix:       "Phoenix",
	HawkPoint:     "HawkPoint",
	GraniteRidge:  "GraniteRidge",
	StormPeak:     "StormPeak",
	StrixPoint:    "StrixPoint",
	StrixHalo:     "StrixHalo",
	ShimadaPeak:   "ShimadaPeak",
}

func (cn Codename) String() string {
	if name, ok := codenameNames[cn]; ok {
		return name
	}
	return "Unknown"
}

// ParseID converts the driver's numeric codename to the enum. Out-of-range
// values resolve to Unknown, which downstream layers treat as "use the
// generic fallbacks".
func ParseID(id int) Codename {
	cn := Codename(id)
	if cn <= Unknown || cn >= codenameCount {
		return Unknown
	}
	return cn
}

// Family returns the CPU family number of a codename's generation. The
// topology fuse layout varies by family.
func (cn Codename) Family() uint32 {
	switch cn {
	case Colfax, Renoir, Picasso, Matisse, Threadripper, CastlePeak,
		RavenRidge, RavenRidge2, SummitRidge, PinnacleRidge, VanGogh,
		Dali, Lucienne, Naples:
		return 0x17
	case Rembrandt, Vermeer, Cezanne, Milan, Chagall, Raphael, Phoenix,
		HawkPoint, StormPeak:
		return 0x19
	case GraniteRidge, StrixPoint, StrixHalo, ShimadaPeak:
		return 0x1A
	default:
		return 0
	}
}

// Monolithic reports whether the package is an integrated/APU die, which
// selects the APU mailbox addresses over the chiplet ones.
func (cn Codename) Monolithic() bool {
	switch cn {
	case Renoir, Cezanne, Rembrandt, Phoenix, HawkPoint, RavenRidge,
		RavenRidge2, Picasso, Lucienne, Dali, VanGogh, StrixPoint,
		StrixHalo:
		return true
	default:
		return false
	}
}

// FlatCoreIndex reports whether margin commands address cores by the raw
// index. Everything else uses the chiplet encoding, the Strix parts
// included: their set command carries the combined argument, whose mask
// field keeps only bits 20-31, and a flat index there would collapse every
// core onto the same argument.
func (cn Codename) FlatCoreIndex() bool {
	switch cn {
	case Renoir, Cezanne, Rembrandt, Phoenix, RavenRidge, Picasso,
		Lucienne, Dali:
		return true
	default:
		return false
	}
}
