package platform

import (
	"smudbg/config"
	"smudbg/smu/smuio"
)

// Known mailbox triples. The primary (RSMU) mailbox sits at different
// addresses on integrated and chiplet packages; the secondary (MP1) mailbox
// moves with the interface version; the tertiary (HSMP) mailbox exists only
// on recent chiplet parts.
var (
	rsmuDesktop = smuio.Triple{Cmd: 0x03B10524, Rsp: 0x03B10570, Arg: 0x03B10A40}
	rsmuAPU     = smuio.Triple{Cmd: 0x03B10A20, Rsp: 0x03B10A80, Arg: 0x03B10A88}
	hsmpTriple  = smuio.Triple{Cmd: 0x03B10534, Rsp: 0x03B10980, Arg: 0x03B109E0}
)

var mp1ByIFVersion = map[int]smuio.Triple{
	9:  {Cmd: 0x03B10528, Rsp: 0x03B10564, Arg: 0x03B10598},
	10: {Cmd: 0x03B10528, Rsp: 0x03B10564, Arg: 0x03B10998},
	11: {Cmd: 0x03B10530, Rsp: 0x03B1057C, Arg: 0x03B109C4},
	12: {Cmd: 0x03B10528, Rsp: 0x03B10578, Arg: 0x03B10998},
	13: {Cmd: 0x03B10530, Rsp: 0x03B1057C, Arg: 0x03B109C4},
}

// KnownTriples returns the mailbox triples the platform is known to expose.
func KnownTriples(cn Codename, ifVersion int) map[smuio.Kind]smuio.Triple {
	triples := make(map[smuio.Kind]smuio.Triple)

	if cn.Monolithic() {
		triples[smuio.Primary] = rsmuAPU
	} else {
		triples[smuio.Primary] = rsmuDesktop
	}

	if mp1, ok := mp1ByIFVersion[ifVersion]; ok {
		triples[smuio.Secondary] = mp1
	}

	switch cn {
	case Milan, Chagall, Raphael, GraniteRidge, StormPeak, ShimadaPeak:
		triples[smuio.Tertiary] = hsmpTriple
	}

	return triples
}

// Scan-range family keys. The windows below are empirical per family; a
// TOML scan_ranges table with the same key overrides them.
const (
	ScanFamilyAPU           = "apu"
	ScanFamilyLegacyDesktop = "legacy-desktop"
	ScanFamilyZen4Desktop   = "zen4-desktop"
	ScanFamilyGeneric       = "generic"
)

var builtinScanRanges = map[string][]config.ScanRange{
	ScanFamilyAPU: {
		{Start: 0x03B10500, End: 0x03B10998, Step: 8, RspOffset: 0x3C},
		{Start: 0x03B10A00, End: 0x03B10AFF, Step: 4, RspOffset: 0x60},
	},
	ScanFamilyLegacyDesktop: {
		{Start: 0x03B10500, End: 0x03B10998, Step: 8, RspOffset: 0x3C},
		{Start: 0x03B10500, End: 0x03B10AFF, Step: 4, RspOffset: 0x4C},
	},
	ScanFamilyZen4Desktop: {
		{Start: 0x03B10500, End: 0x03B10998, Step: 8, RspOffset: 0x3C},
	},
	ScanFamilyGeneric: {
		{Start: 0x03B10500, End: 0x03B10998, Step: 8, RspOffset: 0x3C},
	},
}

// ScanFamilyKey buckets a codename into a scan-range family.
func ScanFamilyKey(cn Codename) string {
	switch cn {
	case RavenRidge, RavenRidge2, Picasso, Dali, Renoir, Lucienne:
		return ScanFamilyAPU
	case PinnacleRidge, SummitRidge, Matisse, Colfax, Threadripper,
		CastlePeak, Vermeer:
		return ScanFamilyLegacyDesktop
	case Raphael, GraniteRidge:
		return ScanFamilyZen4Desktop
	default:
		return ScanFamilyGeneric
	}
}

// ScanRanges returns the discovery windows for a codename, preferring any
// override configured for its family key.
func ScanRanges(cn Codename, overrides map[string][]config.ScanRange) []config.ScanRange {
	key := ScanFamilyKey(cn)
	if ranges, ok := overrides[key]; ok && len(ranges) > 0 {
		return ranges
	}
	return builtinScanRanges[key]
}
