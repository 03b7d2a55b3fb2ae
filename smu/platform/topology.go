package platform

import (
	"fmt"
	"math/bits"

	"smudbg/smu/smuio"
)

// Fuse registers describing the package layout. Family 17h parts other than
// Matisse keep the CCD fuses 0x40 further up.
const (
	ccdFuseLo = 0x0005D218
	ccdFuseHi = 0x0005D21C

	coreFuseBase      = 0x30081800
	coreFuseZen2Off   = 0x238
	coreFuseZen3Off   = 0x598
	coreFuseAltSelect = 0x02000000
)

// Topology is the detected package layout.
type Topology struct {
	CCDs        uint32
	CCXs        uint32
	CoresPerCCX uint32
	PhysCores   uint32

	// CoreDisableMap holds per-group disable bitmaps (1 = fused off),
	// indexed by coreIndex/8.
	CoreDisableMap [2]uint32
}

// CoreEnabled reports whether a physical core index is present and not
// fused off.
func (t *Topology) CoreEnabled(core int) bool {
	if core < 0 || uint32(core) >= t.PhysCores {
		return false
	}
	group := core / 8
	if group > 1 {
		group = 1
	}
	return (^t.CoreDisableMap[group]>>(core%8))&1 == 1
}

// readTopology decodes the CCD and core fuses through the gateway.
func readTopology(gw smuio.Gateway, cn Codename) (Topology, error) {
	var topo Topology
	family := cn.Family()

	fuseLo, fuseHi := uint32(ccdFuseLo), uint32(ccdFuseHi)
	if family == 0x17 && cn != Matisse {
		fuseLo += 0x40
		fuseHi += 0x40
	}

	present, err := gw.ReadRegister(fuseLo)
	if err != nil {
		return topo, fmt.Errorf("ccd fuse 0x%08X: %w", fuseLo, err)
	}
	down, err := gw.ReadRegister(fuseHi)
	if err != nil {
		return topo, fmt.Errorf("ccd fuse 0x%08X: %w", fuseHi, err)
	}

	ccdsDisabled := ((down & 0x3F) << 2) | ((present >> 30) & 0x3)
	ccdsPresent := (present >> 22) & 0xFF

	var coreFuseAddr uint32
	if family >= 0x19 {
		coreFuseAddr = coreFuseBase + coreFuseZen3Off
		if (ccdsDisabled&ccdsPresent)&1 == 1 {
			coreFuseAddr |= coreFuseAltSelect
		}
	} else {
		coreFuseAddr = coreFuseBase + coreFuseZen2Off
		if ccdsPresent&1 == 0 {
			coreFuseAddr |= coreFuseAltSelect
		}
	}

	coreFuse, err := gw.ReadRegister(coreFuseAddr)
	if err != nil {
		return topo, fmt.Errorf("core fuse 0x%08X: %w", coreFuseAddr, err)
	}

	coreDisable := coreFuse & 0xFF
	topo.CoreDisableMap[0] = coreDisable
	topo.CoreDisableMap[1] = (coreFuse >> 8) & 0xFF
	if topo.CoreDisableMap[1] == 0 {
		topo.CoreDisableMap[1] = topo.CoreDisableMap[0] // single CCD
	}

	topo.CCDs = uint32(bits.OnesCount32(ccdsPresent))
	if family >= 0x19 {
		topo.CCXs = topo.CCDs
		topo.CoresPerCCX = 8 - uint32(bits.OnesCount32(coreDisable))
	} else {
		topo.CCXs = topo.CCDs * 2
		topo.CoresPerCCX = (8 - uint32(bits.OnesCount32(coreDisable))) / 2
	}
	topo.PhysCores = topo.CCXs * topo.CoresPerCCX

	return topo, nil
}
