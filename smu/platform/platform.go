package platform

import (
	"fmt"

	"smudbg/log"
	"smudbg/smu/smuio"
)

// Identity is resolved once at startup and never mutated afterwards.
type Identity struct {
	Codename  Codename
	Family    uint32
	FWVersion string

	// RawFWVersion is the firmware version as the 32-bit value GetVersion
	// reports; discovery matches argument registers against it.
	RawFWVersion uint32

	IFVersion    int
	TableVersion uint32
	TableBytes   uint32

	Topology Topology
}

// TelemetrySupported reports whether the driver exposes a telemetry table.
func (id *Identity) TelemetrySupported() bool {
	return id.TableBytes >= 4
}

// System bundles the resolved identity with the platform's known mailboxes.
type System struct {
	ID        Identity
	Gateway   smuio.Gateway
	Mailboxes *smuio.MailboxSet
}

// Probe resolves the platform identity through the gateway and binds the
// known mailboxes. Topology decode failure is not fatal: the identity then
// carries PhysCores == 0, which downstream layers treat as "unknown, skip
// the core-bound check".
func Probe(gw smuio.Gateway) (*System, error) {
	info, err := gw.Identify()
	if err != nil {
		return nil, fmt.Errorf("driver identification: %w", err)
	}

	id := Identity{
		Codename:     ParseID(info.CodenameID),
		FWVersion:    info.FWVersion,
		IFVersion:    info.IFVersion,
		TableVersion: info.TableVersion,
		TableBytes:   info.TableBytes,
	}
	id.Family = id.Codename.Family()

	topo, err := readTopology(gw, id.Codename)
	if err != nil {
		log.Warnf("topology detection failed, core-bound checks disabled: %v", err)
	} else {
		id.Topology = topo
	}

	ms := smuio.NewMailboxSet(gw, KnownTriples(id.Codename, id.IFVersion))

	// The raw version value doubles as the discovery probe pattern, so
	// fetch it once up front.
	st, args, err := ms.Run(smuio.CMD_GET_VERSION, smuio.Primary, smuio.Args{})
	if err != nil {
		return nil, fmt.Errorf("firmware version query: %w", err)
	}
	if st == smuio.RSP_OK {
		id.RawFWVersion = args[0]
	} else {
		log.Warnf("firmware version query status %s; discovery will be unavailable", smuio.StatusText(st))
	}

	log.Infof("platform %s fam 0x%X fw %s if v%d cores %d",
		id.Codename, id.Family, id.FWVersion, id.IFVersion, id.Topology.PhysCores)

	return &System{ID: id, Gateway: gw, Mailboxes: ms}, nil
}
