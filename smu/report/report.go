// Package report assembles session records from the other packages' results.
// It holds data only; rendering and serialization belong to the caller, though
// the field tags match the export format downstream tools expect.
package report

import (
	"time"

	"smudbg/smu/discover"
	"smudbg/smu/platform"
	"smudbg/smu/telemetry"
	"smudbg/version"
)

// MailboxRecord is one validated mailbox triple.
type MailboxRecord struct {
	MsgAddress uint32 `json:"MsgAddress"`
	RspAddress uint32 `json:"RspAddress"`
	ArgAddress uint32 `json:"ArgAddress"`
}

// TelemetryRecord is one telemetry table slot.
type TelemetryRecord struct {
	Index  int     `json:"index"`
	Offset uint32  `json:"offset"`
	Value  float32 `json:"value"`
	Max    float32 `json:"max"`
}

// PlatformRecord captures the probed platform identity.
type PlatformRecord struct {
	Codename     string `json:"codename"`
	Family       uint32 `json:"family"`
	FWVersion    string `json:"fw_version"`
	IFVersion    int    `json:"if_version"`
	TableVersion uint32 `json:"table_version"`
	PhysCores    int    `json:"phys_cores"`
}

// Report is a full session record.
type Report struct {
	Tool      string            `json:"tool"`
	Timestamp time.Time         `json:"timestamp"`
	Platform  PlatformRecord    `json:"platform"`
	Mailboxes []MailboxRecord   `json:"mailboxes,omitempty"`
	Telemetry []TelemetryRecord `json:"telemetry,omitempty"`
}

// Build assembles a report from the probed identity, discovery results, and
// the sampler's latest snapshot. found and sp may be nil or empty.
func Build(id platform.Identity, found []discover.Discovered, sp *telemetry.Sampler) Report {
	rep := Report{
		Tool:      version.Agent,
		Timestamp: time.Now(),
		Platform: PlatformRecord{
			Codename:     id.Codename.String(),
			Family:       id.Family,
			FWVersion:    id.FWVersion,
			IFVersion:    id.IFVersion,
			TableVersion: id.TableVersion,
			PhysCores:    int(id.Topology.PhysCores),
		},
	}
	for _, d := range found {
		rep.Mailboxes = append(rep.Mailboxes, MailboxRecord{
			MsgAddress: d.Triple.Cmd,
			RspAddress: d.Triple.Rsp,
			ArgAddress: d.Triple.Arg,
		})
	}
	if sp != nil && sp.Samples() > 0 {
		for page := 0; page < sp.Pages(256); page++ {
			for _, row := range sp.Rows(page, 256) {
				rep.Telemetry = append(rep.Telemetry, TelemetryRecord{
					Index:  row.Index,
					Offset: row.Offset,
					Value:  row.Value,
					Max:    row.Max,
				})
			}
		}
	}
	return rep
}
