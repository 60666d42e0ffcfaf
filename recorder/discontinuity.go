/*
NAME
  discontinuity.go

DESCRIPTION
  discontinuity.go marks the discontinuity indicator on a packet whose
  continuity counter does not follow the previous packet seen on its
  PID since the last reset.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package recorder

import (
	"github.com/Comcast/gots/packet"

	"github.com/greywave/tscore/ts"
)

// discontinuityRepairer sets the discontinuity indicator on a PID's
// first packet after a gap in its continuity counter sequence.
// Adapted from container/mts/discontinuity.go's DiscontinuityRepairer
// for use at segment boundaries rather than on failed network sends.
type discontinuityRepairer struct {
	expCC map[uint16]int
}

func newDiscontinuityRepairer() *discontinuityRepairer {
	return &discontinuityRepairer{expCC: make(map[uint16]int)}
}

// repair marks pkt's discontinuity indicator if its continuity counter
// does not match the value expected from this PID's last packet, then
// records the counter that should follow it.
func (dr *discontinuityRepairer) repair(pkt []byte) {
	pid := ts.PID(pkt)
	cc := int(ts.ContinuityCounter(pkt))

	expect, ok := dr.expCC[pid]
	if ok && cc != expect {
		var gp packet.Packet
		copy(gp[:], pkt[:ts.PacketSize])
		if packet.ContainsAdaptationField(&gp) {
			(*packet.AdaptationField)(&gp).SetDiscontinuity(true)
			copy(pkt[:ts.PacketSize], gp[:])
		} else {
			ts.ExtendAdaptationField(pkt, 1)
			ts.SetDiscontinuityIndicator(pkt, true)
		}
	}

	dr.expCC[pid] = (cc + 1) & 0x0f
}

// reset discards all recorded expectations. The Recorder calls it each
// time it opens a new segment.
func (dr *discontinuityRepairer) reset() {
	dr.expCC = make(map[uint16]int)
}
