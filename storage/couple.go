// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

type CoupleStatus int

const (
	CoupleInit CoupleStatus = iota
	CoupleOK
	CoupleFull
	CoupleBad
	CoupleBroken
	CoupleRO
	CoupleFrozen
	CoupleMigrating
	CoupleServiceActive
	CoupleServiceStalled
)

func (s CoupleStatus) String() string {
	switch s {
	case CoupleInit:
		return "INIT"
	case CoupleOK:
		return "OK"
	case CoupleFull:
		return "FULL"
	case CoupleBad:
		return "BAD"
	case CoupleBroken:
		return "BROKEN"
	case CoupleRO:
		return "RO"
	case CoupleFrozen:
		return "FROZEN"
	case CoupleMigrating:
		return "MIGRATING"
	case CoupleServiceActive:
		return "SERVICE_ACTIVE"
	case CoupleServiceStalled:
		return "SERVICE_STALLED"
	}
	return "UNKNOWN"
}

// CoupleKey joins group ids in the order declared by the groups' metadata.
func CoupleKey(groupIDs []int) string {
	parts := make([]string, len(groupIDs))
	for i, id := range groupIDs {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ":")
}

// Couple is an ordered set of groups declared to replicate one another.
type Couple struct {
	key    string
	groups []*Group

	status     CoupleStatus
	statusText string

	// internal status string for diagnostics, regenerated every update
	internalStatus string

	modifiedTime         uint64
	updateStatusDuration uint64
}

func newCouple(groups []*Group) *Couple {
	ids := make([]int, len(groups))
	for i, g := range groups {
		ids[i] = g.ID()
	}
	return &Couple{
		key:    CoupleKey(ids),
		groups: groups,
		status: CoupleInit,
	}
}

func (c *Couple) Key() string          { return c.key }
func (c *Couple) Groups() []*Group     { return c.groups }
func (c *Couple) Status() CoupleStatus { return c.status }
func (c *Couple) StatusText() string   { return c.statusText }

func (c *Couple) UpdateStatusDuration() uint64 { return c.updateStatusDuration }

// checkGroups reports whether the couple's group list matches the ids.
func (c *Couple) checkGroups(groupIDs []int) bool {
	if len(groupIDs) != len(c.groups) {
		return false
	}
	for i, id := range groupIDs {
		if c.groups[i].ID() != id {
			return false
		}
	}
	return true
}

func (c *Couple) namespaceName() string {
	if len(c.groups) == 0 {
		return ""
	}
	return c.groups[0].Metadata().Namespace
}

func (c *Couple) updateStatus(forbiddenDcSharing, forbiddenUnmatchedTotal bool) {
	defer newStopwatch(&c.updateStatusDuration).Stop()

	c.modifiedTime = 0
	for _, g := range c.groups {
		if g.UpdateTime() > c.modifiedTime {
			c.modifiedTime = g.UpdateTime()
		}
	}

	first := c.groups[0]
	for _, g := range c.groups[1:] {
		if first.haveMetadataConflict(g) {
			c.setStatus(CoupleBad, "BAD_DifferentMetadata",
				fmt.Sprintf("Groups %d and %d have different metadata.", first.ID(), g.ID()))
			c.accountJobInStatus()
			return
		}
	}

	for _, g := range c.groups {
		if g.frozen() {
			c.setStatus(CoupleFrozen, "FROZEN_Frozen",
				fmt.Sprintf("Group %d is frozen.", g.ID()))
			return
		}
	}

	if forbiddenDcSharing {
		if !c.checkDcSharing() {
			return
		}
	}

	// forbidden_ns_without_settings is recognized but there is no namespace
	// settings source to check against; see DESIGN.md.

	nrCoupled := 0
	for _, g := range c.groups {
		if g.Status() == GroupCoupled {
			nrCoupled++
		}
	}
	if nrCoupled == len(c.groups) {
		if forbiddenUnmatchedTotal {
			firstTotal := first.TotalSpace()
			for _, g := range c.groups[1:] {
				if g.TotalSpace() != firstTotal {
					c.setStatus(CoupleBroken, "BROKEN_UnequalTotalSpace",
						fmt.Sprintf("Couple %s has unequal total space in groups %d and %d.", c.key, first.ID(), g.ID()))
					return
				}
			}
		}
		if c.full() {
			c.setStatus(CoupleFull, "FULL_Full", fmt.Sprintf("Couple %s is full.", c.key))
		} else {
			c.setStatus(CoupleOK, "OK_OK", fmt.Sprintf("Couple %s is OK.", c.key))
		}
		return
	}

	if g := c.findGroup(GroupInit); g != nil {
		c.setStatus(CoupleInit, "BAD_GroupUninitialized",
			fmt.Sprintf("Couple %s has uninitialized group %d.", c.key, g.ID()))
	} else if g := c.findGroup(GroupBroken); g != nil {
		c.setStatus(CoupleBroken, "BROKEN_GroupBROKEN",
			fmt.Sprintf("Couple %s has broken group %d.", c.key, g.ID()))
	} else if g := c.findGroup(GroupBad); g != nil {
		// A couple in state BAD may turn into SERVICE_ACTIVE or
		// SERVICE_STALLED below once the active job is checked.
		c.setStatus(CoupleBad, "BAD_GroupBAD",
			fmt.Sprintf("Couple %s has bad group %d.", c.key, g.ID()))
	} else if g := c.findAnyGroup(GroupRO, GroupMigrating); g != nil {
		c.setStatus(CoupleBad, "BAD_ReadOnly",
			fmt.Sprintf("Couple %s has read-only group %d.", c.key, g.ID()))
	} else {
		c.setStatus(CoupleBad, "BAD_Unknown",
			fmt.Sprintf("Couple %s is bad for unknown reason.", c.key))
	}

	c.accountJobInStatus()
}

func (c *Couple) setStatus(status CoupleStatus, internal, text string) {
	c.status = status
	c.internalStatus = internal
	c.statusText = text
}

func (c *Couple) findGroup(status GroupStatus) *Group {
	for _, g := range c.groups {
		if g.Status() == status {
			return g
		}
	}
	return nil
}

func (c *Couple) findAnyGroup(statuses ...GroupStatus) *Group {
	for _, g := range c.groups {
		for _, st := range statuses {
			if g.Status() == st {
				return g
			}
		}
	}
	return nil
}

// accountJobInStatus applies the service-job override: a BAD couple whose
// group has an active MOVE or RESTORE_GROUP job is in service.
func (c *Couple) accountJobInStatus() bool {
	if c.status != CoupleBad {
		return false
	}

	for _, g := range c.groups {
		job := g.ActiveJob()
		if job == nil {
			continue
		}
		if job.Type != JobMove && job.Type != JobRestoreGroup {
			return false
		}

		if job.Status == JobNew || job.Status == JobExecuting {
			c.setStatus(CoupleServiceActive, "SERVICE_ACTIVE_ServiceActive",
				"Couple has active job "+job.ID)
		} else {
			c.setStatus(CoupleServiceStalled, "SERVICE_STALLED_ServiceStalled",
				"Couple has stalled job "+job.ID)
		}

		if c.modifiedTime < g.UpdateTime() {
			c.modifiedTime = g.UpdateTime()
		}
		return true
	}

	return false
}

// checkDcSharing returns false when the couple was statused because of DC
// layout: two backends sharing a DC (BROKEN) or an unresolvable DC (BAD).
func (c *Couple) checkDcSharing() bool {
	seen := make(map[string]struct{})

	for _, g := range c.groups {
		groupDcs := make(map[string]struct{})
		for _, b := range g.Backends() {
			dc := b.Node().Host().DC()
			if dc == "" {
				c.setStatus(CoupleBad, "BAD_DcResolveFailed",
					fmt.Sprintf("Group %d: Failed to resolve DC for node %s", g.ID(), b.Node().Key()))
				return false
			}
			groupDcs[dc] = struct{}{}
		}
		for dc := range groupDcs {
			if _, ok := seen[dc]; ok {
				c.setStatus(CoupleBroken, "BROKEN_DcSharing",
					"Couple has nodes sharing the same DC")
				return false
			}
			seen[dc] = struct{}{}
		}
	}

	return true
}

func (c *Couple) full() bool {
	for _, g := range c.groups {
		if g.Full() {
			return true
		}
	}
	return false
}

func (c *Couple) merge(other *Couple, haveNewer *bool) {
	if c.modifiedTime > other.modifiedTime {
		*haveNewer = true
		return
	}
	c.status = other.status
	c.statusText = other.statusText
	c.internalStatus = other.internalStatus
	c.updateStatusDuration = other.updateStatusDuration
	c.modifiedTime = other.modifiedTime
}

func (c *Couple) writeJSON(s *jsoniter.Stream, showInternals bool) {
	s.WriteObjectStart()

	s.WriteObjectField("id")
	s.WriteString(c.key)
	s.WriteMore()

	s.WriteObjectField("groups")
	s.WriteArrayStart()
	for i, g := range c.groups {
		if i > 0 {
			s.WriteMore()
		}
		s.WriteInt(g.ID())
	}
	s.WriteArrayEnd()
	s.WriteMore()

	s.WriteObjectField("status")
	s.WriteString(c.status.String())
	s.WriteMore()
	s.WriteObjectField("status_text")
	s.WriteString(c.statusText)

	if showInternals {
		s.WriteMore()
		s.WriteObjectField("internal_status")
		s.WriteString(c.internalStatus)
		s.WriteMore()
		s.WriteObjectField("update_status_duration")
		s.WriteUint64(c.updateStatusDuration)
		s.WriteMore()
		s.WriteObjectField("modified_time")
		s.WriteUint64(c.modifiedTime)
	}

	s.WriteObjectEnd()
}
