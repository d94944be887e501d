// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	jsoniter "github.com/json-iterator/go"
)

// Host is identified by its address string. Name and DC are filled by
// discovery (or taken over by a merge) only while empty; once set they are
// not overwritten, and a failed resolve leaves them as they are.
type Host struct {
	addr string
	name string
	dc   string
}

func NewHost(addr string) *Host { return &Host{addr: addr} }

func (h *Host) Addr() string { return h.addr }
func (h *Host) Name() string { return h.name }
func (h *Host) DC() string   { return h.dc }

func (h *Host) SetName(name string) { h.name = name }
func (h *Host) SetDC(dc string)     { h.dc = dc }

func (h *Host) cloneFrom(other *Host) {
	h.addr = other.addr
	h.name = other.name
	h.dc = other.dc
}

func (h *Host) merge(other *Host, haveNewer *bool) {
	if h.name == "" && other.name != "" {
		h.name = other.name
	}
	if h.dc == "" && other.dc != "" {
		h.dc = other.dc
	}
	if (h.name != "" && other.name == "") || (h.dc != "" && other.dc == "") {
		*haveNewer = true
	}
}

func (h *Host) writeJSON(s *jsoniter.Stream) {
	s.WriteObjectStart()
	s.WriteObjectField("addr")
	s.WriteString(h.addr)
	s.WriteMore()
	s.WriteObjectField("name")
	s.WriteString(h.name)
	s.WriteMore()
	s.WriteObjectField("dc")
	s.WriteString(h.dc)
	s.WriteObjectEnd()
}
