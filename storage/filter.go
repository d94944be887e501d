// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Item type bits select which entity kinds a query returns.
const (
	ItemGroup uint32 = 1 << iota
	ItemCouple
	ItemNamespace
	ItemNode
	ItemBackend
	ItemFS
	ItemJob
	ItemHost

	ItemAll = ItemGroup | ItemCouple | ItemNamespace | ItemNode | ItemBackend | ItemFS | ItemJob | ItemHost
)

var itemTypeNames = map[string]uint32{
	"group":     ItemGroup,
	"couple":    ItemCouple,
	"namespace": ItemNamespace,
	"node":      ItemNode,
	"backend":   ItemBackend,
	"fs":        ItemFS,
	"job":       ItemJob,
	"host":      ItemHost,
}

// Filter scopes a snapshot query or a refresh round. Key lists are sorted
// and unique; an empty filter matches everything of the requested types.
type Filter struct {
	ItemTypes     uint32
	ShowInternals bool

	Groups      []int
	Couples     []string
	Namespaces  []string
	Nodes       []string
	Backends    []string
	Filesystems []string
}

type filterDoc struct {
	ItemTypes []string `json:"item_types"`
	Options   struct {
		ShowInternals int `json:"show_internals"`
	} `json:"options"`
	Filter struct {
		Groups      []int    `json:"groups"`
		Couples     []string `json:"couples"`
		Namespaces  []string `json:"namespaces"`
		Nodes       []string `json:"nodes"`
		Backends    []string `json:"backends"`
		Filesystems []string `json:"filesystems"`
	} `json:"filter"`
}

var filterJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseFilter decodes the filter JSON payload. An empty payload yields the
// match-all filter.
func ParseFilter(data []byte) (*Filter, error) {
	f := &Filter{ItemTypes: ItemAll}
	if len(data) == 0 {
		return f, nil
	}

	var doc filterDoc
	if err := filterJSON.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse filter")
	}

	if len(doc.ItemTypes) != 0 {
		f.ItemTypes = 0
		for _, name := range doc.ItemTypes {
			bit, ok := itemTypeNames[name]
			if !ok {
				return nil, errors.Errorf("parse filter: unknown item type %q", name)
			}
			f.ItemTypes |= bit
		}
	}

	f.ShowInternals = doc.Options.ShowInternals != 0
	f.Groups = sortedUniqueInts(doc.Filter.Groups)
	f.Couples = sortedUniqueStrings(doc.Filter.Couples)
	f.Namespaces = sortedUniqueStrings(doc.Filter.Namespaces)
	f.Nodes = sortedUniqueStrings(doc.Filter.Nodes)
	f.Backends = sortedUniqueStrings(doc.Filter.Backends)
	f.Filesystems = sortedUniqueStrings(doc.Filter.Filesystems)

	return f, nil
}

// Empty reports whether the filter constrains nothing.
func (f *Filter) Empty() bool {
	return len(f.Groups) == 0 && len(f.Couples) == 0 && len(f.Namespaces) == 0 &&
		len(f.Nodes) == 0 && len(f.Backends) == 0 && len(f.Filesystems) == 0
}

func (f *Filter) hasGroup(id int) bool {
	i := sort.SearchInts(f.Groups, id)
	return i < len(f.Groups) && f.Groups[i] == id
}

func hasString(sorted []string, v string) bool {
	i := sort.SearchStrings(sorted, v)
	return i < len(sorted) && sorted[i] == v
}

func sortedUniqueInts(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := append([]int(nil), in...)
	sort.Ints(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func sortedUniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
