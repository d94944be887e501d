// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"sort"

	jsoniter "github.com/json-iterator/go"
)

// PrintJSON renders the filtered subset of the snapshot as one JSON document
// with an array per entity kind. Entities are ordered by key so the output
// is deterministic.
func (s *Storage) PrintJSON(f *Filter) string {
	sel := s.Select(f)
	showInternals := f.ShowInternals

	stream := jsoniter.ConfigCompatibleWithStandardLibrary.BorrowStream(nil)
	defer jsoniter.ConfigCompatibleWithStandardLibrary.ReturnStream(stream)

	stream.WriteObjectStart()
	first := true

	field := func(name string) {
		if !first {
			stream.WriteMore()
		}
		first = false
		stream.WriteObjectField(name)
	}

	if f.ItemTypes&ItemHost != 0 {
		sort.Slice(sel.Hosts, func(i, j int) bool { return sel.Hosts[i].Addr() < sel.Hosts[j].Addr() })
		field("hosts")
		stream.WriteArrayStart()
		for i, h := range sel.Hosts {
			if i > 0 {
				stream.WriteMore()
			}
			h.writeJSON(stream)
		}
		stream.WriteArrayEnd()
	}

	if f.ItemTypes&ItemNode != 0 {
		sort.Slice(sel.Nodes, func(i, j int) bool { return sel.Nodes[i].Key() < sel.Nodes[j].Key() })
		field("nodes")
		stream.WriteArrayStart()
		for i, n := range sel.Nodes {
			if i > 0 {
				stream.WriteMore()
			}
			n.writeJSON(stream, showInternals)
		}
		stream.WriteArrayEnd()
	}

	if f.ItemTypes&ItemFS != 0 {
		sort.Slice(sel.Filesystems, func(i, j int) bool { return sel.Filesystems[i].Key() < sel.Filesystems[j].Key() })
		field("filesystems")
		stream.WriteArrayStart()
		for i, fs := range sel.Filesystems {
			if i > 0 {
				stream.WriteMore()
			}
			fs.writeJSON(stream, showInternals)
		}
		stream.WriteArrayEnd()
	}

	if f.ItemTypes&ItemBackend != 0 {
		sort.Slice(sel.Backends, func(i, j int) bool { return sel.Backends[i].Key() < sel.Backends[j].Key() })
		field("backends")
		stream.WriteArrayStart()
		for i, b := range sel.Backends {
			if i > 0 {
				stream.WriteMore()
			}
			b.writeJSON(stream, showInternals)
		}
		stream.WriteArrayEnd()
	}

	if f.ItemTypes&ItemGroup != 0 {
		sort.Slice(sel.Groups, func(i, j int) bool { return sel.Groups[i].ID() < sel.Groups[j].ID() })
		field("groups")
		stream.WriteArrayStart()
		for i, g := range sel.Groups {
			if i > 0 {
				stream.WriteMore()
			}
			g.writeJSON(stream, showInternals)
		}
		stream.WriteArrayEnd()
	}

	if f.ItemTypes&ItemCouple != 0 {
		sort.Slice(sel.Couples, func(i, j int) bool { return sel.Couples[i].Key() < sel.Couples[j].Key() })
		field("couples")
		stream.WriteArrayStart()
		for i, c := range sel.Couples {
			if i > 0 {
				stream.WriteMore()
			}
			c.writeJSON(stream, showInternals)
		}
		stream.WriteArrayEnd()
	}

	if f.ItemTypes&ItemNamespace != 0 {
		sort.Slice(sel.Namespaces, func(i, j int) bool { return sel.Namespaces[i].Name() < sel.Namespaces[j].Name() })
		field("namespaces")
		stream.WriteArrayStart()
		for i, ns := range sel.Namespaces {
			if i > 0 {
				stream.WriteMore()
			}
			ns.writeJSON(stream)
		}
		stream.WriteArrayEnd()
	}

	if f.ItemTypes&ItemJob != 0 {
		sort.Slice(sel.Jobs, func(i, j int) bool { return sel.Jobs[i].ID < sel.Jobs[j].ID })
		field("jobs")
		stream.WriteArrayStart()
		for i, job := range sel.Jobs {
			if i > 0 {
				stream.WriteMore()
			}
			job.writeJSON(stream)
		}
		stream.WriteArrayEnd()
	}

	stream.WriteObjectEnd()

	return string(stream.Buffer())
}
