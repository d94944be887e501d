// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

// Selection is the set of entities matched by a filter.
type Selection struct {
	Hosts       []*Host
	Nodes       []*Node
	Backends    []*Backend
	Filesystems []*FS
	Groups      []*Group
	Couples     []*Couple
	Namespaces  []*Namespace
	Jobs        []*Job
}

// Select traverses the requested entity kinds and keeps the candidates whose
// membership matches every constraining kind of the filter.
func (s *Storage) Select(f *Filter) *Selection {
	sel := &Selection{}

	if f.ItemTypes&ItemHost != 0 {
		for _, h := range s.hosts {
			if s.matchHost(f, h) {
				sel.Hosts = append(sel.Hosts, h)
			}
		}
	}
	if f.ItemTypes&ItemNode != 0 {
		for _, n := range s.nodes {
			if s.matchNode(f, n) {
				sel.Nodes = append(sel.Nodes, n)
			}
		}
	}
	if f.ItemTypes&ItemBackend != 0 {
		for _, n := range s.nodes {
			for _, b := range n.backends {
				if s.matchBackend(f, b) {
					sel.Backends = append(sel.Backends, b)
				}
			}
		}
	}
	if f.ItemTypes&ItemFS != 0 {
		for _, n := range s.nodes {
			for _, fs := range n.filesystems {
				if s.matchFS(f, fs) {
					sel.Filesystems = append(sel.Filesystems, fs)
				}
			}
		}
	}
	if f.ItemTypes&ItemGroup != 0 {
		for _, g := range s.groups {
			if s.matchGroup(f, g) {
				sel.Groups = append(sel.Groups, g)
			}
		}
	}
	if f.ItemTypes&ItemCouple != 0 {
		for _, c := range s.couples {
			if s.matchCouple(f, c) {
				sel.Couples = append(sel.Couples, c)
			}
		}
	}
	if f.ItemTypes&ItemNamespace != 0 {
		for _, ns := range s.namespaces {
			if s.matchNamespace(f, ns) {
				sel.Namespaces = append(sel.Namespaces, ns)
			}
		}
	}
	if f.ItemTypes&ItemJob != 0 {
		for _, job := range s.jobs {
			if len(f.Groups) == 0 || f.hasGroup(job.Group) {
				sel.Jobs = append(sel.Jobs, job)
			}
		}
	}

	return sel
}

func (s *Storage) matchHost(f *Filter, h *Host) bool {
	if len(f.Nodes) == 0 {
		return true
	}
	for _, n := range s.nodes {
		if n.Host() == h && hasString(f.Nodes, n.Key()) {
			return true
		}
	}
	return false
}

func (s *Storage) matchNode(f *Filter, n *Node) bool {
	if len(f.Nodes) != 0 && !hasString(f.Nodes, n.Key()) {
		return false
	}
	if len(f.Backends) != 0 {
		found := false
		for _, b := range n.backends {
			if hasString(f.Backends, b.Key()) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Filesystems) != 0 {
		found := false
		for _, fs := range n.filesystems {
			if hasString(f.Filesystems, fs.Key()) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.constrainsGroupSide() {
		for _, b := range n.backends {
			if b.Group() != nil && s.matchGroupSide(f, b.Group()) {
				return true
			}
		}
		return false
	}
	return true
}

func (s *Storage) matchBackend(f *Filter, b *Backend) bool {
	if len(f.Backends) != 0 && !hasString(f.Backends, b.Key()) {
		return false
	}
	if len(f.Nodes) != 0 && !hasString(f.Nodes, b.Node().Key()) {
		return false
	}
	if len(f.Filesystems) != 0 {
		if b.FS() == nil || !hasString(f.Filesystems, b.FS().Key()) {
			return false
		}
	}
	if f.constrainsGroupSide() {
		if b.Group() == nil {
			return false
		}
		return s.matchGroupSide(f, b.Group())
	}
	return true
}

func (s *Storage) matchFS(f *Filter, fs *FS) bool {
	if len(f.Filesystems) != 0 && !hasString(f.Filesystems, fs.Key()) {
		return false
	}
	if len(f.Nodes) != 0 && !hasString(f.Nodes, fs.Node().Key()) {
		return false
	}
	if len(f.Backends) != 0 {
		found := false
		for _, b := range fs.backends {
			if hasString(f.Backends, b.Key()) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.constrainsGroupSide() {
		for _, b := range fs.backends {
			if b.Group() != nil && s.matchGroupSide(f, b.Group()) {
				return true
			}
		}
		return false
	}
	return true
}

func (s *Storage) matchGroup(f *Filter, g *Group) bool {
	if !s.matchGroupSide(f, g) {
		return false
	}
	if len(f.Nodes) != 0 || len(f.Backends) != 0 || len(f.Filesystems) != 0 {
		for _, b := range g.backends {
			if s.matchBackendNodeSide(f, b) {
				return true
			}
		}
		return false
	}
	return true
}

func (s *Storage) matchCouple(f *Filter, c *Couple) bool {
	if len(f.Couples) != 0 && !hasString(f.Couples, c.Key()) {
		return false
	}
	if len(f.Namespaces) != 0 && !hasString(f.Namespaces, c.namespaceName()) {
		return false
	}
	if len(f.Groups) != 0 {
		found := false
		for _, g := range c.groups {
			if f.hasGroup(g.ID()) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Nodes) != 0 || len(f.Backends) != 0 || len(f.Filesystems) != 0 {
		for _, g := range c.groups {
			for _, b := range g.backends {
				if s.matchBackendNodeSide(f, b) {
					return true
				}
			}
		}
		return false
	}
	return true
}

func (s *Storage) matchNamespace(f *Filter, ns *Namespace) bool {
	if len(f.Namespaces) != 0 && !hasString(f.Namespaces, ns.Name()) {
		return false
	}
	if len(f.Couples) != 0 || len(f.Groups) != 0 {
		for _, c := range ns.couples {
			if len(f.Couples) != 0 && !hasString(f.Couples, c.Key()) {
				continue
			}
			if len(f.Groups) != 0 {
				found := false
				for _, g := range c.groups {
					if f.hasGroup(g.ID()) {
						found = true
						break
					}
				}
				if !found {
					continue
				}
			}
			return true
		}
		return false
	}
	return true
}

// constrainsGroupSide reports whether the filter constrains the group,
// couple or namespace axis.
func (f *Filter) constrainsGroupSide() bool {
	return len(f.Groups) != 0 || len(f.Couples) != 0 || len(f.Namespaces) != 0
}

func (s *Storage) matchGroupSide(f *Filter, g *Group) bool {
	if len(f.Groups) != 0 && !f.hasGroup(g.ID()) {
		return false
	}
	if len(f.Couples) != 0 {
		if g.Couple() == nil || !hasString(f.Couples, g.Couple().Key()) {
			return false
		}
	}
	if len(f.Namespaces) != 0 && !hasString(f.Namespaces, g.Metadata().Namespace) {
		return false
	}
	return true
}

func (s *Storage) matchBackendNodeSide(f *Filter, b *Backend) bool {
	if len(f.Nodes) != 0 && !hasString(f.Nodes, b.Node().Key()) {
		return false
	}
	if len(f.Backends) != 0 && !hasString(f.Backends, b.Key()) {
		return false
	}
	if len(f.Filesystems) != 0 {
		if b.FS() == nil || !hasString(f.Filesystems, b.FS().Key()) {
			return false
		}
	}
	return true
}
