// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"sort"

	jsoniter "github.com/json-iterator/go"
)

// Namespace is a named set of couples.
type Namespace struct {
	name    string
	couples map[string]*Couple
}

func newNamespace(name string) *Namespace {
	return &Namespace{name: name, couples: make(map[string]*Couple)}
}

func (ns *Namespace) Name() string                { return ns.name }
func (ns *Namespace) Couples() map[string]*Couple { return ns.couples }

func (ns *Namespace) addCouple(c *Couple) { ns.couples[c.Key()] = c }

func (ns *Namespace) writeJSON(s *jsoniter.Stream) {
	keys := make([]string, 0, len(ns.couples))
	for key := range ns.couples {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	s.WriteObjectStart()
	s.WriteObjectField("id")
	s.WriteString(ns.name)
	s.WriteMore()
	s.WriteObjectField("couples")
	s.WriteArrayStart()
	for i, key := range keys {
		if i > 0 {
			s.WriteMore()
		}
		s.WriteString(key)
	}
	s.WriteArrayEnd()
	s.WriteObjectEnd()
}
