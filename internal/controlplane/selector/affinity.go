// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package selector

import (
	"hash/fnv"
	"sync"

	"github.com/dgryski/go-rendezvous"
)

// Affinity implements spec §4.C session affinity on top of rendezvous
// (highest-random-weight) hashing: given the current available set, a
// sessionId deterministically maps to one member. When a member leaves,
// only the sessions it owned are reassigned. When a member joins, the
// sessions for which it now ranks highest move to it, even though their
// previous node is still available. No per-session binding is stored; the
// answer is a function of the current member set alone (see SPEC_FULL.md
// DOMAIN STACK).
type Affinity struct {
	mu    sync.Mutex
	table *rendezvous.Rendezvous
	ids   map[string]struct{}
}

// NewAffinity builds an affinity table over the given node ids.
func NewAffinity(ids []string) *Affinity {
	a := &Affinity{ids: map[string]struct{}{}}
	a.rebuildLocked(ids)
	return a
}

func (a *Affinity) rebuildLocked(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	a.ids = set
	members := stableSort(ids)
	a.table = rendezvous.New(members, hashString)
}

// Bind returns the node id that sessionId maps to within the current
// available set. If the set has changed since the last call, the table is
// rebuilt; a session keeps its node across a rebuild unless that node left
// the set or a newly added node outranks it.
func (a *Affinity) Bind(sessionID string, available []string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(available) == 0 {
		return ""
	}
	if !a.sameSetLocked(available) {
		a.rebuildLocked(available)
	}
	return a.table.Lookup(sessionID)
}

func (a *Affinity) sameSetLocked(ids []string) bool {
	if len(ids) != len(a.ids) {
		return false
	}
	for _, id := range ids {
		if _, ok := a.ids[id]; !ok {
			return false
		}
	}
	return true
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
