// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pppp

import (
	"sync"
	"weak"
)

// registry tracks every live PPPPService by a non-owning weak pointer,
// for diagnostics only (spec.md §9, "Cyclic/back references"). Holding
// a weak.Pointer here never keeps a service alive; once the last strong
// reference elsewhere is dropped, Value() starts returning nil and the
// next Instances() call prunes the entry.
var (
	registryMu sync.Mutex
	registry   = map[uint64]weak.Pointer[PPPPService]{}
	nextID     uint64
)

func registerInstance(p *PPPPService) uint64 {
	registryMu.Lock()
	defer registryMu.Unlock()
	nextID++
	id := nextID
	registry[id] = weak.Make(p)
	return id
}

func unregisterInstance(id uint64) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, id)
}

// Instances returns every currently live PPPPService, pruning entries
// whose weak pointer has already been collected.
func Instances() []*PPPPService {
	registryMu.Lock()
	defer registryMu.Unlock()

	out := make([]*PPPPService, 0, len(registry))
	for id, wp := range registry {
		if p := wp.Value(); p != nil {
			out = append(out, p)
		} else {
			delete(registry, id)
		}
	}
	return out
}
