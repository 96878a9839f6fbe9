package config

import "sort"

// ToolInfo is one observation from a discovery sweep: the backend-local
// tool name and the description the backend currently advertises.
type ToolInfo struct {
	Name        string
	Description string
}

// MergeDiscovered reconciles a freshly observed tool list with the
// document entry for backend, in place:
//
//   - observed, not in document: inserted enabled and fresh
//   - observed, in document: enabled preserved, stale cleared,
//     description refreshed
//   - in document, not observed: marked stale, enabled preserved
//
// Enabled is set only on newly inserted entries; on existing entries it
// is never written here, since it belongs to the user. Unknown
// backends are ignored, so the merge is total.
func MergeDiscovered(doc *Document, backend string, observed []ToolInfo) {
	server := doc.Server(backend)
	if server == nil {
		return
	}
	if server.Tools == nil {
		server.Tools = make(map[string]*ToolEntry)
	}

	seen := make(map[string]struct{}, len(observed))
	for _, t := range observed {
		seen[t.Name] = struct{}{}
	}
	for name, entry := range server.Tools {
		if _, ok := seen[name]; !ok {
			entry.Stale = true
		}
	}
	for _, t := range observed {
		if entry, ok := server.Tools[t.Name]; ok {
			entry.Description = t.Description
			entry.Stale = false
		} else {
			server.Tools[t.Name] = &ToolEntry{
				Enabled:     true,
				Stale:       false,
				Description: t.Description,
			}
		}
	}
}

// PruneStaleDisabled removes entries that are both stale and disabled
// and returns how many were removed. It is a separate pass from
// MergeDiscovered and runs only on explicit administrative action.
func PruneStaleDisabled(doc *Document, backend string) int {
	server := doc.Server(backend)
	if server == nil {
		return 0
	}
	removed := 0
	for name, entry := range server.Tools {
		if entry.Stale && !entry.Enabled {
			delete(server.Tools, name)
			removed++
		}
	}
	return removed
}

// EnabledTools returns the set of tool names the document exposes for
// backend: enabled and not stale.
func EnabledTools(doc *Document, backend string) map[string]struct{} {
	server := doc.Server(backend)
	if server == nil {
		return nil
	}
	out := make(map[string]struct{})
	for name, entry := range server.Tools {
		if entry.Enabled && !entry.Stale {
			out[name] = struct{}{}
		}
	}
	return out
}

// EnabledToolNames returns the exposure set sorted by name.
func EnabledToolNames(doc *Document, backend string) []string {
	set := EnabledTools(doc, backend)
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
