package proxy

import (
	"maps"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	metaKeyBackend    = "mcpmux.backend"
	metaKeyNativeName = "mcpmux.native_name"
)

// featureIndex maps the exposed surface back to its origin: qualified
// tool and prompt names to (backend, local name), and raw resource
// URIs to the backend serving them. Resources keep their URIs
// unrewritten, so the URI map doubles as the reverse index.
type featureIndex struct {
	mu sync.RWMutex

	tools       map[string]target
	byBackend   map[string][]string
	prompts     map[string]target
	promptsBy   map[string][]string
	resources   map[string]string
	resourcesBy map[string][]string
}

type target struct {
	Backend string
	Local   string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target target
}

type promptRegistration struct {
	Prompt *mcp.Prompt
	Target target
}

func newFeatureIndex() *featureIndex {
	return &featureIndex{
		tools:       make(map[string]target),
		byBackend:   make(map[string][]string),
		prompts:     make(map[string]target),
		promptsBy:   make(map[string][]string),
		resources:   make(map[string]string),
		resourcesBy: make(map[string][]string),
	}
}

// UpdateTools replaces the backend's tool registrations with the given
// upstream tools (local names). It returns the qualified names to
// de-register and the qualified registrations to add, sorted by name
// for deterministic listing.
func (f *featureIndex) UpdateTools(backend string, upstream []*mcp.Tool) (removed []string, added []toolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.removeLocked(f.tools, f.byBackend, backend)
	sorted := make([]*mcp.Tool, 0, len(upstream))
	for _, tool := range upstream {
		if tool != nil {
			sorted = append(sorted, tool)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	names := make([]string, 0, len(sorted))
	for _, tool := range sorted {
		qualified := Qualify(backend, tool.Name)
		clone := *tool
		clone.Name = qualified
		clone.Meta = withMeta(tool.Meta, map[string]any{
			metaKeyBackend:    backend,
			metaKeyNativeName: tool.Name,
		})
		tgt := target{Backend: backend, Local: tool.Name}
		f.tools[qualified] = tgt
		added = append(added, toolRegistration{Tool: &clone, Target: tgt})
		names = append(names, qualified)
	}
	f.byBackend[backend] = names
	return removed, added
}

// UpdatePrompts does for prompts what UpdateTools does for tools.
func (f *featureIndex) UpdatePrompts(backend string, upstream []*mcp.Prompt) (removed []string, added []promptRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.removeLocked(f.prompts, f.promptsBy, backend)
	sorted := make([]*mcp.Prompt, 0, len(upstream))
	for _, prompt := range upstream {
		if prompt != nil {
			sorted = append(sorted, prompt)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var names []string
	for _, prompt := range sorted {
		qualified := Qualify(backend, prompt.Name)
		clone := *prompt
		clone.Name = qualified
		clone.Meta = withMeta(prompt.Meta, map[string]any{
			metaKeyBackend:    backend,
			metaKeyNativeName: prompt.Name,
		})
		tgt := target{Backend: backend, Local: prompt.Name}
		f.prompts[qualified] = tgt
		added = append(added, promptRegistration{Prompt: &clone, Target: tgt})
		names = append(names, qualified)
	}
	f.promptsBy[backend] = names
	return removed, added
}

// UpdateResources replaces the backend's resource registrations. URIs
// pass through unrewritten; a URI already claimed by another backend
// is left with its current owner.
func (f *featureIndex) UpdateResources(backend string, upstream []*mcp.Resource) (removed []string, added []*mcp.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, uri := range f.resourcesBy[backend] {
		if f.resources[uri] == backend {
			delete(f.resources, uri)
			removed = append(removed, uri)
		}
	}
	delete(f.resourcesBy, backend)

	var uris []string
	for _, resource := range upstream {
		if resource == nil {
			continue
		}
		if owner, taken := f.resources[resource.URI]; taken && owner != backend {
			continue
		}
		f.resources[resource.URI] = backend
		uris = append(uris, resource.URI)
		clone := *resource
		clone.Meta = withMeta(resource.Meta, map[string]any{metaKeyBackend: backend})
		added = append(added, &clone)
	}
	f.resourcesBy[backend] = uris
	return removed, added
}

// ToolTarget resolves a qualified tool name.
func (f *featureIndex) ToolTarget(qualified string) (target, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools[qualified]
	return t, ok
}

// PromptTarget resolves a qualified prompt name.
func (f *featureIndex) PromptTarget(qualified string) (target, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.prompts[qualified]
	return t, ok
}

// ResourceBackend resolves a raw resource URI to its backend.
func (f *featureIndex) ResourceBackend(uri string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	backend, ok := f.resources[uri]
	return backend, ok
}

// ToolsByBackend returns the currently registered qualified tool names
// grouped per backend.
func (f *featureIndex) ToolsByBackend() map[string][]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][]string, len(f.byBackend))
	for backend, names := range f.byBackend {
		out[backend] = append([]string(nil), names...)
	}
	return out
}

func (f *featureIndex) removeLocked(forward map[string]target, grouped map[string][]string, backend string) []string {
	names := grouped[backend]
	if len(names) == 0 {
		return nil
	}
	for _, name := range names {
		delete(forward, name)
	}
	delete(grouped, backend)
	return append([]string(nil), names...)
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, len(extras))
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}
