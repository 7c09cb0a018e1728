package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"worldbridge/internal/event"
	"worldbridge/internal/metrics"
)

var (
	ErrNameRequired = errors.New("name is required")
	ErrUnknownKind  = errors.New("type must be tool or skill")
)

type Kind string

const (
	KindTool  Kind = "tool"
	KindSkill Kind = "skill"
)

// ParseKind maps a request value to a Kind. An empty value means tool.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(KindTool):
		return KindTool, nil
	case string(KindSkill):
		return KindSkill, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, value)
	}
}

type Descriptor = event.Descriptor

type Snapshot struct {
	Tools  []Descriptor `json:"tools"`
	Skills []Descriptor `json:"skills"`
}

// Event wraps the snapshot as a registry_update event.
func (s Snapshot) Event() event.Event {
	return event.NewRegistryUpdateEvent(s.Tools, s.Skills)
}

var defaultTools = []Descriptor{
	{Name: "read", Icon: "📖", Color: "#4CAF50"},
	{Name: "write", Icon: "✏️", Color: "#2196F3"},
	{Name: "edit", Icon: "📝", Color: "#FF9800"},
	{Name: "exec", Icon: "⚡", Color: "#F44336"},
	{Name: "browser", Icon: "🌐", Color: "#9C27B0"},
	{Name: "search", Icon: "🔍", Color: "#00BCD4"},
}

// Registry holds tool and skill descriptors keyed by lowercase name.
// Iteration follows storage order: a key moves to the end when it is
// overwritten.
type Registry struct {
	mu      sync.RWMutex
	tools   table
	skills  table
	metrics *metrics.Registry
}

type table struct {
	order   []string
	entries map[string]Descriptor
}

func New() *Registry {
	return &Registry{
		tools:   newTable(),
		skills:  newTable(),
		metrics: metrics.Default,
	}
}

func NewWithDefaults() *Registry {
	registry := New()
	registry.loadDefaultsLocked()
	return registry
}

// WithMetrics redirects upsert counters, mainly for tests.
func (r *Registry) WithMetrics(registry *metrics.Registry) *Registry {
	if r == nil {
		return r
	}
	r.metrics = registry
	return r
}

func (r *Registry) Upsert(kind Kind, descriptor Descriptor) (Descriptor, error) {
	if r == nil {
		return Descriptor{}, errors.New("registry is nil")
	}
	descriptor.Name = strings.TrimSpace(descriptor.Name)
	if descriptor.Name == "" {
		return Descriptor{}, ErrNameRequired
	}

	r.mu.Lock()
	target, err := r.tableLocked(kind)
	if err != nil {
		r.mu.Unlock()
		return Descriptor{}, err
	}
	target.put(descriptor)
	r.mu.Unlock()

	r.metrics.IncRegistryUpsert()
	return descriptor, nil
}

func (r *Registry) Get(kind Kind, name string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	target, err := r.tableLocked(kind)
	if err != nil {
		return Descriptor{}, false
	}
	descriptor, ok := target.entries[key(name)]
	return descriptor, ok
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{Tools: []Descriptor{}, Skills: []Descriptor{}}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Tools:  r.tools.list(),
		Skills: r.skills.list(),
	}
}

// Reset restores the default tools and clears skills.
func (r *Registry) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.tools = newTable()
	r.skills = newTable()
	r.loadDefaultsLocked()
	r.mu.Unlock()
}

func (r *Registry) loadDefaultsLocked() {
	for _, descriptor := range defaultTools {
		r.tools.put(descriptor)
	}
}

func (r *Registry) tableLocked(kind Kind) (*table, error) {
	switch kind {
	case KindTool:
		return &r.tools, nil
	case KindSkill:
		return &r.skills, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func newTable() table {
	return table{entries: make(map[string]Descriptor)}
}

func (t *table) put(descriptor Descriptor) {
	k := key(descriptor.Name)
	if _, ok := t.entries[k]; ok {
		for i, existing := range t.order {
			if existing == k {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	t.order = append(t.order, k)
	t.entries[k] = descriptor
}

func (t *table) list() []Descriptor {
	out := make([]Descriptor, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.entries[k])
	}
	return out
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
