// Package adapter contains infrastructure adapters for the shadowbox CLI and
// test harness: platform artifact providers and resolver configuration.
package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	m "shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/vm"
)

// ClassFileExt is the extension of class definition files.
const ClassFileExt = ".yaml"

// LocalArtifactAdapter reads platform class definitions from disk. Each
// platform version has a directory named after its API level holding one
// "<fully.qualified.Name>.yaml" file per class. Method bodies are Go code
// and are registered per API level.
type LocalArtifactAdapter struct {
	root string

	mu     sync.RWMutex
	bodies map[int]vm.BodyTable
}

// NewLocalArtifactAdapter returns an adapter reading below root.
func NewLocalArtifactAdapter(root string) *LocalArtifactAdapter {
	return &LocalArtifactAdapter{root: root, bodies: map[int]vm.BodyTable{}}
}

// Root returns the artifact directory.
func (a *LocalArtifactAdapter) Root() string { return a.root }

// RegisterBodies sets the body table of an API level.
func (a *LocalArtifactAdapter) RegisterBodies(api int, table vm.BodyTable) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bodies[api] = table
}

// Dir returns the directory holding the classes of version.
func (a *LocalArtifactAdapter) Dir(version m.PlatformVersion) string {
	return filepath.Join(a.root, strconv.Itoa(version.API))
}

// Path returns the file of class name for version.
func (a *LocalArtifactAdapter) Path(version m.PlatformVersion, name m.TypeName) string {
	return filepath.Join(a.Dir(version), string(name)+ClassFileExt)
}

// Versions returns the API levels present below the root, ascending.
func (a *LocalArtifactAdapter) Versions() ([]m.PlatformVersion, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory %s: %w", a.root, err)
	}

	var out []m.PlatformVersion

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		api, err := strconv.Atoi(e.Name())
		if err != nil || api <= 0 {
			continue
		}

		out = append(out, m.PlatformVersion{API: api})
	}

	slices.SortFunc(out, func(x, y m.PlatformVersion) int { return x.API - y.API })

	return out, nil
}

// ListClasses returns the class names of version, sorted.
func (a *LocalArtifactAdapter) ListClasses(ctx context.Context, version m.PlatformVersion) ([]m.TypeName, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(a.Dir(version))
	if err != nil {
		return nil, fmt.Errorf("failed to list classes of platform %s: %w", version, err)
	}

	var out []m.TypeName

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ClassFileExt) {
			continue
		}

		name := m.TypeName(strings.TrimSuffix(e.Name(), ClassFileExt))
		if !name.Valid() {
			return nil, fmt.Errorf("invalid class file name %s in %s", e.Name(), a.Dir(version))
		}

		out = append(out, name)
	}

	slices.Sort(out)

	return out, nil
}

// ReadClass returns the raw definition of name.
func (a *LocalArtifactAdapter) ReadClass(ctx context.Context, version m.PlatformVersion, name m.TypeName) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(a.Path(version, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read class %s of platform %s: %w", name, version, err)
	}

	return raw, nil
}

// Bodies returns the body table registered for the API level of version.
func (a *LocalArtifactAdapter) Bodies(version m.PlatformVersion) vm.BodyTable {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if t, ok := a.bodies[version.API]; ok {
		return t
	}

	return vm.BodyTable{}
}

// MemoryArtifactAdapter is an in-memory artifact provider.
type MemoryArtifactAdapter struct {
	mu      sync.RWMutex
	classes map[int]map[m.TypeName][]byte
	bodies  map[int]vm.BodyTable
	fail    map[int]error
	lists   map[int]int
}

// NewMemoryArtifactAdapter returns an empty in-memory provider.
func NewMemoryArtifactAdapter() *MemoryArtifactAdapter {
	return &MemoryArtifactAdapter{
		classes: map[int]map[m.TypeName][]byte{},
		bodies:  map[int]vm.BodyTable{},
		fail:    map[int]error{},
		lists:   map[int]int{},
	}
}

// Add stores class definitions for an API level. Each definition must be valid.
func (a *MemoryArtifactAdapter) Add(api int, defs ...string) error {
	for _, raw := range defs {
		def, err := classfile.Decode([]byte(raw))
		if err != nil {
			return err
		}

		a.AddRaw(api, def.Name, []byte(raw))
	}

	return nil
}

// AddRaw stores raw bytes under name without validating them.
func (a *MemoryArtifactAdapter) AddRaw(api int, name m.TypeName, raw []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.classes[api] == nil {
		a.classes[api] = map[m.TypeName][]byte{}
	}

	a.classes[api][name] = slices.Clone(raw)
}

// SetBodies sets the body table of an API level.
func (a *MemoryArtifactAdapter) SetBodies(api int, table vm.BodyTable) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bodies[api] = table
}

// Fail makes every access to an API level return err. A nil err clears it.
func (a *MemoryArtifactAdapter) Fail(api int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err == nil {
		delete(a.fail, api)

		return
	}

	a.fail[api] = err
}

// Lists returns how often the classes of an API level were listed.
func (a *MemoryArtifactAdapter) Lists(api int) int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.lists[api]
}

// ListClasses implements the artifact provider.
func (a *MemoryArtifactAdapter) ListClasses(_ context.Context, version m.PlatformVersion) ([]m.TypeName, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lists[version.API]++

	if err := a.fail[version.API]; err != nil {
		return nil, err
	}

	classes, ok := a.classes[version.API]
	if !ok {
		return nil, fmt.Errorf("no artifacts for platform %s", version)
	}

	out := make([]m.TypeName, 0, len(classes))
	for n := range classes {
		out = append(out, n)
	}

	slices.Sort(out)

	return out, nil
}

// ReadClass implements the artifact provider.
func (a *MemoryArtifactAdapter) ReadClass(_ context.Context, version m.PlatformVersion, name m.TypeName) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if err := a.fail[version.API]; err != nil {
		return nil, err
	}

	raw, ok := a.classes[version.API][name]
	if !ok {
		return nil, fmt.Errorf("class %s not found for platform %s", name, version)
	}

	return slices.Clone(raw), nil
}

// Bodies implements the artifact provider.
func (a *MemoryArtifactAdapter) Bodies(version m.PlatformVersion) vm.BodyTable {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if t, ok := a.bodies[version.API]; ok {
		return t
	}

	return vm.BodyTable{}
}
