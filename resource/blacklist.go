package resource

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Blacklist is the set of resource identities excluded from runs. It is
// persisted between invocations so that a device that kept failing
// recovery is skipped next time too.
type Blacklist struct {
	mu         sync.Mutex
	path       string
	identities map[string]bool
}

type blacklistFile struct {
	Blacklisted []string `json:"blacklisted"`
}

// LoadBlacklist reads the blacklist at path. A missing file, or an empty
// path, yields an empty blacklist.
func LoadBlacklist(path string) (*Blacklist, error) {
	b := &Blacklist{path: path, identities: map[string]bool{}}
	if path == "" {
		return b, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blacklist: %w", err)
	}

	var f blacklistFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse blacklist %s: %w", path, err)
	}
	for _, id := range f.Blacklisted {
		b.identities[id] = true
	}
	return b, nil
}

// Contains reports whether identity is blacklisted.
func (b *Blacklist) Contains(identity string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identities[identity]
}

// Add blacklists identity.
func (b *Blacklist) Add(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.identities[identity] = true
}

// Identities returns the blacklisted identities in sorted order.
func (b *Blacklist) Identities() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.identities))
	for id := range b.identities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Apply blacklists every resource listed and returns how many were hit.
func (b *Blacklist) Apply(resources []Resource) int {
	n := 0
	for _, r := range resources {
		if b.Contains(r.Identity()) {
			r.Blacklist()
			n++
		}
	}
	return n
}

// Collect adds every resource that ended the run blacklisted.
func (b *Blacklist) Collect(resources []Resource) {
	for _, r := range resources {
		if r.State() == StateBlacklisted {
			b.Add(r.Identity())
		}
	}
}

// Save writes the blacklist back to its file. Without a path it does
// nothing.
func (b *Blacklist) Save() error {
	if b.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(blacklistFile{Blacklisted: b.Identities()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal blacklist: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("failed to create blacklist directory: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write blacklist: %w", err)
	}
	return nil
}
