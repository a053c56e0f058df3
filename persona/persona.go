// Package persona manages persistent chat personalities. Personas live in
// personas.json under the data root; active_persona.json records which one
// is active. Both files are written atomically via temp-file+rename, and at
// most one persona is active per process.
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	cortex "github.com/nevindra/cortex"
)

const (
	personasFile = "personas.json"
	activeFile   = "active_persona.json"
)

// Draft holds the caller-supplied fields of a new persona.
type Draft struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	History      string `json:"history,omitempty"`
	AvatarPath   string `json:"avatar_path,omitempty"`
	VoicePath    string `json:"voice_path,omitempty"`
}

// Update carries a partial edit; nil fields are left unchanged.
type Update struct {
	Name         *string `json:"name,omitempty"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
	History      *string `json:"history,omitempty"`
	AvatarPath   *string `json:"avatar_path,omitempty"`
	VoicePath    *string `json:"voice_path,omitempty"`
}

type activeState struct {
	ActiveID string `json:"active_id"`
}

// Manager reads and writes the persona files. All operations go through
// disk, so concurrent processes see each other's writes; the mutex only
// serializes writers within this process.
type Manager struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewManager creates a Manager rooted at dir, creating the directory and
// empty state files if they do not exist.
func NewManager(dir string) (*Manager, error) {
	m := &Manager{dir: dir, now: time.Now}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persona: create data dir: %w", err)
	}
	if _, err := os.Stat(m.path(personasFile)); errors.Is(err, os.ErrNotExist) {
		if err := writeAtomic(m.path(personasFile), []cortex.Persona{}); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(m.path(activeFile)); errors.Is(err, os.ErrNotExist) {
		if err := writeAtomic(m.path(activeFile), activeState{}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) path(name string) string { return filepath.Join(m.dir, name) }

// List returns all personas in creation order.
func (m *Manager) List() ([]cortex.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

// Get returns the persona or an error wrapping ErrNotFound.
func (m *Manager) Get(id string) (cortex.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(id)
}

// Create assigns an id and timestamp to draft and persists it.
func (m *Manager) Create(draft Draft) (cortex.Persona, error) {
	if draft.Name == "" {
		return cortex.Persona{}, cortex.NewValidationError("name", "Persona name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	personas, err := m.load()
	if err != nil {
		return cortex.Persona{}, err
	}
	p := cortex.Persona{
		ID:           uuid.NewString(),
		Name:         draft.Name,
		SystemPrompt: draft.SystemPrompt,
		History:      draft.History,
		AvatarPath:   draft.AvatarPath,
		VoicePath:    draft.VoicePath,
		CreatedAt:    m.now().UnixMilli(),
	}
	personas = append(personas, p)
	if err := writeAtomic(m.path(personasFile), personas); err != nil {
		return cortex.Persona{}, err
	}
	return p, nil
}

// Apply applies upd to the persona with the given id.
func (m *Manager) Apply(id string, upd Update) (cortex.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	personas, err := m.load()
	if err != nil {
		return cortex.Persona{}, err
	}
	for i := range personas {
		if personas[i].ID != id {
			continue
		}
		p := &personas[i]
		if upd.Name != nil {
			p.Name = *upd.Name
		}
		if upd.SystemPrompt != nil {
			p.SystemPrompt = *upd.SystemPrompt
		}
		if upd.History != nil {
			p.History = *upd.History
		}
		if upd.AvatarPath != nil {
			p.AvatarPath = *upd.AvatarPath
		}
		if upd.VoicePath != nil {
			p.VoicePath = *upd.VoicePath
		}
		if err := writeAtomic(m.path(personasFile), personas); err != nil {
			return cortex.Persona{}, err
		}
		return *p, nil
	}
	return cortex.Persona{}, fmt.Errorf("persona %q: %w", id, cortex.ErrNotFound)
}

// Delete removes the persona; if it was active the process deactivates.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	personas, err := m.load()
	if err != nil {
		return err
	}
	kept := personas[:0]
	for _, p := range personas {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(personas) {
		return fmt.Errorf("persona %q: %w", id, cortex.ErrNotFound)
	}
	if err := writeAtomic(m.path(personasFile), kept); err != nil {
		return err
	}
	active, err := m.activeID()
	if err == nil && active == id {
		return writeAtomic(m.path(activeFile), activeState{})
	}
	return nil
}

// Activate marks the persona active. The persona must exist.
func (m *Manager) Activate(id string) (cortex.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.find(id)
	if err != nil {
		return cortex.Persona{}, err
	}
	if err := writeAtomic(m.path(activeFile), activeState{ActiveID: id}); err != nil {
		return cortex.Persona{}, err
	}
	return p, nil
}

// Deactivate clears the active persona.
func (m *Manager) Deactivate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return writeAtomic(m.path(activeFile), activeState{})
}

// Active returns the active persona, or nil when none is set or the
// recorded id no longer resolves.
func (m *Manager) Active() (*cortex.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.activeID()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	p, err := m.find(id)
	if errors.Is(err, cortex.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ActiveID returns the recorded active persona id ("" when none).
func (m *Manager) ActiveID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID()
}

func (m *Manager) load() ([]cortex.Persona, error) {
	raw, err := os.ReadFile(m.path(personasFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", personasFile, err)
	}
	var personas []cortex.Persona
	if err := json.Unmarshal(raw, &personas); err != nil {
		return nil, fmt.Errorf("persona: parse %s: %w", personasFile, err)
	}
	return personas, nil
}

func (m *Manager) find(id string) (cortex.Persona, error) {
	personas, err := m.load()
	if err != nil {
		return cortex.Persona{}, err
	}
	for _, p := range personas {
		if p.ID == id {
			return p, nil
		}
	}
	return cortex.Persona{}, fmt.Errorf("persona %q: %w", id, cortex.ErrNotFound)
}

func (m *Manager) activeID() (string, error) {
	raw, err := os.ReadFile(m.path(activeFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("persona: read %s: %w", activeFile, err)
	}
	var state activeState
	if err := json.Unmarshal(raw, &state); err != nil {
		return "", fmt.Errorf("persona: parse %s: %w", activeFile, err)
	}
	return state.ActiveID, nil
}

// writeAtomic marshals v and renames a synced temp file over path, so a
// crash mid-write never leaves a truncated state file.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("persona: marshal %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("persona: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persona: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persona: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persona: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("persona: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
