// Package tool holds the tool catalogue and executes tool invocations
// under a declared isolation mode.
package tool

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/sentinel/pkg/schema"
)

// Mode is the isolation posture a tool runs under.
type Mode string

const (
	ModeSafe       Mode = "safe"
	ModePrivileged Mode = "privileged"
	ModeBackground Mode = "background"
	ModeSandboxed  Mode = "sandboxed"
)

// ParseMode validates a mode name. The empty string is accepted and means
// "use the tool's declared mode".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case "", ModeSafe, ModePrivileged, ModeBackground, ModeSandboxed:
		return m, nil
	}
	return "", fmt.Errorf("unknown isolation mode %q", s)
}

// Descriptor describes one tool.
type Descriptor struct {
	ID                   string        `yaml:"id" json:"id"`
	Name                 string        `yaml:"name" json:"name"`
	Description          string        `yaml:"description" json:"description"`
	Command              string        `yaml:"command" json:"command"`
	RequiresPrivilege    bool          `yaml:"requires_privilege" json:"requires_privilege"`
	RequiresConfirmation bool          `yaml:"requires_confirmation" json:"requires_confirmation"`
	Schema               schema.Schema `yaml:"schema,omitempty" json:"schema,omitempty"`
	Tags                 []string      `yaml:"tags,omitempty" json:"tags,omitempty"`
	Examples             []string      `yaml:"examples,omitempty" json:"examples,omitempty"`
	TimeoutSeconds       int           `yaml:"timeout" json:"timeout"`
	Mode                 Mode          `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// DefaultTimeoutSeconds applies when a tool declares no timeout.
const DefaultTimeoutSeconds = 10

var dangerousPatterns = []string{
	"rm ", "dd ", "format", "mkfs", "fdisk",
	"shutdown", "reboot", "systemctl", "kill",
	"> /dev/", "sudo", "su ",
}

// IsDangerous reports whether a command template contains a destructive
// pattern.
func IsDangerous(command string) bool {
	for _, p := range dangerousPatterns {
		if strings.Contains(command, p) {
			return true
		}
	}
	return false
}

func (d *Descriptor) validate() error {
	if d.ID == "" {
		return fmt.Errorf("tool id is required")
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("tool %s: command cannot be empty", d.ID)
	}
	if !d.RequiresPrivilege && IsDangerous(d.Command) {
		return fmt.Errorf("tool %s: dangerous command requires privilege flag", d.ID)
	}
	mode, err := ParseMode(string(d.Mode))
	if err != nil {
		return fmt.Errorf("tool %s: %w", d.ID, err)
	}
	d.Mode = mode
	if d.Mode == "" {
		d.Mode = ModeSafe
		if d.RequiresPrivilege {
			d.Mode = ModePrivileged
		}
	}
	if d.Mode == ModePrivileged && !d.RequiresPrivilege {
		return fmt.Errorf("tool %s: privileged mode requires privilege flag", d.ID)
	}
	if err := d.Schema.Compile(); err != nil {
		return fmt.Errorf("tool %s: schema: %w", d.ID, err)
	}
	if d.TimeoutSeconds <= 0 {
		d.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	return nil
}

// Registry is the tool catalogue. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// DefaultRegistry creates a registry holding the built-in tools.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range Defaults() {
		if err := r.Register(d); err != nil {
			panic(fmt.Sprintf("default tool invalid: %v", err))
		}
	}
	return r
}

// Register validates and adds a tool, replacing any tool with the same id.
func (r *Registry) Register(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[d.ID] = &d
	return nil
}

// Get returns the tool with the given id.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[id]
	return d, ok
}

// List returns all tools sorted by id.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Search returns tools whose id, name, description or tags contain query.
func (r *Registry) Search(query string) []*Descriptor {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []*Descriptor
	for _, d := range r.List() {
		if q == "" ||
			strings.Contains(strings.ToLower(d.ID), q) ||
			strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.Description), q) ||
			hasTag(d.Tags, q) {
			out = append(out, d)
		}
	}
	return out
}

func hasTag(tags []string, q string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, q) {
			return true
		}
	}
	return false
}

// File is the on-disk tool catalogue.
type File struct {
	Tools []Descriptor `yaml:"tools"`
}

// LoadFile registers every tool in a YAML catalogue.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, d := range file.Tools {
		if err := r.Register(d); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}
