// Package catalog provides the immutable phase and checkpoint definitions
// that drive a coaching program.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/coach-labs/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Script is the conversational material attached to a checkpoint. Which
// fields are populated depends on the phase: assessment checkpoints carry an
// example prompt, education checkpoints carry teaching and check text.
type Script struct {
	Setup         string `yaml:"setup" json:"setup"`
	Question      string `yaml:"question" json:"question,omitempty"`
	Why           string `yaml:"why" json:"why,omitempty"`
	FollowUp      string `yaml:"follow_up" json:"follow_up,omitempty"`
	ExamplePrompt string `yaml:"example_prompt" json:"example_prompt,omitempty"`
	Teaching      string `yaml:"teaching" json:"teaching,omitempty"`
	Check         string `yaml:"check" json:"check,omitempty"`
	Confirmation  string `yaml:"confirmation" json:"confirmation"`
}

// Checkpoint is one fact-gathering step of a phase.
type Checkpoint struct {
	Field  string `yaml:"field" json:"field"`
	Script `yaml:",inline" json:"script"`
}

// Signal maps a lowercase keyword to the fact tag recorded when a user
// message contains it.
type Signal struct {
	Keyword string `json:"keyword"`
	Fact    string `json:"fact"`
}

// Signals keeps keyword order as declared so fact extraction is stable.
type Signals []Signal

// UnmarshalYAML decodes a YAML mapping into an ordered signal list.
func (s *Signals) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("signals: expected mapping, got %v", node.Tag)
	}
	out := make(Signals, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		out = append(out, Signal{
			Keyword: strings.ToLower(strings.TrimSpace(node.Content[i].Value)),
			Fact:    strings.TrimSpace(node.Content[i+1].Value),
		})
	}
	*s = out
	return nil
}

// MarshalYAML encodes the signals back into an ordered mapping.
func (s Signals) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, sig := range s {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: sig.Keyword},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: sig.Fact},
		)
	}
	return node, nil
}

// Phase is a top-level stage of the program.
type Phase struct {
	Ordinal        int              `yaml:"ordinal" json:"ordinal"`
	Name           string           `yaml:"name" json:"name"`
	Output         domain.PhaseKind `yaml:"output" json:"output"`
	MinTurns       int              `yaml:"min_turns" json:"min_turns"`
	RequiredFields []string         `yaml:"required_fields" json:"required_fields"`
	Intro          string           `yaml:"intro" json:"intro"`
	Signals        Signals          `yaml:"signals" json:"signals,omitempty"`
	Checkpoints    []Checkpoint     `yaml:"checkpoints" json:"checkpoints"`
}

// Catalog is the validated, ordered set of phases plus the coach persona.
type Catalog struct {
	Persona string  `yaml:"persona" json:"persona"`
	Phases  []Phase `yaml:"phases" json:"phases"`
}

// Default parses and validates the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load returns the catalog at path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigurationError{Reason: "catalog payload is empty"}
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &ConfigurationError{Reason: "decode catalog", Err: err}
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) normalize() {
	c.Persona = strings.TrimSpace(c.Persona)
	for i := range c.Phases {
		p := &c.Phases[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Intro = strings.TrimSpace(p.Intro)
		for j := range p.Checkpoints {
			p.Checkpoints[j].Field = strings.TrimSpace(p.Checkpoints[j].Field)
		}
	}
}

// Validate checks structural consistency: ordinals run 1..N in order, field
// names are unique within a phase, every required field has a checkpoint,
// and output kinds are known and used once.
func (c *Catalog) Validate() error {
	if c.Persona == "" {
		return &ConfigurationError{Reason: "persona is empty"}
	}
	if len(c.Phases) == 0 {
		return &ConfigurationError{Reason: "catalog declares no phases"}
	}

	kinds := make(map[domain.PhaseKind]int, len(c.Phases))
	for i, p := range c.Phases {
		if p.Ordinal != i+1 {
			return &ConfigurationError{Phase: p.Ordinal, Reason: fmt.Sprintf("expected ordinal %d", i+1)}
		}
		if p.Name == "" {
			return &ConfigurationError{Phase: p.Ordinal, Reason: "name is empty"}
		}
		if p.Intro == "" {
			return &ConfigurationError{Phase: p.Ordinal, Reason: "intro is empty"}
		}
		if p.MinTurns < 0 {
			return &ConfigurationError{Phase: p.Ordinal, Reason: "min_turns must be >= 0"}
		}
		if !p.Output.Valid() {
			return &ConfigurationError{Phase: p.Ordinal, Reason: fmt.Sprintf("unknown output kind %q", p.Output)}
		}
		if prev, dup := kinds[p.Output]; dup {
			return &ConfigurationError{Phase: p.Ordinal, Reason: fmt.Sprintf("output kind %q already used by phase %d", p.Output, prev)}
		}
		kinds[p.Output] = p.Ordinal

		fields := make(map[string]bool, len(p.Checkpoints))
		for j, cp := range p.Checkpoints {
			if cp.Field == "" {
				return &ConfigurationError{Phase: p.Ordinal, Checkpoint: j, Reason: "checkpoint field is empty"}
			}
			if fields[cp.Field] {
				return &ConfigurationError{Phase: p.Ordinal, Checkpoint: j, Reason: fmt.Sprintf("duplicate field %q", cp.Field)}
			}
			fields[cp.Field] = true
		}
		for _, req := range p.RequiredFields {
			if !fields[req] {
				return &ConfigurationError{Phase: p.Ordinal, Reason: fmt.Sprintf("required field %q has no checkpoint", req)}
			}
		}
	}
	return nil
}

// Len returns the number of phases.
func (c *Catalog) Len() int { return len(c.Phases) }

// First returns the ordinal of the opening phase.
func (c *Catalog) First() int { return 1 }

// Last returns the ordinal of the final phase.
func (c *Catalog) Last() int { return len(c.Phases) }

// Phase returns the phase with the given ordinal.
func (c *Catalog) Phase(ordinal int) (Phase, error) {
	if ordinal < 1 || ordinal > len(c.Phases) {
		return Phase{}, &ConfigurationError{Phase: ordinal, Reason: "phase not found"}
	}
	return c.Phases[ordinal-1], nil
}

// Checkpoints returns the ordered checkpoints of a phase.
func (c *Catalog) Checkpoints(ordinal int) ([]Checkpoint, error) {
	p, err := c.Phase(ordinal)
	if err != nil {
		return nil, err
	}
	return p.Checkpoints, nil
}

// RequiredFields returns the fields a phase needs before it can close.
func (c *Catalog) RequiredFields(ordinal int) ([]string, error) {
	p, err := c.Phase(ordinal)
	if err != nil {
		return nil, err
	}
	return p.RequiredFields, nil
}

// CheckpointScript returns the script of checkpoint index within a phase.
func (c *Catalog) CheckpointScript(ordinal, index int) (Script, error) {
	p, err := c.Phase(ordinal)
	if err != nil {
		return Script{}, err
	}
	if index < 0 || index >= len(p.Checkpoints) {
		return Script{}, &ConfigurationError{Phase: ordinal, Checkpoint: index, Reason: "checkpoint not found"}
	}
	return p.Checkpoints[index].Script, nil
}

// IntroText returns the message that opens a phase.
func (c *Catalog) IntroText(ordinal int) (string, error) {
	p, err := c.Phase(ordinal)
	if err != nil {
		return "", err
	}
	return p.Intro, nil
}

// PhaseForKind returns the phase producing the given record kind.
func (c *Catalog) PhaseForKind(kind domain.PhaseKind) (Phase, error) {
	for _, p := range c.Phases {
		if p.Output == kind {
			return p, nil
		}
	}
	return Phase{}, &ConfigurationError{Reason: fmt.Sprintf("no phase produces %q", kind)}
}
