// ABOUTME: Agent configuration document generation and multi-format rendering
// ABOUTME: Produces the config file an agent binary reads at startup

package agentcfg

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/lisa-sim/lisa-backend/internal/store"
)

// Format identifies a config file rendering.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat normalizes a user-supplied format string. Unknown and empty
// values fall back to JSON.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "yaml", "yml":
		return FormatYAML
	case "toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// ContentType returns the MIME type for the rendered format.
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/x-yaml"
	case FormatTOML:
		return "application/toml"
	default:
		return "application/json"
	}
}

// Ext returns the file extension for the format, without a leading dot.
func (f Format) Ext() string {
	return string(f)
}

// RoleInfo is the role summary embedded in a generated document.
type RoleInfo struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	Description string `json:"description" yaml:"description" toml:"description"`
	Category    string `json:"category" yaml:"category" toml:"category"`
}

// Callback tells the agent where and how often to report in.
type Callback struct {
	URL               string `json:"url" yaml:"url" toml:"url"`
	HeartbeatInterval int    `json:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds" toml:"heartbeat_interval_seconds"`
}

// Document is the complete configuration handed to an agent binary.
type Document struct {
	AgentID          string         `json:"agent_id" yaml:"agent_id" toml:"agent_id"`
	Name             string         `json:"name" yaml:"name" toml:"name"`
	TargetOS         string         `json:"target_os" yaml:"target_os" toml:"target_os"`
	Role             RoleInfo       `json:"role" yaml:"role" toml:"role"`
	BehaviorTemplate map[string]any `json:"behavior_template" yaml:"behavior_template" toml:"behavior_template"`
	InjectionTarget  string         `json:"injection_target,omitempty" yaml:"injection_target,omitempty" toml:"injection_target,omitempty"`
	StealthLevel     string         `json:"stealth_level,omitempty" yaml:"stealth_level,omitempty" toml:"stealth_level,omitempty"`
	CustomConfig     map[string]any `json:"custom_config" yaml:"custom_config" toml:"custom_config"`
	Callback         Callback       `json:"callback" yaml:"callback" toml:"callback"`
	GeneratedAt      string         `json:"generated_at" yaml:"generated_at" toml:"generated_at"`
	Version          string         `json:"version" yaml:"version" toml:"version"`
}

// Generator assembles config documents from store entities.
type Generator struct {
	callbackURL       string
	heartbeatInterval time.Duration
}

// NewGenerator creates a Generator. callbackURL is the externally reachable
// base URL of the backend; heartbeatInterval is the check-in hint written into
// every document.
func NewGenerator(callbackURL string, heartbeatInterval time.Duration) *Generator {
	return &Generator{
		callbackURL:       strings.TrimRight(callbackURL, "/"),
		heartbeatInterval: heartbeatInterval,
	}
}

// Build assembles the config document for an agent and its resolved role and
// template. The template's data is embedded as-is; nil maps become empty maps
// so every rendering has the same shape.
func (g *Generator) Build(agent *store.Agent, role *store.Role, tmpl *store.BehaviorTemplate) *Document {
	behavior := tmpl.TemplateData
	if behavior == nil {
		behavior = map[string]any{}
	}
	custom := agent.Config
	if custom == nil {
		custom = map[string]any{}
	}

	return &Document{
		AgentID:  agent.AgentID,
		Name:     agent.Name,
		TargetOS: string(agent.OSType),
		Role: RoleInfo{
			Name:        role.Name,
			Description: role.Description,
			Category:    role.Category,
		},
		BehaviorTemplate: behavior,
		InjectionTarget:  agent.InjectionTarget,
		StealthLevel:     agent.StealthLevel,
		CustomConfig:     custom,
		Callback: Callback{
			URL:               g.callbackURL + "/api/heartbeat",
			HeartbeatInterval: int(g.heartbeatInterval.Seconds()),
		},
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Version:     "1.0",
	}
}

// Render serializes the document in the requested format.
func Render(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		data, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("rendering yaml config: %w", err)
		}
		return data, nil
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, fmt.Errorf("rendering toml config: %w", err)
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("rendering json config: %w", err)
		}
		return append(data, '\n'), nil
	}
}

// WriteHandoff renders the document as JSON and writes it into dir as
// <agent_id>_config.json, creating dir if needed. It returns the written path.
// Builds read this file to bake the configuration into the agent binary.
func WriteHandoff(doc *Document, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating handoff directory: %w", err)
	}
	data, err := Render(doc, FormatJSON)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_config.json", doc.AgentID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing handoff file: %w", err)
	}
	return path, nil
}

// NewAgentID generates an external agent identifier of the form USR followed
// by seven decimal digits.
func NewAgentID() string {
	u := uuid.New()
	n := binary.BigEndian.Uint64(u[:8]) % 10_000_000
	return fmt.Sprintf("USR%07d", n)
}
