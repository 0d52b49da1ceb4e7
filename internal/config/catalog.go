package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yuhaibao324/dipagt/internal/domain"
)

type catalogFile struct {
	Agents []agentEntry `yaml:"agents"`
	Tools  []toolEntry  `yaml:"tools"`
}

type agentEntry struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Type        string                 `yaml:"type"`
	Avatar      string                 `yaml:"avatar"`
	Active      *bool                  `yaml:"active"`
	Config      map[string]interface{} `yaml:"config"`
	Tools       []bindingEntry         `yaml:"tools"`
}

type bindingEntry struct {
	Name   string                 `yaml:"name"`
	Config map[string]interface{} `yaml:"config"`
}

type toolEntry struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Active      *bool                  `yaml:"active"`
	Defaults    map[string]interface{} `yaml:"defaults"`
}

// LoadCatalog reads the agent/tool catalog from a YAML file. A missing file
// yields DefaultCatalog.
func LoadCatalog(path string) (*domain.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultCatalog(), nil
		}
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (*domain.Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	catalog := &domain.Catalog{}
	tools := make(map[string]bool, len(file.Tools))
	for _, t := range file.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("catalog tool without name")
		}
		if tools[t.Name] {
			return nil, fmt.Errorf("duplicate catalog tool %s", t.Name)
		}
		tools[t.Name] = true
		catalog.Tools = append(catalog.Tools, domain.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Defaults:    t.Defaults,
			Active:      boolOr(t.Active, true),
		})
	}

	agents := make(map[string]bool, len(file.Agents))
	for _, a := range file.Agents {
		if a.ID == "" {
			return nil, fmt.Errorf("catalog agent without id")
		}
		if agents[a.ID] {
			return nil, fmt.Errorf("duplicate catalog agent %s", a.ID)
		}
		agents[a.ID] = true
		name := a.Name
		if name == "" {
			name = a.ID
		}
		catalog.Agents = append(catalog.Agents, domain.Agent{
			ID:          a.ID,
			Name:        name,
			Description: a.Description,
			Type:        a.Type,
			Avatar:      a.Avatar,
			Config:      a.Config,
			Active:      boolOr(a.Active, true),
		})
		for _, b := range a.Tools {
			if !tools[b.Name] {
				return nil, fmt.Errorf("agent %s binds unknown tool %s", a.ID, b.Name)
			}
			catalog.Bindings = append(catalog.Bindings, domain.AgentTool{
				AgentID: a.ID,
				Tool:    b.Name,
				Config:  b.Config,
			})
		}
	}
	return catalog, nil
}

// DefaultCatalog is used when no catalog file is present.
func DefaultCatalog() *domain.Catalog {
	catalog, err := ParseCatalog([]byte(defaultCatalogYAML))
	if err != nil {
		panic(err)
	}
	return catalog
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

const defaultCatalogYAML = `
tools:
  - name: answer
    description: Answer the user directly in natural language.
    defaults:
      temperature: 0.7
  - name: analyze
    description: Analyze a topic or prior results step by step.
    defaults:
      temperature: 0.2
  - name: web_search
    description: Search the web for up-to-date information.
    defaults:
      max_results: 5
  - name: web_fetch
    description: Fetch a web page and return its readable text.
    defaults:
      max_chars: 8000
  - name: command_line
    description: Run an allow-listed shell command.
    defaults:
      allowed_commands: [ls, cat, echo, pwd, date, whoami]
      blocked_commands: [rm, sudo, shutdown, reboot, mkfs]

agents:
  - id: assistant
    name: General Assistant
    description: Handles greetings, questions and general assistance.
    type: assistant
    tools:
      - name: answer
  - id: analyst
    name: Analyst
    description: Breaks problems down and analyses results.
    type: analyst
    tools:
      - name: analyze
      - name: answer
        config:
          temperature: 0.3
  - id: researcher
    name: Researcher
    description: Looks things up on the web.
    type: researcher
    tools:
      - name: web_search
      - name: web_fetch
        config:
          headers:
            User-Agent: dipagt-researcher/1.0
  - id: operator
    name: Operator
    description: Runs safe local commands.
    type: operator
    active: false
    tools:
      - name: command_line
`
