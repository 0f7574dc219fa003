package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"taskboard/internal/domain"
)

// Config models taskboard.yml: the project's task types, members and
// automation workflows.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		Org  string `yaml:"org"`
	} `yaml:"project"`
	TaskTypes    []string         `yaml:"task_types"`
	Capabilities []string         `yaml:"capabilities"`
	Members      []MemberConfig   `yaml:"members"`
	Workflows    []WorkflowConfig `yaml:"workflows"`
}

type MemberConfig struct {
	User string `yaml:"user"`
	Role string `yaml:"role"`
}

type WorkflowConfig struct {
	Name  string       `yaml:"name"`
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig triggers when a resource of ResourceType enters ToState.
// TaskType narrows task rules to one task type.
type RuleConfig struct {
	Name         string           `yaml:"name"`
	ResourceType string           `yaml:"resource_type"`
	TaskType     string           `yaml:"task_type"`
	ToState      string           `yaml:"to_state"`
	Active       *bool            `yaml:"active"`
	Templates    []TemplateConfig `yaml:"templates"`
}

// IsActive defaults to true when the key is omitted.
func (r RuleConfig) IsActive() bool {
	return r.Active == nil || *r.Active
}

type TemplateConfig struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	Priority    *int   `yaml:"priority"`
	Order       *int   `yaml:"order"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Project.ID) == "" {
		return fmt.Errorf("config.project.id is required")
	}
	types := map[string]bool{}
	for _, name := range c.TaskTypes {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.task_types contains an empty name")
		}
		if types[name] {
			return fmt.Errorf("task type %s declared twice", name)
		}
		types[name] = true
	}
	caps := map[string]bool{}
	for _, name := range c.Capabilities {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.capabilities contains an empty name")
		}
		if caps[name] {
			return fmt.Errorf("capability %s declared twice", name)
		}
		caps[name] = true
	}
	for i, m := range c.Members {
		if strings.TrimSpace(m.User) == "" {
			return fmt.Errorf("members[%d].user is required", i)
		}
		switch domain.Role(m.Role) {
		case domain.RoleMember, domain.RoleAdmin:
		default:
			return fmt.Errorf("member %s has invalid role %q", m.User, m.Role)
		}
	}
	workflows := map[string]bool{}
	for _, wf := range c.Workflows {
		if strings.TrimSpace(wf.Name) == "" {
			return fmt.Errorf("config.workflows contains a workflow without name")
		}
		if workflows[wf.Name] {
			return fmt.Errorf("workflow %s declared twice", wf.Name)
		}
		workflows[wf.Name] = true
		rules := map[string]bool{}
		for _, r := range wf.Rules {
			if err := r.validate(wf.Name, types); err != nil {
				return err
			}
			if rules[r.Name] {
				return fmt.Errorf("workflow %s declares rule %s twice", wf.Name, r.Name)
			}
			rules[r.Name] = true
		}
	}
	return nil
}

func (r RuleConfig) validate(workflow string, types map[string]bool) error {
	where := fmt.Sprintf("workflow %s rule %q", workflow, r.Name)
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("workflow %s has a rule without name", workflow)
	}
	rt, err := domain.ParseResourceType(r.ResourceType)
	if err != nil {
		return fmt.Errorf("%s: %w", where, err)
	}
	if !domain.ValidTargetState(rt, r.ToState) {
		return fmt.Errorf("%s: %q is not a %s state", where, r.ToState, rt)
	}
	if r.TaskType != "" {
		if rt != domain.ResourceTask {
			return fmt.Errorf("%s: task_type only applies to task rules", where)
		}
		if !types[r.TaskType] {
			return fmt.Errorf("%s: unknown task type %s", where, r.TaskType)
		}
	}
	if len(r.Templates) == 0 {
		return fmt.Errorf("%s: at least one template is required", where)
	}
	for i, tpl := range r.Templates {
		if strings.TrimSpace(tpl.Title) == "" {
			return fmt.Errorf("%s: templates[%d].title is required", where, i)
		}
		if tpl.Type != "" && !types[tpl.Type] {
			return fmt.Errorf("%s: templates[%d] uses unknown task type %s", where, i, tpl.Type)
		}
		if tpl.Priority != nil && (*tpl.Priority < 1 || *tpl.Priority > 5) {
			return fmt.Errorf("%s: templates[%d].priority must be between 1 and 5", where, i)
		}
	}
	return nil
}

// Path returns the automation config path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: %s

task_types: [feature, bug, review, docs]

capabilities: [backend, frontend, qa]

workflows:
  - name: delivery
    rules:
      - name: review-finished-features
        resource_type: task
        task_type: feature
        to_state: completed
        templates:
          - title: "Review work from {{ user }}"
            description: "Task {{ father }} reached {{ to_state }}"
            type: review
            priority: 2
      - name: close-out-card
        resource_type: card
        to_state: cerrada
        templates:
          - title: "Write release notes for {{ father }}"
            type: docs
            priority: 4
`
