package rules

import (
	"fmt"
	"slices"
	"strings"
	"text/template"
	"text/template/parse"

	"taskboard/internal/domain"
)

// Vars are the values a task template may reference.
type Vars struct {
	Father    string
	FromState string
	ToState   string
	Project   string
	User      string
}

func varsFor(ev domain.Event, project domain.Project, linkBase string) Vars {
	from := ""
	if ev.FromState != nil {
		from = *ev.FromState
	}
	name := project.Name
	if name == "" {
		name = ev.ProjectID
	}
	return Vars{
		Father:    ResourceLink(linkBase, ev.ProjectID, ev.ResourceType, ev.ResourceID),
		FromState: from,
		ToState:   ev.ToState,
		Project:   name,
		User:      ev.ActorUserID,
	}
}

// ResourceLink builds the path of a task or card, prefixed by base when set.
func ResourceLink(base, projectID string, rt domain.ResourceType, id string) string {
	return fmt.Sprintf("%s/projects/%s/%ss/%s", strings.TrimRight(base, "/"), projectID, rt, id)
}

var templateVars = []string{"father", "from_state", "to_state", "project", "user"}

// Render expands {{father}}, {{from_state}}, {{to_state}}, {{project}} and
// {{user}}. Any other action is rejected.
func Render(text string, v Vars) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tpl, err := template.New("task").Funcs(template.FuncMap{
		"father":     func() string { return v.Father },
		"from_state": func() string { return v.FromState },
		"to_state":   func() string { return v.ToState },
		"project":    func() string { return v.Project },
		"user":       func() string { return v.User },
	}).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	if err := checkActions(tpl.Tree.Root); err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tpl.Execute(&b, nil); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return b.String(), nil
}

// checkActions allows plain text and bare variable calls only.
func checkActions(root *parse.ListNode) error {
	if root == nil {
		return nil
	}
	for _, n := range root.Nodes {
		switch node := n.(type) {
		case *parse.TextNode:
		case *parse.ActionNode:
			if !isVariableCall(node.Pipe) {
				return fmt.Errorf("unsupported template action %s; use one of %s", node, strings.Join(templateVars, ", "))
			}
		default:
			return fmt.Errorf("unsupported template action %s; use one of %s", n, strings.Join(templateVars, ", "))
		}
	}
	return nil
}

func isVariableCall(pipe *parse.PipeNode) bool {
	if pipe == nil || len(pipe.Decl) > 0 || len(pipe.Cmds) != 1 || len(pipe.Cmds[0].Args) != 1 {
		return false
	}
	id, ok := pipe.Cmds[0].Args[0].(*parse.IdentifierNode)
	return ok && slices.Contains(templateVars, id.Ident)
}
