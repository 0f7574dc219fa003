package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/engine/cards"
	"taskboard/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectMemberCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Org", "Created")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.OrgID, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Project automation config"}

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Apply a taskboard.yml to the store (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(runtimeCfg.Workspace)
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				res, err := app.ApplyConfig(ctx, r, cfg, userID(), time.Now())
				if err != nil {
					return err
				}
				logger.Info("project config applied", "project_id", res.Project.ID, "rules", res.Rules)
				return printJSONOrTable(res)
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "config path (defaults to <workspace>/taskboard.yml)")

	var id string
	defaultCmd := &cobra.Command{
		Use:   "default",
		Short: "Print a starter taskboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault(id))
			return nil
		},
	}
	defaultCmd.Flags().StringVar(&id, "id", "my-project", "project id")

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a taskboard.yml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.FromFile(args[0]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}

	cfgCmd.AddCommand(importCmd, defaultCmd, validateCmd)
	return cfgCmd
}

func projectMemberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage project members"}

	var user, role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Grant a role on the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != string(domain.RoleMember) && role != string(domain.RoleAdmin) {
				return fmt.Errorf("--role must be member or admin")
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				r := o.Engine.Repo
				pid, err := projectID(ctx, r)
				if err != nil {
					return err
				}
				if err := o.Engine.Auth.RequireAdmin(ctx, pid, userID()); err != nil {
					return err
				}
				m := domain.ProjectMember{ProjectID: pid, UserID: user, Role: domain.Role(role)}
				if err := r.UpsertMember(ctx, nil, m, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	add.Flags().StringVar(&user, "member", "", "user id to grant")
	add.Flags().StringVar(&role, "role", string(domain.RoleMember), "member or admin")
	_ = add.MarkFlagRequired("member")

	list := &cobra.Command{
		Use:   "list",
		Short: "List project members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				pid, err := projectID(ctx, r)
				if err != nil {
					return err
				}
				items, err := r.ListMembers(ctx, pid)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("User", "Role")
				for _, m := range items {
					tw.AppendRow(table.Row{m.UserID, m.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
	member.AddCommand(add, list)
	return member
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskTransitionCmd("claim", "Claim an available task"))
	task.AddCommand(taskTransitionCmd("release", "Release a task you claimed"))
	task.AddCommand(taskTransitionCmd("complete", "Complete a task you claimed"))
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskEventsCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var typeID, capabilityID, cardID, milestoneID string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an available task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				pid, err := projectID(ctx, o.Engine.Repo)
				if err != nil {
					return err
				}
				opts.ProjectID = pid
				opts.UserID = userID()
				opts.TypeID = optionalString(typeID)
				opts.CapabilityID = optionalString(capabilityID)
				opts.CardID = optionalString(cardID)
				opts.MilestoneID = optionalString(milestoneID)
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				resp, err := o.Handle(ctx, engine.CreateTask{Options: opts})
				if err != nil {
					return err
				}
				return printTask(resp.(engine.TaskResult).Task)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&typeID, "type-id", "", "task type id")
	cmd.Flags().StringVar(&capabilityID, "capability-id", "", "capability id")
	cmd.Flags().StringVar(&cardID, "card-id", "", "card id")
	cmd.Flags().StringVar(&milestoneID, "milestone-id", "", "milestone id")
	cmd.Flags().IntVar(&priority, "priority", 3, "priority 1 (highest) to 5")
	cmd.Flags().StringArrayVar(&opts.DependsOn, "depends-on", nil, "dependency task id (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var blocked string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				pid, err := projectID(ctx, o.Engine.Repo)
				if err != nil {
					return err
				}
				f.ProjectID = pid
				switch blocked {
				case "":
				case "true", "false":
					b := blocked == "true"
					f.Blocked = &b
				default:
					return fmt.Errorf("--blocked must be true or false")
				}
				resp, err := o.Handle(ctx, engine.ListTasks{UserID: userID(), Filters: f})
				if err != nil {
					return err
				}
				tasks := resp.(engine.TasksList).Tasks
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable("ID", "Title", "Status", "Work", "Claimed by", "Priority", "Version", "Blocked")
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.WorkState, deref(t.ClaimedBy), deref(t.Priority), t.Version, t.Blocked})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.TypeID, "type-id", "", "task type filter")
	cmd.Flags().StringVar(&f.CapabilityID, "capability-id", "", "capability filter")
	cmd.Flags().StringVar(&f.Query, "query", "", "text search over title and description")
	cmd.Flags().StringVar(&f.CardID, "card-id", "", "card filter")
	cmd.Flags().StringVar(&f.MilestoneID, "milestone-id", "", "milestone filter")
	cmd.Flags().StringVar(&f.ClaimedBy, "claimed-by", "", "claimant filter")
	cmd.Flags().StringVar(&f.CreatedFromRuleID, "rule-id", "", "only tasks spawned by this rule")
	cmd.Flags().StringVar(&blocked, "blocked", "", "true or false")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				t, err := o.Engine.GetTask(ctx, args[0], userID())
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

// expectedVersion returns --version, or the task's current version when the
// flag is not given.
func expectedVersion(ctx context.Context, cmd *cobra.Command, o engine.Orchestrator, taskID string, version int64) (int64, error) {
	if cmd.Flags().Changed("version") {
		return version, nil
	}
	t, err := o.Engine.GetTask(ctx, taskID, userID())
	if err != nil {
		return 0, err
	}
	return t.Version, nil
}

func taskTransitionCmd(verb, short string) *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				v, err := expectedVersion(ctx, cmd, o, args[0], version)
				if err != nil {
					return err
				}
				var req engine.Request
				switch verb {
				case "claim":
					req = engine.ClaimTask{TaskID: args[0], UserID: userID(), ExpectedVersion: v}
				case "release":
					req = engine.ReleaseTask{TaskID: args[0], UserID: userID(), ExpectedVersion: v}
				default:
					req = engine.CompleteTask{TaskID: args[0], UserID: userID(), ExpectedVersion: v}
				}
				resp, err := o.Handle(ctx, req)
				if err != nil {
					return err
				}
				return printTask(resp.(engine.TaskResult).Task)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "expected version (defaults to the current one)")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var version int64
	var title, description, typeID, capabilityID, cardID, milestoneID string
	var priority int
	var clear []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update fields of a task you claimed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.TaskPatch
			set := func(flag string, f *domain.Field[string], v string) {
				if cmd.Flags().Changed(flag) {
					*f = domain.Set(v)
				}
			}
			set("title", &patch.Title, title)
			set("description", &patch.Description, description)
			set("type-id", &patch.TypeID, typeID)
			set("capability-id", &patch.CapabilityID, capabilityID)
			set("card-id", &patch.CardID, cardID)
			set("milestone-id", &patch.MilestoneID, milestoneID)
			if cmd.Flags().Changed("priority") {
				patch.Priority = domain.Set(priority)
			}
			for _, name := range clear {
				switch strings.ReplaceAll(name, "-", "_") {
				case "description":
					patch.Description = domain.Clear[string]()
				case "priority":
					patch.Priority = domain.Clear[int]()
				case "type_id":
					patch.TypeID = domain.Clear[string]()
				case "capability_id":
					patch.CapabilityID = domain.Clear[string]()
				case "card_id":
					patch.CardID = domain.Clear[string]()
				case "milestone_id":
					patch.MilestoneID = domain.Clear[string]()
				default:
					return fmt.Errorf("cannot clear %q", name)
				}
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				v, err := expectedVersion(ctx, cmd, o, args[0], version)
				if err != nil {
					return err
				}
				resp, err := o.Handle(ctx, engine.UpdateTask{TaskID: args[0], UserID: userID(), ExpectedVersion: v, Patch: patch})
				if err != nil {
					return err
				}
				return printTask(resp.(engine.TaskResult).Task)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "expected version (defaults to the current one)")
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&typeID, "type-id", "", "new task type id")
	cmd.Flags().StringVar(&capabilityID, "capability-id", "", "new capability id")
	cmd.Flags().StringVar(&cardID, "card-id", "", "move to card")
	cmd.Flags().StringVar(&milestoneID, "milestone-id", "", "move to milestone")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority 1-5")
	cmd.Flags().StringArrayVar(&clear, "clear", nil, "field to clear (repeatable)")
	return cmd
}

func taskEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <id>",
		Short: "Show the audit trail of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				if _, err := o.Engine.GetTask(ctx, args[0], userID()); err != nil {
					return err
				}
				items, err := o.Engine.Events.ForEntity(ctx, "task", args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("TS", "Type", "Actor", "Payload")
				for _, e := range items {
					tw.AppendRow(table.Row{e.TS, e.Type, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskTypeCmd() *cobra.Command {
	tt := &cobra.Command{Use: "tasktype", Short: "Manage task types"}
	tt.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List task types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				pid, err := projectID(ctx, r)
				if err != nil {
					return err
				}
				items, err := r.ListTaskTypes(ctx, pid)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name")
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name})
				}
				tw.Render()
				return nil
			})
		},
	})
	tt.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a task type (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				pid, err := projectID(ctx, o.Engine.Repo)
				if err != nil {
					return err
				}
				resp, err := o.Handle(ctx, engine.CreateTaskType{ProjectID: pid, UserID: userID(), Name: args[0]})
				if err != nil {
					return err
				}
				return printJSONOrTable(resp.(engine.TaskTypeCreated).TaskType)
			})
		},
	})
	tt.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an unused task type (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				pid, err := projectID(ctx, o.Engine.Repo)
				if err != nil {
					return err
				}
				resp, err := o.Handle(ctx, engine.DeleteTaskType{ProjectID: pid, UserID: userID(), TaskTypeID: args[0]})
				if err != nil {
					return err
				}
				return printJSONOrTable(resp)
			})
		},
	})
	return tt
}

func cardCmd() *cobra.Command {
	card := &cobra.Command{Use: "card", Short: "Manage cards"}
	var description string
	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCards(cmd.Context(), func(ctx context.Context, o engine.Orchestrator, ce cards.Evaluator) error {
				pid, err := projectID(ctx, o.Engine.Repo)
				if err != nil {
					return err
				}
				if err := o.Engine.Auth.RequireMember(ctx, pid, userID()); err != nil {
					return err
				}
				c, err := ce.Create(ctx, pid, args[0], description)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	create.Flags().StringVar(&description, "description", "", "description")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a card and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCards(cmd.Context(), func(ctx context.Context, o engine.Orchestrator, ce cards.Evaluator) error {
				c, err := ce.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if err := o.Engine.Auth.RequireMember(ctx, c.ProjectID, userID()); err != nil {
					return err
				}
				tasks, err := o.Engine.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: c.ProjectID, CardID: c.ID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"card": c, "tasks": tasks})
				}
				fmt.Printf("%s  %s  [%s]  %d/%d completed  v%d\n", c.ID, c.Title, c.State, c.CompletedCount, c.TaskCount, c.Version)
				tw := newTable("ID", "Title", "Status", "Claimed by")
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, deref(t.ClaimedBy)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List cards of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				pid, err := projectID(ctx, r)
				if err != nil {
					return err
				}
				items, err := r.ListCards(ctx, pid)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "State", "Done", "Version")
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Title, c.State, fmt.Sprintf("%d/%d", c.CompletedCount, c.TaskCount), c.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	card.AddCommand(create, show, list)
	return card
}

func milestoneCmd() *cobra.Command {
	ms := &cobra.Command{Use: "milestone", Short: "Manage milestones"}
	var due string
	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if due != "" {
				if _, err := time.Parse(time.RFC3339, due); err != nil {
					return fmt.Errorf("--due must be RFC3339: %w", err)
				}
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				pid, err := projectID(ctx, o.Engine.Repo)
				if err != nil {
					return err
				}
				if err := o.Engine.Auth.RequireMember(ctx, pid, userID()); err != nil {
					return err
				}
				m := domain.Milestone{
					ID:        uuid.NewString(),
					ProjectID: pid,
					Title:     args[0],
					DueAt:     optionalString(due),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := o.Engine.Repo.InsertMilestone(ctx, nil, m); err != nil {
					return domain.DBError(err)
				}
				return printJSONOrTable(m)
			})
		},
	}
	create.Flags().StringVar(&due, "due", "", "due date (RFC3339)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a milestone and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				m, err := o.Engine.Repo.GetMilestone(ctx, args[0])
				if err != nil {
					return err
				}
				if err := o.Engine.Auth.RequireMember(ctx, m.ProjectID, userID()); err != nil {
					return err
				}
				tasks, err := o.Engine.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: m.ProjectID, MilestoneID: m.ID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"milestone": m, "tasks": tasks})
				}
				fmt.Printf("%s  %s  due %v\n", m.ID, m.Title, deref(m.DueAt))
				tw := newTable("ID", "Title", "Status", "Blocked")
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Blocked})
				}
				tw.Render()
				return nil
			})
		},
	}
	ms.AddCommand(create, show)
	return ms
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{Use: "rule", Short: "Inspect automation rules"}
	rule.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rules of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				pid, err := projectID(ctx, r)
				if err != nil {
					return err
				}
				items, err := r.ListRules(ctx, pid)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "On", "To state", "Task type", "Active", "Templates")
				for _, rl := range items {
					tw.AppendRow(table.Row{rl.ID, rl.Name, rl.ResourceType, rl.ToState, deref(rl.TaskTypeID), rl.Active, len(rl.Templates)})
				}
				tw.Render()
				return nil
			})
		},
	})
	rule.AddCommand(&cobra.Command{
		Use:   "show <rule-id>",
		Short: "Show a rule and its templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rl, err := r.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rl)
				}
				fmt.Printf("%s  %s  on %s -> %s  active=%t\n", rl.ID, rl.Name, rl.ResourceType, rl.ToState, rl.Active)
				tw := newTable("Order", "Title", "Type", "Priority")
				for _, tpl := range rl.Templates {
					tw.AppendRow(table.Row{tpl.ExecutionOrder, tpl.Title, deref(tpl.TypeID), deref(tpl.Priority)})
				}
				tw.Render()
				return nil
			})
		},
	})
	rule.AddCommand(&cobra.Command{
		Use:   "executions <rule-id>",
		Short: "Show the execution ledger of a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRuleExecutions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Origin", "Origin ID", "Outcome", "At", "Spawned")
				for _, ex := range items {
					tw.AppendRow(table.Row{ex.OriginType, ex.OriginID, ex.Outcome, ex.CreatedAt, strings.Join(ex.SpawnedTaskIDs, ",")})
				}
				tw.Render()
				return nil
			})
		},
	})
	return rule
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	tw := newTable("Field", "Value")
	tw.AppendRows([]table.Row{
		{"id", t.ID},
		{"title", t.Title},
		{"status", t.Status},
		{"work_state", t.WorkState},
		{"version", t.Version},
		{"claimed_by", deref(t.ClaimedBy)},
		{"priority", deref(t.Priority)},
		{"card_id", deref(t.CardID)},
		{"milestone_id", deref(t.MilestoneID)},
		{"blocked", t.Blocked},
		{"created_from_rule_id", deref(t.CreatedFromRuleID)},
	})
	tw.Render()
	return nil
}
