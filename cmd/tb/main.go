package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/engine"
	"taskboard/internal/engine/cards"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

var (
	runtimeCfg config.Runtime
	logger     = slog.Default()
	logLevel   = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Taskboard CLI",
	Long: `Taskboard tracks project tasks grouped into cards and milestones.
- Tasks move available -> claimed -> completed. Every change names the version
  it expects; a stale version is refused with version_conflict.
- Cards derive their state from their tasks: pendiente, en_curso, cerrada.
- Workflows hold rules. When a task or card reaches a rule's target state the
  rule spawns tasks from its templates, once per rule and origin.
- Work sessions measure time spent on a task; heartbeats keep them open and
  stale sessions are swept.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rt, err := config.LoadRuntime(viper.GetViper())
		if err != nil {
			return err
		}
		runtimeCfg = rt
		logger, logLevel = config.NewLogger(os.Stderr, rt)
		slog.SetDefault(logger)
		config.WatchLogLevel(viper.GetViper(), logLevel, logger)
		_, err = db.EnsureWorkspace(rt.Workspace)
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "warning: read config:", err)
		}
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "runtime config file (yaml)")
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("db", "", "database path (defaults to <workspace>/.taskboard/taskboard.db)")
	flags.Bool("json", false, "output JSON")
	flags.String("user", "local-user", "acting user id")
	flags.String("project", "", "project id (defaults to the only project)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = viper.BindPFlag("db.path", flags.Lookup("db"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("user", flags.Lookup("user"))
	_ = viper.BindPFlag("project", flags.Lookup("project"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(taskTypeCmd())
	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			latest, err := migrate.Latest()
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{"schema_version": version, "latest": latest, "path": dbFile()})
		},
	}
}

func userID() string {
	return viper.GetString("user")
}

func dbFile() string {
	if runtimeCfg.DBPath != "" {
		return runtimeCfg.DBPath
	}
	return db.Path(runtimeCfg.Workspace)
}

func openDB() (*sql.DB, error) {
	return db.Open(db.Config{Workspace: runtimeCfg.Workspace, Path: runtimeCfg.DBPath})
}

func newOrchestrator(conn *sql.DB) engine.Orchestrator {
	return engine.NewOrchestrator(conn, engine.Options{
		Log:             logger,
		MaxCascadeDepth: runtimeCfg.MaxCascadeDepth,
		AsyncHooks:      runtimeCfg.AsyncHooks,
		LinkBase:        runtimeCfg.LinksBaseURL,
	})
}

// withOrchestrator opens and migrates the database, then runs fn. Post-commit
// work is drained before the connection closes.
func withOrchestrator(ctx context.Context, fn func(context.Context, engine.Orchestrator) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	o := newOrchestrator(conn)
	defer o.Wait()
	return fn(ctx, o)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withCards(ctx context.Context, fn func(context.Context, engine.Orchestrator, cards.Evaluator) error) error {
	return withOrchestrator(ctx, func(ctx context.Context, o engine.Orchestrator) error {
		return fn(ctx, o, cards.New(o.Engine.DB))
	})
}

// projectID resolves --project or the only project in the store.
func projectID(ctx context.Context, r repo.Repo) (string, error) {
	p, err := app.ResolveProject(ctx, r, viper.GetString("project"))
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}
