package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/engine/cards"
	"taskboard/internal/repo"
	"taskboard/internal/server"
)

func sessionCmd() *cobra.Command {
	sess := &cobra.Command{Use: "session", Short: "Track time spent on tasks"}
	sess.AddCommand(&cobra.Command{
		Use:   "start <task-id>",
		Short: "Start a work session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				s, err := o.Engine.Sessions.Start(ctx, userID(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})
	sess.AddCommand(&cobra.Command{
		Use:   "heartbeat <session-id>",
		Short: "Keep a session alive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				s, err := o.Engine.Sessions.Heartbeat(ctx, args[0], userID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})
	sess.AddCommand(&cobra.Command{
		Use:   "pause <session-id>",
		Short: "Close a session and credit its time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				s, err := o.Engine.Sessions.Pause(ctx, args[0], userID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})

	var olderThan time.Duration
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Close sessions without a recent heartbeat",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				olderThan = runtimeCfg.StaleAfter
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				closed, err := o.Engine.Sessions.SweepStale(ctx, olderThan)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(closed)
				}
				tw := newTable("Session", "User", "Task", "Ended")
				for _, s := range closed {
					tw.AppendRow(table.Row{s.ID, s.UserID, s.TaskID, deref(s.EndedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	sweep.Flags().DurationVar(&olderThan, "older-than", 0, "staleness threshold (defaults to sessions.stale_after)")
	sess.AddCommand(sweep)

	sess.AddCommand(&cobra.Command{
		Use:   "active",
		Short: "List your open sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				items, err := o.Engine.Sessions.Active(ctx, userID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Session", "Task", "Started", "Last heartbeat")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.TaskID, s.StartedAt, s.LastHeartbeatAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	sess.AddCommand(&cobra.Command{
		Use:   "history <task-id>",
		Short: "List every session recorded on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				if _, err := o.Engine.GetTask(ctx, args[0], userID()); err != nil {
					return err
				}
				items, err := o.Engine.Repo.SessionsForTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Session", "User", "Started", "Ended", "Reason")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.UserID, s.StartedAt, deref(s.EndedAt), deref(s.EndedReason)})
				}
				tw.Render()
				return nil
			})
		},
	})
	sess.AddCommand(&cobra.Command{
		Use:   "totals",
		Short: "Show accumulated time per task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				items, err := o.Engine.Sessions.Totals(ctx, userID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Task", "Time", "Updated")
				for _, wt := range items {
					tw.AppendRow(table.Row{wt.TaskID, time.Duration(wt.AccumulatedS) * time.Second, wt.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return sess
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := "tbk_" + uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					UserID:    userID(),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "user_id": key.UserID, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys of the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, userID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Created")
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	keys.AddCommand(create, list, del)
	return keys
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runtimeCfg.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			tok, err := server.SignToken(runtimeCfg.JWTSecret, userID(), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o engine.Orchestrator) error {
				handler, err := server.New(server.Config{
					Orchestrator: o,
					Cards:        cards.New(o.Engine.DB),
					BasePath:     runtimeCfg.ServerBasePath,
					Auth: server.AuthConfig{
						JWTSecret:              runtimeCfg.JWTSecret,
						AllowLegacyActorHeader: runtimeCfg.AllowLegacyActorHeader,
						Logger:                 logger,
					},
					Log: logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: runtimeCfg.ServerAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					logger.Info("listening", "addr", srv.Addr, "base_path", runtimeCfg.ServerBasePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					return sweepLoop(gctx, o, runtimeCfg.StaleAfter)
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

// sweepLoop closes stale sessions every quarter of the staleness window.
func sweepLoop(ctx context.Context, o engine.Orchestrator, staleAfter time.Duration) error {
	every := staleAfter / 4
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			closed, err := o.Engine.Sessions.SweepStale(ctx, staleAfter)
			if err != nil {
				logger.Warn("session sweep failed", "error", err)
				continue
			}
			if len(closed) > 0 {
				logger.Info("stale sessions closed", "count", len(closed))
			}
		}
	}
}
