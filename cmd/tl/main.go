package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"taskline/internal/app"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/mcptools"
	"taskline/internal/repo"
	"taskline/internal/secrets"
	"taskline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline turns plain-language requests into Azure DevOps work-item queries and updates.
Core concepts:
- Query: one sentence such as "show my active tasks in the current sprint" or "update task 5131 status to active".
- Intent: what the request is about (tasks, task_update, pull_requests, timesheet, meetings, summary).
- Safety check: every update must name a numeric work item id; anything else is refused before Azure DevOps is touched.
- Batch update: a message starting with "update following individual tasks" followed by lines like "TASK 5131 -> Status -> Active".
- History: the last few requests per actor, kept in memory.
- Event log: audit trail of every update attempt, view with 'tl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		info, err := os.Stat(workspace)
		if err != nil {
			return fmt.Errorf("workspace %s: %w", workspace, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("workspace %s is not a directory", workspace)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory (holds taskline.yml and .taskline/)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("debug", false, "development logging")
	rootCmd.PersistentFlags().Bool("no-audit", false, "do not record events in the audit store")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("no-audit", rootCmd.PersistentFlags().Lookup("no-audit"))
}

func registerCommands() {
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(pullRequestsCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <request...>",
		Short: "Run one request",
		Example: `  tl ask show my active tasks in the current sprint
  tl ask "update task 5131 status to active and priority to 2"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor := viper.GetString("actor-id")
				ctx = engine.WithActor(ctx, actor)
				res := a.Engine.Process(ctx, a.Conversations.For(actor), strings.Join(args, " "))
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(res.Response)
				if !res.Success {
					return errRequestFailed
				}
				return nil
			})
		},
	}
	return cmd
}

var errRequestFailed = errors.New("request failed")

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <request...>",
		Short: "Show the intent and entities of a request without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppNoAudit(cmd.Context(), func(ctx context.Context, a *app.App) error {
				intent := a.Engine.Classifier.Classify(ctx, strings.Join(args, " "))
				return printJSON(intent)
			})
		},
	}
	return cmd
}

func tasksCmd() *cobra.Command {
	var f domain.WorkItemFilter
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List work items assigned to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppNoAudit(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Engine.Backend == nil {
					return a.Engine.BackendErr
				}
				items, err := a.Engine.Backend.QueryAssignedWorkItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "State", "Priority", "Iteration"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Type, it.Title, it.State, it.Priority, it.IterationPath})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Sprint, "sprint", "", "sprint filter: current, next, or a sprint number")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter: active, new, closed, resolved")
	return cmd
}

func pullRequestsCmd() *cobra.Command {
	var f domain.PullRequestFilter
	cmd := &cobra.Command{
		Use:     "prs",
		Aliases: []string{"pull-requests"},
		Short:   "List pull requests in the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppNoAudit(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Engine.Backend == nil {
					return a.Engine.BackendErr
				}
				prs, err := a.Engine.Backend.QueryPullRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(prs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Repository", "Created By"})
				for _, pr := range prs {
					tw.AppendRow(table.Row{pr.ID, pr.Title, pr.Status, pr.Repository, pr.CreatedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter: active, completed, abandoned")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show classifier, backend and secret availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppNoAudit(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSON(a.Engine.Health(ctx))
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in taskline.yml at the workspace root: Azure DevOps organization and project, classifier provider, dispatch concurrency, history size, HTTP server, webhooks and per-type work item states. Secrets come from the environment.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate taskline.yml, or another file with --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file to validate instead of the workspace one")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the audit log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.DB == nil {
					return errors.New("audit store is disabled")
				}
				events, err := a.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Query"})
				for _, ev := range events {
					entity := ev.EntityKind
					if ev.EntityID != "" {
						entity += ":" + ev.EntityID
					}
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, entity, ev.ActorID, ev.QueryID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind (query, work_item)")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.QueryID, "query-id", "", "query id")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage HTTP API keys"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyRevokeCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key, plain, err := r.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plain})
				}
				fmt.Printf("API key %s for %s (shown once):\n%s\n", key.ID, key.ActorID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys of the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{AllowActorHeader: allowActorHeader, DevLogin: devLogin}
				if secret, ok := a.Secrets.GetSecret(secrets.JWTSecret); ok {
					authCfg.JWTSecret = secret
				} else if !allowActorHeader {
					return fmt.Errorf("%s is required for bearer auth (or pass --allow-actor-header)", secrets.JWTSecret)
				}
				if devLogin && authCfg.JWTSecret == "" {
					return fmt.Errorf("--dev-login needs %s", secrets.JWTSecret)
				}
				handler, err := server.New(server.Config{
					Engine:        a.Engine,
					Conversations: a.Conversations,
					Repo:          a.Repo,
					BasePath:      basePath,
					Auth:          authCfg,
					Logger:        a.Logger.Named("http"),
				})
				if err != nil {
					return err
				}
				hooks := &server.WebhookDispatcher{Repo: a.Repo, Webhooks: a.Config.Webhooks, Logger: a.Logger.Named("webhooks")}
				go hooks.Run(ctx)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving Taskline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login token minting")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				a.Logger.Info("mcp server starting", zap.String("version", mcptools.Version))
				return mcptools.ServeStdio(mcptools.NewServer(a.Engine, a.Conversations))
			})
		},
	}
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	return bootstrap(ctx, viper.GetBool("no-audit"), fn)
}

func withAppNoAudit(ctx context.Context, fn func(context.Context, *app.App) error) error {
	return bootstrap(ctx, true, fn)
}

func bootstrap(ctx context.Context, noAudit bool, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg.App.LogLevel, cfg.App.Debug || viper.GetBool("debug"))
	if err != nil {
		return err
	}
	defer logger.Sync()
	a, err := app.Bootstrap(ctx, app.Options{Workspace: workspace, Config: cfg, Logger: logger, NoAudit: noAudit})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		if a.DB == nil {
			return errors.New("audit store is disabled")
		}
		return fn(ctx, a.Repo)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
