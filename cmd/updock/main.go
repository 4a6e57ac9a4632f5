package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"updock/internal/config"
	"updock/internal/db"
	"updock/internal/domain"
	"updock/internal/engine"
	"updock/internal/logging"
	"updock/internal/migrate"
	"updock/internal/repo"
	"updock/internal/server"
	"updock/internal/upstream"
)

var rootCmd = &cobra.Command{
	Use:   "updock",
	Short: "updock keeps containers up to date by declared intent",
	Long: `updock evaluates declared update intents against live container
inventories, upgrades matched containers that run outdated images, and keeps
an append-only ledger of every attempt.

An intent carries exactly one matching rule: an image repository, a
stack+service pair, or a container name. Preview what an intent would do with
'updock intent test' before enabling it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		cfg, err := config.LoadOptional(workspace)
		if err != nil {
			return err
		}
		level := "info"
		if cfg != nil && cfg.LogLevel != "" {
			level = cfg.LogLevel
		}
		return logging.Configure(level)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("UPDOCK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(intentCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default updock.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if c == nil {
				c = config.Default()
			}
			return printJSONOrTable(c)
		},
	})
	return cfg
}

func intentCmd() *cobra.Command {
	intent := &cobra.Command{Use: "intent", Short: "Manage update intents"}
	intent.AddCommand(intentCreateCmd())
	intent.AddCommand(intentListCmd())
	intent.AddCommand(intentShowCmd())
	intent.AddCommand(intentToggleCmd("enable", true))
	intent.AddCommand(intentToggleCmd("disable", false))
	intent.AddCommand(intentDeleteCmd())
	intent.AddCommand(intentTestCmd())
	return intent
}

func intentCreateCmd() *cobra.Command {
	var imageRepo, stackName, serviceName, containerName, desc string
	var enabled bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an intent with exactly one matching rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria, err := criteriaFromFlags(imageRepo, stackName, serviceName, containerName)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.CreateIntent(ctx, desc, criteria, enabled, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&imageRepo, "image-repo", "", "match by image repository")
	cmd.Flags().StringVar(&stackName, "stack", "", "match by stack name (with --service)")
	cmd.Flags().StringVar(&serviceName, "service", "", "match by service name (with --stack)")
	cmd.Flags().StringVar(&containerName, "container", "", "match by container name")
	cmd.Flags().StringVar(&desc, "description", "", "free-text description")
	cmd.Flags().BoolVar(&enabled, "enabled", false, "enable immediately")
	return cmd
}

func criteriaFromFlags(imageRepo, stackName, serviceName, containerName string) (domain.Criteria, error) {
	switch {
	case imageRepo != "" && stackName == "" && serviceName == "" && containerName == "":
		return domain.NewImageRepoCriteria(imageRepo)
	case imageRepo == "" && (stackName != "" || serviceName != "") && containerName == "":
		return domain.NewStackServiceCriteria(stackName, serviceName)
	case imageRepo == "" && stackName == "" && serviceName == "" && containerName != "":
		return domain.NewContainerNameCriteria(containerName)
	default:
		return domain.Criteria{}, fmt.Errorf("provide exactly one of --image-repo, --stack/--service, or --container")
	}
}

func intentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List intents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListIntents(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Criteria", "Enabled", "Description", "Created"})
				for _, in := range items {
					tw.AppendRow(table.Row{in.ID, criteriaSummary(in.Criteria), in.Enabled, in.Description, in.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func criteriaSummary(c domain.Criteria) string {
	switch c.Kind {
	case domain.CriteriaImageRepo:
		return "image-repo=" + c.ImageRepo
	case domain.CriteriaStackService:
		return "stack=" + c.StackName + " service=" + c.ServiceName
	case domain.CriteriaContainerName:
		return "container=" + c.ContainerName
	}
	return string(c.Kind)
}

func intentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				in, err := r.GetIntent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
}

func intentToggleCmd(name string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id>",
		Short: strings.ToUpper(name[:1]) + name[1:] + " an intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.SetIntentEnabled(ctx, args[0], enabled, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
}

func intentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteIntent(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func intentTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Dry-run an intent against the live inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				mr, err := e.TestMatch(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(mr)
				}
				fmt.Printf("matched=%d with_updates=%d\n", mr.MatchedCount, mr.WithUpdatesCount)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Container", "Image", "Endpoint", "Update"})
				for _, m := range mr.Matches {
					update := "-"
					if m.HasUpdate {
						update = m.UpdateAvailable
					}
					tw.AppendRow(table.Row{m.Name, m.ImageRepo, m.EndpointName, update})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func runCmd() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an evaluation pass (once, or repeatedly with --every)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				res, err := e.RunPass(ctx, actor)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(res); err != nil {
					return err
				}
				if every <= 0 {
					return nil
				}
				ticker := time.NewTicker(every)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if res, err := e.RunPass(ctx, actor); err != nil {
							fmt.Fprintln(os.Stderr, "pass failed:", err)
						} else {
							fmt.Printf("pass: evaluated=%d upgrades=%d skipped=%d\n",
								res.IntentsEvaluated, len(res.Records), res.Skipped)
						}
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat the pass on this interval (e.g. 30m)")
	return cmd
}

func historyCmd() *cobra.Command {
	hist := &cobra.Command{Use: "history", Short: "Query the upgrade ledger"}
	hist.AddCommand(historyListCmd())
	hist.AddCommand(historyShowCmd())
	hist.AddCommand(historyStatsCmd())
	return hist
}

func historyListCmd() *cobra.Command {
	var f repo.HistoryFilters
	var endpoints []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upgrade records",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Endpoints = domain.NewEndpointSet(endpoints...)
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUpgrades(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Container", "Endpoint", "Old", "New", "Status", "Duration"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.ID, rec.ContainerName, rec.EndpointName,
						rec.OldVersion, rec.NewVersion, rec.Status,
						(time.Duration(rec.DurationMs) * time.Millisecond).String()})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ContainerName, "container", "", "filter by container name")
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status (success|failed)")
	cmd.Flags().StringSliceVar(&endpoints, "endpoint", nil, "filter by endpoint name (repeatable)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max records")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "skip records")
	return cmd
}

func historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one upgrade record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec, err := r.GetUpgrade(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
}

func historyStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Aggregate statistics over the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					report, err := e.AnalyticsReport(ctx)
					if err != nil {
						return err
					}
					return printJSON(report)
				})
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.StatsUpgrades(ctx)
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Total", "Success", "Failed", "Avg Duration"})
				tw.AppendRow(table.Row{s.Total, s.SuccessCount, s.FailedCount,
					(time.Duration(s.AvgDurationMs) * time.Millisecond).Round(time.Millisecond).String()})
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Events.List(ctx, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "number of events")
	lg.AddCommand(tail)
	return lg
}

func serveCmd() *cobra.Command {
	var addr, basePath, cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			var cfg *config.Config
			var err error
			if cfgPath != "" {
				cfg, err = config.FromFile(cfgPath)
			} else {
				cfg, err = config.Load(workspace)
			}
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg, buildCollaborators(cfg))

			if addr == "" {
				addr = cfg.Server.Listen
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			jwtSecret := cfg.Server.JWTSecret
			if env := os.Getenv("UPDOCK_JWT_SECRET"); env != "" {
				jwtSecret = env
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: jwtSecret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving updock API on http://%s%s (OpenAPI at /openapi.json)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file (default <workspace>/updock.yml)")
	return cmd
}

// --- helpers ---

// buildCollaborators wires one Docker endpoint per enabled config entry and a
// registry version source when one is configured. An endpoint that fails to
// dial is reported and skipped; the rest still work.
func buildCollaborators(cfg *config.Config) engine.Collaborators {
	ports := engine.Collaborators{Actions: map[string]upstream.UpgradeAction{}}
	for _, ep := range cfg.Endpoints {
		if !ep.Enabled {
			continue
		}
		de, err := upstream.NewDockerEndpoint(ep.ID, ep.Name, ep.Host)
		if err != nil {
			fmt.Fprintf(os.Stderr, "endpoint %s unavailable: %v\n", ep.Name, err)
			continue
		}
		ports.Providers = append(ports.Providers, de)
		ports.Actions[ep.ID] = de
	}
	if cfg.Versions.Registry != "" {
		ports.Versions = upstream.NewRegistryVersionSource(
			cfg.Versions.Registry, cfg.Versions.LookupsPerSecond, cfg.Versions.LookupBurst)
	}
	return ports
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, cfg, buildCollaborators(cfg))
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
