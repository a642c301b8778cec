package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stepline/internal/api"
	"stepline/internal/config"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/notify"
	"stepline/internal/provision"
	"stepline/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stepline CLI",
	Long: `Stepline is a client for a workflow-tracking backend.
Core concepts:
- Workflow (objective): a goal with a deadline, owning ordered work steps.
- Work step (assignment): a unit of work with status planned -> in_progress -> completed.
- At most one step per workflow is in progress; the lowest-sequence planned
  step is promoted when none is.
- Actor: a participant with an optional role. A tenant is an actor whose
  tenant id points at its own guid; it scopes what everyone else sees.
- The local step collection is a cache of server state, kept fresh by push
  notifications ('sl watch') and full reloads.`,
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
	viper.SetEnvPrefix("STEPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("server", "", "backend base URL (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("tenant", "", "tenant scope guid (overrides session)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(initDemoCmd())
}

// --- session and identity ---

func loginCmd() *cobra.Command {
	var actorGuid, tenantGuid string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as an actor within a tenant scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, c *api.Client, sess *session.Session) error {
				actor, err := c.Actors.GetByID(ctx, actorGuid)
				if err != nil {
					return fmt.Errorf("fetch actor: %w", err)
				}
				tenant, err := c.Actors.GetByID(ctx, tenantGuid)
				if err != nil {
					return fmt.Errorf("fetch tenant: %w", err)
				}
				if err := sess.Login(actor, tenant); err != nil {
					return err
				}
				fmt.Printf("Logged in as %s (tenant %s)\n", actor.DisplayName, tenant.DisplayName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorGuid, "actor", "", "actor guid")
	cmd.Flags().StringVar(&tenantGuid, "tenant-actor", "", "tenant root actor guid")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("tenant-actor")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, c *api.Client, sess *session.Session) error {
				sess.Logout()
				fmt.Println("Logged out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the restored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, c *api.Client, sess *session.Session) error {
				if err := sess.Restore(ctx); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"actor":  sess.CurrentActor(),
					"tenant": sess.CurrentTenant(),
				})
			})
		},
	}
}

// --- actors ---

func actorCmd() *cobra.Command {
	c := &cobra.Command{Use: "actor", Short: "Manage actors"}
	c.AddCommand(actorListCmd())
	c.AddCommand(actorCreateCmd())
	c.AddCommand(actorDeleteCmd())
	c.AddCommand(actorSetTenantCmd())
	return c
}

func actorListCmd() *cobra.Command {
	var managersOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScope(cmd.Context(), func(ctx context.Context, c *api.Client, scope string) error {
				actors, err := c.Actors.ListAll(ctx, scope)
				if err != nil {
					return err
				}
				if managersOnly {
					actors = session.Managers(actors)
				}
				if viper.GetBool("json") {
					return printJSON(actors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Guid", "Name", "Role", "Tenant"})
				for _, a := range actors {
					role := ""
					if a.Role != nil {
						role = a.Role.DisplayName
					}
					tw.AppendRow(table.Row{a.Guid, a.DisplayName, role, a.TenantID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&managersOnly, "managers", false, "only actors usable as tenant roots")
	return cmd
}

func actorCreateCmd() *cobra.Command {
	var name, roleGuid, tenantID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *api.Client, cfg *config.Config) error {
				guid, err := c.Actors.Create(ctx, name, roleGuid, tenantID)
				if err != nil {
					return err
				}
				fmt.Println(guid)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&roleGuid, "role", "", "role guid")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "owning tenant guid")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func actorDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <guid>",
		Short: "Delete actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *api.Client, cfg *config.Config) error {
				return c.Actors.Delete(ctx, args[0])
			})
		},
	}
	return cmd
}

func actorSetTenantCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "set-tenant <guid>",
		Short: "Move actor into a tenant scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *api.Client, cfg *config.Config) error {
				return c.Actors.SetTenantID(ctx, args[0], tenantID)
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "tenant guid (actor's own guid makes it a tenant root)")
	_ = cmd.MarkFlagRequired("tenant-id")
	return cmd
}

// --- roles ---

func roleCmd() *cobra.Command {
	c := &cobra.Command{Use: "role", Short: "Manage roles"}
	c.AddCommand(roleListCmd())
	c.AddCommand(roleCreateCmd())
	c.AddCommand(roleDeleteCmd())
	return c
}

func roleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScope(cmd.Context(), func(ctx context.Context, c *api.Client, scope string) error {
				roles, err := c.Roles.ListAll(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roles)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Guid", "Name", "Admin", "Tenant"})
				for _, r := range roles {
					tw.AppendRow(table.Row{r.Guid, r.DisplayName, r.IsAdmin, r.TenantID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func roleCreateCmd() *cobra.Command {
	var name, desc, tenantID string
	var admin bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *api.Client, cfg *config.Config) error {
				guid, err := c.Roles.Create(ctx, name, admin, desc, tenantID)
				if err != nil {
					return err
				}
				fmt.Println(guid)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().BoolVar(&admin, "admin", false, "admin role")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "owning tenant guid")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func roleDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <guid>",
		Short: "Delete role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *api.Client, cfg *config.Config) error {
				return c.Roles.Delete(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- workflows ---

func workflowCmd() *cobra.Command {
	c := &cobra.Command{Use: "workflow", Short: "Manage workflows"}
	c.AddCommand(workflowListCmd())
	c.AddCommand(workflowCreateCmd())
	c.AddCommand(workflowDeleteCmd())
	return c
}

func workflowListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScope(cmd.Context(), func(ctx context.Context, c *api.Client, scope string) error {
				flows, err := c.Objectives.ListAll(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(flows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Guid", "Name", "Deadline", "Tenant"})
				for _, f := range flows {
					tw.AppendRow(table.Row{f.Guid, f.DisplayName, f.DeadlineDate, f.TenantID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workflowCreateCmd() *cobra.Command {
	var name, deadline, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScope(cmd.Context(), func(ctx context.Context, c *api.Client, scope string) error {
				guid, err := c.Objectives.Create(ctx, name, deadline, desc, scope)
				if err != nil {
					return err
				}
				fmt.Println(guid)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func workflowDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <guid>",
		Short: "Delete workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *api.Client, cfg *config.Config) error {
				return c.Objectives.Delete(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- work steps ---

func stepCmd() *cobra.Command {
	c := &cobra.Command{Use: "step", Short: "Manage work steps"}
	c.AddCommand(stepListCmd())
	c.AddCommand(stepCreateCmd())
	c.AddCommand(stepDeleteCmd())
	c.AddCommand(stepSetStatusCmd())
	c.AddCommand(stepSetPriorityCmd())
	c.AddCommand(stepStatsCmd())
	return c
}

func stepListCmd() *cobra.Command {
	var workflowGuid string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.LoadAll(ctx); err != nil {
					return err
				}
				steps := eng.Snapshot()
				if workflowGuid != "" {
					steps = eng.StepsByWorkflow(workflowGuid)
				}
				if viper.GetBool("json") {
					return printJSON(steps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Guid", "Name", "Seq", "Status", "Priority", "Workflow", "Assignee"})
				for _, s := range steps {
					tw.AppendRow(table.Row{s.Guid, s.DisplayName, s.SequenceNumber, s.Status, s.Priority, s.ParentObjectiveGuid, s.AssigneeGuid})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workflowGuid, "workflow", "", "filter by parent workflow guid")
	return cmd
}

func stepCreateCmd() *cobra.Command {
	var name, desc, workflowGuid, roleGuid string
	var duration float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create work step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.LoadAll(ctx); err != nil {
					return err
				}
				guid, err := eng.Create(ctx, domain.WorkStep{
					DisplayName:         name,
					Description:         desc,
					Duration:            duration,
					RequiredRoleGuid:    roleGuid,
					Status:              domain.StatusPlanned,
					ParentObjectiveGuid: workflowGuid,
				})
				if err != nil {
					return err
				}
				fmt.Println(guid)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&workflowGuid, "workflow", "", "parent workflow guid")
	cmd.Flags().Float64Var(&duration, "duration", 0, "duration count")
	cmd.Flags().StringVar(&roleGuid, "required-role", "", "required role guid")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func stepDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <guid>",
		Short: "Delete work step (promotes a successor if it was in progress)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.LoadAll(ctx); err != nil {
					return err
				}
				return eng.Delete(ctx, args[0])
			})
		},
	}
	return cmd
}

func stepSetStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <guid>",
		Short: "Set work step status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseStatus(status)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.LoadAll(ctx); err != nil {
					return err
				}
				return eng.SetStatus(ctx, args[0], st)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "planned, in_progress, or completed")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func stepSetPriorityCmd() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "set-priority <guid>",
		Short: "Set work step priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePriority(priority)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.LoadAll(ctx); err != nil {
					return err
				}
				return eng.SetPriority(ctx, args[0], p)
			})
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "", "short-term, mid-term, or long-term")
	_ = cmd.MarkFlagRequired("priority")
	return cmd
}

func stepStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <workflow-guid>",
		Short: "Aggregate step stats for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.LoadAll(ctx); err != nil {
					return err
				}
				return printJSONOrTable(eng.Stats(args[0]))
			})
		},
	}
	return cmd
}

// --- live updates ---

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow push notifications and keep the local cache fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(_ context.Context, c *api.Client, cfg *config.Config) error {
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				sess := newSession(c)
				if err := sess.Restore(ctx); err != nil && err != session.ErrNoSession {
					log.Printf("watch: session restore failed: %v", err)
				}
				eng := engine.New(c.Assignments)
				eng.Scope = scopeFunc(sess)
				if err := eng.LoadAll(ctx); err != nil {
					return err
				}
				fmt.Printf("Watching %s (%d steps cached). Ctrl-C to stop.\n", cfg.NotifyURL(), len(eng.Snapshot()))

				ch := notify.New(cfg.NotifyURL())
				ch.Subscribe(func(guid string) {
					if err := eng.Reconcile(ctx, guid); err != nil {
						log.Printf("watch: reconcile %s: %v", guid, err)
						return
					}
					for _, s := range eng.Snapshot() {
						if s.Guid == guid {
							fmt.Printf("updated %s: %s [%s]\n", s.Guid, s.DisplayName, s.Status)
							return
						}
					}
				})
				ch.Start(ctx)
				<-ctx.Done()
				ch.Stop()
				return nil
			})
		},
	}
	return cmd
}

// --- bootstrap ---

func initDemoCmd() *cobra.Command {
	var tenantName string
	cmd := &cobra.Command{
		Use:   "init-demo",
		Short: "Provision the manager role and a tenant-root actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *api.Client, cfg *config.Config) error {
				b := provision.Bootstrapper{Roles: c.Roles, Actors: c.Actors}
				tenant, err := b.EnsureTenant(ctx, tenantName)
				if err != nil {
					return err
				}
				return printJSONOrTable(tenant)
			})
		},
	}
	cmd.Flags().StringVar(&tenantName, "tenant-name", "Demo Company", "tenant root display name")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if server := viper.GetString("server"); server != "" {
		if cfg == nil {
			cfg = config.Default(server)
		} else {
			cfg.Server.URL = server
		}
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config at %s and no --server given", config.Path(workspace))
	}
	return cfg, nil
}

func withClient(ctx context.Context, fn func(context.Context, *api.Client, *config.Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c := api.New(cfg.Server.URL)
	c.Timeout = cfg.Timeout()
	return fn(ctx, c, cfg)
}

func newSession(c *api.Client) *session.Session {
	workspace := viper.GetString("workspace")
	store := session.NewDiskStore(filepath.Join(workspace, ".stepline", "session"))
	return session.New(c.Actors, store)
}

func withSession(ctx context.Context, fn func(context.Context, *api.Client, *session.Session) error) error {
	return withClient(ctx, func(ctx context.Context, c *api.Client, cfg *config.Config) error {
		return fn(ctx, c, newSession(c))
	})
}

// withScope resolves the tenant scope from the --tenant flag or the restored
// session, then runs fn with it.
func withScope(ctx context.Context, fn func(context.Context, *api.Client, string) error) error {
	return withSession(ctx, func(ctx context.Context, c *api.Client, sess *session.Session) error {
		if scope := viper.GetString("tenant"); scope != "" {
			return fn(ctx, c, scope)
		}
		if err := sess.Restore(ctx); err != nil && err != session.ErrNoSession {
			log.Printf("session restore failed: %v", err)
		}
		return fn(ctx, c, sess.TenantScope())
	})
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	return withSession(ctx, func(ctx context.Context, c *api.Client, sess *session.Session) error {
		if scope := viper.GetString("tenant"); scope == "" {
			if err := sess.Restore(ctx); err != nil && err != session.ErrNoSession {
				log.Printf("session restore failed: %v", err)
			}
		}
		eng := engine.New(c.Assignments)
		eng.Scope = scopeFunc(sess)
		return fn(ctx, eng)
	})
}

func scopeFunc(sess *session.Session) func() string {
	return func() string {
		if scope := viper.GetString("tenant"); scope != "" {
			return scope
		}
		return sess.TenantScope()
	}
}

func parseStatus(s string) (domain.StepStatus, error) {
	switch strings.ToLower(s) {
	case "planned":
		return domain.StatusPlanned, nil
	case "in_progress", "in-progress":
		return domain.StatusInProgress, nil
	case "completed":
		return domain.StatusCompleted, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

func parsePriority(s string) (domain.Priority, error) {
	switch strings.ToLower(s) {
	case "short-term", "short":
		return domain.PriorityShortTerm, nil
	case "mid-term", "mid":
		return domain.PriorityMidTerm, nil
	case "long-term", "long":
		return domain.PriorityLongTerm, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
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
