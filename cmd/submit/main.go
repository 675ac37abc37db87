package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"submit/internal/config"
	"submit/internal/db"
	"submit/internal/domain"
	"submit/internal/engine"
	"submit/internal/logging"
	"submit/internal/migrate"
	"submit/internal/notify"
	"submit/internal/repo"
	"submit/internal/server"
	submitsdk "submit/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit CLI",
	Long: `Submit keeps people to their own commitments.
Core concepts:
- Pledge: a one-time acknowledgment of the terms and penalties; nothing else works before it.
- Project: a recurring commitment with a frequency (daily, weekly, biweekly, monthly, custom) and a penalty amount.
- Submission: proof of work for a project, sent from the API or as a LINE chat message.
- Judgment: after each period ends, a project either had a submission or it missed and a penalty is recorded.
- Reminders: morning, evening and urgent LINE messages about today's deadlines and recent misses.
- Event log: every change is written to an audit log; hooks forward it to other services.`,
	SilenceUsage: true,
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
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
	viper.SetEnvPrefix("SUBMIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (YAML)")
	flags.Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	for _, o := range config.Overrides {
		flags.String(o.Key, "", o.Usage)
		_ = viper.BindPFlag(o.Key, flags.Lookup(o.Key))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(judgeCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(penaltyCmd())
	rootCmd.AddCommand(logCmd())
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(applied)
			}
			if len(applied) == 0 {
				fmt.Println("Database is up to date")
				return nil
			}
			for _, a := range applied {
				fmt.Printf("Applied %03d %s\n", a.Version, a.Name)
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, err := migrate.Status(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(applied)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Version", "Name", "Applied At"})
			for _, a := range applied {
				tw.AppendRow(table.Row{a.Version, a.Name, a.AppliedAt})
			}
			fmt.Println(tw.Render())
			return nil
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("Config is valid")
			return nil
		},
	})
	return cfgCmd
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(userCreateCmd())
	usr.AddCommand(userShowCmd())
	usr.AddCommand(userTokenCmd())
	usr.AddCommand(userPledgeCmd())
	usr.AddCommand(userLinkCmd())
	return usr
}

func userCreateCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user (or return the existing one)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.EnsureUser(ctx, email, name)
				if err != nil {
					return err
				}
				return printUser(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <email>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := userByEmail(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printUser(u)
			})
		},
	}
}

func userTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <email>",
		Short: "Mint a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := userByEmail(ctx, e, args[0])
				if err != nil {
					return err
				}
				token, err := server.SignToken(e.Config.Server.JWTSecret, u.ID, ttl)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"user_id": u.ID, "token": token})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", server.DefaultTokenTTL, "token lifetime")
	return cmd
}

func userPledgeCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "pledge <email>",
		Short: "Record the pledge for a user who agreed out of band",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := userByEmail(ctx, e, args[0])
				if err != nil {
					return err
				}
				p, err := e.Pledge(ctx, u.ID, engine.PledgeOptions{
					PledgeText:      text,
					AgreedToTerms:   true,
					AgreedToPenalty: true,
					AgreedToLine:    true,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Pledge recorded for %s\n", u.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "I will keep my commitments.", "pledge text")
	return cmd
}

func userLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link-line <email> <line-user-id>",
		Short: "Link a LINE account to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := userByEmail(ctx, e, args[0])
				if err != nil {
					return err
				}
				u, err = e.LinkLine(ctx, u.ID, args[1])
				if err != nil {
					return err
				}
				return printUser(u)
			})
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var email, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--user required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := userByEmail(ctx, e, email)
				if err != nil {
					return err
				}
				items, err := e.ListProjects(ctx, u.ID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Frequency", "Penalty", "Status", "Next Judgment", "Submitted", "Missed"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Frequency, notify.Yen(p.PenaltyAmount), p.Status, formatDate(p.NextJudgmentDate), p.SubmissionCount, p.MissedCount})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "user", "", "owner email")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var email, name, desc, frequency string
	var day, customDays, penalty int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || name == "" {
				return fmt.Errorf("--user and --name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := userByEmail(ctx, e, email)
				if err != nil {
					return err
				}
				opts := engine.ProjectCreateOptions{
					UserID:      u.ID,
					Name:        name,
					Description: desc,
					Frequency:   frequency,
				}
				if cmd.Flags().Changed("day") {
					opts.JudgmentDay = &day
				}
				if cmd.Flags().Changed("custom-days") {
					opts.CustomDays = &customDays
				}
				if cmd.Flags().Changed("penalty") {
					opts.PenaltyAmount = &penalty
				}
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Created project %s (%s), first judgment %s\n", p.Name, p.ID, formatDate(p.NextJudgmentDate))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "user", "", "owner email")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&frequency, "frequency", "daily", "daily, weekly, biweekly, monthly or custom")
	cmd.Flags().IntVar(&day, "day", 0, "judgment weekday for weekly/biweekly (0=Sunday)")
	cmd.Flags().IntVar(&customDays, "custom-days", 0, "period length in days for custom")
	cmd.Flags().IntVar(&penalty, "penalty", 0, "penalty amount in yen")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func judgeCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Judge every project whose period has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if projectID != "" {
					out, err := e.JudgeProject(ctx, projectID)
					if err != nil {
						return err
					}
					return printJSON(out)
				}
				sum, err := e.RunJudgment(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				fmt.Printf("Judged %d projects: %d submitted, %d missed, %d skipped, %d errors\n",
					sum.Processed, sum.Submitted, sum.Missed, sum.Skipped, sum.Errors)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "judge a single project")
	return cmd
}

func remindCmd() *cobra.Command {
	var dryRun bool
	rem := &cobra.Command{Use: "remind", Short: "Send reminders"}
	for _, job := range []string{server.JobMorning, server.JobEvening, server.JobUrgent} {
		job := job
		rem.AddCommand(&cobra.Command{
			Use:   job,
			Short: fmt.Sprintf("Send the %s reminder", job),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					var rec *notify.Recorder
					if dryRun {
						rec = &notify.Recorder{}
						e.Notifier = rec
						e.Sleep = func(time.Duration) {}
					}
					res, err := server.RunJob(ctx, e, job)
					if err != nil {
						return err
					}
					if rec != nil {
						for _, m := range rec.Messages() {
							fmt.Printf("--- to %s ---\n%s\n", m.To, m.Text)
						}
					}
					return printJSON(res)
				})
			},
		})
	}
	rem.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print messages instead of sending them")
	return rem
}

func triggerCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:       "trigger <job>",
		Short:     "Trigger a job on a running server",
		Args:      cobra.ExactArgs(1),
		ValidArgs: server.Jobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.CronSecret == "" {
				return fmt.Errorf("cron secret is required (--cron-secret or SUBMIT_CRON_SECRET)")
			}
			client := submitsdk.New(baseURL)
			client.BasePath = cfg.Server.BasePath
			client.CronSecret = cfg.Server.CronSecret
			res, err := client.TriggerJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "server URL")
	return cmd
}

func penaltyCmd() *cobra.Command {
	pen := &cobra.Command{Use: "penalty", Short: "Inspect and settle penalties"}
	pen.AddCommand(penaltyListCmd())
	pen.AddCommand(penaltySetStatusCmd())
	return pen
}

func penaltyListCmd() *cobra.Command {
	var email, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List penalties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.PenaltyFilter{Status: status, Limit: limit}
				if email != "" {
					u, err := userByEmail(ctx, e, email)
					if err != nil {
						return err
					}
					f.UserID = u.ID
				}
				if status != "" && !domain.ValidPenaltyStatus(status) {
					return fmt.Errorf("unknown status %q", status)
				}
				items, err := e.Repo.ListPenalties(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "User", "Amount", "Status", "Reason", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.UserID, notify.Yen(p.Amount), p.Status, p.Reason, p.CreatedAt.Format(time.DateTime)})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "user", "", "owner email")
	cmd.Flags().StringVar(&status, "status", "", "pending, completed or failed")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func penaltySetStatusCmd() *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "set-status <penalty-id> <status>",
		Short: "Record the outcome of a penalty capture",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdatePenaltyStatus(ctx, args[0], args[1], ref, "cli")
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "payment reference")
	return cmd
}

func logCmd() *cobra.Command {
	var n int
	var after int64
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print audit events in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.EventsAfter(ctx, n, after)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 50, "number of events")
	cmd.Flags().Int64Var(&after, "after", 0, "only events after this id")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	return db.Open(db.Config{Path: cfg.DBPath, DataDir: cfg.DataDir})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()
	conn, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	e := engine.New(conn, cfg, notify.NewLineClient(cfg.Line.APIBase, cfg.Line.ChannelAccessToken, log), log)
	return fn(ctx, e)
}

func userByEmail(ctx context.Context, e engine.Engine, email string) (domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repo.ErrNotFound) {
		return u, fmt.Errorf("no user with email %s", email)
	}
	return u, err
}

func printUser(u domain.User) error {
	if viper.GetBool("json") {
		return printJSON(u)
	}
	line := "-"
	if u.LineUserID != nil {
		line = *u.LineUserID
	}
	pledged := "no"
	if u.Pledged() {
		pledged = u.PledgedAt.Format(time.DateTime)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", u.ID},
		{"Email", u.Email},
		{"Name", u.Name},
		{"LINE", line},
		{"Timezone", u.Timezone},
		{"Pledged", pledged},
	})
	fmt.Println(tw.Render())
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateTime)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
