package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline is a personal task tracker.
- Tasks: standalone work items with an optional time window (start + minutes).
- Epics: groups of subtasks; an epic's status and time span always follow its subtasks.
- Subtasks: belong to exactly one epic; deleting the epic deletes them.
- Windows never overlap; touching end-to-start is fine.
- History: every get/show is remembered, most recent last ('tl history').
- Prioritized: scheduled tasks and subtasks by start time ('tl prioritized').
State lives in the workspace (taskline.yml picks memory, csv or sqlite storage);
pass --server to talk to a running 'tl serve' instead.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("server", "", "base URL of a running tl serve (e.g. http://127.0.0.1:8080)")
	pf.String("backend", "", "storage backend override: memory, csv or sqlite")
	pf.String("base-path", "", "API base path (default from config, /v0)")
	pf.BoolP("verbose", "v", false, "debug logging to stderr")
	for _, name := range []string{"workspace", "json", "server", "backend", "base-path", "verbose"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(epicCmd())
	rootCmd.AddCommand(subtaskCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(prioritizedCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// scheduleFlags are shared by tasks and subtasks.
type scheduleFlags struct {
	start   string
	minutes int
	clear   bool
}

func (f *scheduleFlags) register(fs *pflag.FlagSet, withClear bool) {
	fs.StringVar(&f.start, "start", "", `start time, RFC3339 or "2006-01-02 15:04" local`)
	fs.IntVar(&f.minutes, "duration", 0, "duration in minutes")
	if withClear {
		fs.BoolVar(&f.clear, "unschedule", false, "remove the time window")
	}
}

// apply returns the schedule after the flags; cur is kept when no schedule
// flag was given.
func (f *scheduleFlags) apply(fs *pflag.FlagSet, cur *domain.Schedule) (*domain.Schedule, error) {
	if f.clear {
		return nil, nil
	}
	if !fs.Changed("start") && !fs.Changed("duration") {
		return cur, nil
	}
	next := domain.Schedule{}
	if cur != nil {
		next = *cur
	}
	if fs.Changed("start") {
		t, err := parseStart(f.start)
		if err != nil {
			return nil, err
		}
		next.Start = t
	} else if cur == nil {
		return nil, errors.New("--duration needs --start")
	}
	if fs.Changed("duration") {
		next.Minutes = f.minutes
	}
	return &next, nil
}

func parseStart(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --start %q: use RFC3339 or \"2006-01-02 15:04\"", s)
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func parseStatusFlag(s string) (domain.Status, error) {
	if s == "" {
		return "", nil
	}
	return domain.ParseStatus(s)
}

// --- tasks ---

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskGetCmd())
	cmd.AddCommand(taskUpdateCmd())
	cmd.AddCommand(taskDeleteCmd())
	cmd.AddCommand(clearCmd("Delete all tasks", func(ctx context.Context, tr tracker) error { return tr.ClearTasks(ctx) }))
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var name, desc, status string
	var sf scheduleFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseStatusFlag(status)
			if err != nil {
				return err
			}
			sched, err := sf.apply(cmd.Flags(), nil)
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				t, err := tr.CreateTask(ctx, domain.Task{Name: name, Description: desc, Status: st, Schedule: sched})
				if err != nil {
					return err
				}
				return printEntity(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "NEW, IN_PROGRESS or DONE (default NEW)")
	sf.register(cmd.Flags(), false)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				tasks, err := tr.ListTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				return printEntities(asEntities(tasks))
			})
		},
	}
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task (recorded in history)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				t, err := tr.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printEntity(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var name, desc, status string
	var sf scheduleFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := parseStatusFlag(status)
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				tasks, err := tr.ListTasks(ctx)
				if err != nil {
					return err
				}
				cur, ok := findByID(tasks, id)
				if !ok {
					return fmt.Errorf("task %d not found", id)
				}
				if cmd.Flags().Changed("name") {
					cur.Name = name
				}
				if cmd.Flags().Changed("description") {
					cur.Description = desc
				}
				if st != "" {
					cur.Status = st
				}
				if cur.Schedule, err = sf.apply(cmd.Flags(), cur.Schedule); err != nil {
					return err
				}
				t, err := tr.UpdateTask(ctx, cur)
				if err != nil {
					return err
				}
				return printEntity(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "NEW, IN_PROGRESS or DONE")
	sf.register(cmd.Flags(), true)
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return deleteCmd("Delete a task", func(ctx context.Context, tr tracker, id int) error {
		_, err := tr.DeleteTask(ctx, id)
		return err
	})
}

// --- epics ---

func epicCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "epic", Short: "Manage epics"}
	cmd.AddCommand(epicCreateCmd())
	cmd.AddCommand(epicListCmd())
	cmd.AddCommand(epicGetCmd())
	cmd.AddCommand(epicUpdateCmd())
	cmd.AddCommand(epicSubtasksCmd())
	cmd.AddCommand(deleteCmd("Delete an epic and all its subtasks", func(ctx context.Context, tr tracker, id int) error {
		_, err := tr.DeleteEpic(ctx, id)
		return err
	}))
	cmd.AddCommand(clearCmd("Delete all epics and subtasks", func(ctx context.Context, tr tracker) error { return tr.ClearEpics(ctx) }))
	return cmd
}

func epicCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an epic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				ep, err := tr.CreateEpic(ctx, domain.Epic{Name: name, Description: desc})
				if err != nil {
					return err
				}
				return printEntity(ep)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "epic name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func epicListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List epics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				epics, err := tr.ListEpics(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(epics)
				}
				return printEntities(asEntities(epics))
			})
		},
	}
}

func epicGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show an epic (recorded in history)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				ep, err := tr.GetEpic(ctx, id)
				if err != nil {
					return err
				}
				return printEntity(ep)
			})
		},
	}
}

func epicUpdateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename or describe an epic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				epics, err := tr.ListEpics(ctx)
				if err != nil {
					return err
				}
				cur, ok := findByID(epics, id)
				if !ok {
					return fmt.Errorf("epic %d not found", id)
				}
				if cmd.Flags().Changed("name") {
					cur.Name = name
				}
				if cmd.Flags().Changed("description") {
					cur.Description = desc
				}
				ep, err := tr.UpdateEpic(ctx, cur)
				if err != nil {
					return err
				}
				return printEntity(ep)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "epic name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func epicSubtasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subtasks <id>",
		Short: "List the subtasks of an epic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				subs, err := tr.EpicSubtasks(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(subs)
				}
				return printEntities(asEntities(subs))
			})
		},
	}
}

// --- subtasks ---

func subtaskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "subtask", Short: "Manage subtasks"}
	cmd.AddCommand(subtaskCreateCmd())
	cmd.AddCommand(subtaskListCmd())
	cmd.AddCommand(subtaskGetCmd())
	cmd.AddCommand(subtaskUpdateCmd())
	cmd.AddCommand(deleteCmd("Delete a subtask", func(ctx context.Context, tr tracker, id int) error {
		_, err := tr.DeleteSubtask(ctx, id)
		return err
	}))
	cmd.AddCommand(clearCmd("Delete all subtasks", func(ctx context.Context, tr tracker) error { return tr.ClearSubtasks(ctx) }))
	return cmd
}

func subtaskCreateCmd() *cobra.Command {
	var name, desc, status string
	var epicID int
	var sf scheduleFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a subtask in an epic",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseStatusFlag(status)
			if err != nil {
				return err
			}
			sched, err := sf.apply(cmd.Flags(), nil)
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				s, err := tr.CreateSubtask(ctx, domain.Subtask{EpicID: epicID, Name: name, Description: desc, Status: st, Schedule: sched})
				if err != nil {
					return err
				}
				return printEntity(s)
			})
		},
	}
	cmd.Flags().IntVar(&epicID, "epic", 0, "epic id")
	cmd.Flags().StringVar(&name, "name", "", "subtask name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "NEW, IN_PROGRESS or DONE (default NEW)")
	sf.register(cmd.Flags(), false)
	_ = cmd.MarkFlagRequired("epic")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func subtaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List subtasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				subs, err := tr.ListSubtasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(subs)
				}
				return printEntities(asEntities(subs))
			})
		},
	}
}

func subtaskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a subtask (recorded in history)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				s, err := tr.GetSubtask(ctx, id)
				if err != nil {
					return err
				}
				return printEntity(s)
			})
		},
	}
}

func subtaskUpdateCmd() *cobra.Command {
	var name, desc, status string
	var sf scheduleFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a subtask; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := parseStatusFlag(status)
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				subs, err := tr.ListSubtasks(ctx)
				if err != nil {
					return err
				}
				cur, ok := findByID(subs, id)
				if !ok {
					return fmt.Errorf("subtask %d not found", id)
				}
				if cmd.Flags().Changed("name") {
					cur.Name = name
				}
				if cmd.Flags().Changed("description") {
					cur.Description = desc
				}
				if st != "" {
					cur.Status = st
				}
				if cur.Schedule, err = sf.apply(cmd.Flags(), cur.Schedule); err != nil {
					return err
				}
				s, err := tr.UpdateSubtask(ctx, cur)
				if err != nil {
					return err
				}
				return printEntity(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "subtask name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "NEW, IN_PROGRESS or DONE")
	sf.register(cmd.Flags(), true)
	return cmd
}

// --- shared ---

func deleteCmd(short string, del func(context.Context, tracker, int) error) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				if err := del(ctx, tr, id); err != nil {
					return err
				}
				fmt.Printf("Deleted %d\n", id)
				return nil
			})
		},
	}
}

func clearCmd(short string, run func(context.Context, tracker) error) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), run)
		},
	}
}

func findByID[T domain.Entity](items []T, id int) (T, bool) {
	for _, it := range items {
		if it.EntityID() == id {
			return it, true
		}
	}
	var zero T
	return zero, false
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task, epic or subtask by id (recorded in history)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				ent, err := show(ctx, tr, id)
				if err != nil {
					return err
				}
				return printEntity(ent)
			})
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Recently viewed entities, most recent last",
		Long: `Views are remembered for the life of the process that served them:
a local tl run starts with an empty history, a tl serve keeps it until it stops.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				ents, err := tr.History(ctx)
				if err != nil {
					return err
				}
				return printEntities(ents)
			})
		},
	}
}

func prioritizedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prioritized",
		Short: "Scheduled tasks and subtasks by start time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				ents, err := tr.Prioritized(ctx)
				if err != nil {
					return err
				}
				return printEntities(ents)
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage taskline.yml"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Mutation event log (sqlite backend)"}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tr tracker) error {
				evts, err := tr.Events(ctx, n)
				if err != nil {
					return err
				}
				return printEvents(evts)
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.AddCommand(tail)
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			logger := newLogger()
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: cfg.Server.BasePath,
				Events:   a.Events,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config, 127.0.0.1:8080)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}
