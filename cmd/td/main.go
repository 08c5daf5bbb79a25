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

	"todoline/internal/app"
	"todoline/internal/config"
	"todoline/internal/db"
	"todoline/internal/domain"
	"todoline/internal/engine"
	"todoline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "td",
	Short: "Todoline CLI",
	Long: `Todoline keeps a to-do list in the current workspace.
- Tasks are either active or completed; "td list" shows active tasks first, numbered.
- Refer to a task by its number, its id, or a unique id prefix.
- Every change is recorded in the history; "td undo" and "td redo" walk it.
- State lives in .todoline/todoline.db; settings in todoline.yml (or todoline.toml).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("ephemeral") {
			return nil
		}
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
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
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TODOLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/todoline.yml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().Bool("ephemeral", false, "keep state in memory only")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("ephemeral", rootCmd.PersistentFlags().Lookup("ephemeral"))
}

func registerCommands() {
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(completeCmd("done", "Mark tasks completed", true))
	rootCmd.AddCommand(completeCmd("reopen", "Mark tasks active again", false))
	rootCmd.AddCommand(completeAllCmd())
	rootCmd.AddCommand(removeCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(undoCmd())
	rootCmd.AddCommand(redoCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(storageCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(serveCmd())
}

func addCmd() *cobra.Command {
	var description string
	var appendTask bool
	cmd := &cobra.Command{
		Use:   "add <label>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				opts := engine.AddOptions{Label: strings.Join(args, " "), Description: description}
				if appendTask {
					opts.Insert = config.InsertAppend
				}
				t, err := w.Engine.Add(opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "description")
	cmd.Flags().BoolVar(&appendTask, "append", false, "add at the bottom instead of the configured position")
	return cmd
}

func listCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				tasks := w.Engine.Ordered()
				if group != "" {
					g, err := domain.ParseGroup(group)
					if err != nil {
						return err
					}
					tasks = filterGroup(tasks, g)
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				if len(tasks) == 0 {
					fmt.Println(emptyMessage(w.Engine))
					return nil
				}
				printTasks(tasks, w.Engine.Ordered())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "only list one group (active|completed)")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <ref>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				t, err := w.Engine.Resolve(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func editCmd() *cobra.Command {
	var label, description string
	cmd := &cobra.Command{
		Use:   "edit <ref>",
		Short: "Edit a task's label or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.TaskPatch
			if cmd.Flags().Changed("label") {
				patch.Label = &label
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if patch.Empty() {
				return fmt.Errorf("nothing to change; use --label or --description")
			}
			return withWorkspace(func(w *app.Workspace) error {
				t, err := w.Engine.Resolve(args[0])
				if err != nil {
					return err
				}
				updated, changed, err := w.Engine.Edit(t.ID, patch)
				if err != nil {
					return err
				}
				if !changed {
					return printResult("unchanged", false)
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "new label")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	return cmd
}

func completeCmd(use, short string, completed bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <ref>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				tasks, err := resolveAll(w.Engine, app.SplitRefs(args))
				if err != nil {
					return err
				}
				n := 0
				for _, t := range tasks {
					if w.Engine.SetCompleted(t.ID, completed) {
						n++
					}
				}
				return printCount(use, n)
			})
		},
	}
}

func completeAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete-all",
		Short: "Mark every active task completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				return printCount("completed", w.Engine.CompleteAll())
			})
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <ref>...",
		Aliases: []string{"delete"},
		Short:   "Delete tasks",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				tasks, err := resolveAll(w.Engine, app.SplitRefs(args))
				if err != nil {
					return err
				}
				ids := make([]string, 0, len(tasks))
				for _, t := range tasks {
					ids = append(ids, t.ID)
				}
				return printCount("deleted", w.Engine.RemoveMany(ids))
			})
		},
	}
}

func clearCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every task, or every task of one group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				if group == "" {
					return printCount("deleted", w.Engine.Clear())
				}
				g, err := domain.ParseGroup(group)
				if err != nil {
					return err
				}
				return printCount("deleted", w.Engine.ClearGroup(g))
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "only clear one group (active|completed)")
	return cmd
}

func moveCmd() *cobra.Command {
	var up, down, top, bottom bool
	var to int
	cmd := &cobra.Command{
		Use:   "move <ref>",
		Short: "Reorder a task within its group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := 0
			for _, b := range []bool{up, down, top, bottom, cmd.Flags().Changed("to")} {
				if b {
					selected++
				}
			}
			if selected != 1 {
				return fmt.Errorf("use exactly one of --up, --down, --top, --bottom or --to")
			}
			return withWorkspace(func(w *app.Workspace) error {
				t, err := w.Engine.Resolve(args[0])
				if err != nil {
					return err
				}
				var moved bool
				switch {
				case up:
					moved = w.Engine.MoveUp(t.ID)
				case down:
					moved = w.Engine.MoveDown(t.ID)
				case top:
					moved = w.Engine.MoveToTop(t.ID)
				case bottom:
					moved = w.Engine.MoveToBottom(t.ID)
				default:
					if to < 1 {
						return fmt.Errorf("--to must be >= 1")
					}
					moved = w.Engine.MoveTo(t.ID, to-1)
				}
				return printResult("moved", moved)
			})
		},
	}
	cmd.Flags().BoolVar(&up, "up", false, "move one position up")
	cmd.Flags().BoolVar(&down, "down", false, "move one position down")
	cmd.Flags().BoolVar(&top, "top", false, "move to the top")
	cmd.Flags().BoolVar(&bottom, "bottom", false, "move to the bottom")
	cmd.Flags().IntVar(&to, "to", 0, "move to a 1-based position within the group")
	return cmd
}

func undoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Undo the last change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				return printResult("undone", w.Engine.Undo())
			})
		},
	}
}

func redoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redo",
		Short: "Redo the last undone change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				return printResult("redone", w.Engine.Redo())
			})
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the change history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				snaps := w.Engine.History()
				current := w.Engine.HistoryIndex()
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": snaps, "index": current})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"", "ID", "When", "Action", "Tasks"})
				for i, s := range snaps {
					marker := ""
					if i == current {
						marker = "*"
					}
					tw.AppendRow(table.Row{marker, s.ID, s.CreatedAt.Local().Format(time.DateTime), s.Message, len(s.Value)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func restoreCmd() *cobra.Command {
	var offset int
	cmd := &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Restore the list to a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				if _, ok := w.Engine.Snapshot(args[0]); !ok {
					return fmt.Errorf("snapshot %s: %w", args[0], engine.ErrNotFound)
				}
				return printResult("restored", w.Engine.Restore(args[0], offset))
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "restore the snapshot this many positions away (-1 = the one before)")
	return cmd
}

func exportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export tasks as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				doc := w.Engine.Export()
				if doc.Tasks == nil {
					doc.Tasks = []domain.Task{}
				}
				b, err := json.MarshalIndent(doc, "", "  ")
				if err != nil {
					return err
				}
				if file == "" || file == "-" {
					fmt.Println(string(b))
					return nil
				}
				return os.WriteFile(file, append(b, '\n'), 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "output file (default stdout)")
	return cmd
}

func importCmd() *cobra.Command {
	var file, mode string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import tasks from an export file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			doc, err := engine.ParseDocument(data)
			if err != nil {
				return err
			}
			return withWorkspace(func(w *app.Workspace) error {
				n, err := w.Engine.Import(doc, mode)
				if err != nil {
					return err
				}
				return printCount("imported", n)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "export file to read")
	cmd.Flags().StringVar(&mode, "mode", engine.ImportReplace, "replace|append")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.Path(viper.GetString("workspace"))
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(configPath())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config %s already exists; use --force to overwrite", path)
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
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Println("config ok:", path)
			return nil
		},
	}
}

func storageCmd() *cobra.Command {
	st := &cobra.Command{Use: "storage", Short: "Inspect stored state"}
	st.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List stored keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				entries, err := w.Keys(cmd.Context())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Bytes", "Updated"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.Key, e.Bytes, e.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return st
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all stored tasks and history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("this deletes every task and the whole history; rerun with --yes")
			}
			return withWorkspace(func(w *app.Workspace) error {
				n, err := w.Reset(cmd.Context())
				if err != nil {
					return err
				}
				return printCount("keys deleted", int(n))
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(w *app.Workspace) error {
				if !cmd.Flags().Changed("addr") {
					addr = w.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && w.Config.Server.BasePath != "" {
					basePath = w.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret")}
				if authCfg.JWTSecret == "" {
					authCfg.JWTSecret = w.Config.Server.JWTSecret
				}
				handler, err := server.New(server.Config{Engine: w.Engine, BasePath: basePath, Auth: authCfg, Logger: w.Logger})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-cmd.Context().Done()
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(ctx)
				}()
				if !authCfg.Enabled() {
					w.Logger.Warn("bearer auth disabled; set TODOLINE_JWT_SECRET to require tokens")
				}
				fmt.Printf("Serving Todoline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withWorkspace(fn func(*app.Workspace) error) error {
	w, err := app.Open(app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Ephemeral:  viper.GetBool("ephemeral"),
		LogLevel:   viper.GetString("log-level"),
	})
	if err != nil {
		return err
	}
	defer w.Close()
	if err := fn(w); err != nil {
		return err
	}
	return w.CheckStorage()
}

func resolveAll(e *engine.Engine, refs []string) ([]domain.Task, error) {
	// Resolve every ref up front so positions refer to the list as shown.
	out := make([]domain.Task, 0, len(refs))
	for _, ref := range refs {
		t, err := e.Resolve(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func filterGroup(tasks []domain.Task, g domain.Group) []domain.Task {
	var out []domain.Task
	for _, t := range tasks {
		if domain.GroupOf(t) == g {
			out = append(out, t)
		}
	}
	return out
}

func emptyMessage(e *engine.Engine) string {
	if len(e.Completed()) > 0 && len(e.Active()) == 0 {
		return "Congrats! Everything is done."
	}
	return "Nothing to do! Add a task with: td add <label>"
}

func printTasks(tasks, ordered []domain.Task) {
	position := make(map[string]int, len(ordered))
	for i, t := range ordered {
		position[t.ID] = i + 1
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "ID", "Label", "Done"})
	for _, t := range tasks {
		done := ""
		if t.Completed {
			done = "x"
		}
		tw.AppendRow(table.Row{position[t.ID], shortID(t.ID), t.Label, done})
	}
	tw.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printResult(action string, changed bool) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"changed": changed})
	}
	if changed {
		fmt.Println(action)
	} else {
		fmt.Println("nothing to do")
	}
	return nil
}

func printCount(action string, n int) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"changed": n > 0, "count": n})
	}
	fmt.Printf("%s: %d\n", action, n)
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	if t, ok := v.(domain.Task); ok {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendRows([]table.Row{
			{"ID", t.ID},
			{"Label", t.Label},
			{"Description", t.Description},
			{"Completed", t.Completed},
		})
		tw.Render()
		return nil
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
