package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"teamline/internal/app"
	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/repo"
	"teamline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Teamline CLI",
	Long: `Teamline tracks multi-tenant projects, members and tasks.
Core concepts:
- Users: registered accounts with a unique username and an app role.
- Projects: each has exactly one owner plus admins and members; ownership
  moves only through an explicit transfer.
- Tasks: todo -> in_progress -> done (any direction); every change is
  recorded in an append-only status history.
- Event log: diary of changes, view with 'tl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TEAMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "acting username")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- users ---

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(userAddCmd())
	usr.AddCommand(userListCmd())
	return usr
}

func userAddCmd() *cobra.Command {
	var username, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateUser(ctx, username, domain.AppRole(role))
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&role, "role", "member", "app role (admin, member)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	return cmd
}

// --- projects ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectArchiveCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectTransferCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var name, desc, start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project (the acting user becomes owner)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				p, err := e.CreateProject(ctx, actor, engine.ProjectCreateOptions{
					Name:        name,
					Description: desc,
					StartDate:   start,
					EndDate:     end,
				})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&start, "start", "", "start date (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "end date (RFC3339)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				identity := domain.Identity{}
				if !all {
					actor, err := resolveActor(ctx, e)
					if err != nil {
						return err
					}
					identity = actor
				}
				items, err := e.ListProjects(ctx, identity)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Owner", "Members", "Archived"})
				for _, p := range items {
					owner := ""
					if o, ok := p.Owner(); ok {
						owner = o.Username
					}
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, owner, len(p.Members), p.Archived})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every project, not just the actor's")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				p, err := e.GetProject(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, desc, status, start, end string
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Update project metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				opts := engine.ProjectUpdateOptions{}
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &desc
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				if cmd.Flags().Changed("start") {
					opts.StartDate = &start
				}
				if cmd.Flags().Changed("end") {
					opts.EndDate = &end
				}
				p, err := e.UpdateProject(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (pending, done, failed)")
	cmd.Flags().StringVar(&start, "start", "", "start date (RFC3339, empty clears)")
	cmd.Flags().StringVar(&end, "end", "", "end date (RFC3339, empty clears)")
	return cmd
}

func projectArchiveCmd() *cobra.Command {
	var unarchive bool
	cmd := &cobra.Command{
		Use:   "archive <project-id>",
		Short: "Archive or unarchive a project (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				p, err := e.SetArchived(ctx, actor, args[0], !unarchive)
				if errors.Is(err, domain.ErrNoOp) {
					fmt.Println("nothing to do")
					return printJSON(p)
				}
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().BoolVar(&unarchive, "undo", false, "unarchive instead")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				if err := e.DeleteProject(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func projectTransferCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "transfer <project-id>",
		Short: "Transfer ownership to another member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				p, err := e.TransferOwnership(ctx, actor, args[0], target)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "target member username")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// --- members ---

func memberCmd() *cobra.Command {
	mem := &cobra.Command{Use: "member", Short: "Manage project members"}
	mem.AddCommand(memberAddCmd())
	mem.AddCommand(memberRemoveCmd())
	mem.AddCommand(memberRoleCmd())
	mem.AddCommand(memberLeaveCmd())
	mem.AddCommand(memberListCmd())
	return mem
}

func memberAddCmd() *cobra.Command {
	var username, role string
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Add a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				m, err := e.AddMember(ctx, actor, args[0], username, domain.ProjectRole(role))
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username to add")
	cmd.Flags().StringVar(&role, "role", "member", "project role (admin, member)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "remove <project-id>",
		Short: "Remove a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				if err := e.RemoveMember(ctx, actor, args[0], username); err != nil {
					return err
				}
				fmt.Println("removed", username)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username to remove")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func memberRoleCmd() *cobra.Command {
	var username, role string
	cmd := &cobra.Command{
		Use:   "role <project-id>",
		Short: "Change a member's role (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				m, err := e.ChangeMemberRole(ctx, actor, args[0], username, domain.ProjectRole(role))
				if errors.Is(err, domain.ErrNoOp) {
					fmt.Println("nothing to do")
					return nil
				}
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "member username")
	cmd.Flags().StringVar(&role, "role", "", "new role (admin, member)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func memberLeaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leave <project-id>",
		Short: "Leave a project (owner must transfer first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				if err := e.LeaveProject(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Println("left", args[0])
				return nil
			})
		},
	}
	return cmd
}

func memberListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List project members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				p, err := e.GetProject(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p.Members)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Username", "Role", "Added By", "Added At"})
				for _, m := range p.Members {
					tw.AppendRow(table.Row{m.Username, m.Role, m.AddedBy, m.AddedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// --- tasks ---

func taskCmd() *cobra.Command {
	tsk := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tsk.AddCommand(taskCreateCmd())
	tsk.AddCommand(taskListCmd())
	tsk.AddCommand(taskShowCmd())
	tsk.AddCommand(taskStatusCmd())
	tsk.AddCommand(taskPriorityCmd())
	tsk.AddCommand(taskDueCmd())
	tsk.AddCommand(taskAssignCmd())
	tsk.AddCommand(taskLabelsCmd())
	tsk.AddCommand(taskDeleteCmd())
	tsk.AddCommand(taskHistoryCmd())
	return tsk
}

func taskCreateCmd() *cobra.Command {
	var project, title, desc, priority, due, assignee string
	var labels []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				t, err := e.CreateTask(ctx, actor, engine.TaskCreateOptions{
					ProjectID:        project,
					Title:            title,
					Description:      desc,
					Priority:         domain.TaskPriority(priority),
					DueDate:          due,
					AssigneeUsername: assignee,
					Labels:           labels,
				})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, medium, high)")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee username (must be a member)")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "label (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var project, status, priority, assignee, label string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				items, err := e.ListTasks(ctx, actor, repo.TaskFilters{
					ProjectID:        project,
					Status:           status,
					Priority:         priority,
					AssigneeUsername: assignee,
					Label:            label,
					Limit:            limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Due"})
				for _, t := range items {
					assignee := ""
					if t.AssigneeUsername != nil {
						assignee = *t.AssigneeUsername
					}
					due := ""
					if t.DueDate != nil {
						due = *t.DueDate
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, assignee, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&label, "label", "", "label filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				t, err := e.GetTask(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				t, err := e.ChangeStatus(ctx, actor, args[0], domain.TaskStatus(status))
				if errors.Is(err, domain.ErrNoOp) {
					fmt.Println("nothing to do")
					return printJSON(t)
				}
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "to", "", "new status (todo, in_progress, done)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskPriorityCmd() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "priority <task-id>",
		Short: "Change task priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				t, err := e.SetPriority(ctx, actor, args[0], domain.TaskPriority(priority))
				if errors.Is(err, domain.ErrNoOp) {
					fmt.Println("nothing to do")
					return printJSON(t)
				}
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&priority, "to", "", "new priority (low, medium, high)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskDueCmd() *cobra.Command {
	var due string
	cmd := &cobra.Command{
		Use:   "due <task-id>",
		Short: "Set or clear the due date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				t, err := e.SetDueDate(ctx, actor, args[0], due)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&due, "date", "", "due date (empty clears)")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign or unassign a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				t, err := e.Reassign(ctx, actor, args[0], username)
				if errors.Is(err, domain.ErrNoOp) {
					fmt.Println("nothing to do")
					return printJSON(t)
				}
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&username, "to", "", "assignee username (empty unassigns)")
	return cmd
}

func taskLabelsCmd() *cobra.Command {
	var labels []string
	cmd := &cobra.Command{
		Use:   "labels <task-id>",
		Short: "Replace task labels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				t, err := e.SetLabels(ctx, actor, args[0], labels)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringSliceVar(&labels, "label", nil, "label (repeatable; none clears)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				if err := e.DeleteTask(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func taskHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show the task's status audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Identity) error {
				history, err := e.TaskHistory(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(history)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"From", "To", "At", "By"})
				for _, c := range history {
					tw.AppendRow(table.Row{c.From, c.To, c.At, c.By})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// --- events ---

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var project, evtType string
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, 0, project, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				renderEventsTable(os.Stdout, events)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&project, "project", "", "project id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			appCtx, err := app.Bootstrap(workspace)
			if err != nil {
				return err
			}
			defer appCtx.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("TEAMLINE_JWT_SECRET"),
				AllowLegacyActorHeader: appCtx.Config.Server.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = appCtx.Config.Server.JWTSecret
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TEAMLINE_JWT_SECRET is required for bearer auth")
			}
			if basePath == "" {
				basePath = appCtx.Config.Server.BasePath
			}
			if addr == "" {
				addr = appCtx.Config.Server.Listen
			}
			handler, err := server.New(server.Config{Engine: appCtx.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(appCtx.Engine, appCtx.Config.Webhooks)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Teamline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	appCtx, err := app.Bootstrap(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Engine)
}

func withActor(ctx context.Context, fn func(context.Context, engine.Engine, domain.Identity) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		actor, err := resolveActor(ctx, e)
		if err != nil {
			return err
		}
		return fn(ctx, e, actor)
	})
}

func resolveActor(ctx context.Context, e engine.Engine) (domain.Identity, error) {
	username := strings.TrimSpace(viper.GetString("as"))
	if username == "" {
		return domain.Identity{}, fmt.Errorf("acting user not specified; use --as <username>")
	}
	return e.ResolveIdentity(ctx, username)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderEventsTable(out io.Writer, events []domain.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"ID", "TS", "Type", "Project", "Actor"})
	for _, evt := range events {
		tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ProjectID, evt.ActorID})
	}
	tw.Render()
}
