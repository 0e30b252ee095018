package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"flowdeck/internal/api"
	"flowdeck/internal/dashboard"
	"flowdeck/internal/roster"
)

func tasksCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "list tasks in their stable order",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "all|running|pending|completed|failed|stopped"},
		},
		Action: func(c *cli.Context) error {
			filter, ok := roster.ParseFilter(c.String("status"))
			if !ok {
				return fmt.Errorf("unknown status filter %q", c.String("status"))
			}
			return withEnv(c, deps, func(env *Env) error {
				return withSession(c.Context, env, dashboard.Options{}, func(ctx context.Context, s *dashboard.Session) error {
					if err := s.Refresh(ctx); err != nil {
						return err
					}
					view, err := s.Filtered(ctx, filter)
					if err != nil {
						return err
					}
					counts, _ := s.Counts(ctx)
					status, _ := s.QueueStatus(ctx)
					queueID, _ := s.QueueID(ctx)
					if err := renderQueueStatus(deps.Out, queueID, status); err != nil {
						return err
					}
					if err := renderCounts(deps.Out, counts); err != nil {
						return err
					}
					return renderTasks(deps.Out, view, 0)
				})
			})
		},
	}
}

func taskCommand(deps Deps) *cli.Command {
	inputFlags := []cli.Flag{
		&cli.StringFlag{Name: "name", Usage: "task name"},
		&cli.StringFlag{Name: "command", Usage: "shell command to run"},
		&cli.StringFlag{Name: "note", Usage: "free-form note"},
	}
	return &cli.Command{
		Name:  "task",
		Usage: "manage a single task",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "append a task to the queue",
				Flags: inputFlags,
				Action: func(c *cli.Context) error {
					in := api.TaskInput{Name: strings.TrimSpace(c.String("name")), Command: strings.TrimSpace(c.String("command")), Note: c.String("note")}
					if in.Name == "" || in.Command == "" {
						return errors.New("--name and --command are required")
					}
					return withEnv(c, deps, func(env *Env) error {
						if err := env.Client.AddTask(c.Context, in); err != nil {
							return err
						}
						_, err := fmt.Fprintf(deps.Out, "task %q added\n", in.Name)
						return err
					})
				},
			},
			{
				Name:      "edit",
				Usage:     "update a pending task",
				ArgsUsage: "<task-id>",
				Flags:     inputFlags,
				Action: func(c *cli.Context) error {
					id, err := taskIDArg(c)
					if err != nil {
						return err
					}
					return withEnv(c, deps, func(env *Env) error {
						in, err := editedInput(c, env, id)
						if err != nil {
							return err
						}
						if err := env.Client.UpdateTask(c.Context, id, in); err != nil {
							return err
						}
						_, err = fmt.Fprintf(deps.Out, "task %s updated\n", id)
						return err
					})
				},
			},
			taskActionCommand(deps, "run", "run a pending task now", (*dashboard.Session).RunTask),
			taskActionCommand(deps, "stop", "stop a running task", (*dashboard.Session).StopTask),
			taskActionCommand(deps, "retry", "requeue a finished task", (*dashboard.Session).RetryTask),
			{
				Name:      "delete",
				Usage:     "delete a task",
				ArgsUsage: "<task-id>",
				Action: func(c *cli.Context) error {
					id, err := taskIDArg(c)
					if err != nil {
						return err
					}
					return withEnv(c, deps, func(env *Env) error {
						return withSession(c.Context, env, dashboard.Options{}, func(ctx context.Context, s *dashboard.Session) error {
							_ = s.Refresh(ctx)
							if err := s.DeleteTask(ctx, id); err != nil {
								return err
							}
							_, err := fmt.Fprintf(deps.Out, "task %s deleted\n", id)
							return err
						})
					})
				},
			},
			{
				Name:      "move",
				Usage:     "swap a pending task with its neighbor",
				ArgsUsage: "<task-id> <up|down>",
				Action: func(c *cli.Context) error {
					id, err := taskIDArg(c)
					if err != nil {
						return err
					}
					dir, err := parseDirection(c.Args().Get(1))
					if err != nil {
						return err
					}
					return withEnv(c, deps, func(env *Env) error {
						return withSession(c.Context, env, dashboard.Options{}, func(ctx context.Context, s *dashboard.Session) error {
							if err := s.Refresh(ctx); err != nil {
								return err
							}
							if err := s.MoveTask(ctx, id, dir); err != nil {
								return err
							}
							view, err := s.Filtered(ctx, roster.FilterPending)
							if err != nil {
								return err
							}
							return renderTasks(deps.Out, view, 0)
						})
					})
				},
			},
		},
	}
}

func taskActionCommand(deps Deps, name, usage string, act func(*dashboard.Session, context.Context, string) error) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<task-id>",
		Action: func(c *cli.Context) error {
			id, err := taskIDArg(c)
			if err != nil {
				return err
			}
			return withEnv(c, deps, func(env *Env) error {
				return withSession(c.Context, env, dashboard.Options{}, func(ctx context.Context, s *dashboard.Session) error {
					if err := act(s, ctx, id); err != nil {
						return err
					}
					_, err := fmt.Fprintf(deps.Out, "task %s: %s requested\n", id, name)
					return err
				})
			})
		},
	}
}

func historyCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "finished tasks",
		Subcommands: []*cli.Command{
			{
				Name:  "clear",
				Usage: "drop every finished task from the server history",
				Action: func(c *cli.Context) error {
					return withEnv(c, deps, func(env *Env) error {
						if err := env.Client.ClearHistory(c.Context); err != nil {
							return err
						}
						_, err := fmt.Fprintln(deps.Out, "history cleared")
						return err
					})
				},
			},
		},
	}
}

// editedInput fills flags the user left out from the current task record.
func editedInput(c *cli.Context, env *Env, id string) (api.TaskInput, error) {
	tasks, err := env.Client.ListTasks(c.Context)
	if err != nil {
		return api.TaskInput{}, err
	}
	var current *api.Task
	for i := range tasks.Pending {
		if tasks.Pending[i].ID == id {
			current = &tasks.Pending[i]
			break
		}
	}
	if current == nil {
		return api.TaskInput{}, fmt.Errorf("task %s is not pending", id)
	}
	in := api.TaskInput{Name: current.Name, Command: current.Command, Note: current.Note}
	if c.IsSet("name") {
		in.Name = strings.TrimSpace(c.String("name"))
	}
	if c.IsSet("command") {
		in.Command = strings.TrimSpace(c.String("command"))
	}
	if c.IsSet("note") {
		in.Note = c.String("note")
	}
	return in, nil
}

func taskIDArg(c *cli.Context) (string, error) {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return "", errors.New("task id is required")
	}
	return id, nil
}

func parseDirection(v string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "up", "-1":
		return -1, nil
	case "down", "+1", "1":
		return 1, nil
	default:
		return 0, fmt.Errorf("direction must be up or down, got %q", v)
	}
}
