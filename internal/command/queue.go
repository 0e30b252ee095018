package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"flowdeck/internal/dashboard"
)

func queueCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "control the current queue",
		Subcommands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show whether the queue is running",
				Action: func(c *cli.Context) error {
					return withEnv(c, deps, func(env *Env) error {
						st, err := env.Client.QueueStatus(c.Context)
						if err != nil {
							return err
						}
						return renderQueueStatus(deps.Out, resolveQueueID(c.Context, env), st)
					})
				},
			},
			{
				Name:  "start",
				Usage: "start executing pending tasks",
				Action: func(c *cli.Context) error {
					return queueSwitch(c, deps, (*dashboard.Session).StartQueue)
				},
			},
			{
				Name:  "stop",
				Usage: "stop picking up new tasks",
				Action: func(c *cli.Context) error {
					return queueSwitch(c, deps, (*dashboard.Session).StopQueue)
				},
			},
			{
				Name:  "stop-all",
				Usage: "stop the queue and every running task",
				Action: func(c *cli.Context) error {
					return withEnv(c, deps, func(env *Env) error {
						msg, err := env.Client.StopAll(c.Context)
						if err != nil {
							return err
						}
						return printMessage(deps, msg, "all tasks stopped")
					})
				},
			},
		},
	}
}

func queueSwitch(c *cli.Context, deps Deps, act func(*dashboard.Session, context.Context) (string, error)) error {
	return withEnv(c, deps, func(env *Env) error {
		return withSession(c.Context, env, dashboard.Options{}, func(ctx context.Context, s *dashboard.Session) error {
			msg, err := act(s, ctx)
			if err != nil {
				return err
			}
			return printMessage(deps, msg, "ok")
		})
	})
}

func queuesCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "queues",
		Usage: "manage queues on the server",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list queues, the current one marked with *",
				Action: func(c *cli.Context) error {
					return withEnv(c, deps, func(env *Env) error {
						list, err := env.Client.ListQueues(c.Context)
						if err != nil {
							return err
						}
						return renderQueues(deps.Out, list)
					})
				},
			},
			{
				Name:  "add",
				Usage: "register a queue backed by a YAML task file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "display name"},
					&cli.StringFlag{Name: "yaml", Usage: "path of the YAML file on the server"},
				},
				Action: func(c *cli.Context) error {
					name, yamlPath := strings.TrimSpace(c.String("name")), strings.TrimSpace(c.String("yaml"))
					if name == "" || yamlPath == "" {
						return errors.New("--name and --yaml are required")
					}
					return withEnv(c, deps, func(env *Env) error {
						q, err := env.Client.AddQueue(c.Context, name, yamlPath)
						if err != nil {
							return err
						}
						_, err = fmt.Fprintf(deps.Out, "queue %s added (%s)\n", q.Name, q.ID)
						return err
					})
				},
			},
			{
				Name:      "remove",
				Usage:     "remove a queue",
				ArgsUsage: "<queue-id>",
				Action: func(c *cli.Context) error {
					id := strings.TrimSpace(c.Args().First())
					if id == "" {
						return errors.New("queue id is required")
					}
					return withEnv(c, deps, func(env *Env) error {
						if err := env.Client.RemoveQueue(c.Context, id); err != nil {
							return err
						}
						_, err := fmt.Fprintf(deps.Out, "queue %s removed\n", id)
						return err
					})
				},
			},
			{
				Name:      "select",
				Usage:     "make a queue current and remember it locally",
				ArgsUsage: "<queue-id>",
				Action: func(c *cli.Context) error {
					id := strings.TrimSpace(c.Args().First())
					if id == "" {
						return errors.New("queue id is required")
					}
					return withEnv(c, deps, func(env *Env) error {
						if err := env.Client.SelectQueue(c.Context, id); err != nil {
							return err
						}
						if env.ConfigStore != nil {
							file, err := env.ConfigStore.LoadOrInit()
							if err != nil {
								return err
							}
							file.QueueID = id
							if err := env.ConfigStore.Save(file); err != nil {
								return err
							}
						}
						_, err := fmt.Fprintf(deps.Out, "queue %s selected\n", id)
						return err
					})
				},
			},
		},
	}
}

func printMessage(deps Deps, msg, fallback string) error {
	if strings.TrimSpace(msg) == "" {
		msg = fallback
	}
	_, err := fmt.Fprintln(deps.Out, msg)
	return err
}
