package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
)

func loginCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "log in and store the session token for this server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "password", EnvVars: []string{"FLOWDECK_PASSWORD"}, Usage: "server password"},
		},
		Action: func(c *cli.Context) error {
			return withEnv(c, deps, func(env *Env) error {
				status, err := env.Client.AuthStatus(c.Context)
				if err != nil {
					return err
				}
				if !status.AuthEnabled {
					_, err := fmt.Fprintln(deps.Out, "authentication is disabled on this server")
					return err
				}
				password := c.String("password")
				if strings.TrimSpace(password) == "" {
					return errors.New("--password or FLOWDECK_PASSWORD is required")
				}
				token, err := env.Client.Login(c.Context, password)
				if err != nil {
					return err
				}
				if env.Store != nil {
					if err := env.Store.SaveSession(env.Config.ServerURL, token); err != nil {
						return fmt.Errorf("store session: %w", err)
					}
				}
				_, err = fmt.Fprintf(deps.Out, "logged in to %s\n", env.Config.ServerURL)
				return err
			})
		},
	}
}

func logoutCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "end the session and forget the stored token",
		Action: func(c *cli.Context) error {
			return withEnv(c, deps, func(env *Env) error {
				logoutErr := env.Client.Logout(c.Context)
				if env.Store != nil {
					if err := env.Store.DeleteSession(env.Config.ServerURL); err != nil {
						return errors.Join(logoutErr, err)
					}
				}
				if logoutErr != nil {
					return logoutErr
				}
				_, err := fmt.Fprintln(deps.Out, "logged out")
				return err
			})
		},
	}
}

func healthCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "check that the server answers",
		Action: func(c *cli.Context) error {
			return withEnv(c, deps, func(env *Env) error {
				h, err := env.Client.Health(c.Context)
				if err != nil {
					return err
				}
				line := fmt.Sprintf("%s: %s", env.Config.ServerURL, dash(h.Status))
				if h.Version != "" {
					line += " (version " + h.Version + ")"
				}
				_, err = fmt.Fprintln(deps.Out, line)
				return err
			})
		},
	}
}
