package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/urfave/cli/v2"

	"flowdeck/internal/api"
	"flowdeck/internal/dashboard"
	"flowdeck/internal/logstream"
)

func logsCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:      "logs",
		Usage:     "print or follow the main log or a task log",
		ArgsUsage: "[main|<task-id>]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "keep streaming until interrupted"},
			&cli.BoolFlag{Name: "tail-command", Usage: "print a shell command that tails the log file"},
			&cli.IntFlag{Name: "lines", Aliases: []string{"n"}, Usage: "lines requested from the server (0 = server default)"},
		},
		Action: func(c *cli.Context) error {
			target := logstream.ParseTarget(c.Args().First())
			if c.Args().First() == "" {
				target = logstream.Main()
			}
			if target.Kind == logstream.TargetNone {
				return errors.New("log target must be main or a task id")
			}
			o := overrides(c)
			o.LogLines = c.Int("lines")
			env, err := setup(c, deps, o)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close() }()

			if c.Bool("follow") {
				return followLog(c.Context, deps.Out, env, target)
			}
			res, err := fetchLog(c.Context, env.Client, target)
			if err != nil {
				return err
			}
			if c.Bool("tail-command") {
				cmd := logstream.TailCommand(res.LogFile, deps.Windows)
				if cmd == "" {
					return errors.New("server did not report a log file path")
				}
				_, err := fmt.Fprintln(deps.Out, cmd)
				return err
			}
			_, err = io.WriteString(deps.Out, withNewline(res.Content))
			return err
		},
	}
}

func fetchLog(ctx context.Context, client *api.Client, target logstream.Target) (api.LogContent, error) {
	var (
		res api.LogContent
		err error
	)
	if target.Kind == logstream.TargetMain {
		res, err = client.MainLog(ctx)
	} else {
		res, err = client.TaskLog(ctx, target.TaskID)
	}
	if err != nil {
		return api.LogContent{}, err
	}
	if !res.Success {
		return api.LogContent{}, fmt.Errorf("%w: %s", api.ErrRejected, strings.TrimSpace(res.Detail))
	}
	return res, nil
}

// followLog drives the log controller until ctx ends. The controller follows
// task state on its own: a finished task's stored log replaces the stream,
// and a newly started task takes over.
func followLog(ctx context.Context, out io.Writer, env *Env, target logstream.Target) error {
	f := &follower{w: out}
	opts := dashboard.Options{LogTarget: &target, OnLogUpdate: f.update}
	return withSession(ctx, env, opts, func(ctx context.Context, s *dashboard.Session) error {
		if err := s.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
}

// follower prints only what changed since the previous buffer.
type follower struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

func (f *follower) update(buf string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if buf == logstream.LoadingText {
		f.last = ""
		return
	}
	switch {
	case strings.HasPrefix(buf, f.last):
		_, _ = io.WriteString(f.w, buf[len(f.last):])
	default:
		_, _ = io.WriteString(f.w, "\n"+buf)
	}
	f.last = buf
}

func withNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
