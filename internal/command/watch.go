package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"flowdeck/internal/dashboard"
	"flowdeck/internal/eventloop"
	"flowdeck/internal/lifecycle"
	"flowdeck/internal/logstream"
	"flowdeck/internal/roster"
)

const (
	clearScreen   = "\x1b[H\x1b[2J"
	keptNotices   = 5
	watchLogLines = 15
)

func watchCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "live view of tasks, queue status and one log",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log", Value: "main", Usage: "log target: main, none or a task id"},
			&cli.StringFlag{Name: "status", Usage: "only show tasks with this status"},
			&cli.DurationFlag{Name: "redraw", Value: time.Second, Usage: "screen redraw interval"},
			&cli.IntFlag{Name: "rows", Value: 30, Usage: "maximum task rows"},
			&cli.BoolFlag{Name: "once", Usage: "draw a single frame and exit"},
			&cli.BoolFlag{Name: "no-clear", Usage: "do not clear the screen between frames"},
		},
		Action: func(c *cli.Context) error {
			filter, ok := roster.ParseFilter(c.String("status"))
			if !ok {
				return fmt.Errorf("unknown status filter %q", c.String("status"))
			}
			target := logstream.ParseTarget(c.String("log"))
			view := &screen{
				out:     deps.Out,
				filter:  filter,
				rows:    c.Int("rows"),
				clear:   !c.Bool("no-clear") && !c.Bool("once"),
				windows: deps.Windows,
			}
			return withEnv(c, deps, func(env *Env) error {
				if c.Bool("once") {
					return withSession(c.Context, env, dashboard.Options{}, func(ctx context.Context, s *dashboard.Session) error {
						if err := s.Refresh(ctx); err != nil {
							return err
						}
						view.fixed = fetchFrameLog(ctx, env, target)
						return view.draw(ctx, s)
					})
				}
				return runWatch(c.Context, env, target, view, c.Duration("redraw"))
			})
		},
	}
}

func runWatch(ctx context.Context, env *Env, target logstream.Target, view *screen, redraw time.Duration) error {
	if redraw <= 0 {
		redraw = time.Second
	}
	loop := eventloop.New(env.Logger.With("component", "eventloop"), 0)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go func() { _ = loop.Run(loopCtx) }()

	s := dashboard.New(env.Client, orderStore(env), loop, sessionOptions(ctx, env, dashboard.Options{LogTarget: &target}))

	mgr := lifecycle.NewManager(env.Logger.With("component", "lifecycle"))
	mgr.AddRun("session", func(runCtx context.Context) error {
		if err := s.Start(runCtx); err != nil {
			return err
		}
		<-runCtx.Done()
		return nil
	})
	mgr.AddRun("render", func(runCtx context.Context) error {
		ticker := time.NewTicker(redraw)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return nil
			case n := <-s.Notices():
				view.remember(n)
			case <-ticker.C:
				if err := view.draw(runCtx, s); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
			}
		}
	})
	mgr.AddShutdown("stop-event-loop", func(context.Context) error {
		stopLoop()
		return nil
	})
	mgr.AddShutdown("close-session", func(shutdownCtx context.Context) error {
		return s.Close(shutdownCtx)
	})
	return mgr.StartAndWait(ctx)
}

type screen struct {
	out     io.Writer
	filter  roster.Filter
	rows    int
	clear   bool
	windows bool
	notices []dashboard.Notice
	// fixed replaces the session's log panel for single frames.
	fixed *frameLog
}

type frameLog struct {
	target logstream.Target
	text   string
	path   string
}

// fetchFrameLog loads the target's log synchronously so a single frame does
// not show the placeholder of a background fetch.
func fetchFrameLog(ctx context.Context, env *Env, target logstream.Target) *frameLog {
	fl := &frameLog{target: target}
	if target.Kind == logstream.TargetNone {
		return fl
	}
	res, err := fetchLog(ctx, env.Client, target)
	if err != nil {
		env.Logger.Warn("log fetch for frame failed", "target", target.String(), "err", err)
		fl.text = fmt.Sprintf("Failed to load log: %v", err)
		return fl
	}
	fl.text = res.Content
	if fl.text == "" {
		fl.text = logstream.EmptyText
	}
	fl.path = res.LogFile
	return fl
}

func (v *screen) remember(n dashboard.Notice) {
	v.notices = append(v.notices, n)
	if len(v.notices) > keptNotices {
		v.notices = v.notices[len(v.notices)-keptNotices:]
	}
}

func (v *screen) drainNotices(s *dashboard.Session) {
	for {
		select {
		case n := <-s.Notices():
			v.remember(n)
		default:
			return
		}
	}
}

// draw renders one frame into a buffer and writes it in a single call.
func (v *screen) draw(ctx context.Context, s *dashboard.Session) error {
	tasks, err := s.Filtered(ctx, v.filter)
	if err != nil {
		return err
	}
	counts, _ := s.Counts(ctx)
	status, _ := s.QueueStatus(ctx)
	queueID, _ := s.QueueID(ctx)
	target, _ := s.LogTarget(ctx)
	buffer, _ := s.LogBuffer(ctx)
	tail, _ := s.TailCommand(ctx, v.windows)
	if v.fixed != nil {
		target, buffer = v.fixed.target, v.fixed.text
		tail = logstream.TailCommand(v.fixed.path, v.windows)
	}

	var b bytes.Buffer
	if v.clear {
		b.WriteString(clearScreen)
	}
	_ = renderQueueStatus(&b, queueID, status)
	_ = renderCounts(&b, counts)
	b.WriteString("\n")
	_ = renderTasks(&b, tasks, v.rows)
	fmt.Fprintf(&b, "\n── log: %s ──\n", target)
	if tail != "" {
		fmt.Fprintf(&b, "(%s)\n", tail)
	}
	if text := tailLines(buffer, watchLogLines); text != "" {
		b.WriteString(text)
		b.WriteString("\n")
	}
	v.drainNotices(s)
	if len(v.notices) > 0 {
		b.WriteString("\n")
		renderNotices(&b, v.notices)
	}
	_, err = v.out.Write(b.Bytes())
	return err
}
