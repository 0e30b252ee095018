package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"flowdeck/internal/api"
	"flowdeck/internal/config"
	"flowdeck/internal/dashboard"
	"flowdeck/internal/eventloop"
	"flowdeck/internal/global"
	"flowdeck/internal/logging"
	"flowdeck/internal/logstream"
	"flowdeck/internal/orderdb"
)

const defaultQueueID = "default"

// Overrides carries the global flags; zero values leave config untouched.
type Overrides struct {
	ServerURL string
	QueueID   string
	LogLevel  string
	LogFormat string
	LogLines  int
}

// Env is everything a command needs once configuration is resolved.
type Env struct {
	Config      config.Config
	Logger      *slog.Logger
	Client      *api.Client
	Store       *orderdb.Store
	ConfigStore *global.ConfigStore
	Close       func() error
}

type Deps struct {
	Setup   func(ctx context.Context, o Overrides) (*Env, error)
	Out     io.Writer
	Windows bool
}

func BuildApp(deps Deps) *cli.App {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if !deps.Windows {
		deps.Windows = runtime.GOOS == "windows"
	}
	return &cli.App{
		Name:   "flowdeck",
		Usage:  "terminal client for a task queue server",
		Writer: deps.Out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "server base URL"},
			&cli.StringFlag{Name: "queue", Aliases: []string{"q"}, Usage: "queue id used for the persisted task order"},
			&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error"},
			&cli.StringFlag{Name: "log-format", Usage: "json|text"},
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
		Commands: []*cli.Command{
			watchCommand(deps),
			tasksCommand(deps),
			taskCommand(deps),
			historyCommand(deps),
			logsCommand(deps),
			queueCommand(deps),
			queuesCommand(deps),
			loginCommand(deps),
			logoutCommand(deps),
			healthCommand(deps),
		},
	}
}

func overrides(c *cli.Context) Overrides {
	return Overrides{
		ServerURL: c.String("server"),
		QueueID:   c.String("queue"),
		LogLevel:  c.String("log-level"),
		LogFormat: c.String("log-format"),
	}
}

func setup(c *cli.Context, deps Deps, o Overrides) (*Env, error) {
	if deps.Setup == nil {
		return nil, errors.New("setup is not configured")
	}
	env, err := deps.Setup(c.Context, o)
	if err != nil {
		return nil, err
	}
	if env.Logger == nil {
		env.Logger = logging.Discard()
	}
	if env.Close == nil {
		env.Close = func() error { return nil }
	}
	return env, nil
}

// withEnv runs fn with a resolved Env and closes it afterwards.
func withEnv(c *cli.Context, deps Deps, fn func(*Env) error) error {
	env, err := setup(c, deps, overrides(c))
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()
	return fn(env)
}

func resolveQueueID(ctx context.Context, env *Env) string {
	if env.Config.QueueID != "" {
		return env.Config.QueueID
	}
	list, err := env.Client.ListQueues(ctx)
	if err != nil {
		env.Logger.Debug("queue list unavailable, using default queue id", "err", err)
		return defaultQueueID
	}
	if list.CurrentQueueID != "" {
		return list.CurrentQueueID
	}
	return defaultQueueID
}

func sessionOptions(ctx context.Context, env *Env, opts dashboard.Options) dashboard.Options {
	opts.QueueID = resolveQueueID(ctx, env)
	if opts.PollInterval <= 0 {
		opts.PollInterval = env.Config.PollInterval
	}
	if opts.LogPollInterval <= 0 {
		opts.LogPollInterval = env.Config.LogPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = env.Logger.With("component", "dashboard")
	}
	return opts
}

func orderStore(env *Env) dashboard.OrderStore {
	if env.Store == nil {
		return nil
	}
	return env.Store
}

// withSession runs fn against a dashboard session on its own event loop. One
// shot commands pass no log target so nothing is polled in the background.
func withSession(ctx context.Context, env *Env, opts dashboard.Options, fn func(context.Context, *dashboard.Session) error) error {
	if opts.LogTarget == nil {
		none := logstream.None()
		opts.LogTarget = &none
	}
	loop := eventloop.New(env.Logger.With("component", "eventloop"), 0)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() { _ = loop.Run(loopCtx) }()

	s := dashboard.New(env.Client, orderStore(env), loop, sessionOptions(ctx, env, opts))
	defer func() { _ = s.Close(context.Background()) }()
	return fn(ctx, s)
}
