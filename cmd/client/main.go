package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	jsoniter "github.com/json-iterator/go"
	"github.com/kiryu-dev/worldhost/internal/adapters/webapi"
	"github.com/kiryu-dev/worldhost/internal/adapters/worlddir"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type app struct {
	ctx    context.Context
	api    *webapi.Repository
	dir    worlddirRepository
	logger *zap.Logger
}

type worlddirRepository interface {
	domain.WorldDir
	Apply(ctx context.Context, dir string, update domain.DirUpdate, fetch worlddir.FetchFunc) error
}

type globals struct {
	Server   string `help:"World host server address" default:"http://localhost:8080" env:"WORLDHOST_SERVER"`
	User     string `help:"Account name" short:"u" env:"WORLDHOST_USER"`
	Password string `help:"Account password" env:"WORLDHOST_PASSWORD"`
	Verbose  bool   `help:"Log debug output" short:"v"`
}

type cli struct {
	Globals globals `embed:""`

	Watch      watchCmd      `cmd:"" help:"Print host and save events as they happen"`
	State      stateCmd      `cmd:"" help:"Print the current host state"`
	Host       hostCmd       `cmd:"" help:"Ask to become the host"`
	Download   downloadCmd   `cmd:"" help:"Bring a local world directory up to date with the current save"`
	Passwd     passwdCmd     `cmd:"" help:"Change the account password"`
	SetSave    setSaveCmd    `cmd:"" help:"Import a directory on the server as the current save (loopback only)"`
	DumpSave   dumpSaveCmd   `cmd:"" help:"Write the current save into an empty directory on the server (loopback only)"`
	AddUser    addUserCmd    `cmd:"" help:"Create an account (loopback only)"`
	RemoveUser removeUserCmd `cmd:"" help:"Delete an account and end its sessions (loopback only)"`
}

func (a *app) login(g *globals) error {
	if g.User == "" {
		return errors.New("--user is required")
	}
	return a.api.Login(a.ctx, g.User, g.Password)
}

func (a *app) logout() {
	if err := a.api.Logout(context.Background()); err != nil {
		a.logger.Debug(err.Error())
	}
}

func printJson(v any) error {
	data, err := jsoniter.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WithMessage(err, "marshal json")
	}
	fmt.Println(string(data))
	return nil
}

type watchCmd struct {
	Poll bool `help:"Use long polling instead of a websocket"`
}

func (c *watchCmd) Run(a *app, g *globals) error {
	if err := a.login(g); err != nil {
		return err
	}
	defer a.logout()
	if !c.Poll {
		return a.api.Events(a.ctx, func(event domain.BroadcastEvent) error {
			return printJson(event)
		})
	}
	for {
		event, err := a.api.AwaitEvent(a.ctx)
		if err != nil {
			return err
		}
		if err := printJson(event); err != nil {
			return err
		}
	}
}

type stateCmd struct{}

func (c *stateCmd) Run(a *app, g *globals) error {
	if err := a.login(g); err != nil {
		return err
	}
	defer a.logout()
	state, err := a.api.Host(a.ctx)
	if err != nil {
		return err
	}
	return printJson(state)
}

type hostCmd struct {
	Port   uint16 `arg:"" help:"Port the world listens on"`
	Domain string `help:"Address peers should connect to, defaults to the address the server sees"`
	Dir    string `type:"existingdir" help:"World directory to publish before reporting shut_down"`
}

// Run stays attached while hosting and forwards lifecycle reports. Any later
// session of the same user can take over if this one ends. Reports are read from stdin, one per line:
// "loading <percent>", "loaded", "shutting_down" or "shut_down".
func (c *hostCmd) Run(a *app, g *globals) error {
	if err := a.login(g); err != nil {
		return err
	}
	defer a.logout()
	if err := a.api.RequestToHost(a.ctx, c.Domain, c.Port); err != nil {
		return err
	}
	a.logger.Info("registered as host", zap.Uint16("port", c.Port))
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		event := domain.HostEvent{Type: domain.HostEventType(fields[0])}
		if len(fields) > 1 {
			progress, err := strconv.ParseUint(fields[1], 10, 8)
			if err != nil {
				a.logger.Warn("bad progress", zap.String("value", fields[1]))
				continue
			}
			event.Progress = uint8(progress)
		}
		if event.Type == domain.ShutDownEvent && c.Dir != "" {
			if err := upload(a, c.Dir); err != nil {
				a.logger.Error("failed to publish save", zap.Error(err))
			}
		}
		if err := a.api.Report(a.ctx, event); err != nil {
			a.logger.Warn(err.Error())
			continue
		}
		if event.Type == domain.ShutDownEvent {
			return nil
		}
	}
	return errors.WithMessage(scanner.Err(), "read reports")
}

type downloadCmd struct {
	Dir string `arg:"" type:"path" help:"Local world directory"`
}

func (c *downloadCmd) Run(a *app, g *globals) error {
	if err := a.login(g); err != nil {
		return err
	}
	defer a.logout()
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return errors.WithMessage(err, "create world dir")
	}
	content, err := a.dir.Scan(a.ctx, c.Dir)
	if err != nil {
		return err
	}
	update, err := a.api.DirUpdate(a.ctx, content)
	if err != nil {
		return err
	}
	if err := a.dir.Apply(a.ctx, c.Dir, update, a.api.GetObject); err != nil {
		return err
	}
	a.logger.Info("world directory is up to date", zap.Int("actions", len(update)))
	return nil
}

func upload(a *app, dir string) error {
	content, err := a.dir.Scan(a.ctx, dir)
	if err != nil {
		return err
	}
	updates, err := a.api.NewSave(a.ctx, content)
	if err != nil {
		return err
	}
	for _, entry := range updates {
		data, err := a.dir.ReadFile(dir, entry.Path)
		if err != nil {
			return err
		}
		if err := a.api.PutObject(a.ctx, entry.Id, data); err != nil {
			return err
		}
	}
	if err := a.api.RegisterSave(a.ctx); err != nil {
		return err
	}
	a.logger.Info("save published", zap.Int("files", len(content)), zap.Int("uploaded", len(updates)))
	return nil
}

type passwdCmd struct {
	NewPassword string `arg:"" help:"New password"`
}

func (c *passwdCmd) Run(a *app, g *globals) error {
	if err := a.login(g); err != nil {
		return err
	}
	return a.api.ChangePassword(a.ctx, g.Password, c.NewPassword)
}

type setSaveCmd struct {
	Dir string `arg:"" type:"path" help:"Directory on the server"`
}

func (c *setSaveCmd) Run(a *app) error {
	dir, err := filepath.Abs(c.Dir)
	if err != nil {
		return errors.WithMessage(err, "resolve dir")
	}
	return a.api.SetSave(a.ctx, dir)
}

type dumpSaveCmd struct {
	Dir string `arg:"" type:"path" help:"Empty directory on the server"`
}

func (c *dumpSaveCmd) Run(a *app) error {
	dir, err := filepath.Abs(c.Dir)
	if err != nil {
		return errors.WithMessage(err, "resolve dir")
	}
	return a.api.DumpSave(a.ctx, dir)
}

type addUserCmd struct {
	Name     string `arg:""`
	Password string `arg:""`
}

func (c *addUserCmd) Run(a *app) error {
	return a.api.AddUser(a.ctx, c.Name, c.Password)
}

type removeUserCmd struct {
	Name string `arg:""`
}

func (c *removeUserCmd) Run(a *app) error {
	return a.api.RemoveUser(a.ctx, c.Name)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func main() {
	var params cli
	kongCtx := kong.Parse(&params, kong.Description("world host client"))
	logger, err := newLogger(params.Globals.Verbose)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a := &app{
		ctx:    ctx,
		api:    webapi.New(params.Globals.Server),
		dir:    worlddir.New(logger),
		logger: logger,
	}
	if err := kongCtx.Run(a, &params.Globals); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Fatal(err.Error(), zap.String("kind", string(domain.KindOf(err))))
	}
}
