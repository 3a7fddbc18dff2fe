// Command taskdeck is a command-line task list that keeps working offline,
// plus the mock API it talks to.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/broady/taskdeck/internal/cliconfig"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config   kong.ConfigFlag `help:"YAML file with flag defaults." short:"c" placeholder:"FILE"`
	Server   string          `help:"Base URL of the task API." default:"http://localhost:8080" env:"TASKDECK_SERVER"`
	Cache    string          `help:"Local cache database." default:"${cache_path}" type:"path" env:"TASKDECK_CACHE"`
	Timeout  time.Duration   `help:"Timeout for each API call." default:"15s"`
	LogLevel string          `help:"Log level." default:"warn" enum:"debug,info,warn,error" env:"TASKDECK_LOG_LEVEL"`
	Color    string          `help:"Colorize output." default:"auto" enum:"auto,always,never"`
}

type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print version information and exit."`

	Serve         ServeCmd         `cmd:"" help:"Run the mock task API."`
	Login         LoginCmd         `cmd:"" help:"Sign in and remember the session."`
	Signup        SignupCmd        `cmd:"" help:"Create an account and sign in."`
	Logout        LogoutCmd        `cmd:"" help:"Forget the session and all cached tasks."`
	List          ListCmd          `cmd:"" aliases:"ls" help:"List tasks."`
	Show          ShowCmd          `cmd:"" help:"Show one task."`
	Add           AddCmd           `cmd:"" help:"Create a task."`
	Toggle        ToggleCmd        `cmd:"" help:"Mark tasks done, or not done again."`
	Edit          EditCmd          `cmd:"" help:"Change fields of a task."`
	Rm            RmCmd            `cmd:"" aliases:"delete" help:"Delete tasks."`
	Sync          SyncCmd          `cmd:"" help:"Send changes that could not be synced earlier."`
	Notifications NotificationsCmd `cmd:"" aliases:"notes" help:"Show notifications."`
}

// Env is what commands need from the process.
type Env struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "taskdeck.db"
	}
	return filepath.Join(dir, "taskdeck", "cache.db")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("taskdeck"),
		kong.Description("A task list that keeps working offline."),
		kong.Configuration(cliconfig.YAML, "~/.config/taskdeck/config.yaml", ".taskdeck.yaml"),
		kong.Vars{
			"version":    Version(),
			"cache_path": defaultCachePath(),
		},
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		var perr *kong.ParseError
		if errors.As(err, &perr) {
			perr.Context.PrintUsage(true)
		}
		return err
	}
	return kctx.Run(&cli.Globals, &Env{ctx: ctx, stdout: stdout, stderr: stderr})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "taskdeck: %v\n", err)
		stop()
		os.Exit(1)
	}
}
