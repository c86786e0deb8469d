package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/judepayne/go-pods/resolver"
)

// Context carries flags and shared state into every subcommand's Run.
type Context struct {
	CacheRoot string
}

// CLI is the podhost command tree: interactive/debug access to the façade
// for loading pods, invoking their vars, and inspecting their namespaces.
type CLI struct {
	LogFile  string `default:"" placeholder:"<log-file-path>" help:"location of log file (leave empty to log to stderr)"`
	LogLevel string `default:"info" placeholder:"<debug|info|warn|error>" help:"the logging level (debug, info, warn, error)"`
	CacheDir string `default:"" placeholder:"<cache-dir>" help:"registry artifact cache root (leave unset to use the default per BABASHKA_PODS_DIR/XDG_CACHE_HOME)"`

	Load     LoadCmd     `cmd:"" help:"load a pod and print its exposed namespaces"`
	Invoke   InvokeCmd   `cmd:"" help:"load a pod, invoke one of its vars, and print the result"`
	Describe DescribeCmd `cmd:"" help:"load a pod and print its id, format and namespace names"`
	Ls       LsCmd       `cmd:"" help:"load every pod declared in pyproject.toml/pods.yaml and list their namespaces"`
	Unload   UnloadCmd   `cmd:"" help:"load then immediately unload a pod, confirming a clean shutdown"`
	Doc      DocCmd      `cmd:"" help:"print complete command help formatted as markdown"`
	Version  VersionCmd  `cmd:"" help:"print version information about this command"`
}

func (c *CLI) initSlog() {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w *os.File = os.Stderr
	if c.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o755); err != nil {
			panic(err)
		}
		f, err := os.OpenFile(c.LogFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			panic(err)
		}
		w = f
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

const description = `Load babashka-style pod processes and call their exposed namespaces as ordinary callables.`

func main() {
	var cli CLI

	ctx := kong.Parse(&cli,
		kong.Configuration(kong.JSON, ".podhost.json", "~/.podhost.json"),
		kong.Description(description))
	cli.initSlog()

	cacheRoot := cli.CacheDir
	if cacheRoot == "" {
		root, err := resolver.CacheDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolving cache dir: %v\n", err)
			os.Exit(1)
		}
		cacheRoot = root
	}
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "creating cache dir %s: %v\n", cacheRoot, err)
		os.Exit(1)
	}

	err := ctx.Run(&Context{CacheRoot: cacheRoot})
	ctx.FatalIfErrorf(err)
}
