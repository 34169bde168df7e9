// Package cli implements the dgetmusic command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cc "github.com/ivanpirog/coloredcobra"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lvcoi/dgetmusic/internal/config"
	"github.com/lvcoi/dgetmusic/internal/logging"
	"github.com/lvcoi/dgetmusic/internal/resolver"
)

const exitInterrupted = 130

// exitError carries an exit status that has already been reported.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func newRootCmd(st *state) *cobra.Command {
	root := &cobra.Command{
		Use:           "dgetmusic",
		Short:         "Find music and resolve it to a playable audio stream",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&st.configFile, "config", "", "config file (yaml, json or toml)")
	flags.StringVar(&st.envFile, "env-file", ".env", "dotenv file loaded before reading DGETMUSIC_* variables")
	flags.StringVar(&st.sessionFile, "session-file", "", "where the interactive session is kept (default: user cache dir)")
	flags.BoolVar(&st.jsonOutput, "json", false, "emit JSON on stdout")
	flags.BoolVarP(&st.quiet, "quiet", "q", false, "only print results and errors")

	flags.String("log-level", "info", "log level: debug, info, warn, error")
	lo.Must0(st.v.BindPFlag("log.level", flags.Lookup("log-level")))
	flags.String("log-format", "json", "log format: json or console")
	lo.Must0(st.v.BindPFlag("log.format", flags.Lookup("log-format")))
	lo.Must0(root.RegisterFlagCompletionFunc("log-format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "console"}, cobra.ShellCompDirectiveNoFileComp
	}))

	flags.String("backend", config.BackendYTDLP, "extraction backend: ytdlp or native")
	lo.Must0(st.v.BindPFlag("extractor.backend", flags.Lookup("backend")))
	lo.Must0(root.RegisterFlagCompletionFunc("backend", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{config.BackendYTDLP, config.BackendNative}, cobra.ShellCompDirectiveNoFileComp
	}))
	flags.Duration("timeout", config.Default().Extractor.Timeout, "per extraction call timeout")
	lo.Must0(st.v.BindPFlag("extractor.timeout", flags.Lookup("timeout")))
	flags.Bool("tls-fingerprint", false, "use a browser TLS fingerprint (native backend)")
	lo.Must0(st.v.BindPFlag("extractor.tls_fingerprint", flags.Lookup("tls-fingerprint")))

	flags.Int("limit", config.Default().Search.Limit, "maximum search results")
	lo.Must0(st.v.BindPFlag("search.limit", flags.Lookup("limit")))
	flags.Duration("max-duration", config.Default().Search.MaxDuration, "drop candidates longer than this (0 disables)")
	lo.Must0(st.v.BindPFlag("search.max_duration", flags.Lookup("max-duration")))

	flags.String("cookies-file", "", "operator cookies.txt applied at the stored credential tier")
	lo.Must0(st.v.BindPFlag("credentials.cookies_file", flags.Lookup("cookies-file")))
	flags.Bool("keyring", false, "read operator cookies from the system keyring")
	lo.Must0(st.v.BindPFlag("credentials.keyring", flags.Lookup("keyring")))
	flags.String("proxy", "", "proxy URL for every extraction call")
	lo.Must0(st.v.BindPFlag("credentials.proxy", flags.Lookup("proxy")))

	flags.String("output-dir", config.Default().Transcode.OutputDir, "directory for transcoded audio")
	lo.Must0(st.v.BindPFlag("transcode.output_dir", flags.Lookup("output-dir")))

	root.AddCommand(
		newSearchCmd(st),
		newPlayCmd(st),
		newResolveCmd(st),
		newPlaylistCmd(st),
		newBatchCmd(st),
		newServeCmd(st),
		newCredentialsCmd(st),
		newHistoryCmd(st),
		newLibraryCmd(st),
	)
	return root
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	st := newState()
	defer st.close()
	root := newRootCmd(st)
	if supportsColor() {
		cc.Init(&cc.Config{
			RootCmd:       root,
			Headings:      cc.HiCyan + cc.Bold + cc.Underline,
			Commands:      cc.HiYellow + cc.Bold,
			Example:       cc.Italic,
			ExecName:      cc.Bold,
			Flags:         cc.Bold,
			FlagsDataType: cc.Italic + cc.HiBlue,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, root, st.errOut)
}

func run(ctx context.Context, root *cobra.Command, errOut io.Writer) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		fmt.Fprintln(errOut, "interrupted")
		return exitInterrupted
	}
	switch resolver.CategoryOf(err) {
	case "", resolver.CategoryInvalidInput:
		fmt.Fprintf(errOut, "error: %s\n", strings.TrimSpace(err.Error()))
	default:
		fmt.Fprintf(errOut, "error: %s\n", resolver.UserMessage(err))
	}
	return resolver.ExitCode(err)
}

// init loads configuration in precedence order: flags, DGETMUSIC_*
// environment (including the dotenv file), config file, defaults.
func (st *state) init() error {
	if err := config.LoadDotEnv(st.envFile); err != nil {
		return err
	}
	config.Bind(st.v)
	if err := config.ReadFile(st.v, st.configFile); err != nil {
		return err
	}
	cfg, err := config.Load(st.v)
	if err != nil {
		return resolver.CategorizedError{Category: resolver.CategoryInvalidInput, Err: err}
	}
	st.cfg = cfg

	if st.log == nil {
		log, _, err := logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		st.log = log
	}
	st.log.Debug("config loaded",
		zap.String("backend", cfg.Extractor.Backend),
		zap.String("config_file", st.v.ConfigFileUsed()),
	)
	return nil
}

func (st *state) close() {
	if err := st.library.Close(); err != nil && st.log != nil {
		st.log.Warn("closing catalogue", zap.Error(err))
	}
	if st.log != nil {
		_ = st.log.Sync()
	}
}

func newState() *state {
	return &state{
		v:         viper.New(),
		fs:        afero.NewOsFs(),
		in:        os.Stdin,
		out:       os.Stdout,
		errOut:    os.Stderr,
		isTTY:     stdinIsTerminal,
		newClient: newClient,
		ask:       surveyConfirm,
		pick:      tuiPick,
	}
}
