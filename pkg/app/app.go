// Package app builds cobra commands whose flags come from named option
// groups, optionally overlaid by a viper config file and the environment.
package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/spotpeer/pkg/log"
)

// RunFunc is the application entry point, called once options are loaded
// and validated.
type RunFunc func() error

// NamedFlagSetOptions is implemented by the option struct of an application.
// The struct is also the viper unmarshal target, so its mapstructure tags
// must mirror the flag names.
type NamedFlagSetOptions interface {
	Flags() cliflag.NamedFlagSets
	Complete() error
	Validate() error
}

// App is a command-line application.
type App struct {
	name        string
	shortDesc   string
	description string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	noConfig    bool
	args        cobra.PositionalArgs
	newOptions  func() NamedFlagSetOptions
	onReload    func(NamedFlagSetOptions) error

	v       *viper.Viper
	cfgFile string
	cmd     *cobra.Command
}

// Option configures an App.
type Option func(*App)

// WithOptions sets the option struct bound to the command flags.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithRunFunc sets the application entry point.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDescription sets the long description.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithNoConfig disables the --config flag and environment overlay.
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

// WithValidArgs sets the positional argument validator.
func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) { a.args = args }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithConfigReload watches the config file. On every change the config is
// decoded into a fresh value from newOptions, completed and validated, and
// only then handed to apply. The options the application started with are
// never written after startup.
func WithConfigReload(newOptions func() NamedFlagSetOptions, apply func(NamedFlagSetOptions) error) Option {
	return func(a *App) {
		a.newOptions = newOptions
		a.onReload = apply
	}
}

// NewApp creates an application.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		v:         viper.New(),
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the underlying cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits the process on failure.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var fss cliflag.NamedFlagSets
	if a.options != nil {
		fss = a.options.Flags()
	}
	if !a.noConfig {
		fss.FlagSet("global").StringVarP(&a.cfgFile, "config", "c", "",
			"Read configuration from the specified `FILE` (YAML, JSON or TOML).")
	}
	for _, f := range fss.FlagSets {
		cmd.Flags().AddFlagSet(f)
	}
	cliflag.SetUsageAndHelpFunc(cmd, fss, 80)

	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	}
	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if a.options != nil {
		if err := a.loadOptions(cmd); err != nil {
			return err
		}
	}

	if a.onReload != nil && a.newOptions != nil && a.v.ConfigFileUsed() != "" {
		a.v.OnConfigChange(a.configChanged)
		a.v.WatchConfig()
	}

	return a.runFunc()
}

func (a *App) loadOptions(cmd *cobra.Command) error {
	if !a.noConfig {
		if err := a.v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		a.v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(a.name, "-", "_")))
		a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		a.v.AutomaticEnv()

		if a.cfgFile != "" {
			a.v.SetConfigFile(a.cfgFile)
			if err := a.v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read configuration file %s: %w", a.cfgFile, err)
			}
		}

		if err := a.v.Unmarshal(a.options); err != nil {
			return fmt.Errorf("failed to decode configuration: %w", err)
		}
	}

	if err := a.options.Complete(); err != nil {
		return err
	}
	return a.options.Validate()
}

func (a *App) configChanged(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	fresh := a.newOptions()
	if err := a.v.Unmarshal(fresh); err != nil {
		log.Error(err, "Ignoring unreadable configuration change", "file", e.Name)
		return
	}
	if err := fresh.Complete(); err != nil {
		log.Error(err, "Ignoring incomplete configuration change", "file", e.Name)
		return
	}
	if err := fresh.Validate(); err != nil {
		log.Error(err, "Ignoring invalid configuration change", "file", e.Name)
		return
	}
	log.Info("Configuration reloaded", "file", e.Name)
	if err := a.onReload(fresh); err != nil {
		log.Error(err, "Failed to apply configuration change")
	}
}
