package main

import (
	"context"
	"strings"
	"time"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes"
	"github.com/roadrunner-server/tubes/beanstalk"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix string = "TUBES"

// app carries the state shared by the commands.
type app struct {
	v   *viper.Viper
	cfg *tubes.Config
	log *zap.Logger
}

func newApp() *app {
	return &app{v: viper.New()}
}

func newRootCmd() *cobra.Command {
	return newApp().command()
}

func (a *app) command() *cobra.Command {
	var cfgFile string
	var debug bool

	root := &cobra.Command{
		Use:           "tubes",
		Short:         "Put and inspect beanstalkd jobs",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd, cfgFile, debug)
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml) with a tubes section")
	root.PersistentFlags().String("addr", "", "beanstalkd address, tcp://host:port or unix:///path")
	root.PersistentFlags().Duration("connect-timeout", 0, "session connect timeout")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug logging")

	root.AddCommand(a.putCmd(), a.statusCmd(), a.waitCmd())
	return root
}

func (a *app) load(cmd *cobra.Command, cfgFile string, debug bool) error {
	const op = errors.Op("tubes_cli_load")

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return errors.E(op, err)
		}
	}

	// flags override the file and the environment
	if err := a.v.BindPFlag(tubes.PluginName+".addr", cmd.Flag("addr")); err != nil {
		return errors.E(op, err)
	}
	if err := a.v.BindPFlag(tubes.PluginName+".connect_timeout", cmd.Flag("connect-timeout")); err != nil {
		return errors.E(op, err)
	}

	a.cfg = &tubes.Config{}
	if err := a.v.UnmarshalKey(tubes.PluginName, a.cfg); err != nil {
		return errors.E(op, err)
	}

	// UnmarshalKey skips keys only present in the environment
	if addr := a.v.GetString(tubes.PluginName + ".addr"); addr != "" {
		a.cfg.Addr = addr
	}
	if ct := a.v.GetDuration(tubes.PluginName + ".connect_timeout"); ct > 0 {
		a.cfg.ConnectTimeout = ct
	}

	if err := a.cfg.InitDefaults(); err != nil {
		return errors.E(op, err)
	}

	a.log = zap.NewNop()
	if debug {
		l, err := zap.NewDevelopment()
		if err != nil {
			return errors.E(op, err)
		}
		a.log = l
	}

	return nil
}

func (a *app) worker() (*tubes.Worker, error) {
	d, err := beanstalk.NewDialer(a.cfg.Addr, a.cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	return tubes.NewWorker(d, tubes.WithLogger(a.log), tubes.WithConnectTimeout(a.cfg.ConnectTimeout)), nil
}

// run calls fn with a worker which is stopped afterwards.
func (a *app) run(ctx context.Context, fn func(ctx context.Context, w *tubes.Worker) error) error {
	w, err := a.worker()
	if err != nil {
		return err
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.Stop(ctx)
	}()

	return fn(ctx, w)
}
