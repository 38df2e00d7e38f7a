package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"bitbar-composite/internal/app"
	"bitbar-composite/internal/config"
	"bitbar-composite/internal/core"
	"bitbar-composite/internal/preview"
	"bitbar-composite/internal/storage"
	"bitbar-composite/pkg/logger"
)

var errHistoryDisabled = errors.New("history is disabled in config")

type rootOptions struct {
	configPath string
	appOpts    []app.Option
}

// New создает корневую CLI-команду. Без подкоманды печатает отчет для хоста меню.
func New(version string, appOpts ...app.Option) *cobra.Command {
	opts := &rootOptions{appOpts: appOpts}
	root := &cobra.Command{
		Use:          "bitbar-composite",
		Short:        "Объединяет несколько плагинов меню в один отчет",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.RunOnce(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), rep.Text())
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "путь к конфигу (по умолчанию "+config.FileName+" рядом с бинарником)")

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newValidateCmd(opts))
	root.AddCommand(newPreviewCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newServeCmd(opts))

	return root
}

func (o *rootOptions) loadConfig() (config.Config, string, error) {
	path := o.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, "", err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, path, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

func (o *rootOptions) loadApp(cmd *cobra.Command) (*app.App, error) {
	cfg, _, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	lg := logger.New(cmd.ErrOrStderr(), cfg.Agent.LogLevel)
	return app.NewApp(cmd.Context(), cfg, lg, o.appOpts...)
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version)
		},
	}
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Проверить конфиг без запуска плагинов",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d plugins\n", path, len(cfg.Plugins))
			for _, spec := range cfg.Specs() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", spec.DisplayName, describe(spec))
			}
			return nil
		},
	}
}

func describe(spec core.PluginSpec) string {
	s := spec.Command
	for _, a := range spec.Args {
		s += fmt.Sprintf(" %q", a)
	}
	if spec.ShowInSubmenu {
		s += " [submenu]"
	}
	if spec.Timeout > 0 {
		s += " [timeout " + spec.Timeout.String() + "]"
	}
	return s
}

func newPreviewCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Показать отчет в терминале с цветами",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.RunOnce(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), preview.New(cmd.OutOrStdout()).Render(rep.Text()))
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	var latest bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Показать историю прогонов",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Store == nil {
				return errHistoryDisabled
			}

			if latest {
				run, err := a.Store.LatestRun(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), run.Report)
				return nil
			}

			runs, err := a.Store.QueryRuns(cmd.Context(), storage.RunQuery{Limit: limit})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tPLUGINS\tFAILURES")
			for _, r := range runs {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", r.ID, r.TS.Local().Format(time.DateTime), r.Plugins, r.Failures)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "сколько прогонов показать")
	cmd.Flags().BoolVar(&latest, "latest", false, "напечатать последний сохраненный отчет")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Периодически обновлять отчет и отдавать его по HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
}
