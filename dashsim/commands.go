package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/encoding/charmap"

	"github.com/harveysanders/vfdash/dashboard/config"
	"github.com/harveysanders/vfdash/dashboard/hass"
	"github.com/harveysanders/vfdash/dashboard/panel"
	"github.com/harveysanders/vfdash/dashboard/vfd"
)

type options struct {
	configPath string
	token      string
	once       bool
	interval   time.Duration
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:   "dashsim",
		Short: "Run the Home Assistant dashboard against an emulated display",
		Long: `Dashsim polls Home Assistant with the same client and renderer as the
Pico W firmware and draws the result on an emulated 40x2 VFD in the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Dashboard YAML file (required)")
	root.MarkPersistentFlagRequired("config")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll entity states and draw the dashboard",
		Example: `  # Refresh forever at the configured interval
  dashsim run --config dashboard.yaml --token "$HASS_TOKEN"

  # One cycle, for scripts
  dashsim run --config dashboard.yaml --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, opts)
		},
	}
	runCmd.Flags().StringVar(&opts.token, "token", "", "Long-lived access token (default $HASS_TOKEN, then the file)")
	runCmd.Flags().BoolVar(&opts.once, "once", false, "Run a single refresh cycle and exit")
	runCmd.Flags().DurationVar(&opts.interval, "interval", 0, "Override the configured refresh interval")
	runCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every fetch to stderr")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a dashboard file and print its screen layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), layoutTable(cfg))
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d entities on a %dx%d %s display\n",
				len(cfg.Entities), cfg.Display.Columns, cfg.Display.Rows, cfg.Display.Kind)
			return nil
		},
	}

	root.AddCommand(runCmd, validateCmd)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Load(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

func runDashboard(cmd *cobra.Command, opts options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	switch {
	case opts.token != "":
		cfg.Token = opts.token
	case os.Getenv("HASS_TOKEN") != "":
		cfg.Token = os.Getenv("HASS_TOKEN")
	}
	if cfg.Token == "" {
		return errors.New("no access token: pass --token or set HASS_TOKEN")
	}
	if opts.interval > 0 {
		cfg.Refresh = opts.interval
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	client, err := hass.NewClient(&net.Dialer{Timeout: cfg.FetchTimeout}, hass.Config{
		BaseURL:            cfg.BaseURL,
		Token:              cfg.Token,
		Timeout:            cfg.FetchTimeout,
		InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		RootCA:             cfg.TLSRootCA,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	emu := vfd.NewEmulator(cfg.Display.Columns, cfg.Display.Rows)
	dash, err := panel.New(vfd.New(emu, cfg.Display.Cells()), client, cfg, logger)
	if err != nil {
		return fmt.Errorf("create dashboard: %w", err)
	}
	if err := dash.Start(); err != nil {
		return fmt.Errorf("start display: %w", err)
	}

	out := cmd.OutOrStdout()
	clearScreen := isTerminal(out) && !opts.once
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	for {
		report := dash.Cycle()
		if clearScreen {
			fmt.Fprint(out, "\x1b[H\x1b[2J")
		}
		fmt.Fprintln(out, renderScreen(emu.Lines(), dash.Luminance(), report))

		if opts.once {
			if report.DisplayErr != nil {
				return fmt.Errorf("display: %w", report.DisplayErr)
			}
			if report.Rendered == 0 && report.Failed > 0 {
				return errors.New("every entity fetch failed")
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.Refresh):
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// layoutTable lists every field with the cells it occupies.
func layoutTable(cfg *config.Config) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(mutedColor)).
		Headers("POS", "ROW", "ENTITY", "LABEL", "VALUE CELLS")
	for _, e := range cfg.Entities {
		value := "?"
		if e.MaxWidth > 0 {
			start := e.Position + e.LabelWidth()
			value = strconv.Itoa(start) + "-" + strconv.Itoa(start+e.MaxWidth-1)
		}
		label, err := charmap.ISO8859_1.NewDecoder().String(e.Name)
		if err != nil {
			label = e.Name
		}
		t.Row(
			strconv.Itoa(e.Position),
			strconv.Itoa(e.Position/cfg.Display.Columns),
			e.ID,
			label+config.Separator,
			value,
		)
	}
	return t.String()
}
