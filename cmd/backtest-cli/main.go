package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"stockanalyzer/internal/app"
	"stockanalyzer/internal/config"
	"stockanalyzer/internal/engine"
	"stockanalyzer/internal/report"
	"stockanalyzer/internal/strategy/builtins"
	sa "stockanalyzer/pkg/stockanalyzer"
)

const version = "0.2.0"

var (
	serverURL string
	cfgPath   string
	asJSON    bool
)

func jsonOutput(in any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(in)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	// Keep stdout for results.
	cfg.Logging.Format = "text"
	if cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}
	return cfg, nil
}

func main() {
	_ = godotenv.Load()

	cliApp := cli.NewApp()
	cliApp.Name = "backtest-cli"
	cliApp.Version = version
	cliApp.Usage = "run backtests locally or against a backtest-server"
	cliApp.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "server",
			Value:       "http://localhost:8080",
			Usage:       "backtest-server base URL for remote commands",
			EnvVars:     []string{"STOCKANALYZER_SERVER"},
			Destination: &serverURL,
		},
		&cli.StringFlag{
			Name:        "config",
			Value:       config.Path(),
			Usage:       "config file for local runs",
			Destination: &cfgPath,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print raw JSON instead of tables",
			Destination: &asJSON,
		},
	}
	cliApp.Commands = []*cli.Command{
		runCommand,
		sweepCommand,
		strategiesCommand,
		submitCommand,
		runsCommand,
		statusCommand,
		resultCommand,
		cancelCommand,
		purgeCommand,
		symbolsCommand,
		versionCommand,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

var backtestFlags = []cli.Flag{
	&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}, Required: true, Usage: "strategy name"},
	&cli.StringSliceFlag{Name: "symbols", Required: true, Usage: "comma separated symbols"},
	&cli.StringFlag{Name: "start", Required: true, Usage: "first date, YYYY-MM-DD"},
	&cli.StringFlag{Name: "end", Required: true, Usage: "last date, YYYY-MM-DD"},
	&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "strategy parameter as key=value"},
	&cli.Float64Flag{Name: "capital", Usage: "initial capital"},
	&cli.Float64Flag{Name: "commission", Usage: "commission rate"},
	&cli.Float64Flag{Name: "slippage", Usage: "slippage rate"},
	&cli.StringFlag{Name: "benchmark", Usage: "benchmark symbol"},
	&cli.IntFlag{Name: "warmup", Usage: "warmup days loaded before start"},
}

// localConfig builds an engine config from the configured defaults and the
// backtest flags.
func localConfig(c *cli.Context, cfg *config.Config) (engine.Config, error) {
	ec := app.Defaults(cfg)
	start, err := time.Parse(time.DateOnly, c.String("start"))
	if err != nil {
		return ec, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse(time.DateOnly, c.String("end"))
	if err != nil {
		return ec, fmt.Errorf("invalid --end: %w", err)
	}
	ec.Start, ec.End = start, end
	ec.Symbols = splitSymbols(c.StringSlice("symbols"))
	if c.IsSet("capital") {
		ec.InitialCapital = c.Float64("capital")
	}
	if c.IsSet("commission") {
		ec.CommissionRate = c.Float64("commission")
	}
	if c.IsSet("slippage") {
		ec.SlippageRate = c.Float64("slippage")
	}
	if c.IsSet("benchmark") {
		ec.BenchmarkSymbol = c.String("benchmark")
	}
	if c.IsSet("warmup") {
		ec.WarmupDays = c.Int("warmup")
	}
	return ec, nil
}

func openEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func() error, error) {
	logger, tracer, shutdown, err := app.Observability(cfg, os.Stderr, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	provider, closeProvider, err := app.OpenProvider(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	eng := engine.NewEngine(provider, engine.WithLogger(logger), engine.WithTracer(tracer))
	return eng, func() error {
		shutdown(context.Background())
		return closeProvider()
	}, nil
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "run a backtest in-process and print its summary",
	Flags: append([]cli.Flag{
		&cli.IntFlag{Name: "trades", Value: 10, Usage: "number of trailing trades to print, 0 for none"},
	}, backtestFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ec, err := localConfig(c, cfg)
		if err != nil {
			return err
		}
		params, err := parseParams(c.StringSlice("param"))
		if err != nil {
			return err
		}
		strat, err := builtins.NewRegistry().New(c.String("strategy"), params)
		if err != nil {
			return err
		}

		eng, closeFn, err := openEngine(c.Context, cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := eng.Run(c.Context, ec, strat, nil)
		if res == nil {
			return err
		}
		if asJSON {
			return jsonOutput(res)
		}
		out, convErr := report.FromEngine(res)
		if convErr != nil {
			return convErr
		}
		r := report.New(os.Stdout)
		fmt.Print(r.Summary(out))
		if n := c.Int("trades"); n > 0 && len(out.Trades) > 0 {
			fmt.Println()
			fmt.Print(r.Trades(out.Trades, n))
		}
		return err
	},
}

var sweepCommand = &cli.Command{
	Name:  "sweep",
	Usage: "run one backtest per parameter combination",
	Flags: append([]cli.Flag{
		&cli.StringSliceFlag{Name: "grid", Aliases: []string{"g"}, Required: true, Usage: "parameter values as key=v1,v2,..."},
		&cli.IntFlag{Name: "workers", Usage: "concurrent runs (default from config)"},
	}, backtestFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ec, err := localConfig(c, cfg)
		if err != nil {
			return err
		}
		grid, err := parseGrid(c.StringSlice("grid"))
		if err != nil {
			return err
		}
		factory, ok := builtins.NewRegistry().Factory(c.String("strategy"))
		if !ok {
			return fmt.Errorf("strategy %q not registered", c.String("strategy"))
		}
		workers := cfg.Sweep.Workers
		if c.IsSet("workers") {
			workers = c.Int("workers")
		}

		eng, closeFn, err := openEngine(c.Context, cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		results, err := eng.Sweep(c.Context, ec, engine.Grid(grid), factory, workers)
		if err != nil {
			return err
		}
		if asJSON {
			return jsonOutput(results)
		}
		fmt.Print(report.New(os.Stdout).Sweep(results))
		return nil
	},
}

var strategiesCommand = &cli.Command{
	Name:  "strategies",
	Usage: "list strategies, from the server with --remote",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "remote", Usage: "ask the server instead of the local registry"},
	},
	Action: func(c *cli.Context) error {
		names := builtins.NewRegistry().List()
		if c.Bool("remote") {
			var err error
			if names, err = sa.NewClient(serverURL).ListStrategies(c.Context); err != nil {
				return err
			}
		}
		if asJSON {
			return jsonOutput(sa.StrategiesResponse{Strategies: names})
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var submitCommand = &cli.Command{
	Name:  "submit",
	Usage: "start a backtest on the server",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "wait", Usage: "poll until the run finishes and print its summary"},
		&cli.DurationFlag{Name: "every", Value: time.Second, Usage: "poll interval with --wait"},
	}, backtestFlags...),
	Action: func(c *cli.Context) error {
		params, err := parseParams(c.StringSlice("param"))
		if err != nil {
			return err
		}
		req := sa.BacktestRequest{
			Strategy: c.String("strategy"),
			Params:   params,
			Symbols:  splitSymbols(c.StringSlice("symbols")),
			Start:    c.String("start"),
			End:      c.String("end"),
		}
		if c.IsSet("capital") {
			v := c.Float64("capital")
			req.InitialCapital = &v
		}
		if c.IsSet("commission") {
			v := c.Float64("commission")
			req.CommissionRate = &v
		}
		if c.IsSet("slippage") {
			v := c.Float64("slippage")
			req.SlippageRate = &v
		}
		if c.IsSet("benchmark") {
			v := c.String("benchmark")
			req.BenchmarkSymbol = &v
		}
		if c.IsSet("warmup") {
			v := c.Int("warmup")
			req.WarmupDays = &v
		}

		client := sa.NewClient(serverURL)
		st, err := client.StartBacktest(c.Context, req)
		if err != nil {
			return err
		}
		if !c.Bool("wait") {
			return printStatus(st)
		}
		if st, err = client.WaitRun(c.Context, st.ID, c.Duration("every")); err != nil {
			return err
		}
		if st.State != "completed" {
			return printStatus(st)
		}
		return printResult(c.Context, client, st.ID)
	},
}

var runsCommand = &cli.Command{
	Name:  "runs",
	Usage: "list runs known to the server",
	Action: func(c *cli.Context) error {
		runs, err := sa.NewClient(serverURL).ListRuns(c.Context)
		if err != nil {
			return err
		}
		if asJSON {
			return jsonOutput(sa.RunsResponse{Runs: runs})
		}
		for _, r := range runs {
			fmt.Printf("%-36s  %-14s  %-9s  %5.1f%%\n", r.ID, r.Strategy, r.State, r.Progress)
		}
		return nil
	},
}

var statusCommand = &cli.Command{
	Name:      "status",
	Usage:     "show the state of a run",
	ArgsUsage: "<run-id>",
	Action: func(c *cli.Context) error {
		id, err := runID(c)
		if err != nil {
			return err
		}
		st, err := sa.NewClient(serverURL).GetRun(c.Context, id)
		if err != nil {
			return err
		}
		return printStatus(st)
	},
}

var resultCommand = &cli.Command{
	Name:      "result",
	Usage:     "print the result of a finished run",
	ArgsUsage: "<run-id>",
	Action: func(c *cli.Context) error {
		id, err := runID(c)
		if err != nil {
			return err
		}
		return printResult(c.Context, sa.NewClient(serverURL), id)
	},
}

var cancelCommand = &cli.Command{
	Name:      "cancel",
	Usage:     "cancel a pending or running run",
	ArgsUsage: "<run-id>",
	Action: func(c *cli.Context) error {
		id, err := runID(c)
		if err != nil {
			return err
		}
		st, err := sa.NewClient(serverURL).CancelRun(c.Context, id)
		if err != nil {
			return err
		}
		return printStatus(st)
	},
}

var purgeCommand = &cli.Command{
	Name:      "purge",
	Usage:     "forget a finished run and its stored result",
	ArgsUsage: "<run-id>",
	Action: func(c *cli.Context) error {
		id, err := runID(c)
		if err != nil {
			return err
		}
		if err := sa.NewClient(serverURL).PurgeRun(c.Context, id); err != nil {
			return err
		}
		fmt.Printf("%s purged\n", id)
		return nil
	},
}

var symbolsCommand = &cli.Command{
	Name:  "symbols",
	Usage: "list symbols with stored bars on the server",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "market", Value: "us", Usage: "market to list"},
	},
	Action: func(c *cli.Context) error {
		syms, err := sa.NewClient(serverURL).ListSymbols(c.Context, c.String("market"))
		if err != nil {
			return err
		}
		if asJSON {
			return jsonOutput(sa.SymbolsResponse{Symbols: syms})
		}
		for _, s := range syms {
			fmt.Println(s)
		}
		return nil
	},
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "print the CLI version",
	Action: func(c *cli.Context) error {
		fmt.Printf("backtest-cli %s\n", version)
		return nil
	},
}

func runID(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit("expected exactly one run id", 2)
	}
	return c.Args().First(), nil
}

func printStatus(st *sa.RunStatus) error {
	if asJSON {
		return jsonOutput(st)
	}
	fmt.Printf("%s  %s  %s  %.1f%%\n", st.ID, st.Strategy, st.State, st.Progress)
	if st.Error != "" {
		fmt.Printf("error: %s\n", st.Error)
	}
	return nil
}

func printResult(ctx context.Context, client *sa.Client, id string) error {
	res, err := client.GetResult(ctx, id)
	if err != nil {
		return err
	}
	if asJSON {
		return jsonOutput(res)
	}
	r := report.New(os.Stdout)
	fmt.Print(r.Summary(res))
	if len(res.Trades) > 0 {
		fmt.Println()
		fmt.Print(r.Trades(res.Trades, 10))
	}
	return nil
}
