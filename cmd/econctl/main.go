// Command econctl drives a running economy server through its admin API.
// It can trigger single steps or run as an interval scheduler.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/talgya/agent-economy/internal/trigger"
)

var (
	apiURLFlag = cli.StringFlag{
		Name:   "api",
		Value:  "http://localhost:8080",
		Usage:  "Economy API base URL",
		EnvVar: "ECON_API_URL",
	}
	adminKeyFlag = cli.StringFlag{
		Name:   "key",
		Usage:  "Admin bearer key",
		EnvVar: "ECON_ADMIN_KEY",
	}
	eventFlag = cli.StringFlag{
		Name:  "event",
		Usage: "Force the epoch event (normal, boom, recession, opportunity)",
	}
	seedFlag = cli.Int64Flag{
		Name:  "seed",
		Usage: "Force the epoch seed",
	}
	epochFlag = cli.Int64Flag{
		Name:  "epoch",
		Usage: "Target epoch (default: latest)",
	}
	intervalFlag = cli.DurationFlag{
		Name:   "interval",
		Value:  time.Hour,
		Usage:  "Time between cycles",
		EnvVar: "ECON_WATCH_INTERVAL",
	}
	retriesFlag = cli.IntFlag{
		Name:  "retries",
		Value: 2,
		Usage: "Extra attempts for a failed cycle",
	}
)

var epochFlags = []cli.Flag{eventFlag, seedFlag}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	app := cli.NewApp()
	app.Name = "econctl"
	app.Usage = "control an agent economy server"
	app.Flags = []cli.Flag{apiURLFlag, adminKeyFlag}
	app.Commands = []cli.Command{
		{
			Name:   "status",
			Usage:  "Show server status",
			Action: statusCmd,
		},
		{
			Name:   "init",
			Usage:  "Create the agent roster",
			Action: initCmd,
		},
		{
			Name:   "epoch",
			Usage:  "Run one epoch (follow-ups are queued server-side)",
			Flags:  epochFlags,
			Action: epochCmd,
		},
		{
			Name:   "cycle",
			Usage:  "Run one epoch with settlement, diaries and posts",
			Flags:  epochFlags,
			Action: cycleCmd,
		},
		{
			Name:   "settle",
			Usage:  "Settle open bets",
			Flags:  []cli.Flag{epochFlag},
			Action: settleCmd,
		},
		{
			Name:   "diaries",
			Usage:  "Generate agent diaries",
			Flags:  []cli.Flag{epochFlag},
			Action: diariesCmd,
		},
		{
			Name:   "social",
			Usage:  "Generate social posts for the latest epoch",
			Action: socialCmd,
		},
		{
			Name:        "watch",
			Usage:       "Trigger a cycle on an interval",
			Flags:       append([]cli.Flag{intervalFlag, retriesFlag}, epochFlags...),
			Action:      watchCmd,
			Description: "Waits for the API to become ready, runs one cycle immediately, then one per interval.",
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newClient(ctx *cli.Context) (*trigger.Client, error) {
	key := ctx.GlobalString(adminKeyFlag.Name)
	if key == "" {
		return nil, fmt.Errorf("admin key required (--%s or %s)", adminKeyFlag.Name, adminKeyFlag.EnvVar)
	}
	return trigger.NewClient(ctx.GlobalString(apiURLFlag.Name), key), nil
}

func epochOptions(ctx *cli.Context) trigger.EpochOptions {
	opts := trigger.EpochOptions{Event: ctx.String(eventFlag.Name)}
	if ctx.IsSet(seedFlag.Name) {
		seed := ctx.Int64(seedFlag.Name)
		opts.Seed = &seed
	}
	return opts
}

func targetEpoch(ctx *cli.Context) *int64 {
	if !ctx.IsSet(epochFlag.Name) {
		return nil
	}
	epoch := ctx.Int64(epochFlag.Name)
	return &epoch
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCmd(ctx *cli.Context) error {
	c := trigger.NewClient(ctx.GlobalString(apiURLFlag.Name), "")
	sctx, cancel := signalContext()
	defer cancel()

	st, err := c.Status(sctx)
	if err != nil {
		return err
	}
	return printJSON(st)
}

func initCmd(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	sctx, cancel := signalContext()
	defer cancel()

	n, err := c.Init(sctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d agents\n", n)
	return nil
}

func epochCmd(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	sctx, cancel := signalContext()
	defer cancel()

	res, err := c.Epoch(sctx, epochOptions(ctx))
	if err != nil {
		return err
	}
	fmt.Printf("epoch %d (%s, seed %d): %d transactions, %d bankruptcies\n",
		res.Epoch, res.Event, res.Seed, res.TransactionCount, len(res.Bankruptcies))
	return nil
}

func cycleCmd(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	sctx, cancel := signalContext()
	defer cancel()

	res, err := c.Cycle(sctx, epochOptions(ctx))
	if err != nil {
		return err
	}
	return printJSON(res)
}

func settleCmd(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	sctx, cancel := signalContext()
	defer cancel()

	res, err := c.Settle(sctx, targetEpoch(ctx))
	if err != nil {
		return err
	}
	fmt.Printf("epoch %d: settled %d bets, %d wins, %d points paid\n", res.Epoch, res.Settled, res.Wins, res.PaidOut)
	return nil
}

func diariesCmd(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	sctx, cancel := signalContext()
	defer cancel()

	res, err := c.Diaries(sctx, targetEpoch(ctx))
	if err != nil {
		return err
	}
	return printJSON(res)
}

func socialCmd(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	sctx, cancel := signalContext()
	defer cancel()

	res, err := c.Social(sctx)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func watchCmd(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	sctx, cancel := signalContext()
	defer cancel()

	w := trigger.NewWatcher(c, ctx.Duration(intervalFlag.Name))
	w.Retries = ctx.Int(retriesFlag.Name)
	w.Options = epochOptions(ctx)

	slog.Info("econctl watch starting", "api_url", c.BaseURL, "interval", w.Interval)
	err = w.Run(sctx)
	slog.Info("econctl watch stopped")
	return err
}
