package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/defistate/defistate-oracle-go/config"
	"github.com/defistate/defistate-oracle-go/node"
	"github.com/defistate/defistate-oracle-go/server"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config, c",
		Value: "oracled.yaml",
		Usage: "path to the configuration file (.yaml, .yml or .toml)",
	}
	tokenInFlag = cli.StringFlag{
		Name:  "token-in",
		Usage: "address of the token being sold",
	}
	tokenOutFlag = cli.StringFlag{
		Name:  "token-out",
		Usage: "address of the token being bought",
	}
	amountInFlag = cli.StringFlag{
		Name:  "amount-in",
		Value: "1",
		Usage: "amount of token-in in its smallest unit",
	}
	configureFlag = cli.BoolFlag{
		Name:  "configure",
		Usage: "add support for the pair if it has none before quoting",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "oracled"
	app.Usage = "multi-backend price oracle"
	app.Flags = []cli.Flag{configFlag}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "serve quotes over HTTP until interrupted",
			Action: serve,
		},
		{
			Name:   "quote",
			Usage:  "print one quote and exit",
			Flags:  []cli.Flag{tokenInFlag, tokenOutFlag, amountInFlag, configureFlag},
			Action: quote,
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("oracled failed", "error", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closeLog, nil
}

func serve(c *cli.Context) error {
	cfg, logger, closeLog, err := setup(c)
	if err != nil {
		return err
	}
	defer closeLog()

	// Cancel on Ctrl+C or a termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, cfg, node.Options{
		Logger:     logger,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logger.Error("Failed to assemble node", "error", err)
		return err
	}
	defer n.Close()

	if url := cfg.Twap.StreamURL; url != "" {
		stream, err := n.StreamPools(ctx, url)
		if err != nil {
			return err
		}
		go func() {
			<-stream.Err()
			logger.Info("pool stream stopped")
		}()
	}

	srv, err := server.New(&server.Config{
		Oracle:            n.Oracle(),
		Assignments:       n.Aggregator,
		Multicall:         n.Multicall,
		Logger:            logger.With("component", "http"),
		Registerer:        prometheus.DefaultRegisterer,
		Gatherer:          prometheus.DefaultGatherer,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		Burst:             cfg.Server.Burst,
	})
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, cfg.Server.Listen)
}

func quote(c *cli.Context) error {
	for _, name := range []string{tokenInFlag.Name, tokenOutFlag.Name} {
		if !common.IsHexAddress(c.String(name)) {
			return fmt.Errorf("--%s must be an address", name)
		}
	}
	tokenIn := common.HexToAddress(c.String(tokenInFlag.Name))
	tokenOut := common.HexToAddress(c.String(tokenOutFlag.Name))
	amountIn, ok := new(big.Int).SetString(c.String(amountInFlag.Name), 10)
	if !ok {
		return errors.New("--amount-in must be a base 10 integer")
	}

	cfg, logger, closeLog, err := setup(c)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := context.Background()
	n, err := node.New(ctx, cfg, node.Options{
		Logger:     logger,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		return err
	}
	defer n.Close()

	oracle := n.Oracle()
	if c.Bool(configureFlag.Name) {
		if err := oracle.AddSupportForPairIfNeeded(ctx, tokenIn, tokenOut, nil); err != nil {
			return err
		}
	}
	amountOut, err := oracle.Quote(ctx, tokenIn, amountIn, tokenOut, nil)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(map[string]string{
		"tokenIn":   tokenIn.Hex(),
		"tokenOut":  tokenOut.Hex(),
		"amountIn":  amountIn.String(),
		"amountOut": amountOut.String(),
	})
}
