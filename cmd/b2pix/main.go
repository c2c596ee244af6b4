// Package main runs the B2PIX exchange backend.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ronoel/b2pix-stacks-sub000/cmd/flags"
	"github.com/ronoel/b2pix-stacks-sub000/monitoring/prometheus"
	"github.com/ronoel/b2pix-stacks-sub000/node"
	"github.com/ronoel/b2pix-stacks-sub000/stackscrypto"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.VerbosityFlag,
	flags.MongoURIFlag,
	flags.DatabaseNameFlag,
	flags.ServerPortFlag,
	flags.MonitoringPortFlag,
	flags.NetworkFlag,
	flags.ManagerAddressFlag,
	flags.EscrowAddressFlag,
	flags.BoltURLFlag,
	flags.BoltAPIKeyFlag,
	flags.EfipayURLFlag,
	flags.QuoteURLFlag,
	flags.SMTPHostFlag,
	flags.SMTPPortFlag,
	flags.SMTPFromFlag,
	flags.SMTPPasswordFlag,
	flags.TrelloKeyFlag,
	flags.TrelloTokenFlag,
	flags.TrelloListFlag,
	flags.GCSBucketFlag,
	flags.DispatcherBatchSizeFlag,
	flags.DispatcherPollIntervalFlag,
	flags.DispatcherMaxConcurrentFlag,
	flags.DispatcherMaxRetriesFlag,
}

func main() {
	// A missing .env is fine; deployments set the environment directly.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "b2pix",
		Usage: "P2P exchange backend settling token sales over PIX",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the exchange node",
				Flags:  appFlags,
				Before: setup,
				Action: run,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err.Error())
	}
}

func setup(ctx *cli.Context) error {
	level, err := logrus.ParseLevel(ctx.String(flags.VerbosityFlag.Name))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.AddHook(prometheus.NewLogrusCollector())
	return nil
}

func run(ctx *cli.Context) error {
	network := stackscrypto.Testnet
	if flags.Network() == "mainnet" {
		network = stackscrypto.Mainnet
	}

	cfg := &node.Config{
		MongoURI:     ctx.String(flags.MongoURIFlag.Name),
		DatabaseName: ctx.String(flags.DatabaseNameFlag.Name),

		ServerPort:     ctx.Int(flags.ServerPortFlag.Name),
		MonitoringPort: ctx.Int(flags.MonitoringPortFlag.Name),

		Network:        network,
		ManagerAddress: ctx.String(flags.ManagerAddressFlag.Name),
		EscrowAddress:  ctx.String(flags.EscrowAddressFlag.Name),

		BoltURL:    ctx.String(flags.BoltURLFlag.Name),
		BoltAPIKey: ctx.String(flags.BoltAPIKeyFlag.Name),
		EfipayURL:  ctx.String(flags.EfipayURLFlag.Name),
		QuoteURL:   ctx.String(flags.QuoteURLFlag.Name),

		SMTPHost:     ctx.String(flags.SMTPHostFlag.Name),
		SMTPPort:     ctx.String(flags.SMTPPortFlag.Name),
		SMTPFrom:     ctx.String(flags.SMTPFromFlag.Name),
		SMTPPassword: ctx.String(flags.SMTPPasswordFlag.Name),

		TrelloKey:    ctx.String(flags.TrelloKeyFlag.Name),
		TrelloToken:  ctx.String(flags.TrelloTokenFlag.Name),
		TrelloListID: ctx.String(flags.TrelloListFlag.Name),

		GCSBucket: ctx.String(flags.GCSBucketFlag.Name),

		DispatcherBatchSize:     ctx.Int64(flags.DispatcherBatchSizeFlag.Name),
		DispatcherPollInterval:  ctx.Duration(flags.DispatcherPollIntervalFlag.Name),
		DispatcherMaxConcurrent: ctx.Int(flags.DispatcherMaxConcurrentFlag.Name),
		DispatcherMaxRetries:    ctx.Int64(flags.DispatcherMaxRetriesFlag.Name),
	}

	n, err := node.New(ctx.Context, cfg)
	if err != nil {
		return err
	}
	n.Start()
	return nil
}
