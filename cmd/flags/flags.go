// Package flags defines the process configuration. Every flag binds an
// environment variable so deployments configure through the environment and
// the CLI stays a single run command.
package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

var network string

// Network returns the parsed value of NetworkFlag.
func Network() string {
	return network
}

var (
	// VerbosityFlag defines the logrus logging level.
	VerbosityFlag = &cli.StringFlag{
		Name:    "verbosity",
		Usage:   "Logging verbosity (trace, debug, info, warn, error, fatal, panic)",
		Value:   "info",
		EnvVars: []string{"VERBOSITY"},
	}
	// MongoURIFlag is the MongoDB connection string.
	MongoURIFlag = &cli.StringFlag{
		Name:    "mongodb-uri",
		Usage:   "MongoDB connection string",
		Value:   "mongodb://localhost:27017",
		EnvVars: []string{"MONGODB_URI"},
	}
	// DatabaseNameFlag is the Mongo database holding every collection.
	DatabaseNameFlag = &cli.StringFlag{
		Name:    "database-name",
		Usage:   "MongoDB database name",
		Value:   "b2pix",
		EnvVars: []string{"DATABASE_NAME"},
	}
	// ServerPortFlag is the HTTP API listen port.
	ServerPortFlag = &cli.IntFlag{
		Name:    "server-port",
		Usage:   "HTTP API listen port",
		Value:   8080,
		EnvVars: []string{"SERVER_PORT"},
	}
	// MonitoringPortFlag is the metrics and health listen port.
	MonitoringPortFlag = &cli.IntFlag{
		Name:    "monitoring-port",
		Usage:   "Prometheus metrics and health listen port",
		Value:   8081,
		EnvVars: []string{"MONITORING_PORT"},
	}
	// NetworkFlag selects the Stacks network used to derive addresses.
	NetworkFlag = (&EnumValue{
		Name:        "network",
		Usage:       "Stacks network for address derivation",
		Destination: &network,
		Enum:        []string{"mainnet", "testnet"},
		Value:       "testnet",
		EnvVars:     []string{"NETWORK"},
	}).GenericFlag()
	// ManagerAddressFlag is the address whose signature authorizes
	// manager-only actions.
	ManagerAddressFlag = &cli.StringFlag{
		Name:     "manager-address",
		Usage:    "Stacks address authorized for manager actions",
		Required: true,
		EnvVars:  []string{"ADDRESS_MANAGER"},
	}
	// EscrowAddressFlag is the platform escrow address deposits must pay.
	EscrowAddressFlag = &cli.StringFlag{
		Name:     "escrow-address",
		Usage:    "Platform escrow address receiving deposits",
		Required: true,
		EnvVars:  []string{"ESCROW_ADDRESS"},
	}
)

// Blockchain service.
var (
	BoltURLFlag = &cli.StringFlag{
		Name:    "bolt-url",
		Usage:   "Base URL of the Bolt blockchain service",
		Value:   "https://bolt.b2pix.org",
		EnvVars: []string{"BOLT_API_URL"},
	}
	BoltAPIKeyFlag = &cli.StringFlag{
		Name:    "bolt-api-key",
		Usage:   "API key for the Bolt blockchain service",
		EnvVars: []string{"BOLT_API_KEY"},
	}
)

// PIX bank and market quote.
var (
	EfipayURLFlag = &cli.StringFlag{
		Name:    "efipay-url",
		Usage:   "Base URL of the EFI Pay API",
		Value:   "https://pix.api.efipay.com.br",
		EnvVars: []string{"EFIPAY_API_URL"},
	}
	QuoteURLFlag = &cli.StringFlag{
		Name:     "quote-url",
		Usage:    "Market price quote endpoint",
		Required: true,
		EnvVars:  []string{"QUOTE_API_URL"},
	}
)

// Notification channels and object storage.
var (
	SMTPHostFlag = &cli.StringFlag{
		Name:    "smtp-host",
		Usage:   "SMTP server host",
		EnvVars: []string{"SMTP_HOST"},
	}
	SMTPPortFlag = &cli.StringFlag{
		Name:    "smtp-port",
		Usage:   "SMTP server port",
		Value:   "587",
		EnvVars: []string{"SMTP_PORT"},
	}
	SMTPFromFlag = &cli.StringFlag{
		Name:    "smtp-from",
		Usage:   "Sender address for notification email",
		EnvVars: []string{"SMTP_FROM"},
	}
	SMTPPasswordFlag = &cli.StringFlag{
		Name:    "smtp-password",
		Usage:   "Password for the sender address",
		EnvVars: []string{"SMTP_PASSWORD"},
	}
	TrelloKeyFlag = &cli.StringFlag{
		Name:    "trello-key",
		Usage:   "Trello API key",
		EnvVars: []string{"TRELLO_KEY"},
	}
	TrelloTokenFlag = &cli.StringFlag{
		Name:    "trello-token",
		Usage:   "Trello API token",
		EnvVars: []string{"TRELLO_TOKEN"},
	}
	TrelloListFlag = &cli.StringFlag{
		Name:    "trello-list-id",
		Usage:   "Trello list receiving operator cards",
		EnvVars: []string{"TRELLO_LIST_ID"},
	}
	GCSBucketFlag = &cli.StringFlag{
		Name:     "gcs-bucket",
		Usage:    "Google Cloud Storage bucket for certificates",
		Required: true,
		EnvVars:  []string{"GCS_BUCKET"},
	}
)

// Event dispatcher tunables. Zero values fall back to the dispatcher
// defaults.
var (
	DispatcherBatchSizeFlag = &cli.Int64Flag{
		Name:    "dispatcher-batch-size",
		Usage:   "Consumers fetched per dispatch tick",
		Value:   50,
		EnvVars: []string{"DISPATCHER_BATCH_SIZE"},
	}
	DispatcherPollIntervalFlag = &cli.DurationFlag{
		Name:    "dispatcher-poll-interval",
		Usage:   "Delay between dispatch ticks",
		Value:   5 * time.Second,
		EnvVars: []string{"DISPATCHER_POLL_INTERVAL"},
	}
	DispatcherMaxConcurrentFlag = &cli.IntFlag{
		Name:    "dispatcher-max-concurrent",
		Usage:   "Consumers executed concurrently",
		Value:   10,
		EnvVars: []string{"DISPATCHER_MAX_CONCURRENT"},
	}
	DispatcherMaxRetriesFlag = &cli.Int64Flag{
		Name:    "dispatcher-max-retries",
		Usage:   "Delivery attempts before a consumer is parked",
		Value:   10,
		EnvVars: []string{"DISPATCHER_MAX_RETRIES"},
	}
)
