// Package node assembles the full exchange process: database, domain
// services, event dispatch, periodic reconciliation, the HTTP API and
// monitoring, all managed through one service registry.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ronoel/b2pix-stacks-sub000/api"
	"github.com/ronoel/b2pix-stacks-sub000/clients/bolt"
	"github.com/ronoel/b2pix-stacks-sub000/clients/efipay"
	"github.com/ronoel/b2pix-stacks-sub000/clients/gcs"
	"github.com/ronoel/b2pix-stacks-sub000/clients/mail"
	"github.com/ronoel/b2pix-stacks-sub000/clients/trello"
	"github.com/ronoel/b2pix-stacks-sub000/db"
	"github.com/ronoel/b2pix-stacks-sub000/events"
	"github.com/ronoel/b2pix-stacks-sub000/handlers"
	"github.com/ronoel/b2pix-stacks-sub000/monitoring/prometheus"
	"github.com/ronoel/b2pix-stacks-sub000/pricing"
	"github.com/ronoel/b2pix-stacks-sub000/runtime"
	"github.com/ronoel/b2pix-stacks-sub000/scheduler"
	"github.com/ronoel/b2pix-stacks-sub000/services"
	"github.com/ronoel/b2pix-stacks-sub000/stackscrypto"
	"github.com/ronoel/b2pix-stacks-sub000/tasks"
)

var log = logrus.WithField("prefix", "node")

// Task cadences. The payment-request verifier runs tighter than the rest so
// buyers see their payout confirm quickly.
const (
	taskStagger             = 2 * time.Second
	depositConfirmInterval  = 60 * time.Second
	adTxVerifyInterval      = 60 * time.Second
	adFinishInterval        = 60 * time.Second
	buyExpireInterval       = 60 * time.Second
	paymentVerifyInterval   = 60 * time.Second
	disputeSettleInterval   = 60 * time.Second
	requestVerifyInterval   = 30 * time.Second
	autopayRetryInterval    = 60 * time.Second
)

// Config carries everything the process needs, resolved from flags.
type Config struct {
	MongoURI     string
	DatabaseName string

	ServerPort     int
	MonitoringPort int

	Network        stackscrypto.Network
	ManagerAddress string
	EscrowAddress  string

	BoltURL    string
	BoltAPIKey string
	EfipayURL  string
	QuoteURL   string

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPPassword string

	TrelloKey    string
	TrelloToken  string
	TrelloListID string

	GCSBucket string

	DispatcherBatchSize     int64
	DispatcherPollInterval  time.Duration
	DispatcherMaxConcurrent int
	DispatcherMaxRetries    int64
}

// Node is the exchange process.
type Node struct {
	ctx      context.Context
	cancel   context.CancelFunc
	db       *db.Database
	services *runtime.ServiceRegistry
	lock     sync.Mutex
	stop     chan struct{}
}

// New builds the node: opens the database, wires every client, service,
// handler and task, and registers the long-running services.
func New(ctx context.Context, cfg *Config) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)
	n := &Node{
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	database, err := db.Open(ctx, cfg.MongoURI, cfg.DatabaseName)
	if err != nil {
		cancel()
		return nil, err
	}
	n.db = database
	if err := database.EnsureIndexes(ctx); err != nil {
		cancel()
		return nil, errors.Wrap(err, "could not ensure indexes")
	}

	ads := database.Advertisements()
	deposits := database.Deposits()
	buys := database.Buys()
	requests := database.PaymentRequests()
	invites := database.Invites()
	creds := database.BankCredentials()
	eventStore := database.Events()

	chain := bolt.New(cfg.BoltURL, cfg.BoltAPIKey)
	bank := efipay.New(cfg.EfipayURL)
	objects, err := gcs.New(ctx, cfg.GCSBucket)
	if err != nil {
		cancel()
		return nil, err
	}
	sender := mail.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPPassword)
	board := trello.New(cfg.TrelloKey, cfg.TrelloToken, cfg.TrelloListID)
	quoter := pricing.NewQuoter(pricing.NewHTTPSource(cfg.QuoteURL))

	registry := events.NewRegistry()
	publisher := events.NewPublisher(eventStore, registry)

	adSvc := services.NewAdvertisementService(ads, creds, bank, objects)
	bankSvc := services.NewBankService(creds, objects)
	depositSvc := services.NewDepositService(ads, deposits, publisher)
	paySvc := services.NewPaymentRequestService(requests, publisher)
	buySvc := services.NewBuyService(ads, buys, adSvc, quoter, publisher)
	inviteSvc := services.NewInviteService(invites, publisher)

	depositHandler := handlers.NewDepositCreatedHandler(deposits, ads, chain, cfg.EscrowAddress)
	payHandler := handlers.NewAutomaticPayHandler(paySvc, chain)
	mailHandler := handlers.NewMailHandler(sender)
	trelloHandler := handlers.NewTrelloHandler(board)

	registry.Register(events.EventAdvertisementDepositCreated, depositHandler)
	registry.Register(events.EventPaymentRequestCreated, payHandler)
	registry.Register(events.EventInviteCreated, mailHandler)
	registry.Register(events.EventBuyInDispute, trelloHandler)
	registry.Register(events.EventPaymentRequestFailed, trelloHandler)

	dispatcher := events.NewDispatcher(ctx, events.DispatcherConfig{
		Store:         eventStore,
		Registry:      registry,
		BatchSize:     cfg.DispatcherBatchSize,
		PollInterval:  cfg.DispatcherPollInterval,
		MaxConcurrent: cfg.DispatcherMaxConcurrent,
		MaxRetries:    cfg.DispatcherMaxRetries,
	})

	sched := scheduler.New(ctx, taskStagger)
	sched.Register(tasks.NewAdvertisementTxVerifier(ads, deposits, adTxVerifyInterval))
	sched.Register(tasks.NewAdvertisementFinisher(ads, buys, paySvc, publisher, adFinishInterval))
	sched.Register(tasks.NewDepositConfirmer(deposits, ads, chain, publisher, depositConfirmInterval))
	sched.Register(tasks.NewBuyExpirer(buys, ads, buyExpireInterval))
	sched.Register(tasks.NewPaymentVerifier(buys, ads, creds, adSvc, bank, paySvc, publisher, paymentVerifyInterval))
	sched.Register(tasks.NewDisputeSellerSettler(buys, ads, disputeSettleInterval))
	sched.Register(tasks.NewDisputeBuyerSettler(buys, paySvc, disputeSettleInterval))
	sched.Register(tasks.NewPaymentRequestVerifier(requests, paySvc, chain, requestVerifyInterval))
	sched.Register(tasks.NewAutomaticPayRetry(requests, payHandler, autopayRetryInterval))

	apiSvc := api.NewService(&api.Config{
		Addr:           fmt.Sprintf(":%d", cfg.ServerPort),
		ManagerAddress: cfg.ManagerAddress,
		Network:        cfg.Network,
		Invites:        inviteSvc,
		Bank:           bankSvc,
		Ads:            adSvc,
		Deposits:       depositSvc,
		Buys:           buySvc,
		Events:         eventStore,
	})

	monitoringSvc := prometheus.NewService(fmt.Sprintf(":%d", cfg.MonitoringPort), n.services)

	for _, svc := range []runtime.Service{dispatcher, sched, apiSvc, monitoringSvc} {
		if err := n.services.RegisterService(svc); err != nil {
			cancel()
			return nil, err
		}
	}
	return n, nil
}

// Start launches every registered service and blocks until a shutdown
// signal or an explicit Close.
func (n *Node) Start() {
	n.lock.Lock()
	n.services.StartAll()
	stop := n.stop
	n.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the exchange node")
	}()

	<-stop
}

// Close stops every service in reverse registration order and releases the
// database.
func (n *Node) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping exchange node")
	n.services.StopAll()
	n.cancel()
	if err := n.db.Close(context.Background()); err != nil {
		log.WithError(err).Error("Could not close database")
	}
	close(n.stop)
}
