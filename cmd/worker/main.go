// Command worker runs the settlement job handlers and the reconciliation
// schedules.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"editions/internal/bootstrap"
	"editions/internal/chain"
	"editions/internal/config"
	"editions/internal/crm"
	"editions/internal/inbox"
	"editions/internal/mailer"
	"editions/internal/middleware"
	"editions/internal/reconcile"
	"editions/internal/server"
	"editions/internal/settlement"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{ServiceName: "editions-worker"})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			middleware.Logger.Error("runtime close", slog.String("error", err.Error()))
		}
	}()

	if !bootstrap.ChainConfigured(cfg) {
		return errors.New("RELAY_URL and MANAGER_SIGNER_KEY are required to run the worker")
	}
	chainClient, err := bootstrap.DialChain(ctx, cfg)
	if err != nil {
		return err
	}

	notes, err := inbox.Connect(ctx, cfg.AWSRegion, cfg.NotificationTable)
	if err != nil {
		return err
	}

	crmClient := crm.NewClient(crm.Config{
		Host:         cfg.SalesforceHost,
		ClientID:     cfg.SalesforceClientID,
		ClientSecret: cfg.SalesforceClientSecret,
		Username:     cfg.SalesforceUser,
		Password:     cfg.SalesforcePassword,
	}, bootstrap.HTTPClient())

	handlers := &settlement.Handlers{
		Worker: settlement.NewWorker(rt.Ledger, chainClient, rt.Notifier, settlement.Config{
			MaxGasPrice: chain.GweiToWei(cfg.MaxGasPriceGwei),
			ClaimLease:  time.Duration(cfg.MintClaimLeaseMinutes) * time.Minute,
		}),
		Mailer:      mailer.New(cfg.SendgridAPIKey, cfg.MailFrom),
		CRM:         crm.NewSyncer(crmClient, rt.Ledger),
		Subscribers: rt.Ledger,
		Inbox:       notes,
		Jobs:        rt.Queue,
		PageLimit:   cfg.InboxNotificationPageLimit,
	}

	scheduler, err := reconcile.NewScheduler(
		rt.NewReconciler(chainClient, bootstrap.Gateway(cfg)),
		cfg.SweepSchedule,
		cfg.CRMRollupSchedule,
	)
	if err != nil {
		return err
	}

	ops := server.NewOpsApp(rt.DB, rt.Redis,
		fiberprometheus.NewWithRegistry(prometheus.DefaultRegisterer, "editions-worker", "http", "", nil))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return settlement.Run(ctx, rt.Queue, handlers)
	})
	g.Go(func() error {
		scheduler.Start()
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return scheduler.Stop(stopCtx)
	})
	g.Go(func() error {
		middleware.Logger.Info("worker ops server starting", slog.String("port", cfg.WorkerPort))
		return ops.Listen(":" + cfg.WorkerPort)
	})
	g.Go(func() error {
		<-ctx.Done()
		return ops.ShutdownWithTimeout(5 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	middleware.Logger.Info("worker stopped")
	return nil
}
