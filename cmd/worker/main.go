package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailsuite/config"
	"mailsuite/internal/account"
	"mailsuite/internal/imapx"
	"mailsuite/internal/notify"
	"mailsuite/internal/outbox"
	"mailsuite/internal/repository"
	"mailsuite/internal/smtpx"
	"mailsuite/internal/syncer"
	"mailsuite/internal/vault"
	"mailsuite/pkg/db"
	"mailsuite/pkg/lock"
	"mailsuite/pkg/logger"
	"mailsuite/pkg/mq"
	"mailsuite/pkg/redisclient"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting mail worker...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	if err := repository.EnsureSchema(ctx, dbConn); err != nil {
		log.Fatal("Schema initialization failed", zap.Error(err))
	}

	rdb := redisclient.New(cfg.Redis)
	defer rdb.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ initialization failed", zap.Error(err))
	}
	defer publisher.Close()
	notifier := notify.NewMQNotifier(publisher, log)

	outboxRepo := repository.NewOutboxRepository(dbConn)
	messageRepo := repository.NewMessageRepository(dbConn)
	credentialRepo := repository.NewCredentialRepository(dbConn)

	accounts := account.NewService(vault.New(cfg.Vault.Secret), credentialRepo)

	sender := smtpx.NewClient(cfg.SMTP)
	dispatcher := outbox.NewDispatcher(outboxRepo, messageRepo, sender, notifier, log).
		WithMaxAttempts(cfg.Outbox.MaxAttempts).
		WithRetryDelay(cfg.Outbox.RetryDelay()).
		WithInterval(cfg.Outbox.TickInterval()).
		WithBatchSize(cfg.Outbox.BatchSize)

	connector := imapx.NewDialer(cfg.IMAP.Host, cfg.IMAP.Port, cfg.IMAP.TLS)
	syncLocker := lock.NewLocker(rdb, 10*time.Minute)
	syncService := syncer.NewService(connector, messageRepo, notifier, log).
		WithLocker(syncLocker).
		WithFetchLimit(cfg.Sync.FetchLimit)

	go dispatcher.Start(ctx)
	go runSyncLoop(ctx, cfg.Sync.Interval(), accounts, syncService, log)
	go watchPublisher(ctx, publisher, log)

	log.Info("Mail worker running")
	<-ctx.Done()
	log.Info("Mail worker shutting down")
}

// runSyncLoop periodically mirrors every stored account. Users sync
// concurrently with each other by instance count only; a single user's
// folders always sync sequentially over one session.
func runSyncLoop(
	ctx context.Context,
	interval time.Duration,
	accounts *account.Service,
	syncService *syncer.Service,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncAll(ctx, accounts, syncService, log)
		}
	}
}

func syncAll(ctx context.Context, accounts *account.Service, syncService *syncer.Service, log *zap.Logger) {
	creds, err := accounts.List(ctx)
	if err != nil {
		log.Error("Failed to list mailbox accounts", zap.Error(err))
		return
	}

	for _, cred := range creds {
		password, err := accounts.Decrypt(cred.Encrypted)
		if err != nil {
			log.Error("Skipping account with unreadable credential",
				zap.Int64("user_id", cred.UserID),
				zap.Error(err),
			)
			continue
		}

		result, err := syncService.SyncAllFolders(ctx, cred.UserID, syncer.Credentials{
			Username: cred.Address,
			Password: password,
		})
		if err != nil {
			log.Warn("Mailbox sync failed",
				zap.Int64("user_id", cred.UserID),
				zap.Error(err),
			)
			continue
		}
		log.Info("Mailbox sync finished",
			zap.Int64("user_id", cred.UserID),
			zap.Int("synced", result.Synced),
			zap.Int("errors", result.Errors),
		)
	}
}

// watchPublisher reports when the notification broker connection drops
// so operators see degraded delivery before users do.
func watchPublisher(ctx context.Context, publisher *mq.Publisher, log *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !publisher.IsConnected() {
				log.Warn("Notification broker connection is down")
			}
		}
	}
}
