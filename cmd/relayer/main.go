// Command relayer runs the transaction relayer as a long-lived process: it
// loads configuration, provisions or unlocks the wallet pool, wires C1
// through C5 together, and drives the scheduler's worker loop until it
// receives SIGINT or SIGTERM. The HTTP/WebSocket framing that would expose
// relayer.Core to callers is a separate concern and is not built here; this
// binary is the process boundary, not the API.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/express402/relayer/chainkit/storage"
	"github.com/express402/relayer/internal/admission"
	"github.com/express402/relayer/internal/chain"
	"github.com/express402/relayer/internal/config"
	"github.com/express402/relayer/internal/kvstore"
	"github.com/express402/relayer/internal/lifecycle"
	"github.com/express402/relayer/internal/metrics"
	"github.com/express402/relayer/internal/models"
	"github.com/express402/relayer/internal/queue"
	"github.com/express402/relayer/internal/relayer"
	"github.com/express402/relayer/internal/scheduler"
	auditsvc "github.com/express402/relayer/internal/services/audit"
	"github.com/express402/relayer/internal/walletpool"
)

func main() {
	configPath := flag.String("config", "", "path to a relayer config file (optional; env vars and defaults otherwise)")
	devLog := flag.Bool("dev-log", false, "use zap's development logger (console, debug level) instead of the production JSON logger")
	flag.Parse()

	log, err := newLogger(*devLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayer: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*configPath, log); err != nil {
		log.Fatal("relayer exited with error", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(configPath string, log *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := buildStore(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build kv store: %w", err)
	}
	defer store.Close()

	auditLog, err := auditsvc.NewFileLog(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("failed to build audit log: %w", err)
	}

	wallets, err := loadWallets(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to provision wallet pool: %w", err)
	}
	log.Info("wallet pool ready", zap.Int("wallet_count", len(wallets)))

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)

	chainSvc := chain.NewService(chain.Config{
		ChainID:     fmt.Sprintf("%d", cfg.ChainID),
		NetworkID:   cfg.ChainID,
		RPCEndpoint: cfg.RPCEndpoint,
		RPCTimeout:  30 * time.Second,
		Metrics:     recorder,
	}, storage.NewMemoryTxStore())

	minBalance, err := parseOptionalAmount(cfg.MinBalanceThreshold)
	if err != nil {
		return fmt.Errorf("invalid min_balance_threshold: %w", err)
	}
	maxAmount, err := parseOptionalAmount(cfg.MaxTransactionAmount)
	if err != nil {
		return fmt.Errorf("invalid max_transaction_amount: %w", err)
	}
	maxGasPrice, err := parseOptionalAmount(cfg.MaxGasPrice)
	if err != nil {
		return fmt.Errorf("invalid max_gas_price: %w", err)
	}
	minGasPrice, err := parseOptionalAmount(cfg.MinGasPrice)
	if err != nil {
		return fmt.Errorf("invalid min_gas_price: %w", err)
	}

	core := relayer.New(relayer.Config{
		Store:   store,
		Chain:   chainSvc,
		Wallets: wallets,
		Audit:   auditLog,
		Logger:  log,
		APIKeys: cfg.APIKeys,
		Admission: admission.Config{
			SignatureWindow:      cfg.SignatureWindow,
			ReplayTTL:            cfg.ReplayTTL(),
			RollbackTTL:          cfg.RollbackTTL,
			MaxTransactionAmount: maxAmount,
		},
		Queue: queueConfig(cfg),
		WalletPool: walletpool.Config{
			MinBalanceThreshold: minBalance,
			BalancePollInterval: cfg.BalancePollInterval,
		},
		Lifecycle: lifecycleConfig(cfg, maxGasPrice, minGasPrice),
		Scheduler: schedulerConfig(cfg),
		LedgerTTL: cfg.PrepaidTTL,
		RateLimit: int64(cfg.MaxRequestsPerMinute),
		RateWindow: time.Minute,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("relayer starting",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc_endpoint", cfg.RPCEndpoint),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- core.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining in-flight jobs")
		<-errCh
		log.Info("relayer stopped cleanly")
		return nil
	case err := <-errCh:
		return err
	}
}

// buildStore connects to Redis when redis_addr is configured and reachable,
// per the persisted state layout's production backend. There is no
// in-memory fallback here: an unreachable store at startup is a
// configuration error the operator needs to see, not something to paper
// over with degraded durability.
func buildStore(cfg *config.Config, log *zap.Logger) (kvstore.Store, error) {
	log.Info("connecting to kv store", zap.String("redis_addr", cfg.RedisAddr), zap.Int("redis_db", cfg.RedisDB))
	return kvstore.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

// loadWallets unlocks an existing encrypted keystore if wallet_keystore_path
// is configured and present, otherwise derives a fresh wallet pool from
// wallet_mnemonic and persists it to that path for the next restart.
func loadWallets(cfg *config.Config, log *zap.Logger) ([]*models.RelayerWallet, error) {
	if cfg.WalletKeystorePath != "" {
		if _, err := os.Stat(cfg.WalletKeystorePath); err == nil {
			log.Info("unlocking wallet pool from encrypted keystore", zap.String("path", cfg.WalletKeystorePath))
			addrs, keys, err := walletpool.LoadEncryptedKeystore(cfg.WalletKeystorePath, cfg.WalletPassphrase)
			if err != nil {
				return nil, err
			}
			wallets := make([]*models.RelayerWallet, len(addrs))
			for i := range addrs {
				wallets[i] = models.NewRelayerWallet(addrs[i], keys[i])
			}
			return wallets, nil
		}
	}

	log.Info("deriving wallet pool from mnemonic", zap.Int("wallet_count", cfg.WalletKeys))
	wallets, err := walletpool.Provision(walletpool.ProvisionConfig{
		Mnemonic:    cfg.WalletMnemonic,
		Passphrase:  cfg.WalletPassphrase,
		WalletCount: cfg.WalletKeys,
	})
	if err != nil {
		return nil, err
	}

	if cfg.WalletKeystorePath != "" {
		if err := walletpool.SaveEncryptedKeystore(cfg.WalletKeystorePath, wallets, cfg.WalletPassphrase); err != nil {
			return nil, fmt.Errorf("failed to persist wallet keystore: %w", err)
		}
		log.Info("wallet keystore saved", zap.String("path", cfg.WalletKeystorePath))
	}

	return wallets, nil
}

func parseOptionalAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return chain.ParseAmount(s)
}

func queueConfig(cfg *config.Config) queue.Config {
	return queue.Config{
		MaxQueueSize:   int64(cfg.MaxQueueSize),
		JobTTL:         cfg.ProcessingTimeout,
		BaseRetryDelay: cfg.BaseRetryDelay,
		MaxRetryDelay:  cfg.MaxRetryDelay,
	}
}

func lifecycleConfig(cfg *config.Config, maxGasPrice, minGasPrice *big.Int) lifecycle.Config {
	return lifecycle.Config{
		GasLimit:           cfg.GasLimit,
		GasPriceMultiplier: cfg.GasPriceMultiplier,
		MinGasPrice:        minGasPrice,
		MaxGasPrice:        maxGasPrice,
		ConfirmationBlocks: cfg.ConfirmationBlocks,
		MaxAttempts:        cfg.MaxAttempts,
		ProcessingTimeout:  cfg.ProcessingTimeout,
		JobStatusTTL:       cfg.RollbackTTL,
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{MaxConcurrent: cfg.MaxConcurrent}
}
