package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prmission/backend/internal/chain"
	"github.com/prmission/backend/internal/config"
	"github.com/prmission/backend/internal/db"
	"github.com/prmission/backend/internal/events"
	"github.com/prmission/backend/internal/models"
	"github.com/prmission/backend/internal/protocol"
	"github.com/prmission/backend/internal/repositories"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisCursorBlock = "indexer:cursor:block"
	redisProcessed   = "indexer:log:"
	processedTTL     = 7 * 24 * time.Hour
)

// The indexer tails the contract's event log and keeps the Postgres read
// model in sync: each event triggers a fresh read of the affected entity
// from the chain, so the cached row always reflects ledger state rather
// than a locally replayed transition.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	eth, err := chain.Dial(ctx, cfg.RPCURL, cfg.ChainID, log)
	if err != nil {
		log.Fatal("failed to connect to rpc", zap.Error(err))
	}
	defer eth.Close()

	contract := common.HexToAddress(cfg.ContractAddress)
	usdc := common.HexToAddress(cfg.USDCAddress)
	state := protocol.NewStateClient(eth, contract, usdc)

	permRepo := repositories.NewPermissionRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)

	idx := &indexer{
		backend:    eth,
		contract:   contract,
		state:      state,
		permRepo:   permRepo,
		escrowRepo: escrowRepo,
		auditRepo:  auditRepo,
		publisher:  publisher,
		rdb:        rdb,
		batch:      cfg.IndexerBlockBatch,
		confs:      cfg.Confirmations,
		log:        log,
	}

	log.Info("indexer started",
		zap.String("contract", contract.Hex()),
		zap.Int64("chain_id", cfg.ChainID),
	)

	idx.initCursor(ctx)

	ticker := time.NewTicker(cfg.IndexerPollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := idx.pollAndProcess(ctx); err != nil {
				log.Error("poll cycle failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down indexer")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

type indexer struct {
	backend    chain.Backend
	contract   common.Address
	state      *protocol.StateClient
	permRepo   *repositories.PermissionRepo
	escrowRepo *repositories.EscrowRepo
	auditRepo  *repositories.AuditRepo
	publisher  events.Publisher
	rdb        *redis.Client
	batch      uint64
	confs      uint64
	log        *zap.Logger
}

// initCursor sets the initial cursor position on first run. It stores
// the current head so that only NEW events (arriving after startup) are
// processed; backfill is done by resetting the cursor manually.
func (ix *indexer) initCursor(ctx context.Context) {
	existing, _ := ix.rdb.Get(ctx, redisCursorBlock).Result()
	if existing != "" {
		ix.log.Info("resuming from saved cursor", zap.String("block", existing))
		return
	}

	head, err := ix.backend.BlockNumber(ctx)
	if err != nil {
		ix.log.Warn("failed to get head for cursor init", zap.Error(err))
		ix.rdb.Set(ctx, redisCursorBlock, "0", 0)
		return
	}

	ix.saveCursor(ctx, head)
	ix.log.Info("cursor initialized at current head (skipping historical events)",
		zap.Uint64("block", head))
}

func (ix *indexer) loadCursor(ctx context.Context) uint64 {
	val, err := ix.rdb.Get(ctx, redisCursorBlock).Result()
	if err != nil || val == "" {
		return 0
	}
	n, _ := strconv.ParseUint(val, 10, 64)
	return n
}

func (ix *indexer) saveCursor(ctx context.Context, block uint64) {
	ix.rdb.Set(ctx, redisCursorBlock, strconv.FormatUint(block, 10), 0)
}

// pollAndProcess runs a single cycle: fetch logs between the cursor and
// the confirmed head (head minus the confirmation depth), process them
// in order, then advance the cursor.
func (ix *indexer) pollAndProcess(ctx context.Context) error {
	head, err := ix.backend.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get head: %w", err)
	}
	if head < ix.confs {
		return nil
	}
	safe := head - ix.confs

	cursor := ix.loadCursor(ctx)
	if safe <= cursor {
		return nil
	}

	from := cursor + 1
	for from <= safe {
		to := from + ix.batch - 1
		if to > safe {
			to = safe
		}

		logs, err := ix.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{ix.contract},
			Topics: [][]common.Hash{{
				chain.TopicPermissionGranted,
				chain.TopicEscrowDeposited,
				chain.TopicOutcomeReported,
				chain.TopicSettlementCompleted,
			}},
		})
		if err != nil {
			return fmt.Errorf("filter logs (%d-%d): %w", from, to, err)
		}

		if len(logs) > 0 {
			ix.log.Info("found new events", zap.Int("count", len(logs)),
				zap.Uint64("from", from), zap.Uint64("to", to))
		}
		for _, lg := range logs {
			ix.processLog(ctx, lg)
		}

		ix.saveCursor(ctx, to)
		from = to + 1
	}

	return nil
}

func (ix *indexer) processLog(ctx context.Context, lg types.Log) {
	if lg.Removed {
		return
	}

	// Idempotency: skip if already processed
	logKey := fmt.Sprintf("%s%s:%d", redisProcessed, lg.TxHash.Hex(), lg.Index)
	if ix.rdb.Exists(ctx, logKey).Val() > 0 {
		return
	}

	switch lg.Topics[0] {
	case chain.TopicPermissionGranted:
		ix.handlePermissionGranted(ctx, lg)
	case chain.TopicEscrowDeposited:
		ix.handleEscrowDeposited(ctx, lg)
	case chain.TopicOutcomeReported:
		ix.handleOutcomeReported(ctx, lg)
	case chain.TopicSettlementCompleted:
		ix.handleSettlementCompleted(ctx, lg)
	default:
		return
	}

	ix.rdb.Set(ctx, logKey, "done", processedTTL)
}

func (ix *indexer) handlePermissionGranted(ctx context.Context, lg types.Log) {
	ev, err := chain.ParsePermissionGranted(lg)
	if err != nil {
		ix.log.Warn("bad PermissionGranted log", zap.Error(err))
		return
	}

	perm, err := ix.state.GetPermission(ctx, ev.PermissionID)
	if err != nil {
		ix.log.Error("permission reread failed", zap.Uint64("id", ev.PermissionID), zap.Error(err))
		return
	}
	if err := ix.permRepo.Upsert(ctx, perm); err != nil {
		ix.log.Error("permission upsert failed", zap.Uint64("id", ev.PermissionID), zap.Error(err))
		return
	}

	ix.recordAudit(ctx, lg, ev.User.Hex(), "user", events.EventPermissionGranted, "permission", ev.PermissionID)
	ix.publish(ctx, events.EventPermissionGranted, map[string]any{
		"permission_id": ev.PermissionID,
		"user":          ev.User.Hex(),
		"data_category": ev.DataCategory,
		"tx_hash":       lg.TxHash.Hex(),
	})
}

func (ix *indexer) handleEscrowDeposited(ctx context.Context, lg types.Log) {
	ev, err := chain.ParseEscrowDeposited(lg)
	if err != nil {
		ix.log.Warn("bad EscrowDeposited log", zap.Error(err))
		return
	}

	if err := ix.refreshEscrow(ctx, ev.EscrowID); err != nil {
		return
	}

	ix.recordAudit(ctx, lg, ev.Agent.Hex(), "agent", events.EventEscrowDeposited, "escrow", ev.EscrowID)
	ix.publish(ctx, events.EventEscrowDeposited, map[string]any{
		"escrow_id":     ev.EscrowID,
		"permission_id": ev.PermissionID,
		"agent":         ev.Agent.Hex(),
		"amount":        ev.Amount.String(),
		"tx_hash":       lg.TxHash.Hex(),
	})
}

func (ix *indexer) handleOutcomeReported(ctx context.Context, lg types.Log) {
	ev, err := chain.ParseOutcomeReported(lg)
	if err != nil {
		ix.log.Warn("bad OutcomeReported log", zap.Error(err))
		return
	}

	if err := ix.refreshEscrow(ctx, ev.EscrowID); err != nil {
		return
	}

	ix.recordAudit(ctx, lg, "", "indexer", events.EventOutcomeReported, "escrow", ev.EscrowID)
	ix.publish(ctx, events.EventOutcomeReported, map[string]any{
		"escrow_id":          ev.EscrowID,
		"outcome_value":      ev.OutcomeValue.String(),
		"outcome_type":       ev.OutcomeType,
		"dispute_window_end": ev.DisputeWindowEnd.UTC().Format(time.RFC3339),
		"tx_hash":            lg.TxHash.Hex(),
	})
}

func (ix *indexer) handleSettlementCompleted(ctx context.Context, lg types.Log) {
	ev, err := chain.ParseSettlementCompleted(lg)
	if err != nil {
		ix.log.Warn("bad SettlementCompleted log", zap.Error(err))
		return
	}

	if err := ix.refreshEscrow(ctx, ev.EscrowID); err != nil {
		return
	}

	ix.recordAudit(ctx, lg, "", "indexer", events.EventSettlementCompleted, "escrow", ev.EscrowID)
	ix.publish(ctx, events.EventSettlementCompleted, map[string]any{
		"escrow_id":    ev.EscrowID,
		"user_share":   ev.UserShare.String(),
		"protocol_fee": ev.ProtocolFee.String(),
		"agent_refund": ev.AgentRefund.String(),
		"tx_hash":      lg.TxHash.Hex(),
	})
}

func (ix *indexer) refreshEscrow(ctx context.Context, id uint64) error {
	esc, err := ix.state.GetEscrow(ctx, id)
	if err != nil {
		ix.log.Error("escrow reread failed", zap.Uint64("id", id), zap.Error(err))
		return err
	}
	if err := ix.escrowRepo.Upsert(ctx, esc); err != nil {
		ix.log.Error("escrow upsert failed", zap.Uint64("id", id), zap.Error(err))
		return err
	}
	return nil
}

func (ix *indexer) recordAudit(ctx context.Context, lg types.Log, actor, actorType, action, entityType string, entityID uint64) {
	txHash := lg.TxHash.Hex()
	entry := models.AuditLog{
		ActorType:  actorType,
		Action:     action,
		EntityType: entityType,
		EntityID:   &entityID,
		TxHash:     &txHash,
		Meta:       map[string]any{"block": lg.BlockNumber, "log_index": lg.Index},
	}
	if actor != "" {
		entry.ActorAddr = &actor
	}
	if err := ix.auditRepo.Log(ctx, entry); err != nil {
		ix.log.Warn("audit insert failed", zap.Error(err))
	}
}

func (ix *indexer) publish(ctx context.Context, eventType string, payload map[string]any) {
	_ = ix.publisher.Publish(ctx, events.StreamProtocol, events.Event{
		Type:    eventType,
		Payload: payload,
	})
}
