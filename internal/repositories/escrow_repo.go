package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prmission/backend/internal/models"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func (r *EscrowRepo) Upsert(ctx context.Context, e *models.Escrow) error {
	outcomeValue := "0"
	if e.OutcomeValue != nil {
		outcomeValue = e.OutcomeValue.String()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escrows (id, permission_id, agent_addr, agent_id, amount,
		                     outcome_value, outcome_type, outcome_description,
		                     reported_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			outcome_value = EXCLUDED.outcome_value,
			outcome_type = EXCLUDED.outcome_type,
			outcome_description = EXCLUDED.outcome_description,
			reported_at = EXCLUDED.reported_at,
			status = EXCLUDED.status
	`, e.ID, e.PermissionID, strings.ToLower(e.Agent.Hex()), e.AgentID, e.Amount.String(),
		outcomeValue, e.OutcomeType, e.OutcomeDescription,
		nullableTime(e.ReportedAt), int16(e.Status), nullableTime(e.CreatedAt))
	return err
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uint64) (*models.Escrow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, permission_id, agent_addr, agent_id, amount,
		       outcome_value, outcome_type, outcome_description,
		       reported_at, status, created_at
		FROM escrows WHERE id = $1
	`, id)
	return scanEscrow(row)
}

func (r *EscrowRepo) ListByPermission(ctx context.Context, permissionID uint64) ([]*models.Escrow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, permission_id, agent_addr, agent_id, amount,
		       outcome_value, outcome_type, outcome_description,
		       reported_at, status, created_at
		FROM escrows WHERE permission_id = $1 ORDER BY id
	`, permissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

// ListByStatus returns cached escrows in the given states, oldest report
// first. Used by the reconciliation job.
func (r *EscrowRepo) ListByStatus(ctx context.Context, statuses []models.EscrowStatus, limit int) ([]*models.Escrow, error) {
	if limit <= 0 {
		limit = 100
	}
	raw := make([]int16, 0, len(statuses))
	for _, s := range statuses {
		raw = append(raw, int16(s))
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, permission_id, agent_addr, agent_id, amount,
		       outcome_value, outcome_type, outcome_description,
		       reported_at, status, created_at
		FROM escrows WHERE status = ANY($1)
		ORDER BY reported_at NULLS LAST LIMIT $2
	`, raw, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func scanEscrow(row rowScanner) (*models.Escrow, error) {
	var (
		e            models.Escrow
		agentAddr    string
		amount       string
		outcomeValue string
		status       int16
		reportedAt   *time.Time
		createdAt    *time.Time
	)
	if err := row.Scan(&e.ID, &e.PermissionID, &agentAddr, &e.AgentID, &amount,
		&outcomeValue, &e.OutcomeType, &e.OutcomeDescription,
		&reportedAt, &status, &createdAt); err != nil {
		return nil, err
	}
	e.Agent = common.HexToAddress(agentAddr)
	e.Amount = mustBig(amount)
	e.OutcomeValue = mustBig(outcomeValue)
	e.Status = models.EscrowStatus(status)
	e.ReportedAt = derefTime(reportedAt)
	e.CreatedAt = derefTime(createdAt)
	return &e, nil
}

type pgxRows interface {
	rowScanner
	Next() bool
	Err() error
}

func collectEscrows(rows pgxRows) ([]*models.Escrow, error) {
	escrows := []*models.Escrow{}
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}
