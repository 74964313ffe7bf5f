package repositories

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prmission/backend/internal/models"
)

// PermissionRepo maintains the indexer-fed read model. Rows are advisory
// cache only; the contract stays authoritative.
type PermissionRepo struct {
	pool *pgxpool.Pool
}

func NewPermissionRepo(pool *pgxpool.Pool) *PermissionRepo {
	return &PermissionRepo{pool: pool}
}

func (r *PermissionRepo) Upsert(ctx context.Context, p *models.Permission) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO permissions (id, user_addr, merchant_addr, data_category, purpose,
		                         compensation_bps, upfront_fee, valid_until, status, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			revoked_at = EXCLUDED.revoked_at,
			valid_until = EXCLUDED.valid_until
	`, p.ID, strings.ToLower(p.User.Hex()), strings.ToLower(p.Merchant.Hex()), p.DataCategory, p.Purpose,
		p.CompensationBps, p.UpfrontFee.String(), nullableTime(p.ValidUntil), int16(p.Status),
		nullableTime(p.CreatedAt), nullableTime(p.RevokedAt))
	return err
}

func (r *PermissionRepo) GetByID(ctx context.Context, id uint64) (*models.Permission, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_addr, merchant_addr, data_category, purpose,
		       compensation_bps, upfront_fee, valid_until, status, created_at, revoked_at
		FROM permissions WHERE id = $1
	`, id)
	return scanPermission(row)
}

// ListByUser returns a page of cached permissions for a subject address,
// newest first. Offset beyond the total yields an empty slice.
func (r *PermissionRepo) ListByUser(ctx context.Context, user string, limit, offset int) ([]*models.Permission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_addr, merchant_addr, data_category, purpose,
		       compensation_bps, upfront_fee, valid_until, status, created_at, revoked_at
		FROM permissions WHERE user_addr = $1
		ORDER BY id DESC LIMIT $2 OFFSET $3
	`, strings.ToLower(user), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []*models.Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// MarkExpired flips cached ACTIVE rows whose validity window has passed.
// Read-model only: expiry is derived, never submitted to the contract.
func (r *PermissionRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE permissions SET status = $1
		WHERE status = $2 AND valid_until IS NOT NULL AND valid_until < $3
	`, int16(models.PermissionStatusExpired), int16(models.PermissionStatusActive), now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(row rowScanner) (*models.Permission, error) {
	var (
		p          models.Permission
		userAddr   string
		merchAddr  string
		upfrontFee string
		status     int16
		validUntil *time.Time
		createdAt  *time.Time
		revokedAt  *time.Time
	)
	if err := row.Scan(&p.ID, &userAddr, &merchAddr, &p.DataCategory, &p.Purpose,
		&p.CompensationBps, &upfrontFee, &validUntil, &status, &createdAt, &revokedAt); err != nil {
		return nil, err
	}
	p.User = common.HexToAddress(userAddr)
	p.Merchant = common.HexToAddress(merchAddr)
	p.UpfrontFee = mustBig(upfrontFee)
	p.Status = models.PermissionStatus(status)
	p.ValidUntil = derefTime(validUntil)
	p.CreatedAt = derefTime(createdAt)
	p.RevokedAt = derefTime(revokedAt)
	return &p, nil
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
