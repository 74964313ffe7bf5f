package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PermissionStatus mirrors the on-chain status enum.
type PermissionStatus uint8

const (
	PermissionStatusInactive PermissionStatus = iota
	PermissionStatusActive
	PermissionStatusRevoked
	PermissionStatusExpired
)

var permissionStatusNames = map[PermissionStatus]string{
	PermissionStatusInactive: "inactive",
	PermissionStatusActive:   "active",
	PermissionStatusRevoked:  "revoked",
	PermissionStatusExpired:  "expired",
}

func (s PermissionStatus) String() string {
	if name, ok := permissionStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Permission is a subject's time-bounded consent record for a data
// category/purpose at a given compensation rate. The contract owns the
// canonical copy; this struct is a read-derived snapshot and must not be
// treated as authoritative across time.
type Permission struct {
	ID              uint64           `json:"id"`
	User            common.Address   `json:"user"`
	Merchant        common.Address   `json:"merchant"` // zero address = unrestricted
	DataCategory    string           `json:"data_category"`
	Purpose         string           `json:"purpose"`
	CompensationBps int64            `json:"compensation_bps"`
	UpfrontFee      *big.Int         `json:"upfront_fee"`
	ValidUntil      time.Time        `json:"valid_until"`
	Status          PermissionStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	RevokedAt       time.Time        `json:"revoked_at"` // zero until revoked
}

// EffectiveStatus derives the status at a given time. The contract never
// submits an "expire" transition: a permission whose validity window has
// passed while the stored status is still ACTIVE must read as EXPIRED.
func (p *Permission) EffectiveStatus(at time.Time) PermissionStatus {
	if p.Status == PermissionStatusActive && !p.ValidUntil.IsZero() && p.ValidUntil.Before(at) {
		return PermissionStatusExpired
	}
	return p.Status
}

// Usable reports whether a new escrow may be opened against the permission.
func (p *Permission) Usable(at time.Time) bool {
	return p.EffectiveStatus(at) == PermissionStatusActive
}

// Unrestricted reports whether any merchant may consume the permission.
func (p *Permission) Unrestricted() bool {
	return p.Merchant == (common.Address{})
}
