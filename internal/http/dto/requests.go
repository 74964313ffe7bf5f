package dto

type ChallengeRequest struct {
	Address string `json:"address"`
}

type LoginRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Role      string `json:"role,omitempty"` // user (default) or agent
}

type GrantPermissionRequest struct {
	Merchant        string `json:"merchant,omitempty"` // empty = unrestricted
	DataCategory    string `json:"data_category"`
	Purpose         string `json:"purpose"`
	CompensationBps int64  `json:"compensation_bps"`
	UpfrontFeeUSDC  string `json:"upfront_fee_usdc,omitempty"` // decimal, default 0
	ValidityHours   int64  `json:"validity_hours"`
}

type DepositEscrowRequest struct {
	PermissionID uint64 `json:"permission_id"`
	AmountUSDC   string `json:"amount_usdc"` // decimal
	AgentID      uint64 `json:"agent_id,omitempty"`
}

type ReportOutcomeRequest struct {
	OutcomeValueUSDC   string `json:"outcome_value_usdc"` // decimal
	OutcomeType        string `json:"outcome_type"`
	OutcomeDescription string `json:"outcome_description,omitempty"`
}

type DisputeRequest struct {
	Reason string `json:"reason"`
}
