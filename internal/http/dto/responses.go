package dto

type ChallengeResponse struct {
	Message string `json:"message"`
}

type AuthResponse struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Role    string `json:"role"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// TxResponse reports the orchestration outcome of a mutating operation.
// Phase and tx hash are always present, even for timed-out submissions,
// so the caller can re-query before deciding to resubmit.
type TxResponse struct {
	TxHash       string `json:"tx_hash,omitempty"`
	Phase        string `json:"phase"`
	PermissionID uint64 `json:"permission_id,omitempty"`
	EscrowID     uint64 `json:"escrow_id,omitempty"`
	Data         any    `json:"data,omitempty"`
}
