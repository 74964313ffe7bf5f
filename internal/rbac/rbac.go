package rbac

// Role constants
const (
	RoleUser  = "user"  // data subject
	RoleAgent = "agent" // consuming agent
)

// Protocol action constants
const (
	ActionGrant   = "grant"
	ActionRevoke  = "revoke"
	ActionDeposit = "deposit"
	ActionReport  = "report"
	ActionDispute = "dispute"
	ActionSettle  = "settle"
	ActionRefund  = "refund"
)

// RoleActions mirrors the contract's side of each operation: subjects
// grant/revoke/dispute, agents deposit/report/refund, either side may
// trigger settlement once the dispute window has elapsed. The contract
// re-checks authority on-chain; this map only gates the API surface.
var RoleActions = map[string][]string{
	RoleUser: {
		ActionGrant, ActionRevoke, ActionDispute, ActionSettle,
	},
	RoleAgent: {
		ActionDeposit, ActionReport, ActionSettle, ActionRefund,
	},
}

// CanPerform checks if a role may drive a protocol action via the API.
func CanPerform(role, action string) bool {
	actions, ok := RoleActions[role]
	if !ok {
		return false
	}
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}
