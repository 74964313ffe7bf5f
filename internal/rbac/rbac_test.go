package rbac

import "testing"

func TestCanPerform(t *testing.T) {
	tests := []struct {
		role     string
		action   string
		expected bool
	}{
		{RoleUser, ActionGrant, true},
		{RoleUser, ActionRevoke, true},
		{RoleUser, ActionDispute, true},
		{RoleUser, ActionSettle, true},
		{RoleUser, ActionDeposit, false},
		{RoleUser, ActionReport, false},
		{RoleUser, ActionRefund, false},

		{RoleAgent, ActionDeposit, true},
		{RoleAgent, ActionReport, true},
		{RoleAgent, ActionSettle, true},
		{RoleAgent, ActionRefund, true},
		{RoleAgent, ActionGrant, false},
		{RoleAgent, ActionRevoke, false},
		{RoleAgent, ActionDispute, false},

		{"", ActionGrant, false},
		{"admin", ActionGrant, false},
	}

	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.action, func(t *testing.T) {
			if got := CanPerform(tt.role, tt.action); got != tt.expected {
				t.Errorf("CanPerform(%q, %q) = %v, want %v", tt.role, tt.action, got, tt.expected)
			}
		})
	}
}
