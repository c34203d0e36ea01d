package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNextStatus(t *testing.T) {
	threshold := decimal.RequireFromString("5")

	tests := []struct {
		name    string
		current AgentStatus
		balance string
		want    AgentStatus
	}{
		{name: "healthy stays active", current: AgentActive, balance: "10", want: AgentActive},
		{name: "below threshold goes low funds", current: AgentActive, balance: "4.99", want: AgentLowFunds},
		{name: "zero balance dies", current: AgentLowFunds, balance: "0", want: AgentDead},
		{name: "negative balance dies", current: AgentActive, balance: "-1", want: AgentDead},
		{name: "recovered low funds reactivates", current: AgentLowFunds, balance: "6", want: AgentActive},
		{name: "dead stays dead", current: AgentDead, balance: "100", want: AgentDead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextStatus(tt.current, decimal.RequireFromString(tt.balance), threshold)
			if got != tt.want {
				t.Fatalf("NextStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEligible(t *testing.T) {
	if !(Agent{Status: AgentActive}).Eligible() {
		t.Fatal("active agent should be eligible")
	}
	if !(Agent{Status: AgentLowFunds}).Eligible() {
		t.Fatal("low-funds agent should be eligible")
	}
	if (Agent{Status: AgentDead}).Eligible() {
		t.Fatal("dead agent must never bid")
	}
}

func TestValidateJobTransition(t *testing.T) {
	valid := [][2]JobStatus{
		{JobOpen, JobAssigned},
		{JobAssigned, JobCompleted},
		{JobAssigned, JobFailed},
	}
	for _, pair := range valid {
		if err := ValidateJobTransition(pair[0], pair[1]); err != nil {
			t.Fatalf("expected %s -> %s to be valid: %v", pair[0], pair[1], err)
		}
	}

	invalid := [][2]JobStatus{
		{JobAssigned, JobOpen},
		{JobCompleted, JobFailed},
		{JobCompleted, JobOpen},
		{JobFailed, JobAssigned},
		{JobOpen, JobCompleted},
	}
	for _, pair := range invalid {
		if err := ValidateJobTransition(pair[0], pair[1]); err == nil {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}
}
