// Package models defines the domain models for the nexus workflow service
package models

import (
	"time"
)

// AgentStatus is the terminal state of a single agent task
type AgentStatus string

const (
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
)

// Well-known roles
const (
	RoleAssistant         = "assistant"
	RolePlanner           = "planner"
	RoleMarketResearcher  = "market researcher"
	RoleTechnicalAnalyst  = "technical analyst"
	RoleCompetitorAnalyst = "competitor analyst"
)

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Page bounds a listing query.
type Page struct {
	Limit  int
	Offset int
}
