package models

import "time"

// DeliveryAgent is a courier in the registry. Availability and the delivery
// counter are the only fields the core mutates, and only through a
// conditional claim so two orders cannot bind the same agent.
type DeliveryAgent struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	Vehicle         string    `json:"vehicle"`
	Rating          float64   `json:"rating"`
	IsAvailable     bool      `json:"is_available"`
	TotalDeliveries int       `json:"total_deliveries"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AgentSnapshot is an immutable copy of an agent's identifying details taken
// at assignment time. Orders hold the snapshot by value, never a reference to
// the registry row, so later profile edits cannot rewrite tracking history.
type AgentSnapshot struct {
	Name    string  `json:"name"`
	Phone   string  `json:"phone"`
	Vehicle string  `json:"vehicle"`
	Rating  float64 `json:"rating"`
}

// Snapshot copies the agent's public details by value.
func (a *DeliveryAgent) Snapshot() AgentSnapshot {
	return AgentSnapshot{
		Name:    a.Name,
		Phone:   a.Phone,
		Vehicle: a.Vehicle,
		Rating:  a.Rating,
	}
}
