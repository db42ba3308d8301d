// Package domain defines the shared entities of the federation: tenants,
// users, plans, provider descriptors, catalog entries, and the uniform
// fitness data shapes (Activity, SleepSession, RecoveryScore, ...) that
// every provider integration converts its wire format into.
package domain

import "time"

// Plan is a subscription tier, totally ordered by rank.
type Plan string

// The four supported plans, in ascending order.
const (
	PlanTrial        Plan = "trial"
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

var planRank = map[Plan]int{
	PlanTrial:        0,
	PlanStarter:      1,
	PlanProfessional: 2,
	PlanEnterprise:   3,
}

// MeetsMinimum reports whether p's rank is at or above required's rank.
// An unrecognized plan value ranks below every known plan.
func (p Plan) MeetsMinimum(required Plan) bool {
	return planRank[p] >= planRank[required]
}

// Tenant is the outermost isolation boundary: all keys, credentials,
// caches, and tool policies are partitioned by tenant.
type Tenant struct {
	ID        string
	Name      string
	Slug      string
	Plan      Plan
	OwnerUser string
	CreatedAt time.Time
}

// UserStatus is the lifecycle state of a User.
type UserStatus string

// Valid user lifecycle states.
const (
	UserStatusPending   UserStatus = "pending"
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// User is a principal that may belong to a tenant and connect to
// upstream fitness providers.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Tier         Plan
	TenantID     string // empty when the user has no tenant membership
	Status       UserStatus
	IsAdmin      bool
	CreatedAt    time.Time
}
