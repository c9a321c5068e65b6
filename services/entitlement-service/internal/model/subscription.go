package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusActive, StatusTrial, StatusExpired, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown subscription status %q", raw)
	}
}

type BillingCycle string

const (
	Monthly BillingCycle = "monthly"
	Yearly  BillingCycle = "yearly"
)

// Next returns the end of one billing period starting at from.
func (c BillingCycle) Next(from time.Time) time.Time {
	if c == Yearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

// Subscription belongs to exactly one establishment. Version is bumped by every
// committed write and guards against two writers racing on the same row.
type Subscription struct {
	EstablishmentID string
	Tier            tiers.TierID
	Status          Status
	Cycle           BillingCycle
	StartDate       time.Time
	EndDate         time.Time
	AutoRenew       bool
	Version         int64
	UpdatedAt       time.Time
}

// Live reports whether the stored tier currently grants anything. An active
// subscription with auto-renew stays live past its end date until renewal runs.
func (s Subscription) Live(now time.Time) bool {
	switch s.Status {
	case StatusActive:
		return s.AutoRenew || !now.After(s.EndDate)
	case StatusTrial:
		return !now.After(s.EndDate)
	default:
		return false
	}
}

type EstablishmentType string

const (
	Restaurant EstablishmentType = "restaurant"
	Cafe       EstablishmentType = "cafe"
	Hotel      EstablishmentType = "hotel"
)

type Establishment struct {
	ID         string
	Name       string
	Type       EstablishmentType
	IsApproved bool
}

type EmployeeStatus string

const (
	EmployeeActive    EmployeeStatus = "active"
	EmployeeInactive  EmployeeStatus = "inactive"
	EmployeeSuspended EmployeeStatus = "suspended"
)

func ParseEmployeeStatus(raw string) (EmployeeStatus, error) {
	switch s := EmployeeStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case EmployeeActive, EmployeeInactive, EmployeeSuspended:
		return s, nil
	default:
		return "", fmt.Errorf("unknown employee status %q", raw)
	}
}

// SeatHolder reports whether an employee in this status takes a tier seat.
func (s EmployeeStatus) SeatHolder() bool { return s == EmployeeActive }

type Employee struct {
	ID              string
	EstablishmentID string
	Name            string
	Status          EmployeeStatus
	DeletedAt       *time.Time
}
