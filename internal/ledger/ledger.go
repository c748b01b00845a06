package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// Roles exempt from credit accounting.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Profile is the billing-relevant slice of a user row.
type Profile struct {
	ID      string
	Role    string
	Credits int
}

// Exempt reports whether the user bypasses the credit ledger entirely.
func (p Profile) Exempt() bool {
	switch strings.ToLower(p.Role) {
	case RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Ledger gates generation requests on available credits and settles charges
// once a generation succeeds.
type Ledger struct {
	SQL *infra.SQLRunner
}

// Gate loads the user's profile and verifies it can afford cost credits.
// It must run before any provider call so that broke users never consume
// provider quota.
func (l *Ledger) Gate(ctx context.Context, userID string, cost int) (*Profile, error) {
	var p Profile
	row := l.SQL.QueryRow(ctx, sqlinline.QSelectUserProfile, userID)
	if err := row.Scan(&p.ID, &p.Role, &p.Credits); err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("ledger: user %s: %w", userID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("ledger: load profile: %w", err)
	}
	if p.Exempt() {
		return &p, nil
	}
	if p.Credits < cost {
		return nil, fmt.Errorf("ledger: have %d, need %d: %w", p.Credits, cost, domain.ErrInsufficientCredits)
	}
	return &p, nil
}

// Charge debits cost credits exactly once for the given charge token and
// returns the remaining balance. Replaying the same token never debits twice;
// the current balance is returned instead. Exempt users are never debited.
func (l *Ledger) Charge(ctx context.Context, p *Profile, chargeToken uuid.UUID, cost int) (int, error) {
	if p.Exempt() {
		return p.Credits, nil
	}
	var remaining int
	row := l.SQL.QueryRow(ctx, sqlinline.QChargeCredits, chargeToken.String(), p.ID, cost)
	if err := row.Scan(&remaining); err != nil {
		return 0, fmt.Errorf("ledger: charge credits: %w", err)
	}
	return remaining, nil
}

// UsageEvent captures a single billable or failed operation for analytics.
type UsageEvent struct {
	UserID    string
	RequestID string
	EventType string
	Success   bool
	LatencyMS int
	Country   string
	Props     map[string]any
}

// RecordUsage appends a usage event. Failures are reported but callers treat
// them as non-fatal; analytics must never fail a paid generation.
func (l *Ledger) RecordUsage(ctx context.Context, ev UsageEvent) error {
	props, err := json.Marshal(ev.Props)
	if err != nil {
		props = []byte("{}")
	}
	_, err = l.SQL.Exec(ctx, sqlinline.QInsertUsageEvent,
		ev.UserID,
		ev.RequestID,
		ev.EventType,
		ev.Success,
		ev.LatencyMS,
		ev.Country,
		string(props),
	)
	if err != nil {
		return fmt.Errorf("ledger: record usage: %w", err)
	}
	return nil
}
