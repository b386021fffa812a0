package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"awards-miles-api/internal/awards"
)

// UpsertProfile creates or replaces the stored profile of a customer.
func (db *DB) UpsertProfile(ctx context.Context, customerID string, profile awards.CustomerProfile) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO customer_profiles (customer_id, tier, transit_count, claim_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			tier = excluded.tier,
			transit_count = excluded.transit_count,
			claim_count = excluded.claim_count,
			updated_at = excluded.updated_at`,
		customerID,
		string(profile.Tier),
		profile.TransitCount,
		profile.ClaimCount,
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// CustomerProfile returns the stored profile of a customer. Customers without
// a stored profile are standard tier with no transits and no claims. Profiles
// are not versioned, so asOf does not change the result.
func (db *DB) CustomerProfile(ctx context.Context, customerID string, asOf time.Time) (awards.CustomerProfile, error) {
	var profile awards.CustomerProfile
	var tier string

	err := db.conn.QueryRowContext(ctx,
		`SELECT tier, transit_count, claim_count FROM customer_profiles WHERE customer_id = ?`,
		customerID,
	).Scan(&tier, &profile.TransitCount, &profile.ClaimCount)
	if errors.Is(err, sql.ErrNoRows) {
		return awards.CustomerProfile{Tier: awards.TierStandard}, nil
	}
	if err != nil {
		return awards.CustomerProfile{}, fmt.Errorf("failed to load profile: %w", err)
	}

	profile.Tier, err = awards.ParseTier(tier)
	if err != nil {
		return awards.CustomerProfile{}, fmt.Errorf("failed to parse profile tier: %w", err)
	}
	return profile, nil
}
