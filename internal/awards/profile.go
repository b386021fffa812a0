package awards

import (
	"fmt"
	"strings"
)

// Tier is a customer's membership tier.
type Tier string

const (
	TierStandard Tier = "standard"
	TierVIP      Tier = "vip"
)

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierStandard, "":
		return TierStandard, nil
	case TierVIP:
		return TierVIP, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// CustomerProfile is the read-only view of a customer used to pick a removal
// strategy. It is supplied by the caller.
type CustomerProfile struct {
	Tier         Tier
	TransitCount int
	ClaimCount   int // claims linked to completed transits
}
