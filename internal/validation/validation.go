package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"awards-miles-api/internal/awards"
	"awards-miles-api/internal/models"
)

var (
	uuidRegex      = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	transitIDRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateRegisterMiles checks that a grant is either a transit bonus or an
// explicit non-expiring amount.
func ValidateRegisterMiles(req models.RegisterMilesRequest) error {
	if req.NonExpiring {
		if req.TransitID != "" {
			return &ValidationError{
				Field:   "transit_id",
				Message: "must be empty for non-expiring miles",
			}
		}
		if req.Amount <= 0 {
			return &ValidationError{
				Field:   "amount",
				Message: "must be positive",
			}
		}
		return nil
	}

	if req.Amount != 0 {
		return &ValidationError{
			Field:   "amount",
			Message: "is only allowed for non-expiring miles",
		}
	}

	return ValidateTransitID(req.TransitID)
}

// ValidateProfile checks a profile upsert and converts it to the domain type.
func ValidateProfile(req models.ProfileRequest) (awards.CustomerProfile, error) {
	tier, err := awards.ParseTier(SanitizeString(req.Tier))
	if err != nil {
		return awards.CustomerProfile{}, &ValidationError{
			Field:   "tier",
			Message: "must be 'standard' or 'vip'",
		}
	}

	if req.TransitCount < 0 {
		return awards.CustomerProfile{}, &ValidationError{
			Field:   "transit_count",
			Message: "must be non-negative",
		}
	}

	if req.ClaimCount < 0 {
		return awards.CustomerProfile{}, &ValidationError{
			Field:   "claim_count",
			Message: "must be non-negative",
		}
	}

	return awards.CustomerProfile{
		Tier:         tier,
		TransitCount: req.TransitCount,
		ClaimCount:   req.ClaimCount,
	}, nil
}

func ValidateTransitID(id string) error {
	if id == "" {
		return &ValidationError{
			Field:   "transit_id",
			Message: "is required",
		}
	}

	if !transitIDRegex.MatchString(id) {
		return &ValidationError{
			Field:   "transit_id",
			Message: "must be 1-64 characters of letters, digits or ._:-",
		}
	}

	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID v4",
		}
	}

	return nil
}

func ValidateTimeString(timeStr string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, &ValidationError{
			Field:   "now",
			Message: "is required",
		}
	}

	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "now",
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}
