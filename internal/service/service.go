package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"awards-miles-api/internal/awards"
	"awards-miles-api/internal/cache"
	"awards-miles-api/internal/events"
	"awards-miles-api/internal/features"
	"awards-miles-api/internal/metrics"
	"awards-miles-api/internal/models"
	"awards-miles-api/internal/tracing"
	"awards-miles-api/internal/validation"
)

// AccountStore loads and saves whole awards accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *awards.Account) error
	FindAccount(ctx context.Context, customerID string) (*awards.Account, error)
	// UpdateAccount loads the account, applies fn and saves it as one unit.
	UpdateAccount(ctx context.Context, customerID string, fn func(*awards.Account) error) error
}

// ProfileLookup returns the attributes that select a removal strategy.
type ProfileLookup interface {
	CustomerProfile(ctx context.Context, customerID string, asOf time.Time) (awards.CustomerProfile, error)
}

// ProfileStore is a ProfileLookup that also accepts profile updates.
type ProfileStore interface {
	ProfileLookup
	UpsertProfile(ctx context.Context, customerID string, profile awards.CustomerProfile) error
}

// Options holds optional collaborators of the service.
type Options struct {
	Cache    cache.Cache
	CacheTTL time.Duration
	Events   *events.Manager
	Features *features.Manager
	Logger   *zap.Logger
}

// Service provides the awards miles operations.
type Service struct {
	accounts  AccountStore
	profiles  ProfileStore
	registrar *awards.Registrar
	cache     cache.Cache
	cacheTTL  time.Duration
	events    *events.Manager
	features  *features.Manager
	logger    *zap.Logger
}

// NewService creates a new service instance.
func NewService(accounts AccountStore, profiles ProfileStore, settings awards.Settings, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		accounts:  accounts,
		profiles:  profiles,
		registrar: awards.NewRegistrar(settings),
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		events:    opts.Events,
		features:  opts.Features,
		logger:    logger,
	}
}

// RegisterToProgram creates an awards account for the customer. The account
// starts inactive unless activate is set.
func (s *Service) RegisterToProgram(ctx context.Context, customerID string, activate bool, asOf time.Time) (models.AccountResponse, error) {
	ctx, span := s.startSpan(ctx, "service.RegisterToProgram", customerID)
	defer span.End()

	if err := validation.ValidateUUID(customerID, "customer_id"); err != nil {
		return models.AccountResponse{}, err
	}

	account := awards.NewAccount(customerID, asOf)
	if activate {
		account.Activate()
	}

	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return models.AccountResponse{}, s.fail(span, "register to program", customerID, err)
	}
	s.refresh(ctx, account)

	s.logger.Info("awards account created",
		zap.String("customer_id", customerID),
		zap.Bool("active", account.Active),
	)
	if account.Active {
		s.accountChanged(ctx, customerID, events.EventAccountActivated)
	}

	return toAccountResponse(account), nil
}

// ActivateAccount enables registrations and removals for the customer.
func (s *Service) ActivateAccount(ctx context.Context, customerID string) (models.AccountResponse, error) {
	return s.setActive(ctx, customerID, true)
}

// DeactivateAccount disables registrations and removals for the customer.
func (s *Service) DeactivateAccount(ctx context.Context, customerID string) (models.AccountResponse, error) {
	return s.setActive(ctx, customerID, false)
}

func (s *Service) setActive(ctx context.Context, customerID string, active bool) (models.AccountResponse, error) {
	ctx, span := s.startSpan(ctx, "service.SetActive", customerID)
	defer span.End()

	if err := validation.ValidateUUID(customerID, "customer_id"); err != nil {
		return models.AccountResponse{}, err
	}

	var committed *awards.Account
	err := s.accounts.UpdateAccount(ctx, customerID, func(account *awards.Account) error {
		if active {
			account.Activate()
		} else {
			account.Deactivate()
		}
		committed = account
		return nil
	})
	if err != nil {
		return models.AccountResponse{}, s.fail(span, "change account state", customerID, err)
	}

	s.refresh(ctx, committed)

	eventType := events.EventAccountDeactivated
	if active {
		eventType = events.EventAccountActivated
	}
	s.logger.Info("awards account state changed",
		zap.String("customer_id", customerID),
		zap.Bool("active", active),
	)
	s.accountChanged(ctx, customerID, eventType)

	return toAccountResponse(committed), nil
}

// UpsertProfile stores the profile used to pick the customer's removal strategy.
func (s *Service) UpsertProfile(ctx context.Context, customerID string, req models.ProfileRequest) (models.ProfileResponse, error) {
	ctx, span := s.startSpan(ctx, "service.UpsertProfile", customerID)
	defer span.End()

	if err := validation.ValidateUUID(customerID, "customer_id"); err != nil {
		return models.ProfileResponse{}, err
	}

	profile, err := validation.ValidateProfile(req)
	if err != nil {
		return models.ProfileResponse{}, err
	}

	if err := s.profiles.UpsertProfile(ctx, customerID, profile); err != nil {
		return models.ProfileResponse{}, s.fail(span, "upsert profile", customerID, err)
	}

	return models.ProfileResponse{
		CustomerID:   customerID,
		Tier:         string(profile.Tier),
		TransitCount: profile.TransitCount,
		ClaimCount:   profile.ClaimCount,
	}, nil
}

// RegisterMiles grants the configured default bonus for a completed transit.
func (s *Service) RegisterMiles(ctx context.Context, customerID, transitID string, asOf time.Time) (models.MilesBatch, error) {
	ctx, span := s.startSpan(ctx, "service.RegisterMiles", customerID)
	defer span.End()

	if err := validation.ValidateUUID(customerID, "customer_id"); err != nil {
		return models.MilesBatch{}, err
	}
	if err := validation.ValidateTransitID(transitID); err != nil {
		return models.MilesBatch{}, err
	}

	return s.register(ctx, span, customerID, asOf, func(account *awards.Account) (*awards.MilesBatch, error) {
		return s.registrar.RegisterMiles(account, transitID, asOf)
	})
}

// RegisterNonExpiringMiles grants amount miles that never expire.
func (s *Service) RegisterNonExpiringMiles(ctx context.Context, customerID string, amount int, asOf time.Time) (models.MilesBatch, error) {
	ctx, span := s.startSpan(ctx, "service.RegisterNonExpiringMiles", customerID)
	defer span.End()

	if err := validation.ValidateUUID(customerID, "customer_id"); err != nil {
		return models.MilesBatch{}, err
	}
	if amount <= 0 {
		return models.MilesBatch{}, awards.ErrInvalidAmount
	}

	return s.register(ctx, span, customerID, asOf, func(account *awards.Account) (*awards.MilesBatch, error) {
		return s.registrar.RegisterNonExpiringMiles(account, amount, asOf)
	})
}

func (s *Service) register(
	ctx context.Context,
	span trace.Span,
	customerID string,
	asOf time.Time,
	grant func(*awards.Account) (*awards.MilesBatch, error),
) (models.MilesBatch, error) {
	var (
		batch     *awards.MilesBatch
		committed *awards.Account
	)
	err := s.accounts.UpdateAccount(ctx, customerID, func(account *awards.Account) error {
		var err error
		batch, err = grant(account)
		committed = account
		return err
	})
	if err != nil {
		return models.MilesBatch{}, s.fail(span, "register miles", customerID, err)
	}

	s.refresh(ctx, committed)

	kind := "expiring"
	if !batch.CanExpire() {
		kind = "non_expiring"
	}
	metrics.ObserveRegistration(kind, batch.OriginalAmount)
	span.SetAttributes(
		attribute.String("awards.batch_id", batch.ID),
		attribute.Int("awards.miles", batch.OriginalAmount),
	)
	s.logger.Info("miles registered",
		zap.String("customer_id", customerID),
		zap.String("batch_id", batch.ID),
		zap.String("kind", kind),
		zap.Int("miles", batch.OriginalAmount),
	)
	s.publish(ctx, events.EventMilesRegistered, customerID, events.MilesRegisteredData{
		BatchID:   batch.ID,
		TransitID: batch.TransitID,
		Miles:     batch.OriginalAmount,
		ExpiresOn: batch.ExpiresOn,
	})

	return toMilesBatch(batch, asOf), nil
}

// RemoveMiles removes up to miles from the customer's account using the
// strategy selected by the customer's profile at asOf. Removing more than the
// account holds is not an error; the response carries the actual total.
func (s *Service) RemoveMiles(ctx context.Context, customerID string, miles int, asOf time.Time) (models.RemoveMilesResponse, error) {
	ctx, span := s.startSpan(ctx, "service.RemoveMiles", customerID)
	defer span.End()

	if err := validation.ValidateUUID(customerID, "customer_id"); err != nil {
		return models.RemoveMilesResponse{}, err
	}
	if miles <= 0 {
		metrics.ObserveRemovalError()
		return models.RemoveMilesResponse{}, awards.ErrInvalidAmount
	}

	profile, err := s.profiles.CustomerProfile(ctx, customerID, asOf)
	if err != nil {
		metrics.ObserveRemovalError()
		return models.RemoveMilesResponse{}, s.fail(span, "look up customer profile", customerID, err)
	}

	var (
		removal   awards.Removal
		committed *awards.Account
	)
	err = s.accounts.UpdateAccount(ctx, customerID, func(account *awards.Account) error {
		var err error
		removal, err = awards.RemoveMiles(account, profile, miles, asOf)
		committed = account
		return err
	})
	if err != nil {
		metrics.ObserveRemovalError()
		return models.RemoveMilesResponse{}, s.fail(span, "remove miles", customerID, err)
	}

	s.refresh(ctx, committed)

	metrics.ObserveRemoval(string(removal.Strategy), removal.Removed, removal.Shortfall())
	span.SetAttributes(
		attribute.String("awards.strategy", string(removal.Strategy)),
		attribute.Int("awards.requested", removal.Requested),
		attribute.Int("awards.removed", removal.Removed),
	)
	s.logger.Info("miles removed",
		zap.String("customer_id", customerID),
		zap.String("strategy", string(removal.Strategy)),
		zap.Int("requested", removal.Requested),
		zap.Int("removed", removal.Removed),
	)
	s.publish(ctx, events.EventMilesRemoved, customerID, events.MilesRemovedData{
		Requested: removal.Requested,
		Removed:   removal.Removed,
		Strategy:  string(removal.Strategy),
	})

	return toRemoveMilesResponse(customerID, removal), nil
}

// ListMiles returns every batch of the customer with its effective amount at
// asOf. Deactivated accounts can still be read.
func (s *Service) ListMiles(ctx context.Context, customerID string, asOf time.Time) (models.MilesListResponse, error) {
	ctx, span := s.startSpan(ctx, "service.ListMiles", customerID)
	defer span.End()

	if err := validation.ValidateUUID(customerID, "customer_id"); err != nil {
		return models.MilesListResponse{}, err
	}

	account, err := s.loadLedger(ctx, customerID)
	if err != nil {
		return models.MilesListResponse{}, s.fail(span, "list miles", customerID, err)
	}

	miles := make([]models.MilesBatch, 0, len(account.Batches))
	for _, b := range account.Batches {
		miles = append(miles, toMilesBatch(b, asOf))
	}

	return models.MilesListResponse{
		CustomerID: customerID,
		AsOf:       asOf,
		Balance:    account.BalanceAsOf(asOf),
		Miles:      miles,
	}, nil
}

// Balance returns the customer's effective miles at asOf.
func (s *Service) Balance(ctx context.Context, customerID string, asOf time.Time) (models.BalanceResponse, error) {
	ctx, span := s.startSpan(ctx, "service.Balance", customerID)
	defer span.End()

	if err := validation.ValidateUUID(customerID, "customer_id"); err != nil {
		return models.BalanceResponse{}, err
	}

	account, err := s.loadLedger(ctx, customerID)
	if err != nil {
		return models.BalanceResponse{}, s.fail(span, "calculate balance", customerID, err)
	}

	return models.BalanceResponse{
		CustomerID: customerID,
		AsOf:       asOf,
		Balance:    account.BalanceAsOf(asOf),
	}, nil
}

// loadLedger reads an account, going through the snapshot cache when it is
// enabled. Cache failures fall back to the store. A reader fills the cache
// only with a version newer than what is there, so a snapshot loaded before
// a concurrent write never replaces the one that write stored.
func (s *Service) loadLedger(ctx context.Context, customerID string) (*awards.Account, error) {
	if !s.cacheEnabled() {
		return s.accounts.FindAccount(ctx, customerID)
	}

	key := cache.LedgerKey(customerID)
	var account awards.Account
	err := cache.GetJSON(ctx, s.cache, key, &account)
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("ledger cache read failed", zap.String("customer_id", customerID), zap.Error(err))
	}

	found, err := s.accounts.FindAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}

	if _, err := cache.SetJSONIfNewer(ctx, s.cache, key, found.Version, found, s.cacheTTL); err != nil {
		s.logger.Warn("ledger cache write failed", zap.String("customer_id", customerID), zap.Error(err))
	}
	return found, nil
}

// refresh writes a committed account through to the snapshot cache. When the
// cache is switched off or the write fails the entry is dropped instead.
func (s *Service) refresh(ctx context.Context, account *awards.Account) {
	if s.cache == nil {
		return
	}
	key := cache.LedgerKey(account.CustomerID)

	if s.cacheEnabled() {
		_, err := cache.SetJSONIfNewer(ctx, s.cache, key, account.Version, account, s.cacheTTL)
		if err == nil {
			return
		}
		s.logger.Warn("ledger cache write failed", zap.String("customer_id", account.CustomerID), zap.Error(err))
	}

	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("ledger cache invalidation failed", zap.String("customer_id", account.CustomerID), zap.Error(err))
	}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cacheTTL > 0 && s.features.IsEnabled(features.FeatureLedgerCache)
}

func (s *Service) publish(ctx context.Context, eventType events.EventType, customerID string, data any) {
	if s.events == nil || !s.features.IsEnabled(features.FeatureEventHooks) {
		return
	}
	s.events.Publish(ctx, eventType, customerID, data)
}

func (s *Service) accountChanged(ctx context.Context, customerID string, eventType events.EventType) {
	metrics.ObserveAccountEvent(string(eventType))
	s.publish(ctx, eventType, customerID, nil)
}

func (s *Service) startSpan(ctx context.Context, name, customerID string) (context.Context, trace.Span) {
	return tracing.Start(ctx, name,
		trace.WithAttributes(attribute.String("awards.customer_id", customerID)),
	)
}

// fail records err on the span and logs it. Expected domain outcomes are
// logged at warn, anything else at error. The returned error wraps err.
func (s *Service) fail(span trace.Span, op, customerID string, err error) error {
	tracing.RecordError(span, err)

	fields := []zap.Field{zap.String("customer_id", customerID), zap.String("op", op), zap.Error(err)}
	if isDomainError(err) {
		s.logger.Warn("awards operation rejected", fields...)
	} else {
		s.logger.Error("awards operation failed", fields...)
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}

func isDomainError(err error) bool {
	return errors.Is(err, awards.ErrAccountNotFound) ||
		errors.Is(err, awards.ErrAccountExists) ||
		errors.Is(err, awards.ErrInactiveAccount) ||
		errors.Is(err, awards.ErrInvalidAmount)
}

func toAccountResponse(account *awards.Account) models.AccountResponse {
	return models.AccountResponse{
		CustomerID:   account.CustomerID,
		Active:       account.Active,
		TransitCount: account.TransitCount,
		CreatedAt:    account.CreatedAt,
	}
}

func toMilesBatch(b *awards.MilesBatch, asOf time.Time) models.MilesBatch {
	return models.MilesBatch{
		ID:              b.ID,
		TransitID:       b.TransitID,
		GrantedOn:       b.GrantedOn,
		ExpiresOn:       b.ExpiresOn,
		OriginalAmount:  b.OriginalAmount,
		RemainingAmount: b.RemainingAmount,
		Amount:          b.AmountAsOf(asOf),
		Expired:         b.ExpiredAt(asOf),
	}
}

func toRemoveMilesResponse(customerID string, removal awards.Removal) models.RemoveMilesResponse {
	reductions := make([]models.Reduction, 0, len(removal.Reductions))
	for _, r := range removal.Reductions {
		reductions = append(reductions, models.Reduction{BatchID: r.BatchID, Amount: r.Amount})
	}

	return models.RemoveMilesResponse{
		CustomerID: customerID,
		Requested:  removal.Requested,
		Removed:    removal.Removed,
		Strategy:   string(removal.Strategy),
		Reductions: reductions,
	}
}
