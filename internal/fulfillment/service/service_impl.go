package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/courseaccess/internal/account/domain"
	authdomain "github.com/smallbiznis/courseaccess/internal/auth/domain"
	"github.com/smallbiznis/courseaccess/internal/auth/password"
	"github.com/smallbiznis/courseaccess/internal/clock"
	"github.com/smallbiznis/courseaccess/internal/config"
	"github.com/smallbiznis/courseaccess/internal/fulfillment/domain"
	"github.com/smallbiznis/courseaccess/internal/observability/logger"
	"github.com/smallbiznis/courseaccess/internal/observability/metrics"
	"github.com/smallbiznis/courseaccess/internal/observability/tracing"
	"github.com/smallbiznis/courseaccess/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/courseaccess/internal/payment/domain"
	"github.com/smallbiznis/courseaccess/internal/providers/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Clock    clock.Clock
	GenID    *snowflake.Node
	Adapters *adapters.Registry
	Accounts accountdomain.Repository
	Identity authdomain.Provider
	Email    email.Provider
	Renderer *email.Renderer
	Events   domain.Repository `optional:"true"`
	Metrics  *metrics.Metrics  `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	cfg      config.FulfillmentConfig
	clock    clock.Clock
	genID    *snowflake.Node
	adapters *adapters.Registry
	accounts accountdomain.Repository
	identity authdomain.Provider
	events   domain.Repository
	metrics  *metrics.Metrics
	notifier *notifier
	tracer   trace.Tracer
}

func NewService(p Params) domain.Service {
	return &Service{
		log:      p.Log.Named("fulfillment.service"),
		cfg:      p.Cfg.Fulfillment,
		clock:    p.Clock,
		genID:    p.GenID,
		adapters: p.Adapters,
		accounts: p.Accounts,
		identity: p.Identity,
		events:   p.Events,
		metrics:  p.Metrics,
		notifier: &notifier{
			provider: p.Email,
			renderer: p.Renderer,
			cfg:      p.Cfg.Fulfillment,
		},
		tracer: otel.Tracer("courseaccess/fulfillment"),
	}
}

func (s *Service) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*domain.Outcome, error) {
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return nil, err
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	spanCtx, span := s.startSpan(ctx, "fulfillment.verify", attribute.String("provider", provider))
	err = adapter.Verify(spanCtx, payload, headers)
	endSpan(span, err)
	if err != nil {
		log.Warn("webhook rejected", zap.Error(err))
		return nil, err
	}

	event, err := adapter.Parse(ctx, payload)
	if errors.Is(err, paymentdomain.ErrEventIgnored) {
		log.Debug("webhook event ignored", zap.Error(err))
		s.metrics.RecordFulfillment(ctx, string(domain.PathNone), string(domain.StatusIgnored))
		return &domain.Outcome{Provider: provider, Path: domain.PathNone, Status: domain.StatusIgnored}, nil
	}
	if err != nil {
		log.Warn("webhook payload rejected", zap.Error(err))
		return nil, err
	}
	if event.RawPayload == nil {
		event.RawPayload = payload
	}
	return s.Fulfill(ctx, event)
}

func (s *Service) Fulfill(ctx context.Context, event *paymentdomain.PurchaseEvent) (*domain.Outcome, error) {
	if event == nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	outcome := &domain.Outcome{
		Provider:  event.Provider,
		EventID:   event.ProviderEventID,
		EventType: event.Type,
		SessionID: event.SessionID,
		Path:      domain.PathNone,
	}
	if event.Type != paymentdomain.EventTypeCheckoutCompleted {
		outcome.Status = domain.StatusIgnored
		s.metrics.RecordFulfillment(ctx, string(outcome.Path), string(outcome.Status))
		return outcome, nil
	}

	ctx, span := s.startSpan(ctx, "fulfillment.fulfill",
		attribute.String("provider", event.Provider),
		attribute.String("event_id", event.ProviderEventID),
		attribute.String("session_id", event.SessionID),
	)
	receivedAt := s.clock.Now()
	outcome.Email = accountdomain.NormalizeEmail(event.CustomerEmail)
	log := logger.WithContext(ctx, s.log).With(
		zap.String("event_id", event.ProviderEventID),
		zap.String("session_id", event.SessionID),
		logger.Email("email", outcome.Email),
	)

	var runErr error
	if err := validateEmail(outcome.Email); err != nil {
		runErr = err
		log.Warn("purchase without usable customer email", zap.Error(err))
	} else {
		runErr = s.run(ctx, log, event, outcome)
	}

	switch {
	case runErr == nil && len(outcome.Warnings) == 0:
		outcome.Status = domain.StatusOK
	case outcome.AccessGranted:
		outcome.Status = domain.StatusPartial
	default:
		outcome.Status = domain.StatusFailed
	}

	if runErr != nil && !domain.IsTerminal(runErr) {
		log.Error("purchase fulfillment failed",
			zap.String("status", string(outcome.Status)),
			zap.String("path", string(outcome.Path)),
			zap.Error(runErr),
		)
		outcome.AlertSent = s.alertAdmin(ctx, log, outcome, runErr)
	}

	s.record(ctx, log, event, outcome, runErr, receivedAt)
	s.metrics.RecordFulfillment(ctx, string(outcome.Path), string(outcome.Status))

	span.SetAttributes(
		attribute.String("fulfillment.path", string(outcome.Path)),
		attribute.String("fulfillment.status", string(outcome.Status)),
		attribute.Bool("fulfillment.race_resolved", outcome.RaceResolved),
	)
	endSpan(span, runErr)

	if runErr == nil {
		log.Info("purchase fulfilled",
			zap.String("path", string(outcome.Path)),
			zap.Bool("race_resolved", outcome.RaceResolved),
		)
	}
	return outcome, runErr
}

func (s *Service) run(ctx context.Context, log *zap.Logger, event *paymentdomain.PurchaseEvent, outcome *domain.Outcome) error {
	account, err := s.lookup(ctx, outcome.Email)
	if err != nil {
		return err
	}

	var tempPassword string
	if account != nil {
		if err := s.upgrade(ctx, account, event, outcome); err != nil {
			return err
		}
	} else {
		account, tempPassword, err = s.createNew(ctx, log, event, outcome)
		if err != nil {
			return err
		}
	}

	if err := s.notify(ctx, account, event, outcome, tempPassword); err != nil {
		outcome.Warn(domain.WarningNotifyFailed)
		return err
	}
	if outcome.HasWarning(domain.WarningProfileMissing) {
		return fmt.Errorf("%w: account row for credential %s was not stored", domain.ErrProfileIncomplete, outcome.IdentityID)
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, email string) (*accountdomain.Account, error) {
	ctx, span := s.startSpan(ctx, "fulfillment.lookup")
	account, err := s.accounts.FindByEmail(ctx, email)
	if errors.Is(err, accountdomain.ErrAccountNotFound) {
		endSpan(span, nil)
		return nil, nil
	}
	if err != nil {
		err = fmt.Errorf("%w: lookup account: %v", domain.ErrIdentityStore, err)
		endSpan(span, err)
		return nil, err
	}
	endSpan(span, nil)
	return account, nil
}

func (s *Service) upgrade(ctx context.Context, account *accountdomain.Account, event *paymentdomain.PurchaseEvent, outcome *domain.Outcome) error {
	ctx, span := s.startSpan(ctx, "fulfillment.upgrade_existing")
	now := s.clock.Now()
	fields := map[string]any{
		"has_course_access":   true,
		"course_purchased_at": now,
		"updated_at":          now,
	}
	if customerID := strings.TrimSpace(event.ProviderCustomerID); customerID != "" {
		fields["stripe_customer_id"] = customerID
	}
	if account.IdentityID == nil && outcome.IdentityID != "" {
		fields["identity_id"] = outcome.IdentityID
	}

	if err := s.accounts.UpdateFields(ctx, account.ID, fields); err != nil {
		err = fmt.Errorf("%w: upgrade account: %v", domain.ErrIdentityStore, err)
		endSpan(span, err)
		return err
	}
	endSpan(span, nil)

	outcome.Path = domain.PathUpgradeExisting
	outcome.AccountID = account.ID
	outcome.AccessGranted = true
	if account.IdentityID != nil && outcome.IdentityID == "" {
		outcome.IdentityID = *account.IdentityID
	}
	return nil
}

func (s *Service) createNew(ctx context.Context, log *zap.Logger, event *paymentdomain.PurchaseEvent, outcome *domain.Outcome) (*accountdomain.Account, string, error) {
	spanCtx, span := s.startSpan(ctx, "fulfillment.create_new")

	tempPassword, err := password.Generate()
	if err != nil {
		err = fmt.Errorf("%w: generate credential: %v", domain.ErrIdentityStore, err)
		endSpan(span, err)
		return nil, "", err
	}

	displayName := strings.TrimSpace(event.CustomerName)
	if displayName == "" {
		displayName = s.cfg.DefaultStudentName
	}

	credential, err := s.identity.CreateCredential(spanCtx, authdomain.CreateCredentialRequest{
		Email:              outcome.Email,
		Password:           tempPassword,
		DisplayName:        displayName,
		PreConfirmed:       true,
		MustChangePassword: true,
	})
	if errors.Is(err, authdomain.ErrCredentialExists) {
		endSpan(span, nil)
		account, err := s.resolveRace(ctx, log, event, outcome)
		return account, "", err
	}
	if err != nil {
		err = fmt.Errorf("%w: create credential: %v", domain.ErrIdentityStore, err)
		endSpan(span, err)
		return nil, "", err
	}

	outcome.Path = domain.PathCreateNew
	outcome.IdentityID = credential.ID
	outcome.CredentialIssued = true
	outcome.AccessGranted = true

	account := s.newAccount(outcome.Email, displayName, credential.ID, event)
	err = s.accounts.Create(spanCtx, account)
	switch {
	case err == nil:
		outcome.AccountID = account.ID
	case errors.Is(err, accountdomain.ErrAccountExists):
		// The credential is ours, so the welcome email still has to go out.
		endSpan(span, nil)
		outcome.RaceResolved = true
		log.Info("account row created concurrently, upgrading it")
		existing, lookupErr := s.lookup(ctx, outcome.Email)
		if lookupErr != nil {
			return nil, "", lookupErr
		}
		if existing == nil {
			return nil, "", fmt.Errorf("%w: account vanished after duplicate insert", domain.ErrIdentityStore)
		}
		if err := s.upgrade(ctx, existing, event, outcome); err != nil {
			return nil, "", err
		}
		return existing, tempPassword, nil
	default:
		// The credential already grants login, so continue and let
		// redelivery rebuild the account row from it.
		log.Error("account row insert failed after credential creation",
			zap.String("identity_id", credential.ID),
			zap.Error(err),
		)
		outcome.Warn(domain.WarningProfileMissing)
	}
	endSpan(span, nil)
	return account, tempPassword, nil
}

// resolveRace handles a credential that already exists for the email: another
// delivery provisioned it, or an earlier attempt stopped before the account row.
func (s *Service) resolveRace(ctx context.Context, log *zap.Logger, event *paymentdomain.PurchaseEvent, outcome *domain.Outcome) (*accountdomain.Account, error) {
	outcome.RaceResolved = true
	log.Info("credential already exists, falling back to upgrade")

	account, err := s.lookup(ctx, outcome.Email)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, s.upgrade(ctx, account, event, outcome)
	}

	credential, err := s.identity.FindByEmail(ctx, outcome.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: load credential: %v", domain.ErrIdentityStore, err)
	}
	outcome.IdentityID = credential.ID

	account = s.newAccount(outcome.Email, credential.DisplayName, credential.ID, event)
	err = s.accounts.Create(ctx, account)
	if errors.Is(err, accountdomain.ErrAccountExists) {
		existing, lookupErr := s.lookup(ctx, outcome.Email)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: account vanished after duplicate insert", domain.ErrIdentityStore)
		}
		return existing, s.upgrade(ctx, existing, event, outcome)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: rebuild account from credential: %v", domain.ErrIdentityStore, err)
	}

	log.Info("account rebuilt from existing credential", zap.String("identity_id", credential.ID))
	outcome.Path = domain.PathUpgradeExisting
	outcome.AccountID = account.ID
	outcome.AccessGranted = true
	return account, nil
}

func (s *Service) newAccount(email, name, identityID string, event *paymentdomain.PurchaseEvent) *accountdomain.Account {
	now := s.clock.Now()
	account := &accountdomain.Account{
		ID:                s.genID.Generate(),
		IdentityID:        &identityID,
		Email:             email,
		Name:              name,
		HasCourseAccess:   true,
		CoursePurchasedAt: &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if customerID := strings.TrimSpace(event.ProviderCustomerID); customerID != "" {
		account.StripeCustomerID = &customerID
	}
	return account
}

func (s *Service) notify(ctx context.Context, account *accountdomain.Account, event *paymentdomain.PurchaseEvent, outcome *domain.Outcome, tempPassword string) error {
	ctx, span := s.startSpan(ctx, "fulfillment.notify")

	var err error
	if tempPassword != "" {
		span.SetAttributes(attribute.String("email.template", templateWelcome))
		err = s.notifier.welcome(ctx, outcome.Email, greeting(event.CustomerName), tempPassword)
	} else {
		span.SetAttributes(attribute.String("email.template", templateAccessGranted))
		err = s.notifier.accessGranted(ctx, outcome.Email, greeting(account.Name, event.CustomerName))
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrEmailSend, err)
		endSpan(span, err)
		return err
	}
	endSpan(span, nil)
	outcome.Notified = true
	return nil
}

// alertAdmin never returns an error; a failed alert is logged and counted.
func (s *Service) alertAdmin(ctx context.Context, log *zap.Logger, outcome *domain.Outcome, cause error) bool {
	ctx, span := s.startSpan(ctx, "fulfillment.alert_admin")
	err := s.notifier.adminAlert(ctx, adminAlert{
		Email:      outcome.Email,
		SessionID:  outcome.SessionID,
		EventID:    outcome.EventID,
		Status:     string(outcome.Status),
		IdentityID: outcome.IdentityID,
		Error:      cause.Error(),
	})
	endSpan(span, err)
	if err != nil {
		log.Error("admin alert failed", zap.Error(err))
		s.metrics.RecordAdminAlert(ctx, "failed")
		return false
	}
	s.metrics.RecordAdminAlert(ctx, "sent")
	return true
}

func (s *Service) record(ctx context.Context, log *zap.Logger, event *paymentdomain.PurchaseEvent, outcome *domain.Outcome, runErr error, receivedAt time.Time) {
	if s.events == nil {
		return
	}
	processedAt := s.clock.Now()
	record := &domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		SessionID:       event.SessionID,
		Email:           outcome.Email,
		Path:            string(outcome.Path),
		Status:          string(outcome.Status),
		ReceivedAt:      receivedAt,
		ProcessedAt:     &processedAt,
	}
	if json.Valid(event.RawPayload) {
		record.Payload = datatypes.JSON(event.RawPayload)
	}
	if runErr != nil {
		record.LastError = runErr.Error()
	}
	if err := s.events.Record(ctx, record); err != nil {
		log.Warn("purchase event record not stored", zap.Error(err))
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(tracing.SafeAttributes(attrs...)...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "fulfillment step failed")
	}
	span.End()
}

func validateEmail(email string) error {
	if email == "" {
		return domain.ErrMissingCustomerEmail
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: malformed address", domain.ErrMissingCustomerEmail)
	}
	return nil
}
