package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	accountdomain "github.com/smallbiznis/courseaccess/internal/account/domain"
	accountrepo "github.com/smallbiznis/courseaccess/internal/account/repository"
	authdomain "github.com/smallbiznis/courseaccess/internal/auth/domain"
	"github.com/smallbiznis/courseaccess/internal/auth/password"
	authrepo "github.com/smallbiznis/courseaccess/internal/auth/repository"
	authservice "github.com/smallbiznis/courseaccess/internal/auth/service"
	"github.com/smallbiznis/courseaccess/internal/clock"
	"github.com/smallbiznis/courseaccess/internal/config"
	"github.com/smallbiznis/courseaccess/internal/fulfillment/domain"
	eventrepo "github.com/smallbiznis/courseaccess/internal/fulfillment/repository"
	"github.com/smallbiznis/courseaccess/internal/fulfillment/service"
	"github.com/smallbiznis/courseaccess/internal/observability/metrics"
	"github.com/smallbiznis/courseaccess/internal/payment/adapters"
	stripeadapter "github.com/smallbiznis/courseaccess/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/courseaccess/internal/payment/domain"
	"github.com/smallbiznis/courseaccess/internal/providers/email"
	"github.com/smallbiznis/courseaccess/internal/providers/email/mocks"
	"github.com/smallbiznis/courseaccess/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	webhookSecret = "whsec_test"
	adminEmail    = "admin@example.com"
)

var tempPasswordPattern = regexp.MustCompile(`Temporary Password:</strong> ([^<]+)</p>`)

type mailbox struct {
	mu   sync.Mutex
	msgs []email.Message
}

func (b *mailbox) add(msg email.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *mailbox) to(addr string) []email.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []email.Message
	for _, msg := range b.msgs {
		for _, rcpt := range msg.To {
			if rcpt == addr {
				out = append(out, msg)
			}
		}
	}
	return out
}

func (b *mailbox) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

type fixture struct {
	conn     *gorm.DB
	ctrl     *gomock.Controller
	clock    *clock.FakeClock
	node     *snowflake.Node
	mail     *mailbox
	metrics  *metrics.Metrics
	accounts accountdomain.Repository
	identity authdomain.Provider
	events   domain.Repository
	svc      domain.Service
}

type fixtureOption func(f *fixture, p *service.Params)

// withSendError makes every send for which fail returns non-nil fail.
func withSendError(fail func(email.Message) error) fixtureOption {
	return func(f *fixture, p *service.Params) {
		p.Email = newMailer(f.ctrl, f.mail, fail)
	}
}

// withStrictMailer fails the test on any send.
func withStrictMailer() fixtureOption {
	return func(f *fixture, p *service.Params) {
		p.Email = mocks.NewMockProvider(f.ctrl)
	}
}

func newMailer(ctrl *gomock.Controller, box *mailbox, fail func(email.Message) error) *mocks.MockProvider {
	m := mocks.NewMockProvider(ctrl)
	m.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, msg email.Message) error {
		box.add(msg)
		if fail != nil {
			return fail(msg)
		}
		return nil
	}).AnyTimes()
	return m
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&accountdomain.Account{}, &authdomain.Credential{}, &domain.EventRecord{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	m, err := metrics.New(metrics.Config{ServiceName: "test"}, noop.NewMeterProvider())
	require.NoError(t, err)

	registry, err := adapters.NewRegistry([]paymentdomain.AdapterConfig{{
		Provider:      paymentdomain.ProviderStripe,
		WebhookSecret: webhookSecret,
		Tolerance:     5 * time.Minute,
	}}, stripeadapter.NewFactory())
	require.NoError(t, err)

	renderer, err := email.NewRenderer()
	require.NoError(t, err)

	f := &fixture{
		conn:    conn,
		ctrl:    gomock.NewController(t),
		clock:   clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		node:    node,
		mail:    &mailbox{},
		metrics: m,
	}
	f.accounts = accountrepo.New(conn)
	f.identity = authservice.New(zap.NewNop(), authrepo.New(conn), f.clock)
	f.events = eventrepo.New(conn)

	params := service.Params{
		Log:      zap.NewNop(),
		Cfg:      testConfig(),
		Clock:    f.clock,
		GenID:    node,
		Adapters: registry,
		Accounts: f.accounts,
		Identity: f.identity,
		Email:    newMailer(f.ctrl, f.mail, nil),
		Renderer: renderer,
		Events:   f.events,
		Metrics:  m,
	}
	for _, opt := range opts {
		opt(f, &params)
	}
	f.svc = service.NewService(params)
	return f
}

func testConfig() config.Config {
	return config.Config{
		Fulfillment: config.FulfillmentConfig{
			From:               "Course <noreply@example.com>",
			AlertFrom:          "System <noreply@example.com>",
			AlertTo:            adminEmail,
			LoginURL:           "https://example.com/login.html",
			ProductName:        "The Catering Profit System",
			SignOff:            "Tre",
			DefaultStudentName: "Course Student",
		},
	}
}

func checkoutPayload(t *testing.T, eventID, customerEmail, name string) []byte {
	t.Helper()
	details := map[string]any{}
	if customerEmail != "" {
		details["email"] = customerEmail
	}
	if name != "" {
		details["name"] = name
	}
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"object":  "event",
		"type":    "checkout.session.completed",
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":               "cs_" + eventID,
				"object":           "checkout.session",
				"customer":         "cus_123",
				"customer_details": details,
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func signed(payload []byte) http.Header {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  webhookSecret,
	})
	headers := http.Header{}
	headers.Set(stripeadapter.SignatureHeader, sp.Header)
	return headers
}

func (f *fixture) deliver(t *testing.T, payload []byte) (*domain.Outcome, error) {
	t.Helper()
	return f.svc.HandleWebhook(context.Background(), paymentdomain.ProviderStripe, payload, signed(payload))
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(model).Count(&n).Error)
	return n
}

func (f *fixture) account(t *testing.T, addr string) *accountdomain.Account {
	t.Helper()
	acc, err := f.accounts.FindByEmail(context.Background(), addr)
	require.NoError(t, err)
	return acc
}

func counterValue(t *testing.T, m *metrics.Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, sample := range family.GetMetric() {
			for _, pair := range sample.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue next
				}
			}
			return sample.GetCounter().GetValue()
		}
	}
	return 0
}

func TestNewBuyerGetsAccountAndWelcomeEmail(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.deliver(t, checkoutPayload(t, "evt_new", "New@X.com", "Jane"))
	require.NoError(t, err)
	assert.Equal(t, domain.PathCreateNew, outcome.Path)
	assert.Equal(t, domain.StatusOK, outcome.Status)
	assert.True(t, outcome.CredentialIssued)
	assert.True(t, outcome.Notified)
	assert.False(t, outcome.AlertSent)

	acc := f.account(t, "new@x.com")
	assert.True(t, acc.HasCourseAccess)
	assert.Equal(t, "Jane", acc.Name)
	require.NotNil(t, acc.StripeCustomerID)
	assert.Equal(t, "cus_123", *acc.StripeCustomerID)
	require.NotNil(t, acc.CoursePurchasedAt)
	assert.True(t, acc.CoursePurchasedAt.Equal(f.clock.Now()))

	credential, err := f.identity.FindByEmail(context.Background(), "new@x.com")
	require.NoError(t, err)
	require.NotNil(t, acc.IdentityID)
	assert.Equal(t, credential.ID, *acc.IdentityID)
	assert.True(t, credential.Confirmed())
	assert.True(t, credential.MustChangePassword)

	msgs := f.mail.to("new@x.com")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Subject, "Welcome!")
	assert.Contains(t, msgs[0].HTML, "Hi Jane,")
	match := tempPasswordPattern.FindStringSubmatch(msgs[0].HTML)
	require.Len(t, match, 2)
	assert.Len(t, match[1], password.TempLength)
	assert.True(t, password.Verify(match[1], credential.PasswordHash))
	assert.Empty(t, f.mail.to(adminEmail))

	record, err := f.events.FindByEvent(context.Background(), "stripe", "evt_new")
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusOK), record.Status)
	assert.Equal(t, "new@x.com", record.Email)

	assert.Equal(t, 1.0, counterValue(t, f.metrics, "courseaccess_fulfillment_total",
		map[string]string{"path": "create_new", "status": "ok"}))
}

func TestRedeliveryRefreshesPurchaseWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	payload := checkoutPayload(t, "evt_repeat", "new@x.com", "Jane")

	_, err := f.deliver(t, payload)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	outcome, err := f.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, domain.PathUpgradeExisting, outcome.Path)
	assert.Equal(t, domain.StatusOK, outcome.Status)
	assert.False(t, outcome.CredentialIssued)

	assert.EqualValues(t, 1, f.count(t, &accountdomain.Account{}))
	assert.EqualValues(t, 1, f.count(t, &authdomain.Credential{}))

	acc := f.account(t, "new@x.com")
	assert.True(t, acc.HasCourseAccess)
	assert.True(t, acc.CoursePurchasedAt.Equal(f.clock.Now()))

	msgs := f.mail.to("new@x.com")
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Subject, "Your Course Access is Ready!")
	assert.NotRegexp(t, tempPasswordPattern, msgs[1].HTML)

	record, err := f.events.FindByEvent(context.Background(), "stripe", "evt_repeat")
	require.NoError(t, err)
	assert.Equal(t, 2, record.Attempts)
	assert.Equal(t, string(domain.PathUpgradeExisting), record.Path)
}

func TestExistingAccountIsUpgradedInPlace(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	existing := &accountdomain.Account{
		ID:        f.node.Generate(),
		Email:     "sam@example.com",
		Name:      "Sam",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.accounts.Create(context.Background(), existing))

	outcome, err := f.deliver(t, checkoutPayload(t, "evt_upgrade", " Sam@Example.com ", "Samuel"))
	require.NoError(t, err)
	assert.Equal(t, domain.PathUpgradeExisting, outcome.Path)
	assert.Equal(t, existing.ID, outcome.AccountID)

	acc := f.account(t, "sam@example.com")
	assert.True(t, acc.HasCourseAccess)
	require.NotNil(t, acc.StripeCustomerID)
	assert.Equal(t, "cus_123", *acc.StripeCustomerID)
	assert.EqualValues(t, 0, f.count(t, &authdomain.Credential{}))

	msgs := f.mail.to("sam@example.com")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].HTML, "Hi Sam,")
}

func TestInvalidSignatureWritesNothing(t *testing.T) {
	f := newFixture(t, withStrictMailer())
	payload := checkoutPayload(t, "evt_forged", "new@x.com", "Jane")

	headers := signed(payload)
	tampered := checkoutPayload(t, "evt_forged", "attacker@x.com", "Mallory")

	cases := map[string]struct {
		payload []byte
		headers http.Header
	}{
		"tampered body":  {payload: tampered, headers: headers},
		"missing header": {payload: payload, headers: http.Header{}},
		"wrong secret": {payload: payload, headers: func() http.Header {
			sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})
			h := http.Header{}
			h.Set(stripeadapter.SignatureHeader, sp.Header)
			return h
		}()},
		"expired": {payload: payload, headers: func() http.Header {
			sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
				Payload:   payload,
				Secret:    webhookSecret,
				Timestamp: time.Now().Add(-time.Hour),
			})
			h := http.Header{}
			h.Set(stripeadapter.SignatureHeader, sp.Header)
			return h
		}()},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			outcome, err := f.svc.HandleWebhook(context.Background(), "stripe", tc.payload, tc.headers)
			require.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
			assert.True(t, domain.IsTerminal(err))
			assert.Nil(t, outcome)
		})
	}

	assert.EqualValues(t, 0, f.count(t, &accountdomain.Account{}))
	assert.EqualValues(t, 0, f.count(t, &authdomain.Credential{}))
	assert.EqualValues(t, 0, f.count(t, &domain.EventRecord{}))
}

func TestUnknownProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.HandleWebhook(context.Background(), "paypal", []byte(`{}`), http.Header{})
	require.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestIgnoredEventTypes(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id":"evt_pi","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	outcome, err := f.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIgnored, outcome.Status)
	assert.Zero(t, f.mail.count())
	assert.EqualValues(t, 0, f.count(t, &domain.EventRecord{}))

	outcome, err = f.svc.Fulfill(context.Background(), &paymentdomain.PurchaseEvent{Type: "invoice.paid"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIgnored, outcome.Status)
}

func TestMalformedPayloadIsTerminal(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"object":"event"}`)
	_, err := f.deliver(t, payload)
	require.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
	assert.True(t, domain.IsTerminal(err))
}

func TestMissingEmailIsTerminalWithoutAlert(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.deliver(t, checkoutPayload(t, "evt_noemail", "", "Jane"))
	require.ErrorIs(t, err, domain.ErrMissingCustomerEmail)
	assert.True(t, domain.IsTerminal(err))
	assert.Equal(t, domain.StatusFailed, outcome.Status)
	assert.False(t, outcome.AlertSent)
	assert.Zero(t, f.mail.count())
	assert.EqualValues(t, 0, f.count(t, &accountdomain.Account{}))

	_, err = f.deliver(t, checkoutPayload(t, "evt_bademail", "not an address", "Jane"))
	require.ErrorIs(t, err, domain.ErrMissingCustomerEmail)
}

func TestNotifyFailureKeepsAccessAndAlerts(t *testing.T) {
	sendErr := errors.New("smtp: 421 service not available")
	f := newFixture(t, withSendError(func(msg email.Message) error {
		if msg.To[0] == adminEmail {
			return nil
		}
		return sendErr
	}))

	outcome, err := f.deliver(t, checkoutPayload(t, "evt_mailfail", "new@x.com", "Jane"))
	require.ErrorIs(t, err, domain.ErrEmailSend)
	assert.False(t, errors.Is(err, sendErr))
	assert.False(t, domain.IsTerminal(err))

	assert.Equal(t, domain.StatusPartial, outcome.Status)
	assert.True(t, outcome.AccessGranted)
	assert.True(t, outcome.HasWarning(domain.WarningNotifyFailed))
	assert.True(t, outcome.AlertSent)

	acc := f.account(t, "new@x.com")
	assert.True(t, acc.HasCourseAccess)

	alerts := f.mail.to(adminEmail)
	require.Len(t, alerts, 1)
	assert.Equal(t, "ALERT: Failed to process course purchase", alerts[0].Subject)
	assert.Equal(t, "System <noreply@example.com>", alerts[0].From)
	assert.Contains(t, alerts[0].HTML, "new@x.com")
	assert.Contains(t, alerts[0].HTML, "cs_evt_mailfail")

	assert.Equal(t, 1.0, counterValue(t, f.metrics, "courseaccess_admin_alerts_total",
		map[string]string{"result": "sent"}))
}

type failingAccounts struct {
	accountdomain.Repository
	findErr   error
	createErr error
	onCreate  func(ctx context.Context, account *accountdomain.Account)
}

func (r *failingAccounts) FindByEmail(ctx context.Context, addr string) (*accountdomain.Account, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.Repository.FindByEmail(ctx, addr)
}

func (r *failingAccounts) Create(ctx context.Context, account *accountdomain.Account) error {
	if r.onCreate != nil {
		hook := r.onCreate
		r.onCreate = nil
		hook(ctx, account)
	}
	if r.createErr != nil {
		return r.createErr
	}
	return r.Repository.Create(ctx, account)
}

func TestStoreFailureAlertsAndSwallowsAlertError(t *testing.T) {
	rawErr := errors.New("dial tcp: connection refused")
	var accounts *failingAccounts
	f := newFixture(t,
		withSendError(func(email.Message) error { return errors.New("smtp down") }),
		func(f *fixture, p *service.Params) {
			accounts = &failingAccounts{Repository: f.accounts, findErr: rawErr}
			p.Accounts = accounts
		},
	)

	outcome, err := f.deliver(t, checkoutPayload(t, "evt_storefail", "new@x.com", "Jane"))
	require.ErrorIs(t, err, domain.ErrIdentityStore)
	assert.False(t, errors.Is(err, rawErr))
	assert.Equal(t, domain.StatusFailed, outcome.Status)
	assert.False(t, outcome.AccessGranted)
	assert.False(t, outcome.AlertSent)
	require.Len(t, f.mail.to(adminEmail), 1)

	assert.Equal(t, 1.0, counterValue(t, f.metrics, "courseaccess_admin_alerts_total",
		map[string]string{"result": "failed"}))

	record, err := f.events.FindByEvent(context.Background(), "stripe", "evt_storefail")
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusFailed), record.Status)
	assert.Contains(t, record.LastError, "identity_store_error")
}

func TestProfileInsertFailureIsPartialAndRepairedOnRedelivery(t *testing.T) {
	var accounts *failingAccounts
	f := newFixture(t, func(f *fixture, p *service.Params) {
		accounts = &failingAccounts{Repository: f.accounts, createErr: errors.New("disk I/O error")}
		p.Accounts = accounts
	})
	payload := checkoutPayload(t, "evt_profile", "new@x.com", "Jane")

	outcome, err := f.deliver(t, payload)
	require.ErrorIs(t, err, domain.ErrProfileIncomplete)
	assert.False(t, domain.IsTerminal(err))
	assert.Equal(t, domain.StatusPartial, outcome.Status)
	assert.True(t, outcome.HasWarning(domain.WarningProfileMissing))
	assert.True(t, outcome.AccessGranted)
	assert.True(t, outcome.Notified)
	assert.True(t, outcome.AlertSent)
	assert.EqualValues(t, 0, f.count(t, &accountdomain.Account{}))
	assert.EqualValues(t, 1, f.count(t, &authdomain.Credential{}))
	require.Len(t, f.mail.to("new@x.com"), 1)
	assert.Regexp(t, tempPasswordPattern, f.mail.to("new@x.com")[0].HTML)

	accounts.createErr = nil
	outcome, err = f.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, domain.PathUpgradeExisting, outcome.Path)
	assert.True(t, outcome.RaceResolved)

	acc := f.account(t, "new@x.com")
	assert.True(t, acc.HasCourseAccess)
	assert.Equal(t, "Jane", acc.Name)
	require.NotNil(t, acc.IdentityID)
	assert.Equal(t, outcome.IdentityID, *acc.IdentityID)
}

// racingIdentity runs before once, ahead of the first credential creation,
// so a second delivery completes in between lookup and create.
type racingIdentity struct {
	authdomain.Provider
	fired  bool
	before func()
}

func (r *racingIdentity) CreateCredential(ctx context.Context, req authdomain.CreateCredentialRequest) (*authdomain.Credential, error) {
	if !r.fired {
		r.fired = true
		r.before()
	}
	return r.Provider.CreateCredential(ctx, req)
}

func TestConcurrentDeliveryLosesCredentialRace(t *testing.T) {
	payload := checkoutPayload(t, "evt_race", "new@x.com", "Jane")
	var (
		svc        domain.Service
		innerOut   *domain.Outcome
		innerError error
	)
	f := newFixture(t, func(f *fixture, p *service.Params) {
		p.Identity = &racingIdentity{
			Provider: f.identity,
			before: func() {
				innerOut, innerError = svc.HandleWebhook(context.Background(), "stripe", payload, signed(payload))
			},
		}
	})
	svc = f.svc

	outcome, err := f.deliver(t, payload)
	require.NoError(t, err)
	require.NoError(t, innerError)

	assert.Equal(t, domain.PathCreateNew, innerOut.Path)
	assert.Equal(t, domain.PathUpgradeExisting, outcome.Path)
	assert.True(t, outcome.RaceResolved)
	assert.Equal(t, domain.StatusOK, outcome.Status)
	assert.False(t, outcome.AlertSent)

	assert.EqualValues(t, 1, f.count(t, &accountdomain.Account{}))
	assert.EqualValues(t, 1, f.count(t, &authdomain.Credential{}))
	assert.Empty(t, f.mail.to(adminEmail))
}

func TestConcurrentAccountInsertUpgradesAndKeepsWelcome(t *testing.T) {
	var accounts *failingAccounts
	f := newFixture(t, func(f *fixture, p *service.Params) {
		accounts = &failingAccounts{Repository: f.accounts}
		p.Accounts = accounts
	})
	other, err := snowflake.NewNode(2)
	require.NoError(t, err)
	accounts.onCreate = func(ctx context.Context, account *accountdomain.Account) {
		now := f.clock.Now()
		require.NoError(t, f.accounts.Create(ctx, &accountdomain.Account{
			ID:        other.Generate(),
			Email:     account.Email,
			Name:      "Jane",
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}

	outcome, err := f.deliver(t, checkoutPayload(t, "evt_insert_race", "new@x.com", "Jane"))
	require.NoError(t, err)
	assert.True(t, outcome.RaceResolved)
	assert.True(t, outcome.CredentialIssued)
	assert.Equal(t, domain.PathUpgradeExisting, outcome.Path)

	acc := f.account(t, "new@x.com")
	assert.True(t, acc.HasCourseAccess)
	require.NotNil(t, acc.IdentityID)
	assert.Equal(t, outcome.IdentityID, *acc.IdentityID)
	assert.EqualValues(t, 1, f.count(t, &accountdomain.Account{}))

	msgs := f.mail.to("new@x.com")
	require.Len(t, msgs, 1)
	assert.Regexp(t, tempPasswordPattern, msgs[0].HTML)
}

func TestParallelDeliveriesForSameEmail(t *testing.T) {
	f := newFixture(t)
	payload := checkoutPayload(t, "evt_parallel", "new@x.com", "Jane")

	const workers = 4
	var wg sync.WaitGroup
	outcomes := make([]*domain.Outcome, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.deliver(t, payload)
		}(i)
	}
	wg.Wait()

	issued := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, outcomes[i].AccessGranted)
		if outcomes[i].CredentialIssued {
			issued++
		}
	}
	assert.Equal(t, 1, issued)
	assert.EqualValues(t, 1, f.count(t, &accountdomain.Account{}))
	assert.EqualValues(t, 1, f.count(t, &authdomain.Credential{}))
	assert.True(t, f.account(t, "new@x.com").HasCourseAccess)
}

func TestParallelDeliveriesForDifferentEmails(t *testing.T) {
	f := newFixture(t)
	addrs := []string{"a@x.com", "b@x.com", "c@x.com"}

	payloads := make([][]byte, len(addrs))
	for i, addr := range addrs {
		payloads[i] = checkoutPayload(t, "evt_"+addr, addr, "")
	}

	var wg sync.WaitGroup
	for _, payload := range payloads {
		wg.Add(1)
		go func(payload []byte) {
			defer wg.Done()
			_, err := f.deliver(t, payload)
			assert.NoError(t, err)
		}(payload)
	}
	wg.Wait()

	assert.EqualValues(t, len(addrs), f.count(t, &accountdomain.Account{}))
	for _, addr := range addrs {
		acc := f.account(t, addr)
		assert.Equal(t, "Course Student", acc.Name)
		msgs := f.mail.to(addr)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0].HTML, "Hi there,")
	}
}
