package service

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/xx-3-xx/BankWebsite/libs/logging"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/provider"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/rate"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/storage"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/validation"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/verification"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type countingRegistrar struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (r *countingRegistrar) Register(ctx context.Context, p provider.Profile) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return provider.SimulatedRegistrar{Latency: r.delay}.Register(ctx, p)
}

func (r *countingRegistrar) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type captureSMS struct {
	mu   sync.Mutex
	sent []provider.VerificationMessage
	err  error
}

func (c *captureSMS) SendVerificationCode(_ context.Context, msg provider.VerificationMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureSMS) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *captureSMS) last(t *testing.T) provider.VerificationMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatalf("expected an sms to be sent")
	}
	return c.sent[len(c.sent)-1]
}

// stallingIssuer blocks until the step deadline for its first stalls calls.
type stallingIssuer struct {
	mu     sync.Mutex
	stalls int
}

func (s *stallingIssuer) Issue(ctx context.Context, req provider.LinkRequest) (provider.IssuedAccount, error) {
	s.mu.Lock()
	stall := s.stalls > 0
	if stall {
		s.stalls--
	}
	s.mu.Unlock()
	if stall {
		<-ctx.Done()
		return provider.IssuedAccount{}, ctx.Err()
	}
	return provider.SimulatedAccountIssuer{Now: func() time.Time { return fixedNow }}.Issue(ctx, req)
}

type failingStore struct{}

func (failingStore) StoreBundle(context.Context, string, []provider.Document) error {
	return errors.New("bucket unavailable")
}

type recordingRecorder struct {
	mu       sync.Mutex
	audits   []storage.AuditLog
	accounts []storage.LinkedAccount
}

func (r *recordingRecorder) InsertAudit(_ context.Context, log storage.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, log)
	return nil
}

func (r *recordingRecorder) CreateLinkedAccount(_ context.Context, acct storage.LinkedAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, acct)
	return nil
}

type recordProducer struct {
	mu     sync.Mutex
	topics []string
	keys   []string
	values []any
}

func (p *recordProducer) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return 0, int64(len(p.values)), nil
}

func (p *recordProducer) Close() error { return nil }

type fixture struct {
	svc       *OnboardingService
	registrar *countingRegistrar
	sms       *captureSMS
	recorder  *recordingRecorder
	producer  *recordProducer
	metrics   *Metrics
}

func newFixture(t *testing.T, mutate func(*Providers, *Options)) *fixture {
	t.Helper()
	f := &fixture{
		registrar: &countingRegistrar{},
		sms:       &captureSMS{},
		recorder:  &recordingRecorder{},
		producer:  &recordProducer{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	providers := Providers{
		Registrar: f.registrar,
		Faces:     provider.SimulatedFaceAnalyzer{Confidence: 0.95},
		Documents: provider.SimulatedDocumentStore{},
		SMS:       f.sms,
		Accounts:  provider.SimulatedAccountIssuer{Now: func() time.Time { return fixedNow }},
	}
	opts := Options{
		StepTimeout: time.Second,
		EventsTopic: "onboarding.events",
		Now:         func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&providers, &opts)
	}
	verifier := verification.NewService(verification.NewMemoryStore(verification.DefaultMaxAttempts), verification.DefaultTTL, nil)
	f.svc = NewOnboardingService(providers, verifier, rate.NewMemory(rate.Policy{Limit: 3, Window: time.Minute}), f.recorder, f.producer, logging.Discard(), f.metrics, opts)
	return f
}

func validRegistration() RegisterInput {
	return RegisterInput{
		FullName:    "Ali Hassan",
		NRIC:        "900101-14-5678",
		PhoneNumber: "+60123456789",
		Email:       "ali@example.com",
		Address:     "1 Jalan Ampang, Kuala Lumpur",
	}
}

func assertMessage(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("expected error %q, got %q", want, err.Error())
	}
}

func TestRegisterReportsMissingFieldsInOrder(t *testing.T) {
	f := newFixture(t, nil)
	in := validRegistration()
	in.NRIC = ""
	in.Email = "   "

	_, err := f.svc.Register(context.Background(), in)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	assertMessage(t, err, "All required fields must be filled (missing: nric, email)")
	if f.registrar.Calls() != 0 {
		t.Fatalf("registrar must not run on invalid input")
	}
	if got := promtestutil.ToFloat64(f.metrics.StepRequests.WithLabelValues(StepRegister, "invalid")); got != 1 {
		t.Fatalf("expected invalid counter 1, got %v", got)
	}
}

func TestRegisterRejectsBadEmail(t *testing.T) {
	f := newFixture(t, nil)
	for _, email := range []string{"ali.example.com", " jane@example.com", "jane@example.com\n", "jane @example.com"} {
		in := validRegistration()
		in.Email = email

		_, err := f.svc.Register(context.Background(), in)
		assertMessage(t, err, MsgInvalidEmail)
	}
	if f.registrar.Calls() != 0 {
		t.Fatalf("registrar must not run on invalid email")
	}
}

func TestRegisterSuccessCreatesNewCustomerEachTime(t *testing.T) {
	f := newFixture(t, nil)
	in := validRegistration()
	in.Meta = RequestMeta{RequestID: "req-1"}

	first, err := f.svc.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := f.svc.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	if !strings.HasPrefix(first.CustomerID, "CUST-") || first.NextStep != NextStepUploadDocuments {
		t.Fatalf("unexpected result %+v", first)
	}
	if first.CustomerID == second.CustomerID {
		t.Fatalf("expected distinct customer ids")
	}
	if len(f.recorder.audits) != 2 || f.recorder.audits[0].Action != storage.ActionRegistered || f.recorder.audits[0].RequestID != "req-1" {
		t.Fatalf("unexpected audits %+v", f.recorder.audits)
	}
	if len(f.producer.values) != 2 {
		t.Fatalf("expected 2 events, got %d", len(f.producer.values))
	}
	evt, ok := f.producer.values[0].(StepCompletedEvent)
	if !ok || evt.Step != StepRegister || evt.EntityID != first.CustomerID || evt.CorrelationID != "req-1" {
		t.Fatalf("unexpected event %+v", f.producer.values[0])
	}
}

func TestRegisterTimesOut(t *testing.T) {
	f := newFixture(t, func(_ *Providers, o *Options) {
		o.StepTimeout = 20 * time.Millisecond
	})
	f.registrar.delay = time.Second

	_, err := f.svc.Register(context.Background(), validRegistration())
	var tErr *TimeoutError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if tErr.Step != StepRegister {
		t.Fatalf("unexpected step %q", tErr.Step)
	}
}

func pngDataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nfake"))
}

func TestScanFaceValidation(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		name  string
		image string
		want  string
	}{
		{name: "empty", image: "", want: MsgNoImage},
		{name: "not data url", image: "https://example.com/face.png", want: MsgInvalidImage},
		{name: "not image", image: "data:text/plain;base64,aGVsbG8=", want: MsgInvalidImage},
		{name: "bad base64", image: "data:image/png;base64,***", want: MsgInvalidImage},
		{name: "empty payload", image: "data:image/png;base64,", want: MsgInvalidImage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.ScanFace(context.Background(), FaceScanInput{Image: tc.image})
			assertMessage(t, err, tc.want)
		})
	}
}

func TestScanFaceSuccess(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.ScanFace(context.Background(), FaceScanInput{Image: pngDataURL()})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.FaceID != "FACE-1709287200000" {
		t.Fatalf("unexpected face id %q", res.FaceID)
	}
	if !res.Analysis.FaceDetected || res.Analysis.FaceQuality != provider.QualityGood || res.Analysis.Confidence != 0.95 {
		t.Fatalf("unexpected analysis %+v", res.Analysis)
	}
}

func TestScanFaceLowConfidenceCarriesAnalysis(t *testing.T) {
	f := newFixture(t, func(p *Providers, _ *Options) {
		p.Faces = provider.SimulatedFaceAnalyzer{Confidence: 0.4}
	})
	_, err := f.svc.ScanFace(context.Background(), FaceScanInput{Image: pngDataURL()})
	var qErr *QualityError
	if !errors.As(err, &qErr) {
		t.Fatalf("expected quality error, got %v", err)
	}
	if qErr.Message != MsgFaceNotVisible || qErr.Analysis.Confidence != 0.4 || qErr.Analysis.FaceQuality != provider.QualityPoor {
		t.Fatalf("unexpected quality error %+v", qErr)
	}
	if len(f.recorder.audits) != 0 {
		t.Fatalf("rejected scans must not be audited")
	}
}

func doc(name, contentType string, size int64) *provider.Document {
	return &provider.Document{
		Name:        name,
		ContentType: contentType,
		Size:        size,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("img")), nil
		},
	}
}

func TestUploadDocumentsFailFastOrder(t *testing.T) {
	f := newFixture(t, nil)
	tooBig := validation.MaxDocumentSize + 1

	cases := []struct {
		name string
		in   UploadInput
		want string
	}{
		{
			name: "missing back",
			in:   UploadInput{ICFront: doc("front.jpg", "image/jpeg", 10)},
			want: MsgDocumentsRequired,
		},
		{
			name: "missing front with bad back",
			in:   UploadInput{ICBack: doc("back.pdf", "application/pdf", 10)},
			want: MsgDocumentsRequired,
		},
		{
			name: "type checked before size",
			in: UploadInput{
				ICFront: doc("front.jpg", "image/jpeg", tooBig),
				ICBack:  doc("back.pdf", "application/pdf", 10),
			},
			want: "IC back image must be a valid image file (JPEG, PNG, WebP)",
		},
		{
			name: "selfie type",
			in: UploadInput{
				ICFront: doc("front.jpg", "image/jpeg", 10),
				ICBack:  doc("back.png", "image/png", 10),
				Selfie:  doc("me.gif", "image/gif", 10),
			},
			want: "Selfie image must be a valid image file (JPEG, PNG, WebP)",
		},
		{
			name: "front size",
			in: UploadInput{
				ICFront: doc("front.jpg", "image/jpeg", tooBig),
				ICBack:  doc("back.png", "image/png", 10),
			},
			want: "IC front image is too large. Maximum size is 5MB.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.UploadDocuments(context.Background(), tc.in)
			assertMessage(t, err, tc.want)
		})
	}
}

func TestUploadDocumentsAcceptsExactLimit(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.UploadDocuments(context.Background(), UploadInput{
		ICFront: doc("front.jpg", "image/jpeg", validation.MaxDocumentSize),
		ICBack:  doc("back.webp", "image/webp", 1),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(res.UploadID, "UPLOAD-") {
		t.Fatalf("unexpected upload id %q", res.UploadID)
	}
	if res.Files.ICFront != "front.jpg" || res.Files.ICBack != "back.webp" || res.Files.Selfie != nil {
		t.Fatalf("unexpected files %+v", res.Files)
	}
}

func TestUploadDocumentsStoreFailureIsUnexpected(t *testing.T) {
	f := newFixture(t, func(p *Providers, _ *Options) {
		p.Documents = failingStore{}
	})
	_, err := f.svc.UploadDocuments(context.Background(), UploadInput{
		ICFront: doc("front.jpg", "image/jpeg", 10),
		ICBack:  doc("back.jpg", "image/jpeg", 10),
		Selfie:  doc("me.jpg", "image/jpeg", 10),
	})
	var uErr *UnexpectedError
	if !errors.As(err, &uErr) || uErr.Step != StepUploadDocuments {
		t.Fatalf("expected unexpected error, got %v", err)
	}
}

func TestSendVerificationValidation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SendVerification(context.Background(), SendVerificationInput{AccountNumber: "12345678"})
	assertMessage(t, err, MsgAccountFieldsRequired)

	for _, number := range []string{"1234-5678", " 12345678", "12345678\n", "1234 5678"} {
		_, err = f.svc.SendVerification(context.Background(), SendVerificationInput{AccountNumber: number, BankName: "Maybank"})
		assertMessage(t, err, MsgInvalidAccountNumber)
	}

	_, err = f.svc.SendVerification(context.Background(), SendVerificationInput{AccountNumber: "   ", BankName: "Maybank"})
	assertMessage(t, err, MsgAccountFieldsRequired)

	if len(f.sms.sent) != 0 {
		t.Fatalf("no sms expected for invalid input")
	}
}

func TestSendVerificationIsThrottledPerPair(t *testing.T) {
	f := newFixture(t, nil)
	in := SendVerificationInput{AccountNumber: "12345678", BankName: "Maybank"}
	for i := 0; i < 3; i++ {
		if _, err := f.svc.SendVerification(context.Background(), in); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	_, err := f.svc.SendVerification(context.Background(), in)
	var rErr *RateLimitError
	if !errors.As(err, &rErr) {
		t.Fatalf("expected rate limit error, got %v", err)
	}

	other := SendVerificationInput{AccountNumber: "87654321", BankName: "Maybank"}
	if _, err := f.svc.SendVerification(context.Background(), other); err != nil {
		t.Fatalf("other pair should not be throttled: %v", err)
	}
}

func TestSendVerificationEventsIdentifyEachCode(t *testing.T) {
	f := newFixture(t, nil)
	in := SendVerificationInput{AccountNumber: "12345678", BankName: "Maybank", Meta: RequestMeta{RequestID: "req-1"}}
	for i := 0; i < 2; i++ {
		if _, err := f.svc.SendVerification(context.Background(), in); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	if len(f.producer.values) != 2 || len(f.recorder.audits) != 2 {
		t.Fatalf("expected two events and audits, got %d and %d", len(f.producer.values), len(f.recorder.audits))
	}
	first := f.producer.values[0].(StepCompletedEvent)
	second := f.producer.values[1].(StepCompletedEvent)
	if first.EventID == second.EventID || first.EntityID == second.EntityID {
		t.Fatalf("expected a distinct event per code, got %s twice", first.EventID)
	}
	if first.Attributes["account"] != "****5678" || first.Attributes["account_ref"] == "" {
		t.Fatalf("unexpected attributes %v", first.Attributes)
	}
	if first.Attributes["account_ref"] != second.Attributes["account_ref"] {
		t.Fatalf("expected both codes to reference the same account")
	}

	for i, key := range f.producer.keys {
		if strings.Contains(key, "12345678") {
			t.Fatalf("event key %d leaks account number: %s", i, key)
		}
	}
	for _, v := range first.Attributes {
		if strings.Contains(v, "12345678") {
			t.Fatalf("event attributes leak account number: %v", first.Attributes)
		}
	}
	for _, a := range f.recorder.audits {
		if strings.Contains(a.EntityID, "12345678") || a.Metadata["account"] != "****5678" {
			t.Fatalf("audit leaks account number: %+v", a)
		}
	}
}

func TestSendVerificationFailedSMSKeepsPreviousCode(t *testing.T) {
	f := newFixture(t, nil)
	in := SendVerificationInput{AccountNumber: "12345678", BankName: "Maybank"}
	if _, err := f.svc.SendVerification(context.Background(), in); err != nil {
		t.Fatalf("send: %v", err)
	}
	code := f.sms.last(t).Code

	f.sms.failWith(errors.New("sms gateway down"))
	_, err := f.svc.SendVerification(context.Background(), in)
	var uErr *UnexpectedError
	if !errors.As(err, &uErr) {
		t.Fatalf("expected unexpected error, got %v", err)
	}

	if _, err := f.svc.LinkAccount(context.Background(), LinkAccountInput{
		AccountNumber:    "12345678",
		BankName:         "Maybank",
		VerificationCode: code,
	}); err != nil {
		t.Fatalf("expected delivered code to stay valid, got %v", err)
	}
}

func TestLinkAccountIssuerTimeoutRestoresCode(t *testing.T) {
	issuer := &stallingIssuer{stalls: 1}
	f := newFixture(t, func(p *Providers, o *Options) {
		p.Accounts = issuer
		o.StepTimeout = 50 * time.Millisecond
	})
	if _, err := f.svc.SendVerification(context.Background(), SendVerificationInput{AccountNumber: "12345678", BankName: "Maybank"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	in := LinkAccountInput{AccountNumber: "12345678", BankName: "Maybank", VerificationCode: f.sms.last(t).Code}

	_, err := f.svc.LinkAccount(context.Background(), in)
	var tErr *TimeoutError
	if !errors.As(err, &tErr) || tErr.Step != StepLinkAccount {
		t.Fatalf("expected link timeout, got %v", err)
	}

	acct, err := f.svc.LinkAccount(context.Background(), in)
	if err != nil {
		t.Fatalf("expected retry with the same code to succeed, got %v", err)
	}
	if acct.LinkedAccountNumber != "12345678" {
		t.Fatalf("unexpected account %+v", acct)
	}

	_, err = f.svc.LinkAccount(context.Background(), in)
	assertMessage(t, err, MsgCodeNotFound)
}

func TestVerificationCodeLinksOnce(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.SendVerification(context.Background(), SendVerificationInput{AccountNumber: "12345678", BankName: "Maybank"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ExpiresIn != verification.DefaultTTL {
		t.Fatalf("unexpected expiry %v", res.ExpiresIn)
	}
	code := f.sms.last(t).Code
	if len(code) != verification.CodeLength {
		t.Fatalf("unexpected code %q", code)
	}

	in := LinkAccountInput{AccountNumber: "12345678", BankName: "Maybank", VerificationCode: "000000"}
	if code == "000000" {
		in.VerificationCode = "999999"
	}
	_, err = f.svc.LinkAccount(context.Background(), in)
	assertMessage(t, err, MsgCodeMismatch)

	in.VerificationCode = code
	acct, err := f.svc.LinkAccount(context.Background(), in)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !strings.HasPrefix(acct.AccountID, "ACC-") || len(acct.AccountNumber) != 10 {
		t.Fatalf("unexpected account %+v", acct)
	}
	if acct.AccountType != "savings" || acct.Status != storage.AccountStatusActive || !acct.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected account %+v", acct)
	}
	if len(f.recorder.accounts) != 1 || f.recorder.accounts[0].LinkedAccountNumber != "12345678" {
		t.Fatalf("expected linked account to be recorded, got %+v", f.recorder.accounts)
	}

	_, err = f.svc.LinkAccount(context.Background(), in)
	assertMessage(t, err, MsgCodeNotFound)
}

func TestLinkAccountValidation(t *testing.T) {
	f := newFixture(t, func(_ *Providers, o *Options) {
		o.RequireVerification = true
	})
	cases := []struct {
		name string
		in   LinkAccountInput
		want string
	}{
		{name: "missing bank", in: LinkAccountInput{AccountNumber: "12345678"}, want: MsgAccountFieldsRequired},
		{name: "short number", in: LinkAccountInput{AccountNumber: "1234567", BankName: "CIMB"}, want: MsgInvalidAccountNumber},
		{name: "leading space", in: LinkAccountInput{AccountNumber: " 12345678", BankName: "CIMB"}, want: MsgInvalidAccountNumber},
		{name: "trailing newline", in: LinkAccountInput{AccountNumber: "12345678\n", BankName: "CIMB"}, want: MsgInvalidAccountNumber},
		{name: "bad type", in: LinkAccountInput{AccountNumber: "12345678", BankName: "CIMB", AccountType: "crypto"}, want: MsgInvalidAccountType},
		{name: "code required", in: LinkAccountInput{AccountNumber: "12345678", BankName: "CIMB", AccountType: "current"}, want: MsgCodeRequired},
		{name: "no challenge", in: LinkAccountInput{AccountNumber: "12345678", BankName: "CIMB", VerificationCode: "123456"}, want: MsgCodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.LinkAccount(context.Background(), tc.in)
			assertMessage(t, err, tc.want)
		})
	}
}

func TestLinkAccountWithoutCodeWhenOptional(t *testing.T) {
	f := newFixture(t, nil)
	acct, err := f.svc.LinkAccount(context.Background(), LinkAccountInput{
		AccountNumber: "1234567890123456",
		BankName:      "Public Bank",
		AccountType:   "Fixed",
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if acct.AccountType != "fixed" || acct.BankName != "Public Bank" {
		t.Fatalf("unexpected account %+v", acct)
	}
}
