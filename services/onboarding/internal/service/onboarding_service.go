package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xx-3-xx/BankWebsite/libs/kafka"
	"github.com/xx-3-xx/BankWebsite/libs/logging"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/provider"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/rate"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/storage"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/validation"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/verification"
)

const (
	StepRegister         = "register"
	StepFaceScan         = "face_scan"
	StepUploadDocuments  = "upload_documents"
	StepSendVerification = "send_verification"
	StepLinkAccount      = "link_account"

	NextStepUploadDocuments = "upload-documents"

	DefaultStepTimeout       = 10 * time.Second
	DefaultMinFaceConfidence = 0.7

	auditTimeout = 2 * time.Second
)

var documentLabels = map[string]string{
	"icFront": "IC front",
	"icBack":  "IC back",
	"selfie":  "Selfie",
}

type Providers struct {
	Registrar provider.Registrar
	Faces     provider.FaceAnalyzer
	Documents provider.DocumentStore
	SMS       provider.SMSSender
	Accounts  provider.AccountIssuer
}

type Verifier interface {
	Issue(ctx context.Context, accountNumber, bankName string, deliver func(context.Context, verification.Issued) error) (verification.Issued, error)
	Verify(ctx context.Context, accountNumber, bankName, code string) (verification.Receipt, error)
	Restore(ctx context.Context, receipt verification.Receipt) error
	TTL() time.Duration
}

// Recorder persists audit entries and linked accounts. A nil Recorder
// disables recording.
type Recorder interface {
	InsertAudit(ctx context.Context, log storage.AuditLog) error
	CreateLinkedAccount(ctx context.Context, acct storage.LinkedAccount) error
}

type Options struct {
	StepTimeout         time.Duration
	MinFaceConfidence   float64
	RequireVerification bool
	EventsTopic         string
	Now                 func() time.Time
}

type OnboardingService struct {
	providers Providers
	verifier  Verifier
	limiter   rate.Limiter
	recorder  Recorder
	producer  kafka.Publisher
	logger    *slog.Logger
	metrics   *Metrics
	topic     string
	opts      Options
}

type RequestMeta struct {
	RequestID string
	IP        string
	UserAgent string
}

type RegisterInput struct {
	FullName      string
	NRIC          string
	PhoneNumber   string
	Email         string
	Address       string
	EnableFacePay bool
	Meta          RequestMeta
}

type RegisterResult struct {
	CustomerID string
	NextStep   string
}

type FaceScanInput struct {
	Image string
	Meta  RequestMeta
}

type FaceScanResult struct {
	Analysis provider.FaceAnalysis
	FaceID   string
}

type UploadInput struct {
	ICFront *provider.Document
	ICBack  *provider.Document
	Selfie  *provider.Document
	Meta    RequestMeta
}

type UploadedFiles struct {
	ICFront string
	ICBack  string
	Selfie  *string
}

type UploadResult struct {
	UploadID string
	Files    UploadedFiles
}

type SendVerificationInput struct {
	AccountNumber string
	BankName      string
	Meta          RequestMeta
}

type SendVerificationResult struct {
	ExpiresIn time.Duration
	ExpiresAt time.Time
}

type LinkAccountInput struct {
	AccountNumber    string
	BankName         string
	AccountType      string
	VerificationCode string
	Meta             RequestMeta
}

func NewOnboardingService(providers Providers, verifier Verifier, limiter rate.Limiter, recorder Recorder, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics, opts Options) *OnboardingService {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.MinFaceConfidence <= 0 {
		opts.MinFaceConfidence = DefaultMinFaceConfidence
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &OnboardingService{
		providers: providers,
		verifier:  verifier,
		limiter:   limiter,
		recorder:  recorder,
		producer:  producer,
		logger:    logger,
		metrics:   metrics,
		topic:     opts.EventsTopic,
		opts:      opts,
	}
}

// Register validates the customer profile and creates the customer.
func (s *OnboardingService) Register(ctx context.Context, in RegisterInput) (res RegisterResult, err error) {
	start := time.Now()
	defer func() { s.observe(StepRegister, start, err) }()

	if err := validation.RequireAllPresent(
		validation.Field{Name: "fullName", Value: in.FullName},
		validation.Field{Name: "nric", Value: in.NRIC},
		validation.Field{Name: "phoneNumber", Value: in.PhoneNumber},
		validation.Field{Name: "email", Value: in.Email},
		validation.Field{Name: "address", Value: in.Address},
	); err != nil {
		return RegisterResult{}, missingFieldsError(err)
	}
	if !validation.IsValidEmail(in.Email) {
		return RegisterResult{}, &ValidationError{Field: "email", Message: MsgInvalidEmail}
	}

	profile := provider.Profile{
		FullName:    strings.TrimSpace(in.FullName),
		NationalID:  strings.TrimSpace(in.NRIC),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		Email:       in.Email,
		Address:     strings.TrimSpace(in.Address),
		FaceEnabled: in.EnableFacePay,
	}
	customerID, err := runUnit(ctx, s, StepRegister, func(ctx context.Context) (string, error) {
		return s.providers.Registrar.Register(ctx, profile)
	})
	if err != nil {
		return RegisterResult{}, err
	}

	s.audit(ctx, storage.ActionRegistered, customerID, in.Meta, map[string]string{
		"face_pay": strconv.FormatBool(in.EnableFacePay),
	})
	s.publishStep(ctx, StepRegister, customerID, in.Meta, nil)

	return RegisterResult{CustomerID: customerID, NextStep: NextStepUploadDocuments}, nil
}

// ScanFace decodes the captured still and runs the face analyzer on it.
// An analysis under the confidence threshold is a QualityError.
func (s *OnboardingService) ScanFace(ctx context.Context, in FaceScanInput) (res FaceScanResult, err error) {
	start := time.Now()
	defer func() { s.observe(StepFaceScan, start, err) }()

	image := strings.TrimSpace(in.Image)
	if image == "" {
		return FaceScanResult{}, &ValidationError{Field: "image", Message: MsgNoImage}
	}
	if !validation.IsImageDataURL(image) {
		return FaceScanResult{}, &ValidationError{Field: "image", Message: MsgInvalidImage}
	}
	mimeType, data, err := parseImageDataURL(image)
	if err != nil {
		return FaceScanResult{}, &ValidationError{Field: "image", Message: MsgInvalidImage}
	}

	capturedAt := s.opts.Now()
	analysis, err := runUnit(ctx, s, StepFaceScan, func(ctx context.Context) (provider.FaceAnalysis, error) {
		return s.providers.Faces.Analyze(ctx, provider.FaceImage{
			MIMEType:   mimeType,
			Data:       data,
			CapturedAt: capturedAt,
		})
	})
	if err != nil {
		return FaceScanResult{}, err
	}
	if s.metrics != nil {
		s.metrics.FaceConfidence.Observe(analysis.Confidence)
	}
	if analysis.Confidence < s.opts.MinFaceConfidence {
		return FaceScanResult{}, &QualityError{Message: MsgFaceNotVisible, Analysis: analysis}
	}

	faceID := fmt.Sprintf("FACE-%d", capturedAt.UnixMilli())
	attrs := map[string]string{
		"quality":    analysis.FaceQuality,
		"confidence": strconv.FormatFloat(analysis.Confidence, 'f', 2, 64),
	}
	s.audit(ctx, storage.ActionFaceCaptured, faceID, in.Meta, attrs)
	s.publishStep(ctx, StepFaceScan, faceID, in.Meta, attrs)

	return FaceScanResult{Analysis: analysis, FaceID: faceID}, nil
}

// UploadDocuments checks presence, then type, then size, and stops at the
// first failure. Valid bundles are stored as a whole.
func (s *OnboardingService) UploadDocuments(ctx context.Context, in UploadInput) (res UploadResult, err error) {
	start := time.Now()
	defer func() { s.observe(StepUploadDocuments, start, err) }()

	if in.ICFront == nil || in.ICBack == nil {
		return UploadResult{}, &ValidationError{Field: "documents", Message: MsgDocumentsRequired}
	}

	docs := []provider.Document{withField(*in.ICFront, "icFront"), withField(*in.ICBack, "icBack")}
	if in.Selfie != nil {
		docs = append(docs, withField(*in.Selfie, "selfie"))
	}
	for _, doc := range docs {
		if !validation.IsAllowedImageType(doc.ContentType) {
			return UploadResult{}, &MediaConstraintError{
				File:       doc.Field,
				Constraint: "type",
				Message:    documentLabels[doc.Field] + msgImageTypeSuffix,
			}
		}
	}
	for _, doc := range docs {
		if !validation.IsWithinSize(doc.Size, validation.MaxDocumentSize) {
			return UploadResult{}, DocumentTooLarge(doc.Field)
		}
	}

	uploadID := "UPLOAD-" + uuid.NewString()
	if _, err := runUnit(ctx, s, StepUploadDocuments, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.providers.Documents.StoreBundle(ctx, uploadID, docs)
	}); err != nil {
		return UploadResult{}, err
	}

	files := UploadedFiles{ICFront: in.ICFront.Name, ICBack: in.ICBack.Name}
	attrs := map[string]string{"files": strconv.Itoa(len(docs))}
	if in.Selfie != nil {
		name := in.Selfie.Name
		files.Selfie = &name
	}
	s.audit(ctx, storage.ActionDocumentsUploaded, uploadID, in.Meta, attrs)
	s.publishStep(ctx, StepUploadDocuments, uploadID, in.Meta, attrs)

	return UploadResult{UploadID: uploadID, Files: files}, nil
}

// SendVerification issues a fresh code for the account and bank pair and
// hands it to the SMS sender. The code itself is never returned.
func (s *OnboardingService) SendVerification(ctx context.Context, in SendVerificationInput) (res SendVerificationResult, err error) {
	start := time.Now()
	defer func() { s.observe(StepSendVerification, start, err) }()

	accountNumber, bankName, err := accountFields(in.AccountNumber, in.BankName)
	if err != nil {
		return SendVerificationResult{}, err
	}

	key := rate.KeyFor(accountNumber, bankName)
	decision, err := s.limiter.Allow(ctx, key, s.opts.Now())
	if err != nil {
		return SendVerificationResult{}, &UnexpectedError{Step: StepSendVerification, Err: fmt.Errorf("rate limit: %w", err)}
	}
	if !decision.Allowed {
		return SendVerificationResult{}, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	issued, err := runUnit(ctx, s, StepSendVerification, func(ctx context.Context) (verification.Issued, error) {
		return s.verifier.Issue(ctx, accountNumber, bankName, func(ctx context.Context, issued verification.Issued) error {
			return s.providers.SMS.SendVerificationCode(ctx, provider.VerificationMessage{
				AccountNumber: accountNumber,
				BankName:      bankName,
				Code:          issued.Code,
				ExpiresAt:     issued.ExpiresAt,
			})
		})
	})
	if err != nil {
		return SendVerificationResult{}, err
	}
	if s.metrics != nil {
		s.metrics.CodesIssued.Inc()
	}

	// One entity per issued code. The account number stays out of ids and
	// is only carried masked.
	entityID := "VERIFY-" + uuid.NewString()
	attrs := map[string]string{
		"bank_name":   bankName,
		"account":     logging.MaskTail(accountNumber, 4),
		"account_ref": key.Digest(),
	}
	s.audit(ctx, storage.ActionVerificationSent, entityID, in.Meta, attrs)
	s.publishStep(ctx, StepSendVerification, entityID, in.Meta, attrs)

	return SendVerificationResult{ExpiresIn: s.verifier.TTL(), ExpiresAt: issued.ExpiresAt}, nil
}

// LinkAccount checks an optional verification code and opens the new
// account.
func (s *OnboardingService) LinkAccount(ctx context.Context, in LinkAccountInput) (acct storage.LinkedAccount, err error) {
	start := time.Now()
	defer func() { s.observe(StepLinkAccount, start, err) }()

	accountNumber, bankName, err := accountFields(in.AccountNumber, in.BankName)
	if err != nil {
		return storage.LinkedAccount{}, err
	}
	accountType := validation.NormalizeAccountType(in.AccountType)
	if !validation.IsValidAccountType(accountType) {
		return storage.LinkedAccount{}, &ValidationError{Field: "accountType", Message: MsgInvalidAccountType}
	}

	code := strings.TrimSpace(in.VerificationCode)
	if code == "" && s.opts.RequireVerification {
		return storage.LinkedAccount{}, &ValidationError{Field: "verificationCode", Message: MsgCodeRequired}
	}
	var receipt verification.Receipt
	if code != "" {
		if receipt, err = s.checkCode(ctx, accountNumber, bankName, code); err != nil {
			return storage.LinkedAccount{}, err
		}
	}

	issued, err := runUnit(ctx, s, StepLinkAccount, func(ctx context.Context) (provider.IssuedAccount, error) {
		return s.providers.Accounts.Issue(ctx, provider.LinkRequest{
			AccountNumber: accountNumber,
			BankName:      bankName,
			AccountType:   accountType,
		})
	})
	if err != nil {
		if code != "" {
			s.restoreCode(ctx, receipt)
		}
		return storage.LinkedAccount{}, err
	}

	acct = storage.LinkedAccount{
		AccountID:           issued.AccountID,
		AccountNumber:       issued.AccountNumber,
		LinkedAccountNumber: accountNumber,
		BankName:            bankName,
		AccountType:         accountType,
		Status:              storage.AccountStatusActive,
		CreatedAt:           issued.CreatedAt,
	}
	if s.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		if err := s.recorder.CreateLinkedAccount(recCtx, acct); err != nil {
			s.logger.Warn("record linked account failed", "account_id", acct.AccountID, "error", err)
		}
		cancel()
	}

	attrs := map[string]string{"bank_name": bankName, "account_type": accountType}
	s.audit(ctx, storage.ActionAccountLinked, acct.AccountID, in.Meta, attrs)
	s.publishStep(ctx, StepLinkAccount, acct.AccountID, in.Meta, attrs)

	return acct, nil
}

func (s *OnboardingService) checkCode(ctx context.Context, accountNumber, bankName, code string) (verification.Receipt, error) {
	if s.verifier == nil {
		return verification.Receipt{}, &UnexpectedError{Step: StepLinkAccount, Err: errors.New("verifier not configured")}
	}
	receipt, err := s.verifier.Verify(ctx, accountNumber, bankName, code)
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, verification.ErrNotFound):
		result = "not_found"
		err = &ValidationError{Field: "verificationCode", Message: MsgCodeNotFound}
	case errors.Is(err, verification.ErrCodeMismatch):
		result = "mismatch"
		err = &ValidationError{Field: "verificationCode", Message: MsgCodeMismatch}
	case errors.Is(err, verification.ErrTooManyAttempts):
		result = "exhausted"
		err = &ValidationError{Field: "verificationCode", Message: MsgCodeAttemptsExhausted}
	default:
		result = "error"
		err = &UnexpectedError{Step: StepLinkAccount, Err: fmt.Errorf("verify code: %w", err)}
	}
	if s.metrics != nil {
		s.metrics.CodeVerifications.WithLabelValues(result).Inc()
	}
	return receipt, err
}

// restoreCode gives the customer their code back when the account could
// not be opened after it was accepted.
func (s *OnboardingService) restoreCode(ctx context.Context, receipt verification.Receipt) {
	restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.verifier.Restore(restoreCtx, receipt); err != nil {
		s.logger.Warn("restore verification code failed",
			"account", logging.MaskTail(receipt.Challenge.AccountNumber, 4), "error", err)
	}
}

// runUnit starts fn as a deferred unit of work and waits for it under the
// step timeout.
func runUnit[T any](ctx context.Context, s *OnboardingService, step string, fn func(context.Context) (T, error)) (T, error) {
	unitCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()

	v, err := provider.Async(unitCtx, fn).Await(unitCtx)
	if err == nil {
		return v, nil
	}
	var zero T
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return zero, &TimeoutError{Step: step, Timeout: s.opts.StepTimeout}
	}
	return zero, &UnexpectedError{Step: step, Err: err}
}

func (s *OnboardingService) audit(ctx context.Context, action, entityID string, meta RequestMeta, metadata map[string]string) {
	if s.recorder == nil {
		return
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.recorder.InsertAudit(auditCtx, storage.AuditLog{
		Action:    action,
		EntityID:  entityID,
		RequestID: meta.RequestID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  metadata,
	}); err != nil {
		s.logger.Warn("audit insert failed", "action", action, "entity_id", entityID, "error", err)
	}
}

func (s *OnboardingService) observe(step string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	result := resultLabel(err)
	s.metrics.StepRequests.WithLabelValues(step, result).Inc()
	s.metrics.StepLatency.WithLabelValues(step, result).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	var (
		validationErr *ValidationError
		mediaErr      *MediaConstraintError
		qualityErr    *QualityError
		rateErr       *RateLimitError
		timeoutErr    *TimeoutError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &validationErr), errors.As(err, &mediaErr):
		return "invalid"
	case errors.As(err, &qualityErr):
		return "low_quality"
	case errors.As(err, &rateErr):
		return "rate_limited"
	case errors.As(err, &timeoutErr):
		return "timeout"
	default:
		return "error"
	}
}

func accountFields(accountNumber, bankName string) (string, string, error) {
	if err := validation.RequireAllPresent(
		validation.Field{Name: "accountNumber", Value: accountNumber},
		validation.Field{Name: "bankName", Value: bankName},
	); err != nil {
		return "", "", &ValidationError{Field: "accountNumber", Message: MsgAccountFieldsRequired}
	}
	if !validation.IsValidAccountNumber(accountNumber) {
		return "", "", &ValidationError{Field: "accountNumber", Message: MsgInvalidAccountNumber}
	}
	return accountNumber, strings.TrimSpace(bankName), nil
}

func missingFieldsError(err error) error {
	var missing *validation.MissingFieldsError
	if !errors.As(err, &missing) || len(missing.Fields) == 0 {
		return err
	}
	return &ValidationError{
		Field:   missing.Fields[0],
		Message: fmt.Sprintf("%s (missing: %s)", MsgRequiredFields, strings.Join(missing.Fields, msgMissingFieldsSeparator)),
	}
}

func withField(doc provider.Document, field string) provider.Document {
	doc.Field = field
	return doc
}
