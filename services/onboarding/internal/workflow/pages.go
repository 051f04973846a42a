package workflow

import (
	"context"
	"sync"
)

// API is the set of step endpoints the pages call. *Client implements it.
type API interface {
	FaceScanner
	Register(ctx context.Context, form RegistrationForm) (RegisterResponse, error)
	UploadDocuments(ctx context.Context, files DocumentFiles) (UploadResponse, error)
	SendVerification(ctx context.Context, accountNumber, bankName string) (SendVerificationResponse, error)
	LinkAccount(ctx context.Context, form LinkAccountForm) (LinkAccountResponse, error)
}

// DefaultRegistrationForm is the blank form with FacePay switched on.
func DefaultRegistrationForm() RegistrationForm {
	return RegistrationForm{EnableFacePay: true}
}

type RegistrationPage struct {
	*StepController[RegistrationForm, RegisterResponse]
	session *Session

	mu   sync.Mutex
	face *FaceCapture
}

func NewRegistrationPage(session *Session, api API) *RegistrationPage {
	return &RegistrationPage{
		StepController: NewStepController[RegistrationForm, RegisterResponse](RouteRegistration, session, api.Register),
		session:        session,
	}
}

// Mount takes the face still left by the face-scan page, if any. A later
// Mount in the same session does not see it again.
func (p *RegistrationPage) Mount() (FaceCapture, bool) {
	capture, ok := p.session.Handoff.TakeOnce(FaceCaptureKey)
	if ok {
		p.mu.Lock()
		p.face = &capture
		p.mu.Unlock()
	}
	return capture, ok
}

func (p *RegistrationPage) FaceCapture() (FaceCapture, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.face == nil {
		return FaceCapture{}, false
	}
	return *p.face, true
}

// CaptureFace opens the face-scan page.
func (p *RegistrationPage) CaptureFace() {
	p.session.Navigate(RouteFaceScan)
}

type UploadPage struct {
	*StepController[DocumentFiles, UploadResponse]
}

func NewUploadPage(session *Session, api API) *UploadPage {
	return &UploadPage{StepController: NewStepController[DocumentFiles, UploadResponse](RouteUploadDocuments, session, api.UploadDocuments)}
}

type LinkAccountPage struct {
	*StepController[LinkAccountForm, LinkAccountResponse]
	api API
}

func NewLinkAccountPage(session *Session, api API) *LinkAccountPage {
	submit := func(ctx context.Context, form LinkAccountForm) (LinkAccountResponse, error) {
		if form.AccountType == "" {
			form.AccountType = "savings"
		}
		return api.LinkAccount(ctx, form)
	}
	return &LinkAccountPage{
		StepController: NewStepController[LinkAccountForm, LinkAccountResponse](RouteLinkAccount, session, submit),
		api:            api,
	}
}

// RequestCode asks for a verification code to be sent for the account.
// It does not change the page state.
func (p *LinkAccountPage) RequestCode(ctx context.Context, accountNumber, bankName string) (SendVerificationResponse, error) {
	return p.api.SendVerification(ctx, accountNumber, bankName)
}

type SuccessPage struct {
	session *Session
}

func NewSuccessPage(session *Session) *SuccessPage {
	return &SuccessPage{session: session}
}

func (p *SuccessPage) Home() {
	p.session.Navigate(NextRoute(RouteSuccess))
}
