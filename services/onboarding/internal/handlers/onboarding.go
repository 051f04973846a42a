package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xx-3-xx/BankWebsite/libs/httpmiddleware"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/provider"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/service"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/storage"
	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/validation"
)

const (
	msgInvalidBody    = "Invalid request body"
	msgUploadTooLarge = "Upload is too large. Maximum size is 5MB per image."
)

var documentFields = map[string]bool{"icFront": true, "icBack": true, "selfie": true}

type OnboardingService interface {
	Register(ctx context.Context, in service.RegisterInput) (service.RegisterResult, error)
	ScanFace(ctx context.Context, in service.FaceScanInput) (service.FaceScanResult, error)
	UploadDocuments(ctx context.Context, in service.UploadInput) (service.UploadResult, error)
	SendVerification(ctx context.Context, in service.SendVerificationInput) (service.SendVerificationResult, error)
	LinkAccount(ctx context.Context, in service.LinkAccountInput) (storage.LinkedAccount, error)
}

type Handler struct {
	Service OnboardingService
	Logger  *slog.Logger
}

type registerRequest struct {
	FullName      string `json:"fullName"`
	NRIC          string `json:"nric"`
	PhoneNumber   string `json:"phoneNumber"`
	Email         string `json:"email"`
	Address       string `json:"address"`
	EnableFacePay bool   `json:"enableFacePay"`
}

type registerResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	CustomerID string `json:"customerId"`
	NextStep   string `json:"nextStep"`
}

type faceScanRequest struct {
	Image string `json:"image"`
}

type faceScanResponse struct {
	Success  bool                  `json:"success"`
	Message  string                `json:"message"`
	Analysis provider.FaceAnalysis `json:"analysis"`
	FaceID   string                `json:"faceId"`
}

type uploadedFiles struct {
	ICFront string  `json:"icFront"`
	ICBack  string  `json:"icBack"`
	Selfie  *string `json:"selfie"`
}

type uploadResponse struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	UploadID string        `json:"uploadId"`
	Files    uploadedFiles `json:"files"`
}

type sendVerificationRequest struct {
	AccountNumber string `json:"accountNumber"`
	BankName      string `json:"bankName"`
}

type sendVerificationResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ExpiresIn int    `json:"expiresIn"`
}

type linkAccountRequest struct {
	AccountNumber    string `json:"accountNumber"`
	BankName         string `json:"bankName"`
	AccountType      string `json:"accountType"`
	VerificationCode string `json:"verificationCode"`
}

type linkAccountResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	AccountID        string `json:"accountId"`
	NewAccountNumber string `json:"newAccountNumber"`
	BankName         string `json:"bankName"`
	AccountType      string `json:"accountType"`
	Status           string `json:"status"`
	CreatedAt        string `json:"createdAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type qualityErrorResponse struct {
	Success  bool                  `json:"success"`
	Error    string                `json:"error"`
	Analysis provider.FaceAnalysis `json:"analysis"`
}

func New(svc OnboardingService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/register", h.RegisterCustomer)
	api.POST("/face-scan", h.FaceScan)
	api.POST("/upload-documents", h.UploadDocuments)
	api.POST("/send-verification", h.SendVerification)
	api.POST("/link-account", h.LinkAccount)
}

func (h *Handler) RegisterCustomer(c *gin.Context) {
	var req registerRequest
	if !h.bindJSON(c, &req) {
		return
	}

	res, err := h.Service.Register(c.Request.Context(), service.RegisterInput{
		FullName:      req.FullName,
		NRIC:          req.NRIC,
		PhoneNumber:   req.PhoneNumber,
		Email:         req.Email,
		Address:       req.Address,
		EnableFacePay: req.EnableFacePay,
		Meta:          requestMeta(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, registerResponse{
		Success:    true,
		Message:    "Registration successful",
		CustomerID: res.CustomerID,
		NextStep:   res.NextStep,
	})
}

func (h *Handler) FaceScan(c *gin.Context) {
	var req faceScanRequest
	if !h.bindJSON(c, &req) {
		return
	}

	res, err := h.Service.ScanFace(c.Request.Context(), service.FaceScanInput{
		Image: req.Image,
		Meta:  requestMeta(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, faceScanResponse{
		Success:  true,
		Message:  "Face captured successfully",
		Analysis: res.Analysis,
		FaceID:   res.FaceID,
	})
}

func (h *Handler) UploadDocuments(c *gin.Context) {
	docs, err := readDocuments(c.Request)
	if err != nil {
		var (
			mediaErr *service.MediaConstraintError
			tooLarge *http.MaxBytesError
		)
		switch {
		case errors.As(err, &mediaErr):
			h.writeError(c, err)
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusBadRequest, errorResponse{Error: msgUploadTooLarge})
		default:
			c.JSON(http.StatusBadRequest, errorResponse{Error: msgInvalidBody})
		}
		return
	}

	res, err := h.Service.UploadDocuments(c.Request.Context(), service.UploadInput{
		ICFront: docs["icFront"],
		ICBack:  docs["icBack"],
		Selfie:  docs["selfie"],
		Meta:    requestMeta(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, uploadResponse{
		Success:  true,
		Message:  "Documents uploaded successfully",
		UploadID: res.UploadID,
		Files: uploadedFiles{
			ICFront: res.Files.ICFront,
			ICBack:  res.Files.ICBack,
			Selfie:  res.Files.Selfie,
		},
	})
}

func (h *Handler) SendVerification(c *gin.Context) {
	var req sendVerificationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	res, err := h.Service.SendVerification(c.Request.Context(), service.SendVerificationInput{
		AccountNumber: req.AccountNumber,
		BankName:      req.BankName,
		Meta:          requestMeta(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sendVerificationResponse{
		Success:   true,
		Message:   "Verification code sent successfully",
		ExpiresIn: int(res.ExpiresIn / time.Second),
	})
}

func (h *Handler) LinkAccount(c *gin.Context) {
	var req linkAccountRequest
	if !h.bindJSON(c, &req) {
		return
	}

	acct, err := h.Service.LinkAccount(c.Request.Context(), service.LinkAccountInput{
		AccountNumber:    req.AccountNumber,
		BankName:         req.BankName,
		AccountType:      req.AccountType,
		VerificationCode: req.VerificationCode,
		Meta:             requestMeta(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, linkAccountResponse{
		Success:          true,
		Message:          "Account linked successfully",
		AccountID:        acct.AccountID,
		NewAccountNumber: acct.AccountNumber,
		BankName:         acct.BankName,
		AccountType:      acct.AccountType,
		Status:           acct.Status,
		CreatedAt:        acct.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "Request body too large"})
			return false
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: msgInvalidBody})
		return false
	}
	return true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		validationErr *service.ValidationError
		mediaErr      *service.MediaConstraintError
		qualityErr    *service.QualityError
		rateErr       *service.RateLimitError
		timeoutErr    *service.TimeoutError
	)
	switch {
	case errors.As(err, &qualityErr):
		c.JSON(http.StatusBadRequest, qualityErrorResponse{
			Success:  false,
			Error:    qualityErr.Message,
			Analysis: qualityErr.Analysis,
		})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, errorResponse{Error: validationErr.Message})
	case errors.As(err, &mediaErr):
		c.JSON(http.StatusBadRequest, errorResponse{Error: mediaErr.Message})
	case errors.As(err, &rateErr):
		if rateErr.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rateErr.RetryAfter.Seconds()))))
		}
		c.JSON(http.StatusTooManyRequests, errorResponse{Error: rateErr.Error()})
	case errors.As(err, &timeoutErr):
		h.Logger.Warn("step timed out", "step", timeoutErr.Step, "timeout", timeoutErr.Timeout, "request_id", httpmiddleware.RequestIDFromContext(c))
		c.JSON(http.StatusGatewayTimeout, errorResponse{Error: service.MsgTimeout})
	default:
		h.Logger.Error("onboarding step failed", "error", err, "path", c.FullPath(), "request_id", httpmiddleware.RequestIDFromContext(c))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: service.MsgInternal})
	}
}

func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		RequestID: httpmiddleware.RequestIDFromContext(c),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// readDocuments streams the multipart body and keeps the first file sent
// for each document field. A body that is not multipart has no documents.
func readDocuments(r *http.Request) (map[string]*provider.Document, error) {
	mr, err := r.MultipartReader()
	if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	docs := map[string]*provider.Document{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}

		field := part.FormName()
		if part.FileName() == "" || !documentFields[field] || docs[field] != nil {
			_, err = io.Copy(io.Discard, part)
			_ = part.Close()
			if err != nil {
				return nil, err
			}
			continue
		}

		doc, err := readDocument(part, field)
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		docs[field] = doc
	}
}

// readDocument buffers a part up to the document size limit. Larger parts
// are drained and only their size is kept; they fail validation before
// anything opens them. Hitting the body cap inside a document is reported
// as that document being too large.
func readDocument(part *multipart.Part, field string) (*provider.Document, error) {
	data, err := io.ReadAll(io.LimitReader(part, validation.MaxDocumentSize+1))
	size := int64(len(data))
	if err == nil && size > validation.MaxDocumentSize {
		var n int64
		n, err = io.Copy(io.Discard, part)
		size += n
		data = nil
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, service.DocumentTooLarge(field)
		}
		return nil, err
	}

	return &provider.Document{
		Field:       field,
		Name:        part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Size:        size,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}, nil
}
