package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/provider"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultClientTimeout = 30 * time.Second

// APIError is a non-2xx response from a step endpoint.
type APIError struct {
	Status   int
	Message  string
	Analysis *provider.FaceAnalysis
}

func (e *APIError) Error() string {
	return e.Message
}

// TransportError means the endpoint could not be reached or its response
// could not be read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type RegistrationForm struct {
	FullName      string `json:"fullName"`
	NRIC          string `json:"nric"`
	PhoneNumber   string `json:"phoneNumber"`
	Email         string `json:"email"`
	Address       string `json:"address"`
	EnableFacePay bool   `json:"enableFacePay"`
}

type RegisterResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	CustomerID string `json:"customerId"`
	NextStep   string `json:"nextStep"`
}

type FaceScanResponse struct {
	Success  bool                  `json:"success"`
	Message  string                `json:"message"`
	Analysis provider.FaceAnalysis `json:"analysis"`
	FaceID   string                `json:"faceId"`
}

type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

type DocumentFiles struct {
	ICFront *UploadFile
	ICBack  *UploadFile
	Selfie  *UploadFile
}

type UploadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	UploadID string `json:"uploadId"`
	Files    struct {
		ICFront string  `json:"icFront"`
		ICBack  string  `json:"icBack"`
		Selfie  *string `json:"selfie"`
	} `json:"files"`
}

type SendVerificationResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ExpiresIn int    `json:"expiresIn"`
}

type LinkAccountForm struct {
	AccountNumber    string `json:"accountNumber"`
	BankName         string `json:"bankName"`
	AccountType      string `json:"accountType"`
	VerificationCode string `json:"verificationCode,omitempty"`
}

type LinkAccountResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	AccountID        string `json:"accountId"`
	NewAccountNumber string `json:"newAccountNumber"`
	BankName         string `json:"bankName"`
	AccountType      string `json:"accountType"`
	Status           string `json:"status"`
	CreatedAt        string `json:"createdAt"`
}

type errorBody struct {
	Error    string                 `json:"error"`
	Analysis *provider.FaceAnalysis `json:"analysis"`
}

// Client calls the onboarding step endpoints. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL. A nil httpClient
// gets a traced client with a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultClientTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Register(ctx context.Context, form RegistrationForm) (RegisterResponse, error) {
	var out RegisterResponse
	err := c.postJSON(ctx, "/api/register", form, &out)
	return out, err
}

func (c *Client) ScanFace(ctx context.Context, image string) (FaceScanResponse, error) {
	var out FaceScanResponse
	err := c.postJSON(ctx, "/api/face-scan", map[string]string{"image": image}, &out)
	return out, err
}

func (c *Client) UploadDocuments(ctx context.Context, files DocumentFiles) (UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	parts := []struct {
		field string
		file  *UploadFile
	}{
		{"icFront", files.ICFront},
		{"icBack", files.ICBack},
		{"selfie", files.Selfie},
	}
	for _, p := range parts {
		if p.file == nil {
			continue
		}
		if err := writeFilePart(mw, p.field, p.file); err != nil {
			return UploadResponse{}, &TransportError{Op: "encode upload", Err: err}
		}
	}
	if err := mw.Close(); err != nil {
		return UploadResponse{}, &TransportError{Op: "encode upload", Err: err}
	}

	var out UploadResponse
	err := c.do(ctx, "/api/upload-documents", mw.FormDataContentType(), &buf, &out)
	return out, err
}

func (c *Client) SendVerification(ctx context.Context, accountNumber, bankName string) (SendVerificationResponse, error) {
	var out SendVerificationResponse
	err := c.postJSON(ctx, "/api/send-verification", map[string]string{
		"accountNumber": accountNumber,
		"bankName":      bankName,
	}, &out)
	return out, err
}

func (c *Client) LinkAccount(ctx context.Context, form LinkAccountForm) (LinkAccountResponse, error) {
	var out LinkAccountResponse
	err := c.postJSON(ctx, "/api/link-account", form, &out)
	return out, err
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &TransportError{Op: "encode " + path, Err: err}
	}
	return c.do(ctx, path, "application/json", bytes.NewReader(payload), out)
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return &TransportError{Op: "build " + path, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "POST " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read " + path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			if eb.Error != "" {
				apiErr.Message = eb.Error
			}
			apiErr.Analysis = eb.Analysis
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: "decode " + path, Err: err}
	}
	return nil
}

func writeFilePart(mw *multipart.Writer, field string, f *UploadFile) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Name))
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(f.Data)
	return err
}
