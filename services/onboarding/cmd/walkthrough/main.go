package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/workflow"
)

type options struct {
	baseURL       string
	face          string
	icFront       string
	icBack        string
	selfie        string
	fullName      string
	nric          string
	phone         string
	email         string
	address       string
	facePay       bool
	accountNumber string
	bankName      string
	accountType   string
	code          string
	verify        bool
	timeout       time.Duration
}

func main() {
	opts := parseFlags()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	client := workflow.NewClient(opts.baseURL, nil)
	session := workflow.NewSession(workflow.RouteRegistration)
	step(session, "start")

	registration := workflow.NewRegistrationPage(session, client)
	if opts.face != "" {
		registration.CaptureFace()
		step(session, "open face scan")
		if err := captureFace(ctx, session, client, opts.face); err != nil {
			log.Fatalf("face scan: %v", err)
		}
		registration = workflow.NewRegistrationPage(session, client)
		if capture, ok := registration.Mount(); ok {
			fmt.Printf("✓ Face captured at %s\n", capture.CapturedAt.Format(time.RFC3339))
		}
	}

	form := workflow.DefaultRegistrationForm()
	form.FullName = opts.fullName
	form.NRIC = opts.nric
	form.PhoneNumber = opts.phone
	form.Email = opts.email
	form.Address = opts.address
	form.EnableFacePay = opts.facePay
	reg, err := registration.Submit(ctx, form)
	if err != nil {
		log.Fatalf("register: %v", err)
	}
	fmt.Printf("✓ %s (customer %s)\n", reg.Message, reg.CustomerID)
	step(session, "registered")

	icFront, err := workflow.LoadUpload(opts.icFront)
	if err != nil {
		log.Fatalf("ic front: %v", err)
	}
	icBack, err := workflow.LoadUpload(opts.icBack)
	if err != nil {
		log.Fatalf("ic back: %v", err)
	}
	selfie, err := workflow.LoadUpload(opts.selfie)
	if err != nil {
		log.Fatalf("selfie: %v", err)
	}
	upload := workflow.NewUploadPage(session, client)
	up, err := upload.Submit(ctx, workflow.DocumentFiles{ICFront: icFront, ICBack: icBack, Selfie: selfie})
	if err != nil {
		log.Fatalf("upload documents: %v", err)
	}
	fmt.Printf("✓ %s (upload %s)\n", up.Message, up.UploadID)
	step(session, "documents uploaded")

	link := workflow.NewLinkAccountPage(session, client)
	code := opts.code
	if opts.verify && code == "" {
		sent, err := link.RequestCode(ctx, opts.accountNumber, opts.bankName)
		if err != nil {
			log.Fatalf("send verification: %v", err)
		}
		fmt.Printf("✓ %s, expires in %ds\n", sent.Message, sent.ExpiresIn)
		code, err = prompt("Verification code: ")
		if err != nil {
			log.Fatalf("read code: %v", err)
		}
	}
	acct, err := link.Submit(ctx, workflow.LinkAccountForm{
		AccountNumber:    opts.accountNumber,
		BankName:         opts.bankName,
		AccountType:      opts.accountType,
		VerificationCode: code,
	})
	if err != nil {
		log.Fatalf("link account: %v", err)
	}
	fmt.Printf("✓ %s: %s %s (%s)\n", acct.Message, acct.AccountType, acct.NewAccountNumber, acct.AccountID)
	step(session, "done")
}

func captureFace(ctx context.Context, session *workflow.Session, client *workflow.Client, path string) error {
	capture := workflow.NewCaptureSession(workflow.FileCamera{Path: path}, client, session)
	defer capture.Close()

	if err := capture.Start(ctx); err != nil {
		return err
	}
	if _, err := capture.Capture(ctx); err != nil {
		return err
	}
	res, err := capture.Confirm(ctx)
	if err != nil {
		var apiErr *workflow.APIError
		if errors.As(err, &apiErr) && apiErr.Analysis != nil {
			return fmt.Errorf("%w (quality %s, confidence %.2f)", err, apiErr.Analysis.FaceQuality, apiErr.Analysis.Confidence)
		}
		return err
	}
	fmt.Printf("✓ %s (%s, quality %s)\n", res.Message, res.FaceID, res.Analysis.FaceQuality)
	return nil
}

func step(session *workflow.Session, label string) {
	p := session.Progress()
	marks := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		marks = append(marks, fmt.Sprintf("%s[%s]", s.Label, s.Status))
	}
	fmt.Printf("-> %-20s %-22s %s\n", label, session.Current(), strings.Join(marks, " "))
}

func prompt(label string) (string, error) {
	fmt.Print(label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.baseURL, "base-url", getEnv("ONB_BASE_URL", "http://localhost:8080"), "onboarding server URL")
	flag.StringVar(&opts.face, "face", "", "image file used as the camera; empty skips face capture")
	flag.StringVar(&opts.icFront, "ic-front", "", "IC front image")
	flag.StringVar(&opts.icBack, "ic-back", "", "IC back image")
	flag.StringVar(&opts.selfie, "selfie", "", "optional selfie image")
	flag.StringVar(&opts.fullName, "name", "Jane Tan", "full name")
	flag.StringVar(&opts.nric, "nric", "901231-14-5566", "national id")
	flag.StringVar(&opts.phone, "phone", "+60123456789", "phone number")
	flag.StringVar(&opts.email, "email", "jane@example.com", "email address")
	flag.StringVar(&opts.address, "address", "1 Jalan Test", "address")
	flag.BoolVar(&opts.facePay, "face-pay", true, "enable FacePay")
	flag.StringVar(&opts.accountNumber, "account", "12345678", "account number to link")
	flag.StringVar(&opts.bankName, "bank", "Maybank", "bank of the linked account")
	flag.StringVar(&opts.accountType, "account-type", "savings", "savings, current or fixed")
	flag.StringVar(&opts.code, "code", "", "verification code; skips requesting one")
	flag.BoolVar(&opts.verify, "verify", true, "request a verification code before linking")
	flag.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall walkthrough timeout")
	flag.Parse()

	if opts.icFront == "" || opts.icBack == "" {
		fmt.Fprintln(os.Stderr, "-ic-front and -ic-back are required")
		flag.Usage()
		os.Exit(2)
	}
	return opts
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
