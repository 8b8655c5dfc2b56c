package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PropServe/internal/pkg/middleware"
	"github.com/ManuelReschke/PropServe/internal/pkg/registration"
	"github.com/ManuelReschke/PropServe/internal/pkg/staging"
)

const (
	// requestTimeout bounds one API call including gateway round trips.
	requestTimeout = 45 * time.Second
	captchaField   = "h-captcha-response"
)

// CaptchaVerifier checks a client captcha response.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) error
}

// document form fields per type; the first name is canonical
var documentFields = map[staging.DocumentType][]string{
	staging.DocAadhar:  {"aadhar", "aadharFile"},
	staging.DocVoterID: {"voter", "voterIdFile", "voterId"},
	staging.DocPAN:     {"pan", "panFile"},
}

// RegistrationController handles staging, payment orders and verification
type RegistrationController struct {
	svc     *registration.Service
	captcha CaptchaVerifier
}

// NewRegistrationController creates the controller. captcha may be nil.
func NewRegistrationController(svc *registration.Service, captcha CaptchaVerifier) *RegistrationController {
	return &RegistrationController{svc: svc, captcha: captcha}
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

// HandleStageAgent stages an agent registration (multipart form)
func (rc *RegistrationController) HandleStageAgent(c *fiber.Ctx) error {
	return rc.handleStage(c, staging.KindAgent)
}

// HandleStageServiceProvider stages a service provider registration (multipart form)
func (rc *RegistrationController) HandleStageServiceProvider(c *fiber.Ctx) error {
	return rc.handleStage(c, staging.KindServiceProvider)
}

func (rc *RegistrationController) handleStage(c *fiber.Ctx, kind staging.Kind) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid_form", "message": "Expected a multipart form"})
	}

	if rc.captcha != nil {
		if err := rc.captcha.Verify(ctx, formValue(form, captchaField)); err != nil {
			log.Warnf("[Registration] Captcha rejected for %s: %v", ClientIP(c), err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "captcha_failed", "message": "Captcha verification failed"})
		}
	}

	profile, err := profileFromForm(form)
	if err != nil {
		return respondError(c, err)
	}

	uploads, closers, err := uploadsFromForm(form, kind)
	defer func() {
		for _, f := range closers {
			_ = f.Close()
		}
	}()
	if err != nil {
		return respondError(c, err)
	}

	reg, err := rc.svc.Submit(ctx, kind, profile, uploads)
	if err != nil {
		if status, _ := errorStatus(err); status == fiber.StatusInternalServerError {
			log.Errorf("[Registration] Staging %s failed: %v", kind, err)
		}
		return respondError(c, err)
	}

	cfg := rc.svc.Config()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":   true,
		"stagingId": reg.StagingID,
		"kind":      reg.Kind,
		"gateway":   rc.svc.GatewayName(),
		"amount":    cfg.Fee(kind),
		"currency":  cfg.Currency,
		"expiresAt": reg.CreatedAt.Add(cfg.StagingTTL).UTC().Format(time.RFC3339),
	})
}

type createOrderRequest struct {
	StagingID string `json:"stagingId"`
	TempID    string `json:"tempId"`
}

// HandleCreateOrder opens a gateway order for a staged registration
func (rc *RegistrationController) HandleCreateOrder(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid_body", "message": "Expected a JSON body"})
	}

	out, err := rc.svc.CreateOrder(ctx, firstNonEmpty(req.StagingID, req.TempID))
	if err != nil {
		if status, _ := errorStatus(err); status == fiber.StatusInternalServerError {
			log.Errorf("[Registration] Create order failed: %v", err)
		}
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":      true,
		"orderId":      out.OrderID,
		"gateway":      out.Gateway,
		"amount":       out.Amount,
		"currency":     out.Currency,
		"clientParams": out.ClientParams,
	})
}

// verifyRequest accepts the checkout callback names of the gateways too
type verifyRequest struct {
	StagingID         string `json:"stagingId"`
	TempID            string `json:"tempId"`
	OrderID           string `json:"orderId"`
	PaymentID         string `json:"paymentId"`
	Signature         string `json:"signature"`
	VoterIDBase64     string `json:"voterIdBase64"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (r verifyRequest) confirmation() registration.Confirmation {
	return registration.Confirmation{
		StagingID:   firstNonEmpty(r.StagingID, r.TempID),
		OrderID:     firstNonEmpty(r.OrderID, r.RazorpayOrderID),
		PaymentID:   firstNonEmpty(r.PaymentID, r.RazorpayPaymentID),
		Signature:   firstNonEmpty(r.Signature, r.RazorpaySignature),
		LateVoterID: r.VoterIDBase64,
	}
}

// HandleVerify is the synchronous payment confirmation
func (rc *RegistrationController) HandleVerify(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "outcome": registration.OutcomeInvalid, "error": "Expected a JSON body"})
	}

	res, err := rc.svc.Verify(ctx, req.confirmation())
	return rc.respondResult(c, res, err)
}

func (rc *RegistrationController) respondResult(c *fiber.Ctx, res *registration.Result, err error) error {
	status := outcomeStatus(res, err)
	body := fiber.Map{
		"success": status < 300,
		"outcome": res.Outcome,
	}
	if res.PublicID != "" {
		body["accountId"] = res.PublicID
		body["kind"] = res.Kind
		body["email"] = res.Email
	}
	if res.SessionToken != "" {
		body["token"] = res.SessionToken
	}
	if res.Outcome == registration.OutcomeMaterialized {
		body["welcomeQueued"] = res.WelcomeQueued
	}

	switch {
	case status == fiber.StatusServiceUnavailable:
		c.Set(fiber.HeaderRetryAfter, "5")
		body["error"] = registration.ErrGatewayIndeterminate.Error()
		body["retryable"] = true
	case errors.Is(err, registration.ErrSessionIssuance):
		body["error"] = registration.ErrSessionIssuance.Error()
	case status == fiber.StatusInternalServerError:
		body["error"] = registration.ErrMaterialization.Error()
	case err != nil:
		body["error"] = err.Error()
	}
	return c.Status(status).JSON(body)
}

// HandleRegistrationStatus reports whether a staged registration is still
// pending or has become an account
func (rc *RegistrationController) HandleRegistrationStatus(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	st, err := rc.svc.Status(ctx, c.Params("stagingId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "status": st})
}

// HandleSubscription returns the subscription summary of the authenticated account
func (rc *RegistrationController) HandleSubscription(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	kind, err := staging.ParseKind(c.Params("kind"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "not_found", "message": "Unknown account kind"})
	}
	publicID := strings.ToUpper(strings.TrimSpace(c.Params("publicId")))

	ac := middleware.GetAccountContext(c)
	if !ac.IsLoggedIn || !strings.EqualFold(ac.PublicID, publicID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "error": "forbidden", "message": "Token does not belong to this account"})
	}

	acc, err := rc.svc.Account(ctx, kind, publicID)
	if err != nil {
		if errors.Is(err, registration.ErrNotFoundOrExpired) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "not_found", "message": "Account not found"})
		}
		log.Errorf("[Registration] Load account %s failed: %v", publicID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"accountId":    acc.PublicID,
		"kind":         acc.Kind,
		"subscription": acc.Subscription,
	})
}

func profileFromForm(form *multipart.Form) (staging.Profile, error) {
	services, err := selectedServices(form.Value["selectedServices"])
	if err != nil {
		return staging.Profile{}, err
	}
	return staging.Profile{
		Name:                           formValue(form, "name"),
		Email:                          formValue(form, "email"),
		Phone:                          formValue(form, "phone"),
		Password:                       formValue(form, "password"),
		Profession:                     formValue(form, "profession"),
		CustomProfession:               formValue(form, "customProfession"),
		ServiceCategory:                formValue(form, "serviceCategory"),
		SelectedServices:               services,
		ReferralAgentID:                formValue(form, "referralAgentId"),
		ReferralMarketingExecutiveName: firstNonEmpty(formValue(form, "referralMarketingExecutiveName"), formValue(form, "referralExecutiveName")),
		ReferralMarketingExecutiveID:   firstNonEmpty(formValue(form, "referralMarketingExecutiveId"), formValue(form, "referralExecutiveId")),
	}, nil
}

// selectedServices accepts a JSON array in one field or repeated fields.
func selectedServices(values []string) ([]string, error) {
	if len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[") {
		var out []string
		if err := json.Unmarshal([]byte(values[0]), &out); err != nil {
			return nil, fmt.Errorf("%w: selectedServices must be a JSON array of strings", registration.ErrValidation)
		}
		return out, nil
	}
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// uploadsFromForm opens the accepted document files of kind. Files of
// types the kind does not accept are passed through so staging rejects them.
func uploadsFromForm(form *multipart.Form, kind staging.Kind) ([]staging.Upload, []multipart.File, error) {
	var uploads []staging.Upload
	var opened []multipart.File
	for _, docType := range []staging.DocumentType{staging.DocAadhar, staging.DocVoterID, staging.DocPAN} {
		for _, field := range documentFields[docType] {
			headers := form.File[field]
			if len(headers) == 0 {
				continue
			}
			if len(headers) > 1 {
				return nil, opened, fmt.Errorf("%w: only one %s document may be uploaded", registration.ErrValidation, docType)
			}
			f, err := headers[0].Open()
			if err != nil {
				return nil, opened, fmt.Errorf("open %s upload: %w", docType, err)
			}
			opened = append(opened, f)
			uploads = append(uploads, staging.Upload{Type: docType, Filename: headers[0].Filename, Reader: f})
			break
		}
	}
	return uploads, opened, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
