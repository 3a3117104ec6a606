package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/ledgerguard/pkg/logger"
)

// EmailService defines the interface for sending emails
type EmailService interface {
	SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendLockoutNotice(ctx context.Context, email string, lockedUntil time.Time) error
}

// sesSender is the subset of *ses.Client used here.
type sesSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   sesSender
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(ctx context.Context, region, fromName, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	source := fromAddress
	if fromName != "" {
		source = fmt.Sprintf("%s <%s>", fromName, fromAddress)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: source,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// SendVerificationEmail sends a verification email to the user
func (s *AWSSESEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, token)
	return s.send(ctx, email, "Verify your email address", message{
		Heading: "Verify Your Email Address",
		Intro:   "Thanks for signing up. Confirm your email address to finish setting up your account.",
		Link:    link,
		Action:  "Verify Email Address",
		Notice:  fmt.Sprintf("This link expires %s.", expiresAt.UTC().Format(time.RFC1123)),
		Outro:   "If you did not create this account, you can ignore this email.",
	})
}

// SendPasswordResetEmail sends a single-use reset link.
func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
	return s.send(ctx, email, "Reset your password", message{
		Heading: "Reset Your Password",
		Intro:   "We received a request to reset the password for your account.",
		Link:    link,
		Action:  "Choose a New Password",
		Notice:  fmt.Sprintf("This link can be used once and expires %s.", expiresAt.UTC().Format(time.RFC1123)),
		Outro:   "If you did not ask for this, you can ignore this email. Your password will not change.",
	})
}

// SendLockoutNotice tells the owner their account was locked after repeated
// failed sign-ins.
func (s *AWSSESEmailService) SendLockoutNotice(ctx context.Context, email string, lockedUntil time.Time) error {
	link := fmt.Sprintf("%s/forgot-password", s.baseURL)
	return s.send(ctx, email, "Your account has been temporarily locked", message{
		Heading: "Account Temporarily Locked",
		Intro:   "There were too many unsuccessful sign-in attempts on your account, so we locked it.",
		Link:    link,
		Action:  "Reset Your Password",
		Notice:  fmt.Sprintf("You can sign in again after %s.", lockedUntil.UTC().Format(time.RFC1123)),
		Outro:   "If these attempts were not you, we recommend resetting your password.",
	})
}

type message struct {
	Heading string
	Intro   string
	Link    string
	Action  string
	Notice  string
	Outro   string
}

func (m message) html() string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .notice { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h1>%s</h1></div>
        <p>%s</p>
        <p><a href="%s" class="button">%s</a></p>
        <p>Or copy and paste this link in your browser:<br><code>%s</code></p>
        <div class="notice">%s</div>
        <p>%s</p>
        <div class="footer"><p>This is an automated message. Please do not reply to this email.</p></div>
    </div>
</body>
</html>
`, m.Heading, m.Intro, m.Link, m.Action, m.Link, m.Notice, m.Outro)
}

func (m message) text() string {
	return fmt.Sprintf("%s\n\n%s\n\n%s:\n%s\n\n%s\n\n%s\n\nThis is an automated message. Please do not reply to this email.\n",
		m.Heading, m.Intro, m.Action, m.Link, m.Notice, m.Outro)
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject string, m message) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(m.html())},
				Text: &types.Content{Data: aws.String(m.text())},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(to)),
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.InfoContext(ctx, "email sent",
		slog.String("email", pkglogger.SanitizedEmail(to)),
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogEmailService stands in for SES when email delivery is disabled. Links
// are logged so local environments can complete the flows.
type LogEmailService struct {
	baseURL string
	logger  *slog.Logger
}

func NewLogEmailService(baseURL string, logger *slog.Logger) *LogEmailService {
	return &LogEmailService{baseURL: baseURL, logger: logger}
}

func (s *LogEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.logger.InfoContext(ctx, "email delivery disabled; verification link",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("link", fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, token)),
		slog.Time("expires_at", expiresAt))
	return nil
}

func (s *LogEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.logger.InfoContext(ctx, "email delivery disabled; password reset link",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("link", fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)),
		slog.Time("expires_at", expiresAt))
	return nil
}

func (s *LogEmailService) SendLockoutNotice(ctx context.Context, email string, lockedUntil time.Time) error {
	s.logger.InfoContext(ctx, "email delivery disabled; lockout notice",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.Time("locked_until", lockedUntil))
	return nil
}
