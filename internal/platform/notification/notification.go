// Package notification is the delivery layer for appointment notifications:
// channel sender interfaces, template rendering, and a dispatcher that routes
// a rendered message to the right channel. Persistence of notification rows
// lives in the notification domain package; this package only renders and
// delivers.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

// Channel is the delivery method for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether the channel is one we can deliver on.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// ---------------------------------------------------------------------------
// Sender Interfaces
// ---------------------------------------------------------------------------

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// LogEmailSender writes deliveries to the log instead of an SMTP relay. Used
// in development and as the default until a real provider is configured.
type LogEmailSender struct {
	Logger zerolog.Logger
}

func (s *LogEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().
		Str("channel", "email").
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("notification delivered")
	return nil
}

// LogSMSSender writes deliveries to the log instead of an SMS gateway.
type LogSMSSender struct {
	Logger zerolog.Logger
}

func (s *LogSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.Logger.Info().
		Str("channel", "sms").
		Str("to", to).
		Str("body", body).
		Msg("notification delivered")
	return nil
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in appointment
// templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

// Built-in templates come in patient and doctor variants per appointment
// event. Data keys: doctor_last_name, patient_name, date, time.
func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "appointment-reminder-patient",
			Name:    "Appointment Reminder (patient)",
			Subject: "Appointment Reminder",
			Body:    "Reminder: You have an appointment with Dr. {{doctor_last_name}} on {{date}} at {{time}}. Please be on time.",
		},
		{
			ID:      "appointment-reminder-doctor",
			Name:    "Appointment Reminder (doctor)",
			Subject: "Appointment Reminder",
			Body:    "Reminder: You have an appointment with {{patient_name}} scheduled for {{date}} at {{time}}.",
		},
		{
			ID:      "appointment-created-patient",
			Name:    "Appointment Scheduled (patient)",
			Subject: "New Appointment Scheduled",
			Body:    "You have scheduled a new appointment with Dr. {{doctor_last_name}} on {{date}} at {{time}}.",
		},
		{
			ID:      "appointment-created-doctor",
			Name:    "Appointment Scheduled (doctor)",
			Subject: "New Appointment Request",
			Body:    "A new appointment has been scheduled with {{patient_name}} on {{date}} at {{time}}.",
		},
		{
			ID:      "appointment-cancelled-patient",
			Name:    "Appointment Cancelled (patient)",
			Subject: "Appointment Cancelled",
			Body:    "Your appointment with Dr. {{doctor_last_name}} on {{date}} at {{time}} has been cancelled.",
		},
		{
			ID:      "appointment-cancelled-doctor",
			Name:    "Appointment Cancelled (doctor)",
			Subject: "Appointment Cancelled",
			Body:    "The appointment with {{patient_name}} on {{date}} at {{time}} has been cancelled.",
		},
		{
			ID:      "appointment-confirmed-patient",
			Name:    "Appointment Confirmed (patient)",
			Subject: "Appointment Confirmed",
			Body:    "Your appointment with Dr. {{doctor_last_name}} on {{date}} at {{time}} has been confirmed.",
		},
		{
			ID:      "appointment-confirmed-doctor",
			Name:    "Appointment Confirmed (doctor)",
			Subject: "Appointment Confirmed",
			Body:    "You have confirmed the appointment with {{patient_name}} on {{date}} at {{time}}.",
		},
		{
			ID:      "appointment-completed-patient",
			Name:    "Appointment Completed (patient)",
			Subject: "Appointment Completed",
			Body:    "Your appointment with Dr. {{doctor_last_name}} on {{date}} has been marked as completed.",
		},
		{
			ID:      "appointment-completed-doctor",
			Name:    "Appointment Completed (doctor)",
			Subject: "Appointment Completed",
			Body:    "The appointment with {{patient_name}} on {{date}} has been marked as completed.",
		},
		{
			ID:      "appointment-rescheduled-patient",
			Name:    "Appointment Rescheduled (patient)",
			Subject: "Appointment Rescheduled",
			Body:    "Your appointment with Dr. {{doctor_last_name}} has been rescheduled to {{date}} at {{time}}.",
		},
		{
			ID:      "appointment-rescheduled-doctor",
			Name:    "Appointment Rescheduled (doctor)",
			Subject: "Appointment Rescheduled",
			Body:    "The appointment with {{patient_name}} has been rescheduled to {{date}} at {{time}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Mock Senders (test doubles)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher routes a message to the sender for its channel.
type Dispatcher struct {
	emailSender EmailSender
	smsSender   SMSSender
	templates   *TemplateEngine
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(email EmailSender, sms SMSSender, tpl *TemplateEngine) *Dispatcher {
	return &Dispatcher{
		emailSender: email,
		smsSender:   sms,
		templates:   tpl,
	}
}

// Templates exposes the engine so callers can render without dispatching.
func (d *Dispatcher) Templates() *TemplateEngine {
	return d.templates
}

// Dispatch sends an already-rendered message on the given channel.
func (d *Dispatcher) Dispatch(ctx context.Context, ch Channel, recipient, subject, body string) error {
	switch ch {
	case ChannelEmail:
		return d.emailSender.SendEmail(ctx, recipient, subject, body)
	case ChannelSMS:
		return d.smsSender.SendSMS(ctx, recipient, body)
	default:
		return fmt.Errorf("unsupported channel: %s", ch)
	}
}

// DispatchTemplate renders a template and sends the result. The rendered
// subject and body are returned so callers can persist what was delivered.
func (d *Dispatcher) DispatchTemplate(ctx context.Context, ch Channel, recipient, templateID string, data map[string]string) (subject, body string, err error) {
	subject, body, err = d.templates.Render(templateID, data)
	if err != nil {
		return "", "", fmt.Errorf("render template: %w", err)
	}
	if err := d.Dispatch(ctx, ch, recipient, subject, body); err != nil {
		return subject, body, err
	}
	return subject, body, nil
}
