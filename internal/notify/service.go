// Package notify sends booking lifecycle emails. Notification failures are
// logged and swallowed: an appointment is never rolled back because an
// email bounced.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// Contact is a user's email details.
type Contact struct {
	Email string
	Name  string
}

// ContactSource resolves a user's contact details.
type ContactSource interface {
	ContactFor(ctx context.Context, userID uuid.UUID) (*Contact, error)
}

// slotDescriber renders the clinic-local time of an appointment's slot.
type slotDescriber interface {
	SlotTimes(ctx context.Context, slotID uuid.UUID) (date, start string, err error)
}

// Service sends booking confirmation and cancellation emails.
type Service struct {
	email    EmailSender
	contacts ContactSource
	slots    slotDescriber
	logger   *logging.Logger
}

// NewService creates the notification service. email may be nil, in which
// case every notification is a logged no-op.
func NewService(email EmailSender, contacts ContactSource, slots slotDescriber, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, contacts: contacts, slots: slots, logger: logger}
}

// BookingConfirmed emails the patient that their slot is booked.
func (s *Service) BookingConfirmed(ctx context.Context, appt *domain.Appointment) {
	subject := "Your appointment is booked"
	body := fmt.Sprintf("Your appointment is confirmed.%s\n\nBooking reference: %s",
		s.slotLine(ctx, appt.SlotID), appt.ID)
	if appt.PaymentStatus == domain.PaymentPending {
		body += "\n\nPayment is due at the clinic."
	}
	s.send(ctx, appt.UserID, subject, body)
}

// BookingCancelled emails the patient that their booking was cancelled.
func (s *Service) BookingCancelled(ctx context.Context, appt *domain.Appointment) {
	subject := "Your appointment was cancelled"
	body := fmt.Sprintf("Your appointment has been cancelled.%s\n\nBooking reference: %s",
		s.slotLine(ctx, appt.SlotID), appt.ID)
	s.send(ctx, appt.UserID, subject, body)
}

func (s *Service) slotLine(ctx context.Context, slotID uuid.UUID) string {
	if s.slots == nil {
		return ""
	}
	date, start, err := s.slots.SlotTimes(ctx, slotID)
	if err != nil {
		s.logger.Warn("slot lookup for notification failed", "error", err, "slot_id", slotID)
		return ""
	}
	return fmt.Sprintf("\n\nWhen: %s at %s (clinic time)", date, start)
}

func (s *Service) send(ctx context.Context, userID uuid.UUID, subject, body string) {
	if s.email == nil {
		s.logger.Debug("email sender not configured, skipping notification", "subject", subject)
		return
	}
	if s.contacts == nil {
		return
	}
	contact, err := s.contacts.ContactFor(ctx, userID)
	if err != nil {
		s.logger.Warn("contact lookup failed, notification skipped", "error", err, "user_id", userID)
		return
	}
	if contact.Email == "" {
		return
	}
	if err := s.email.Send(ctx, EmailMessage{
		To:      contact.Email,
		ToName:  contact.Name,
		Subject: subject,
		Body:    body,
	}); err != nil {
		s.logger.Error("notification send failed", "error", err, "user_id", userID, "subject", subject)
	}
}
