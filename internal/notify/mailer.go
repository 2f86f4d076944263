package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"gopkg.in/gomail.v2"

	"tablecall/internal/customers"
)

// Guest-facing confirmation emails. Sending is fire-once: the scheduler
// flips the customer's notified flag after a successful send, so a failed
// send here simply surfaces the error and leaves the flag alone.

type Kind string

const (
	KindReservationConfirmed Kind = "reservation_confirmed"
	KindTakeawayConfirmed    Kind = "takeaway_confirmed"
)

type Notification struct {
	Kind     Kind
	Customer customers.Customer
}

// Sender delivers one notification. The scheduler only ever talks to this
// interface so tests can swap the SMTP path out.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

var (
	ErrNoRecipient = errors.New("customer has no email address")
	ErrUnknownKind = errors.New("unknown notification kind")
)

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromName  string
	FromEmail string
}

// Mailer sends notifications over SMTP.
type Mailer struct {
	cfg        SMTPConfig
	restaurant string
	send       func(*gomail.Message) error
}

func NewMailer(cfg SMTPConfig, restaurant string) *Mailer {
	m := &Mailer{cfg: cfg, restaurant: restaurant}
	m.send = func(msg *gomail.Message) error {
		dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
		return dialer.DialAndSend(msg)
	}
	return m
}

func (m *Mailer) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.Customer.Email == "" {
		return fmt.Errorf("%w: customer %s", ErrNoRecipient, n.Customer.ID)
	}
	subject, body, err := composeEmail(n, m.restaurant)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromEmail))
	msg.SetHeader("To", n.Customer.Email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.send(msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", n.Kind, n.Customer.ID, err)
	}
	return nil
}

func composeEmail(n Notification, restaurant string) (subject, body string, err error) {
	name := html.EscapeString(n.Customer.Name)
	order := html.EscapeString(n.Customer.OrderDetails)

	switch n.Kind {
	case KindReservationConfirmed:
		subject = fmt.Sprintf("Your table at %s is confirmed", restaurant)
		body = fmt.Sprintf("<p>Hi %s,</p><p>Your reservation at %s is confirmed.</p>", name, html.EscapeString(restaurant))
		if order != "" {
			body += fmt.Sprintf("<p>Order: %s</p>", order)
		}
		if n.Customer.ExpectedArrivalTime != nil {
			body += fmt.Sprintf("<p>We expect you around %s.</p>", formatArrival(*n.Customer.ExpectedArrivalTime))
		}
		body += "<p>See you soon!</p>"
	case KindTakeawayConfirmed:
		subject = fmt.Sprintf("Your takeaway order at %s is confirmed", restaurant)
		body = fmt.Sprintf("<p>Hi %s,</p><p>Your takeaway order at %s is confirmed.</p>", name, html.EscapeString(restaurant))
		if order != "" {
			body += fmt.Sprintf("<p>Order: %s</p>", order)
		}
		body += "<p>We'll have it ready for pickup.</p>"
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownKind, n.Kind)
	}
	return subject, body, nil
}

func formatArrival(t time.Time) string {
	return t.UTC().Format("15:04 on Mon, 2 Jan 2006")
}
