package customers

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service wraps a Store with input validation and id generation. Status
// transition legality is not checked here: lifecycle transitions are the
// scheduler's job, and staff corrections through the API may need to move a
// record anywhere.
type Service struct {
	store Store
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

type CreateRequest struct {
	Name                string     `json:"name"`
	Mobile              string     `json:"mobile"`
	Email               string     `json:"email,omitempty"`
	ExpectedArrivalTime *time.Time `json:"expected_arrival_time,omitempty"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Customer{}, fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	mobile, err := NormalizeMobile(req.Mobile)
	if err != nil {
		return Customer{}, err
	}
	email := strings.TrimSpace(req.Email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return Customer{}, fmt.Errorf("%w: malformed email %q", ErrInvalidRecord, email)
		}
	}

	now := s.clock().UTC()
	c := Customer{
		ID:        uuid.NewString(),
		Name:      name,
		Mobile:    mobile,
		Email:     email,
		Status:    StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.ExpectedArrivalTime != nil {
		t := req.ExpectedArrivalTime.UTC()
		c.ExpectedArrivalTime = &t
	}
	if err := s.store.Create(ctx, c); err != nil {
		return Customer{}, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (Customer, error) {
	if id == "" {
		return Customer{}, fmt.Errorf("%w: empty customer id", ErrInvalidRecord)
	}
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Customer, error) {
	return s.store.List(ctx)
}

func (s *Service) Update(ctx context.Context, id string, p Patch) (Customer, error) {
	if id == "" {
		return Customer{}, fmt.Errorf("%w: empty customer id", ErrInvalidRecord)
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return Customer{}, fmt.Errorf("%w: name cannot be blank", ErrInvalidRecord)
	}
	if p.Mobile != nil {
		mobile, err := NormalizeMobile(*p.Mobile)
		if err != nil {
			return Customer{}, err
		}
		p.Mobile = &mobile
	}
	if p.Email != nil && *p.Email != "" {
		if _, err := mail.ParseAddress(*p.Email); err != nil {
			return Customer{}, fmt.Errorf("%w: malformed email %q", ErrInvalidRecord, *p.Email)
		}
	}
	if p.Status != nil && !ValidStatus(*p.Status) {
		return Customer{}, fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, *p.Status)
	}
	return s.store.Update(ctx, id, p)
}

// NormalizeMobile strips common separators and validates the remaining
// digits: an optional leading +, then 7 to 15 digits.
func NormalizeMobile(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: mobile is required", ErrInvalidRecord)
	}
	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separator, drop it
		default:
			return "", fmt.Errorf("%w: malformed mobile %q", ErrInvalidRecord, raw)
		}
	}
	digits := strings.TrimPrefix(b.String(), "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("%w: malformed mobile %q", ErrInvalidRecord, raw)
	}
	return b.String(), nil
}

// AppendRemark joins a new note onto an existing remarks string.
func AppendRemark(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + " | " + note
}
