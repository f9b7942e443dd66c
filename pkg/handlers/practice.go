// Package handlers implements the business operations the speech agent can
// invoke mid-call: appointment lookup and booking, insurance checks, triage,
// messages, and transfer to a human.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Appointment is one scheduled visit in the practice system.
type Appointment struct {
	Ref         string    `json:"ref"`
	PatientName string    `json:"patient_name"`
	Phone       string    `json:"phone"`
	Service     string    `json:"service"`
	At          time.Time `json:"at"`
}

// Message is a note left for front desk staff.
type Message struct {
	PatientName string    `json:"patient_name"`
	Phone       string    `json:"phone"`
	Body        string    `json:"body"`
	TakenAt     time.Time `json:"taken_at"`
}

// ErrSlotTaken is returned when a requested booking time is unavailable.
var ErrSlotTaken = errors.New("handlers: requested slot is taken")

// PracticeClient is the practice management system the handlers talk to.
// Book must be idempotent with respect to repeated idempotency keys.
type PracticeClient interface {
	FindAppointments(ctx context.Context, patientName, phone string) ([]Appointment, error)
	Book(ctx context.Context, idempotencyKey string, appt Appointment) (Appointment, error)
	AcceptsInsurance(ctx context.Context, carrier, plan string) (bool, string, error)
	LeaveMessage(ctx context.Context, msg Message) error
}

// InMemoryPractice is a PracticeClient backed by process memory. It serves
// local development and tests; production deployments swap in a client for
// the real practice management system.
type InMemoryPractice struct {
	mu       sync.Mutex
	appts    []Appointment
	messages []Message
	// byKey maps an idempotency key to the booking it already produced.
	byKey    map[string]Appointment
	accepted map[string]bool
}

// NewInMemoryPractice seeds the common insurance carriers.
func NewInMemoryPractice() *InMemoryPractice {
	return &InMemoryPractice{
		byKey: make(map[string]Appointment),
		accepted: map[string]bool{
			"delta dental": true,
			"cigna":        true,
			"aetna":        true,
			"metlife":      true,
			"guardian":     false,
		},
	}
}

// FindAppointments matches on name (case-insensitive) and, when given, phone.
func (p *InMemoryPractice) FindAppointments(ctx context.Context, patientName, phone string) ([]Appointment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := strings.ToLower(strings.TrimSpace(patientName))
	var out []Appointment
	for _, a := range p.appts {
		if strings.ToLower(a.PatientName) != name {
			continue
		}
		if phone != "" && a.Phone != phone {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Book creates the appointment, or returns the prior result when the
// idempotency key has been seen before.
func (p *InMemoryPractice) Book(ctx context.Context, idempotencyKey string, appt Appointment) (Appointment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idempotencyKey != "" {
		if prior, ok := p.byKey[idempotencyKey]; ok {
			return prior, nil
		}
	}
	for _, existing := range p.appts {
		if existing.At.Equal(appt.At) && existing.Service == appt.Service {
			return Appointment{}, ErrSlotTaken
		}
	}
	appt.Ref = fmt.Sprintf("APT-%s", strings.ToUpper(uuid.NewString()[:8]))
	p.appts = append(p.appts, appt)
	if idempotencyKey != "" {
		p.byKey[idempotencyKey] = appt
	}
	return appt, nil
}

// AcceptsInsurance answers for known carriers; unknown carriers get a
// cautious "needs verification" answer rather than a guess.
func (p *InMemoryPractice) AcceptsInsurance(ctx context.Context, carrier, plan string) (bool, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	accepted, known := p.accepted[strings.ToLower(strings.TrimSpace(carrier))]
	if !known {
		return false, "We'd need to verify that plan with our billing team.", nil
	}
	if accepted {
		return true, "Yes, we accept that insurance.", nil
	}
	return false, "We don't currently accept that carrier, but we offer a cash discount plan.", nil
}

// LeaveMessage stores the note.
func (p *InMemoryPractice) LeaveMessage(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

// Seed adds an appointment directly, for tests and demos.
func (p *InMemoryPractice) Seed(appt Appointment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appts = append(p.appts, appt)
}

// Messages returns a copy of the stored messages.
func (p *InMemoryPractice) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
