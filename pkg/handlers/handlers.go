package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/dispatch"
	"github.com/frontdesk-ai/frontdesk/pkg/logging"
)

// TransferRequester receives transfer-to-human requests raised by handlers.
// The session implements this by signaling the carrier.
type TransferRequester interface {
	RequestTransfer(reason string)
}

// Set builds the handler map the dispatch registry binds definitions to.
// One Set serves one call session: transfer requests and booking
// idempotency are scoped to that call.
type Set struct {
	practice PracticeClient
	transfer TransferRequester
	number   string
	log      *logging.Logger
}

// NewSet wires the business handlers to a practice client.
func NewSet(practice PracticeClient, transfer TransferRequester, transferNumber string, log *logging.Logger) *Set {
	if log == nil {
		log = logging.Nop()
	}
	return &Set{
		practice: practice,
		transfer: transfer,
		number:   transferNumber,
		log:      log.Sub("handlers"),
	}
}

// Map returns handlers keyed by the kind names used in function definitions.
func (s *Set) Map() map[string]dispatch.Handler {
	return map[string]dispatch.Handler{
		"lookup_appointment": dispatch.HandlerFunc(s.lookupAppointment),
		"book_appointment":   dispatch.HandlerFunc(s.bookAppointment),
		"check_insurance":    dispatch.HandlerFunc(s.checkInsurance),
		"triage_urgency":     dispatch.HandlerFunc(s.triageUrgency),
		"take_message":       dispatch.HandlerFunc(s.takeMessage),
		"transfer_to_human":  dispatch.HandlerFunc(s.transferToHuman),
	}
}

func stringArg(req dispatch.Request, key string) string {
	v, _ := req.Args[key].(string)
	return strings.TrimSpace(v)
}

func (s *Set) lookupAppointment(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	name := stringArg(req, "patient_name")
	if name == "" {
		return nil, fmt.Errorf("patient_name is required")
	}
	appts, err := s.practice.FindAppointments(ctx, name, stringArg(req, "phone"))
	if err != nil {
		return nil, fmt.Errorf("finding appointments: %w", err)
	}
	list := make([]map[string]any, 0, len(appts))
	for _, a := range appts {
		list = append(list, map[string]any{
			"ref":     a.Ref,
			"service": a.Service,
			"at":      a.At.Format(time.RFC3339),
		})
	}
	return map[string]any{"found": len(list) > 0, "appointments": list}, nil
}

func (s *Set) bookAppointment(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	name := stringArg(req, "patient_name")
	phone := stringArg(req, "phone")
	service := stringArg(req, "service")
	when := stringArg(req, "preferred_time")
	if name == "" || phone == "" || service == "" || when == "" {
		return nil, fmt.Errorf("patient_name, phone, service and preferred_time are required")
	}
	at, err := parseWhen(when)
	if err != nil {
		return map[string]any{
			"booked": false,
			"reason": "could_not_parse_time",
		}, nil
	}

	// The correlation id doubles as the idempotency key so a retried or
	// timed-out call can never double-book.
	appt, err := s.practice.Book(ctx, req.CorrelationID, Appointment{
		PatientName: name,
		Phone:       phone,
		Service:     service,
		At:          at,
	})
	if errors.Is(err, ErrSlotTaken) {
		return map[string]any{"booked": false, "reason": "slot_taken"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("booking appointment: %w", err)
	}
	s.log.Info().Str("ref", appt.Ref).Str("service", service).Msg("appointment booked")
	return map[string]any{
		"booked": true,
		"ref":    appt.Ref,
		"at":     appt.At.Format(time.RFC3339),
	}, nil
}

func (s *Set) checkInsurance(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	carrier := stringArg(req, "carrier")
	if carrier == "" {
		return nil, fmt.Errorf("carrier is required")
	}
	accepted, note, err := s.practice.AcceptsInsurance(ctx, carrier, stringArg(req, "plan"))
	if err != nil {
		return nil, fmt.Errorf("checking insurance: %w", err)
	}
	return map[string]any{"accepted": accepted, "note": note}, nil
}

// urgentTerms trigger the emergency path in triage.
var urgentTerms = []string{
	"bleeding", "swelling", "swollen", "knocked out", "broken",
	"severe pain", "unbearable", "can't sleep", "cannot sleep",
	"fever", "abscess", "trauma", "accident",
}

func (s *Set) triageUrgency(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	complaint := strings.ToLower(stringArg(req, "complaint"))
	if complaint == "" {
		return nil, fmt.Errorf("complaint is required")
	}
	level := "routine"
	for _, term := range urgentTerms {
		if strings.Contains(complaint, term) {
			level = "urgent"
			break
		}
	}
	if level == "routine" && strings.Contains(complaint, "pain") {
		level = "soon"
	}
	out := map[string]any{"urgency": level}
	if level == "urgent" {
		out["advice"] = "Offer a same-day slot or transfer to staff immediately."
	}
	return out, nil
}

func (s *Set) takeMessage(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	name := stringArg(req, "patient_name")
	phone := stringArg(req, "phone")
	body := stringArg(req, "message")
	if name == "" || phone == "" || body == "" {
		return nil, fmt.Errorf("patient_name, phone and message are required")
	}
	err := s.practice.LeaveMessage(ctx, Message{
		PatientName: name,
		Phone:       phone,
		Body:        body,
		TakenAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("leaving message: %w", err)
	}
	return map[string]any{"taken": true}, nil
}

func (s *Set) transferToHuman(ctx context.Context, req dispatch.Request) (map[string]any, error) {
	reason := stringArg(req, "reason")
	if s.transfer != nil {
		s.transfer.RequestTransfer(reason)
	}
	s.log.Info().Str("reason", reason).Msg("transfer to human requested")
	return map[string]any{"transferring": true, "number": s.number}, nil
}

// parseWhen accepts the handful of formats the agent emits for times.
func parseWhen(v string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04",
		"2006-01-02T15:04",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}
