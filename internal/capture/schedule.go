package capture

import (
	"fmt"
	"strings"
)

// Wait strategies a schedule may request.
const (
	WaitNetworkIdle = "networkidle"
	WaitDOMReady    = "domcontentloaded"
	WaitLoad        = "load"
)

// ValidateCron accepts standard five-field or seconds-prefixed six-field
// expressions. Field contents are left to the trigger that evaluates them.
func ValidateCron(expr string) error {
	n := len(strings.Fields(expr))
	if n != 5 && n != 6 {
		return fmt.Errorf("%w: cron_expression must have 5 or 6 fields, got %d", ErrValidation, n)
	}
	return nil
}

func validWait(s string) bool {
	switch s {
	case WaitNetworkIdle, WaitDOMReady, WaitLoad:
		return true
	default:
		return false
	}
}

// Normalize validates s and fills defaults for optional fields.
func (s Schedule) Normalize() (Schedule, error) {
	s.URL = strings.TrimSpace(s.URL)
	if s.URL == "" {
		return Schedule{}, fmt.Errorf("%w: url is required", ErrValidation)
	}
	if err := ValidateCron(s.Cron); err != nil {
		return Schedule{}, err
	}
	if s.Kind == "" {
		s.Kind = KindPDF
	}
	if !s.Kind.Valid() {
		return Schedule{}, fmt.Errorf("%w: invalid artifact_type %q (must be pdf or png)", ErrValidation, s.Kind)
	}
	s.Viewport = (&s.Viewport).OrDefault()
	if s.WaitStrategy == "" {
		s.WaitStrategy = WaitNetworkIdle
	}
	if !validWait(s.WaitStrategy) {
		return Schedule{}, fmt.Errorf("%w: unknown wait_strategy %q", ErrValidation, s.WaitStrategy)
	}
	return s, nil
}

// Apply returns s with the non-nil fields of u applied, revalidated.
func (u ScheduleUpdate) Apply(s Schedule) (Schedule, error) {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.URL != nil {
		s.URL = *u.URL
	}
	if u.Cron != nil {
		s.Cron = *u.Cron
	}
	if u.Kind != nil {
		s.Kind = *u.Kind
	}
	if u.Viewport != nil {
		s.Viewport = *u.Viewport
	}
	if u.WaitStrategy != nil {
		s.WaitStrategy = *u.WaitStrategy
	}
	if u.Enabled != nil {
		s.Enabled = *u.Enabled
	}
	return s.Normalize()
}

// Request builds the capture request a run of this schedule submits.
func (s Schedule) Request() Request {
	vp := s.Viewport
	return Request{
		URL:      s.URL,
		Kind:     s.Kind,
		Owner:    s.Owner,
		Viewport: &vp,
		Metadata: map[string]string{"schedule_id": s.ID},
	}
}
