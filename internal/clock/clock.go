// Package clock provides the simulation's virtual clock: the wall clock seen
// in a fixed timezone, optionally with the hour of day forced to a constant so
// hour-dependent jobs can be driven deterministically.
package clock

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Instant is one reading of the virtual clock. Local and UTC are two views of
// the same moment; every due-check within a tick uses a single Instant.
type Instant struct {
	Local time.Time
	UTC   time.Time
}

// Provider produces virtual time readings.
type Provider struct {
	loc        *time.Location
	forcedHour *int
	now        func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithNow replaces the wall-clock source.
func WithNow(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// New creates a provider for loc. forcedHour may be nil; otherwise it must be
// within 0..23.
func New(loc *time.Location, forcedHour *int, opts ...Option) (*Provider, error) {
	if loc == nil {
		loc = time.UTC
	}
	if forcedHour != nil {
		if *forcedHour < 0 || *forcedHour > 23 {
			return nil, fmt.Errorf("forced hour must be between 0 and 23, got %d", *forcedHour)
		}
		h := *forcedHour
		forcedHour = &h
	}

	p := &Provider{loc: loc, forcedHour: forcedHour, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewInZone is New with the location looked up by IANA name.
func NewInZone(zone string, forcedHour *int, opts ...Option) (*Provider, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", zone, err)
	}
	return New(loc, forcedHour, opts...)
}

// Now returns the current virtual time. With an override only the hour field
// of the local reading is replaced; minutes and seconds keep advancing.
//
// A forced hour that does not exist on the current day (a DST spring-forward
// gap) is normalized by time.Date to the following hour, so the reading then
// shows the shifted hour. Use UTC or a zone without DST to keep the forced
// hour exact every day.
func (p *Provider) Now() Instant {
	local := p.now().In(p.loc)
	if p.forcedHour != nil {
		local = time.Date(local.Year(), local.Month(), local.Day(),
			*p.forcedHour, local.Minute(), local.Second(), local.Nanosecond(), p.loc)
	}
	return Instant{Local: local, UTC: local.UTC()}
}

// ForcedHour reports the active override.
func (p *Provider) ForcedHour() (int, bool) {
	if p.forcedHour == nil {
		return 0, false
	}
	return *p.forcedHour, true
}

// Location returns the simulation timezone.
func (p *Provider) Location() *time.Location {
	return p.loc
}
