// Package system provides the wall clock used by crawl runs.
package system

import "time"

// Clock implements harvest.Clock using time.Now in a fixed location, so
// "yesterday" means yesterday where the portal's users are.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting times in loc (time.Local when nil).
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// Load creates a Clock for an IANA zone name. An empty name means time.Local.
func Load(name string) (*Clock, error) {
	if name == "" {
		return New(nil), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	return New(loc), nil
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the clock's location.
func (c *Clock) Location() *time.Location {
	return c.loc
}
