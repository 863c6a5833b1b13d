package chrono

import "time"

// API is the source of wall-clock time, swappable in tests.
type API interface {
	Now() time.Time
	Location() *time.Location
}

type StandardImpl struct {
	location *time.Location
}

func NewStandardImpl() StandardImpl {
	return StandardImpl{location: time.UTC}
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}

// FixedImpl always returns the same instant, it can be moved forward manually.
type FixedImpl struct {
	Current time.Time
}

func (f *FixedImpl) Now() time.Time {
	return f.Current
}

func (f *FixedImpl) Location() *time.Location {
	return f.Current.Location()
}

func (f *FixedImpl) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}
