package strapi

import (
	"fmt"
	"time"
)

// Datetime is a timestamp field, serialized as RFC 3339 with nanoseconds.
type Datetime struct {
	time.Time
}

func (d Datetime) Wire() any {
	return d.UTC().Format(time.RFC3339Nano)
}

type datetimeCodec struct{}

var DatetimeCodec Codec = datetimeCodec{}

func (datetimeCodec) Name() string {
	return "datetime"
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func (datetimeCodec) Coerce(raw any) (Custom, error) {
	if raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("datetime: expected a string, got %T", raw)
	}
	for _, layout := range datetimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return Datetime{Time: t}, nil
		}
	}
	return nil, fmt.Errorf("datetime: cannot parse %q", s)
}

func DatetimeValue(t time.Time) Value {
	return CustomValue(Datetime{Time: t})
}
