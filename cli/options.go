package cli

import (
	"errors"
	"reflect"
	"time"

	"github.com/alecthomas/kong"

	"go.hackfix.me/openme/xtime"
)

// ExpirationMapper parses a certificate expiration duration or timestamp.
type ExpirationMapper struct {
	timeNow func() time.Time
}

var _ kong.Mapper = (*ExpirationMapper)(nil)

// Decode implements the kong.Mapper interface.
func (em ExpirationMapper) Decode(kctx *kong.DecodeContext, target reflect.Value) error {
	var value string
	err := kctx.Scan.PopValueInto("expiration", &value)
	if err != nil {
		return err
	}

	timeNow := em.timeNow().UTC()

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		dur, err := xtime.ParseDuration(value)
		if err != nil {
			return err
		}
		t = timeNow.Add(dur)
	}

	if !t.After(timeNow) {
		return errors.New("expiration time must be in the future")
	}

	target.Set(reflect.ValueOf(t))

	return nil
}

// DurationMapper parses durations with the extended units of xtime, e.g. "1d".
type DurationMapper struct{}

var _ kong.Mapper = DurationMapper{}

// Decode implements the kong.Mapper interface.
func (DurationMapper) Decode(kctx *kong.DecodeContext, target reflect.Value) error {
	var value string
	if err := kctx.Scan.PopValueInto("duration", &value); err != nil {
		return err
	}

	dur, err := xtime.ParseDuration(value)
	if err != nil {
		return err
	}
	if dur <= 0 {
		return errors.New("duration must be greater than 0")
	}

	target.Set(reflect.ValueOf(dur))

	return nil
}
