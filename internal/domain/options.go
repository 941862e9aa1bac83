package domain

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// Option configures optional behaviour of the domain services.
type Option func(*options)

type options struct {
	now     func() time.Time
	newCode func() string
	logger  *log.Logger
}

func defaultOptions() options {
	return options{
		now:     time.Now,
		newCode: uuid.NewString,
		logger:  log.New(log.Writer(), "[domain] ", log.LstdFlags),
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithCodeGenerator overrides the random part of generated access codes.
func WithCodeGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newCode = gen
		}
	}
}

// WithLogger overrides the logger used to report non-fatal failures.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
