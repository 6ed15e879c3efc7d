package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Options is a snapshot of the store settings that library users and tests
// can build without touching the environment.
type Options struct {
	Name             string
	BaseURL          string
	DataPath         string
	HTTPTimeout      time.Duration
	BulkDeleteMethod string
	JWTSecret        string
	JWTSubject       string
	JWTTTL           time.Duration
	StaticToken      string
	SlowThreshold    time.Duration
}

// DefaultOptions returns the options currently loaded from the environment.
func DefaultOptions() Options {
	return Options{
		Name:             StoreName,
		BaseURL:          BaseURL,
		DataPath:         DataPath,
		HTTPTimeout:      HTTPTimeout,
		BulkDeleteMethod: BulkDeleteMethod,
		JWTSecret:        JWTSecret,
		JWTSubject:       JWTSubject,
		JWTTTL:           JWTTTL,
		StaticToken:      StaticToken,
		SlowThreshold:    SlowRequestThreshold,
	}
}

// WithDefaults fills zero fields with built-in defaults.
func (o Options) WithDefaults() Options {
	if o.Name == "" {
		o.Name = "api"
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 15 * time.Second
	}
	if o.BulkDeleteMethod == "" {
		o.BulkDeleteMethod = http.MethodPatch
	}
	o.BulkDeleteMethod = strings.ToUpper(o.BulkDeleteMethod)
	if o.JWTSubject == "" {
		o.JWTSubject = "apistore"
	}
	if o.JWTTTL <= 0 {
		o.JWTTTL = time.Hour
	}
	if o.SlowThreshold <= 0 {
		o.SlowThreshold = 500 * time.Millisecond
	}
	return o
}

// Validate reports settings that cannot work together.
func (o Options) Validate() error {
	switch o.BulkDeleteMethod {
	case http.MethodPatch, http.MethodPost:
	default:
		return fmt.Errorf("bulk delete method must be PATCH or POST, got %q", o.BulkDeleteMethod)
	}
	if o.JWTSecret != "" && o.StaticToken != "" {
		return fmt.Errorf("set either a jwt secret or a static token, not both")
	}
	if strings.ContainsAny(o.Name, "/ ") {
		return fmt.Errorf("store name %q must not contain slashes or spaces", o.Name)
	}
	return nil
}
