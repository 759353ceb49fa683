// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package configerr defines ConfigurationError, returned by graph-building helpers when
// the configuration they are given is inconsistent (unknown names, mismatched sizes).
//
// These are errors the caller can act upon, as opposed to programming errors, which
// are reported with panics.
package configerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError reports an invalid configuration value.
// Values holds the offending value(s), for diagnostics.
type ConfigurationError struct {
	// Param is the name of the configuration parameter at fault.
	Param string

	// Values that triggered the error.
	Values []any

	msg string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %q: %s", e.Param, e.msg)
}

// Newf creates a ConfigurationError for param, with a stack trace attached.
// The message is formatted with values, which are also kept in ConfigurationError.Values.
func Newf(param string, format string, values ...any) error {
	return errors.WithStack(&ConfigurationError{
		Param:  param,
		Values: values,
		msg:    fmt.Sprintf(format, values...),
	})
}

// As returns the ConfigurationError wrapped in err, or nil if there is none.
func As(err error) *ConfigurationError {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr
	}
	return nil
}

// Is returns whether err is (or wraps) a ConfigurationError.
func Is(err error) bool {
	return As(err) != nil
}
