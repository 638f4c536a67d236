package recovery

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/uptrace/bun/driver/pgdriver"
)

// InfraClassifier decides how infrastructure errors map onto recovery
// behavior. Permanent errors fail the step immediately, transient
// errors retry with attempt-keyed backoff, and duplicates finalize the
// step as already done.
type InfraClassifier interface {
	// Permanent reports an error that retrying cannot cure, such as a
	// malformed query or a schema mismatch.
	Permanent(err error) bool
	// Transient reports an error expected to clear on its own, such as
	// a dropped connection or a statement timeout.
	Transient(err error) bool
	// Duplicate reports an idempotent-duplicate write, meaning the
	// intended effect already exists.
	Duplicate(err error) bool
}

// DefaultInfra classifies Postgres driver errors by SQLSTATE class plus
// the usual transport failure modes.
type DefaultInfra struct{}

func (DefaultInfra) Permanent(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		code := pgErr.Field('C')
		switch {
		case strings.HasPrefix(code, "42"): // syntax error or undefined object
			return true
		case strings.HasPrefix(code, "22"): // data exception
			return true
		case strings.HasPrefix(code, "3F"), strings.HasPrefix(code, "3D"): // bad schema/catalog
			return true
		}
	}
	return false
}

func (DefaultInfra) Transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		if pgErr.StatementTimeout() {
			return true
		}
		code := pgErr.Field('C')
		switch {
		case strings.HasPrefix(code, "08"): // connection exception
			return true
		case strings.HasPrefix(code, "40"): // serialization failure / deadlock
			return true
		case strings.HasPrefix(code, "53"): // insufficient resources
			return true
		}
	}
	return false
}

func (DefaultInfra) Duplicate(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505" // unique violation
	}
	return false
}
