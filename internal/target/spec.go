package target

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultPort = "5432"
)

// ConnectionSpec describes a caller-supplied target database. It lives only
// for the request or job that carries it and is never written anywhere.
type ConnectionSpec struct {
	Driver     string `json:"driver,omitempty"`
	Host       string `json:"host"`
	Port       string `json:"port,omitempty"`
	DBName     string `json:"db_name"`
	User       string `json:"user"`
	Password   string `json:"password"`
	SSLEnabled *bool  `json:"ssl_enabled,omitempty"`
}

// Normalized fills in defaults and trims whitespace.
func (s ConnectionSpec) Normalized() ConnectionSpec {
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	switch s.Driver {
	case "", "pg", "postgresql":
		s.Driver = DriverPostgres
	case "sqlite3":
		s.Driver = DriverSQLite
	}
	s.Host = strings.TrimSpace(s.Host)
	s.Port = strings.TrimSpace(s.Port)
	if s.Port == "" && s.Driver == DriverPostgres {
		s.Port = DefaultPort
	}
	s.DBName = strings.TrimSpace(s.DBName)
	s.User = strings.TrimSpace(s.User)
	return s
}

// TLS reports whether the session must be encrypted. It defaults to true.
func (s ConnectionSpec) TLS() bool {
	return s.SSLEnabled == nil || *s.SSLEnabled
}

// Validate checks the fields every target needs before any network I/O.
func (s ConnectionSpec) Validate() error {
	if s.DBName == "" {
		return &ConnectionError{Reason: ReasonInvalidSpec, Detail: "database name is required"}
	}
	if s.Driver == DriverSQLite {
		return nil
	}
	if s.Host == "" {
		return &ConnectionError{Reason: ReasonInvalidSpec, Detail: "host is required"}
	}
	port, err := strconv.Atoi(s.Port)
	if err != nil || port <= 0 || port > 65535 {
		return &ConnectionError{Reason: ReasonInvalidSpec, Detail: "port must be a number between 1 and 65535"}
	}
	return nil
}

// Redacted drops the password so the spec can be kept for display.
func (s ConnectionSpec) Redacted() ConnectionSpec {
	s.Password = ""
	return s
}

// MarshalZerologObject logs the spec without credentials.
func (s ConnectionSpec) MarshalZerologObject(e *zerolog.Event) {
	e.Str("driver", s.Driver).
		Str("host", s.Host).
		Str("port", s.Port).
		Str("db_name", s.DBName).
		Str("user", s.User).
		Bool("tls", s.TLS())
}
