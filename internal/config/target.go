package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// TransportKind identifies which transport backend a target uses.
type TransportKind string

const (
	TransportSerial TransportKind = "serial"
	TransportTCP    TransportKind = "tcp"

	DefaultTCPPort = 5000
)

// Errors surfaced by target parsing. The API layer maps them onto its
// field_serial_port_* error codes.
var (
	ErrTargetRequired = errors.New("target is required")
	ErrTargetInvalid  = errors.New("target format is invalid")
)

// TransportTarget is the parsed, normalized form of a transport target
// string. Exactly one of the serial or tcp field groups is populated.
type TransportTarget struct {
	Kind       TransportKind
	SerialPort string
	Baud       int
	Host       string
	Port       int
}

// String renders the canonical target form: the bare device path for serial,
// tcp://host:port for TCP.
func (t TransportTarget) String() string {
	if t.Kind == TransportSerial {
		return t.SerialPort
	}

	return fmt.Sprintf("tcp://%s:%d", t.Host, t.Port)
}

var (
	comPortRe  = regexp.MustCompile(`(?i)^com\d+$`)
	ttyNameRe  = regexp.MustCompile(`^tty[A-Za-z0-9._-]+$`)
	cuNameRe   = regexp.MustCompile(`^cu\.[A-Za-z0-9._-]+$`)
	bareHostRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ParseTarget parses a transport target string. Accepted serial forms: a bare
// device path, serial://<path>, file://<path>, COM<n>, and bare tty*/cu.*
// device names. Accepted TCP forms: tcp://host[:port], http(s)://host[:port],
// host:port, and a bare hostname (default port 5000). Anything ambiguous or
// unparsable returns ErrTargetInvalid and mutates nothing.
func ParseTarget(raw string, baud int) (TransportTarget, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return TransportTarget{}, ErrTargetRequired
	}
	if baud <= 0 {
		baud = DefaultSerialBaud
	}

	low := strings.ToLower(value)
	switch {
	case strings.HasPrefix(low, "serial://"):
		return serialTarget(value[len("serial://"):], baud)
	case strings.HasPrefix(low, "file://"):
		return serialTarget(value[len("file://"):], baud)
	case strings.HasPrefix(low, "tcp://"), strings.HasPrefix(low, "http://"), strings.HasPrefix(low, "https://"):
		return tcpTargetFromURL(value)
	}

	// Serial aliases recognized without a scheme.
	if comPortRe.MatchString(value) || strings.HasPrefix(value, "/dev/") ||
		ttyNameRe.MatchString(value) || cuNameRe.MatchString(value) {
		return serialTarget(value, baud)
	}

	// host:port with a numeric port suffix.
	if strings.Contains(value, ":") && !strings.Contains(value, "/") {
		idx := strings.LastIndex(value, ":")
		host := strings.TrimSpace(value[:idx])
		port, err := strconv.Atoi(value[idx+1:])
		if err == nil && host != "" && port > 0 && port <= 65535 {
			return TransportTarget{Kind: TransportTCP, Host: host, Port: port}, nil
		}

		return TransportTarget{}, ErrTargetInvalid
	}

	// Bare hostname with the default companion TCP port.
	if bareHostRe.MatchString(value) {
		return TransportTarget{Kind: TransportTCP, Host: value, Port: DefaultTCPPort}, nil
	}

	return TransportTarget{}, ErrTargetInvalid
}

func serialTarget(raw string, baud int) (TransportTarget, error) {
	port, err := NormalizeSerialPort(raw)
	if err != nil {
		return TransportTarget{}, err
	}

	return TransportTarget{Kind: TransportSerial, SerialPort: port, Baud: baud}, nil
}

// NormalizeSerialPort canonicalizes a serial device reference: COM names are
// upper-cased, bare tty*/cu.* names gain a /dev/ prefix, absolute and
// slash-containing paths pass through.
func NormalizeSerialPort(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", ErrTargetRequired
	}

	low := strings.ToLower(value)
	if strings.HasPrefix(low, "serial://") {
		value = value[len("serial://"):]
	} else if strings.HasPrefix(low, "file://") {
		value = value[len("file://"):]
	}
	if strings.HasPrefix(strings.ToLower(value), "http://") || strings.HasPrefix(strings.ToLower(value), "https://") {
		return "", ErrTargetInvalid
	}

	switch {
	case comPortRe.MatchString(value):
		return strings.ToUpper(value), nil
	case strings.HasPrefix(value, "/dev/"):
		return value, nil
	case ttyNameRe.MatchString(value), cuNameRe.MatchString(value):
		return "/dev/" + value, nil
	case strings.Contains(value, "/"):
		return value, nil
	}

	return "", ErrTargetInvalid
}

func tcpTargetFromURL(raw string) (TransportTarget, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return TransportTarget{}, ErrTargetInvalid
	}
	port := DefaultTCPPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return TransportTarget{}, ErrTargetInvalid
		}
	}

	return TransportTarget{Kind: TransportTCP, Host: u.Hostname(), Port: port}, nil
}

// HostPort renders the dial address for a TCP target.
func (t TransportTarget) HostPort() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}
