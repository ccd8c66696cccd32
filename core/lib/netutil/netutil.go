// Package netutil provides small host/address validation helpers shared by
// the server configuration layer and the CLI.
package netutil

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// IsPortOpen reports whether a TCP port accepts connections.
func IsPortOpen(host string, port string) bool {
	timeout := 3 * time.Second
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	return true
}

// ValidateIP reports whether ip parses as an IPv4 or IPv6 address.
func ValidateIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// ValidateHostName reports whether name is a usable listen/dial host: an IP
// literal or a syntactically valid DNS name.
func ValidateHostName(name string) bool {
	if ValidateIP(name) {
		return true
	}
	return validateDomain(name)
}

func validateDomain(domain string) bool {
	re := regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	return re.MatchString(domain)
}

// ValidateIPPort reports whether to looks like "ip:port".
func ValidateIPPort(to string) bool {
	fields := strings.Split(to, ":")
	if len(fields) != 2 {
		return false
	}
	if !ValidateIP(fields[0]) {
		return false
	}
	_, err := strconv.Atoi(fields[1])
	return err == nil
}
