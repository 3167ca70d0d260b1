package transport

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Endpoint is a parsed amqp:// or amqps:// URL.
type Endpoint struct {
	Host     string
	Port     string
	Username string
	Password string
	Vhost    string
	TLS      bool
}

func (ep Endpoint) Addr() string {
	return net.JoinHostPort(ep.Host, ep.Port)
}

// ParseURL parses an AMQP URL. Missing pieces fall back to the scheme's
// default port, guest credentials and the default vhost.
func ParseURL(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid broker URL %q: %w", raw, err)
	}

	ep := Endpoint{
		Username: "guest",
		Password: "guest",
		Vhost:    "/",
	}

	switch u.Scheme {
	case "amqp":
		ep.Port = "5672"
	case "amqps":
		ep.Port = "5671"
		ep.TLS = true
	default:
		return Endpoint{}, fmt.Errorf("invalid broker URL %q: scheme must be amqp or amqps", raw)
	}

	ep.Host = u.Hostname()
	if ep.Host == "" {
		ep.Host = "localhost"
	}
	if port := u.Port(); port != "" {
		ep.Port = port
	}

	if u.User != nil {
		if name := u.User.Username(); name != "" {
			ep.Username = name
		}
		if password, set := u.User.Password(); set {
			ep.Password = password
		}
	}

	if vhost := strings.TrimPrefix(u.Path, "/"); vhost != "" {
		unescaped, err := url.PathUnescape(vhost)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid broker URL %q: bad vhost: %w", raw, err)
		}
		ep.Vhost = unescaped
	}

	return ep, nil
}
