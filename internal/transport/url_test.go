package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Endpoint
	}{
		{
			name: "defaults",
			raw:  "amqp://localhost",
			want: Endpoint{Host: "localhost", Port: "5672", Username: "guest", Password: "guest", Vhost: "/"},
		},
		{
			name: "full",
			raw:  "amqp://user:pw@broker.example:5673/prod",
			want: Endpoint{Host: "broker.example", Port: "5673", Username: "user", Password: "pw", Vhost: "prod"},
		},
		{
			name: "tls default port",
			raw:  "amqps://broker.example",
			want: Endpoint{Host: "broker.example", Port: "5671", Username: "guest", Password: "guest", Vhost: "/", TLS: true},
		},
		{
			name: "escaped vhost",
			raw:  "amqp://localhost/%2Fstaging",
			want: Endpoint{Host: "localhost", Port: "5672", Username: "guest", Password: "guest", Vhost: "/staging"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := ParseURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ep)
		})
	}
}

func TestParseURLRejectsUnknownScheme(t *testing.T) {
	_, err := ParseURL("http://localhost")
	assert.Error(t, err)
}

func TestEndpointAddr(t *testing.T) {
	ep := Endpoint{Host: "broker.example", Port: "5672"}
	assert.Equal(t, "broker.example:5672", ep.Addr())
}
