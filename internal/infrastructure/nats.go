package infrastructure

import (
	"github.com/nats-io/nats.go"
)

// ConnectNats returns nil for an empty url.
func ConnectNats(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	return nats.Connect(url, nats.Name("convertcredits"), nats.MaxReconnects(-1))
}
