package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher publishes records on subjects "<prefix>.<room>.<event>".
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// DialNATS connects to url and keeps reconnecting for the life of the
// process.
func DialNATS(url, prefix string, logger zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("roomrelay-mirror"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to NATS: %w", err)
	}

	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Publish sends body on the record's subject.
func (p *NATSPublisher) Publish(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.nc.Publish(joinKey(p.prefix, key), body); err != nil {
		return fmt.Errorf("cannot publish to NATS: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
