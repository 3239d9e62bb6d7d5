package config

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	defaultDialTries = 5
	connectionName   = "recording-ingest"
)

func (r *RabbitMQ) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.User, r.Pass),
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
		Path:   "/",
	}
	return u.String()
}

func (r *RabbitMQ) dialTries() uint {
	if r.DialTries <= 0 {
		return defaultDialTries
	}
	return uint(r.DialTries)
}

// NewRabbitMQConn dials the broker until it answers or the configured number
// of tries is spent. The connection is closed once ctx is done, which also
// ends the control consumer and the event publisher channel.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQ) (*amqp.Connection, error) {
	logger := zerolog.Ctx(ctx).With().Str("host", cfg.Host).Int("port", cfg.Port).Logger()

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)
	dialCfg := amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: props,
	}

	attempt := 0
	operation := func() (*amqp.Connection, error) {
		attempt++
		conn, err := amqp.DialConfig(cfg.URL(), dialCfg)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("broker not reachable")
			return nil, err
		}
		return conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(cfg.dialTries()))
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq at %s: %w", cfg.Host, err)
	}
	logger.Info().Int("attempts", attempt).Msg("connected to RabbitMQ")

	go func() {
		<-ctx.Done()
		if conn.IsClosed() {
			return
		}
		if err := conn.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
			return
		}
		logger.Info().Msg("RabbitMQ connection closed")
	}()

	return conn, nil
}
