package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/policy-query-engine/internal/infrastructure/resilience"
)

var connectionErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
}

func classifyNATSError(err error) resilience.ErrorClassification {
	for _, target := range connectionErrors {
		if errors.Is(err, target) {
			return resilience.Transient
		}
	}
	return resilience.ClassifyCommon(err)
}
