package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/infrastructure/resilience"
)

// connectionFaults clear once the client reconnects, so a publish that hit
// one is worth repeating. Anything else (bad subject, oversized payload)
// fails the same way every time.
var connectionFaults = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrConnectionReconnecting,
	nats.ErrDisconnected,
}

func publishPolicy(err error) resilience.ErrorClassification {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), isConnectionFault(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

func isConnectionFault(err error) bool {
	for _, fault := range connectionFaults {
		if errors.Is(err, fault) {
			return true
		}
	}
	return false
}

// asTemporary lets the ingest API answer 503 rather than 500 when the
// broker is briefly away.
func asTemporary(subject string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if publishPolicy(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "publish "+subject, err)
	}
	return err
}
