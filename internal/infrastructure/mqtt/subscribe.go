package mqtt

import (
	"context"
	"errors"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subscribeAll subscribes every configured filter on cli. Filters are
// registered with a nil callback so paho routes all messages to the
// default publish handler.
//
// The first failure aborts the cycle; the caller drops the session and
// retries on the next reconnect.
func (c *Client) subscribeAll(ctx context.Context, cli pahomqtt.Client) error {
	qos := byte(c.cfg.QoS)

	for _, topic := range c.topics {
		c.metrics.SubscriptionAttempt(topic)

		tok := cli.Subscribe(topic, qos, nil)
		err := waitToken(ctx, tok, defaultSubscribeTimeout)
		if err == nil && refused(tok, topic) {
			err = errRefused
		}
		if err != nil {
			c.metrics.SubscriptionFailure(topic)
			c.getLogger().Warn("mqtt subscribe failed", "topic", topic, "error", err)
			return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
		}

		c.mu.Lock()
		c.subscribed = append(c.subscribed, topic)
		n := len(c.subscribed)
		c.mu.Unlock()
		c.metrics.SubscriptionsActive(n)
	}
	return nil
}

var errRefused = errors.New("broker refused filter")

// refused reports whether the SUBACK carried the failure return code.
func refused(tok pahomqtt.Token, topic string) bool {
	st, ok := tok.(*pahomqtt.SubscribeToken)
	if !ok {
		return false
	}
	return st.Result()[topic] == subackFailure
}
