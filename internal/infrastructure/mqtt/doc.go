// Package mqtt owns the broker session for ziggy.
//
// This package manages:
//   - Connecting to the broker (plain or TLS, optional credentials)
//   - Subscribing the zigbee2mqtt topic set on every new session
//   - Reconnecting with bounded exponential backoff, forever, until shutdown
//   - Reporting state, attempt and failure counts with credentials masked
//
// # Lifecycle
//
// paho's built-in reconnect is disabled. Run is a supervisor loop that owns
// every transition so each one can be counted and published to listeners:
//
//	Disconnected → Connecting → Connected
//	                  ▲             │ lost / subscribe failed
//	                  │             ▼
//	                  └──────── Reconnecting (backoff)
//
// A failed connect goes Connecting → Reconnecting directly. Cancelling the
// context (or calling Close) returns the manager to Disconnected.
//
// # Delivery
//
// All filters are subscribed with a nil callback, so paho hands every
// message to one default publish handler. That handler must not block; the
// ingestion pipeline only enqueues there and counts what it has to drop.
//
// # Authentication Failures
//
// A CONNACK refusing the credentials sets AuthRejected in Status and is
// counted as not_authorized or bad_credentials. The manager keeps retrying
// at the backoff ceiling; the flag clears on the next successful connect.
//
// # Usage
//
//	client, err := mqtt.New(cfg.MQTT, mqtt.Options{
//	    Topics:  router.Subscriptions(),
//	    Handler: pipeline.Enqueue,
//	    Metrics: reg.Ops(),
//	})
//	if err != nil {
//	    return err
//	}
//	go client.Run(ctx)
//	defer client.Close()
package mqtt
