//go:build integration

package eventstream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ragline/plugin"
	"github.com/c360studio/ragline/slo"
)

func TestPublisherRoundTrip(t *testing.T) {
	pub, err := ConnectEmbedded("ragline", nil)
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pub.EnsureStream(ctx))

	stream, err := pub.js.Stream(ctx, StreamName)
	require.NoError(t, err)
	consumer, err := stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	require.NoError(t, err)

	require.NoError(t, pub.PublishAudit(ctx, plugin.AuditRecord{
		Action:     "register",
		PluginName: "openai",
		Verified:   true,
	}))
	require.NoError(t, pub.PublishAlert(ctx, slo.Alert{
		SLO:        "availability",
		CurrentSLI: 0.5,
		Threshold:  0.9,
	}))

	msgs, err := consumer.Fetch(2, jetstream.FetchMaxWait(5*time.Second))
	require.NoError(t, err)

	var subjects []string
	for msg := range msgs.Messages() {
		subjects = append(subjects, msg.Subject())
		require.NoError(t, msg.Ack())
	}
	assert.Contains(t, subjects, "ragline.audit.plugin")
	assert.Contains(t, subjects, "ragline.slo.alert.availability")
}

func TestAlertHandlerPublishes(t *testing.T) {
	pub, err := ConnectEmbedded("ragline", nil)
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pub.EnsureStream(ctx))

	monitor := slo.NewMonitor()
	require.NoError(t, monitor.DefineSLO(slo.Definition{
		Name:           "api",
		Target:         0.9,
		Window:         time.Minute,
		AlertThreshold: 0.8,
	}))
	monitor.OnAlert(pub.AlertHandler())

	_, err = monitor.RecordMeasurement("api", false, nil)
	require.NoError(t, err)

	stream, err := pub.js.Stream(ctx, StreamName)
	require.NoError(t, err)
	consumer, err := stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: "ragline.slo.alert.api",
	})
	require.NoError(t, err)

	msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
	require.NoError(t, err)
	for msg := range msgs.Messages() {
		var alert slo.Alert
		require.NoError(t, json.Unmarshal(msg.Data(), &alert))
		assert.Equal(t, "api", alert.SLO)
		require.NoError(t, msg.Ack())
	}
}
