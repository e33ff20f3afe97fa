// Package mqtt pushes frames to the e-ink panel's controller over MQTT.
package mqtt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
)

const (
	maxPayloadSize  = 4 << 20
	connectTimeout  = 10 * time.Second
	disconnectQuiet = 250
)

type Options struct {
	BrokerURL string
	ClientID  string
	DeviceID  string
	Username  string
	Password  string
}

// Frame is the message the panel controller receives.
type Frame struct {
	ImageID     string    `json:"image_id"`
	ContentType string    `json:"content_type"`
	Data        string    `json:"data"`
	IsError     bool      `json:"is_error"`
	SentAt      time.Time `json:"sent_at"`
}

// Driver implements display.Driver by publishing one retained message per frame.
type Driver struct {
	client paho.Client
	topic  string
	logger zerolog.Logger
}

// FrameTopic is the topic a device's controller subscribes to.
func FrameTopic(deviceID string) string {
	return fmt.Sprintf("display/%s/frame", deviceID)
}

// Connect dials the broker and returns a ready driver.
func Connect(opts Options, logger zerolog.Logger) (*Driver, error) {
	logger = logger.With().Str("component", "mqtt").Logger()

	co := paho.NewClientOptions()
	co.AddBroker(opts.BrokerURL)
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(connectTimeout)
	co.OnConnect = func(paho.Client) {
		logger.Info().Str("broker", opts.BrokerURL).Msg("connected to MQTT broker")
	}
	co.OnConnectionLost = func(_ paho.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	}

	client := paho.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %s", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return NewDriver(client, opts.DeviceID, logger), nil
}

// NewDriver wraps an existing client.
func NewDriver(client paho.Client, deviceID string, logger zerolog.Logger) *Driver {
	return &Driver{client: client, topic: FrameTopic(deviceID), logger: logger}
}

// Push publishes artifact with QoS 1 and waits for the broker's ack or ctx.
func (d *Driver) Push(ctx context.Context, artifact model.ImageArtifact) error {
	if !d.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(Frame{
		ImageID:     artifact.ID,
		ContentType: artifact.ContentType,
		Data:        base64.StdEncoding.EncodeToString(artifact.Data),
		IsError:     artifact.IsError,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: encode frame: %w", ErrPublishFailed, err)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	token := d.client.Publish(d.topic, 1, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	d.logger.Debug().Str("topic", d.topic).Str("image_id", artifact.ID).Int("bytes", len(payload)).Msg("frame published")
	return nil
}

func (d *Driver) Close() {
	d.client.Disconnect(disconnectQuiet)
}
