package mqtt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	paho.Client
	connected bool
	token     *fakeToken
	topic     string
	retained  bool
	payload   []byte
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.topic = topic
	c.retained = retained
	c.payload = payload.([]byte)
	return c.token
}

func TestPushPublishesFrame(t *testing.T) {
	client := &fakeClient{connected: true, token: newToken(nil, true)}
	d := NewDriver(client, "kitchen", zerolog.Nop())

	err := d.Push(context.Background(), model.ImageArtifact{ID: "img-1", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}})
	require.NoError(t, err)
	assert.Equal(t, "display/kitchen/frame", client.topic)
	assert.True(t, client.retained)

	var frame Frame
	require.NoError(t, json.Unmarshal(client.payload, &frame))
	assert.Equal(t, "img-1", frame.ImageID)
	data, err := base64.StdEncoding.DecodeString(frame.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}

func TestPushErrors(t *testing.T) {
	d := NewDriver(&fakeClient{connected: false}, "kitchen", zerolog.Nop())
	assert.ErrorIs(t, d.Push(context.Background(), model.ImageArtifact{ID: "x"}), ErrNotConnected)

	d = NewDriver(&fakeClient{connected: true, token: newToken(errors.New("broker said no"), true)}, "kitchen", zerolog.Nop())
	assert.ErrorIs(t, d.Push(context.Background(), model.ImageArtifact{ID: "x"}), ErrPublishFailed)

	d = NewDriver(&fakeClient{connected: true, token: newToken(nil, false)}, "kitchen", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Push(ctx, model.ImageArtifact{ID: "x"})
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectLiveBroker(t *testing.T) {
	broker := os.Getenv("MQTT_BROKER_URL")
	if broker == "" {
		t.Skip("MQTT broker not available, skipping test")
	}
	d, err := Connect(Options{BrokerURL: broker, ClientID: "inkframe-test", DeviceID: "test"}, zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	err = d.Push(context.Background(), model.ImageArtifact{ID: "img-test", ContentType: "image/png", Data: []byte("frame")})
	assert.NoError(t, err)
}
