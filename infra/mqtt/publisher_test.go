package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfallas/mpcdispatch/core/model"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeClient struct {
	mu         sync.Mutex
	published  map[string][][]byte
	failures   int // fail this many publishes before succeeding
	connected  bool
	connectErr error
}

func (f *fakeClient) IsConnected() bool { return f.connected }

func (f *fakeClient) Connect() paho.Token {
	f.connected = f.connectErr == nil
	return &fakeToken{err: f.connectErr}
}

func (f *fakeClient) Disconnect(uint) { f.connected = false }

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return &fakeToken{err: errors.New("broker unavailable")}
	}
	if f.published == nil {
		f.published = map[string][][]byte{}
	}
	f.published[topic] = append(f.published[topic], payload.([]byte))
	return &fakeToken{}
}

func newTestPublisher(t *testing.T, cli *fakeClient) *Publisher {
	t.Helper()
	orig := newMQTTClient
	newMQTTClient = func(*paho.ClientOptions) pahoClient { return cli }
	t.Cleanup(func() { newMQTTClient = orig })

	p, err := NewPublisher(Config{Broker: "tcp://fake:1883", BackoffMS: 1})
	require.NoError(t, err)
	return p
}

func TestPublishCommand(t *testing.T) {
	cli := &fakeClient{}
	p := newTestPublisher(t, cli)

	cmd := model.DispatchCommand{ID: "c1", BatteryPowerKW: -20, StatusText: "optimal"}
	require.NoError(t, p.PublishCommand(cmd))

	msgs := cli.published["mpc/command"]
	require.Len(t, msgs, 1)
	var got model.DispatchCommand
	require.NoError(t, json.Unmarshal(msgs[0], &got))
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, -20.0, got.BatteryPowerKW)
}

func TestPublishSchedule(t *testing.T) {
	cli := &fakeClient{}
	p := newTestPublisher(t, cli)

	require.NoError(t, p.PublishSchedule(model.Schedule{HorizonHours: 24}))
	require.Len(t, cli.published["mpc/schedule"], 1)
}

func TestPublishRetries(t *testing.T) {
	cli := &fakeClient{failures: 2}
	p := newTestPublisher(t, cli)

	require.NoError(t, p.PublishCommand(model.DispatchCommand{ID: "c2"}))
	assert.Len(t, cli.published["mpc/command"], 1, "succeeds after transient failures")
}

func TestPublishExhaustsRetries(t *testing.T) {
	cli := &fakeClient{failures: 100}
	p := newTestPublisher(t, cli)

	err := p.PublishCommand(model.DispatchCommand{ID: "c3"})
	assert.Error(t, err)
}

func TestConnectError(t *testing.T) {
	orig := newMQTTClient
	newMQTTClient = func(*paho.ClientOptions) pahoClient {
		return &fakeClient{connectErr: errors.New("refused")}
	}
	t.Cleanup(func() { newMQTTClient = orig })

	_, err := NewPublisher(Config{Broker: "tcp://fake:1883"})
	assert.Error(t, err)
}

func TestTLSConfigRequiresPaths(t *testing.T) {
	_, err := Config{UseTLS: true}.LoadTLSConfig()
	assert.Error(t, err)
}

func TestDisconnect(t *testing.T) {
	cli := &fakeClient{}
	p := newTestPublisher(t, cli)
	p.Disconnect()
	assert.False(t, cli.connected)
}
