package publish

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err      error
	complete bool
}

func (t *fakeToken) Wait() bool                     { return t.complete }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.complete }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.complete {
		close(ch)
	}
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	sent         []published
	token        *fakeToken
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func withFakeClient(t *testing.T, fc *fakeClient) {
	t.Helper()
	prev := newClient
	newClient = func(*mqtt.ClientOptions) (client, error) { return fc, nil }
	t.Cleanup(func() { newClient = prev })
}

func TestPublish(t *testing.T) {
	fc := &fakeClient{token: &fakeToken{complete: true}}
	withFakeClient(t, fc)

	p, err := New(Config{Broker: "tcp://localhost:1883", ClientID: "test", Topic: "lr1110/results/", QoS: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Publish("wifi", map[string]any{"mac": "aa:bb:cc:dd:ee:ff", "rssi": -70}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(fc.sent) != 1 {
		t.Fatalf("sent=%d want 1", len(fc.sent))
	}
	msg := fc.sent[0]
	if msg.topic != "lr1110/results/wifi" || msg.qos != 1 {
		t.Fatalf("topic=%q qos=%d", msg.topic, msg.qos)
	}
	var got map[string]any
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got["mac"] != "aa:bb:cc:dd:ee:ff" || got["rssi"] != float64(-70) {
		t.Fatalf("payload=%v", got)
	}

	if err := p.Close(); err != nil || !fc.disconnected {
		t.Fatalf("Close: err=%v disconnected=%v", err, fc.disconnected)
	}
}

func TestPublishErrors(t *testing.T) {
	fc := &fakeClient{token: &fakeToken{complete: false}}
	withFakeClient(t, fc)
	p, err := New(Config{Broker: "tcp://localhost:1883", Topic: "t"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Publish("gnss", struct{}{}); err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err=%v want timeout", err)
	}

	fc.token = &fakeToken{complete: true, err: errors.New("not connected")}
	if err := p.Publish("gnss", struct{}{}); err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("err=%v want broker error", err)
	}
}

func TestNewRequiresBroker(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("New without broker succeeded")
	}
}
