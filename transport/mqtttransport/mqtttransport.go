// Package mqtttransport adapts an MQTT broker connection into the Transport
// contract, grounded on aphrodoe-minitrue's internal/mqttclient.Client thin
// wrapper around paho.mqtt.golang: one long-lived mqtt.Client, topics map
// 1:1 onto MQTT topic strings, QoS is fixed at "at least once" since the
// broker's own request/response correlation already tolerates duplicates.
package mqtttransport

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dermesser/brokerrpc/internal/rpclog"
	"github.com/dermesser/brokerrpc/transport"
	"github.com/dermesser/brokerrpc/wire"
)

const qosAtLeastOnce = 1

// Config parameterizes a Transport.
type Config struct {
	BrokerURL  string
	ClientID   string
	Serializer wire.Serializer
}

func (c *Config) setDefaults() {
	if c.Serializer == nil {
		c.Serializer = wire.NewProtobufSerializer()
	}
}

// Transport implements transport.Transport over an MQTT broker.
type Transport struct {
	cfg Config
	raw mqtt.Client
}

func New(cfg Config) *Transport {
	cfg.setDefaults()
	return &Transport{cfg: cfg}
}

func (t *Transport) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.BrokerURL)
	opts.SetClientID(t.cfg.ClientID)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	t.raw = mqtt.NewClient(opts)

	token := t.raw.Connect()
	if token.Wait() && token.Error() != nil {
		rpclog.Log(rpclog.LevelError, "mqtttransport: connect failed:", token.Error().Error())
		return token.Error()
	}
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	if t.raw != nil {
		t.raw.Disconnect(250)
	}
	return nil
}

func (t *Transport) Subscribe(topic transport.Topic, handler transport.Handler) error {
	token := t.raw.Subscribe(topic.String(), qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		pkt, err := t.cfg.Serializer.Deserialize(msg.Payload())
		if err != nil {
			rpclog.Log(rpclog.LevelWarn, "mqtttransport: decode failed on", topic.String(), err.Error())
			return
		}
		handler(pkt)
	})
	token.Wait()
	return token.Error()
}

func (t *Transport) Publish(ctx context.Context, topic transport.Topic, pkt *wire.Packet) error {
	data, err := t.cfg.Serializer.Serialize(pkt)
	if err != nil {
		return err
	}
	token := t.raw.Publish(topic.String(), qosAtLeastOnce, false, data)
	token.Wait()
	return token.Error()
}
