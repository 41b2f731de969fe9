// Package telemetry mirrors the bridge's bus topics to an MQTT broker and
// feeds config and control requests from the broker back into the bus.
//
//	bus bridge/state, bridge/stats, bridge/ctl/reply  ->  <prefix>bridge/...
//	<prefix>config/bridge                             ->  bus config/bridge (retained)
//	<prefix>bridge/ctl                                ->  bus bridge/ctl
package telemetry

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"strings"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"vcpbridge-go/bus"
)

// AppID salts the machine ID used as default MQTT client ID.
const AppID = "vcpbridge"

// Client is the part of paho.Client the mirror uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var (
	topicBridge    = bus.T("bridge", bus.MultiWild)
	topicCtl       = bus.T("bridge", "ctl")
	topicCtlReply  = bus.T("bridge", "ctl", "reply")
	topicCfgBridge = bus.T("config", "bridge")
)

// ClientID returns a stable per-machine client ID that does not expose the
// raw machine ID, falling back to the hostname.
func ClientID() string {
	if id, err := machineid.ProtectedID(AppID); err == nil {
		if len(id) > 16 {
			id = id[:16]
		}
		return AppID + "-" + id
	}
	host, _ := os.Hostname()
	return AppID + "-" + host
}

// ClientOptionsFromURL parses mqtt://[user:pass@]host:port/prefix[?client-id=x].
// The path becomes the topic prefix.
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}

	prefix := strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	clientID := u.Query().Get("client-id")
	if clientID == "" {
		clientID = ClientID()
	}
	opts.SetClientID(clientID)
	return opts, prefix, nil
}

// Mirror copies bus traffic to MQTT and back.
type Mirror struct {
	conn   *bus.Connection
	client Client
	prefix string
}

func NewMirror(conn *bus.Connection, client Client, prefix string) *Mirror {
	return &Mirror{conn: conn, client: client, prefix: prefix}
}

// Dial connects to the broker at serverURL and returns a mirror over it with
// the paho client, which the caller disconnects when done.
func Dial(conn *bus.Connection, serverURL string) (*Mirror, paho.Client, error) {
	opts, prefix, err := ClientOptionsFromURL(serverURL)
	if err != nil {
		return nil, nil, err
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		glog.Warningf("mqtt connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		glog.Info("mqtt connected")
	})
	c := paho.NewClient(opts)
	token := c.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, nil, err
	}
	return NewMirror(conn, c, prefix), c, nil
}

// Run mirrors until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	for _, t := range []bus.Topic{topicCfgBridge, topicCtl} {
		mqttTopic := m.prefix + t.Join("/")
		tok := m.client.Subscribe(mqttTopic, 0, func(_ paho.Client, msg paho.Message) {
			m.Inbound(strings.TrimPrefix(msg.Topic(), m.prefix), msg.Payload())
		})
		tok.Wait()
		if err := tok.Error(); err != nil {
			return err
		}
		glog.V(2).Infof("SUB %q", mqttTopic)
	}

	sub := m.conn.Subscribe(topicBridge)
	defer m.conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			m.Outbound(msg)
		}
	}
}

// Outbound publishes one bus message to the broker. Control requests are not
// echoed back, they come from the broker in the first place.
func (m *Mirror) Outbound(msg *bus.Message) {
	if topicEqual(msg.Topic, topicCtl) {
		return
	}
	payload, err := encode(msg.Payload)
	if err != nil {
		glog.Warningf("mirror %s: %v", msg.Topic.Join("/"), err)
		return
	}
	topic := m.prefix + msg.Topic.Join("/")
	glog.V(2).Infof("PUB %q (%d bytes)", topic, len(payload))
	m.client.Publish(topic, 0, msg.Retained, payload)
}

// Inbound injects a broker message (topic without prefix) into the bus.
func (m *Mirror) Inbound(topic string, payload []byte) {
	glog.V(2).Infof("RCV %q", topic)
	p := append([]byte(nil), payload...)
	switch topic {
	case topicCfgBridge.Join("/"):
		m.conn.Publish(m.conn.NewMessage(topicCfgBridge, p, true))
	case topicCtl.Join("/"):
		msg := m.conn.NewMessage(topicCtl, p, false)
		msg.ReplyTo = topicCtlReply
		m.conn.Publish(msg)
	default:
		glog.Warningf("ignoring %q", topic)
	}
}

func encode(p any) ([]byte, error) {
	switch v := p.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

func topicEqual(a, b bus.Topic) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
