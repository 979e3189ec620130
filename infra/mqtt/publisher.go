package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/gridsteer/kecc/core/charger"
	"github.com/gridsteer/kecc/core/coordinator"
	"github.com/gridsteer/kecc/infra/logger"
)

// DefaultTopicPrefix roots all published topics when none is configured.
const DefaultTopicPrefix = "kecc"

// Publisher pushes retained state messages to the broker. Snapshots go to
// <prefix>/charger/<ip>/state, balancer status to <prefix>/balancer/status.
type Publisher struct {
	cli        pahoClient
	prefix     string
	qos        map[string]byte
	log        logger.Logger
	maxRetries int
	backoff    time.Duration
}

// NewPublisher connects to the MQTT broker.
func NewPublisher(cfg Config) (*Publisher, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_publisher")
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	p := &Publisher{
		prefix:     prefix,
		qos:        cfg.QoS,
		log:        log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	p.cli = c
	return p, nil
}

// PublishSnapshot publishes one charger snapshot, retained.
func (p *Publisher) PublishSnapshot(snap charger.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/charger/%s/state", p.prefix, snap.IP)
	return p.publish(topic, "state", payload)
}

// PublishStatus publishes the balancer cycle status, retained.
func (p *Publisher) PublishStatus(st coordinator.Status) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return p.publish(p.prefix+"/balancer/status", "status", payload)
}

func (p *Publisher) publish(topic, qosKey string, payload []byte) error {
	qos := byte(0)
	if q, ok := p.qos[qosKey]; ok {
		qos = q
	}
	retries := p.maxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := p.backoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	var publishErr error
	for attempt := 0; attempt <= retries; attempt++ {
		token := p.cli.Publish(topic, qos, true, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		p.log.Errorf("publish %s attempt %d failed: %v", topic, attempt+1, publishErr)
		time.Sleep(backoff * time.Duration(1<<attempt))
	}
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (p *Publisher) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}

var _ coordinator.StatusPublisher = (*Publisher)(nil)
