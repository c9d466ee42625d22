package mqttclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/compare"
	"github.com/snarg/stt-compare/internal/transcribe"
)

const publishTimeout = 5 * time.Second

type MessageHandler func(topic string, payload []byte)

// Client publishes comparison summaries and optionally listens for
// comparison requests.
type Client struct {
	conn         mqtt.Client
	topic        string
	requestTopic string
	connected    atomic.Bool
	log          zerolog.Logger
	handler      atomic.Pointer[MessageHandler]
}

type Options struct {
	BrokerURL    string
	ClientID     string
	Topic        string // summaries go to <Topic>/<result key>
	RequestTopic string // optional; subscribed on connect
	Username     string
	Password     string
	Log          zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		topic:        strings.TrimRight(opts.Topic, "/"),
		requestTopic: opts.RequestTopic,
		log:          opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

// SetMessageHandler sets the callback for messages on the request topic.
// Messages that arrive before it is set are logged and dropped.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.handler.Store(&h)
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	if c.requestTopic == "" {
		c.log.Info().Str("topic", c.topic).Msg("mqtt connected")
		return
	}
	c.log.Info().Str("topic", c.topic).Str("request_topic", c.requestTopic).Msg("mqtt connected, subscribing")
	token := client.Subscribe(c.requestTopic, 1, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if h := c.handler.Load(); h != nil {
		(*h)(msg.Topic(), msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message received")
}

// PublishResult sends a compact summary of r to <topic>/<key>.
func (c *Client) PublishResult(r *compare.ComparisonResult) error {
	payload, err := json.Marshal(NewSummary(r))
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	topic := c.topic + "/" + r.Key()
	token := c.conn.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timed out after %s", topic, publishTimeout)
	}
	return token.Error()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// Summary is the MQTT payload for one finished comparison. Transcripts are
// left out; consumers fetch the full result over the API.
type Summary struct {
	RunID     string            `json:"run_id"`
	Key       string            `json:"key"`
	FileName  string            `json:"file_name"`
	Timestamp time.Time         `json:"timestamp"`
	Succeeded int               `json:"succeeded"`
	Providers []ProviderSummary `json:"providers"`
}

type ProviderSummary struct {
	Provider       transcribe.ProviderID `json:"provider"`
	Success        bool                  `json:"success"`
	ProcessingTime float64               `json:"processing_time,omitempty"`
	Confidence     float64               `json:"confidence,omitempty"`
	Error          string                `json:"error,omitempty"`
}

// NewSummary builds the summary for r with providers in display order.
func NewSummary(r *compare.ComparisonResult) Summary {
	s := Summary{
		RunID:     r.RunID,
		Key:       r.Key(),
		FileName:  r.AudioName,
		Timestamp: r.Timestamp,
		Succeeded: r.SuccessCount(),
	}
	for _, o := range r.Ordered(nil) {
		ps := ProviderSummary{Provider: o.Provider, Success: o.Succeeded, Error: o.Error}
		if o.Succeeded {
			ps.ProcessingTime = o.ProcessingTime
			ps.Confidence = o.Confidence
		}
		s.Providers = append(s.Providers, ps)
	}
	return s
}

// Request is the payload accepted on the request topic. Path is relative to
// the audio directory.
type Request struct {
	Path string `json:"path"`
}

// ParseRequest decodes a request payload. A bare, non-JSON payload is
// taken as the path itself.
func ParseRequest(payload []byte) (Request, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return Request{}, fmt.Errorf("empty request")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Request{Path: trimmed}, nil
	}
	var req Request
	if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if req.Path == "" {
		return Request{}, fmt.Errorf("request has no path")
	}
	return req, nil
}
