package broker

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/nsqio/go-nsq"
)

// Client is an interface through which discovery events can be published into
// (or consumed from) a remote broker, without running a broker locally. The
// primary use case is for discovery agents and operational tooling to feed the
// topology engine.
type Client struct {
	tlsCert []byte // Certificate to use for authenticating to the broker
	tlsKey  []byte // Private key to use for encrypting traffic with the broker

	logger log.Logger // Logger to allow differentiating clients if many is embedded
}

// NewClient creates a communication interface without a local broker attached.
func NewClient(secret string, logger log.Logger) *Client {
	cert, key := makeTLSCert(secret)
	if logger == nil {
		logger = log.New()
	}
	return &Client{
		tlsCert: cert,
		tlsKey:  key,
		logger:  logger,
	}
}

// NewProducer creates a new producer connected to the specified remote NSQD
// daemon instance.
func (c *Client) NewProducer(addr string) (*nsq.Producer, error) {
	return newProducer(addr, c.tlsCert, c.tlsKey, c.logger)
}

// NewConsumer creates a new consumer configured to authenticate into the broker
// and to listen for specific events on a named channel.
func (c *Client) NewConsumer(topic string, channel string) (*nsq.Consumer, error) {
	return newConsumer(topic, channel, c.tlsCert, c.tlsKey, c.logger)
}
