// Package broker runs the embedded NSQ message broker that carries device and link
// discovery events to the topology suppliers.
package broker

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/nsqio/go-nsq"
	"github.com/nsqio/nsq/nsqd"
)

// Config is the set of options to fine tune the message broker.
type Config struct {
	Name     string       // Globally unique name for the broker instance, used as the consumer channel
	Datadir  string       // Data directory to store NSQ related data
	Secret   string       // Shared secret to authenticate discovery publishers with
	Listener *net.TCPAddr // Listener address for NSQ connections (nil = random local port)

	Logger log.Logger // Logger to allow differentiating brokers if many is embedded
}

// Broker is a locally running message broker through which discovery agents
// stream device and link events into the topology engine.
type Broker struct {
	name string // Globally unique name for the broker, used by consumer channels

	tlsCert []byte // Certificate to use for authenticating publishers and consumers
	tlsKey  []byte // Private key to use for encrypting traffic with the broker

	daemon *nsqd.NSQD // Message broker embedded in this process
	logger log.Logger // Logger to allow differentiating brokers if many is embedded
}

// New constructs an NSQ broker and starts accepting connections on it.
func New(config *Config) (*Broker, error) {
	// Make sure the config is valid
	if !nsq.IsValidChannelName(config.Name) {
		return nil, fmt.Errorf("invalid broker name '%s', must be alphanumeric", config.Name)
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New()
	}
	logger.Info("Starting discovery broker", "name", config.Name, "datadir", config.Datadir, "bind", config.Listener)

	// Configure a new NSQ message broker to act as the event bus
	opts := nsqd.NewOptions()
	opts.DataPath = config.Datadir

	if config.Listener != nil {
		opts.TCPAddress = config.Listener.String()
	} else {
		opts.TCPAddress = "127.0.0.1:0"
	}
	opts.HTTPAddress = ""  // Disable the HTTP interface
	opts.HTTPSAddress = "" // Disable the HTTPS interface

	opts.LogLevel = nsqd.LOG_DEBUG    // We'd like to receive all the broker messages
	opts.Logger = &nsqdLogger{logger} // Replace the default stderr logger with ours

	// NSQ only loads TLS material from disk, so dump the derived identity into
	// the data directory and delete it as soon as the daemon loaded it
	cert, key := makeTLSCert(config.Secret)
	if err := os.MkdirAll(config.Datadir, 0700); err != nil {
		return nil, err
	}
	certPath := filepath.Join(config.Datadir, "secret.cert")
	keyPath := filepath.Join(config.Datadir, "secret.key")

	if err := os.WriteFile(certPath, cert, 0600); err != nil {
		return nil, err
	}
	defer os.Remove(certPath)

	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, err
	}
	defer os.Remove(keyPath)

	opts.TLSRootCAFile = certPath
	opts.TLSCert = certPath
	opts.TLSKey = keyPath

	opts.TLSRequired = nsqd.TLSRequired         // Enable TLS encryption for all traffic
	opts.TLSClientAuthPolicy = "require-verify" // Require TLS authentication from all clients
	opts.TLSMinVersion = tls.VersionTLS12

	daemon, err := nsqd.New(opts)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := daemon.Main(); err != nil {
			logger.Error("Discovery broker failed", "err", err)
		}
	}()
	return &Broker{
		name:    config.Name,
		tlsCert: cert,
		tlsKey:  key,
		daemon:  daemon,
		logger:  logger,
	}, nil
}

// Close terminates the NSQ daemon.
func (b *Broker) Close() error {
	b.daemon.Exit()
	return nil
}

// Name returns the globally unique (user assigned) name of the broker.
func (b *Broker) Name() string {
	return b.name
}

// Port returns the local port number the broker is listening on.
func (b *Broker) Port() int {
	return b.daemon.RealTCPAddr().Port
}

// Addr returns the local address the broker is listening on.
func (b *Broker) Addr() string {
	return b.daemon.RealTCPAddr().String()
}

// NewProducer creates a new producer connected to the specified remote (or local)
// NSQD daemon instance.
func (b *Broker) NewProducer(addr string) (*nsq.Producer, error) {
	return newProducer(addr, b.tlsCert, b.tlsKey, b.logger)
}

// NewConsumer creates a new consumer configured to authenticate into the broker
// and to listen for specific events; though the connectivity itself is left for
// the outside caller.
func (b *Broker) NewConsumer(topic string) (*nsq.Consumer, error) {
	return newConsumer(topic, b.name, b.tlsCert, b.tlsKey, b.logger)
}

// newProducer creates an NSQ producer authenticating with the given identity.
func newProducer(addr string, cert, key []byte, logger log.Logger) (*nsq.Producer, error) {
	config := nsq.NewConfig()
	config.Snappy = true
	config.TlsV1 = true
	config.TlsConfig = makeTLSConfig(cert, key)

	producer, err := nsq.NewProducer(addr, config)
	if err != nil {
		return nil, err
	}
	producer.SetLogger(&nsqProducerLogger{logger}, nsq.LogLevelDebug)

	return producer, nil
}

// newConsumer creates an NSQ consumer authenticating with the given identity.
func newConsumer(topic string, channel string, cert, key []byte, logger log.Logger) (*nsq.Consumer, error) {
	config := nsq.NewConfig()
	config.Snappy = true
	config.TlsV1 = true
	config.TlsConfig = makeTLSConfig(cert, key)

	consumer, err := nsq.NewConsumer(topic, channel, config)
	if err != nil {
		return nil, err
	}
	consumer.SetLogger(&nsqConsumerLogger{logger}, nsq.LogLevelDebug)

	return consumer, nil
}
