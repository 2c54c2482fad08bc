package broker

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/nsqio/go-nsq"
)

// Tests the brokerless communication functionality through a client.
func TestClientPubSub(t *testing.T) {
	log.Root().SetHandler(log.LvlFilterHandler(log.LvlInfo, log.StreamHandler(os.Stderr, log.TerminalFormat(true))))

	// Create a broker to simulate the topology engine
	broker, err := New(&Config{
		Name:     "test-broker",
		Datadir:  t.TempDir(),
		Secret:   "secret test seed",
		Listener: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0},
		Logger:   log.New("host", "broker"),
	})
	if err != nil {
		t.Fatalf("Failed to start discovery broker: %v", err)
	}
	defer broker.Close()

	// Create a client to simulate a discovery agent
	client := NewClient("secret test seed", log.New("host", "client"))

	// Create a consumer with both broker and client to cross-check each other
	clientSub, err := client.NewConsumer("client-topic", "client")
	if err != nil {
		t.Fatalf("Failed to create client consumer: %v", err)
	}
	defer clientSub.Stop()

	brokerSub, err := broker.NewConsumer("broker-topic")
	if err != nil {
		t.Fatalf("Failed to create broker consumer: %v", err)
	}
	defer brokerSub.Stop()

	clientMailbox := make(chan string, 1)
	clientSub.AddHandler(nsq.HandlerFunc(func(message *nsq.Message) error {
		clientMailbox <- string(message.Body)
		return nil
	}))
	brokerMailbox := make(chan string, 1)
	brokerSub.AddHandler(nsq.HandlerFunc(func(message *nsq.Message) error {
		brokerMailbox <- string(message.Body)
		return nil
	}))

	if err := clientSub.ConnectToNSQD(broker.Addr()); err != nil {
		t.Fatalf("Failed to connect client consumer to broker: %v", err)
	}
	if err := brokerSub.ConnectToNSQD(broker.Addr()); err != nil {
		t.Fatalf("Failed to connect broker consumer to broker: %v", err)
	}
	// Create a producer with both broker and client to cross-check each other
	clientPub, err := client.NewProducer(broker.Addr())
	if err != nil {
		t.Fatalf("Failed to create client producer: %v", err)
	}
	defer clientPub.Stop()

	brokerPub, err := broker.NewProducer(broker.Addr())
	if err != nil {
		t.Fatalf("Failed to create broker producer: %v", err)
	}
	defer brokerPub.Stop()

	// Cross-send messages and verify that the consumers get them
	testPublishConsume(t, clientPub, "client-topic", "client->client", clientMailbox)
	testPublishConsume(t, brokerPub, "broker-topic", "broker->broker", brokerMailbox)
	testPublishConsume(t, clientPub, "broker-topic", "client->broker", brokerMailbox)
	testPublishConsume(t, brokerPub, "client-topic", "broker->client", clientMailbox)
}

// Tests that a client with the wrong secret is refused by the broker.
func TestClientWrongSecret(t *testing.T) {
	broker, err := New(&Config{
		Name:    "test-broker",
		Datadir: t.TempDir(),
		Secret:  "secret test seed",
		Logger:  log.New("host", "broker"),
	})
	if err != nil {
		t.Fatalf("Failed to start discovery broker: %v", err)
	}
	defer broker.Close()

	client := NewClient("wrong test seed", log.New("host", "client"))

	producer, err := client.NewProducer(broker.Addr())
	if err != nil {
		t.Fatalf("Failed to create client producer: %v", err)
	}
	defer producer.Stop()

	if err := producer.Publish("client-topic", []byte("forged")); err == nil {
		t.Fatalf("unauthenticated client managed to publish")
	}
}

// testPublishConsume is a helper to publish a message into a topic via a producer
// and ensure a consumer receives it and streams it into the given sink channel.
func testPublishConsume(t *testing.T, pub *nsq.Producer, topic string, message string, sub chan string) {
	t.Helper()

	if err := pub.Publish(topic, []byte(message)); err != nil {
		t.Errorf("Failed to publish %s: %v", message, err)
		return
	}
	select {
	case received := <-sub:
		if received != message {
			t.Errorf("Consumed message mismatch: have %s, want %s", received, message)
		}
	case <-time.After(time.Second):
		t.Errorf("Timed out waiting for %s", message)
	}
}
