package stomp

import (
	"testing"

	. "github.com/onsi/gomega"
)

func headerMap(frame *Frame) map[string]string {
	values := make(map[string]string, frame.Header.Len())
	for _, key := range frame.Header.Keys() {
		values[key] = frame.Header.Value(key)
	}
	return values
}

func ackedMessage() *Frame {
	return NewFrame(CommandMessage,
		HeaderDestination, "/queue/a",
		HeaderMessageID, "m-1",
		HeaderSubscription, "s-1",
		HeaderAck, "a-1",
	)
}

func allDialects() []Dialect {
	return []Dialect{&Generic{}, NewActiveMq(), &Apollo{}, NewRabbitMq(), &OpenMq{}}
}

func TestAckHeadersByVersionAndDialect(t *testing.T) {
	g := NewWithT(t)

	expected := map[string]map[string]string{
		Version10: {HeaderMessageID: "m-1"},
		Version11: {HeaderMessageID: "m-1", HeaderSubscription: "s-1"},
		Version12: {HeaderID: "a-1"},
	}

	for _, dialect := range allDialects() {
		for _, version := range SupportedVersions {
			protocol := NewProtocol(version, "client", dialect)

			ack, err := protocol.Ack(ackedMessage(), "")
			g.Expect(err).NotTo(HaveOccurred())
			want := map[string]string{}
			for key, value := range expected[version] {
				want[key] = value
			}
			if dialect.Name() == DialectOpenMq {
				want[HeaderSubscription] = "s-1"
			}
			g.Expect(ack.Command).To(Equal(CommandAck))
			g.Expect(headerMap(ack)).To(Equal(want), "ack for %s %s", dialect.Name(), version)

			nack, err := protocol.Nack(ackedMessage(), "tx-1", nil)
			g.Expect(err).NotTo(HaveOccurred())
			wantNack := map[string]string{HeaderTransaction: "tx-1"}
			for key, value := range expected[version] {
				wantNack[key] = value
			}
			g.Expect(nack.Command).To(Equal(CommandNack))
			g.Expect(headerMap(nack)).To(Equal(wantNack), "nack for %s %s", dialect.Name(), version)
		}
	}
}

func TestAckVersion12FallsBackToMessageID(t *testing.T) {
	g := NewWithT(t)

	message := NewFrame(CommandMessage, HeaderMessageID, "m-2", HeaderSubscription, "s-1")
	ack, err := NewProtocol(Version12, "", nil).Ack(message, "")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(headerMap(ack)).To(Equal(map[string]string{HeaderID: "m-2"}))
}

func TestActiveMqDurableRequiresClientID(t *testing.T) {
	g := NewWithT(t)

	withoutClient := NewProtocol(Version12, "", NewActiveMq())
	_, err := withoutClient.Subscribe(SubscribeRequest{Destination: "/topic/a", ID: "1", Durable: true})
	g.Expect(err).To(MatchError(ErrUnsupportedCapability))
	_, err = withoutClient.Unsubscribe(UnsubscribeRequest{ID: "1", Durable: true})
	g.Expect(err).To(MatchError(ErrUnsupportedCapability))

	withClient := NewProtocol(Version12, "client-1", NewActiveMq())
	subscribe, err := withClient.Subscribe(SubscribeRequest{Destination: "/topic/a", ID: "1", Durable: true})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(headerMap(subscribe)).To(Equal(map[string]string{
		HeaderDestination:           "/topic/a",
		HeaderAck:                   AckAuto,
		HeaderID:                    "1",
		"activemq.prefetchSize":     "1",
		"activemq.subscriptionName": "client-1",
	}))

	unsubscribe, err := withClient.Unsubscribe(UnsubscribeRequest{ID: "1", Durable: true})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(unsubscribe.Header.Value("activemq.subscriptionName")).To(Equal("client-1"))

	plain, err := withClient.Unsubscribe(UnsubscribeRequest{ID: "1"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(plain.Header.Contains("activemq.subscriptionName")).To(BeFalse())
}

func TestActiveMqPrefetchSize(t *testing.T) {
	g := NewWithT(t)

	dialect := NewActiveMq()
	g.Expect(dialect.PrefetchSize()).To(Equal(1))
	dialect.SetPrefetchSize(50)

	subscribe, err := NewProtocol(Version12, "", dialect).Subscribe(SubscribeRequest{Destination: "/queue/a", ID: "1"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(subscribe.Header.Value("activemq.prefetchSize")).To(Equal("50"))
	g.Expect(subscribe.Header.Contains("activemq.subscriptionName")).To(BeFalse())
}

func TestApolloPersistentNeedsClientID(t *testing.T) {
	g := NewWithT(t)

	request := SubscribeRequest{Destination: "/topic/a", ID: "1", Durable: true}

	anonymous, err := NewProtocol(Version12, "", &Apollo{}).Subscribe(request)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(anonymous.Header.Contains("persistent")).To(BeFalse())

	named, err := NewProtocol(Version12, "client-1", &Apollo{}).Subscribe(request)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(named.Header.Value("persistent")).To(Equal("true"))

	unsubscribe, err := NewProtocol(Version12, "client-1", &Apollo{}).Unsubscribe(UnsubscribeRequest{ID: "1", Durable: true})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(unsubscribe.Header.Value("persistent")).To(Equal("true"))
}

func TestApolloRejectsRequeue(t *testing.T) {
	g := NewWithT(t)

	protocol := NewProtocol(Version12, "client-1", &Apollo{})
	for _, transaction := range []string{"", "tx-1"} {
		for _, requeue := range []bool{true, false} {
			_, err := protocol.Nack(ackedMessage(), transaction, Requeue(requeue))
			g.Expect(err).To(MatchError(ErrUnsupportedCapability), "transaction %q requeue %v", transaction, requeue)
		}
	}
}

func TestRabbitMqPrefetchAndRequeue(t *testing.T) {
	g := NewWithT(t)

	dialect := NewRabbitMq()
	protocol := NewProtocol(Version12, "", dialect)

	subscribe, err := protocol.Subscribe(SubscribeRequest{Destination: "/queue/a", ID: "1"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(subscribe.Header.Value("prefetch-count")).To(Equal("1"))

	dialect.SetPrefetchCount(10).SetPrefetchCount(25)
	subscribe, err = protocol.Subscribe(SubscribeRequest{Destination: "/queue/a", ID: "1", Durable: true})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(subscribe.Header.Value("prefetch-count")).To(Equal("25"))
	g.Expect(subscribe.Header.Value("persistent")).To(Equal("true"))

	requeued, err := protocol.Nack(ackedMessage(), "", Requeue(false))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(requeued.Header.Value("requeue")).To(Equal("false"))

	unsubscribe, err := protocol.Unsubscribe(UnsubscribeRequest{ID: "1", Durable: true})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(unsubscribe.Header.Value("persistent")).To(Equal("true"))
}

func TestGenericIgnoresDurableAndRequeue(t *testing.T) {
	g := NewWithT(t)

	protocol := NewProtocol(Version12, "client-1", &Generic{})
	subscribe, err := protocol.Subscribe(SubscribeRequest{Destination: "/topic/a", ID: "1", Durable: true})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(headerMap(subscribe)).To(Equal(map[string]string{
		HeaderDestination: "/topic/a",
		HeaderAck:         AckAuto,
		HeaderID:          "1",
	}))

	nack, err := protocol.Nack(ackedMessage(), "", Requeue(true))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(nack.Header.Contains("requeue")).To(BeFalse())
}

func TestDialectByName(t *testing.T) {
	g := NewWithT(t)

	for _, name := range []string{"", "generic", "ActiveMQ", " apollo ", "rabbitmq", "openmq"} {
		dialect, err := DialectByName(name)
		g.Expect(err).NotTo(HaveOccurred(), "dialect %q", name)
		g.Expect(dialect).NotTo(BeNil())
	}

	_, err := DialectByName("hornetq")
	g.Expect(err).To(MatchError(ErrUnsupportedBroker))
}

func TestDialectFromServer(t *testing.T) {
	g := NewWithT(t)

	cases := map[string]string{
		"ActiveMQ/5.18.3":     DialectActiveMq,
		"apache-apollo/1.7.1": DialectApollo,
		"RabbitMQ/3.12.0":     DialectRabbitMq,
		"OpenMQ/5.1":          DialectOpenMq,
		"stomptest/1.0":       DialectGeneric,
		"":                    DialectGeneric,
	}
	for server, name := range cases {
		connected := NewFrame(CommandConnected)
		if server != "" {
			connected.Set(HeaderServer, server)
		}
		g.Expect(DialectFromServer(connected).Name()).To(Equal(name), "server %q", server)
	}
}
