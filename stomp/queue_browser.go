package stomp

import "time"

// ActiveMQ queue browsing headers.
const (
	HeaderBrowser   = "browser"
	browserEndValue = "end"
)

// QueueBrowser reads the messages currently on an ActiveMQ queue without
// consuming them. The broker ends the browse with a MESSAGE carrying
// browser:end.
type QueueBrowser struct {
	session    *Session
	queue      string
	selector   string
	id         string
	reachedEnd bool
}

// NewQueueBrowser starts browsing queue. It fails with
// UnsupportedBrokerError unless the session speaks the ActiveMQ dialect.
func NewQueueBrowser(session *Session, queue string, selector string) (*QueueBrowser, error) {
	if _, activeMq := session.Protocol().Dialect().(*ActiveMq); !activeMq {
		return nil, NewError(UnsupportedBrokerError, "queue browsing requires ActiveMQ, session uses "+session.Protocol().Dialect().Name())
	}

	id, err := session.Subscribe(queue, SubscribeOptions{
		Selector: selector,
		Header:   NewHeader(HeaderBrowser, "true"),
	})
	if err != nil {
		return nil, err
	}
	return &QueueBrowser{session: session, queue: queue, selector: selector, id: id}, nil
}

// ID returns the browsing subscription id.
func (browser *QueueBrowser) ID() string { return browser.id }

// HasReachedEnd reports whether the end marker arrived.
func (browser *QueueBrowser) HasReachedEnd() bool { return browser.reachedEnd }

// Read returns the next browsed message, or (nil, nil) on timeout and after
// the end marker. Reaching the end unsubscribes.
func (browser *QueueBrowser) Read(timeout time.Duration) (*Frame, error) {
	if browser.reachedEnd {
		return nil, nil
	}
	frame, err := browser.session.Read(timeout)
	if err != nil || frame == nil {
		return frame, err
	}
	if value, _ := frame.Get(HeaderBrowser); value == browserEndValue {
		if subscription, _ := frame.Subscription(); subscription == "" || subscription == browser.id {
			browser.reachedEnd = true
			return nil, browser.session.Unsubscribe(browser.id)
		}
	}
	return frame, nil
}

// Close stops browsing before the end marker.
func (browser *QueueBrowser) Close() error {
	if browser.reachedEnd {
		return nil
	}
	browser.reachedEnd = true
	return browser.session.Unsubscribe(browser.id)
}
