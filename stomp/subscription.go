package stomp

// Subscription describes one active SUBSCRIBE.
type Subscription struct {
	ID          string
	Destination string
	Selector    string
	AckMode     string
	Durable     bool
	Header      *Header
}

func (subscription *Subscription) request() SubscribeRequest {
	return SubscribeRequest{
		Destination: subscription.Destination,
		ID:          subscription.ID,
		AckMode:     subscription.AckMode,
		Selector:    subscription.Selector,
		Durable:     subscription.Durable,
		Header:      subscription.Header,
	}
}

// SubscriptionList tracks subscriptions by id in insertion order.
type SubscriptionList struct {
	order         []string
	subscriptions map[string]*Subscription
}

// NewSubscriptionList returns an empty list.
func NewSubscriptionList() *SubscriptionList {
	return &SubscriptionList{subscriptions: make(map[string]*Subscription)}
}

// Add stores subscription, replacing one with the same id in place.
func (list *SubscriptionList) Add(subscription *Subscription) {
	if list == nil || subscription == nil {
		return
	}
	if _, exists := list.subscriptions[subscription.ID]; !exists {
		list.order = append(list.order, subscription.ID)
	}
	list.subscriptions[subscription.ID] = subscription
}

// Remove deletes the subscription with id and returns it.
func (list *SubscriptionList) Remove(id string) (*Subscription, bool) {
	if list == nil {
		return nil, false
	}
	subscription, exists := list.subscriptions[id]
	if !exists {
		return nil, false
	}
	delete(list.subscriptions, id)
	for index, existing := range list.order {
		if existing == id {
			list.order = append(list.order[:index], list.order[index+1:]...)
			break
		}
	}
	return subscription, true
}

// Get returns the subscription with id.
func (list *SubscriptionList) Get(id string) (*Subscription, bool) {
	if list == nil {
		return nil, false
	}
	subscription, exists := list.subscriptions[id]
	return subscription, exists
}

// Match returns the subscription whose id equals the subscription header of
// frame, or nil.
func (list *SubscriptionList) Match(frame *Frame) *Subscription {
	id, hasID := frame.Subscription()
	if !hasID {
		return nil
	}
	subscription, _ := list.Get(id)
	return subscription
}

// Last returns the most recently added subscription, or nil.
func (list *SubscriptionList) Last() *Subscription {
	if list == nil || len(list.order) == 0 {
		return nil
	}
	return list.subscriptions[list.order[len(list.order)-1]]
}

// Len returns the number of subscriptions.
func (list *SubscriptionList) Len() int {
	if list == nil {
		return 0
	}
	return len(list.order)
}

// All returns the subscriptions in insertion order.
func (list *SubscriptionList) All() []*Subscription {
	if list == nil {
		return nil
	}
	all := make([]*Subscription, 0, len(list.order))
	for _, id := range list.order {
		all = append(all, list.subscriptions[id])
	}
	return all
}
