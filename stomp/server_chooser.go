package stomp

import "sync"

// Credentials override Config.Login and Config.Passcode for one broker.
type Credentials struct {
	Login    string
	Passcode string
}

// ServerChooser supplies broker URIs to a Reconnector.
type ServerChooser interface {
	CurrentURI() string
	CurrentCredentials() *Credentials
	ReportFailure(err error)
	ReportSuccess()
	Error() string
}

type chooserEndpoint struct {
	uri         string
	credentials *Credentials
}

// DefaultServerChooser chooses servers in round-robin order, moving on after
// each failure.
type DefaultServerChooser struct {
	lock      sync.Mutex
	endpoints []chooserEndpoint
	index     int
	lastError string
}

// NewDefaultServerChooser creates a chooser over uris.
func NewDefaultServerChooser(uris ...string) *DefaultServerChooser {
	chooser := &DefaultServerChooser{
		endpoints: make([]chooserEndpoint, 0, len(uris)),
	}
	for _, uri := range uris {
		chooser.Add(uri)
	}
	return chooser
}

func (chooser *DefaultServerChooser) current() *chooserEndpoint {
	if len(chooser.endpoints) == 0 {
		return nil
	}
	if chooser.index < 0 || chooser.index >= len(chooser.endpoints) {
		chooser.index = 0
	}
	return &chooser.endpoints[chooser.index]
}

// CurrentURI returns the selected URI, empty when the chooser is empty.
func (chooser *DefaultServerChooser) CurrentURI() string {
	if chooser == nil {
		return ""
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	if endpoint := chooser.current(); endpoint != nil {
		return endpoint.uri
	}
	return ""
}

// CurrentCredentials returns the credentials registered with CurrentURI.
func (chooser *DefaultServerChooser) CurrentCredentials() *Credentials {
	if chooser == nil {
		return nil
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	if endpoint := chooser.current(); endpoint != nil {
		return endpoint.credentials
	}
	return nil
}

// ReportFailure records err and advances to the next URI.
func (chooser *DefaultServerChooser) ReportFailure(err error) {
	if chooser == nil {
		return
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	if err != nil {
		chooser.lastError = err.Error()
	}
	if len(chooser.endpoints) > 0 {
		chooser.index = (chooser.index + 1) % len(chooser.endpoints)
	}
}

// ReportSuccess clears the last error.
func (chooser *DefaultServerChooser) ReportSuccess() {
	if chooser == nil {
		return
	}
	chooser.lock.Lock()
	chooser.lastError = ""
	chooser.lock.Unlock()
}

// Error returns the last reported failure.
func (chooser *DefaultServerChooser) Error() string {
	if chooser == nil {
		return ""
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	return chooser.lastError
}

// Add appends uri.
func (chooser *DefaultServerChooser) Add(uri string) *DefaultServerChooser {
	return chooser.AddWithCredentials(uri, nil)
}

// AddWithCredentials appends uri with broker-specific credentials.
func (chooser *DefaultServerChooser) AddWithCredentials(uri string, credentials *Credentials) *DefaultServerChooser {
	if chooser == nil || uri == "" {
		return chooser
	}
	chooser.lock.Lock()
	chooser.endpoints = append(chooser.endpoints, chooserEndpoint{uri: uri, credentials: credentials})
	chooser.lock.Unlock()
	return chooser
}

// Remove drops every entry for uri.
func (chooser *DefaultServerChooser) Remove(uri string) {
	if chooser == nil || uri == "" {
		return
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()

	filtered := make([]chooserEndpoint, 0, len(chooser.endpoints))
	for _, endpoint := range chooser.endpoints {
		if endpoint.uri != uri {
			filtered = append(filtered, endpoint)
		}
	}
	chooser.endpoints = filtered
	if chooser.index >= len(chooser.endpoints) {
		chooser.index = 0
	}
}

// Len returns the number of URIs.
func (chooser *DefaultServerChooser) Len() int {
	if chooser == nil {
		return 0
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	return len(chooser.endpoints)
}
