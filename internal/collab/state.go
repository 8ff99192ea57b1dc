package collab

import (
	"fmt"
	"net/url"
	"strings"
)

// State is the session's connection state.
type State uint8

const (
	// Disconnected means no channel is open. Local editing continues and
	// a background retry may be running.
	Disconnected State = iota

	// Connecting means a connect request is waiting for its snapshot.
	Connecting

	// Connected means the channel is open and batches flow.
	Connected

	// Closed is terminal for the current connect request: entered on an
	// explicit disconnect or an authentication failure.
	Closed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Credentials identify the document to join. Token is opaque.
type Credentials struct {
	Endpoint       string
	Token          string
	OrganizationID string
	DocumentID     string
}

// Validate checks that every identifying field is set.
func (c Credentials) Validate() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.OrganizationID == "" {
		missing = append(missing, "organization id")
	}
	if c.DocumentID == "" {
		missing = append(missing, "document id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// URL returns the websocket URL of the document.
func (c Credentials) URL() (string, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: endpoint: %v", ErrInvalidCredentials, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidCredentials, u.Scheme)
	}
	return u.JoinPath("v1", "orgs", c.OrganizationID, "documents", c.DocumentID, "ws").String(), nil
}
