// Package zabbix is a minimal JSON-RPC 2.0 client for the Zabbix API,
// covering only the calls the poller needs: user.login, trigger.get
// and user.logout.
package zabbix

import (
	"fmt"
	"strings"
)

// Host is a host association carried on a trigger.
type Host struct {
	Name string `json:"name"`
}

// Event is the lastEvent object attached to a trigger when the fetch
// requests selectLastEvent. Zabbix resolves opdata macros at the event
// level first, so this opdata is preferred over the trigger's own.
type Event struct {
	Opdata       string `json:"opdata"`
	Acknowledged string `json:"acknowledged"`
}

// Trigger is one active problem as returned by trigger.get. Numeric
// fields arrive as strings on the wire; interpretation of absent or
// partial fields is left to the normalizer.
type Trigger struct {
	TriggerID   string `json:"triggerid"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Opdata      string `json:"opdata"`
	Lastchange  string `json:"lastchange"`
	Hosts       []Host `json:"hosts"`
	LastEvent   *Event `json:"lastEvent"`
}

// AuthError reports a rejected login or an unreachable endpoint.
type AuthError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("zabbix auth against %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("zabbix auth against %s: %s", e.Endpoint, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError reports a failed data retrieval after a successful login.
type FetchError struct {
	Method string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("zabbix %s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("zabbix %s: %s", e.Method, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EndpointURL normalizes an operator-supplied Zabbix URL to the JSON-RPC
// endpoint path expected by the server.
func EndpointURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasSuffix(raw, "/api_jsonrpc.php") {
		return raw
	}
	return strings.TrimRight(raw, "/") + "/api_jsonrpc.php"
}
