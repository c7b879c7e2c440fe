package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

// Connection constants.
const (
	// defaultAckTimeout bounds waiting for an acknowledgement when the
	// caller's context carries no deadline.
	defaultAckTimeout = 5 * time.Second

	// defaultWriteTimeout bounds a single packet write.
	defaultWriteTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending work on Close.
	defaultDisconnectQuiesce = 250 // milliseconds

	// connectGrace is added to the connect timeout before the watcher gives up
	// on a token paho never completes.
	connectGrace = 2 * time.Second

	// subackFailure is the SUBACK return code for a refused filter.
	subackFailure = 0x80

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// schemes maps accepted URL schemes to the scheme paho is given.
var schemes = map[string]string{
	"mqtt":  "tcp",
	"tcp":   "tcp",
	"mqtts": "ssl",
	"ssl":   "ssl",
	"tls":   "ssl",
	"ws":    "ws",
	"wss":   "wss",
}

// normalizeBrokerURL validates a broker URL and rewrites mqtt:// and
// mqtts:// to the tcp:// and ssl:// forms paho has always understood.
//
// Returns the normalised URL and whether the scheme is TLS-secured.
func normalizeBrokerURL(raw string) (string, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return "", false, invalidURL("empty URL")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, invalidURL("%w", err)
	}

	scheme, ok := schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return "", false, invalidURL("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", false, invalidURL("missing host in %q", raw)
	}

	u.Scheme = scheme
	return u.String(), scheme == "ssl" || scheme == "wss", nil
}

// invalidURL matches both ErrInvalidURL and connection.ErrInvalidURL, so
// callers holding only a manager status can still classify it.
func invalidURL(format string, args ...any) error {
	return fmt.Errorf("%w (%w): "+format, append([]any{ErrInvalidURL, connection.ErrInvalidURL}, args...)...)
}

// buildClientOptions creates paho options for one session.
//
// This configures:
//   - Broker URL and client ID
//   - Authentication credentials (if provided)
//   - Clean session mode
//   - Connect timeout and keepalive from the target
//   - TLS configuration for secure schemes
//
// Auto-reconnect and connect-retry are disabled: the connection manager
// owns the retry schedule and every attempt is a fresh session.
func buildClientOptions(brokerURL string, secure bool, target connection.Target, tlsConfig *tls.Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL)
	opts.SetClientID(target.ClientID)

	if target.Username != "" {
		opts.SetUsername(target.Username)
		opts.SetPassword(target.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)

	connectTimeout := target.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = connection.DefaultConnectTimeout
	}
	keepAlive := target.KeepAlive
	if keepAlive <= 0 {
		keepAlive = connection.DefaultKeepAlive
	}
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWriteTimeout(defaultWriteTimeout)

	if secure {
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tlsMinVersion}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}
