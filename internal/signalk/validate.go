package signalk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// TestConnectionTimeout bounds TestConnection when ctx has no deadline.
const TestConnectionTimeout = 5 * time.Second

// URLError describes why a stream URL was rejected. Reason is suitable for
// showing to the user as-is.
type URLError struct {
	Reason string
}

func (e *URLError) Error() string { return e.Reason }

// ValidateURL checks that raw is a usable ws:// or wss:// URL.
func ValidateURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return &URLError{Reason: "URL cannot be empty"}
	}
	if !strings.HasPrefix(trimmed, "ws://") && !strings.HasPrefix(trimmed, "wss://") {
		return &URLError{Reason: "URL must start with ws:// or wss://"}
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return &URLError{Reason: "Invalid URL format"}
	}
	if u.Hostname() == "" {
		return &URLError{Reason: "URL must include a hostname"}
	}
	return nil
}

// TestResult is the outcome of TestConnection.
type TestResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`

	// Server and SelfID are filled from the hello frame when one arrives.
	Server string `json:"server,omitempty"`
	SelfID string `json:"self_id,omitempty"`
}

// TestConnection opens a throwaway stream to rawURL, waits for the server's
// first frame and closes it again. It never affects a running Client.
//
// The attempt counts as successful once the handshake completes; the hello
// frame only enriches the result.
func TestConnection(ctx context.Context, rawURL string) TestResult {
	if err := ValidateURL(rawURL); err != nil {
		return TestResult{Message: "Connection failed", Error: err.Error()}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, TestConnectionTimeout)
		defer cancel()
	}

	start := time.Now()
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: TestConnectionTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, strings.TrimSpace(rawURL), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return TestResult{
				Message: "Connection timeout",
				Error:   fmt.Sprintf("Failed to connect within %v", TestConnectionTimeout),
				Latency: time.Since(start),
			}
		}
		return TestResult{
			Message: "Connection failed",
			Error:   fmt.Sprintf("Unable to establish WebSocket connection: %v", err),
			Latency: time.Since(start),
		}
	}
	defer conn.Close()

	result := TestResult{
		Success: true,
		Message: "Connection successful",
		Latency: time.Since(start),
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	if _, data, err := conn.ReadMessage(); err == nil {
		if msg, err := Decode(data); err == nil && msg.Hello != nil {
			result.Server = msg.Hello.Name
			result.SelfID = msg.Hello.Self
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return result
}
