package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"git.home.luguber.info/inful/stratus/internal/daemon"
	derrors "git.home.luguber.info/inful/stratus/internal/errors"
)

// daemonClient reaches the local daemon through the port recorded in
// port.lock.
type daemonClient struct {
	base string
	http *http.Client
}

func dialDaemon(dataDir string) (*daemonClient, error) {
	port := daemon.ReadPortLock(dataDir)
	if port == 0 {
		return nil, derrors.State("daemon not running; start it with 'stratus serve'")
	}
	return newClient(fmt.Sprintf("http://127.0.0.1:%d", port)), nil
}

func newClient(base string) *daemonClient {
	return &daemonClient{
		base: base,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *daemonClient) get(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, derrors.Internal(err, "build request")
	}
	return c.do(req)
}

func (c *daemonClient) post(ctx context.Context, path string, body any) (map[string]any, error) {
	data := []byte("{}")
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return nil, derrors.Internal(err, "encode request")
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, derrors.Internal(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *daemonClient) do(req *http.Request) (map[string]any, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CategoryDaemon, derrors.SeverityError, "daemon unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	decoded := map[string]any{}
	decodeErr := json.NewDecoder(resp.Body).Decode(&decoded)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, remoteError(resp.StatusCode, decoded)
	}
	if decodeErr != nil {
		return nil, derrors.Internal(decodeErr, "malformed daemon response")
	}
	return decoded, nil
}

// remoteError rebuilds a typed error from the daemon's error body so the
// exit code matches the category the daemon assigned.
func remoteError(status int, body map[string]any) error {
	message, _ := body["error"].(string)
	if message == "" {
		message = http.StatusText(status)
	}
	if category, ok := body["category"].(string); ok && category != "" {
		return derrors.New(derrors.ErrorCategory(category), derrors.SeverityError, message)
	}

	switch status {
	case http.StatusBadRequest:
		return derrors.Validation(message)
	case http.StatusNotFound:
		return derrors.New(derrors.CategoryNotFound, derrors.SeverityError, message)
	case http.StatusConflict:
		return derrors.State(message)
	case http.StatusGatewayTimeout:
		return derrors.New(derrors.CategoryTimeout, derrors.SeverityError, message)
	default:
		return derrors.New(derrors.CategoryDaemon, derrors.SeverityError, message)
	}
}

// printJSON renders a daemon response for human or script consumption.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return derrors.Internal(err, "encode output")
	}
	fmt.Println(string(out))
	return nil
}
