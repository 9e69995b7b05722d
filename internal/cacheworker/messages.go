package cacheworker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"moneymind/internal/logging"
)

// SyncTag is the only background-sync tag the worker acts on.
const SyncTag = "background-sync"

// Message types understood by PostMessage.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
)

// Message is a control message sent to the worker.
type Message struct {
	Type string `json:"type"`
}

// Reply answers GET_VERSION.
type Reply struct {
	Version string `json:"version"`
}

// SyncHook performs the data sync requested by a background-sync event.
type SyncHook func(ctx context.Context) error

// NewHTTPSyncHook returns a hook that POSTs to target and treats any 2xx
// answer as success.
func NewHTTPSyncHook(target string, client *http.Client) SyncHook {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(nil))
		if err != nil {
			return fmt.Errorf("build sync request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("sync request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("sync hook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
}

// Sync handles a background-sync event. It reports whether the tag was
// recognised.
func (w *Worker) Sync(ctx context.Context, tag string) (bool, error) {
	if tag != SyncTag {
		w.logger.Debug("sync tag ignored", logging.String("tag", tag))
		return false, nil
	}
	w.logger.Info("running background sync", logging.String(logging.FieldEventType, "worker_sync"))
	if w.syncHook == nil {
		return true, nil
	}
	if err := w.syncHook(ctx); err != nil {
		logging.WarnWithContext(w.logger, "background sync failed", "worker_sync_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the daemon API is reachable"),
		)
		return true, err
	}
	return true, nil
}

// PostMessage handles a control message. GET_VERSION answers on reply, which
// must not be nil for that message. Unknown types are ignored.
func (w *Worker) PostMessage(ctx context.Context, msg Message, reply chan<- Reply) error {
	switch msg.Type {
	case MessageSkipWaiting:
		if w.State() != StateInstalled {
			return nil
		}
		return w.Activate(ctx)
	case MessageGetVersion:
		if reply == nil {
			return errors.New("GET_VERSION requires a reply channel")
		}
		select {
		case reply <- Reply{Version: w.version}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		w.logger.Debug("message ignored", logging.String("type", msg.Type))
		return nil
	}
}
