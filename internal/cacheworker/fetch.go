package cacheworker

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"moneymind/internal/cachestore"
	"moneymind/internal/logging"
)

const (
	cacheHeader       = "X-Moneymind-Cache"
	maxCacheableBytes = 32 << 20
)

// ServeHTTP answers r the way the worker answers a fetch event.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	cache := w.currentCache()
	if w.State() != StateActivated || cache == nil || r.Method != http.MethodGet {
		w.metrics.ObserveCacheFetch("bypass")
		w.proxy(rw, r)
		return
	}

	ctx := r.Context()
	key := r.URL.RequestURI()
	entry, ok, err := cache.Match(ctx, key)
	if err != nil {
		logging.WarnWithContext(w.logger, "cache lookup failed; using network", "worker_cache_lookup_failed",
			logging.String("url", key),
			logging.Error(err),
		)
	}
	if ok {
		w.metrics.ObserveCacheFetch("hit")
		writeEntry(rw, entry, "hit")
		return
	}

	resp, err := w.forward(r)
	if err != nil {
		if isNavigation(r) {
			if root, found, _ := cache.Match(ctx, "/"); found {
				w.metrics.ObserveCacheFetch("fallback")
				w.logger.Info("network unavailable; serving cached root document",
					logging.String(logging.FieldEventType, "worker_offline_fallback"),
					logging.String("url", key),
				)
				writeEntry(rw, root, "fallback")
				return
			}
		}
		w.metrics.ObserveCacheFetch("error")
		logging.WarnWithContext(w.logger, "origin fetch failed", "worker_fetch_failed",
			logging.String("url", key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "request failed with 502"),
		)
		http.Error(rw, "origin unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if !w.cacheable(resp) {
		w.metrics.ObserveCacheFetch("miss")
		copyResponse(rw, resp)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCacheableBytes+1))
	if err != nil {
		w.metrics.ObserveCacheFetch("error")
		http.Error(rw, "origin response interrupted", http.StatusBadGateway)
		return
	}
	if len(body) > maxCacheableBytes {
		w.metrics.ObserveCacheFetch("miss")
		resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), resp.Body))
		copyResponse(rw, resp)
		return
	}

	stored := &cachestore.Entry{
		URL:    key,
		Status: resp.StatusCode,
		Header: storableHeader(resp.Header),
		Body:   body,
	}
	if err := cache.Put(ctx, stored); err != nil {
		logging.WarnWithContext(w.logger, "failed to cache response", "worker_cache_put_failed",
			logging.String("url", key),
			logging.Error(err),
		)
	}
	w.metrics.ObserveCacheFetch("miss")
	writeEntry(rw, stored, "miss")
}

// cacheable reports whether resp is a 200 same-origin response.
func (w *Worker) cacheable(resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	final := resp.Request
	if final == nil || final.URL == nil {
		return false
	}
	return strings.EqualFold(final.URL.Scheme, w.origin.Scheme) && strings.EqualFold(final.URL.Host, w.origin.Host)
}

func (w *Worker) forward(r *http.Request) (*http.Response, error) {
	out, err := http.NewRequestWithContext(r.Context(), r.Method, w.originURL(r.URL.RequestURI()), r.Body)
	if err != nil {
		return nil, err
	}
	out.Header = r.Header.Clone()
	stripHopHeaders(out.Header)
	out.ContentLength = r.ContentLength
	if out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", userAgent)
	}
	return w.client.Do(out)
}

func (w *Worker) proxy(rw http.ResponseWriter, r *http.Request) {
	resp, err := w.forward(r)
	if err != nil {
		logging.WarnWithContext(w.logger, "origin request failed", "worker_proxy_failed",
			logging.String("method", r.Method),
			logging.String("url", r.URL.RequestURI()),
			logging.Error(err),
		)
		http.Error(rw, "origin unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	copyResponse(rw, resp)
}

func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func copyResponse(rw http.ResponseWriter, resp *http.Response) {
	header := rw.Header()
	for key, values := range resp.Header {
		header[key] = append([]string(nil), values...)
	}
	stripHopHeaders(header)
	rw.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(rw, resp.Body)
}

func writeEntry(rw http.ResponseWriter, entry *cachestore.Entry, source string) {
	header := rw.Header()
	for key, values := range entry.Header {
		header[key] = append([]string(nil), values...)
	}
	header.Set(cacheHeader, source)
	header.Set("Content-Length", strconv.Itoa(len(entry.Body)))
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	rw.WriteHeader(status)
	_, _ = rw.Write(entry.Body)
}
