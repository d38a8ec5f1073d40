// Copyright 2017 Pilosa Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package http serves a boxes.Store over HTTP and provides a client for it.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/featurebasedb/boxes"
	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/logger"
	"github.com/featurebasedb/boxes/substrate"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	// maxSetRequestSize bounds the body of a set request.
	maxSetRequestSize = 1 << 10

	modeSend = "send"
)

// Handler represents an HTTP handler.
type Handler struct {
	Handler http.Handler

	logger logger.Logger

	store *boxes.Store

	// token, when set, must be presented as a bearer token.
	token string

	// limiter, when set, bounds the rate of writes.
	limiter *rate.Limiter

	ln net.Listener

	closeTimeout time.Duration

	server *http.Server
}

// HandlerOption is a functional option type for Handler.
type HandlerOption func(s *Handler) error

func OptHandlerAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) error {
		if len(origins) == 0 {
			return nil
		}
		h.Handler = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(h.Handler)
		return nil
	}
}

func OptHandlerStore(store *boxes.Store) HandlerOption {
	return func(h *Handler) error {
		h.store = store
		return nil
	}
}

func OptHandlerLogger(logger logger.Logger) HandlerOption {
	return func(h *Handler) error {
		h.logger = logger
		return nil
	}
}

func OptHandlerListener(ln net.Listener) HandlerOption {
	return func(h *Handler) error {
		h.ln = ln
		return nil
	}
}

// OptHandlerAuthToken requires every request other than health, metrics and
// version checks to carry "Authorization: Bearer <token>". An empty token
// disables the check.
func OptHandlerAuthToken(token string) HandlerOption {
	return func(h *Handler) error {
		h.token = token
		return nil
	}
}

// OptHandlerWriteLimit bounds writes to perSecond on average with bursts of
// up to burst. Writes over the limit get 429 Too Many Requests. A
// non-positive perSecond disables the limit.
func OptHandlerWriteLimit(perSecond float64, burst int) HandlerOption {
	return func(h *Handler) error {
		if perSecond <= 0 {
			h.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// OptHandlerCloseTimeout controls how long to wait for the http Server to
// shutdown cleanly before forcibly destroying it. Default is 30 seconds.
func OptHandlerCloseTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) error {
		h.closeTimeout = d
		return nil
	}
}

// NewHandler returns a new instance of Handler with a default logger.
func NewHandler(opts ...HandlerOption) (*Handler, error) {
	handler := &Handler{
		logger:       logger.NopLogger,
		closeTimeout: time.Second * 30,
	}
	handler.Handler = newRouter(handler)

	for _, opt := range opts {
		err := opt(handler)
		if err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}

	if handler.store == nil {
		return nil, errors.New(errors.ErrUncoded, "must pass OptHandlerStore")
	}

	handler.server = &http.Server{Handler: handler}

	return handler, nil
}

// Serve serves on the listener passed with OptHandlerListener until Close is
// called.
func (h *Handler) Serve() error {
	if h.ln == nil {
		return errors.New(errors.ErrUncoded, "must pass OptHandlerListener")
	}
	err := h.server.Serve(h.ln)
	if err != nil && err != http.ErrServerClosed {
		h.logger.Printf("HTTP handler terminated with error: %s\n", err)
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// Close tries to cleanly shutdown the HTTP server, and failing that, after a
// timeout, calls Server.Close.
func (h *Handler) Close() error {
	deadlineCtx, cancelFunc := context.WithDeadline(context.Background(), time.Now().Add(h.closeTimeout))
	defer cancelFunc()
	err := h.server.Shutdown(deadlineCtx)
	if err != nil {
		err = h.server.Close()
	}
	return errors.Wrap(err, "shutdown/close http server")
}

// newRouter creates a new mux http router.
func newRouter(handler *Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", handler.handleGetHealth).Methods("GET").Name("GetHealth")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET").Name("GetMetrics")
	router.HandleFunc("/version", handler.handleGetVersion).Methods("GET").Name("GetVersion")

	router.HandleFunc("/range/{lower}", handler.handleGetRange).Methods("GET").Name("GetRange")
	router.HandleFunc("/range/{lower}", handler.handlePostRange).Methods("POST").Name("PostRange")
	router.HandleFunc("/counter", handler.handleGetCounter).Methods("GET").Name("GetCounter")

	router.Use(handler.collectStats)
	router.Use(handler.authenticate)
	return router
}

// ServeHTTP handles an HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			stack := debug.Stack()
			msg := "PANIC: %s\n%s"
			h.logger.Printf(msg, err, stack)
			fmt.Fprintf(w, msg, err, stack)
		}
	}()

	h.Handler.ServeHTTP(w, r)
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) collectStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		t := time.Now()
		next.ServeHTTP(rec, r)
		dur := time.Since(t)

		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil && cur.GetName() != "" {
			route = cur.GetName()
		}
		boxes.CounterHTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		boxes.HistogramHTTPRequestDuration.WithLabelValues(route).Observe(dur.Seconds())
	})
}

// openRoutes don't require a bearer token.
var openRoutes = map[string]bool{
	"GetHealth":  true,
	"GetMetrics": true,
	"GetVersion": true,
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		if cur := mux.CurrentRoute(r); cur != nil && openRoutes[cur.GetName()] {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			h.writeError(w, boxes.NewErrUnauthorized())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken returns the token of an "Authorization: Bearer <token>"
// header value.
func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

// statusCode maps an error to the status code it is reported with.
func statusCode(err error) int {
	switch {
	case boxes.IsInvalid(err):
		return http.StatusBadRequest
	case errors.Is(err, boxes.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, boxes.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, substrate.ErrClosed), errors.Is(err, substrate.ErrOutboxFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON coded error, which Client turns back into
// an equivalent coded error.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		h.logger.Errorf("internal error: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	if _, err := io.WriteString(w, errors.MarshalJSON(err)); err != nil {
		h.logger.Printf("error writing error response: %v", err)
	}
}

func (h *Handler) writeVector(w http.ResponseWriter, v boxes.Vector) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, v.String()); err != nil {
		h.logger.Printf("error writing response: %v", err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Printf("error writing response: %v", err)
	}
}

// GET /health
func (h *Handler) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// GET /version
func (h *Handler) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, boxes.CurrentVersion())
}

// GET /range/{lower}
func (h *Handler) handleGetRange(w http.ResponseWriter, r *http.Request) {
	lower, err := boxes.ParseShardKey(mux.Vars(r)["lower"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	v, err := h.store.GetRange(r.Context(), lower)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeVector(w, v)
}

// POST /range/{lower}[?mode=send]
//
// The body is a JSON set request. The response is the shard's vector after
// the write, or with mode=send, 202 Accepted once the write is queued.
func (h *Handler) handlePostRange(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	defer body.Close()

	lower, err := boxes.ParseShardKey(mux.Vars(r)["lower"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	mode := r.URL.Query().Get("mode")
	if mode != "" && mode != modeSend {
		h.writeError(w, boxes.NewErrValidation("unknown mode '%s'", mode))
		return
	}

	b, err := io.ReadAll(io.LimitReader(body, maxSetRequestSize+1))
	if err != nil {
		h.writeError(w, errors.Wrap(err, "reading body"))
		return
	} else if len(b) > maxSetRequestSize {
		h.writeError(w, boxes.NewErrValidation("set request larger than %d bytes", maxSetRequestSize))
		return
	}
	req, err := boxes.DecodeSetRequest(b)
	if err != nil {
		boxes.CounterValidationRejects.Inc()
		h.writeError(w, err)
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		h.writeError(w, boxes.NewErrRateLimited())
		return
	}

	if mode == modeSend {
		if err := h.store.SendRange(r.Context(), lower, req.ID, req.Checked); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	v, err := h.store.SetRange(r.Context(), lower, req.ID, req.Checked)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeVector(w, v)
}

// GET /counter
func (h *Handler) handleGetCounter(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Count(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, n)
}
