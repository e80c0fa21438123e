package oauthflow

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultCallbackPort is the default port for the local callback server.
const DefaultCallbackPort = 3000

const callbackSuccessHTML = `<!DOCTYPE html>
<html><head><title>limit</title></head>
<body><h2>Signed in</h2><p>You can close this window and return to limit.</p></body></html>`

const callbackErrorHTML = `<!DOCTYPE html>
<html><head><title>limit</title></head>
<body><h2>Sign-in failed</h2><p>You can close this window. Check the terminal for details.</p></body></html>`

// CallbackServer is a temporary loopback HTTP server standing in for the
// universal-link surface when the driver is a CLI rather than an app: the
// broker redirects the browser to it, and it forwards the full request
// URL into the flow's HandleCallbackURL entry point.
//
// It accepts a single callback, then shuts down.
type CallbackServer struct {
	port      int
	callbacks CallbackConfig
	handle    func(rawURL string) bool
	server    *http.Server
	listener  net.Listener
	once      sync.Once
	baseURL   string
}

// NewCallbackServer creates a callback server on the specified port that
// forwards intercepted URLs to handle. Port 0 uses the default. The
// callback config must match the one given to the flow, so forwarded
// URLs carry the scheme its parser accepts.
func NewCallbackServer(port int, callbacks CallbackConfig, handle func(rawURL string) bool) *CallbackServer {
	if port == 0 {
		port = DefaultCallbackPort
	}
	return &CallbackServer{port: port, callbacks: callbacks, handle: handle}
}

// Start begins listening and returns the redirect URI to register with
// the broker. The server stops when the context is cancelled or after the
// first callback is processed.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.baseURL = fmt.Sprintf("http://localhost:%d", s.port)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth", s.handleRequest)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = s.server.Serve(listener)
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s.baseURL + "/auth", nil
}

// handleRequest processes the single expected callback. Repeat requests
// after the first are rejected.
func (s *CallbackServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	var handled bool
	s.once.Do(func() {
		handled = true

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		// Present the loopback request to the flow in custom-scheme
		// form so one parser covers both surfaces.
		if r.URL.Query().Get("error") != "" {
			fmt.Fprint(w, callbackErrorHTML)
		} else {
			fmt.Fprint(w, callbackSuccessHTML)
		}
		scheme := s.callbacks.Scheme
		if scheme == "" {
			scheme = DefaultScheme
		}
		s.handle(scheme + "://auth?" + r.URL.RawQuery)

		// Give the response time to flush before tearing down.
		go func() {
			time.Sleep(1 * time.Second)
			s.Stop()
		}()
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *CallbackServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// Port returns the bound port.
func (s *CallbackServer) Port() int {
	return s.port
}
