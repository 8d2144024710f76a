// Package loopback receives the provider redirect on a local port.
//
// A Listener answers exactly one request on its callback path. The values
// it read are published once on Result and the listener shuts itself down.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/constants"
	"github.com/brizzai/loopback-login/internal/auth/models"
)

const (
	shutdownTimeout = 2 * time.Second
	readTimeout     = 10 * time.Second
)

// Config configures a Listener. Timeout is a hard limit after which the
// listener closes itself even if nobody called Close.
type Config struct {
	Port    int
	Path    string
	Timeout time.Duration
}

// Listener is a single-shot HTTP server for the OAuth redirect
type Listener struct {
	ln     net.Listener
	srv    *http.Server
	path   string
	result chan models.CallbackResult

	handled   atomic.Bool
	timer     atomic.Pointer[time.Timer]
	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds localhost:cfg.Port. A port in use is reported as
// autherr.ErrListenerBind; no other port is tried.
func Listen(cfg Config) (*Listener, error) {
	path := cfg.Path
	if path == "" {
		path = constants.DefaultCallbackPath
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", cfg.Port))
	if err != nil {
		return nil, autherr.Wrap(autherr.ErrListenerBind, "port %d: %v", cfg.Port, err)
	}

	l := &Listener{
		ln:     ln,
		path:   path,
		result: make(chan models.CallbackResult, 1),
		closed: make(chan struct{}),
	}
	l.srv = &http.Server{
		Handler:           l,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      readTimeout,
		// the server's own error log would echo request lines
		ErrorLog: log.New(io.Discard, "", 0),
	}
	if cfg.Timeout > 0 {
		// the callback may run before Store; Close then finds no timer to stop
		l.timer.Store(time.AfterFunc(cfg.Timeout, func() { _ = l.Close() }))
	}
	return l, nil
}

// Addr returns the bound address
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until the listener is closed. It returns nil
// after a normal shutdown.
func (l *Listener) Serve() error {
	err := l.srv.Serve(l.ln)
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Result yields the redirect values. It receives at most one value.
func (l *Listener) Result() <-chan models.CallbackResult {
	return l.result
}

// Done is closed once the listener has released its port
func (l *Listener) Done() <-chan struct{} {
	return l.closed
}

// Close stops the listener and releases the port. It is safe to call more
// than once and from several goroutines; every call returns after the port
// is free.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if t := l.timer.Load(); t != nil {
			t.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err = l.srv.Shutdown(ctx); err != nil {
			err = l.srv.Close()
		}
		// Shutdown does not close a listener Serve never picked up
		_ = l.ln.Close()
		close(l.closed)
	})
	<-l.closed
	return err
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || r.URL.Path != l.path {
		http.NotFound(w, r)
		return
	}
	if !l.handled.CompareAndSwap(false, true) {
		http.Error(w, "This login request was already handled.", http.StatusGone)
		return
	}

	q := r.URL.Query()
	res := models.CallbackResult{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}
	l.result <- res

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "close")
	if res.HasCode() {
		_, _ = io.WriteString(w, successPage)
	} else {
		_, _ = io.WriteString(w, failurePage)
	}

	// Shutdown waits for this handler, so it must run elsewhere
	go func() { _ = l.Close() }()
}

const successPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Login successful</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 50px;">
<h1>Login Successful!</h1>
<p>You can close this window and return to the terminal.</p>
</body></html>
`

const failurePage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Login failed</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 50px;">
<h1>Login Failed</h1>
<p>Please try again in the terminal.</p>
</body></html>
`
