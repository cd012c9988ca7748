// Package exporter serves probe statistics over HTTP for Prometheus.
package exporter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Exporter struct {
	addr string
	reg  *prometheus.Registry
}

func New(addr string, collector prometheus.Collector) (*Exporter, error) {
	e := Exporter{
		addr: addr,
		reg:  prometheus.NewRegistry(),
	}

	err := e.reg.Register(collector)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// Handler returns the /metrics handler for the registered collector.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{})
}

// Run starts listening and serves in the background until ctx ends. Listen
// errors are returned directly.
func (e *Exporter) Run(ctx context.Context) (net.Addr, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return nil, err
	}

	srv := http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	logrus.Debug("[ EXPORTER ] listening on ", ln.Addr())

	go func() {
		err := srv.Serve(ln)
		if !errors.Is(err, http.ErrServerClosed) {
			logrus.Error("[ EXPORTER ] ", err)
		}
	}()

	go func() {
		<-ctx.Done()
		logrus.Debug("[ EXPORTER ] stopping")
		srv.Close()
	}()

	return ln.Addr(), nil
}
