package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	intrnl "github.com/Norland77/chat-socket-service/internal"
)

// ServerHandle represents a running gateway instance.
type ServerHandle struct {
	addr   string
	server *http.Server
	nc     *nats.Conn
	done   chan struct{}
	err    error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer wires the gateway together: NATS connection for the downstream
// service clients, S3 client for blobs, hub, upload store, orchestrator and
// dispatcher, then serves in the background. Call Stop/Wait to manage its
// lifecycle.
func RunServer(ctx context.Context, cfg Config, log *zap.Logger) (*ServerHandle, error) {
	nc, err := nats.Connect(cfg.NATSUrl,
		nats.Name("chat-socket-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = &cfg.S3Endpoint
			o.UsePathStyle = true
		}
	})

	hub := intrnl.NewHub()
	uploads := intrnl.NewUploadStore()
	metrics := intrnl.NewMetrics()
	blobs := intrnl.NewS3BlobStore(s3Client, cfg.S3Bucket, cfg.PublicBase, log)
	orchestrator := intrnl.NewOrchestrator(blobs,
		intrnl.NewUserClient(nc, cfg.RPCTimeout, log),
		intrnl.NewRoomClient(nc, cfg.RPCTimeout, log),
		intrnl.NewMessageClient(nc, cfg.RPCTimeout, log),
		metrics, log)
	limiter := intrnl.NewRateLimiter(cfg.EventRate, cfg.EventWindow)
	dispatcher := intrnl.NewDispatcher(hub, uploads, orchestrator, limiter, metrics, cfg.FlowTimeout, log)

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WSPath, dispatcher.ServeWS)
	mux.Handle("/metrics", metrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !nc.IsConnected() {
			http.Error(w, "nats disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		server: httpServer,
		nc:     nc,
		done:   make(chan struct{}),
	}

	go func() {
		if ctx == nil {
			return
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("server shutdown", zap.Error(err))
		}
	}()

	go handle.serve(listener)

	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.nc.Close()
	h.err = err
}
