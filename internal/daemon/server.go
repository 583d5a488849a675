// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon serves rewrites over JSON-RPC so watch tasks and editor
// integrations can avoid re-spawning the CLI per build.
package daemon

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fitzgen/wasm-bindgen/internal/bindgen"
	"github.com/fitzgen/wasm-bindgen/internal/logger"
	"github.com/fitzgen/wasm-bindgen/internal/telemetry"
)

// Config holds daemon configuration
type Config struct {
	Port      string
	AuthToken string
}

// Server is the JSON-RPC daemon server.
type Server struct {
	authToken string
}

// RewriteArgs is the rewriter.Rewrite RPC request.
type RewriteArgs struct {
	// WasmBase64 is the input module, base64-encoded.
	WasmBase64 string `json:"wasm_base64"`
}

// RewriteReply is the rewriter.Rewrite RPC response.
type RewriteReply struct {
	WasmBase64   string `json:"wasm_base64"`
	Glue         string `json:"glue"`
	Rewritten    int    `json:"rewritten"`
	SlotsCleared int    `json:"slots_cleared"`
}

// NewServer creates a new JSON-RPC server.
func NewServer(config Config) *Server {
	return &Server{authToken: config.AuthToken}
}

// Rewriter is the RPC receiver.
type Rewriter struct{}

// Rewrite runs the closure rewrite pass over the supplied module.
func (*Rewriter) Rewrite(r *http.Request, args *RewriteArgs, reply *RewriteReply) error {
	ctx, span := telemetry.StartSpan(r.Context(), "daemon.rewrite")
	defer span.End()

	module, err := base64.StdEncoding.DecodeString(args.WasmBase64)
	if err != nil {
		return fmt.Errorf("decoding wasm payload: %w", err)
	}
	span.SetAttributes(attribute.Int("wasm.input_bytes", len(module)))

	res, err := bindgen.Process(ctx, module)
	if err != nil {
		logger.Logger.Error("daemon rewrite failed", "err", err)
		return err
	}
	reply.WasmBase64 = base64.StdEncoding.EncodeToString(res.Wasm)
	reply.Glue = res.Glue
	reply.Rewritten = res.Stats.Rewritten
	reply.SlotsCleared = res.Stats.SlotsCleared
	return nil
}

// Handler builds the HTTP handler, wrapping the RPC endpoint with bearer
// auth when a token is configured.
func (s *Server) Handler() http.Handler {
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json2.NewCodec(), "application/json")
	if err := rpcServer.RegisterService(&Rewriter{}, "rewriter"); err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", s.withAuth(rpcServer))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	return mux
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.authToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe runs the daemon until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	srv := &http.Server{Addr: ":" + port, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logger.Logger.Info("daemon listening", "port", port)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
