package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/pkg/unidb"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve record and sequence operations over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address",
				Value:   ":8080",
				Sources: cli.EnvVars("UNIDB_ADDR"),
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, logger, err := openDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := db.Start(ctx); err != nil {
		_ = db.Close(context.Background())
		return fmt.Errorf("failed to start changefeed: %w", err)
	}

	srv := &http.Server{
		Addr:              cmd.String("addr"),
		Handler:           newServer(db, logger).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return errors.Join(err, db.Close(context.Background()))
}

type server struct {
	db     *unidb.DB
	logger *zap.Logger
}

func newServer(db *unidb.DB, logger *zap.Logger) *server {
	return &server{db: db, logger: logger.Named("http")}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /tables/{name}", s.find)
	mux.HandleFunc("GET /tables/{name}/count", s.count)
	mux.HandleFunc("PUT /tables/{name}", s.set)
	mux.HandleFunc("DELETE /tables/{name}", s.remove)
	mux.HandleFunc("POST /sequences/{key}", s.sequence)
	return mux
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"adapter":   s.db.Adapter().Type(),
		"tables":    s.db.Tables(),
	}
	if feed := s.db.Feed(); feed != nil && feed.Drainer() != nil {
		status["changefeed"] = map[string]any{
			"running":   feed.Drainer().IsRunning(),
			"queued":    feed.Queue().Size(),
			"delivered": feed.Drainer().Delivered(),
			"dropped":   feed.Drainer().Dropped(),
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) find(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	recs, err := t.Find(r.Context(), unidb.Conditions(parseQuery(r.URL.Query())))
	if err != nil {
		s.fail(w, err)
		return
	}
	if recs == nil {
		recs = []unidb.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *server) count(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	n, err := t.Count(r.Context(), unidb.Conditions(parseQuery(r.URL.Query())))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (s *server) set(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("invalid JSON: %v", err)})
		return
	}
	stored, err := t.Set(r.Context(), numbers(doc).(map[string]any))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *server) remove(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	if err := t.Remove(r.Context(), unidb.Conditions(parseQuery(r.URL.Query()))); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) sequence(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	v, err := s.db.Sequence(key).Get(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": v})
}

func (s *server) table(w http.ResponseWriter, r *http.Request) (*unidb.Table, bool) {
	t, err := s.db.Table(r.PathValue("name"))
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return t, true
}

func (s *server) fail(w http.ResponseWriter, err error) {
	var verr *unidb.ValidationError
	var cerr *unidb.ConflictError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Errors.Paths(),
			"detail": verr.Descriptors,
		})
	case errors.Is(err, unidb.ErrUnknownTable), errors.Is(err, unidb.ErrNotSynced):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
