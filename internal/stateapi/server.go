package stateapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/EPFL-ENAC/AddLidar/internal/logging"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
	"github.com/EPFL-ENAC/AddLidar/internal/statedb"
)

// MountPrefix is the path prefix the record routes live under.
const MountPrefix = "/sqlite"

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Backend is the storage the handlers serve from.
type Backend interface {
	state.Store
	state.StatusWriter
	ListFolders(ctx context.Context, opts statedb.ListOptions) ([]state.FolderRecord, int, error)
	ListMarkers(ctx context.Context, opts statedb.ListOptions) ([]state.MarkerRecord, int, error)
}

// Server serves the record API.
type Server struct {
	bind    string
	backend Backend
	logger  *slog.Logger

	listener net.Listener
	server   *http.Server
}

// NewServer builds a Server bound to bind. Call Start to listen.
func NewServer(bind string, backend Backend, logger *slog.Logger) *Server {
	s := &Server{
		bind:    strings.TrimSpace(bind),
		backend: backend,
		logger:  logging.NewComponentLogger(logger, "state-api"),
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler with routes mounted under MountPrefix.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /folder_state", s.handleListFolders)
	mux.HandleFunc("POST /folder_state", s.handleCreateFolder)
	mux.HandleFunc("GET /folder_state/mission/{mission}", s.handleMissionFolders)
	mux.HandleFunc("GET /folder_state/{prefix}", s.handlePrefixFolders)
	mux.HandleFunc("GET /folder_state/{mission}/{capture}", s.handleGetFolder)
	mux.HandleFunc("PUT /folder_state/{mission}/{capture}", s.handleUpdateFolder)
	mux.HandleFunc("PATCH /folder_state/{mission}/{capture}/last_checked", s.handleTouchFolder)

	mux.HandleFunc("GET /potree_metacloud_state", s.handleListMarkers)
	mux.HandleFunc("POST /potree_metacloud_state", s.handleCreateMarker)
	mux.HandleFunc("GET /potree_metacloud_state/{mission}", s.handleGetMarker)
	mux.HandleFunc("PUT /potree_metacloud_state/{mission}", s.handleUpdateMarker)
	mux.HandleFunc("PATCH /potree_metacloud_state/{mission}/last_checked", s.handleTouchMarker)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	root := http.NewServeMux()
	root.Handle(MountPrefix+"/", http.StripPrefix(MountPrefix, mux))
	return root
}

// Start listens on the bind address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("state api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("state api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("state api listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeFolders(w, r, opts)
}

func (s *Server) handlePrefixFolders(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.Prefix = r.PathValue("prefix")
	s.writeFolders(w, r, opts)
}

func (s *Server) handleMissionFolders(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.Mission = r.PathValue("mission")
	s.writeFolders(w, r, opts)
}

func (s *Server) writeFolders(w http.ResponseWriter, r *http.Request, opts statedb.ListOptions) {
	recs, total, err := s.backend.ListFolders(r.Context(), opts)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	out := QueryResult[Folder]{Data: make([]Folder, 0, len(recs)), Count: total}
	for _, rec := range recs {
		out.Data = append(out.Data, FolderFromRecord(rec))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleGetFolder returns an exact key match wrapped in a list result; an
// unknown key yields an empty list.
func (s *Server) handleGetFolder(w http.ResponseWriter, r *http.Request) {
	key := folderKey(r)
	rec, err := s.backend.GetFolder(r.Context(), key)
	if errors.Is(err, state.ErrNotFound) {
		s.writeJSON(w, http.StatusOK, QueryResult[Folder]{Data: []Folder{}, Count: 0})
		return
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, QueryResult[Folder]{Data: []Folder{FolderFromRecord(*rec)}, Count: 1})
}

func (s *Server) handleUpdateFolder(w http.ResponseWriter, r *http.Request) {
	update, ok := s.decodeUpdate(w, r)
	if !ok {
		return
	}
	key := folderKey(r)
	if err := s.backend.UpdateFolderStatus(r.Context(), key, update); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UpdateResponse{Message: "Folder state updated successfully"})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req FolderCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !pendingOrEmpty(req.ProcessingStatus) {
		s.writeError(w, http.StatusBadRequest, "processing_status must be pending on create")
		return
	}
	mission, _, err := state.SplitFolderKey(req.FolderKey)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if req.MissionKey != "" && req.MissionKey != mission {
		s.writeError(w, http.StatusBadRequest, "mission_key does not match folder_key")
		return
	}
	err = s.backend.UpsertFolder(r.Context(), state.FolderUpsert{
		FolderKey:   req.FolderKey,
		MissionKey:  mission,
		Fingerprint: req.Fingerprint,
		SizeKB:      req.SizeKB,
		FileCount:   req.FileCount,
		OutputPath:  req.OutputPath,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, UpdateResponse{Message: "Folder state created successfully"})
}

func (s *Server) handleTouchFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.TouchFolder(r.Context(), folderKey(r)); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UpdateResponse{Message: "last_checked updated"})
}

func (s *Server) handleListMarkers(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, total, err := s.backend.ListMarkers(r.Context(), opts)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	out := QueryResult[Marker]{Data: make([]Marker, 0, len(recs)), Count: total}
	for _, rec := range recs {
		out.Data = append(out.Data, MarkerFromRecord(rec))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMarker(w http.ResponseWriter, r *http.Request) {
	rec, err := s.backend.GetMarker(r.Context(), r.PathValue("mission"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, MarkerFromRecord(*rec))
}

func (s *Server) handleUpdateMarker(w http.ResponseWriter, r *http.Request) {
	update, ok := s.decodeUpdate(w, r)
	if !ok {
		return
	}
	if err := s.backend.UpdateMarkerStatus(r.Context(), r.PathValue("mission"), update); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UpdateResponse{Message: "Potree metacloud state updated successfully"})
}

func (s *Server) handleCreateMarker(w http.ResponseWriter, r *http.Request) {
	var req MarkerCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !pendingOrEmpty(req.ProcessingStatus) {
		s.writeError(w, http.StatusBadRequest, "processing_status must be pending on create")
		return
	}
	if strings.TrimSpace(req.MissionKey) == "" || strings.Contains(req.MissionKey, "/") {
		s.writeError(w, http.StatusBadRequest, "invalid mission_key")
		return
	}
	err := s.backend.UpsertMarker(r.Context(), state.MarkerUpsert{
		MissionKey:  req.MissionKey,
		Fingerprint: req.Fingerprint,
		OutputPath:  req.OutputPath,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, UpdateResponse{Message: "Potree metacloud state created successfully"})
}

func (s *Server) handleTouchMarker(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.TouchMarker(r.Context(), r.PathValue("mission")); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UpdateResponse{Message: "last_checked updated"})
}

func (s *Server) decodeUpdate(w http.ResponseWriter, r *http.Request) (state.StatusUpdate, bool) {
	var req StatusUpdateRequest
	if !s.decode(w, r, &req) {
		return state.StatusUpdate{}, false
	}
	update, err := req.Update()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return state.StatusUpdate{}, false
	}
	return update, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, services.ErrMalformedRecord):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("state api request failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"detail": message})
}

func folderKey(r *http.Request) string {
	return r.PathValue("mission") + "/" + r.PathValue("capture")
}

func pendingOrEmpty(value string) bool {
	status, ok := state.ParseStatus(value)
	return strings.TrimSpace(value) == "" || (ok && status == state.StatusPending)
}

func listOptions(r *http.Request) (statedb.ListOptions, error) {
	q := r.URL.Query()
	opts := statedb.ListOptions{Limit: defaultLimit}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			return opts, fmt.Errorf("limit must be between 1 and %d", maxLimit)
		}
		opts.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, errors.New("offset must be non-negative")
		}
		opts.Offset = n
	}
	if raw := q.Get("status"); raw != "" {
		status, ok := state.ParseStatus(raw)
		if !ok {
			return opts, fmt.Errorf("unknown status %q", raw)
		}
		opts.Status = &status
	}
	return opts, nil
}
