package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/nashiklocalkart/localkart/engine/assistant"
	"github.com/nashiklocalkart/localkart/engine/domain"
	"github.com/nashiklocalkart/localkart/engine/market"
	"github.com/nashiklocalkart/localkart/engine/snapshot"
	"github.com/nashiklocalkart/localkart/pkg/metrics"
	"github.com/nashiklocalkart/localkart/pkg/resilience"
)

// UserIDHeader identifies the acting user on admin routes.
const UserIDHeader = "X-User-ID"

const defaultSearchLimit = 10

// vendorSearcher finds vendors by meaning.
type vendorSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Vendor, error)
}

// catalogExporter writes catalog snapshots.
type catalogExporter interface {
	Export(ctx context.Context, c domain.Catalog) (snapshot.ObjectInfo, error)
}

// server holds the handler dependencies. search, snap and chatLimit are
// optional. trustProxy makes the chat limiter key on X-Forwarded-For.
type server struct {
	market    *market.Service
	chat      *assistant.Service
	search    vendorSearcher
	snap      catalogExporter
	catalog   domain.Catalog
	chatLimit  *resilience.KeyedLimiter
	trustProxy bool
	reg       *metrics.Registry
	log       *slog.Logger
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)

	mux.HandleFunc("GET /api/users", s.handleListUsers)
	mux.HandleFunc("POST /api/users", s.handleRegisterUser)
	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.HandleFunc("GET /api/vendors", s.handleListVendors)
	mux.HandleFunc("POST /api/vendors", s.handleRegisterVendor)
	mux.HandleFunc("GET /api/vendors/search", s.handleSearchVendors)
	mux.HandleFunc("GET /api/vendors/{id}", s.handleGetVendor)
	mux.HandleFunc("GET /api/vendors/{id}/contact", s.handleVendorContact)
	mux.HandleFunc("GET /api/marketplace", s.handleMarketplace)
	mux.HandleFunc("GET /api/catalog", s.handleCatalog)

	mux.HandleFunc("GET /api/admin/vendors", s.admin(s.handleAdminVendors))
	mux.HandleFunc("PATCH /api/admin/vendors/{id}/status", s.admin(s.handleSetVendorStatus))
	mux.HandleFunc("POST /api/admin/snapshot", s.admin(s.handleSnapshot))

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.Handle("GET /metrics", s.reg.Handler())
	return mux
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps service errors to a status and client message.
func errorStatus(err error) (int, string) {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrUnknownUser):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, domain.ErrDuplicateUser):
		return http.StatusConflict, "user already registered"
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		return http.StatusConflict, "vendor is not pending review"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "admin access required"
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, domain.ErrSelfRegisterAdmin):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, msg)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

type actorKey struct{}

// admin resolves the X-User-ID header to a user and requires the admin type.
func (s *server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(strings.TrimSpace(r.Header.Get(UserIDHeader)))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing or invalid "+UserIDHeader)
			return
		}
		u, err := s.market.GetUser(r.Context(), id)
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !u.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, u)))
	}
}

func actorFrom(ctx context.Context) domain.User {
	u, _ := ctx.Value(actorKey{}).(domain.User)
	return u
}

// clientKey identifies a caller for rate limiting. X-Forwarded-For is
// client supplied, so it only counts behind a trusted proxy, and then only
// the entry that proxy appended.
func clientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		fwd := r.Header.Values("X-Forwarded-For")
		if n := len(fwd); n > 0 {
			last := fwd[n-1]
			if i := strings.LastIndexByte(last, ','); i >= 0 {
				last = last[i+1:]
			}
			if last = strings.TrimSpace(last); last != "" {
				return last
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.market.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var nu domain.NewUser
	if !decode(w, r, &nu) {
		return
	}
	u, err := s.market.RegisterUser(r.Context(), nu)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// LoginRequest is the JSON body for POST /api/login.
type LoginRequest struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := s.market.Login(r.Context(), req.Email, req.Type)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// parseFilter reads vendor filters from the query string.
func parseFilter(r *http.Request) (market.Filter, error) {
	q := r.URL.Query()
	f := market.Filter{
		Category: q.Get("category"),
		Area:     q.Get("area"),
		Query:    q.Get("q"),
	}
	if st := q.Get("status"); st != "" {
		status, err := domain.ParseVendorStatus(st)
		if err != nil {
			return market.Filter{}, err
		}
		f.Status = status
	}
	lat, lng := q.Get("lat"), q.Get("lng")
	if lat != "" || lng != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		ln, err2 := strconv.ParseFloat(lng, 64)
		if err1 != nil || err2 != nil {
			return market.Filter{}, domain.NewValidationError("lat,lng", lat+","+lng, domain.ErrRequired)
		}
		near := domain.Location{Lat: la, Lng: ln}
		if !near.Valid() {
			return market.Filter{}, domain.NewValidationError("lat,lng", near.String(), domain.ErrInvalidLocation)
		}
		f.Near = &near
	}
	if rad := q.Get("radius_km"); rad != "" {
		km, err := strconv.ParseFloat(rad, 64)
		if err != nil || km < 0 {
			return market.Filter{}, domain.NewValidationError("radius_km", rad, domain.ErrRequired)
		}
		f.RadiusKm = km
	}
	return f, nil
}

func (s *server) handleListVendors(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	vendors, err := s.market.ListVendors(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vendors)
}

func (s *server) handleGetVendor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := s.market.GetVendor(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "vendor not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ContactResponse is the JSON body for GET /api/vendors/{id}/contact.
type ContactResponse struct {
	Phone      string `json:"phone"`
	Directions string `json:"directions"`
}

func (s *server) handleVendorContact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := s.market.GetVendor(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "vendor not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ContactResponse{
		Phone:      s.market.VendorContact(r.Context(), v),
		Directions: market.DirectionsURL(v),
	})
}

func (s *server) handleRegisterVendor(w http.ResponseWriter, r *http.Request) {
	var nv domain.NewVendor
	if !decode(w, r, &nv) {
		return
	}
	v, err := s.market.RegisterVendor(r.Context(), nv)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// SearchResponse is the JSON body for GET /api/vendors/search.
type SearchResponse struct {
	Mode    string          `json:"mode"` // "semantic" or "text"
	Vendors []domain.Vendor `json:"vendors"`
}

func (s *server) handleSearchVendors(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := defaultSearchLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	if s.search != nil {
		vendors, err := s.search.Search(r.Context(), q, limit)
		switch {
		case err != nil:
			s.log.Warn("semantic search failed, falling back to text", "error", err)
		case len(vendors) > 0:
			writeJSON(w, http.StatusOK, SearchResponse{Mode: "semantic", Vendors: vendors})
			return
		default:
			// Vendors approved since the last index run have no vectors yet.
			s.log.Debug("semantic search found nothing, falling back to text", "query", q)
		}
	}

	vendors, err := s.market.ListVendors(r.Context(), market.Filter{Status: domain.StatusApproved, Query: q})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(vendors) > limit {
		vendors = vendors[:limit]
	}
	writeJSON(w, http.StatusOK, SearchResponse{Mode: "text", Vendors: vendors})
}

func (s *server) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vendors, err := s.market.Marketplace(r.Context(), q.Get("category"), q.Get("area"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vendors)
}

// CatalogResponse is the JSON body for GET /api/catalog.
type CatalogResponse struct {
	Categories []string `json:"categories"`
	Areas      []string `json:"areas"`
}

func (s *server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	resp := CatalogResponse{Categories: s.catalog.Categories, Areas: s.catalog.Areas}
	if resp.Categories == nil {
		resp.Categories = []string{}
	}
	if resp.Areas == nil {
		resp.Areas = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleAdminVendors(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	vendors, err := s.market.ListVendors(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vendors)
}

// StatusRequest is the JSON body for PATCH /api/admin/vendors/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

func (s *server) handleSetVendorStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := domain.ParseVendorStatus(req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.market.SetVendorStatus(r.Context(), actorFrom(r.Context()), id, status)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "vendor not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reg.Counter(metrics.WithLabels("localkart_vendor_decisions_total", "status", string(status)),
		"Admin vendor decisions").Inc()
	writeJSON(w, http.StatusOK, v)
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snap == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot storage not configured")
		return
	}
	vendors, err := s.market.ListVendors(r.Context(), market.Filter{})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := s.snap.Export(r.Context(), domain.Catalog{
		Vendors:    vendors,
		Categories: s.catalog.Categories,
		Areas:      s.catalog.Areas,
	})
	if err != nil {
		s.log.Error("snapshot export failed", "error", err, "admin_id", actorFrom(r.Context()).ID)
		writeError(w, http.StatusBadGateway, "snapshot export failed")
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Prompt   string                 `json:"prompt"`
	History  []assistant.Message    `json:"history"`
	Location *assistant.Coordinates `json:"location,omitempty"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chatLimit != nil && !s.chatLimit.Allow(clientKey(r, s.trustProxy)) {
		s.reg.Counter(metrics.WithLabels("localkart_chat_requests_total", "outcome", "limited"), "Chat requests").Inc()
		writeError(w, http.StatusTooManyRequests, "too many chat requests, slow down")
		return
	}
	var req ChatRequest
	if !decode(w, r, &req) {
		return
	}
	reply, err := s.chat.Ask(r.Context(), req.Prompt, req.History, req.Location)
	if errors.Is(err, assistant.ErrEmptyPrompt) {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	outcome := "answered"
	switch reply.Text {
	case assistant.ErrorReply:
		outcome = "error"
	case assistant.MissingKeyReply:
		outcome = "unconfigured"
	}
	s.reg.Counter(metrics.WithLabels("localkart_chat_requests_total", "outcome", outcome), "Chat requests").Inc()
	writeJSON(w, http.StatusOK, reply)
}
