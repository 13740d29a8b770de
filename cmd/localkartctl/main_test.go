package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nashiklocalkart/localkart/engine/assistant"
	"github.com/nashiklocalkart/localkart/engine/domain"
	"github.com/nashiklocalkart/localkart/engine/snapshot"
)

// fakeAPI serves the handful of routes localkartctl calls and records what
// it was sent.
type fakeAPI struct {
	mu      sync.Mutex
	queries []string
	actors  []string
	bodies  []string
}

func (f *fakeAPI) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, r.URL.RawQuery)
	f.actors = append(f.actors, r.Header.Get(userIDHeader))
	if r.Body != nil {
		var b bytes.Buffer
		b.ReadFrom(r.Body)
		f.bodies = append(f.bodies, b.String())
	}
}

func (f *fakeAPI) handler() http.Handler {
	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
	vendors := []domain.Vendor{
		{ID: 1, ShopName: "Sula Fresh Mart", Category: "Grocery", Address: "College Road", Status: domain.StatusApproved},
		{ID: 6, ShopName: "Panchavati Tailors", Category: "Services", Address: "Panchavati", Status: domain.StatusPending},
	}
	admin := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			switch r.Header.Get(userIDHeader) {
			case "":
				write(w, http.StatusUnauthorized, map[string]string{"error": "missing X-User-ID"})
			case "1":
				next(w, r)
			default:
				write(w, http.StatusForbidden, map[string]string{"error": "admin only"})
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vendors", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		write(w, http.StatusOK, vendors[:1])
	})
	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		write(w, http.StatusOK, []domain.User{{ID: 1, Name: "Admin", Email: "admin@localkart.in", Type: domain.UserAdmin}})
	})
	mux.HandleFunc("GET /api/admin/vendors", admin(func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		write(w, http.StatusOK, vendors[1:])
	}))
	mux.HandleFunc("PATCH /api/admin/vendors/{id}/status", admin(func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.PathValue("id") != "6" {
			write(w, http.StatusConflict, map[string]string{"error": "vendor is not pending"})
			return
		}
		v := vendors[1]
		v.Status = domain.StatusApproved
		write(w, http.StatusOK, v)
	}))
	mux.HandleFunc("POST /api/admin/snapshot", admin(func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		write(w, http.StatusCreated, snapshot.ObjectInfo{Bucket: "localkart", Key: "catalog/2024/03/07/vendors-1.json", Vendors: 2, Size: 512})
	}))
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		write(w, http.StatusOK, assistant.Reply{
			Text:      "Try **Sula Fresh Mart** on College Road.",
			Grounding: []assistant.GroundingChunk{{Maps: &assistant.GroundingSource{URI: "https://maps.google.com/?cid=1", Title: "Sula Fresh Mart"}}},
		})
	})
	return mux
}

func newFakeAPI(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	f := &fakeAPI{}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOCALKART_API", "")
	t.Setenv("LOCALKART_AS", "")
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVendorsList(t *testing.T) {
	api, url := newFakeAPI(t)
	out, err := run(t, "--api", url, "vendors", "list", "--status", "approved", "--category", "Grocery")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Sula Fresh Mart") || !strings.Contains(out, "SHOP") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if q := api.queries[0]; q != "category=Grocery&status=approved" {
		t.Fatalf("unexpected query %q", q)
	}
	if api.actors[0] != "" {
		t.Fatal("public calls must not send an actor")
	}
}

func TestVendorsListJSON(t *testing.T) {
	_, url := newFakeAPI(t)
	out, err := run(t, "--api", url, "--json", "vendors", "list")
	if err != nil {
		t.Fatal(err)
	}
	var got []domain.Vendor
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("unexpected vendors %+v", got)
	}
}

func TestAdminCommandsNeedActor(t *testing.T) {
	_, url := newFakeAPI(t)
	for _, args := range [][]string{
		{"vendors", "pending"},
		{"vendors", "approve", "6"},
		{"snapshot"},
	} {
		if _, err := run(t, append([]string{"--api", url}, args...)...); err == nil || !strings.Contains(err.Error(), "--as") {
			t.Fatalf("%v: expected missing actor error, got %v", args, err)
		}
	}
}

func TestVendorsPending(t *testing.T) {
	api, url := newFakeAPI(t)
	out, err := run(t, "--api", url, "--as", "1", "vendors", "pending")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Panchavati Tailors") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if api.actors[0] != "1" || api.queries[0] != "status=pending" {
		t.Fatalf("unexpected request actor=%q query=%q", api.actors[0], api.queries[0])
	}
}

func TestVendorsApprove(t *testing.T) {
	api, url := newFakeAPI(t)
	out, err := run(t, "--api", url, "--as", "1", "vendors", "approve", "6")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "vendor 6 (Panchavati Tailors) is now approved") {
		t.Fatalf("unexpected output %q", out)
	}
	if api.bodies[0] != `{"status":"approved"}` {
		t.Fatalf("unexpected body %q", api.bodies[0])
	}
}

func TestVendorsRejectSurfacesAPIError(t *testing.T) {
	_, url := newFakeAPI(t)
	_, err := run(t, "--api", url, "--as", "1", "vendors", "reject", "1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Message != "vendor is not pending" {
		t.Fatalf("expected 409 APIError, got %v", err)
	}

	_, err = run(t, "--api", url, "--as", "2", "vendors", "reject", "6")
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 APIError, got %v", err)
	}
}

func TestVendorsApproveBadID(t *testing.T) {
	_, url := newFakeAPI(t)
	if _, err := run(t, "--api", url, "--as", "1", "vendors", "approve", "six"); err == nil || !strings.Contains(err.Error(), "invalid vendor id") {
		t.Fatalf("expected id error, got %v", err)
	}
}

func TestUsersList(t *testing.T) {
	_, url := newFakeAPI(t)
	out, err := run(t, "--api", url, "users", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "admin@localkart.in") || !strings.Contains(out, "EMAIL") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestSnapshot(t *testing.T) {
	_, url := newFakeAPI(t)
	out, err := run(t, "--api", url, "--as", "1", "snapshot")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "wrote 2 vendors to s3://localkart/catalog/2024/03/07/vendors-1.json") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestChatRaw(t *testing.T) {
	api, url := newFakeAPI(t)
	out, err := run(t, "--api", url, "chat", "--raw", "--lat", "20.0", "--lng", "73.78", "where", "is", "fresh", "fruit?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Try **Sula Fresh Mart** on College Road.") {
		t.Fatalf("raw output should keep markdown: %q", out)
	}
	if !strings.Contains(out, "[Sula Fresh Mart] https://maps.google.com/?cid=1") {
		t.Fatalf("missing grounding source: %q", out)
	}

	var req chatRequest
	if err := json.Unmarshal([]byte(api.bodies[0]), &req); err != nil {
		t.Fatal(err)
	}
	if req.Prompt != "where is fresh fruit?" || req.Location == nil || req.Location.Latitude != 20.0 {
		t.Fatalf("unexpected chat request %+v", req)
	}
	if req.History == nil {
		t.Fatal("history should be sent as an empty array")
	}
}

func TestChatWithoutLocation(t *testing.T) {
	api, url := newFakeAPI(t)
	if _, err := run(t, "--api", url, "chat", "--raw", "hello"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(api.bodies[0], "location") {
		t.Fatalf("location should be omitted: %s", api.bodies[0])
	}
}

func TestChatRendered(t *testing.T) {
	_, url := newFakeAPI(t)
	out, err := run(t, "--api", url, "chat", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Sula Fresh Mart") || !strings.Contains(out, "https://maps.google.com/?cid=1") {
		t.Fatalf("unexpected rendered reply %q", out)
	}
}

func TestSources(t *testing.T) {
	got := sources([]assistant.GroundingChunk{
		{Web: &assistant.GroundingSource{URI: "https://a", Title: "A"}},
		{Web: &assistant.GroundingSource{Title: "no uri"}},
		{},
	})
	if len(got) != 1 || got[0].URI != "https://a" {
		t.Fatalf("unexpected sources %+v", got)
	}
}
