package stateapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/EPFL-ENAC/AddLidar/internal/logging"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
	"github.com/EPFL-ENAC/AddLidar/internal/stateapi"
	"github.com/EPFL-ENAC/AddLidar/internal/statedb"
)

func newServer(t *testing.T) (http.Handler, *statedb.Store) {
	t.Helper()
	store, err := statedb.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return stateapi.NewServer("127.0.0.1:0", store, logging.NewNop()).Handler(), store
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFolderEndpoints(t *testing.T) {
	h, store := newServer(t)

	if rec := serve(h, http.MethodPut, "/sqlite/folder_state/M1/C1", `{"processing_status":"pending","fingerprint":"a"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("PUT on unknown folder = %d, want 404", rec.Code)
	}
	if rec := serve(h, http.MethodPatch, "/sqlite/folder_state/M1/C1/last_checked", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("PATCH on unknown folder = %d, want 404", rec.Code)
	}

	create := `{"folder_key":"M1/C1","mission_key":"M1","fingerprint":"a","size_kb":3,"file_count":1,"output_path":"/zip/M1/C1.tar.gz","processing_status":"pending"}`
	if rec := serve(h, http.MethodPost, "/sqlite/folder_state", create); rec.Code != http.StatusCreated {
		t.Fatalf("POST = %d: %s", rec.Code, rec.Body)
	}

	rec := serve(h, http.MethodGet, "/sqlite/folder_state/M1/C1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET = %d", rec.Code)
	}
	var result stateapi.QueryResult[stateapi.Folder]
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Count != 1 || result.Data[0].Fingerprint != "a" || *result.Data[0].ProcessingStatus != "pending" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.Contains(rec.Body.String(), `"fp":"a"`) {
		t.Fatalf("expected stored column names on the wire, got %s", rec.Body)
	}

	if rec := serve(h, http.MethodPut, "/sqlite/folder_state/M1/C1", `{"processing_status":"success","processing_time":12}`); rec.Code != http.StatusOK {
		t.Fatalf("PUT = %d: %s", rec.Code, rec.Body)
	}
	stored, err := store.GetFolder(context.Background(), "M1/C1")
	if err != nil || *stored.Status != state.StatusSuccess || *stored.ProcessingTime != 12 {
		t.Fatalf("unexpected stored record %+v %v", stored, err)
	}
	if rec := serve(h, http.MethodPatch, "/sqlite/folder_state/M1/C1/last_checked", ""); rec.Code != http.StatusOK {
		t.Fatalf("PATCH = %d", rec.Code)
	}

	rec = serve(h, http.MethodGet, "/sqlite/folder_state/mission/M1", "")
	result = stateapi.QueryResult[stateapi.Folder]{}
	_ = json.Unmarshal(rec.Body.Bytes(), &result)
	if result.Count != 1 {
		t.Fatalf("mission listing count = %d", result.Count)
	}

	rec = serve(h, http.MethodGet, "/sqlite/folder_state/M9/C1", "")
	result = stateapi.QueryResult[stateapi.Folder]{}
	_ = json.Unmarshal(rec.Body.Bytes(), &result)
	if rec.Code != http.StatusOK || result.Count != 0 || len(result.Data) != 0 {
		t.Fatalf("expected empty result for unknown key, got %d %+v", rec.Code, result)
	}
}

func TestRejectsBadInput(t *testing.T) {
	h, _ := newServer(t)
	cases := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/sqlite/folder_state", `{"folder_key":"M1","fingerprint":"a"}`},
		{http.MethodPost, "/sqlite/folder_state", `{"folder_key":"M1/C1","mission_key":"M2","fingerprint":"a"}`},
		{http.MethodPost, "/sqlite/folder_state", `{"folder_key":"M1/C1","fingerprint":"a","processing_status":"success"}`},
		{http.MethodPut, "/sqlite/folder_state/M1/C1", `{"processing_status":"archived"}`},
		{http.MethodPut, "/sqlite/potree_metacloud_state/M1", `{broken`},
		{http.MethodGet, "/sqlite/folder_state?limit=0", ""},
		{http.MethodGet, "/sqlite/potree_metacloud_state?status=unknown", ""},
	}
	for _, tc := range cases {
		if rec := serve(h, tc.method, tc.path, tc.body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %s %s = %d, want 400", tc.method, tc.path, tc.body, rec.Code)
		}
	}
}

func TestMarkerEndpoints(t *testing.T) {
	h, _ := newServer(t)

	if rec := serve(h, http.MethodGet, "/sqlite/potree_metacloud_state/M1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("GET unknown marker = %d, want 404", rec.Code)
	}
	if rec := serve(h, http.MethodPost, "/sqlite/potree_metacloud_state", `{"mission_key":"M1","fingerprint":"h","output_path":"/Potree/M1"}`); rec.Code != http.StatusCreated {
		t.Fatalf("POST marker = %d: %s", rec.Code, rec.Body)
	}
	rec := serve(h, http.MethodGet, "/sqlite/potree_metacloud_state/M1", "")
	var marker stateapi.Marker
	if err := json.Unmarshal(rec.Body.Bytes(), &marker); err != nil {
		t.Fatalf("decode marker: %v", err)
	}
	if marker.Fingerprint != "h" || marker.OutputPath != "/Potree/M1" {
		t.Fatalf("unexpected marker %+v", marker)
	}
	if rec := serve(h, http.MethodPatch, "/sqlite/potree_metacloud_state/M1/last_checked", ""); rec.Code != http.StatusOK {
		t.Fatalf("PATCH marker = %d", rec.Code)
	}

	rec = serve(h, http.MethodGet, "/sqlite/potree_metacloud_state?limit=5", "")
	var list stateapi.QueryResult[stateapi.Marker]
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Count != 1 || list.Data[0].MissionKey != "M1" {
		t.Fatalf("unexpected marker list %+v", list)
	}
}

func TestRecordConversionRejectsUnknownStatus(t *testing.T) {
	status := "archived"
	if _, err := (stateapi.Folder{FolderKey: "M1/C1", ProcessingStatus: &status}).Record(); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
	if _, err := (stateapi.Folder{FolderKey: "M1"}).Record(); err == nil {
		t.Fatal("expected one-segment key to be rejected")
	}
}
