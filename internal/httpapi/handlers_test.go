package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"familytree/internal/blob"
	"familytree/internal/core"
	"familytree/internal/export"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details []string        `json:"details"`
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
}

func newTestAPI(t *testing.T, withExports bool) *testAPI {
	t.Helper()
	reg := prometheus.NewRegistry()
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(), core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(reg)))
	opts := Options{
		Service:        svc,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		RequestTimeout: 5 * time.Second,
	}
	if withExports {
		opts.Exporter = export.New(svc, blob.NewMemory())
	}
	return &testAPI{t: t, handler: NewRouter(opts)}
}

func (a *testAPI) do(method, path, body string) (int, apiResponse) {
	a.t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	var resp apiResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			a.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, resp
}

func (a *testAPI) expect(method, path, body string, status int, code string) apiResponse {
	a.t.Helper()
	got, resp := a.do(method, path, body)
	if got != status {
		a.t.Fatalf("%s %s: expected %d, got %d (%+v)", method, path, status, got, resp)
	}
	if code != "" && resp.Code != code {
		a.t.Fatalf("%s %s: expected code %s, got %s (%s)", method, path, code, resp.Code, resp.Error)
	}
	if resp.Success != (status < 300) {
		a.t.Fatalf("%s %s: success flag %v for status %d", method, path, resp.Success, status)
	}
	return resp
}

func decodeData[T any](t *testing.T, resp apiResponse) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		t.Fatalf("decode data %s: %v", resp.Data, err)
	}
	return out
}

const initBody = `{
	"grandFather": {"fullName": "Ivan Petrenko", "birth": {"date": "1920-01-01", "place": "Lviv"}},
	"grandMother": {"fullName": "Olena Petrenko", "birth": {"date": "1922-01-01"}},
	"relationship": {"marriageInfo": {"startDate": "1945-06-01"}}
}`

func TestTreeLifecycle(t *testing.T) {
	api := newTestAPI(t, false)

	root := decodeData[core.InitTreeResult](t, api.expect(http.MethodPost, "/tree/init-tree", initBody, http.StatusCreated, ""))
	if root.GrandFather.FullName != "Ivan Petrenko" || root.RootRelationship.State != "married" {
		t.Fatalf("unexpected init result %+v", root)
	}
	api.expect(http.MethodPost, "/tree/init-tree", initBody, http.StatusConflict, "tree_already_initialized")

	unionPath := "/tree/child/" + root.RootRelationship.ID
	api.expect(http.MethodPost, unionPath, `{"child": {"fullName": "Taras"}}`, http.StatusBadRequest, "missing_fields")
	api.expect(http.MethodPost, unionPath,
		`{"child": {"fullName": "Early", "sex": "male", "birth": {"date": "1940-01-01"}}}`,
		http.StatusBadRequest, "child_before_union_start")
	child := decodeData[core.AddChildResult](t, api.expect(http.MethodPost, unionPath,
		`{"child": {"fullName": "Taras Petrenko", "sex": "male", "birth": {"date": "1950-02-03"}}}`,
		http.StatusCreated, ""))
	if child.Relationship.ChildrenCount == nil || *child.Relationship.ChildrenCount != 1 {
		t.Fatalf("unexpected child result %+v", child)
	}

	spouse := decodeData[core.AddSpouseResult](t, api.expect(http.MethodPost, "/tree/spouse/"+child.Child.ID,
		`{"spouse": {"fullName": "Maria Koval", "birth": {"date": "1952-05-05"}}}`, http.StatusCreated, ""))
	if spouse.Spouse.Sex != "female" || spouse.Relationship.State != "married" {
		t.Fatalf("unexpected spouse result %+v", spouse)
	}

	tree := decodeData[core.TreeView](t, api.expect(http.MethodGet, "/tree", "", http.StatusOK, ""))
	if len(tree.People) != 4 || len(tree.Relationships) != 2 {
		t.Fatalf("unexpected tree %+v", tree)
	}

	detail := api.expect(http.MethodGet, "/tree/person/"+child.Child.ID, "", http.StatusOK, "")
	if !strings.Contains(string(detail.Data), `"origin"`) || !strings.Contains(string(detail.Data), `"Maria Koval"`) {
		t.Fatalf("unexpected person detail %s", detail.Data)
	}

	api.expect(http.MethodPut, "/tree/person/"+child.Child.ID, `{"fullName": "Taras I. Petrenko"}`, http.StatusOK, "")
	api.expect(http.MethodPut, "/tree/person/"+child.Child.ID, `{"sex": "female"}`, http.StatusBadRequest, "sex_locked")

	relPath := "/tree/relationship/" + spouse.Relationship.ID
	api.expect(http.MethodPut, relPath, `{"state": "divorced"}`, http.StatusOK, "")
	api.expect(http.MethodPut, relPath, `{"state": "married"}`, http.StatusConflict, "illegal_state_transition")

	api.expect(http.MethodDelete, "/tree/person/"+root.GrandFather.ID, "", http.StatusBadRequest, "person_is_parent")

	del := api.expect(http.MethodDelete, "/tree/person/"+spouse.Spouse.ID, "", http.StatusOK, "")
	type deletion struct {
		DeletionSummary struct {
			Person        core.PersonRef      `json:"person"`
			Relationships []core.DeletedUnion `json:"relationships"`
		} `json:"deletionSummary"`
		AffectedRecords core.AffectedRecords `json:"affectedRecords"`
	}
	summary := decodeData[deletion](t, del)
	if summary.AffectedRecords.Persons != 1 || summary.AffectedRecords.Relationships != 1 ||
		summary.DeletionSummary.Relationships[0].OtherSpouse.ID != child.Child.ID || del.Message == "" {
		t.Fatalf("unexpected deletion %+v", summary)
	}
}

func TestRequestShapeChecks(t *testing.T) {
	api := newTestAPI(t, false)
	api.expect(http.MethodGet, "/tree/person/bad.id", "", http.StatusBadRequest, "invalid_id")
	api.expect(http.MethodPost, "/tree/child/bad.id", `{}`, http.StatusBadRequest, "invalid_id")
	api.expect(http.MethodGet, "/tree/person/unknown", "", http.StatusNotFound, "not_found")
	api.expect(http.MethodPost, "/tree/init-tree", `{"grandFather": {"fullName": "A"}}`, http.StatusBadRequest, "missing_fields")
	resp := api.expect(http.MethodPost, "/tree/init-tree",
		`{"grandFather": {"fullName": "A"}, "grandMother": {}, "relationship": {}}`, http.StatusBadRequest, "missing_fields")
	if len(resp.Details) != 1 || resp.Details[0] != "fullName" {
		t.Fatalf("expected fullName detail, got %v", resp.Details)
	}
	api.expect(http.MethodPost, "/tree/init-tree",
		`{"grandFather": {"fullName": "A"}, "grandMother": {"fullName": "B"}, "relationship": {"state": "engaged"}}`,
		http.StatusBadRequest, "invalid_state")
	api.expect(http.MethodPost, "/tree/init-tree", `{not json`, http.StatusBadRequest, "invalid_body")
	api.expect(http.MethodPost, "/tree/spouse/unknown", `{}`, http.StatusBadRequest, "missing_fields")
	api.expect(http.MethodPost, "/tree/spouse/unknown", `{"spouse": {"fullName": "X"}}`, http.StatusNotFound, "not_found")
	api.expect(http.MethodPost, "/tree/child/unknown", `{}`, http.StatusBadRequest, "missing_fields")
	api.expect(http.MethodPut, "/tree/relationship/unknown", `{"state": "divorced"}`, http.StatusNotFound, "not_found")
}

func TestExportEndpoints(t *testing.T) {
	api := newTestAPI(t, true)
	api.expect(http.MethodPost, "/tree/init-tree", initBody, http.StatusCreated, "")

	res := decodeData[export.Result](t, api.expect(http.MethodPost, "/tree/export?format=yaml", "", http.StatusCreated, ""))
	if res.Format != export.FormatYAML || res.People != 2 || !strings.HasPrefix(res.Key, export.Prefix) {
		t.Fatalf("unexpected export %+v", res)
	}
	api.expect(http.MethodPost, "/tree/export?format=xml", "", http.StatusBadRequest, "invalid_format")

	list := decodeData[[]blob.Info](t, api.expect(http.MethodGet, "/tree/exports", "", http.StatusOK, ""))
	if len(list) != 1 || list[0].Key != res.Key {
		t.Fatalf("unexpected list %+v", list)
	}

	req := httptest.NewRequest(http.MethodGet, "/tree/exports/"+strings.TrimPrefix(res.Key, export.Prefix), nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/yaml" ||
		!bytes.Contains(rec.Body.Bytes(), []byte("fullName: Ivan Petrenko")) {
		t.Fatalf("unexpected download %d %q %s", rec.Code, rec.Header().Get("Content-Type"), rec.Body.String())
	}
	api.expect(http.MethodGet, "/tree/exports/missing.json", "", http.StatusNotFound, "not_found")
}

func TestExportsDisabled(t *testing.T) {
	api := newTestAPI(t, false)
	api.expect(http.MethodPost, "/tree/export", "", http.StatusNotImplemented, "exports_disabled")
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, false)
	api.expect(http.MethodGet, "/healthz", "", http.StatusOK, "")
	api.expect(http.MethodPost, "/tree/init-tree", initBody, http.StatusCreated, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `familytree_operations_total{operation="init_tree",status="success"} 1`) {
		t.Fatalf("unexpected metrics output %d %s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := NewRouter(Options{Service: core.NewInMemoryService(core.NewDefaultRulesEngine()), CORSOrigins: []string{"https://tree.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/tree", nil)
	req.Header.Set("Origin", "https://tree.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://tree.example" {
		t.Fatalf("expected allowed origin header, got %q", got)
	}
}
