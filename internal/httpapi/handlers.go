package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"familytree/internal/core"
	"familytree/internal/export"
	"familytree/pkg/domain"
)

const maxBodyBytes = 1 << 20

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// validID rejects malformed path ids before they reach the service.
func (h *handler) validID(param, entity string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !idPattern.MatchString(chi.URLParam(r, param)) {
				writeJSON(w, h.logger, http.StatusBadRequest, envelope{
					Error: "Invalid " + entity + " ID format",
					Code:  "invalid_id",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.badRequest(w, "invalid_body", "Invalid request body", err.Error())
	return false
}

func missing(in *core.PersonInput, requireSex bool) []string {
	var out []string
	if strings.TrimSpace(in.FullName) == "" {
		out = append(out, "fullName")
	}
	if requireSex && in.Sex == "" {
		out = append(out, "sex")
	}
	return out
}

func validState(u *core.UnionInfo) bool {
	switch u.State {
	case "", domain.StateMarried, domain.StateDivorced, domain.StateWidowed:
		return true
	}
	return false
}

func (h *handler) getTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.svc.GetTree(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, tree)
}

func (h *handler) getPerson(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetPerson(r.Context(), chi.URLParam(r, "personId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, detail)
}

type initTreeRequest struct {
	GrandFather  *core.PersonInput `json:"grandFather"`
	GrandMother  *core.PersonInput `json:"grandMother"`
	Relationship *core.UnionInfo   `json:"relationship"`
}

func (h *handler) initTree(w http.ResponseWriter, r *http.Request) {
	var req initTreeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.GrandFather == nil || req.GrandMother == nil || req.Relationship == nil {
		h.badRequest(w, "missing_fields", "Missing required family members or relationship data")
		return
	}
	for _, role := range []struct {
		name string
		in   *core.PersonInput
	}{{"Grandfather", req.GrandFather}, {"Grandmother", req.GrandMother}} {
		if fields := missing(role.in, false); len(fields) > 0 {
			h.badRequest(w, "missing_fields", "Missing required fields for "+role.name+": "+strings.Join(fields, ", "), fields...)
			return
		}
	}
	if !validState(req.Relationship) {
		h.badRequest(w, string(domain.ReasonInvalidState), "Invalid relationship state")
		return
	}
	res, err := h.svc.InitTree(r.Context(), *req.GrandFather, *req.GrandMother, *req.Relationship)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, res)
}

type addSpouseRequest struct {
	Spouse       *core.PersonInput `json:"spouse"`
	Relationship *core.UnionInfo   `json:"relationship"`
}

func (h *handler) addSpouse(w http.ResponseWriter, r *http.Request) {
	var req addSpouseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Spouse == nil {
		h.badRequest(w, "missing_fields", "Missing required fields: spouse")
		return
	}
	if fields := missing(req.Spouse, false); len(fields) > 0 {
		h.badRequest(w, "missing_fields", "Missing required spouse fields: "+strings.Join(fields, ", "), fields...)
		return
	}
	var union core.UnionInfo
	if req.Relationship != nil {
		union = *req.Relationship
	}
	if !validState(&union) {
		h.badRequest(w, string(domain.ReasonInvalidState), "Invalid relationship state")
		return
	}
	res, err := h.svc.AddSpouse(r.Context(), chi.URLParam(r, "personId"), *req.Spouse, union)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, res)
}

type addChildRequest struct {
	Child *core.PersonInput `json:"child"`
}

func (h *handler) addChild(w http.ResponseWriter, r *http.Request) {
	var req addChildRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Child == nil {
		h.badRequest(w, "missing_fields", "Missing required fields: child")
		return
	}
	if fields := missing(req.Child, true); len(fields) > 0 {
		h.badRequest(w, "missing_fields", "Missing required child fields: "+strings.Join(fields, ", "), fields...)
		return
	}
	res, err := h.svc.AddChild(r.Context(), chi.URLParam(r, "relationshipId"), *req.Child)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, res)
}

func (h *handler) updatePerson(w http.ResponseWriter, r *http.Request) {
	var patch core.PersonPatch
	if !h.decode(w, r, &patch) {
		return
	}
	person, err := h.svc.UpdatePerson(r.Context(), chi.URLParam(r, "personId"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, person)
}

func (h *handler) updateRelationship(w http.ResponseWriter, r *http.Request) {
	var patch core.RelationshipPatch
	if !h.decode(w, r, &patch) {
		return
	}
	union, err := h.svc.UpdateRelationship(r.Context(), chi.URLParam(r, "relationshipId"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, union)
}

type deletionView struct {
	Person        core.PersonRef      `json:"person"`
	Relationships []core.DeletedUnion `json:"relationships"`
	Origin        *core.OriginRef     `json:"origin,omitempty"`
}

type deleteResponse struct {
	DeletionSummary deletionView         `json:"deletionSummary"`
	AffectedRecords core.AffectedRecords `json:"affectedRecords"`
}

func (h *handler) deletePerson(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.DeletePerson(r.Context(), chi.URLParam(r, "personId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	unions := summary.Relationships
	if unions == nil {
		unions = []core.DeletedUnion{}
	}
	writeJSON(w, h.logger, http.StatusOK, envelope{
		Success: true,
		Message: "Person and related relationships successfully deleted",
		Data: deleteResponse{
			DeletionSummary: deletionView{Person: summary.Person, Relationships: unions, Origin: summary.Origin},
			AffectedRecords: summary.AffectedRecords,
		},
	})
}

func (h *handler) exportsEnabled(w http.ResponseWriter) bool {
	if h.exporter == nil {
		writeJSON(w, h.logger, http.StatusNotImplemented, envelope{Error: "exports are not configured", Code: "exports_disabled"})
		return false
	}
	return true
}

func (h *handler) createExport(w http.ResponseWriter, r *http.Request) {
	if !h.exportsEnabled(w) {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.badRequest(w, "invalid_format", err.Error())
		return
	}
	res, err := h.exporter.Export(r.Context(), format)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, res)
}

func (h *handler) listExports(w http.ResponseWriter, r *http.Request) {
	if !h.exportsEnabled(w) {
		return
	}
	infos, err := h.exporter.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, infos)
}

func (h *handler) downloadExport(w http.ResponseWriter, r *http.Request) {
	if !h.exportsEnabled(w) {
		return
	}
	name := chi.URLParam(r, "name")
	if name == "" || strings.Contains(name, "..") {
		h.badRequest(w, "invalid_key", "Invalid export name")
		return
	}
	info, rc, err := h.exporter.Open(r.Context(), export.Prefix+name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer func() { _ = rc.Close() }()
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("stream export", "key", info.Key, "error", err)
	}
}
