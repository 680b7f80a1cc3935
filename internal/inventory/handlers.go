package inventory

import (
	"encoding/json"
	"net/http"
	"strconv"

	"hostinv/internal/apperr"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

type HTTP struct{ repo *Repo }

func NewHTTP(r *Repo) *HTTP { return &HTTP{repo: r} }

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	// Groups
	r.HandleFunc("/groups", h.listGroups).Methods(http.MethodGet)
	// POST /api/v1/groups  { name, group_vars }
	r.HandleFunc("/groups", h.createGroup).Methods(http.MethodPost)
	r.HandleFunc("/groups/{id}", h.getGroup).Methods(http.MethodGet)
	r.HandleFunc("/groups/{id}", h.deleteGroup).Methods(http.MethodDelete)
	r.HandleFunc("/groups/{id}/vars", h.updateGroupVars).Methods(http.MethodPut)
	// POST /api/v1/groups/{id}/tags  { tag }
	r.HandleFunc("/groups/{id}/tags", h.tagGroup).Methods(http.MethodPost)
	r.HandleFunc("/groups/{id}/tags/{tag}", h.untagGroup).Methods(http.MethodDelete)

	// Hosts
	r.HandleFunc("/hosts", h.listHosts).Methods(http.MethodGet)
	r.HandleFunc("/hosts", h.createHost).Methods(http.MethodPost)
	r.HandleFunc("/hosts/{id}", h.getHost).Methods(http.MethodGet)
	r.HandleFunc("/hosts/{id}", h.updateHost).Methods(http.MethodPatch)
	r.HandleFunc("/hosts/{id}", h.deleteHost).Methods(http.MethodDelete)

	// Ansible dynamic inventory
	// GET /api/v1/inventory?tag=WEB&format=yaml
	r.HandleFunc("/inventory", h.inventory).Methods(http.MethodGet)
	r.HandleFunc("/inventory/hosts/{name}", h.hostVars).Methods(http.MethodGet)
}

func (h *HTTP) listGroups(w http.ResponseWriter, r *http.Request) {
	gs, err := h.repo.ListGroups(r.Context())
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, gs)
}

func (h *HTTP) createGroup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name      string         `json:"name"`
		GroupVars map[string]any `json:"group_vars"`
	}
	if !decode(w, r, &in) {
		return
	}
	g, err := h.repo.CreateGroup(r.Context(), in.Name, in.GroupVars)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, g)
}

func (h *HTTP) getGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	g, err := h.repo.GetGroup(r.Context(), id)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, g)
}

func (h *HTTP) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteGroup(r.Context(), id); err != nil {
		apperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) updateGroupVars(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var vars map[string]any
	if !decode(w, r, &vars) {
		return
	}
	g, err := h.repo.UpdateGroupVars(r.Context(), id, vars)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, g)
}

func (h *HTTP) tagGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in struct {
		Tag string `json:"tag"`
	}
	if !decode(w, r, &in) {
		return
	}
	g, err := h.repo.TagGroup(r.Context(), id, in.Tag)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, g)
}

func (h *HTTP) untagGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	g, err := h.repo.UntagGroup(r.Context(), id, mux.Vars(r)["tag"])
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, g)
}

func (h *HTTP) listHosts(w http.ResponseWriter, r *http.Request) {
	hs, err := h.repo.ListHosts(r.Context())
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, hs)
}

func (h *HTTP) createHost(w http.ResponseWriter, r *http.Request) {
	var in HostInput
	if !decode(w, r, &in) {
		return
	}
	host, err := h.repo.CreateHost(r.Context(), in)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, host)
}

func (h *HTTP) getHost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	host, err := h.repo.GetHost(r.Context(), id)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, host)
}

func (h *HTTP) updateHost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in HostUpdate
	if !decode(w, r, &in) {
		return
	}
	host, err := h.repo.UpdateHost(r.Context(), id, in)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, host)
}

func (h *HTTP) deleteHost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteHost(r.Context(), id); err != nil {
		apperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) inventory(w http.ResponseWriter, r *http.Request) {
	doc, err := h.repo.Inventory(r.Context(), r.URL.Query().Get("tag"))
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "yaml" {
		b, err := doc.YAML()
		if err != nil {
			apperr.WriteError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(b)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, doc)
}

func (h *HTTP) hostVars(w http.ResponseWriter, r *http.Request) {
	vars, err := h.repo.HostVars(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, vars)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apperr.WriteError(w, errors.Wrap(apperr.ErrInvalidArgument, "invalid body"))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	idU, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || idU == 0 {
		apperr.WriteError(w, errors.Wrap(apperr.ErrInvalidArgument, "invalid id"))
		return 0, false
	}
	return uint(idU), true
}
