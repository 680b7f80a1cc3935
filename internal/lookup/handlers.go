package lookup

import (
	"encoding/json"
	"net/http"
	"strconv"

	"hostinv/internal/apperr"
	"hostinv/internal/models"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

type HTTP struct{ repo *Repo }

func NewHTTP(r *Repo) *HTTP { return &HTTP{repo: r} }

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/lookups").Subrouter()

	api.HandleFunc("", h.categories).Methods(http.MethodGet)
	api.HandleFunc("/{category}", h.list).Methods(http.MethodGet)
	// POST /api/v1/lookups/{category}  { name, item_default, enabled, deprecated }
	api.HandleFunc("/{category}", h.create).Methods(http.MethodPost)
	api.HandleFunc("/{category}/default", h.getDefault).Methods(http.MethodGet)
	api.HandleFunc("/{category}/{id:[0-9]+}", h.get).Methods(http.MethodGet)
	api.HandleFunc("/{category}/{id:[0-9]+}", h.delete).Methods(http.MethodDelete)
	api.HandleFunc("/{category}/{id:[0-9]+}/{action:default|enable|disable|deprecate}", h.action).Methods(http.MethodPost)
}

func (h *HTTP) categories(w http.ResponseWriter, _ *http.Request) {
	apperr.WriteJSON(w, http.StatusOK, Categories())
}

func (h *HTTP) list(w http.ResponseWriter, r *http.Request) {
	out, err := h.repo.List(r.Context(), Category(mux.Vars(r)["category"]))
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, out)
}

func (h *HTTP) create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
		models.Flags
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperr.WriteError(w, errors.Wrap(apperr.ErrInvalidArgument, "invalid body (need {name})"))
		return
	}
	e, err := h.repo.Create(r.Context(), Category(mux.Vars(r)["category"]), in.Name, in.Flags)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, e)
}

func (h *HTTP) getDefault(w http.ResponseWriter, r *http.Request) {
	e, err := h.repo.Default(r.Context(), Category(mux.Vars(r)["category"]))
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, e)
}

func (h *HTTP) get(w http.ResponseWriter, r *http.Request) {
	c, id, ok := target(w, r)
	if !ok {
		return
	}
	e, err := h.repo.Get(r.Context(), c, id)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, e)
}

func (h *HTTP) delete(w http.ResponseWriter, r *http.Request) {
	c, id, ok := target(w, r)
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), c, id); err != nil {
		apperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) action(w http.ResponseWriter, r *http.Request) {
	c, id, ok := target(w, r)
	if !ok {
		return
	}
	var (
		e   *models.LookupEntry
		err error
	)
	switch mux.Vars(r)["action"] {
	case "default":
		e, err = h.repo.SetDefault(r.Context(), c, id)
	case "enable":
		e, err = h.repo.SetEnabled(r.Context(), c, id, true)
	case "disable":
		e, err = h.repo.SetEnabled(r.Context(), c, id, false)
	case "deprecate":
		e, err = h.repo.SetDeprecated(r.Context(), c, id)
	}
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, e)
}

func target(w http.ResponseWriter, r *http.Request) (Category, uint, bool) {
	v := mux.Vars(r)
	idU, err := strconv.ParseUint(v["id"], 10, 64)
	if err != nil || idU == 0 {
		apperr.WriteError(w, errors.Wrap(apperr.ErrInvalidArgument, "invalid id"))
		return "", 0, false
	}
	return Category(v["category"]), uint(idU), true
}
