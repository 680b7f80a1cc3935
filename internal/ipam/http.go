package ipam

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

// RegisterRoutes вешает маршруты пулов и назначения адресов на r (/api/v1).
func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/ipam").Subrouter()

	// Pools
	// POST /api/v1/ipam/pools  { name, network, item_default, enabled, deprecated }
	api.HandleFunc("/pools", h.createPool).Methods(http.MethodPost)
	api.HandleFunc("/pools", h.listPools).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id}", h.getPool).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id}", h.deletePool).Methods(http.MethodDelete)
	api.HandleFunc("/pools/{id}/populate", h.populate).Methods(http.MethodPost)
	api.HandleFunc("/pools/{id}/flags", h.setFlags).Methods(http.MethodPatch)
	// GET /api/v1/ipam/pools/{id}/addresses?assigned=false&reserved=false
	api.HandleFunc("/pools/{id}/addresses", h.listAddresses).Methods(http.MethodGet)

	// Host binding
	// POST /api/v1/ipam/hosts/{id}/assign  { address_id } | { ip, pool_id }
	api.HandleFunc("/hosts/{id}/assign", h.assign).Methods(http.MethodPost)
	api.HandleFunc("/hosts/{id}/address", h.release).Methods(http.MethodDelete)

	// Form endpoints (available-ips, reserve-ip, release-ip)
	h.registerFormRoutes(api)
}

type poolOut struct {
	models.NetworkLabel
	PoolInfo
}

func describePool(p *models.NetworkLabel) poolOut {
	out := poolOut{NetworkLabel: *p}
	if prefix, err := ParseNetwork(p.Network); err == nil {
		out.PoolInfo = Describe(prefix)
	}
	return out
}

func (h *HTTP) createPool(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name    string `json:"name"`
		Network string `json:"network"`
		models.Flags
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperr.WriteError(w, errors.Wrap(apperr.ErrInvalidArgument, "invalid body (need {name, network})"))
		return
	}
	p, err := h.repo.CreatePool(r.Context(), in.Name, in.Network, in.Flags)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, describePool(p))
}

func (h *HTTP) listPools(w http.ResponseWriter, r *http.Request) {
	ps, err := h.repo.ListPools(r.Context())
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	out := make([]poolOut, 0, len(ps))
	for i := range ps {
		out = append(out, describePool(&ps[i]))
	}
	apperr.WriteJSON(w, http.StatusOK, out)
}

func (h *HTTP) getPool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.repo.GetPool(r.Context(), id)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, describePool(p))
}

func (h *HTTP) deletePool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.repo.DeletePool(r.Context(), id); err != nil {
		apperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) populate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	n, err := h.repo.PopulateAddresses(r.Context(), id)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]int{"inserted": n})
}

func (h *HTTP) setFlags(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var f models.Flags
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		apperr.WriteError(w, errors.Wrap(apperr.ErrInvalidArgument, "invalid body"))
		return
	}
	p, err := h.repo.SetPoolFlags(r.Context(), id, f)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, describePool(p))
}

func (h *HTTP) listAddresses(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var f AddressFilter
	for key, dst := range map[string]**bool{"assigned": &f.Assigned, "reserved": &f.Reserved} {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			apperr.WriteError(w, errors.Wrapf(apperr.ErrInvalidArgument, "%s must be a boolean", key))
			return
		}
		*dst = &v
	}
	as, err := h.repo.ListAddresses(r.Context(), id, f)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, as)
}

func (h *HTTP) assign(w http.ResponseWriter, r *http.Request) {
	hostID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in struct {
		AddressID uint   `json:"address_id"`
		IP        string `json:"ip"`
		PoolID    uint   `json:"pool_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperr.WriteError(w, errors.Wrap(apperr.ErrInvalidArgument, "invalid body"))
		return
	}

	var (
		addr *models.NetworkAddress
		err  error
	)
	switch {
	case in.AddressID != 0:
		addr, err = h.repo.Assign(r.Context(), hostID, in.AddressID)
	case in.IP != "" && in.PoolID != 0:
		addr, err = h.repo.AssignManual(r.Context(), hostID, in.IP, in.PoolID)
	default:
		err = errors.Wrap(apperr.ErrInvalidArgument, "need address_id or {ip, pool_id}")
	}
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, addr)
}

func (h *HTTP) release(w http.ResponseWriter, r *http.Request) {
	hostID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.repo.Release(r.Context(), hostID); err != nil {
		apperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (uint, bool) {
	idU, err := strconv.ParseUint(mux.Vars(r)[key], 10, 64)
	if err != nil || idU == 0 {
		apperr.WriteError(w, errors.Wrapf(apperr.ErrInvalidArgument, "invalid %s", key))
		return 0, false
	}
	return uint(idU), true
}
