package ipam

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"hostinv/internal/apperr"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// RemoteUserHeader несёт имя пользователя, проставленное прокси аутентификации.
const RemoteUserHeader = "X-Remote-User"

func (h *HTTP) registerFormRoutes(api *mux.Router) {
	// GET /api/v1/ipam/available-ips?vlan={poolID}&selected_ip={addressID}
	api.HandleFunc("/available-ips", h.availableIPs).Methods(http.MethodGet)
	// POST /api/v1/ipam/reserve-ip   ip_id=...
	api.HandleFunc("/reserve-ip", h.reserveIP).Methods(http.MethodPost)
	// POST /api/v1/ipam/release-ip   ip_id=...
	api.HandleFunc("/release-ip", h.releaseIP).Methods(http.MethodPost)
}

type availableIP struct {
	ID        uint   `json:"id"`
	IPAddress string `json:"ip_address"`
}

func (h *HTTP) availableIPs(w http.ResponseWriter, r *http.Request) {
	out := []availableIP{}
	q := r.URL.Query()

	// без vlan форма ещё не выбрала сеть: пустой список
	vlan := q.Get("vlan")
	if vlan == "" {
		apperr.WriteJSON(w, http.StatusOK, map[string]any{"available_ips": out})
		return
	}
	poolID, err := strconv.ParseUint(vlan, 10, 64)
	if err != nil || poolID == 0 {
		apperr.WriteError(w, errors.Wrap(apperr.ErrInvalidArgument, "invalid vlan"))
		return
	}
	var exclude *uint
	if s := q.Get("selected_ip"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			apperr.WriteError(w, errors.Wrap(apperr.ErrInvalidArgument, "invalid selected_ip"))
			return
		}
		id := uint(v)
		exclude = &id
	}

	as, err := h.repo.ListAvailable(r.Context(), uint(poolID), exclude)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	for _, a := range as {
		out = append(out, availableIP{ID: a.ID, IPAddress: a.IPAddress})
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]any{"available_ips": out})
}

type result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (h *HTTP) reserveIP(w http.ResponseWriter, r *http.Request) {
	id, identity, err := reservationRequest(r)
	if err == nil {
		_, err = h.repo.Reserve(r.Context(), id, identity)
	}
	writeResult(w, err)
}

func (h *HTTP) releaseIP(w http.ResponseWriter, r *http.Request) {
	id, identity, err := reservationRequest(r)
	if err == nil {
		_, err = h.repo.ReleaseReservation(r.Context(), id, identity)
	}
	writeResult(w, err)
}

func writeResult(w http.ResponseWriter, err error) {
	if err != nil {
		apperr.WriteJSON(w, apperr.Status(err), result{Message: err.Error()})
		return
	}
	apperr.WriteJSON(w, http.StatusOK, result{Success: true})
}

// reservationRequest достаёт ip_id и identity из JSON или формы. Заголовок
// X-Remote-User имеет приоритет над полем identity.
func reservationRequest(r *http.Request) (uint, string, error) {
	var in struct {
		IPID     json.Number `json:"ip_id"`
		Identity string      `json:"identity"`
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return 0, "", errors.Wrap(apperr.ErrInvalidArgument, "invalid body")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return 0, "", errors.Wrap(apperr.ErrInvalidArgument, "invalid form")
		}
		in.IPID = json.Number(r.FormValue("ip_id"))
		in.Identity = r.FormValue("identity")
	}

	id, err := strconv.ParseUint(strings.TrimSpace(in.IPID.String()), 10, 64)
	if err != nil || id == 0 {
		return 0, "", errors.Wrap(apperr.ErrInvalidArgument, "ip_id required")
	}
	identity := strings.TrimSpace(r.Header.Get(RemoteUserHeader))
	if identity == "" {
		identity = strings.TrimSpace(in.Identity)
	}
	if identity == "" {
		return 0, "", errors.Wrap(apperr.ErrInvalidArgument, "identity required")
	}
	return uint(id), identity, nil
}
