package bridge

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ASHandler serves the homeserver-facing half of the appservice API: the
// transaction push and the user existence query.
type ASHandler struct {
	log     zerolog.Logger
	svc     *Service
	hsToken string
}

func NewASHandler(svc *Service, hsToken string, log zerolog.Logger) *ASHandler {
	return &ASHandler{
		log:     log,
		svc:     svc,
		hsToken: hsToken,
	}
}

func (h *ASHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/_matrix/app/v1/transactions/{txnID}", h.handleTransaction).Methods(http.MethodPut)
	// Legacy route used by older homeservers. It carries the same token
	// requirement as the standard route.
	r.HandleFunc("/transactions/{txnID}", h.handleTransaction).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/_matrix/app/v1/users/{userID}", h.handleUserQuery).Methods(http.MethodGet)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	return r
}

func (h *ASHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "service": ServiceName})
}

func (h *ASHandler) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return secretEquals(auth[len(prefix):], h.hsToken)
}

// handleTransaction ingests an event batch. After authentication the
// response is always an empty object with status 200: a non-2xx makes the
// homeserver requeue the whole transaction, and a single bad event must not
// cause a retry storm.
func (h *ASHandler) handleTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		jsonResponse(w, http.StatusUnauthorized, struct{}{})
		return
	}
	txnID := mux.Vars(r)["txnID"]
	h.log.Debug().Str("txn_id", txnID).Msg("Received appservice transaction")

	var txn Transaction
	if err := json.NewDecoder(r.Body).Decode(&txn); err != nil {
		h.log.Warn().Err(err).Str("txn_id", txnID).Msg("Failed to parse transaction body")
		jsonResponse(w, http.StatusOK, struct{}{})
		return
	}
	h.svc.HandleTransaction(r.Context(), &txn)
	jsonResponse(w, http.StatusOK, struct{}{})
}

// handleUserQuery answers the homeserver's "does this appservice manage this
// user" probe. Every user in the reserved namespace is ours, so the answer
// is always yes.
func (h *ASHandler) handleUserQuery(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		jsonResponse(w, http.StatusUnauthorized, struct{}{})
		return
	}
	h.log.Debug().Str("user_id", mux.Vars(r)["userID"]).Msg("User existence query")
	jsonResponse(w, http.StatusOK, struct{}{})
}

func jsonResponse(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
