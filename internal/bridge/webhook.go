package bridge

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// PublicHandler serves the simulator-facing webhook and the admin surface.
type PublicHandler struct {
	log     zerolog.Logger
	svc     *Service
	version string
}

func NewPublicHandler(svc *Service, version string, log zerolog.Logger) *PublicHandler {
	return &PublicHandler{
		log:     log,
		svc:     svc,
		version: version,
	}
}

func (h *PublicHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/sim/event", h.handleSimEvent).Methods(http.MethodPost)
	r.HandleFunc("/admin/bridge/enable", h.handleEnableBridge).Methods(http.MethodPost)
	r.HandleFunc("/admin/bridge/resync", h.handleResync).Methods(http.MethodPost)
	r.HandleFunc("/admin/bridge/list", h.handleListBridges).Methods(http.MethodGet)
	r.HandleFunc("/admin/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/admin/oar/download", h.handleOARDownload).Methods(http.MethodPost)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	return r
}

func (h *PublicHandler) checkBridgeSecret(w http.ResponseWriter, r *http.Request) bool {
	secret := r.Header.Get("X-Bridge-Secret")
	if secret == "" || !secretEquals(secret, h.svc.cfg.OpenSim.BridgeSecret) {
		jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return false
	}
	return true
}

type simEvent struct {
	Type      string `json:"type"`
	GroupUUID string `json:"group_uuid"`
	FromUUID  string `json:"from_uuid"`
	FromName  string `json:"from_name"`
	Message   string `json:"message"`
}

// handleSimEvent receives group chat events pushed by the simulator's
// injection module.
func (h *PublicHandler) handleSimEvent(w http.ResponseWriter, r *http.Request) {
	if !h.checkBridgeSecret(w, r) {
		return
	}
	var evt simEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if evt.Type != "group_message" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "unknown event type"})
		return
	}
	groupID, err := uuid.Parse(evt.GroupUUID)
	if err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid group_uuid"})
		return
	}
	senderID, err := uuid.Parse(evt.FromUUID)
	if err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid from_uuid"})
		return
	}
	if evt.FromName == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "missing field: from_name"})
		return
	}
	if evt.Message == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "missing field: message"})
		return
	}

	if err = h.svc.RelayFromSim(r.Context(), groupID, senderID, evt.FromName, evt.Message); err != nil {
		h.log.Err(err).
			Str("group_id", evt.GroupUUID).
			Msg("Failed to relay simulator event")
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

type enableBridgeRequest struct {
	GroupUUID         string `json:"GroupUuid"`
	GroupName         string `json:"GroupName"`
	FounderAvatarUUID string `json:"FounderAvatarUuid"`
}

// handleEnableBridge is called by grid management tooling on a trusted
// network, so it carries no secret of its own.
func (h *PublicHandler) handleEnableBridge(w http.ResponseWriter, r *http.Request) {
	var req enableBridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.GroupName == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "missing field: GroupName"})
		return
	}
	groupID, err := uuid.Parse(req.GroupUUID)
	if err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid GroupUuid"})
		return
	}
	founderID, err := uuid.Parse(req.FounderAvatarUUID)
	if err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid FounderAvatarUuid"})
		return
	}

	roomID, err := h.svc.EnableBridge(r.Context(), groupID, req.GroupName, founderID)
	if err != nil {
		h.log.Err(err).
			Str("group_id", req.GroupUUID).
			Msg("Failed to enable bridge")
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"roomId": roomID.String()})
}

type resyncRequest struct {
	GroupUUID string `json:"GroupUuid"`
}

func (h *PublicHandler) handleResync(w http.ResponseWriter, r *http.Request) {
	if !h.checkBridgeSecret(w, r) {
		return
	}
	var req resyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GroupUUID == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "GroupUuid required"})
		return
	}
	groupID, err := uuid.Parse(req.GroupUUID)
	if err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid GroupUuid"})
		return
	}

	synced, err := h.svc.ResyncGroup(r.Context(), groupID)
	if err != nil {
		if !errors.Is(err, ErrNotEnabled) {
			h.log.Err(err).
				Str("group_id", req.GroupUUID).
				Msg("Failed to resync group")
		}
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"status": "resynced", "synced": synced})
}

type bridgeInfo struct {
	GroupUUID string    `json:"group_uuid"`
	RoomID    string    `json:"room_id"`
	EnabledBy string    `json:"enabled_by"`
	EnabledAt time.Time `json:"enabled_at"`
}

func (h *PublicHandler) handleListBridges(w http.ResponseWriter, r *http.Request) {
	if !h.checkBridgeSecret(w, r) {
		return
	}
	bridges, err := h.svc.ListBridges(r.Context())
	if err != nil {
		h.log.Err(err).Msg("Failed to list bridges")
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	infos := make([]bridgeInfo, len(bridges))
	for i, gb := range bridges {
		infos[i] = bridgeInfo{
			GroupUUID: gb.GroupID.String(),
			RoomID:    gb.RoomID.String(),
			EnabledBy: gb.EnabledBy.String(),
			EnabledAt: gb.EnabledAt,
		}
	}
	jsonResponse(w, http.StatusOK, map[string]any{"bridges": infos, "count": len(infos)})
}

func (h *PublicHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{
		"service":    ServiceName,
		"version":    h.version,
		"homeserver": h.svc.cfg.Matrix.Homeserver,
		"bot":        h.svc.matrix.BotMXID().String(),
	})
}

// handleOARDownload is a placeholder for region backup management, which
// needs the simulator's remote admin console wired up first.
func (h *PublicHandler) handleOARDownload(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusNotImplemented, map[string]string{
		"status": "not_implemented",
		"note":   "OAR download requires remote admin console support",
	})
}

func (h *PublicHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "service": ServiceName})
}
