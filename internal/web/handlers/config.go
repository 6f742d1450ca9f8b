package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	holder *config.Holder
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(holder *config.Holder) *ConfigHandler {
	return &ConfigHandler{holder: holder}
}

// ConfigResponse represents the runtime-tunable configuration
type ConfigResponse struct {
	ThresholdVerify        float64  `json:"thresholdVerify"`
	ThresholdCluster       float64  `json:"thresholdCluster"`
	VideoInterval          float64  `json:"videoInterval"`
	MinClusterSamples      int      `json:"minClusterSamples"`
	DuplicateFaceThreshold float64  `json:"duplicateFaceThreshold"`
	IPWhitelist            []string `json:"ipWhitelist"`
}

func newConfigResponse(cfg *config.Config) ConfigResponse {
	whitelist := cfg.Auth.IPWhitelist
	if whitelist == nil {
		whitelist = []string{}
	}
	return ConfigResponse{
		ThresholdVerify:        cfg.Analysis.ThresholdVerify,
		ThresholdCluster:       cfg.Analysis.ThresholdCluster,
		VideoInterval:          cfg.Analysis.VideoSampleInterval,
		MinClusterSamples:      cfg.Analysis.MinClusterSamples,
		DuplicateFaceThreshold: cfg.Analysis.DuplicateFaceThreshold,
		IPWhitelist:            whitelist,
	}
}

// Get returns the current analysis and whitelist settings
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondOK(w, "ok", newConfigResponse(h.holder.Current()))
}

// Update applies a partial update. It takes effect for operations that start
// after it returns; running analyses keep their settings.
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req config.Update
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsEmpty() {
		respondError(w, http.StatusBadRequest, "no settings to update")
		return
	}

	cfg, err := h.holder.Update(req)
	if errors.Is(err, config.ErrInvalid) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("config update failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to write configuration")
		return
	}
	respondOK(w, "configuration updated", newConfigResponse(cfg))
}
