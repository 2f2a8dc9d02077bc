package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/flow"
	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/util"
)

func (s *Server) capabilitiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.capabilitiesHandler: processing request", "method", r.Method, "path", r.URL.Path)

	switch r.Method {
	case http.MethodPost:
		var spec models.CapabilitySpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			slog.Warn("Server.capabilitiesHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := s.catalog.Register(spec); err != nil {
			slog.Warn("Server.capabilitiesHandler: registration failed", "error", err, "toolName", spec.ToolName)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Info("Server.capabilitiesHandler: capability registered", "toolName", spec.ToolName)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Capability registered", spec))
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.catalog.List()))
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) capabilityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	toolName := strings.TrimPrefix(r.URL.Path, "/api/v1/capabilities/")
	if toolName == "" || strings.Contains(toolName, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Capability not found"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		spec, ok := s.catalog.Get(toolName)
		if !ok {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Capability not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(spec))
	case http.MethodDelete:
		if _, ok := s.catalog.Get(toolName); !ok {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Capability not found"))
			return
		}
		if err := s.catalog.Delete(toolName); err != nil {
			slog.Error("Server.capabilityHandler: failed to delete capability", "error", err, "toolName", toolName)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete capability"))
			return
		}
		slog.Info("Server.capabilityHandler: capability deleted", "toolName", toolName)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Capability deleted", nil))
	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) bindingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var binding models.ProviderBinding
	if err := json.NewDecoder(r.Body).Decode(&binding); err != nil {
		slog.Warn("Server.bindingsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := binding.Validate(); err != nil {
		slog.Warn("Server.bindingsHandler: validation failed", "error", err, "tenantID", binding.TenantID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.store.SaveBinding(binding); err != nil {
		slog.Error("Server.bindingsHandler: failed to save binding", "error", err, "tenantID", binding.TenantID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save binding"))
		return
	}
	slog.Info("Server.bindingsHandler: binding saved", "tenantID", binding.TenantID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Binding saved", binding.Redacted()))
}

func (s *Server) bindingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	tenantID := strings.TrimPrefix(r.URL.Path, "/api/v1/bindings/")
	if tenantID == "" || strings.Contains(tenantID, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Binding not found"))
		return
	}
	binding, err := s.store.GetBinding(tenantID)
	if err != nil {
		slog.Error("Server.bindingHandler: failed to load binding", "error", err, "tenantID", tenantID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load binding"))
		return
	}
	if binding == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrBindingNotFound.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(binding.Redacted()))
}

func (s *Server) invokeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.invokeHandler: processing invoke request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req flow.InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.invokeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ToolName == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: tool_name"))
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = util.GenerateConversationID()
		slog.Debug("Server.invokeHandler: generated conversation ID", "conversationID", req.ConversationID)
	}

	result, err := s.planner.Invoke(r.Context(), req)
	if err != nil {
		if errors.Is(err, models.ErrCapabilityNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
			return
		}
		slog.Error("Server.invokeHandler: invocation failed", "error", err, "toolName", req.ToolName)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Invocation failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.turnHandler: processing turn request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req flow.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Text == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: text"))
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = util.GenerateConversationID()
		slog.Debug("Server.turnHandler: generated conversation ID", "conversationID", req.ConversationID)
	}

	result, err := s.coordinator.Turn(r.Context(), req)
	if err != nil {
		slog.Error("Server.turnHandler: turn failed", "error", err, "conversationID", req.ConversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Turn processing failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) draftsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required parameter: conversation_id"))
		return
	}
	drafts, err := s.store.ListDraftsByConversation(conversationID)
	if err != nil {
		slog.Error("Server.draftsHandler: failed to list drafts", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list drafts"))
		return
	}
	active := make([]models.Draft, 0, len(drafts))
	for _, d := range drafts {
		if d.Status.IsActive() {
			active = append(active, d)
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(active))
}

func (s *Server) draftHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/drafts/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Draft not found"))
		return
	}
	toolName, conversationID := parts[0], parts[1]

	switch r.Method {
	case http.MethodGet:
		draft, err := s.store.GetDraft(toolName, conversationID)
		if err != nil {
			slog.Error("Server.draftHandler: failed to load draft", "error", err, "toolName", toolName, "conversationID", conversationID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load draft"))
			return
		}
		if draft == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrDraftNotFound.Error()))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(draft))
	case http.MethodDelete:
		draft, err := s.store.GetDraft(toolName, conversationID)
		if err != nil {
			slog.Error("Server.draftHandler: failed to load draft", "error", err, "toolName", toolName, "conversationID", conversationID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load draft"))
			return
		}
		if draft == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrDraftNotFound.Error()))
			return
		}
		if err := s.store.DeleteDraft(toolName, conversationID); err != nil {
			slog.Error("Server.draftHandler: failed to delete draft", "error", err, "toolName", toolName, "conversationID", conversationID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete draft"))
			return
		}
		slog.Info("Server.draftHandler: draft deleted", "toolName", toolName, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Draft deleted", nil))
	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
