package api

import (
	"net/http"
	"strconv"
	"strings"

	"gymtrack/internal/export"
	"gymtrack/internal/models"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.deps.Connectivity != nil {
		resp["online"] = s.deps.Connectivity.IsOnline()
	}
	if s.deps.Queue != nil {
		resp["pending_actions"] = s.deps.Queue.Status().Count
	}
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.Status())
}

func (s *HTTPServer) handleQueueReplay(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Queue.ReplayAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"result":    res,
		"remaining": s.deps.Queue.Status().Count,
	})
}

func (s *HTTPServer) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Queue.Clear(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.deps.Queue.DeadLetters()})
}

func (s *HTTPServer) handleRequeue(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Queue.RequeueDeadLetters(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

func (s *HTTPServer) handleConnectivity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.deps.Connectivity.IsOnline()})
}

func (s *HTTPServer) handleConnectivitySignal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}
	s.deps.Connectivity.SetOnline(*body.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.deps.Connectivity.IsOnline()})
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.deps.Members.SearchMembers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if members == nil {
		members = []*models.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var m models.Member
	if err := decodeJSON(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	added, err := s.deps.Members.AddMember(r.Context(), &m)
	s.writeMutation(w, true, "member", added, err)
}

func (s *HTTPServer) handleGetMember(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Members.GetMember(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": m})
}

func (s *HTTPServer) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var m models.Member
	if err := decodeJSON(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	m.ID = r.PathValue("id")
	updated, err := s.deps.Members.UpdateMember(r.Context(), &m)
	s.writeMutation(w, false, "member", updated, err)
}

func (s *HTTPServer) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Members.DeleteMember(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleMarkAttendance(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Members.MarkAttendance(r.Context(), r.PathValue("id"))
	s.writeMutation(w, false, "member", m, err)
}

func (s *HTTPServer) handleResetSessions(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Members.ResetSessions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": m})
}

func (s *HTTPServer) handleTodayAttendance(w http.ResponseWriter, r *http.Request) {
	members, err := s.deps.Members.TodayAttendance(r.Context(), s.now())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if members == nil {
		members = []*models.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members, "count": len(members)})
}

func (s *HTTPServer) handleActivities(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	activities, err := s.deps.Members.ListActivities(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if activities == nil {
		activities = []*models.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": activities})
}

func (s *HTTPServer) handleListPayments(w http.ResponseWriter, r *http.Request) {
	var (
		payments []*models.Payment
		err      error
	)
	q := r.URL.Query()
	switch {
	case q.Get("member_id") != "":
		payments, err = s.deps.Payments.PaymentsByMember(r.Context(), q.Get("member_id"))
	case q.Get("status") == models.PaymentStatusPending:
		payments, err = s.deps.Payments.PendingPayments(r.Context())
	default:
		payments, err = s.deps.Payments.ListPayments(r.Context())
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (s *HTTPServer) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	var p models.Payment
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	added, err := s.deps.Payments.AddPayment(r.Context(), &p)
	s.writeMutation(w, true, "payment", added, err)
}

func (s *HTTPServer) handleSessionPayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, memberID, err := s.deps.Payments.AddSessionPayment(r.Context(), body.Name, body.Phone)
	if err != nil && p == nil {
		s.writeServiceError(w, err)
		return
	}
	resp := map[string]any{"payment": p, "member_id": memberID}
	if err != nil {
		resp["deferred"] = true
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *HTTPServer) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Payments.GetPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": p})
}

func (s *HTTPServer) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	var p models.Payment
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p.ID = r.PathValue("id")
	updated, err := s.deps.Payments.UpdatePayment(r.Context(), &p)
	s.writeMutation(w, false, "payment", updated, err)
}

func (s *HTTPServer) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Payments.DeletePayment(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Payments.Pricing(r.Context()))
}

func (s *HTTPServer) handleSavePricing(w http.ResponseWriter, r *http.Request) {
	var p models.PricingSettings
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.deps.Payments.SavePricing(r.Context(), p); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Payments.Pricing(r.Context()))
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	members, err := s.deps.Members.Statistics(r.Context(), now)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payments, err := s.deps.Payments.Statistics(r.Context(), now)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := map[string]any{"members": members, "payments": payments}
	if s.deps.Queue != nil {
		resp["pending_actions"] = s.deps.Queue.Status().Count
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Exporter.Export(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="gymtrack_backup_`+b.ExportedAt.Format("2006-01-02")+`.json"`)
	if err := export.WriteBundle(w, b); err != nil {
		s.logger.Error().Err(err).Msg("write export bundle")
	}
}

func (s *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request) {
	b, err := export.ReadBundle(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Exporter.Import(r.Context(), b)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	path, err := s.deps.Exporter.WriteReport(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}
