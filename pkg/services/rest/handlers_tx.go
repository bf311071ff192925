package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/obytehq/walletsrv/pkg/joint"
	"github.com/obytehq/walletsrv/pkg/services/coordinator"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
)

func (s *Service) handleCreateTx(w http.ResponseWriter, r *http.Request) {
	var req coordinator.CreateTxRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	tx, err := s.engine.CreateTx(r.Context(), requestAuth(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, tx)
}

func (s *Service) handlePublishTx(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProposalSignature string `json:"proposalSignature"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	tx, err := s.engine.PublishTx(r.Context(), requestAuth(r), chi.URLParam(r, "id"), req.ProposalSignature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, tx)
}

func (s *Service) handleSignTx(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signatures map[string]string `json:"signatures"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	tx, err := s.engine.SignTx(requestAuth(r), chi.URLParam(r, "id"), req.Signatures)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, tx)
}

func (s *Service) handleRejectTx(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	tx, err := s.engine.RejectTx(requestAuth(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, tx)
}

func (s *Service) handleBroadcastTx(w http.ResponseWriter, r *http.Request) {
	tx, err := s.engine.BroadcastTx(r.Context(), requestAuth(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, tx)
}

func (s *Service) handleRemoveTx(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveTx(requestAuth(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, struct{}{})
}

func (s *Service) handleGetTx(w http.ResponseWriter, r *http.Request) {
	tx, err := s.engine.GetTx(requestAuth(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, tx)
}

func (s *Service) handleGetTxs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	minTs, _ := strconv.ParseInt(q.Get("minTs"), 10, 64)
	maxTs, _ := strconv.ParseInt(q.Get("maxTs"), 10, 64)
	txs, err := s.engine.GetTxs(requestAuth(r), coordinator.TxFilter{
		Status:    q.Get("status"),
		App:       q.Get("app"),
		MinTs:     minTs,
		MaxTs:     maxTs,
		Limit:     limit,
		IsPending: q.Get("isPending") == "1" || q.Get("isPending") == "true",
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, txs)
}

func (s *Service) handleGetPendingTxs(w http.ResponseWriter, r *http.Request) {
	txs, err := s.engine.GetPendingTxs(requestAuth(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, txs)
}

func (s *Service) handleBroadcastRaw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Joint *joint.Joint `json:"joint"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Joint == nil {
		s.writeError(w, werr.New("INVALID_REQUEST", "Missing joint"))
		return
	}
	unit, err := s.engine.BroadcastRaw(r.Context(), req.Joint)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"unit": unit})
}

func (s *Service) handleGetRawTx(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.GetRawTx(r.Context(), chi.URLParam(r, "txid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, rec)
}

func (s *Service) handleGetTxNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.engine.GetTxNote(requestAuth(r), chi.URLParam(r, "txid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if note == nil {
		s.writeJSON(w, struct{}{})
		return
	}
	s.writeJSON(w, note)
}

func (s *Service) handleEditTxNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	note, err := s.engine.EditTxNote(requestAuth(r), chi.URLParam(r, "txid"), req.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, note)
}

func (s *Service) handleGetTxNotes(w http.ResponseWriter, r *http.Request) {
	minTs, _ := strconv.ParseInt(r.URL.Query().Get("minTs"), 10, 64)
	notes, err := s.engine.GetTxNotes(requestAuth(r), minTs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, notes)
}

func (s *Service) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.engine.GetAssets()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, assets)
}

func (s *Service) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.engine.GetAsset(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, asset)
}

func (s *Service) handleGetFiatRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := q.Get("provider")
	if provider == "" && len(s.rates.Providers) > 0 {
		provider = s.rates.Providers[0].Name
	}
	var ts time.Time
	if v, err := strconv.ParseInt(q.Get("ts"), 10, 64); err == nil && v > 0 {
		ts = time.Unix(v, 0)
	}
	rate, err := s.engine.GetFiatRate(provider, chi.URLParam(r, "code"), ts, s.rates.MaxLookBackTime)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, rate)
}

func (s *Service) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	var sub wallet.PushSubscription
	if err := decodeBody(r, &sub); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.PushSubscribe(requestAuth(r), sub); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, struct{}{})
}

func (s *Service) handlePushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.PushUnsubscribe(requestAuth(r), chi.URLParam(r, "token")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, struct{}{})
}

func (s *Service) handleTxConfirmationSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxID string `json:"txid"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.TxConfirmationSubscribe(requestAuth(r), req.TxID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, struct{}{})
}

func (s *Service) handleTxConfirmationUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.TxConfirmationUnsubscribe(requestAuth(r), chi.URLParam(r, "txid")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, struct{}{})
}
