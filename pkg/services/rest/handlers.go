package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/obytehq/walletsrv/pkg/explorer"
	"github.com/obytehq/walletsrv/pkg/services/coordinator"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
)

func (s *Service) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req coordinator.CreateWalletRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.engine.CreateWallet(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"walletId": id})
}

func (s *Service) handleJoinWallet(w http.ResponseWriter, r *http.Request) {
	var req coordinator.JoinWalletRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	req.WalletID = chi.URLParam(r, "id")
	res, err := s.engine.JoinWallet(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, res)
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.GetStatus(requestAuth(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, status)
}

// handleGetStatusByIdentifier resolves a wallet id, address or txid into a
// wallet status. Resolution beyond the caller's own wallet id is gated to
// support staff.
func (s *Service) handleGetStatusByIdentifier(w http.ResponseWriter, r *http.Request) {
	auth := requestAuth(r)
	identifier := chi.URLParam(r, "identifier")
	if identifier != auth.Wallet.ID {
		if !auth.Lookup.IsSupportStaff {
			s.writeError(w, werr.ErrNotAuthorized)
			return
		}
		wlt, err := s.engine.GetWalletFromIdentifier(identifier)
		if err != nil {
			s.writeError(w, err)
			return
		}
		auth = &coordinator.Auth{Wallet: wlt, Copayer: auth.Copayer, Lookup: auth.Lookup}
	}
	status, err := s.engine.GetStatus(auth)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, status)
}

func (s *Service) handleUpdateWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name,omitempty"`
		CopayerName string `json:"copayerName,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	auth := requestAuth(r)
	if req.Name != "" {
		if err := s.engine.UpdateWalletName(auth, req.Name); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.CopayerName != "" {
		if err := s.engine.UpdateCopayerName(auth, req.CopayerName); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, struct{}{})
}

func (s *Service) handleGetCopayersByDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		s.writeError(w, werr.New("INVALID_REQUEST", "deviceId is required"))
		return
	}
	lookups, err := s.engine.GetCopayersByDevice(deviceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, lookups)
}

func (s *Service) handleAddAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestPubKey string `json:"requestPubKey"`
		Signature     string `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.AddAccess(chi.URLParam(r, "id"), req.RequestPubKey, req.Signature); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, struct{}{})
}

func (s *Service) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.engine.GetPreferences(requestAuth(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, prefs)
}

func (s *Service) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs wallet.Preferences
	if err := decodeBody(r, &prefs); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.SavePreferences(requestAuth(r), prefs); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, struct{}{})
}

func (s *Service) handleCreateAddress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IgnoreMaxGap bool `json:"ignoreMaxGap,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	addr, err := s.engine.CreateAddress(r.Context(), requestAuth(r), req.IgnoreMaxGap)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, addr)
}

func (s *Service) handleGetAddresses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	reverse := q.Get("reverse") == "1" || q.Get("reverse") == "true"
	addrs, err := s.engine.GetMainAddresses(requestAuth(r), limit, reverse)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, addrs)
}

func (s *Service) handleScanAddresses(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartingStep int `json:"startingStep,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.StartScan(r.Context(), requestAuth(r), req.StartingStep); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, struct{}{})
}

func (s *Service) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	balances, err := s.engine.GetBalance(r.Context(), requestAuth(r), r.URL.Query().Get("asset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, balances)
}

func (s *Service) handleGetUtxos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var addresses []string
	if raw := q.Get("addresses"); raw != "" {
		addresses = strings.Split(raw, ",")
	}
	utxos, err := s.engine.GetUtxos(r.Context(), requestAuth(r), addresses, q.Get("asset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, utxos)
}

func (s *Service) handleGetTxHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	lastRowID, _ := strconv.ParseInt(q.Get("lastRowId"), 10, 64)
	items, err := s.engine.GetTxHistory(r.Context(), requestAuth(r), explorer.HistoryOptions{
		Asset:     q.Get("asset"),
		Limit:     limit,
		LastRowID: lastRowID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, items)
}

func (s *Service) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var span time.Duration
	if v, err := strconv.Atoi(q.Get("timeSpan")); err == nil && v > 0 {
		span = time.Duration(v) * time.Second
	}
	notifs, err := s.engine.GetNotifications(requestAuth(r), coordinator.NotificationQuery{
		TimeSpan: span,
		AfterID:  q.Get("notificationId"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, notifs)
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	token, err := s.engine.Login(requestCreds(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"session": token})
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Logout(requestAuth(r)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, struct{}{})
}
