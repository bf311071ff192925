/*
Package rest serves the HTTP surface of the wallet coordination service.

Every authenticated request carries an x-identity header naming the copayer
and either an x-signature over "method|url|body" or an x-session token
obtained from login. Client errors are returned as {code, message} with
status 400, authorization failures with 401, everything else is a 500.
*/
package rest

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/obytehq/walletsrv/pkg/config"
	"github.com/obytehq/walletsrv/pkg/services/coordinator"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Service is the REST API server.
type Service struct {
	config  config.RPC
	rates   config.FiatRates
	log     *zap.Logger
	engine  *coordinator.Service
	servers []*http.Server
	limiter *createLimiter
	started *atomic.Bool
}

// New creates the REST service over the given coordination engine.
func New(cfg config.Config, log *zap.Logger, engine *coordinator.Service) *Service {
	s := &Service{
		config:  cfg.RPC,
		rates:   cfg.FiatRates,
		log:     log,
		engine:  engine,
		limiter: newCreateLimiter(cfg.RPC.WalletCreationRateLimit, cfg.RPC.WalletCreationSlowDownAfter),
		started: atomic.NewBool(false),
	}
	router := s.newRouter()
	addrs := cfg.RPC.GetAddresses()
	s.servers = make([]*http.Server, len(addrs))
	for i, addr := range addrs {
		s.servers[i] = &http.Server{
			Addr:    addr,
			Handler: router,
		}
	}
	return s
}

// Name returns service name.
func (s *Service) Name() string {
	return "rest"
}

// Start runs the HTTP listeners. The service only starts once, subsequent
// calls are no-op.
func (s *Service) Start() {
	if !s.started.CAS(false, true) {
		return
	}
	for _, srv := range s.servers {
		srv := srv
		s.log.Info("starting rest service", zap.String("endpoint", srv.Addr))
		go func() {
			err := srv.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				s.log.Error("failed to start rest service",
					zap.String("endpoint", srv.Addr), zap.Error(err))
			}
		}()
	}
}

// Shutdown stops the listeners, waiting for in-flight requests.
func (s *Service) Shutdown() {
	if !s.started.CAS(true, false) {
		return
	}
	for _, srv := range s.servers {
		s.log.Info("stopping rest service", zap.String("endpoint", srv.Addr))
		if err := srv.Shutdown(context.Background()); err != nil {
			s.log.Error("error during rest service shutdown", zap.Error(err))
		}
	}
}

func (s *Service) newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cors)
	r.Use(s.logRequests)
	r.Use(s.withCredentials)

	// Unauthenticated surface: wallet creation and joining carry their own
	// proof material, device lookups and asset reads are public.
	r.Post("/wallets", s.rateLimited(s.handleCreateWallet))
	r.Post("/wallets/{id}/copayers", s.handleJoinWallet)
	r.Get("/copayers", s.handleGetCopayersByDevice)
	r.Get("/assets", s.handleGetAssets)
	r.Get("/assets/{asset}", s.handleGetAsset)
	r.Get("/fiatrates/{code}", s.handleGetFiatRate)
	r.Post("/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/wallets", s.handleGetStatus)
		r.Get("/wallets/{identifier}", s.handleGetStatusByIdentifier)
		r.Put("/wallets", s.handleUpdateWallet)
		r.Put("/copayers/{id}", s.handleAddAccess)

		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handleSavePreferences)

		r.Post("/addresses", s.handleCreateAddress)
		r.Get("/addresses", s.handleGetAddresses)
		r.Post("/addresses/scan", s.handleScanAddresses)

		r.Get("/balance", s.handleGetBalance)
		r.Get("/utxos", s.handleGetUtxos)
		r.Get("/txhistory", s.handleGetTxHistory)

		r.Post("/txproposals", s.handleCreateTx)
		r.Get("/txproposals", s.handleGetTxs)
		r.Get("/txproposals/pending", s.handleGetPendingTxs)
		r.Get("/txproposals/{id}", s.handleGetTx)
		r.Post("/txproposals/{id}/publish", s.handlePublishTx)
		r.Post("/txproposals/{id}/signatures", s.handleSignTx)
		r.Post("/txproposals/{id}/rejections", s.handleRejectTx)
		r.Post("/txproposals/{id}/broadcast", s.handleBroadcastTx)
		r.Delete("/txproposals/{id}", s.handleRemoveTx)

		r.Post("/broadcast_raw", s.handleBroadcastRaw)
		r.Get("/txraw/{txid}", s.handleGetRawTx)

		r.Get("/txnotes", s.handleGetTxNotes)
		r.Get("/txnotes/{txid}", s.handleGetTxNote)
		r.Put("/txnotes/{txid}", s.handleEditTxNote)

		r.Get("/notifications", s.handleGetNotifications)

		r.Post("/pushnotifications/subscriptions", s.handlePushSubscribe)
		r.Delete("/pushnotifications/subscriptions/{token}", s.handlePushUnsubscribe)

		r.Post("/txconfirmations", s.handleTxConfirmationSubscribe)
		r.Delete("/txconfirmations/{txid}", s.handleTxConfirmationUnsubscribe)

		r.Post("/logout", s.handleLogout)
	})
	return r
}
