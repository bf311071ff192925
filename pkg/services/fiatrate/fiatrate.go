/*
Package fiatrate polls the configured exchange-rate providers on a fixed
interval and stores the scraped points, which rate queries then serve with a
bounded look-back.
*/
package fiatrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/obytehq/walletsrv/pkg/config"
	"github.com/obytehq/walletsrv/pkg/storage"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Service is the fiat-rate poller.
type Service struct {
	cfg    config.FiatRates
	log    *zap.Logger
	dao    *storage.DAO
	clock  clock.Clock
	ticker ticker.Ticker
	client *http.Client

	started *atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a fiat-rate service. A Force ticker can be injected for
// tests; nil uses the configured fetch interval.
func New(cfg config.FiatRates, log *zap.Logger, dao *storage.DAO, c clock.Clock, t ticker.Ticker) *Service {
	if c == nil {
		c = clock.NewDefaultClock()
	}
	if t == nil {
		t = ticker.New(cfg.FetchInterval)
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		dao:     dao,
		clock:   c,
		ticker:  t,
		client:  &http.Client{Timeout: cfg.FetchInterval / 2},
		started: atomic.NewBool(false),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Name returns service name.
func (s *Service) Name() string {
	return "fiatrate"
}

// Start begins polling in a separate goroutine. The service only starts
// once, subsequent calls are no-op.
func (s *Service) Start() {
	if !s.started.CAS(false, true) {
		return
	}
	s.log.Info("starting fiat-rate service",
		zap.Duration("interval", s.cfg.FetchInterval),
		zap.Int("providers", len(s.cfg.Providers)))
	go s.run()
}

// Shutdown stops polling. It can only be called once.
func (s *Service) Shutdown() {
	if !s.started.CAS(true, false) {
		return
	}
	s.log.Info("stopping fiat-rate service")
	close(s.stopCh)
	<-s.done
}

func (s *Service) run() {
	defer close(s.done)
	s.ticker.Resume()
	defer s.ticker.Stop()

	s.FetchAll(context.Background())
	for {
		select {
		case <-s.ticker.Ticks():
			s.FetchAll(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// FetchAll polls every provider once, storing whatever rates came back.
// Provider failures are logged and skipped.
func (s *Service) FetchAll(ctx context.Context) {
	for _, p := range s.cfg.Providers {
		if err := s.fetchProvider(ctx, p); err != nil {
			s.log.Warn("fiat-rate fetch failed",
				zap.String("provider", p.Name),
				zap.Error(err))
		}
	}
}

// providerRate is one row of a provider response.
type providerRate struct {
	Code string  `json:"code"`
	Rate float64 `json:"rate"`
}

func (s *Service) fetchProvider(ctx context.Context, p config.FiatRateProvider) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, data)
	}
	var rates []providerRate
	if err := json.Unmarshal(data, &rates); err != nil {
		return fmt.Errorf("malformed rates: %w", err)
	}
	now := s.clock.Now().Unix()
	for _, r := range rates {
		if r.Code == "" || r.Rate <= 0 {
			continue
		}
		if err := s.dao.PutFiatRate(&wallet.FiatRate{
			Provider:  p.Name,
			Code:      r.Code,
			Value:     r.Rate,
			FetchedOn: now,
		}); err != nil {
			return err
		}
	}
	s.log.Debug("fiat rates stored",
		zap.String("provider", p.Name),
		zap.Int("count", len(rates)))
	return nil
}
