package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wallet-inspector/internal/adapter"
	apperrors "github.com/wallet-inspector/internal/errors"
	"github.com/wallet-inspector/internal/logging"
	"github.com/wallet-inspector/internal/service"
	"github.com/wallet-inspector/internal/storage"
	"github.com/wallet-inspector/internal/types"
)

// parseInspectRequest reads the path address and the optional query overrides
func parseInspectRequest(r *http.Request) (service.InspectRequest, error) {
	req := service.InspectRequest{Wallet: adapter.NormalizeAddress(mux.Vars(r)["address"])}
	if !adapter.ValidateAddress(req.Wallet) {
		return req, apperrors.NewInvalidAddressError(req.Wallet)
	}

	query := r.URL.Query()
	if raw := query.Get("lookback_blocks"); raw != "" {
		lookback, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return req, apperrors.NewInvalidParameterError("lookback_blocks", "must be a non-negative integer")
		}
		req.LookbackBlocks = &lookback
	}
	if raw := query.Get("max_events"); raw != "" {
		maxEvents, err := strconv.Atoi(raw)
		if err != nil {
			return req, apperrors.NewInvalidParameterError("max_events", "must be an integer")
		}
		req.MaxEvents = &maxEvents
	}

	return req, nil
}

// cacheKey resolves defaults so equivalent requests share an entry
func (s *Server) cacheKey(req service.InspectRequest) string {
	lookback := s.config.DefaultLookbackBlocks
	if req.LookbackBlocks != nil {
		lookback = *req.LookbackBlocks
	}
	maxEvents := s.config.DefaultMaxEvents
	if req.MaxEvents != nil {
		maxEvents = *req.MaxEvents
	}
	return storage.GenerateCacheKey(req.Wallet, lookback, maxEvents)
}

// inspect serves a summary from the cache when possible and stores fresh ones.
// Cache failures are logged and never fail the request.
func (s *Server) inspect(w http.ResponseWriter, r *http.Request, req service.InspectRequest) (*types.WalletSummary, error) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var key string
	if s.cache != nil && (req.MaxEvents == nil || *req.MaxEvents >= 0) {
		key = s.cacheKey(req)
		summary, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			logger.WithError(err).Warn("Summary cache read failed")
		} else if hit {
			logger.WithField("cache_key", key).Debug("Summary cache hit")
			s.setCacheHeaders(w, "HIT")
			return summary, nil
		}
	}

	summary, err := s.inspector.Inspect(ctx, req)
	if err != nil {
		if !apperrors.IsUserError(err) {
			logger.WithError(err).WithField("wallet", req.Wallet).Error("Inspection failed")
		}
		return nil, err
	}

	if key != "" {
		s.setCacheHeaders(w, "MISS")
		if err := s.cache.Set(ctx, key, summary); err != nil {
			logger.WithError(err).Warn("Summary cache write failed")
		}
	}

	return summary, nil
}

// setCacheHeaders is only called for successful responses
func (s *Server) setCacheHeaders(w http.ResponseWriter, status string) {
	w.Header().Set("X-Cache", status)
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int(s.cache.TTL().Seconds())))
}

// handleGetSummary handles GET /api/wallets/{address}/summary
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	req, err := parseInspectRequest(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	summary, err := s.inspect(w, r, req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// handleGetNarrative handles GET /api/wallets/{address}/narrative
func (s *Server) handleGetNarrative(w http.ResponseWriter, r *http.Request) {
	req, err := parseInspectRequest(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	summary, err := s.inspect(w, r, req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":             summary.RunID,
		"wallet":             summary.Wallet,
		"summary_for_claude": summary.Digest,
	})
}

// handleInvalidateSummary handles DELETE /api/wallets/{address}/summary.
// It drops every cached summary of the wallet so the next read is fresh.
func (s *Server) handleInvalidateSummary(w http.ResponseWriter, r *http.Request) {
	req, err := parseInspectRequest(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if s.cache == nil {
		respondError(w, http.StatusNotFound, ErrCodeCacheDisabled, "summary cache is not enabled", nil)
		return
	}

	if err := s.cache.InvalidateWallet(r.Context(), req.Wallet); err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Summary cache invalidation failed")
		respondServiceError(w, apperrors.NewServiceUnavailableError("summary cache"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
