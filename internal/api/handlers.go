package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/models"
	"github.com/punchamoorthee/refledger/internal/service"
)

const maxBodyBytes = 1 << 20

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Storage: h.storage})
}

func (h *Handler) RegisterMemberHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterMemberRequest
	if !decode(w, r, &req) {
		return
	}
	reg, err := h.engine.Onboarding.Register(r.Context(), service.RegisterRequest{
		MemberID:    req.MemberID,
		SponsorID:   req.SponsorID,
		SponsorCode: req.SponsorCode,
	})
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/members/"+url.PathEscape(reg.Member.ID))
	respondWithJSON(w, http.StatusCreated, reg)
}

func (h *Handler) GetMemberHandler(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.Reports.Member(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

func (h *Handler) SetStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SetStatusRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.engine.Onboarding.SetStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

func (h *Handler) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.engine.Reports.Wallet(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *Handler) GetEntriesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := timeRange(q)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, limit, err := pagination(q)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.Reports.Entries(r.Context(), mux.Vars(r)["id"], service.EntryFilter{
		Category: domain.Category(q.Get("category")),
		From:     from,
		To:       to,
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) GetIncomeHandler(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r.URL.Query())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := h.engine.Reports.IncomeSummary(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sum)
}

func (h *Handler) GetTeamHandler(w http.ResponseWriter, r *http.Request) {
	depth, err := intParam(r.URL.Query(), "depth")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	tree, err := h.engine.Reports.Team(r.Context(), mux.Vars(r)["id"], depth)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, tree)
}

func (h *Handler) GetEdgesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	level, err := intParam(q, "level")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, limit, err := pagination(q)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.Reports.Edges(r.Context(), mux.Vars(r)["id"], level, page, limit)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) GetMemberWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	h.listWithdrawals(w, r, mux.Vars(r)["id"])
}

func (h *Handler) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	h.listWithdrawals(w, r, "")
}

func (h *Handler) listWithdrawals(w http.ResponseWriter, r *http.Request, memberID string) {
	q := r.URL.Query()
	page, limit, err := pagination(q)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.Reports.Withdrawals(r.Context(), memberID, service.WithdrawalFilter{
		Status: domain.WithdrawalStatus(q.Get("status")),
		Method: domain.Method(q.Get("method")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) GetWithdrawalStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Reports.WithdrawalStats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetProjectionHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Reports.Projection(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *Handler) LockBalanceHandler(w http.ResponseWriter, r *http.Request) {
	h.balanceHold(w, r, h.engine.Ledger.Lock)
}

func (h *Handler) UnlockBalanceHandler(w http.ResponseWriter, r *http.Request) {
	h.balanceHold(w, r, h.engine.Ledger.Unlock)
}

func (h *Handler) balanceHold(w http.ResponseWriter, r *http.Request, hold func(context.Context, string, int64, string) (*domain.LedgerEntry, error)) {
	var req models.BalanceHoldRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := hold(r.Context(), mux.Vars(r)["id"], req.Amount, req.Note)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

func (h *Handler) CreateInvestmentHandler(w http.ResponseWriter, r *http.Request) {
	var req models.InvestmentRequest
	if !decode(w, r, &req) {
		return
	}
	var rates domain.RateTable
	if len(req.Rates) > 0 {
		rates = domain.RateTable(req.Rates)
		if err := rates.Validate(); err != nil {
			respondWithError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	res, err := h.engine.Investments.Invest(r.Context(), service.InvestmentRequest{
		MemberID:       req.MemberID,
		Amount:         req.Amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Rates:          rates,
	})
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	if res.Replayed {
		respondWithJSON(w, http.StatusOK, res)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

func (h *Handler) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req models.WithdrawalRequest
	if !decode(w, r, &req) {
		return
	}
	wd, err := h.engine.Withdrawals.Request(r.Context(), service.WithdrawalInput{
		MemberID: req.MemberID,
		Amount:   req.Amount,
		Method:   req.Method,
		Details:  req.Details,
	})
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/withdrawals/"+url.PathEscape(wd.ID))
	respondWithJSON(w, http.StatusCreated, wd)
}

func (h *Handler) GetWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	wd, err := h.engine.Withdrawals.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wd)
}

func (h *Handler) ApproveWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, func(id string, req models.ModerationRequest) (*domain.Withdrawal, error) {
		return h.engine.Withdrawals.Approve(r.Context(), id, req.ModeratorID, req.Notes)
	})
}

func (h *Handler) CompleteWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, func(id string, req models.ModerationRequest) (*domain.Withdrawal, error) {
		return h.engine.Withdrawals.Complete(r.Context(), id, req.ModeratorID, req.PaymentReference, req.Notes)
	})
}

func (h *Handler) RejectWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, func(id string, req models.ModerationRequest) (*domain.Withdrawal, error) {
		return h.engine.Withdrawals.Reject(r.Context(), id, req.ModeratorID, req.Reason, req.Notes)
	})
}

func (h *Handler) moderate(w http.ResponseWriter, r *http.Request, fn func(string, models.ModerationRequest) (*domain.Withdrawal, error)) {
	var req models.ModerationRequest
	if !decode(w, r, &req) {
		return
	}
	wd, err := fn(mux.Vars(r)["id"], req)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wd)
}

func (h *Handler) CancelWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CancelWithdrawalRequest
	if !decode(w, r, &req) {
		return
	}
	wd, err := h.engine.Withdrawals.Cancel(r.Context(), mux.Vars(r)["id"], req.MemberID)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wd)
}

// decode reads a JSON body into dst and answers 400 itself when it cannot.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	return true
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func pagination(q url.Values) (int, int, error) {
	page, err := intParam(q, "page")
	if err != nil {
		return 0, 0, err
	}
	limit, err := intParam(q, "limit")
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

// timeRange accepts RFC 3339 timestamps or plain dates. A plain "to" date
// includes that whole day.
func timeRange(q url.Values) (time.Time, time.Time, error) {
	from, _, err := parseTime(q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
	}
	to, dateOnly, err := parseTime(q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
	}
	if dateOnly {
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func parseTime(v string) (time.Time, bool, error) {
	if v == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, false, err
}
