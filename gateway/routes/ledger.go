package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"anchorledger/core/events"
	"anchorledger/crypto"
	"anchorledger/gateway/middleware"
	"anchorledger/native/bank"
	"anchorledger/native/pledge"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxBodyBytes    = 64 << 10
)

var errBadRequest = errors.New("bad request")

type handlers struct {
	engine *pledge.Engine
	book   *bank.Book
	self   [20]byte
	bus    *events.Broadcaster
	logger *slog.Logger
}

type configResponse struct {
	Admin               string `json:"admin"`
	Treasury            string `json:"treasury"`
	Fallback            string `json:"fallback"`
	Self                string `json:"self"`
	VestHorizonBlocks   uint64 `json:"vestHorizonBlocks"`
	HorizonGraceBlocks  uint64 `json:"horizonGraceBlocks"`
	MaxPledgesPerAnchor uint64 `json:"maxPledgesPerAnchor"`
	MinPledgeWei        string `json:"minPledgeWei"`
	MaxLabelLength      int    `json:"maxLabelLength"`
}

type stateResponse struct {
	NextAnchorID     uint64 `json:"nextAnchorId"`
	TotalAnchors     uint64 `json:"totalAnchors"`
	TotalPledges     uint64 `json:"totalPledges"`
	GenesisBlock     uint64 `json:"genesisBlock"`
	GenesisTimestamp uint64 `json:"genesisTimestamp"`
	DomainID         string `json:"domainId"`
	CurrentBlock     uint64 `json:"currentBlock"`
	VaultBalanceWei  string `json:"vaultBalanceWei"`
}

type anchorResponse struct {
	ID             uint64 `json:"id"`
	Hash           string `json:"hash"`
	Label          string `json:"label"`
	TotalPledged   string `json:"totalPledgedWei"`
	PledgeCount    uint64 `json:"pledgeCount"`
	CreatedAtBlock uint64 `json:"createdAtBlock"`
	Sealed         bool   `json:"sealed"`
}

type slotResponse struct {
	Depositor        string `json:"depositor"`
	Index            uint64 `json:"index"`
	AmountWei        string `json:"amountWei"`
	AnchorID         uint64 `json:"anchorId"`
	LockedUntilBlock uint64 `json:"lockedUntilBlock"`
	ClaimableAt      uint64 `json:"claimableAt"`
	PledgedAtBlock   uint64 `json:"pledgedAtBlock"`
	RecordedBy       string `json:"recordedBy"`
	Claimed          bool   `json:"claimed"`
	Status           string `json:"status,omitempty"`
	CanClaim         bool   `json:"canClaim"`
}

func hexAddress(addr [20]byte) string { return common.Address(addr).Hex() }

func hexHash(hash [32]byte) string { return common.Hash(hash).Hex() }

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (h *handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.ConfigSnapshot()
	writeJSON(w, http.StatusOK, configResponse{
		Admin:               hexAddress(cfg.Admin),
		Treasury:            hexAddress(cfg.Treasury),
		Fallback:            hexAddress(cfg.Fallback),
		Self:                hexAddress(cfg.Self),
		VestHorizonBlocks:   cfg.VestHorizonBlocks,
		HorizonGraceBlocks:  cfg.HorizonGraceBlocks,
		MaxPledgesPerAnchor: cfg.MaxPledgesPerAnchor,
		MinPledgeWei:        amountString(cfg.MinPledgeWei),
		MaxLabelLength:      cfg.MaxLabelLength,
	})
}

func (h *handlers) getState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.StateSnapshot()
	if err != nil {
		h.writeError(w, r, "state", err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{
		NextAnchorID:     snap.NextAnchorID,
		TotalAnchors:     snap.TotalAnchors,
		TotalPledges:     snap.TotalPledges,
		GenesisBlock:     snap.GenesisBlock,
		GenesisTimestamp: snap.GenesisTimestamp,
		DomainID:         hexHash(snap.DomainID),
		CurrentBlock:     snap.CurrentBlock,
		VaultBalanceWei:  amountString(h.book.BalanceOf(h.self)),
	})
}

func (h *handlers) getSealHash(w http.ResponseWriter, r *http.Request) {
	seal, err := h.engine.SealHash()
	if err != nil {
		h.writeError(w, r, "seal_hash", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sealHash": hexHash(seal)})
}

func (h *handlers) listAnchors(w http.ResponseWriter, r *http.Request) {
	from, count, err := pageParams(r, 1)
	if err != nil {
		h.writeError(w, r, "anchors", err)
		return
	}
	refs := h.engine.AnchorsRange(from, count)
	out := make([]anchorResponse, 0, len(refs))
	for _, ref := range refs {
		rec, err := h.engine.Anchor(ref.Hash)
		if err != nil {
			h.writeError(w, r, "anchors", err)
			return
		}
		out = append(out, anchorView(ref.Hash, rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getAnchor(w http.ResponseWriter, r *http.Request) {
	hash, err := pledge.ParseAnchorHash(chi.URLParam(r, "hash"))
	if err != nil {
		h.writeError(w, r, "anchor", fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	rec, err := h.engine.Anchor(hash)
	if err != nil {
		h.writeError(w, r, "anchor", err)
		return
	}
	writeJSON(w, http.StatusOK, anchorView(hash, rec))
}

func (h *handlers) getAnchorByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, "anchor", fmt.Errorf("%w: invalid anchor id", errBadRequest))
		return
	}
	hash, err := h.engine.AnchorHash(id)
	if err != nil {
		h.writeError(w, r, "anchor", err)
		return
	}
	rec, err := h.engine.Anchor(hash)
	if err != nil {
		h.writeError(w, r, "anchor", err)
		return
	}
	writeJSON(w, http.StatusOK, anchorView(hash, rec))
}

func anchorView(hash [32]byte, rec *pledge.AnchorRecord) anchorResponse {
	return anchorResponse{
		ID:             rec.ID,
		Hash:           hexHash(hash),
		Label:          rec.Label,
		TotalPledged:   amountString(rec.TotalPledged),
		PledgeCount:    rec.PledgeCount,
		CreatedAtBlock: rec.CreatedAtBlock,
		Sealed:         rec.Sealed,
	}
}

func (h *handlers) listPledges(w http.ResponseWriter, r *http.Request) {
	depositor, err := crypto.ParseAddress(chi.URLParam(r, "depositor"))
	if err != nil {
		h.writeError(w, r, "pledges", fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	from, count, err := pageParams(r, 0)
	if err != nil {
		h.writeError(w, r, "pledges", err)
		return
	}
	slots := h.engine.PledgesRange(depositor, from, count)
	out := make([]slotResponse, 0, len(slots))
	for i, slot := range slots {
		out = append(out, h.slotView(depositor, from+uint64(i), slot))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":   h.engine.PledgeCount(depositor),
		"pledges": out,
	})
}

func (h *handlers) getPledge(w http.ResponseWriter, r *http.Request) {
	depositor, err := crypto.ParseAddress(chi.URLParam(r, "depositor"))
	if err != nil {
		h.writeError(w, r, "pledge", fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		h.writeError(w, r, "pledge", fmt.Errorf("%w: invalid index", errBadRequest))
		return
	}
	slot, err := h.engine.PledgeAt(depositor, index)
	if err != nil {
		h.writeError(w, r, "pledge", err)
		return
	}
	writeJSON(w, http.StatusOK, h.slotView(depositor, index, slot))
}

func (h *handlers) slotView(depositor [20]byte, index uint64, slot *pledge.PledgeSlot) slotResponse {
	view := slotResponse{
		Depositor:        hexAddress(depositor),
		Index:            index,
		AmountWei:        amountString(slot.AmountWei),
		AnchorID:         slot.AnchorID,
		LockedUntilBlock: slot.LockedUntilBlock,
		PledgedAtBlock:   slot.PledgedAtBlock,
		RecordedBy:       hexAddress(slot.RecordedBy),
		Claimed:          slot.Claimed,
		CanClaim:         h.engine.CanClaim(depositor, index),
	}
	if at, err := h.engine.ClaimableAt(depositor, index); err == nil {
		view.ClaimableAt = at
	}
	if status, err := h.engine.SlotStatus(depositor, index); err == nil {
		view.Status = status.String()
	}
	return view
}

func pageParams(r *http.Request, defaultFrom uint64) (uint64, uint64, error) {
	from := defaultFrom
	count := uint64(defaultPageSize)
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: invalid from", errBadRequest)
		}
		from = v
	}
	if raw := strings.TrimSpace(query.Get("count")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: invalid count", errBadRequest)
		}
		count = v
	}
	if count > maxPageSize {
		count = maxPageSize
	}
	return from, count, nil
}

type createAnchorRequest struct {
	Hash     string `json:"hash"`
	Document string `json:"document"`
	Label    string `json:"label"`
}

type pledgeRequest struct {
	Depositor string `json:"depositor,omitempty"`
	Anchor    string `json:"anchor"`
	VestTime  uint64 `json:"vestTime"`
	AmountWei string `json:"amountWei"`
}

type claimRequest struct {
	Index uint64 `json:"index"`
}

type amountRequest struct {
	AmountWei string `json:"amountWei"`
}

func decodeBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid amount %q", errBadRequest, raw)
	}
	return amount, nil
}

func caller(r *http.Request) [20]byte {
	addr, _ := middleware.CallerFromContext(r.Context())
	return addr
}

func (h *handlers) createAnchor(w http.ResponseWriter, r *http.Request) {
	var req createAnchorRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, "create_anchor", err)
		return
	}
	var hash [32]byte
	switch {
	case req.Hash != "" && req.Document != "":
		h.writeError(w, r, "create_anchor", fmt.Errorf("%w: hash and document are mutually exclusive", errBadRequest))
		return
	case req.Document != "":
		hash = pledge.AnchorHashFor([]byte(req.Document))
	case req.Hash != "":
		parsed, err := pledge.ParseAnchorHash(req.Hash)
		if err != nil {
			h.writeError(w, r, "create_anchor", fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		hash = parsed
	}
	id, err := h.engine.CreateAnchor(caller(r), hash, req.Label)
	if err != nil {
		h.writeError(w, r, "create_anchor", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "hash": hexHash(hash)})
}

func (h *handlers) sealAnchor(w http.ResponseWriter, r *http.Request) {
	hash, err := pledge.ParseAnchorHash(chi.URLParam(r, "hash"))
	if err != nil {
		h.writeError(w, r, "seal_anchor", fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := h.engine.SealAnchor(caller(r), hash); err != nil {
		h.writeError(w, r, "seal_anchor", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) parsePledge(r *http.Request, withDepositor bool) (pledgeRequest, [20]byte, [32]byte, *big.Int, error) {
	var req pledgeRequest
	var depositor [20]byte
	if err := decodeBody(r, &req); err != nil {
		return req, depositor, [32]byte{}, nil, err
	}
	if withDepositor {
		addr, err := crypto.ParseAddress(req.Depositor)
		if err != nil {
			return req, depositor, [32]byte{}, nil, fmt.Errorf("%w: depositor: %v", errBadRequest, err)
		}
		depositor = addr
	} else if req.Depositor != "" {
		return req, depositor, [32]byte{}, nil, fmt.Errorf("%w: depositor is the caller", errBadRequest)
	}
	hash, err := pledge.ParseAnchorHash(req.Anchor)
	if err != nil {
		return req, depositor, [32]byte{}, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	amount, err := parseAmount(req.AmountWei)
	if err != nil {
		return req, depositor, [32]byte{}, nil, err
	}
	return req, depositor, hash, amount, nil
}

// pledge moves the attached value from the caller's balance into the ledger
// account in the same transaction that records the slot.
func (h *handlers) pledge(w http.ResponseWriter, r *http.Request) {
	req, _, hash, amount, err := h.parsePledge(r, false)
	if err != nil {
		h.writeError(w, r, "pledge", err)
		return
	}
	depositor := caller(r)
	index, err := h.engine.Pledge(depositor, hash, req.VestTime, amount)
	if err != nil {
		h.writeError(w, r, "pledge", err)
		return
	}
	h.writeSlot(w, depositor, index)
}

func (h *handlers) recordPledge(w http.ResponseWriter, r *http.Request) {
	req, depositor, hash, amount, err := h.parsePledge(r, true)
	if err != nil {
		h.writeError(w, r, "record_pledge", err)
		return
	}
	index, err := h.engine.RecordPledge(caller(r), depositor, hash, req.VestTime, amount)
	if err != nil {
		h.writeError(w, r, "record_pledge", err)
		return
	}
	h.writeSlot(w, depositor, index)
}

func (h *handlers) writeSlot(w http.ResponseWriter, depositor [20]byte, index uint64) {
	slot, err := h.engine.PledgeAt(depositor, index)
	if err != nil {
		writeJSON(w, http.StatusCreated, map[string]uint64{"index": index})
		return
	}
	writeJSON(w, http.StatusCreated, h.slotView(depositor, index, slot))
}

func (h *handlers) claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, "claim", err)
		return
	}
	amount, err := h.engine.Claim(r.Context(), caller(r), req.Index)
	if err != nil {
		h.writeError(w, r, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amountWei": amountString(amount)})
}

func (h *handlers) sweep(w http.ResponseWriter, r *http.Request) {
	h.moveFunds(w, r, "sweep", h.engine.Sweep)
}

func (h *handlers) forward(w http.ResponseWriter, r *http.Request) {
	h.moveFunds(w, r, "forward", h.engine.Forward)
}

func (h *handlers) moveFunds(w http.ResponseWriter, r *http.Request, op string, move func(ctx context.Context, caller [20]byte, amount *big.Int) error) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, op, err)
		return
	}
	amount, err := parseAmount(req.AmountWei)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	if err := move(r.Context(), caller(r), amount); err != nil {
		h.writeError(w, r, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
