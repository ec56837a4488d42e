package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/R3E-Network/issuance_ledger/internal/app"
	"github.com/R3E-Network/issuance_ledger/internal/app/domain/item"
	"github.com/R3E-Network/issuance_ledger/internal/app/metrics"
	"github.com/R3E-Network/issuance_ledger/pkg/logger"
	"github.com/gorilla/mux"
)

// handler bundles HTTP endpoints for the issuance service.
type handler struct {
	app   *app.Application
	audit *auditLog
	log   *logger.Logger
}

// NewHandler returns a router exposing the issuance REST API. Callers are
// read from the request context, so the router is normally wrapped with
// wrapWithAuth (see Wrap).
func NewHandler(application *app.Application, audit *auditLog, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, audit: audit, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/items", h.listItems).Methods(http.MethodGet)
	r.HandleFunc("/items", h.launchItem).Methods(http.MethodPost)
	r.HandleFunc("/items/{id:[0-9]+}", h.getItem).Methods(http.MethodGet)
	r.HandleFunc("/items/{id:[0-9]+}", h.updateItem).Methods(http.MethodPut)
	r.HandleFunc("/items/{id:[0-9]+}/uri", h.itemURI).Methods(http.MethodGet)
	r.HandleFunc("/items/{id:[0-9]+}/minted", h.itemMinted).Methods(http.MethodGet)
	r.HandleFunc("/items/{id:[0-9]+}/mints", h.itemMints).Methods(http.MethodGet)
	r.HandleFunc("/items/{id:[0-9]+}/mint", h.mint).Methods(http.MethodPost)
	r.HandleFunc("/items/{id:[0-9]+}/owner-mint", h.ownerMint).Methods(http.MethodPost)

	r.HandleFunc("/accounts/{account}/items/{id:[0-9]+}", h.balance).Methods(http.MethodGet)

	r.HandleFunc("/treasury", h.treasury).Methods(http.MethodGet)
	r.HandleFunc("/treasury/withdraw", h.withdraw).Methods(http.MethodPost)

	r.HandleFunc("/settings", h.settings).Methods(http.MethodGet)
	r.HandleFunc("/settings/metadata-base", h.setMetadataBase).Methods(http.MethodPut)
	r.HandleFunc("/settings/payment-currency", h.setPaymentCurrency).Methods(http.MethodPut)

	r.HandleFunc("/audit", h.auditEntries).Methods(http.MethodGet)
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// itemPayload is the launch/update body. The price travels as a decimal
// string so values beyond 64 bits survive JSON clients.
type itemPayload struct {
	StartMintTime time.Time `json:"start_mint_time"`
	EndMintTime   time.Time `json:"end_mint_time"`
	DisplayName   string    `json:"display_name"`
	UnitPrice     string    `json:"unit_price"`
	SupplyHint    uint64    `json:"supply_hint"`
	MaxSupply     uint64    `json:"max_supply"`
	PublicSupply  uint64    `json:"public_supply"`
	MaxPerAddress uint64    `json:"max_per_address"`
}

func (p itemPayload) spec() (item.Spec, error) {
	price, err := parseAmount("unit_price", p.UnitPrice, false)
	if err != nil {
		return item.Spec{}, err
	}
	return item.Spec{
		StartMintTime: p.StartMintTime,
		EndMintTime:   p.EndMintTime,
		DisplayName:   p.DisplayName,
		UnitPrice:     price,
		SupplyHint:    p.SupplyHint,
		MaxSupply:     p.MaxSupply,
		PublicSupply:  p.PublicSupply,
		MaxPerAddress: p.MaxPerAddress,
	}, nil
}

func (h *handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.app.Issuance.Items(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) launchItem(w http.ResponseWriter, r *http.Request) {
	var payload itemPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	spec, err := payload.spec()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	launched, err := h.app.Issuance.Launch(r.Context(), callerFrom(r.Context()), spec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, launched)
}

func (h *handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	it, err := h.app.Issuance.Item(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	var payload itemPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	spec, err := payload.spec()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Issuance.Update(r.Context(), callerFrom(r.Context()), id, spec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) itemURI(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	location, err := h.app.Issuance.MetadataLocation(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "uri": location})
}

func (h *handler) itemMinted(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	count, err := h.app.Issuance.MintedCount(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "minted": count})
}

func (h *handler) itemMints(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	records, err := h.app.Issuance.Mints(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) mint(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Quantity uint64 `json:"quantity"`
		Payment  string `json:"payment"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payment, err := parseAmount("payment", payload.Payment, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Issuance.Mint(r.Context(), callerFrom(r.Context()), id, payload.Quantity, payment)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) ownerMint(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Recipient string `json:"recipient"`
		Quantity  uint64 `json:"quantity"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Issuance.OwnerMint(r.Context(), callerFrom(r.Context()), id, payload.Recipient, payload.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	account := mux.Vars(r)["account"]
	bal, err := h.app.Issuance.BalanceOf(r.Context(), account, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "item_id": id, "balance": bal})
}

func (h *handler) treasury(w http.ResponseWriter, r *http.Request) {
	settings, err := h.app.Issuance.Settings(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	custody, err := h.app.Issuance.Custody(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"currency": settings.PaymentCurrency,
		"custody":  custody.String(),
	})
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount      string `json:"amount"`
		Destination string `json:"destination"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", payload.Amount, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Issuance.Withdraw(r.Context(), callerFrom(r.Context()), amount, payload.Destination); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String(), "destination": payload.Destination})
}

func (h *handler) settings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.app.Issuance.Settings(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *handler) setMetadataBase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Location string `json:"location"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Issuance.SetMetadataBase(r.Context(), callerFrom(r.Context()), payload.Location); err != nil {
		h.fail(w, r, err)
		return
	}
	h.settings(w, r)
}

func (h *handler) setPaymentCurrency(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reference string `json:"reference"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Issuance.SetPaymentCurrency(r.Context(), callerFrom(r.Context()), payload.Reference); err != nil {
		h.fail(w, r, err)
		return
	}
	h.settings(w, r)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if callerFrom(r.Context()) == "" {
		writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return
	}
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []auditEntry{})
		return
	}
	params := r.URL.Query()
	q := auditQuery{
		Caller:       params.Get("caller"),
		RejectedOnly: params.Get("rejected") == "true",
	}
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		q.Limit = n
	}
	writeJSON(w, http.StatusOK, h.audit.query(q))
}

// fail writes err with the status its kind maps to. Unexpected errors are
// logged since their text may be all an operator gets.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).
			WithField("path", r.URL.Path).
			WithField("method", r.Method).
			Error("request failed")
	}
	writeError(w, status, err)
}

func itemID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid item id %q", raw))
		return 0, false
	}
	return id, true
}

// parseAmount reads a non-negative decimal integer. An empty value is zero
// unless required is set.
func parseAmount(field, raw string, required bool) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return nil, fmt.Errorf("%s is required", field)
		}
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a decimal integer, got %q", field, raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	return v, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
