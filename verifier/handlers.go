package verifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tarancss/por/lib/block"
	"github.com/tarancss/por/lib/block/types"
	"github.com/tarancss/por/lib/store"
	"github.com/tarancss/por/lib/util"
)

const defaultRuns = 20

// ethereumAlias is the network name used by clients that do not know which ethereum network is served.
const ethereumAlias = "ethereum"

// Errors returned to client requests.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNoNet      = errors.New("network not available")
	ErrNoIssue    = errors.New("an alert issue is required")
	ErrNoStore    = errors.New("run history is not available")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// updateReq is the body of a manual commit.
type updateReq struct {
	Verified       bool    `json:"verified"`
	DiscrepancyPct float64 `json:"discrepancyPct"`
}

// verifyReq is the body of a verification. Amount and identifier are pointers so a missing field is told apart from
// a zero one.
type verifyReq struct {
	Account            string   `json:"account"`
	ClaimedAmount      *float64 `json:"claimedAmount"`
	ExchangeIdentifier *uint64  `json:"exchangeIdentifier"`
}

// alertReq is the body of a manual alert.
type alertReq struct {
	Issue string `json:"issue"`
}

// httpStatus maps err to the status code of the reply.
func httpStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrBadRequest), errors.Is(err, ErrNoNet),
		errors.Is(err, ErrNoIssue):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNoStatus), errors.Is(err, ErrNoStore):
		return http.StatusNotFound
	case errors.Is(err, ErrSequencerContention):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrConfirmationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUnreachableLedger), errors.Is(err, ErrWriteRejected), errors.Is(err, ErrReadbackUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// reply writes the response envelope. body is set whenever it is not nil, so a failed run still returns its outcome.
func (v *Verifier) reply(rw http.ResponseWriter, r *http.Request, body interface{}, err error) {
	var res Response

	if tmp, merr := json.Marshal(body); merr == nil && string(tmp) != "null" {
		res.Body = string(tmp)
	}

	ev := v.log.Info()
	if err != nil {
		res.Error = err.Error()
		ev = v.log.Warn().Err(err)
	}
	ev.Str("remote", r.RemoteAddr).Str("uri", r.RequestURI).Msg("httpreq")

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(httpStatus(err))
	_ = json.NewEncoder(rw).Encode(&res)
}

// servesNet reports whether net names the network of the service. "ethereum" names any ethereum-type network.
func (v *Verifier) servesNet(net string) bool {
	if strings.EqualFold(net, v.net) {
		return true
	}

	return strings.EqualFold(net, ethereumAlias) && util.In(block.EthNets, v.net)
}

// exchangeID parses the exchangeId uri variable.
func exchangeID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["exchangeId"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: exchangeId %q", ErrInvalidInput, mux.Vars(r)["exchangeId"])
	}

	return id, nil
}

// homeHandler just replies a welcome message to the client.
func (v *Verifier) homeHandler(rw http.ResponseWriter, r *http.Request) {
	v.log.Info().Str("remote", r.RemoteAddr).Str("uri", r.RequestURI).Msg("httpreq")

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(Response{Body: "Hello, this is your proof-of-reserves verifier on " + v.net + "!"})
}

// checkHandler evaluates a claim against the current balance of the account without writing to the ledger.
func (v *Verifier) checkHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var o *Outcome

	defer func() {
		v.reply(rw, r, o, err)
	}()

	vars := mux.Vars(r)
	if !v.servesNet(vars["network"]) {
		err = fmt.Errorf("%w: %s", ErrNoNet, vars["network"])

		return
	}

	claimed, perr := strconv.ParseFloat(vars["claimed"], 64)
	if perr != nil {
		err = fmt.Errorf("%w: claimed amount %q", ErrInvalidInput, vars["claimed"])

		return
	}

	var out Outcome
	if out, err = v.p.Check(r.Context(), vars["account"], claimed); err == nil {
		o = &out
	}
}

// reserveHandler replies the verification stored on the ledger for the exchange.
func (v *Verifier) reserveHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var rs *types.ReserveStatus

	defer func() {
		v.reply(rw, r, rs, err)
	}()

	var id uint64
	if id, err = exchangeID(r); err != nil {
		return
	}

	var st types.ReserveStatus
	if st, err = v.p.ReadBack(r.Context(), id); err == nil {
		rs = &st
	}
}

// updateHandler commits a verification for the exchange.
func (v *Verifier) updateHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var rec *types.Receipt

	defer func() {
		v.reply(rw, r, rec, err)
	}()

	var id uint64
	if id, err = exchangeID(r); err != nil {
		return
	}

	var req updateReq
	if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, derr)

		return
	}
	if req.DiscrepancyPct < 0 {
		err = fmt.Errorf("%w: discrepancyPct %v", ErrInvalidInput, req.DiscrepancyPct)

		return
	}

	op := CommitVerification{
		ExchangeID:     id,
		Verified:       req.Verified,
		DiscrepancyPct: util.RoundPct(req.DiscrepancyPct),
		Timestamp:      time.Now().Unix(),
	}

	var res types.Receipt
	res, err = v.p.Submitter().Apply(r.Context(), op)
	if res.Hash != "" {
		rec = &res
	}
}

// alertHandler raises an alert for the exchange.
func (v *Verifier) alertHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var rec *types.Receipt

	defer func() {
		v.reply(rw, r, rec, err)
	}()

	var id uint64
	if id, err = exchangeID(r); err != nil {
		return
	}

	var req alertReq
	if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, derr)

		return
	}
	if strings.TrimSpace(req.Issue) == "" {
		err = ErrNoIssue

		return
	}

	var res types.Receipt
	res, err = v.p.Submitter().Apply(r.Context(), RaiseAlert{ExchangeID: id, Issue: req.Issue})
	if res.Hash != "" {
		rec = &res
	}
}

// verifyHandler runs the verification pipeline for the claim in the request body. The result is replied also when
// the run failed after evaluating the balance.
func (v *Verifier) verifyHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res *Result

	defer func() {
		v.reply(rw, r, res, err)
	}()

	var req verifyReq
	if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, derr)

		return
	}

	switch {
	case req.ClaimedAmount == nil:
		err = fmt.Errorf("%w: claimedAmount is required", ErrInvalidInput)

		return
	case req.ExchangeIdentifier == nil:
		err = fmt.Errorf("%w: exchangeIdentifier is required", ErrInvalidInput)

		return
	}

	claim := Claim{Account: req.Account, Claimed: *req.ClaimedAmount, ExchangeID: *req.ExchangeIdentifier}

	var out Result
	out, err = v.p.Run(r.Context(), claim)
	if out.State != StateIdle {
		res = &out
	}
}

// runsHandler replies the latest runs of the exchange. The number of runs is set by the query ?limit=N.
func (v *Verifier) runsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var runs []store.Run

	defer func() {
		v.reply(rw, r, runs, err)
	}()

	if v.db == nil {
		err = ErrNoStore

		return
	}

	var id uint64
	if id, err = exchangeID(r); err != nil {
		return
	}

	limit := int64(defaultRuns)
	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err = strconv.ParseInt(l, 10, 64); err != nil || limit <= 0 {
			err = fmt.Errorf("%w: limit %q", ErrInvalidInput, l)

			return
		}
	}

	runs, err = v.db.GetRuns(id, limit)
}
