/*
coordinator.go — asynchronous decryption protocol.

A decryption request and its callback are two independent transactions with
an oracle-controlled delay between them. Nothing is locked in between:
instead the request snapshots a digest of the batch accumulator and the
callback recomputes it, refusing to finalize when the snapshot went stale.
Request records are two-phase (Issued → Processed); the processed flag is the
replay guard and never reverses. A request the oracle never answers stays
Issued forever — that is an accepted outcome, monitored externally, not an
error.
*/
package main

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

// Callback coordinates handed to the oracle with each request. The relayer
// invokes callbackFunction on this chaincode once the cleartext is available.
const (
	callbackChaincode = "budgetaccum"
	callbackFunction  = "OnDecryptionResult"
)

// DecryptionRequest is the per-request record stored under REQ::<requestID>.
//
// StateDigest binds the request to the exact accumulator contents (and to
// this channel) at request time; Processed transitions false→true exactly
// once.
type DecryptionRequest struct {
	RequestID   string `json:"requestID"`
	BatchID     int64  `json:"batchID"`
	StateDigest string `json:"stateDigest"`
	Processed   bool   `json:"processed"`
	// Requester is stored hashed, never raw.
	RequesterHash string `json:"requesterHash"`
	RequestedAt   string `json:"requestedAt"` // RFC3339
}

// RevealedTotal is the public record of a completed decryption
// (RES::<requestID>). Total is the decimal cleartext aggregate.
type RevealedTotal struct {
	RequestID  string `json:"requestID"`
	BatchID    int64  `json:"batchID"`
	Total      string `json:"total"`
	RevealedAt string `json:"revealedAt"` // RFC3339
}

// digestAccumulator fingerprints a batch accumulator. The channel id is mixed
// in so a digest computed against one deployment cannot be replayed against
// another.
func digestAccumulator(ctx contractapi.TransactionContextInterface, accumHex string) string {
	return sha256HexStr(ctx.GetStub().GetChannelID() + "::" + canonHexStr(accumHex))
}

// requestKey builds the world-state key for a decryption request record.
func requestKey(requestID string) string { return keyRequestPfx + requestID }

// callOracle is a safe wrapper around cc2cc calls into the oracle chaincode.
func callOracle(ctx contractapi.TransactionContextInterface, oracleCC, fcn string, args ...string) ([]byte, error) {
	if ctx == nil {
		return nil, fmt.Errorf("cc2cc %s: nil ctx", fcn)
	}
	s := ctx.GetStub()
	if s == nil {
		return nil, fmt.Errorf("cc2cc %s: nil stub", fcn)
	}
	// Guard against typed-nil stub (interface is non-nil but underlying pointer is nil).
	if rv := reflect.ValueOf(s); rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, fmt.Errorf("cc2cc %s: nil underlying stub", fcn)
	}

	argv := make([][]byte, 0, 1+len(args))
	argv = append(argv, []byte(fcn))
	for _, a := range args {
		argv = append(argv, []byte(a))
	}

	resp := s.InvokeChaincode(oracleCC, argv, "") // "" => same channel

	if resp.Status != 200 || len(resp.Payload) == 0 {
		return nil, fmt.Errorf("cc2cc %s(%s) status=%d message=%q",
			fcn, strings.Join(args, ","), resp.Status, resp.Message)
	}
	return resp.Payload, nil
}

// unquote strips the JSON string quoting contractapi applies to scalar payloads.
func unquote(payload []byte) string {
	return strings.Trim(strings.TrimSpace(string(payload)), `"`)
}

// RequestDecryption asks the oracle to decrypt the aggregate of a batch.
//
// Any caller may request (subject to pause flag and the DECRYPT cooldown);
// batchID must exist. Open batches are accepted as well as closed ones, with
// the caveat that any submission landing before the callback invalidates the
// snapshot — close the batch first for a guaranteed-answerable request.
//
// Returns the oracle-issued request id. The cleartext never flows back to a
// synchronous caller; observers learn it from the DecryptionCompleted event
// or GetRevealedTotal.
func (c *BudgetAccumContract) RequestDecryption(ctx contractapi.TransactionContextInterface, batchID int64) (string, error) {
	paused, err := isPausedFlag(ctx)
	if err != nil {
		return "", err
	}
	if paused {
		return "", fmt.Errorf("decryption requests disabled: %w", ErrSystemPaused)
	}
	caller, err := callerID(ctx)
	if err != nil {
		return "", err
	}
	if err := checkAndStamp(ctx, actionDecrypt, caller); err != nil {
		return "", err
	}

	cur, err := currentBatchID(ctx)
	if err != nil {
		return "", err
	}
	if batchID < 1 || batchID > cur {
		return "", fmt.Errorf("batch id %d out of range [1,%d]: %w", batchID, cur, ErrInvalidBatch)
	}
	b, err := getBatch(ctx, batchID)
	if err != nil {
		return "", err
	}

	digest := digestAccumulator(ctx, b.AccumHex)
	digestsJSON := string(mustJSON([]string{digest}))

	params, err := getParams(ctx)
	if err != nil {
		return "", err
	}
	payload, err := callOracle(ctx, params.OracleCCName, "RegisterRequest",
		digestsJSON, callbackChaincode, callbackFunction)
	if err != nil {
		return "", err
	}
	requestID := unquote(payload)
	if requestID == "" {
		return "", fmt.Errorf("oracle returned empty request id")
	}
	if raw, err := ctx.GetStub().GetState(requestKey(requestID)); err != nil {
		return "", err
	} else if raw != nil {
		return "", fmt.Errorf("oracle reused request id %s", requestID)
	}

	req := &DecryptionRequest{
		RequestID:     requestID,
		BatchID:       batchID,
		StateDigest:   digest,
		Processed:     false,
		RequesterHash: sha256HexStr(caller),
		RequestedAt:   nowRFC3339(ctx),
	}
	if err := ctx.GetStub().PutState(requestKey(requestID), mustJSON(req)); err != nil {
		return "", err
	}
	if params.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventDecryptionRequested, mustJSON(map[string]any{
			"requestID": requestID, "batchID": batchID, "stateDigest": digest,
			"time": nowRFC3339(ctx),
		}))
	}
	return requestID, nil
}

// OnDecryptionResult is the oracle callback carrying the cleartext aggregate
// and its proof.
//
// Check order is deliberate — cheap checks first, irrevocable state change
// last: request exists → not yet processed → snapshot still matches the live
// accumulator → proof verifies → commit. A failed proof leaves the request
// unprocessed, so a corrected retry can still land.
func (c *BudgetAccumContract) OnDecryptionResult(ctx contractapi.TransactionContextInterface, requestID, cleartextHex, proofHex string) error {
	raw, err := ctx.GetStub().GetState(requestKey(requestID))
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("request %s: %w", requestID, ErrUnknownRequest)
	}
	var req DecryptionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("request %s json: %w", requestID, err)
	}
	if req.Processed {
		return fmt.Errorf("request %s already processed: %w", requestID, ErrReplayAttempt)
	}

	b, err := getBatch(ctx, req.BatchID)
	if err != nil {
		return err
	}
	if digestAccumulator(ctx, b.AccumHex) != req.StateDigest {
		return fmt.Errorf("batch %d changed since request %s: %w", req.BatchID, requestID, ErrStateMismatch)
	}

	params, err := getParams(ctx)
	if err != nil {
		return err
	}
	payload, err := callOracle(ctx, params.OracleCCName, "VerifyProof",
		requestID, cleartextHex, proofHex)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrProofVerificationFailed)
	}
	if ok, _ := strconv.ParseBool(strings.ToLower(unquote(payload))); !ok {
		return fmt.Errorf("request %s: %w", requestID, ErrProofVerificationFailed)
	}

	total, err := bigFromHex(cleartextHex)
	if err != nil {
		return fmt.Errorf("cleartext decode: %w", err)
	}

	req.Processed = true
	if err := ctx.GetStub().PutState(requestKey(requestID), mustJSON(&req)); err != nil {
		return err
	}
	res := &RevealedTotal{
		RequestID:  requestID,
		BatchID:    req.BatchID,
		Total:      total.String(),
		RevealedAt: nowRFC3339(ctx),
	}
	if err := ctx.GetStub().PutState(keyRevealedPfx+requestID, mustJSON(res)); err != nil {
		return err
	}
	if params.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventDecryptionCompleted, mustJSON(map[string]any{
			"requestID": requestID, "batchID": req.BatchID, "total": res.Total,
			"time": res.RevealedAt,
		}))
	}
	return nil
}

/* Queries */

// GetRequest returns a decryption request record by id.
func (c *BudgetAccumContract) GetRequest(ctx contractapi.TransactionContextInterface, requestID string) (*DecryptionRequest, error) {
	raw, err := ctx.GetStub().GetState(requestKey(requestID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrUnknownRequest)
	}
	var req DecryptionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// GetRevealedTotal returns the revealed aggregate for a processed request.
func (c *BudgetAccumContract) GetRevealedTotal(ctx contractapi.TransactionContextInterface, requestID string) (*RevealedTotal, error) {
	raw, err := ctx.GetStub().GetState(keyRevealedPfx + requestID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("request %s not revealed", requestID)
	}
	var res RevealedTotal
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
