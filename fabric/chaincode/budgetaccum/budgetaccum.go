// -----------------------------------------------------------------------------
// Budgetaccum_cc contract (Go, Fabric v3.1.1)
// Purpose: Maintains a confidential running total of sensitive numeric
// Contributions (privacy-budget spend) submitted by authorized reporters.
// Contributions arrive as Paillier ciphertexts and are folded into a
// Per-batch homomorphic accumulator; only the aggregate of a batch is ever
// Revealed, through an asynchronous decryption protocol coordinated with an
// External oracle chaincode ("decrypt-oracle").
// Role in system: Write-path gates submissions through role checks, a pause
// Flag and per-principal cooldowns, then multiplies ciphertexts mod n²;
// Read-path exposes batches, requests and receipts; the reveal-path lives in
// coordinator.go.
// Key dependencies: Hyperledger Fabric contractapi/cid; a decryption oracle
// Chaincode reached via cc2cc for request registration and proof checks.
// -----------------------------------------------------------------------------

/*
budgetaccum.go — core state and the submission path.

State layout (world state, single namespace):
  ROLE::OWNER              → owner principal id
  ROLE::REPORTER::<id>     → "1" marker per authorized reporter
  PARAMS                   → Params JSON (cooldown, event toggle, oracle name)
  PAUSED                   → "1" when the global pause flag is set
  PK                       → Paillier public key JSON
  BATCHSEQ                 → decimal id of the current (maximal) batch
  BATCH::<%012d>           → Batch JSON
  SUB::<%012d>::<%09d>     → public per-submission audit record (hash only)
  TXIDX::<txID>            → "<batchID>::<seq>" for receipt checks
  LAST::<class>::<id>      → unix seconds of the principal's last action

Individual contributions are never stored; the only persisted trace of a
submission is its content hash in SUB:: plus the accumulator fold.
*/
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

/* Keys & constants */

const (
	keyOwner        = "ROLE::OWNER"
	keyReporterPfx  = "ROLE::REPORTER::" // ROLE::REPORTER::<id> → "1"
	keyParams       = "PARAMS"           // Params JSON
	keyPaused       = "PAUSED"           // "1" when paused
	keyPK           = "PK"               // Paillier PublicKey JSON
	keyBatchSeq     = "BATCHSEQ"         // Current batch id (decimal)
	keyBatchPfx     = "BATCH::"          // BATCH::<%012d> → Batch JSON
	keySubPfx       = "SUB::"            // SUB::<%012d>::<%09d> → SubmissionMeta
	keyTxIdxPfx     = "TXIDX::"          // TxID → "<batchID>::<seq>"
	keyLastPfx      = "LAST::"           // LAST::<class>::<principal> → unix secs
	keyRequestPfx   = "REQ::"            // REQ::<requestID> → DecryptionRequest
	keyRevealedPfx  = "RES::"            // RES::<requestID> → RevealedTotal
)

// Rate-limiter action classes. Submissions and decryption requests cool down
// independently per principal.
const (
	actionSubmit  = "SUBMIT"
	actionDecrypt = "DECRYPT"
)

// MinCooldownSeconds is the process-wide floor for the cooldown; the owner
// cannot disable throttling below it.
const minCooldownSeconds = 10

const (
	eventOwnershipTransferred = "OwnershipTransferred"
	eventReporterAdded        = "ReporterAdded"
	eventReporterRemoved      = "ReporterRemoved"
	eventPauseToggled         = "PauseToggled"
	eventCooldownChanged      = "CooldownChanged"
	eventParamsUpdated        = "ParamsUpdated"
	eventPublicKeySet         = "PublicKeySet"
	eventBatchOpened          = "BatchOpened"
	eventBatchClosed          = "BatchClosed"
	eventContributionRecorded = "ContributionRecorded"
	eventDecryptionRequested  = "DecryptionRequested"
	eventDecryptionCompleted  = "DecryptionCompleted"
)

/* Types & small data models */

// BudgetAccumContract implements the Fabric contract for the confidential
// contribution ledger.
//
// Responsibilities:
// - Gate privileged operations behind an owner/reporter role set.
// - Throttle submissions and decryption requests per principal.
// - Fold well-formed ciphertext contributions into the open batch's
//   accumulator (the single mutation point for any accumulator).
// - Coordinate asynchronous decryption with the oracle chaincode
//   (see coordinator.go).
type BudgetAccumContract struct{ contractapi.Contract }

// PublicKey stores the Paillier public key material.
//
// The key is written to PK and includes the modulus n, generator g and an
// optional precomputed n². A deterministic hash of n is emitted with the
// PublicKeySet event for audit linkage.
type PublicKey struct {
	N  string `json:"n"`
	G  string `json:"g"`
	N2 string `json:"n2,omitempty"`
}

// Params contains runtime knobs used by the contract.
//
// Values are stored on-chain (PARAMS) and merged over defaults on read, so a
// partial SetParams update never clears unrelated fields.
type Params struct {
	CooldownSeconds int64  `json:"COOLDOWN_SECONDS"` // Per-principal, per-class
	EmitEvents      bool   `json:"EMIT_EVENTS"`      // Default true
	OracleCCName    string `json:"ORACLE_CC_NAME"`   // Default "decrypt-oracle"
}

// Batch is one element of the append-only batch sequence.
//
// AccumHex is the Paillier product of every accepted contribution, canonical
// lowercase hex; "1" is the multiplicative identity (an empty accumulator).
// Open transitions true→false exactly once; after that the record is
// immutable and only ever read.
type Batch struct {
	ID              int64  `json:"id"`
	Open            bool   `json:"open"`
	SubmissionCount int64  `json:"submissionCount"`
	AccumHex        string `json:"accumHex"`
	OpenedAt        string `json:"openedAt"`           // RFC3339
	ClosedAt        string `json:"closedAt,omitempty"` // RFC3339
}

// SubmissionMeta is the public per-submission audit record (SUB::<batch>::<seq>).
//
// HC is a hash of the ciphertext and is the only value needed to validate a
// reporter's receipt. The reporter id is stored hashed, never raw.
type SubmissionMeta struct {
	HC           string `json:"hC"`
	ReporterHash string `json:"reporterHash"`
	TxID         string `json:"txID"`
	CastTime     string `json:"castTime"` // RFC3339
}

// Cache parsed Paillier key material per channel (thread-safe).
var pkCache sync.Map // Key: channelID -> pkEntry

type pkEntry struct {
	n  *big.Int
	n2 *big.Int
}

/* Small helpers */

// nowRFC3339 returns the transaction timestamp as an RFC3339 UTC string.
func nowRFC3339(ctx contractapi.TransactionContextInterface) string {
	ts, _ := ctx.GetStub().GetTxTimestamp()
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC().Format(time.RFC3339)
}

// nowUnix returns the transaction timestamp in unix seconds.
func nowUnix(ctx contractapi.TransactionContextInterface) int64 {
	ts, _ := ctx.GetStub().GetTxTimestamp()
	return ts.Seconds
}

// sha256Hex returns the SHA-256 hash of a byte slice, hex-encoded.
func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// sha256HexStr returns the SHA-256 hash of a string, hex-encoded.
func sha256HexStr(s string) string { return sha256Hex([]byte(s)) }

// bigFromHex parses a hex string (with or without 0x) into a big.Int.
func bigFromHex(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	if b, err := hex.DecodeString(s); err == nil {
		return new(big.Int).SetBytes(b), nil
	}
	if z, ok := new(big.Int).SetString(s, 10); ok {
		return z, nil
	}
	// Include the word "hex" so tests match
	return nil, fmt.Errorf("bad hex integer: %q", s)
}

// hexFromBig encodes a big.Int as lowercase hex without 0x and without leading zeros.
func hexFromBig(x *big.Int) string {
	if x == nil || x.Sign() == 0 {
		return "0"
	}
	s := strings.TrimLeft(strings.ToLower(x.Text(16)), "0")
	if s == "" {
		return "0"
	}
	return s
}

// canonHexStr normalises a hex string to lowercase and removes leading zeros.
func canonHexStr(s string) string {
	x, err := bigFromHex(s)
	if err != nil { // If it's not a valid hex/int, just return as-is
		return s
	}
	return hexFromBig(x)
}

// mulMod returns (a*b) mod m. This is Paillier addition of the plaintexts.
func mulMod(x, y, mod *big.Int) *big.Int {
	z := new(big.Int).Mul(x, y)
	return z.Mod(z, mod)
}

// cipherChecks validates a ciphertext is well-formed and safe to use in
// modular arithmetic: 1 < c < n² and gcd(c, n²) = 1. Malformed values are
// rejected before any state change.
func cipherChecks(c, n2 *big.Int) error {
	one := big.NewInt(1)
	if c.Cmp(one) <= 0 || c.Cmp(n2) >= 0 {
		return fmt.Errorf("ciphertext out of range: %w", ErrUninitializedValue)
	}
	g := new(big.Int).GCD(nil, nil, c, n2)
	if g.Cmp(one) != 0 {
		return fmt.Errorf("ciphertext not invertible mod n²: %w", ErrUninitializedValue)
	}
	return nil
}

// mustJSON marshals v and ignores errors (used for events and small writes).
func mustJSON(v any) []byte { b, _ := json.Marshal(v); return b }

// callerID returns the invoking principal's identity string.
func callerID(ctx contractapi.TransactionContextInterface) (string, error) {
	id, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return "", fmt.Errorf("client identity: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("empty client identity: %w", ErrUnauthorized)
	}
	return id, nil
}

// batchKey builds the world-state key for a batch. Zero-padded so range scans
// over BATCH:: iterate in id order.
func batchKey(id int64) string { return fmt.Sprintf("%s%012d", keyBatchPfx, id) }

// subKey builds the world-state key for a submission audit record.
func subKey(batchID, seq int64) string {
	return fmt.Sprintf("%s%012d::%09d", keySubPfx, batchID, seq)
}

// lastActionKey builds the rate-limiter timestamp key for (principal, class).
func lastActionKey(class, principal string) string {
	return keyLastPfx + class + "::" + principal
}

// loadPK loads the Paillier public key for this channel.
// It uses an in-memory cache to avoid repeated parsing of large integers.
func loadPK(ctx contractapi.TransactionContextInterface) (*big.Int, *big.Int, error) {
	chID := ctx.GetStub().GetChannelID()
	if e, ok := pkCache.Load(chID); ok {
		ent := e.(pkEntry)
		return ent.n, ent.n2, nil
	}
	raw, err := ctx.GetStub().GetState(keyPK)
	if err != nil {
		return nil, nil, fmt.Errorf("get pk: %w", err)
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("public key not set")
	}
	var pk PublicKey
	if err := json.Unmarshal(raw, &pk); err != nil {
		return nil, nil, fmt.Errorf("pk json: %w", err)
	}
	n, err := bigFromHex(pk.N)
	if err != nil {
		return nil, nil, fmt.Errorf("pk.n parse: %w", err)
	}
	var n2 *big.Int
	if pk.N2 != "" {
		n2, err = bigFromHex(pk.N2)
		if err != nil {
			return nil, nil, fmt.Errorf("pk.n2 parse: %w", err)
		}
	} else {
		n2 = new(big.Int).Mul(n, n)
	}
	pkCache.Store(chID, pkEntry{n: n, n2: n2})
	return n, n2, nil
}

// getParams reads the contract runtime parameters from world state,
// overlaying stored values on defaults.
func getParams(ctx contractapi.TransactionContextInterface) (*Params, error) {
	p := &Params{
		CooldownSeconds: 30,
		EmitEvents:      true,
		OracleCCName:    "decrypt-oracle",
	}
	if b, err := ctx.GetStub().GetState(keyParams); err == nil && b != nil {
		// Unmarshal over the defaults so a partial blob keeps them.
		_ = json.Unmarshal(b, p)
	}
	return p, nil
}

/* Role predicates */

// ownerOf reads the current owner principal ("" before Initialize).
func ownerOf(ctx contractapi.TransactionContextInterface) (string, error) {
	raw, err := ctx.GetStub().GetState(keyOwner)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// requireOwner aborts with Unauthorized unless the caller is the owner.
// Returns the caller id on success.
func requireOwner(ctx contractapi.TransactionContextInterface) (string, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return "", err
	}
	owner, err := ownerOf(ctx)
	if err != nil {
		return "", err
	}
	if owner == "" || caller != owner {
		return "", fmt.Errorf("caller is not the owner: %w", ErrUnauthorized)
	}
	return caller, nil
}

// isReporter reports whether a principal carries the reporter role.
func isReporter(ctx contractapi.TransactionContextInterface, principal string) (bool, error) {
	raw, err := ctx.GetStub().GetState(keyReporterPfx + principal)
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// isPausedFlag reads the global pause flag.
func isPausedFlag(ctx contractapi.TransactionContextInterface) (bool, error) {
	raw, err := ctx.GetStub().GetState(keyPaused)
	if err != nil {
		return false, err
	}
	return string(raw) == "1", nil
}

/* Rate limiter */

// checkAndStamp admits an action iff now >= last + cooldown, writing the new
// timestamp as part of the same operation. Transaction atomicity makes this a
// check-and-set: if the enclosing operation later aborts, the stamp is
// discarded with everything else.
func checkAndStamp(ctx contractapi.TransactionContextInterface, class, principal string) error {
	params, err := getParams(ctx)
	if err != nil {
		return err
	}
	now := nowUnix(ctx)
	key := lastActionKey(class, principal)
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return err
	}
	if raw != nil {
		last, err := strconv.ParseInt(string(raw), 10, 64)
		if err == nil && now < last+params.CooldownSeconds {
			return fmt.Errorf("%s not allowed before %d: %w", class, last+params.CooldownSeconds, ErrCooldownActive)
		}
	}
	return ctx.GetStub().PutState(key, []byte(strconv.FormatInt(now, 10)))
}

/* Admin / Setup */

// Initialize bootstraps the contract: the caller becomes owner (and the first
// reporter) and batch 1 is created open with an empty accumulator. Callable
// exactly once.
func (c *BudgetAccumContract) Initialize(ctx contractapi.TransactionContextInterface) error {
	owner, err := ownerOf(ctx)
	if err != nil {
		return err
	}
	if owner != "" {
		return fmt.Errorf("already initialized")
	}
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(keyOwner, []byte(caller)); err != nil {
		return err
	}
	// Owner is a reporter by construction.
	if err := ctx.GetStub().PutState(keyReporterPfx+caller, []byte("1")); err != nil {
		return err
	}
	b := &Batch{ID: 1, Open: true, AccumHex: "1", OpenedAt: nowRFC3339(ctx)}
	if err := ctx.GetStub().PutState(batchKey(1), mustJSON(b)); err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(keyBatchSeq, []byte("1")); err != nil {
		return err
	}
	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventBatchOpened, mustJSON(map[string]any{
			"batchID": int64(1), "time": nowRFC3339(ctx),
		}))
	}
	return nil
}

// SetPublicKey stores the Paillier public key for this contract instance.
// Owner only. Hex material is validated and canonicalized; n² is derived
// when absent.
func (c *BudgetAccumContract) SetPublicKey(ctx contractapi.TransactionContextInterface, pkJSON string) error {
	if _, err := requireOwner(ctx); err != nil {
		return err
	}
	var pk PublicKey
	if err := json.Unmarshal([]byte(pkJSON), &pk); err != nil {
		return fmt.Errorf("bad pk json: %w", err)
	}
	if pk.N == "" || pk.G == "" {
		return fmt.Errorf("pk must include hex n and g")
	}
	n, err := bigFromHex(pk.N)
	if err != nil {
		return fmt.Errorf("pk.N bad hex: %w", err)
	}
	if _, err := bigFromHex(pk.G); err != nil {
		return fmt.Errorf("pk.G bad hex: %w", err)
	}
	n2 := new(big.Int).Mul(n, n)
	if pk.N2 == "" {
		pk.N2 = hexFromBig(n2)
	} else {
		n2, err = bigFromHex(pk.N2)
		if err != nil {
			return fmt.Errorf("pk.N2 bad hex: %w", err)
		}
		pk.N2 = hexFromBig(n2) // Canonicalize
	}
	canon, _ := json.Marshal(pk)
	if err := ctx.GetStub().PutState(keyPK, canon); err != nil {
		return err
	}
	// Ensure next load sees the new key; warm the cache with the same n²
	// the stored blob carries, explicit or derived.
	chID := ctx.GetStub().GetChannelID()
	pkCache.Delete(chID)
	pkCache.Store(chID, pkEntry{
		n:  new(big.Int).Set(n),
		n2: new(big.Int).Set(n2),
	})
	if params, _ := getParams(ctx); params.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventPublicKeySet, mustJSON(map[string]string{
			"nHash": sha256HexStr(pk.N),
			"time":  nowRFC3339(ctx),
		}))
	}
	return nil
}

// GetPublicKey returns the stored Paillier public key JSON.
func (c *BudgetAccumContract) GetPublicKey(ctx contractapi.TransactionContextInterface) (string, error) {
	raw, err := ctx.GetStub().GetState(keyPK)
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", fmt.Errorf("not found")
	}
	return string(raw), nil
}

// SetParams merges runtime parameter updates into the stored blob. Owner only.
// CooldownSeconds changes must respect the floor; use SetCooldown for the
// dedicated validation + event.
func (c *BudgetAccumContract) SetParams(ctx contractapi.TransactionContextInterface, paramsJSON string) error {
	if _, err := requireOwner(ctx); err != nil {
		return err
	}
	cur, err := getParams(ctx)
	if err != nil {
		return err
	}
	jsCur, _ := json.Marshal(cur)
	var merged map[string]any
	_ = json.Unmarshal(jsCur, &merged)

	var upd map[string]any
	if err := json.Unmarshal([]byte(paramsJSON), &upd); err != nil {
		return fmt.Errorf("bad params json: %w", err)
	}
	for k, v := range upd {
		merged[k] = v
	}
	js, _ := json.Marshal(merged)
	var check Params
	if err := json.Unmarshal(js, &check); err != nil {
		return fmt.Errorf("bad params json: %w", err)
	}
	if check.CooldownSeconds < minCooldownSeconds {
		return fmt.Errorf("cooldown %ds below floor %ds: %w", check.CooldownSeconds, minCooldownSeconds, ErrInvalidCooldown)
	}
	if err := ctx.GetStub().PutState(keyParams, js); err != nil {
		return err
	}
	if check.EmitEvents {
		keys := make([]string, 0, len(upd))
		for k := range upd {
			keys = append(keys, k)
		}
		_ = ctx.GetStub().SetEvent(eventParamsUpdated, mustJSON(map[string]any{
			"hash": sha256Hex(js),
			"keys": keys,
			"time": nowRFC3339(ctx),
		}))
	}
	return nil
}

// GetParams reads back the stored runtime parameters.
func (c *BudgetAccumContract) GetParams(ctx contractapi.TransactionContextInterface) (*Params, error) {
	return getParams(ctx)
}

// SetCooldown updates the per-principal cooldown. Owner only; values below
// the floor abort with InvalidCooldown and leave state unchanged.
func (c *BudgetAccumContract) SetCooldown(ctx contractapi.TransactionContextInterface, seconds int64) error {
	if _, err := requireOwner(ctx); err != nil {
		return err
	}
	if seconds < minCooldownSeconds {
		return fmt.Errorf("cooldown %ds below floor %ds: %w", seconds, minCooldownSeconds, ErrInvalidCooldown)
	}
	params, err := getParams(ctx)
	if err != nil {
		return err
	}
	params.CooldownSeconds = seconds
	if err := ctx.GetStub().PutState(keyParams, mustJSON(params)); err != nil {
		return err
	}
	if params.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventCooldownChanged, mustJSON(map[string]any{
			"cooldownSeconds": seconds,
			"time":            nowRFC3339(ctx),
		}))
	}
	return nil
}

// GetCooldown returns the active cooldown in seconds.
func (c *BudgetAccumContract) GetCooldown(ctx contractapi.TransactionContextInterface) (int64, error) {
	params, err := getParams(ctx)
	if err != nil {
		return 0, err
	}
	return params.CooldownSeconds, nil
}

/* Access control */

// TransferOwnership reassigns the owner role. Owner only. Transferring to the
// current owner is a no-op and emits nothing.
func (c *BudgetAccumContract) TransferOwnership(ctx contractapi.TransactionContextInterface, newOwner string) error {
	caller, err := requireOwner(ctx)
	if err != nil {
		return err
	}
	newOwner = strings.TrimSpace(newOwner)
	if newOwner == "" {
		return fmt.Errorf("newOwner empty")
	}
	if newOwner == caller {
		return nil
	}
	if err := ctx.GetStub().PutState(keyOwner, []byte(newOwner)); err != nil {
		return err
	}
	if params, _ := getParams(ctx); params.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventOwnershipTransferred, mustJSON(map[string]string{
			"previousOwnerHash": sha256HexStr(caller),
			"newOwnerHash":      sha256HexStr(newOwner),
			"time":              nowRFC3339(ctx),
		}))
	}
	return nil
}

// AddReporter authorizes a principal to submit contributions. Owner only.
// Idempotent: adding an already-authorized principal changes nothing and
// emits no duplicate event.
func (c *BudgetAccumContract) AddReporter(ctx contractapi.TransactionContextInterface, principal string) error {
	if _, err := requireOwner(ctx); err != nil {
		return err
	}
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return fmt.Errorf("principal empty")
	}
	already, err := isReporter(ctx, principal)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	if err := ctx.GetStub().PutState(keyReporterPfx+principal, []byte("1")); err != nil {
		return err
	}
	if params, _ := getParams(ctx); params.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventReporterAdded, mustJSON(map[string]string{
			"reporterHash": sha256HexStr(principal),
			"time":         nowRFC3339(ctx),
		}))
	}
	return nil
}

// RemoveReporter revokes the reporter role. Owner only. Removing an absent
// principal is a no-op.
func (c *BudgetAccumContract) RemoveReporter(ctx contractapi.TransactionContextInterface, principal string) error {
	if _, err := requireOwner(ctx); err != nil {
		return err
	}
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return fmt.Errorf("principal empty")
	}
	present, err := isReporter(ctx, principal)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	if err := ctx.GetStub().DelState(keyReporterPfx + principal); err != nil {
		return err
	}
	if params, _ := getParams(ctx); params.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventReporterRemoved, mustJSON(map[string]string{
			"reporterHash": sha256HexStr(principal),
			"time":         nowRFC3339(ctx),
		}))
	}
	return nil
}

// GetOwner returns the current owner principal id.
func (c *BudgetAccumContract) GetOwner(ctx contractapi.TransactionContextInterface) (string, error) {
	owner, err := ownerOf(ctx)
	if err != nil {
		return "", err
	}
	if owner == "" {
		return "", fmt.Errorf("not initialized")
	}
	return owner, nil
}

// IsReporter reports whether a principal is an authorized reporter.
func (c *BudgetAccumContract) IsReporter(ctx contractapi.TransactionContextInterface, principal string) (bool, error) {
	return isReporter(ctx, principal)
}

// SetPaused toggles the global pause flag. Owner only. Setting the current
// value is a no-op.
func (c *BudgetAccumContract) SetPaused(ctx contractapi.TransactionContextInterface, paused bool) error {
	if _, err := requireOwner(ctx); err != nil {
		return err
	}
	cur, err := isPausedFlag(ctx)
	if err != nil {
		return err
	}
	if cur == paused {
		return nil
	}
	val := []byte("0")
	if paused {
		val = []byte("1")
	}
	if err := ctx.GetStub().PutState(keyPaused, val); err != nil {
		return err
	}
	if params, _ := getParams(ctx); params.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventPauseToggled, mustJSON(map[string]any{
			"paused": paused,
			"time":   nowRFC3339(ctx),
		}))
	}
	return nil
}

// IsPaused returns the global pause flag.
func (c *BudgetAccumContract) IsPaused(ctx contractapi.TransactionContextInterface) (bool, error) {
	return isPausedFlag(ctx)
}

/* Batch ledger */

// currentBatchID reads the id of the maximal batch (0 before Initialize).
func currentBatchID(ctx contractapi.TransactionContextInterface) (int64, error) {
	raw, err := ctx.GetStub().GetState(keyBatchSeq)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

// getBatch loads a batch record by id.
func getBatch(ctx contractapi.TransactionContextInterface, id int64) (*Batch, error) {
	raw, err := ctx.GetStub().GetState(batchKey(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("batch %d not found: %w", id, ErrInvalidBatch)
	}
	var b Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("batch %d json: %w", id, err)
	}
	return &b, nil
}

// OpenBatch allocates batch currentId+1 open with an empty accumulator and
// advances the sequence. Owner only. Does not touch the previous batch; the
// ledger may hold several closed batches and at most one open one (the
// current batch, when open).
func (c *BudgetAccumContract) OpenBatch(ctx contractapi.TransactionContextInterface) (int64, error) {
	if _, err := requireOwner(ctx); err != nil {
		return 0, err
	}
	cur, err := currentBatchID(ctx)
	if err != nil {
		return 0, err
	}
	if cur == 0 {
		return 0, fmt.Errorf("not initialized")
	}
	// Opening while the current batch is still open would leave two mutable
	// batches; the sequence admits one.
	curBatch, err := getBatch(ctx, cur)
	if err != nil {
		return 0, err
	}
	if curBatch.Open {
		return 0, fmt.Errorf("batch %d still open: %w", cur, ErrInvalidBatch)
	}
	id := cur + 1
	b := &Batch{ID: id, Open: true, AccumHex: "1", OpenedAt: nowRFC3339(ctx)}
	if err := ctx.GetStub().PutState(batchKey(id), mustJSON(b)); err != nil {
		return 0, err
	}
	if err := ctx.GetStub().PutState(keyBatchSeq, []byte(strconv.FormatInt(id, 10))); err != nil {
		return 0, err
	}
	if params, _ := getParams(ctx); params.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventBatchOpened, mustJSON(map[string]any{
			"batchID": id, "time": nowRFC3339(ctx),
		}))
	}
	return id, nil
}

// CloseBatch closes the current batch. Owner only; double-close aborts with
// InvalidBatch. Closing never opens a replacement.
func (c *BudgetAccumContract) CloseBatch(ctx contractapi.TransactionContextInterface) error {
	if _, err := requireOwner(ctx); err != nil {
		return err
	}
	cur, err := currentBatchID(ctx)
	if err != nil {
		return err
	}
	if cur == 0 {
		return fmt.Errorf("not initialized")
	}
	b, err := getBatch(ctx, cur)
	if err != nil {
		return err
	}
	if !b.Open {
		return fmt.Errorf("batch %d already closed: %w", cur, ErrInvalidBatch)
	}
	b.Open = false
	b.ClosedAt = nowRFC3339(ctx)
	if err := ctx.GetStub().PutState(batchKey(cur), mustJSON(b)); err != nil {
		return err
	}
	if params, _ := getParams(ctx); params.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventBatchClosed, mustJSON(map[string]any{
			"batchID": cur, "submissionCount": b.SubmissionCount, "time": nowRFC3339(ctx),
		}))
	}
	return nil
}

/* Hot path */

// Submit folds one ciphertext contribution into the current batch.
//
// Gate order (cheap checks first, single effect block last): pause flag →
// reporter role → cooldown → ciphertext sanity → batch open. This is the only
// operation that mutates a batch's accumulator.
//
// Returns a small JSON receipt {txID, batchID, seq, hC}; hC is the hash the
// reporter later presents to VerifyReceipt.
func (c *BudgetAccumContract) Submit(ctx contractapi.TransactionContextInterface, cipherHex string) (string, error) {
	paused, err := isPausedFlag(ctx)
	if err != nil {
		return "", err
	}
	if paused {
		return "", fmt.Errorf("submissions disabled: %w", ErrSystemPaused)
	}
	caller, err := callerID(ctx)
	if err != nil {
		return "", err
	}
	ok, err := isReporter(ctx, caller)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("caller is not a reporter: %w", ErrUnauthorized)
	}
	if err := checkAndStamp(ctx, actionSubmit, caller); err != nil {
		return "", err
	}

	// Ciphertext sanity before touching the batch.
	_, n2, err := loadPK(ctx)
	if err != nil {
		return "", err
	}
	cv, err := bigFromHex(cipherHex)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrUninitializedValue)
	}
	if err := cipherChecks(cv, n2); err != nil {
		return "", err
	}

	cur, err := currentBatchID(ctx)
	if err != nil {
		return "", err
	}
	if cur == 0 {
		return "", fmt.Errorf("not initialized")
	}
	b, err := getBatch(ctx, cur)
	if err != nil {
		return "", err
	}
	if !b.Open {
		return "", fmt.Errorf("batch %d is closed: %w", cur, ErrBatchClosed)
	}

	// Single effect block: fold, count, audit meta, index, event.
	acc, err := bigFromHex(b.AccumHex)
	if err != nil {
		return "", fmt.Errorf("batch %d accumulator: %w", cur, err)
	}
	b.AccumHex = canonHexStr(hexFromBig(mulMod(acc, cv, n2)))
	b.SubmissionCount++
	if err := ctx.GetStub().PutState(batchKey(cur), mustJSON(b)); err != nil {
		return "", err
	}

	txID := ctx.GetStub().GetTxID()
	castTime := nowRFC3339(ctx)
	hc := sha256HexStr(canonHexStr(cipherHex))
	seq := b.SubmissionCount
	meta := &SubmissionMeta{
		HC:           hc,
		ReporterHash: sha256HexStr(caller),
		TxID:         txID,
		CastTime:     castTime,
	}
	if err := ctx.GetStub().PutState(subKey(cur, seq), mustJSON(meta)); err != nil {
		return "", err
	}
	_ = ctx.GetStub().PutState(keyTxIdxPfx+txID, []byte(fmt.Sprintf("%d::%d", cur, seq)))

	if params, _ := getParams(ctx); params.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventContributionRecorded, mustJSON(map[string]any{
			"batchID": cur, "seq": seq, "txID": txID, "hC": hc, "time": castTime,
		}))
	}
	return fmt.Sprintf(`{"txID":"%s","batchID":%d,"seq":%d,"hC":"%s","status":"accepted","castTime":"%s"}`,
		txID, cur, seq, hc, castTime), nil
}

/* Queries */

// GetBatch returns a batch record by id.
func (c *BudgetAccumContract) GetBatch(ctx contractapi.TransactionContextInterface, id int64) (*Batch, error) {
	if id < 1 {
		return nil, fmt.Errorf("batch id %d: %w", id, ErrInvalidBatch)
	}
	return getBatch(ctx, id)
}

// GetCurrentBatchID returns the id of the current (maximal) batch.
func (c *BudgetAccumContract) GetCurrentBatchID(ctx contractapi.TransactionContextInterface) (int64, error) {
	cur, err := currentBatchID(ctx)
	if err != nil {
		return 0, err
	}
	if cur == 0 {
		return 0, fmt.Errorf("not initialized")
	}
	return cur, nil
}

// VerifyReceipt validates a submission receipt using (txID, hC) via TXIDX.
// Unknown txIDs are reported as unknown_tx rather than an error so callers
// can distinguish "never accepted" from transport failures.
func (c *BudgetAccumContract) VerifyReceipt(ctx contractapi.TransactionContextInterface, txID string, receipt string) (string, error) {
	idxB, err := ctx.GetStub().GetState(keyTxIdxPfx + txID)
	if err != nil {
		return "", err
	}
	if idxB == nil {
		return `{"ok":false,"reason":"unknown_tx"}`, nil
	}
	parts := strings.SplitN(string(idxB), "::", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("corrupt tx index for %s", txID)
	}
	batchID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("corrupt tx index for %s", txID)
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("corrupt tx index for %s", txID)
	}
	raw, err := ctx.GetStub().GetState(subKey(batchID, seq))
	if err != nil {
		return "", err
	}
	if raw == nil {
		return `{"ok":false,"reason":"no_record"}`, nil
	}
	var meta SubmissionMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", err
	}
	if meta.HC != strings.TrimSpace(receipt) {
		return fmt.Sprintf(`{"ok":false,"reason":"receipt_mismatch","batchID":%d,"seq":%d,"txID":"%s"}`, batchID, seq, txID), nil
	}
	return fmt.Sprintf(`{"ok":true,"batchID":%d,"seq":%d,"txID":"%s"}`, batchID, seq, txID), nil
}

/* Health */

// Ping is a simple health check used by deployment tooling and test harnesses.
func (c *BudgetAccumContract) Ping(ctx contractapi.TransactionContextInterface) (string, error) {
	return "OK:" + ctx.GetStub().GetTxID(), nil
}
