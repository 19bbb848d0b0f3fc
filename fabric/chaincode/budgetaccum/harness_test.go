// Harness_test.go
//
// Purpose: Minimal, deterministic test harness for the BudgetAccum chaincode.
// Role: Provides an in-memory world-state "ledger", a mocked Fabric
// ChaincodeStub (via gomock), a controllable transaction clock and caller
// Identity, and a stubbed decrypt-oracle so tests can drive the full
// Request/callback protocol without real peers, relayers, or key material.
// Key deps:
// - Hyperledger Fabric Go SDKs: chaincode-go/shim + cid, contractapi, protos
// - gomock for stub expectations and return paths
// - Google protobuf/timestamppb for stable TxTimestamp values
// - Local fakes package: github.com/phdu-18/Privacy-Budget-Tool/fakes
// Notes:
// - This harness makes defensive copies of byte slices to avoid aliasing
// Between test code and the "ledger" maps.
// - Writes land in memWorld immediately; there is no tx rollback here, so
// Tests that expect an abort assert on contract reads, not raw map contents.

package main

import (
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	testing "testing"

	queryresult "github.com/hyperledger/fabric-protos-go-apiv2/ledger/queryresult"
	pb "github.com/hyperledger/fabric-protos-go-apiv2/peer"

	"github.com/golang/mock/gomock"
	"github.com/hyperledger/fabric-chaincode-go/v2/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/v2/shim"
	contractapi "github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
	"google.golang.org/protobuf/types/known/timestamppb"

	f "github.com/phdu-18/Privacy-Budget-Tool/fakes"
)

const (
	testOwner     = "x509::CN=owner@org1"
	testReporter1 = "x509::CN=reporter-1@org1"
	testReporter2 = "x509::CN=reporter-2@org2"
	testOutsider  = "x509::CN=stranger@org3"

	testChannel   = "budgetchan-01"
	testOracleKey = "deadbeefcafe"
	testBaseTime  = int64(1700000000)

	// Small RSA-textbook modulus: n = 61*53 = 3233 (0xca1), n² = 10452289.
	hexN = "0xca1"
	hexG = "0xca2"

	// Ciphertexts coprime to n² and inside (1, n²): 3001 is prime,
	// 8001 = 3²·7·127, 11111 = 41·271 — none share a factor with n.
	hexCipherA = "0x0bb9" // 3001
	hexCipherB = "0x1f41" // 8001
	hexCipherC = "0x2b67" // 11111
)

/* in-memory world state */

// MemWorld is a tiny in-memory ledger used by the mock stub.
// It tracks world state (ws), emitted events, and op counts.
type memWorld struct {
	ws     map[string][]byte
	events []struct {
		name    string
		payload []byte
	}
	opsCounts struct {
		getState, putState, delState int
		setEvent                     int
	}
}

func newMemWorld() *memWorld {
	return &memWorld{ws: make(map[string][]byte)}
}

func (m *memWorld) getState(key string) ([]byte, error) {
	m.opsCounts.getState++
	if v, ok := m.ws[key]; ok {
		return append([]byte(nil), v...), nil // Copy for safety
	}
	return nil, nil
}

func (m *memWorld) putState(key string, val []byte) error {
	m.opsCounts.putState++
	m.ws[key] = append([]byte(nil), val...) // Copy for safety
	return nil
}

func (m *memWorld) delState(key string) error {
	m.opsCounts.delState++
	delete(m.ws, key)
	return nil
}

func (m *memWorld) setEvent(name string, payload []byte) error {
	m.opsCounts.setEvent++
	m.events = append(m.events, struct {
		name    string
		payload []byte
	}{name: name, payload: append([]byte(nil), payload...)})
	return nil
}

// countEvents returns how many events with the given name were emitted.
func (m *memWorld) countEvents(name string) int {
	n := 0
	for _, e := range m.events {
		if e.name == name {
			n++
		}
	}
	return n
}

// lastEvent returns the decoded payload of the most recent event with name,
// or nil when none was emitted.
func (m *memWorld) lastEvent(name string) map[string]any {
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].name == name {
			var out map[string]any
			if json.Unmarshal(m.events[i].payload, &out) == nil {
				return out
			}
			return nil
		}
	}
	return nil
}

// MemIter is a simple iterator over a pre-materialized slice of WS keys/values.
type memIter struct {
	keys []string
	vals [][]byte
	i    int
}

func (it *memIter) HasNext() bool { return it.i < len(it.keys) }

func (it *memIter) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, fmt.Errorf("iterator exhausted")
	}
	kv := &queryresult.KV{Key: it.keys[it.i], Value: it.vals[it.i]}
	it.i++
	return kv, nil
}

func (it *memIter) Close() error { return nil }

// iterWSRange materializes a range scan over world state, [start, end)
// lexicographic, sorted for deterministic order like Fabric.
func (m *memWorld) iterWSRange(start, end string) *memIter {
	var keys []string
	for k := range m.ws {
		if (start == "" || k >= start) && (end == "" || k < end) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = append([]byte(nil), m.ws[k]...) // Copy for safety
	}
	return &memIter{keys: keys, vals: vals}
}

/* tx context with a switchable caller identity */

// FakeIdentity satisfies cid.ClientIdentity with a plain id string. Role
// checks in the contract only use GetID.
type fakeIdentity struct{ id *string }

func (fi *fakeIdentity) GetID() (string, error)    { return *fi.id, nil }
func (fi *fakeIdentity) GetMSPID() (string, error) { return "Org1MSP", nil }
func (fi *fakeIdentity) GetAttributeValue(string) (string, bool, error) {
	return "", false, nil
}
func (fi *fakeIdentity) AssertAttributeValue(string, string) error { return nil }
func (fi *fakeIdentity) GetX509Certificate() (*x509.Certificate, error) {
	return nil, nil
}

// TestTxCtx adapts a raw stub + fake identity to a contractapi
// TransactionContext. Tests only need GetStub and GetClientIdentity.
type testTxCtx struct {
	s  shim.ChaincodeStubInterface
	id cid.ClientIdentity
}

func (c *testTxCtx) GetStub() shim.ChaincodeStubInterface { return c.s }
func (c *testTxCtx) GetClientIdentity() cid.ClientIdentity { return c.id }

/* test harness */

// TestHarness bundles the mock controller, stub, in-mem ledger, and the
// contract under test, plus a mutable txID, clock and caller so tests can
// simulate distinct transactions from distinct principals over time.
type testHarness struct {
	ctrl      *gomock.Controller
	ctx       contractapi.TransactionContextInterface
	stub      *f.MockChaincodeStubInterface
	mem       *memWorld
	cc        *BudgetAccumContract
	t         *testing.T
	txID      string
	now       int64
	caller    string
	oracleSeq int64
}

// newHarness builds a mocked Fabric transaction context for unit tests.
// It wires world state to in-memory maps, installs a stubbed decrypt-oracle
// behind InvokeChaincode, and resets the pk cache to keep tests isolated.
func newHarness(t *testing.T) *testHarness {
	t.Helper()

	ctrl := gomock.NewController(t)
	stub := f.NewMockChaincodeStubInterface(ctrl)
	mem := newMemWorld()

	h := &testHarness{
		ctrl: ctrl, stub: stub, mem: mem,
		cc: new(BudgetAccumContract), t: t,
		txID: "tx-0001", now: testBaseTime, caller: testOwner,
	}
	h.ctx = &testTxCtx{s: stub, id: &fakeIdentity{id: &h.caller}}

	// The pk cache is process-global and keyed by channel; clear it so a
	// previous test's key does not leak in.
	pkCache.Delete(testChannel)

	// Return the current harness txID/clock; tests may override per case.
	stub.EXPECT().GetTxID().AnyTimes().DoAndReturn(func() string { return h.txID })
	stub.EXPECT().GetTxTimestamp().AnyTimes().DoAndReturn(func() (*timestamppb.Timestamp, error) {
		return &timestamppb.Timestamp{Seconds: h.now}, nil
	})
	stub.EXPECT().GetChannelID().AnyTimes().Return(testChannel)

	// Wire world state to the in-mem maps.
	stub.EXPECT().GetState(gomock.Any()).AnyTimes().DoAndReturn(mem.getState)
	stub.EXPECT().PutState(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(mem.putState)
	stub.EXPECT().DelState(gomock.Any()).AnyTimes().DoAndReturn(mem.delState)

	// World-state range queries (used by ListPending-style scans).
	stub.EXPECT().
		GetStateByRange(gomock.Any(), gomock.Any()).
		AnyTimes().
		DoAndReturn(func(start, end string) (shim.StateQueryIteratorInterface, error) {
			return mem.iterWSRange(start, end), nil
		})

	// Capture events into the in-mem log for assertions.
	stub.EXPECT().SetEvent(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(mem.setEvent)

	h.stubOracle()
	return h
}

/* oracle cc2cc stub */

// goodProof computes the proof the stubbed oracle accepts, matching the
// decrypt-oracle chaincode's dev verification rule.
func goodProof(requestID, cleartextHex string) string {
	return sha256HexStr(requestID + "::" + canonHexStr(cleartextHex) + "::" + testOracleKey)
}

// stubOracle wires gomock expectations to answer decrypt-oracle calls:
// RegisterRequest hands out sequential ids, VerifyProof applies the same
// rule as the real dev oracle.
func (h *testHarness) stubOracle() {
	h.stub.EXPECT().
		InvokeChaincode(
			gomock.Eq("decrypt-oracle"),           // Cc name
			gomock.AssignableToTypeOf([][]byte{}), // Args
			gomock.Any(),                          // Channel
		).
		AnyTimes().
		DoAndReturn(func(cc string, args [][]byte, ch string) *pb.Response {
			if len(args) == 0 {
				return &pb.Response{Status: int32(shim.ERROR), Message: "missing fcn"}
			}
			fcn := string(args[0])
			switch fcn {
			case "RegisterRequest":
				if len(args) < 4 {
					return &pb.Response{Status: int32(shim.ERROR), Message: "bad args"}
				}
				var digests []string
				if json.Unmarshal(args[1], &digests) != nil || len(digests) == 0 {
					return &pb.Response{Status: int32(shim.ERROR), Message: "bad digests"}
				}
				h.oracleSeq++
				id := fmt.Sprintf("req-%06d", h.oracleSeq)
				// Contractapi JSON-encodes string returns.
				return &pb.Response{Status: int32(shim.OK), Payload: []byte(`"` + id + `"`)}
			case "VerifyProof":
				if len(args) < 4 {
					return &pb.Response{Status: int32(shim.ERROR), Message: "bad args"}
				}
				reqID, clear, proof := string(args[1]), string(args[2]), string(args[3])
				if strings.EqualFold(goodProof(reqID, clear), strings.TrimSpace(proof)) {
					return &pb.Response{Status: int32(shim.OK), Payload: []byte("true")}
				}
				return &pb.Response{Status: int32(shim.OK), Payload: []byte("false")}
			default:
				return &pb.Response{Status: 404, Message: "not mocked: " + fcn}
			}
		})
}

/* small helpers */

func (h *testHarness) setTxID(id string)    { h.txID = id }
func (h *testHarness) setCaller(who string) { h.caller = who }

// advance moves the transaction clock forward.
func (h *testHarness) advance(secs int64) { h.now += secs }

// setup runs Initialize as the owner and installs the test public key.
func (h *testHarness) setup() {
	h.t.Helper()
	h.setCaller(testOwner)
	requireNoErr(h.t, h.cc.Initialize(h.ctx))
	requireNoErr(h.t, h.setPK())
}

func (h *testHarness) setPK() error {
	pkJSON := `{"n":"` + hexN + `","g":"` + hexG + `"}`
	return h.cc.SetPublicKey(h.ctx, pkJSON)
}

// submitAs submits one ciphertext as the given reporter, advancing the clock
// past the cooldown first so consecutive calls are admitted.
func (h *testHarness) submitAs(who, cipherHex string) (string, error) {
	h.advance(defaultCooldownForTests)
	h.setCaller(who)
	return h.cc.Submit(h.ctx, cipherHex)
}

// requestAs issues a decryption request as the given caller, advancing the
// clock past the cooldown first.
func (h *testHarness) requestAs(who string, batchID int64) (string, error) {
	h.advance(defaultCooldownForTests)
	h.setCaller(who)
	return h.cc.RequestDecryption(h.ctx, batchID)
}

// The contract default; kept as a named constant so cooldown tests that
// override it read clearly.
const defaultCooldownForTests = 30

// mulModHex is the expected-value twin of the contract's accumulator fold.
func mulModHex(t *testing.T, hexes ...string) string {
	t.Helper()
	n, err := bigFromHex(hexN)
	requireNoErr(t, err)
	n2 := new(big.Int).Mul(n, n)
	acc := big.NewInt(1)
	for _, s := range hexes {
		c, err := bigFromHex(s)
		requireNoErr(t, err)
		acc = mulMod(acc, c, n2)
	}
	return hexFromBig(acc)
}

// RequireNoErr fails the test immediately if err != nil, labeling it unexpected.
func requireNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// RequireErrIs asserts err wraps the wanted sentinel condition.
func requireErrIs(t *testing.T, err, want error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %v, got nil", want)
	}
	if !errors.Is(err, want) {
		t.Fatalf("error %q does not wrap %q", err.Error(), want.Error())
	}
}

// RequireErrContains asserts that err is non-nil and its message contains
// wantSubstr (case-insensitive).
func requireErrContains(t *testing.T, err error, wantSubstr string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", wantSubstr)
	}
	if wantSubstr != "" && !strings.Contains(strings.ToLower(err.Error()), strings.ToLower(wantSubstr)) {
		t.Fatalf("error %q does not contain %q", err.Error(), wantSubstr)
	}
}
