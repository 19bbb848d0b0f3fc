package main

/*
decrypt-oracle (development collaborator)

On-chain half of the decryption oracle used by the budgetaccum contract.
The contract registers a request here via cc2cc; an off-chain relayer watches
the DecryptionJobQueued event, produces the cleartext and its proof, invokes
the stored callback on the requesting chaincode, and marks the job complete.

Exports:
  1) RegisterRequest(digestsJSON, callbackCC, callbackFcn) → "req-%06d"
       ORQ::<requestID> → Job JSON; request ids are sequential and never reused.
  2) GetJob(requestID) → Job JSON (for the relayer)
  3) ListPending() → pending request ids in issue order
  4) CompleteJob(requestID) — relayer bookkeeping after callback delivery
  5) VerifyProof(requestID, cleartextHex, proofHex) → true/false
       Development stand-in for the production attestation: the proof must be
       sha256(requestID || "::" || canonical cleartext || "::" || oracle key),
       with the key installed once via SetOracleKey. Real deployments replace
       this function body with the KMS/TEE verification.
  6) SetOracleKey(keyHex) — one-time install of the verification key.
*/

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

const (
	keyReqSeq    = "REQSEQ"    // Decimal counter of issued request ids
	keyJobPfx    = "ORQ::"     // ORQ::<requestID> → Job JSON
	keyOracleKey = "ORACLEKEY" // Proof verification key (dev)
)

const (
	jobPending = "pending"
	jobDone    = "done"
)

const eventJobQueued = "DecryptionJobQueued"

// DecryptOracleContract is the on-chain request registry of the oracle.
type DecryptOracleContract struct{ contractapi.Contract }

// Job records one decryption request and where to deliver its result.
type Job struct {
	RequestID   string   `json:"requestID"`
	Digests     []string `json:"digests"`
	CallbackCC  string   `json:"callbackCC"`
	CallbackFcn string   `json:"callbackFcn"`
	Status      string   `json:"status"`
}

func jobKey(requestID string) string { return keyJobPfx + requestID }

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// canonHex lowercases, strips 0x and leading zeros so proof inputs are stable
// across clients.
func canonHex(s string) string {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}

// SetOracleKey installs the proof verification key. One-time: re-keying a
// live oracle would let old proofs be forged retroactively.
func (c *DecryptOracleContract) SetOracleKey(ctx contractapi.TransactionContextInterface, keyHex string) error {
	keyHex = strings.TrimSpace(keyHex)
	if keyHex == "" {
		return fmt.Errorf("key empty")
	}
	if raw, err := ctx.GetStub().GetState(keyOracleKey); err != nil {
		return err
	} else if raw != nil {
		return fmt.Errorf("oracle key already set")
	}
	return ctx.GetStub().PutState(keyOracleKey, []byte(keyHex))
}

// RegisterRequest queues a decryption job and returns its fresh request id.
// Called cc2cc by the requesting contract; exactly one callback per id is
// promised by the relayer, at an unspecified future time.
func (c *DecryptOracleContract) RegisterRequest(ctx contractapi.TransactionContextInterface, digestsJSON, callbackCC, callbackFcn string) (string, error) {
	var digests []string
	if err := json.Unmarshal([]byte(digestsJSON), &digests); err != nil {
		return "", fmt.Errorf("parse digests: %w", err)
	}
	if len(digests) == 0 {
		return "", fmt.Errorf("no digests")
	}
	if strings.TrimSpace(callbackCC) == "" || strings.TrimSpace(callbackFcn) == "" {
		return "", fmt.Errorf("callback coordinates empty")
	}

	var seq int64
	if raw, err := ctx.GetStub().GetState(keyReqSeq); err != nil {
		return "", err
	} else if raw != nil {
		seq, _ = strconv.ParseInt(string(raw), 10, 64)
	}
	seq++
	requestID := fmt.Sprintf("req-%06d", seq)

	job := &Job{
		RequestID:   requestID,
		Digests:     digests,
		CallbackCC:  callbackCC,
		CallbackFcn: callbackFcn,
		Status:      jobPending,
	}
	b, _ := json.Marshal(job)
	if err := ctx.GetStub().PutState(jobKey(requestID), b); err != nil {
		return "", err
	}
	if err := ctx.GetStub().PutState(keyReqSeq, []byte(strconv.FormatInt(seq, 10))); err != nil {
		return "", err
	}
	_ = ctx.GetStub().SetEvent(eventJobQueued, b)
	return requestID, nil
}

// GetJob returns the stored job JSON for a request id.
func (c *DecryptOracleContract) GetJob(ctx contractapi.TransactionContextInterface, requestID string) (string, error) {
	raw, err := ctx.GetStub().GetState(jobKey(requestID))
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", fmt.Errorf("job not found")
	}
	return string(raw), nil
}

// ListPending returns pending request ids in issue order.
func (c *DecryptOracleContract) ListPending(ctx contractapi.TransactionContextInterface) ([]string, error) {
	it, err := ctx.GetStub().GetStateByRange(keyJobPfx, keyJobPfx+"~")
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := make([]string, 0)
	for it.HasNext() {
		kv, err := it.Next()
		if err != nil {
			return nil, err
		}
		var job Job
		if json.Unmarshal(kv.Value, &job) != nil {
			continue
		}
		if job.Status == jobPending {
			out = append(out, job.RequestID)
		}
	}
	return out, nil
}

// CompleteJob marks a job done after the relayer has delivered the callback.
func (c *DecryptOracleContract) CompleteJob(ctx contractapi.TransactionContextInterface, requestID string) error {
	raw, err := ctx.GetStub().GetState(jobKey(requestID))
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("job not found")
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return err
	}
	if job.Status == jobDone {
		return nil
	}
	job.Status = jobDone
	b, _ := json.Marshal(&job)
	return ctx.GetStub().PutState(jobKey(requestID), b)
}

// VerifyProof checks a decryption proof for a registered request.
func (c *DecryptOracleContract) VerifyProof(ctx contractapi.TransactionContextInterface, requestID, cleartextHex, proofHex string) (bool, error) {
	raw, err := ctx.GetStub().GetState(jobKey(requestID))
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, fmt.Errorf("job not found")
	}
	key, err := ctx.GetStub().GetState(keyOracleKey)
	if err != nil {
		return false, err
	}
	if key == nil {
		return false, fmt.Errorf("oracle key not set")
	}
	expected := sha256Hex([]byte(requestID + "::" + canonHex(cleartextHex) + "::" + string(key)))
	return strings.EqualFold(expected, strings.TrimSpace(proofHex)), nil
}

func main() {
	cc, err := contractapi.NewChaincode(new(DecryptOracleContract))
	if err != nil {
		panic(err)
	}
	if err := cc.Start(); err != nil {
		panic(err)
	}
}
