package marketplace

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

type wireTxEvent struct {
	Type       string          `json:"type"`
	Attributes []wireAttribute `json:"attributes"`
}

type wireTxLog struct {
	Events []wireTxEvent `json:"events"`
}

type wireTx struct {
	TxHash string        `json:"txhash"`
	Code   int           `json:"code"`
	RawLog string        `json:"raw_log"`
	Logs   []wireTxLog   `json:"logs"`
	Events []wireTxEvent `json:"events"`
	Tx     struct {
		AuthInfo struct {
			Fee struct {
				Amount []wireCoin `json:"amount"`
			} `json:"fee"`
		} `json:"auth_info"`
	} `json:"tx"`
}

func parseTxResult(raw []byte) (*TxResult, error) {
	normalized, err := jsonOutput(raw)
	if err != nil {
		return nil, fmt.Errorf("parse transaction output: %w", err)
	}

	var tx wireTx
	if err := json.Unmarshal(normalized, &tx); err != nil {
		return nil, fmt.Errorf("parse transaction output: %w", err)
	}
	if tx.Code != 0 {
		return nil, fmt.Errorf("transaction rejected with code %d: %s", tx.Code, tx.RawLog)
	}

	result := &TxResult{
		Hash: tx.TxHash,
		Raw:  normalized,
	}
	for _, coin := range tx.Tx.AuthInfo.Fee.Amount {
		if coin.Denom == "uakt" {
			result.Fee = coin.uakt()
		}
	}
	return result, nil
}

var (
	rawLogDSeqPattern = regexp.MustCompile(`"dseq"\s*:\s*"?(\d+)"?`)
	bareDSeqPattern   = regexp.MustCompile(`\b(\d{6,})\b`)
)

// parseDSeq pulls the assigned deployment sequence number out of a confirmed
// creation transaction. The structured event attributes are authoritative;
// the raw_log and bare-number scans cover ledger versions that stopped
// populating the logs array.
func parseDSeq(raw []byte) (uint64, error) {
	var tx wireTx
	if err := json.Unmarshal(raw, &tx); err == nil {
		events := tx.Events
		for _, entry := range tx.Logs {
			events = append(events, entry.Events...)
		}
		for _, event := range events {
			for _, attr := range event.Attributes {
				if attr.Key != "dseq" {
					continue
				}
				if dseq, err := strconv.ParseUint(attr.Value, 10, 64); err == nil && dseq > 0 {
					return dseq, nil
				}
			}
		}
		if match := rawLogDSeqPattern.FindStringSubmatch(tx.RawLog); match != nil {
			return strconv.ParseUint(match[1], 10, 64)
		}
	}

	if match := bareDSeqPattern.FindSubmatch(raw); match != nil {
		return strconv.ParseUint(string(match[1]), 10, 64)
	}
	return 0, ErrDSeqNotFound
}
