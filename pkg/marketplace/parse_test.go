package marketplace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDSeqFromEvents(t *testing.T) {
	raw := []byte(`{
		"txhash": "ABC123",
		"code": 0,
		"logs": [
			{
				"events": [
					{
						"type": "akash.v1",
						"attributes": [
							{"key": "action", "value": "deployment-created"},
							{"key": "dseq", "value": "9876543"}
						]
					}
				]
			}
		]
	}`)

	dseq, err := parseDSeq(raw)
	assert.NoError(t, err)
	assert.Equal(t, uint64(9876543), dseq)
}

func TestParseDSeqFromRawLog(t *testing.T) {
	raw := []byte(`{"txhash":"DEF","code":0,"logs":[],"raw_log":"[{\"events\":[...]}] \"dseq\":\"1234567\" trailing"}`)

	dseq, err := parseDSeq(raw)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1234567), dseq)
}

func TestParseDSeqFromPlainText(t *testing.T) {
	raw := []byte("deployment created with sequence 7654321 on chain")

	dseq, err := parseDSeq(raw)
	assert.NoError(t, err)
	assert.Equal(t, uint64(7654321), dseq)
}

func TestParseDSeqMissing(t *testing.T) {
	_, err := parseDSeq([]byte(`{"txhash":"XYZ","code":0,"raw_log":"ok"}`))
	assert.ErrorIs(t, err, ErrDSeqNotFound)
}

func TestParseTxResultRejected(t *testing.T) {
	_, err := parseTxResult([]byte(`{"txhash":"X","code":11,"raw_log":"out of gas"}`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "out of gas")
}

func TestParseTxResultFee(t *testing.T) {
	result, err := parseTxResult([]byte(`{
		"txhash": "FEE1",
		"code": 0,
		"tx": {"auth_info": {"fee": {"amount": [{"denom": "uakt", "amount": "3125"}]}}}
	}`))
	assert.NoError(t, err)
	assert.Equal(t, "FEE1", result.Hash)
	assert.Equal(t, uint64(3125), result.Fee)
}

func TestJSONOutputAcceptsYAML(t *testing.T) {
	out, err := jsonOutput([]byte("services:\n  web:\n    available: 1\n"))
	assert.NoError(t, err)
	assert.JSONEq(t, `{"services":{"web":{"available":1}}}`, string(out))
}
