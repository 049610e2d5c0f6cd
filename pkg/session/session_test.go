package session_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/session"
)

const testOwner = "akash1owner"

func TestEnsureHappyPath(t *testing.T) {
	ledger := marketplace.NewMockLedgerClient(t)
	ledger.On("WalletAddress", mock.Anything).Return(testOwner, nil).Once()
	ledger.On("Balance", mock.Anything, testOwner).Return(session.MinBalance, nil).Once()
	ledger.On("HasCertificate", mock.Anything, testOwner).Return(true, nil).Once()

	guard := &session.Guard{Ledger: ledger}
	sess, err := guard.Ensure(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, testOwner, sess.Owner)
	assert.Equal(t, session.MinBalance, sess.Balance)
	assert.NotEmpty(t, sess.ID)
}

func TestEnsureRejectsUnderfundedWallet(t *testing.T) {
	ledger := marketplace.NewMockLedgerClient(t)
	ledger.On("WalletAddress", mock.Anything).Return(testOwner, nil).Once()
	ledger.On("Balance", mock.Anything, testOwner).Return(uint64(999), nil).Once()

	guard := &session.Guard{Ledger: ledger}
	_, err := guard.Ensure(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "below")
}

func TestEnsureRejectsMissingCertificate(t *testing.T) {
	ledger := marketplace.NewMockLedgerClient(t)
	ledger.On("WalletAddress", mock.Anything).Return(testOwner, nil).Once()
	ledger.On("Balance", mock.Anything, testOwner).Return(session.MinBalance, nil).Once()
	ledger.On("HasCertificate", mock.Anything, testOwner).Return(false, nil).Once()

	guard := &session.Guard{Ledger: ledger}
	_, err := guard.Ensure(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "certificate")
}

func TestEnsureHonorsMinBalanceOverride(t *testing.T) {
	ledger := marketplace.NewMockLedgerClient(t)
	ledger.On("WalletAddress", mock.Anything).Return(testOwner, nil).Once()
	ledger.On("Balance", mock.Anything, testOwner).Return(uint64(500), nil).Once()
	ledger.On("HasCertificate", mock.Anything, testOwner).Return(true, nil).Once()

	guard := &session.Guard{Ledger: ledger, MinBalance: 100}
	sess, err := guard.Ensure(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, uint64(500), sess.Balance)
}

func TestGenerateCredentialsShape(t *testing.T) {
	creds, err := session.GenerateCredentials()
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(creds.Username, "comfyui_"))
	assert.Len(t, creds.Username, len("comfyui_")+6)
	assert.Len(t, creds.Password, 16)
}

func TestGenerateCredentialsAreUnique(t *testing.T) {
	a, err := session.GenerateCredentials()
	assert.NoError(t, err)
	b, err := session.GenerateCredentials()
	assert.NoError(t, err)
	assert.NotEqual(t, a.Password, b.Password)
}
