// Package session establishes the per-invocation context: identity,
// funding and certificate checks, plus generated workload credentials.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/statestore"
)

// MinBalance is the smallest spendable balance that lets a full run
// complete: deployment escrow plus transaction fees.
const MinBalance = uint64(1_000_000) // 1 AKT in uakt

// Session is the validated invocation context.
type Session struct {
	// ID tags every log line and the final result of this invocation.
	ID string

	// Owner is the wallet address all ledger operations act as.
	Owner string

	// Balance is the spendable uakt balance observed at session start.
	Balance uint64
}

// Guard runs the preflight checks every mutating operation depends on.
type Guard struct {
	Ledger marketplace.LedgerClient

	// MinBalance overrides the default funding floor when positive.
	MinBalance uint64
}

func (g *Guard) minBalance() uint64 {
	if g.MinBalance > 0 {
		return g.MinBalance
	}
	return MinBalance
}

// Ensure resolves the wallet, verifies funding and checks that a client
// certificate is published. Any failure means no transaction should be
// attempted.
func (g *Guard) Ensure(ctx context.Context) (*Session, error) {
	owner, err := g.Ledger.WalletAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve wallet address: %w", err)
	}

	balance, err := g.Ledger.Balance(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("query balance for %s: %w", owner, err)
	}
	if balance < g.minBalance() {
		return nil, fmt.Errorf("wallet %s holds %d uakt, below the %d uakt required", owner, balance, g.minBalance())
	}

	hasCert, err := g.Ledger.HasCertificate(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("query certificates for %s: %w", owner, err)
	}
	if !hasCert {
		return nil, fmt.Errorf("wallet %s has no published client certificate; providers will reject manifests", owner)
	}

	session := &Session{
		ID:      uuid.New().String(),
		Owner:   owner,
		Balance: balance,
	}
	log.Infof("Session %s: wallet %s, balance %d uakt", session.ID, owner, balance)
	return session, nil
}

const (
	usernamePrefix = "comfyui_"
	usernameLen    = 6
	passwordLen    = 16

	lowerAlnum = "abcdefghijklmnopqrstuvwxyz0123456789"
	alnum      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateCredentials produces the login pair injected into the deployed
// workload. Randomness comes from crypto/rand; a failure there is
// unrecoverable.
func GenerateCredentials() (statestore.Credentials, error) {
	user, err := randomString(lowerAlnum, usernameLen)
	if err != nil {
		return statestore.Credentials{}, fmt.Errorf("generate credentials: %w", err)
	}
	pass, err := randomString(alnum, passwordLen)
	if err != nil {
		return statestore.Credentials{}, fmt.Errorf("generate credentials: %w", err)
	}

	return statestore.Credentials{
		Username: usernamePrefix + user,
		Password: pass,
	}, nil
}

func randomString(alphabet string, length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
