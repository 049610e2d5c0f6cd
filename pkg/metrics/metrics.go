// Package metrics counts what each invocation does. The listener is
// optional; counters are cheap to bump whether or not anything scrapes
// them.
package metrics

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	namespace = "akash"
	subsystem = "deploy"

	labelAction = "action"
	labelType   = "type"
	labelStatus = "status"

	StatusOK    = "ok"
	StatusError = "error"
)

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name:      name,
		Help:      help,
		Namespace: namespace,
		Subsystem: subsystem,
	})
}

var (
	DeploySuccessful  = counter("deploy_successful", "number of deployments that reached a lease with manifest delivered")
	DeployFailed      = counter("deploy_failed", "number of deployment runs that ended in a classified failure")
	DeploymentsClosed = counter("deployments_closed", "number of deployments closed")
	LeasesCreated     = counter("leases_created", "number of leases created")
	BidsObserved      = counter("bids_observed", "number of bids seen across all polls")

	ledgerTransactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "ledger_transactions",
		Help:      "number of fee-costing ledger transactions submitted",
		Namespace: namespace,
		Subsystem: subsystem,
	},
		[]string{
			labelType,
			labelStatus,
		},
	)

	reconcileActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "reconcile_actions",
		Help:      "number of reconciliation decisions by action taken",
		Namespace: namespace,
		Subsystem: subsystem,
	},
		[]string{
			labelAction,
		},
	)
)

// LedgerTransaction records a submitted transaction of the given type
// ("create-deployment", "create-lease", "close-deployment").
func LedgerTransaction(txType string, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	ledgerTransactions.With(prometheus.Labels{
		labelType:   txType,
		labelStatus: status,
	}).Inc()
}

// ReconcileAction records a reconciliation decision.
func ReconcileAction(action string) {
	reconcileActions.With(prometheus.Labels{
		labelAction: action,
	}).Inc()
}

func init() {
	prometheus.MustRegister(DeploySuccessful)
	prometheus.MustRegister(DeployFailed)
	prometheus.MustRegister(DeploymentsClosed)
	prometheus.MustRegister(LeasesCreated)
	prometheus.MustRegister(BidsObserved)
	prometheus.MustRegister(ledgerTransactions)
	prometheus.MustRegister(reconcileActions)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes the metrics endpoint on addr in the background. A short
// lived CLI process is usually scraped only during its bid and readiness
// wait windows, which is exactly when the interesting counters move.
func Serve(addr, path string) {
	if addr == "" {
		return
	}
	router := chi.NewRouter()
	router.Handle(path, Handler())
	log.Infof("Serving metrics on %s endpoint %s", addr, path)
	go func() {
		err := http.ListenAndServe(addr, router)
		if err != nil {
			log.Errorf("Metrics listener: %s", err)
		}
	}()
}
