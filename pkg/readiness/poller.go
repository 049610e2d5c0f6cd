package readiness

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
)

// Model download completion is only visible in the service logs; the
// workload prints these markers once its file watchers come up.
var downloadMarkers = []string{
	"Watches established",
	"watchers started",
}

const DefaultLogTail = 200

// Observe maps a single provider observation to the highest stage whose
// conditions hold right now. It never consults history; Probe handles the
// monotonicity guarantee.
func Observe(status *marketplace.LeaseStatus, logs string) Stage {
	switch {
	case !status.AnyReady():
		return StageStarting
	case !status.AllReady():
		return StageStartingServices
	case !downloadsComplete(logs):
		return StageDownloadingModels
	default:
		return StageReady
	}
}

func downloadsComplete(logs string) bool {
	lower := strings.ToLower(logs)
	for _, marker := range downloadMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// Poller performs single non-blocking readiness observations against the
// provider that holds the lease.
type Poller struct {
	Provider marketplace.ProviderClient
	LogTail  int
}

// Probe makes one observation and folds it into the last persisted stage.
// The returned stage never regresses below last; a failed or ambiguous
// observation keeps the last-known stage and is not an error to the caller's
// workflow, only to its log.
func (p *Poller) Probe(ctx context.Context, lease marketplace.Lease, last Stage) (Stage, *marketplace.LeaseStatus, error) {
	status, err := p.Provider.LeaseStatus(ctx, lease)
	if err != nil {
		log.Warnf("Readiness observation failed, keeping stage '%s': %s", last, err)
		return Max(last, StageStarting), nil, err
	}

	logs := ""
	if status.AllReady() {
		// The log scan only discriminates between the last two stages,
		// so skip the extra provider round trip before that point.
		tail := p.LogTail
		if tail == 0 {
			tail = DefaultLogTail
		}
		logs, err = p.Provider.ServiceLogs(ctx, lease, tail)
		if err != nil {
			log.Warnf("Could not fetch service logs for readiness check: %s", err)
		}
	}

	observed := Observe(status, logs)
	next := Max(last, observed)
	if next != last {
		log.Infof("Readiness stage advanced from '%s' to '%s'", last, next)
	}
	return next, status, nil
}
