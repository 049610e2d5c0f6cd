// Package readiness maps raw provider signals onto a monotonic readiness
// progression. The poller never sleeps; the external scheduler re-invokes it.
package readiness

// Stage is one point in the readiness progression. The order is strict and
// externally visible stages never regress.
type Stage string

const (
	StageStarting          Stage = "starting"
	StageStartingServices  Stage = "starting_services"
	StageDownloadingModels Stage = "downloading_models"
	StageReady             Stage = "ready"
)

var stageOrder = map[Stage]int{
	StageStarting:          0,
	StageStartingServices:  1,
	StageDownloadingModels: 2,
	StageReady:             3,
}

func (s Stage) Known() bool {
	_, ok := stageOrder[s]
	return ok
}

func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// Max returns the later of the two stages. Unknown stages always lose.
func Max(a, b Stage) Stage {
	if !a.Known() {
		return b
	}
	if !b.Known() {
		return a
	}
	if stageOrder[a] >= stageOrder[b] {
		return a
	}
	return b
}
