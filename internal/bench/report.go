package bench

import (
	"time"

	"github.com/shaunagostinho/seymour-life/internal/counter"
)

// Phase is what a unit's worker is doing.
type Phase string

const (
	PhaseProvisioning Phase = "provisioning"
	PhaseRebooting    Phase = "rebooting"
	PhaseBP           Phase = "bp"
	PhasePolling      Phase = "polling"
	PhaseIdle         Phase = "idle"
	PhaseDone         Phase = "done"
	PhaseFailed       Phase = "failed"
)

// Outcome is the result of one BP cycle.
type Outcome struct {
	Time      time.Time
	Port      string
	Serial    string
	Iteration int
	Cycle     int
	BPStart   bool
	BPEnd     bool
	Success   bool
	TempCount uint64
	Counters  counter.Counters
	Err       error
}

// Snapshot is the latest known status of one unit.
type Snapshot struct {
	Port       string           `json:"port"`
	Serial     string           `json:"serial"`
	State      string           `json:"state"`
	Relay      int              `json:"relay"`
	Phase      Phase            `json:"phase"`
	Iteration  int              `json:"iteration"`
	Iterations int              `json:"iterations"`
	Cycle      int              `json:"cycle"`
	Cycles     int              `json:"cycles"`
	Counters   counter.Counters `json:"counters"`
	Error      string           `json:"error,omitempty"`
	Updated    time.Time        `json:"updated"`
}

// Recorder receives every cycle outcome. The CSV journal implements it.
type Recorder interface {
	Record(o Outcome) error
}

// Observer receives status snapshots. The monitor hub and the MQTT
// publisher implement it.
type Observer interface {
	Observe(s Snapshot)
}
