package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaunagostinho/seymour-life/internal/tty"
)

// Rack is a set of simulated units, each on its own console path and wired
// to one relay address. It stands in for the serial ports and the GPIO
// chip in demo mode.
type Rack struct {
	mu     sync.Mutex
	units  map[string]*Unit
	wiring map[int]*Unit
	levels map[int]bool
	opens  map[string]int
}

func NewRack() *Rack {
	return &Rack{
		units:  make(map[string]*Unit),
		wiring: make(map[int]*Unit),
		levels: make(map[int]bool),
		opens:  make(map[string]int),
	}
}

// Add places u on path with its probe wired to relay address addr. A
// negative addr leaves the probe unwired.
func (r *Rack) Add(path string, addr int, u *Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[path] = u
	if addr >= 0 {
		r.wiring[addr] = u
	}
}

// Demo builds a rack of n units on /dev/ttySIM<i>, wired to addrs in
// reverse order so relay discovery has work to do.
func Demo(n int, addrs []int) *Rack {
	r := NewRack()
	for i := 0; i < n; i++ {
		addr := -1
		if j := len(addrs) - 1 - i; j >= 0 {
			addr = addrs[j]
		}
		r.Add(fmt.Sprintf("/dev/ttySIM%d", i), addr, NewUnit(Options{
			Serial:      fmt.Sprintf("SL2210-%04d", 100+i),
			BPChecks:    3 + i,
			StopAtUBoot: i%2 == 1,
			StartInMenu: i%3 == 2,
		}))
	}
	return r
}

// Paths lists the console paths in order.
func (r *Rack) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.units))
	for p := range r.units {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Unit returns the unit on path.
func (r *Rack) Unit(path string) *Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.units[path]
}

// Opens reports how often path has been opened.
func (r *Rack) Opens(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens[path]
}

// Opener opens simulated consoles. Unknown paths fail like a missing device.
func (r *Rack) Opener() tty.Opener {
	return func(path string) (tty.Port, error) {
		r.mu.Lock()
		u, ok := r.units[path]
		if ok {
			r.opens[path]++
		}
		r.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("sim: no unit on %s", path)
		}
		u.reopen()
		return u, nil
	}
}

// Set drives the probe input of the unit wired to addr. Unwired addresses
// accept the write and do nothing.
func (r *Rack) Set(addr int, high bool) error {
	r.mu.Lock()
	r.levels[addr] = high
	u := r.wiring[addr]
	r.mu.Unlock()
	if u != nil {
		u.SetProbe(high)
	}
	return nil
}

// Level reports the last value written to addr.
func (r *Rack) Level(addr int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.levels[addr]
}

func (r *Rack) Close() error { return nil }
