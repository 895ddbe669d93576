package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// ErrNoMatch means no unassigned relay produced the expected reaction.
var ErrNoMatch = errors.New("relay: no unassigned address matched")

// Driver sets digital outputs by address.
type Driver interface {
	Set(addr int, high bool) error
	Close() error
}

// Pool hands out relay addresses, each to at most one unit. It is safe for
// concurrent use; Claim holds the lock for the whole search.
type Pool struct {
	mu     sync.Mutex
	driver Driver
	addrs  []int
	free   []int
	log    logr.Logger
}

// NewPool drives every address low and makes them all available.
func NewPool(driver Driver, addrs []int, log logr.Logger) (*Pool, error) {
	p := &Pool{
		driver: driver,
		addrs:  append([]int(nil), addrs...),
		free:   append([]int(nil), addrs...),
		log:    log.WithName("relay"),
	}
	for _, a := range addrs {
		if err := driver.Set(a, false); err != nil {
			return nil, fmt.Errorf("relay %d: %w", a, err)
		}
	}
	p.log.Info("Relay pool ready", "addresses", addrs)
	return p, nil
}

// Unassigned returns the addresses not yet bound to a unit.
func (p *Pool) Unassigned() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.free...)
}

// Set drives addr high or low.
func (p *Pool) Set(addr int, high bool) error {
	if err := p.driver.Set(addr, high); err != nil {
		p.log.Error(err, "Relay write failed", "relay", addr, "high", high)
		return fmt.Errorf("relay %d: %w", addr, err)
	}
	p.log.V(1).Info("Relay set", "relay", addr, "high", high)
	return nil
}

// Reserve removes addr from the unassigned set. It reports false if addr
// was not available.
func (p *Pool) Reserve(addr int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserve(addr)
}

func (p *Pool) reserve(addr int) bool {
	for i, a := range p.free {
		if a == addr {
			p.free = append(p.free[:i], p.free[i+1:]...)
			return true
		}
	}
	return false
}

// Claim offers each unassigned address to try in order and reserves the
// first one try accepts. An error from try aborts the search.
func (p *Pool) Claim(try func(addr int) (bool, error)) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := append([]int(nil), p.free...)
	for _, a := range candidates {
		ok, err := try(a)
		if err != nil {
			return 0, err
		}
		if ok {
			p.reserve(a)
			p.log.Info("Relay claimed", "relay", a, "left", len(p.free))
			return a, nil
		}
	}
	return 0, ErrNoMatch
}

// Close drives every address low and releases the driver.
func (p *Pool) Close() error {
	var errs []error
	for _, a := range p.addrs {
		if err := p.driver.Set(a, false); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.driver.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
