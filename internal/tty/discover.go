package tty

import (
	"errors"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/shaunagostinho/seymour-life/internal/console"
)

// ErrNoUnit means a port opened but nothing on it answered like a unit.
var ErrNoUnit = errors.New("tty: no unit answered")

// Found is a port that answered a newline with a recognisable console reply.
type Found struct {
	Channel *Channel
	Initial console.Response
}

// Probe opens path, sends a bare newline and reads once. Anything other than
// silence or unrecognised output qualifies the port as a live unit.
func Probe(path string, opener Opener, classifier *console.Classifier, opts Options, log logr.Logger) (*Found, error) {
	ch, err := Open(path, opener, classifier, opts, log)
	if err != nil {
		return nil, err
	}
	if err := ch.Write(console.Newline); err != nil {
		ch.Close()
		return nil, err
	}
	resp := ch.Read()
	if resp.Is(console.Other) || resp.Is(console.Empty) {
		ch.Close()
		return nil, ErrNoUnit
	}
	return &Found{Channel: ch, Initial: resp}, nil
}

// Discover probes every path concurrently and returns the live units sorted
// by path. Ports that fail to open or stay silent are logged and skipped.
func Discover(paths []string, opener Opener, classifier *console.Classifier, opts Options, log logr.Logger) []*Found {
	log = log.WithName("discover")

	var (
		mu    sync.Mutex
		found []*Found
		g     errgroup.Group
	)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			log.Info("Testing port, this may take a moment", "port", path)
			f, err := Probe(path, opener, classifier, opts, log)
			if err != nil {
				log.V(1).Info("Port skipped", "port", path, "reason", err.Error())
				return nil
			}
			log.Info("Unit found", "port", path, "initial", f.Initial.String())
			mu.Lock()
			found = append(found, f)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(found, func(i, j int) bool {
		return found[i].Channel.Path() < found[j].Channel.Path()
	})
	return found
}
