package relay

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// GPIODriver drives relays wired to GPIO lines of one chip through the
// Linux character device.
type GPIODriver struct {
	mu    sync.Mutex
	chip  string
	lines map[int]*gpiocdev.Line
}

// OpenGPIO requests every offset as an output, initially low.
func OpenGPIO(chip string, offsets []int) (*GPIODriver, error) {
	d := &GPIODriver{chip: chip, lines: make(map[int]*gpiocdev.Line, len(offsets))}
	for _, off := range offsets {
		l, err := gpiocdev.RequestLine(chip, off, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("seymour"))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request %s line %d: %w", chip, off, err)
		}
		d.lines[off] = l
	}
	return d, nil
}

func (d *GPIODriver) Set(addr int, high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lines[addr]
	if !ok {
		return fmt.Errorf("%s line %d not requested", d.chip, addr)
	}
	v := 0
	if high {
		v = 1
	}
	return l.SetValue(v)
}

func (d *GPIODriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for off, l := range d.lines {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
		delete(d.lines, off)
	}
	return first
}
