package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/shaunagostinho/seymour-life/internal/counter"
	"github.com/shaunagostinho/seymour-life/internal/device"
)

// operator asks the person at the bench for what the units cannot tell us.
type operator struct {
	in  *bufio.Scanner
	out io.Writer
}

func newOperator(in io.Reader, out io.Writer) *operator {
	return &operator{in: bufio.NewScanner(in), out: out}
}

func (o *operator) ask(prompt string) (string, error) {
	fmt.Fprint(o.out, prompt)
	if !o.in.Scan() {
		if err := o.in.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(o.in.Text()), nil
}

// Serial asks for the serial of the unit whose screen is lit. It names the
// counter file, so separators are refused.
func (o *operator) Serial() (string, error) {
	for {
		s, err := o.ask("Enter the serial of the device with the bright screen: ")
		if err != nil {
			return "", err
		}
		if counter.ValidSerial(s) {
			return s, nil
		}
		fmt.Fprintln(o.out, "Please enter the serial printed on the unit.")
	}
}

// Iterations asks until it gets a positive whole number.
func (o *operator) Iterations() (int, error) {
	for {
		s, err := o.ask("Enter the number of iterations to complete: ")
		if err != nil {
			return 0, err
		}
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n, nil
		}
		fmt.Fprintln(o.out, "Please enter a whole number greater than zero.")
	}
}

// identify reads every unit's serial over its console. Units that will not
// say are lit one at a time with the rest dimmed so the operator can read
// the label.
func identify(devs []*device.Device, op *operator, log logr.Logger) error {
	var unknown []*device.Device
	for _, d := range devs {
		serial, err := d.ReadSerial()
		if err != nil {
			log.Error(err, "Serial not readable, asking the operator", "port", d.Port())
			unknown = append(unknown, d)
			continue
		}
		d.SetSerial(serial)
		log.Info("Unit identified", "port", d.Port(), "serial", serial)
	}
	if len(unknown) == 0 {
		return nil
	}

	fmt.Fprintln(op.out, "Dimming all screens...")
	for _, d := range devs {
		if err := d.Darken(); err != nil {
			log.Error(err, "Could not dim screen", "port", d.Port())
		}
	}
	for _, d := range unknown {
		if err := d.Brighten(); err != nil {
			log.Error(err, "Could not light screen", "port", d.Port())
		}
		serial, err := op.Serial()
		if err != nil {
			return fmt.Errorf("serial for %s: %w", d.Port(), err)
		}
		if err := d.Darken(); err != nil {
			log.Error(err, "Could not dim screen", "port", d.Port())
		}
		d.SetSerial(serial)
		log.Info("Unit identified by operator", "port", d.Port(), "serial", serial)
	}
	return nil
}
