// Package driver reads the simulator's textual input stream, one line per
// logical tick, and drives the transaction manager's tick loop.
package driver

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/mnohosten/repcrec/pkg/chaos"
	"github.com/mnohosten/repcrec/pkg/command"
	"github.com/mnohosten/repcrec/pkg/events"
	"github.com/mnohosten/repcrec/pkg/txnmgr"
)

// ErrInvalidCommand wraps a command-parse failure; per the input
// language's policy, this terminates the run with a nonzero exit code.
var ErrInvalidCommand = errors.New("driver: invalid command")

// ErrInvariant wraps an internal-invariant violation (a *txnmgr.InvariantError
// panic caught at the tick loop boundary) so Run can report it as an
// ordinary error instead of letting a raw panic and stack trace reach the
// operator.
var ErrInvariant = errors.New("driver: internal invariant violated")

// Driver owns the input stream and the manager it drives.
type Driver struct {
	manager *txnmgr.Manager
	logger  *events.Logger
	scanner *bufio.Scanner
	chaos   *chaos.Injector
}

// New creates a Driver reading lines from r and driving manager.
func New(manager *txnmgr.Manager, logger *events.Logger, r io.Reader) *Driver {
	return &Driver{manager: manager, logger: logger, scanner: bufio.NewScanner(r)}
}

// SetChaos attaches a fault injector that fires alongside the real input
// stream: once per tick, before the tick's input line is consumed, any
// fault events the injector schedules for the current logical clock are
// executed against the manager. A nil injector (the default) disables
// this entirely, leaving the driver reading only real input.
func (d *Driver) SetChaos(inj *chaos.Injector) {
	d.chaos = inj
}

// Run executes the tick loop to completion: each iteration emits the tick
// banner, resolves any deadlocks, consumes one input line, drains the
// queue once more, and advances the clock. Run returns nil on clean EOF,
// a wrapped ErrInvalidCommand if an input line fails to parse, or a
// wrapped ErrInvariant if the manager panics with a *txnmgr.InvariantError
// — callers get a diagnostic message instead of a raw panic/stack trace.
func (d *Driver) Run() (err error) {
	defer func() {
		if e := recoverInvariant(recover()); e != nil {
			err = e
		}
	}()

	for {
		d.manager.BeginTick()
		d.manager.ResolveDeadlocks()

		if d.chaos != nil {
			for _, ev := range d.chaos.Tick(int64(d.manager.Now())) {
				if err := d.manager.Execute(ev.Command()); err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
				}
			}
		}

		if !d.scanner.Scan() {
			return d.scanner.Err()
		}
		line := d.scanner.Text()

		cmds, err := command.ParseLine(line)
		if err != nil {
			d.logger.CommandError(int64(d.manager.Now()), err.Error())
			return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		for _, c := range cmds {
			if err := d.manager.Execute(c); err != nil {
				// Input-level errors (unknown/duplicate transaction) are
				// reported by Execute via the logger; surface them here too
				// so the caller can choose a nonzero exit code.
				return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
			}
		}

		d.manager.DrainQueue()
		d.manager.Advance()
	}
}

// recoverInvariant converts a recovered panic value into a wrapped
// ErrInvariant when it is a *txnmgr.InvariantError, returns nil when there
// was nothing to recover, and re-panics any other value — Run must not
// swallow a panic it doesn't understand.
func recoverInvariant(r any) error {
	if r == nil {
		return nil
	}
	if ie, ok := r.(*txnmgr.InvariantError); ok {
		return fmt.Errorf("%w: %v", ErrInvariant, ie)
	}
	panic(r)
}
