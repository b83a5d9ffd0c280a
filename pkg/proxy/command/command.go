package command

import (
	"sync"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

var (
	ErrCommandLocked       = errors.New("command is locked by a running operation")
	ErrDuplicatedParameter = errors.New("duplicated parameter")
	ErrParameterNotFound   = errors.New("parameter not found")
)

type Type int

const (
	Text Type = iota
	StoredProcedure
)

func (t Type) String() string {
	if t == StoredProcedure {
		return "stored_procedure"
	}
	return "text"
}

const maxDescribeLen = 64

// Command is a statement or a stored procedure call with its parameters.
//
// A running operation holds the command lock from the moment it is routed until
// it completes; mutations are rejected with ErrCommandLocked in between.
type Command struct {
	typ  Type
	text string

	mu      sync.Mutex // guards timeout and params against Lock
	timeout time.Duration
	params  []*Parameter
	locked  atomic.Bool
}

func NewText(text string) *Command {
	return &Command{typ: Text, text: text}
}

func NewStoredProcedure(name string) *Command {
	return &Command{typ: StoredProcedure, text: name}
}

func (c *Command) Type() Type {
	return c.typ
}

// Text is the statement, or the procedure name.
func (c *Command) Text() string {
	return c.text
}

// Describe is a short form of the command for logs and errors.
func (c *Command) Describe() string {
	if len(c.text) <= maxDescribeLen {
		return c.text
	}
	return c.text[:maxDescribeLen] + "..."
}

// Timeout returns the command timeout, zero meaning the executor default.
func (c *Command) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

func (c *Command) SetTimeout(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked.Load() {
		return ErrCommandLocked
	}
	c.timeout = timeout
	return nil
}

func (c *Command) AddParameter(p Parameter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked.Load() {
		return ErrCommandLocked
	}
	for _, existing := range c.params {
		if existing.Name == p.Name {
			return errors.WithMessage(ErrDuplicatedParameter, p.Name)
		}
	}
	c.params = append(c.params, &p)
	return nil
}

func (c *Command) SetParameterValue(name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked.Load() {
		return ErrCommandLocked
	}
	for _, p := range c.params {
		if p.Name == name {
			p.Value = value
			return nil
		}
	}
	return errors.WithMessage(ErrParameterNotFound, name)
}

func (c *Command) ClearParameters() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked.Load() {
		return ErrCommandLocked
	}
	c.params = nil
	return nil
}

// Parameters returns copies of the parameters in declaration order. Changing
// a copy does not change the command.
func (c *Command) Parameters() []*Parameter {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]*Parameter, len(c.params))
	for i, p := range c.params {
		cp := *p
		ret[i] = &cp
	}
	return ret
}

// Parameter returns a copy of the named parameter.
func (c *Command) Parameter(name string) (Parameter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.params {
		if p.Name == name {
			return *p, true
		}
	}
	return Parameter{}, false
}

// Deliver records the server assigned value of an output parameter and hands
// it to the parameter's Store callback. It is called by the operation holding
// the lock, and does nothing for unknown or input-only parameters.
func (c *Command) Deliver(name string, value any) {
	c.mu.Lock()
	var store func(any)
	for _, p := range c.params {
		if p.Name == name && p.Direction.IsOutput() {
			p.Value = value
			store = p.Store
			break
		}
	}
	c.mu.Unlock()
	if store != nil {
		store(value)
	}
}

// Lock marks the command as in flight. A command cannot be locked twice, so
// one command cannot run on two operations at once.
func (c *Command) Lock() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.locked.CompareAndSwap(false, true) {
		return ErrCommandLocked
	}
	return nil
}

func (c *Command) Unlock() {
	c.locked.Store(false)
}

func (c *Command) Locked() bool {
	return c.locked.Load()
}
