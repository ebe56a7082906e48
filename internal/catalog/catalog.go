// Package catalog holds the fixed table of rate-limited operations.
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AlexKimmel/QuotaGate/internal/ratelimit"
)

var (
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrDuplicateOperation = errors.New("duplicate operation")
)

// Operation is a named capability: CallsBeforeCooldown calls are allowed
// before the caller has to wait CooldownMinutes.
type Operation struct {
	Name                string
	CallsBeforeCooldown uint16
	CooldownMinutes     uint16
}

// Policy returns the quota a usage window for this operation starts with.
// Elevated callers ignore the declared quota.
func (o Operation) Policy(elevated bool) ratelimit.Policy {
	if elevated {
		return ratelimit.Unlimited
	}
	return ratelimit.Policy{
		Calls:    o.CallsBeforeCooldown,
		Cooldown: time.Duration(o.CooldownMinutes) * time.Minute,
	}
}

// Catalog is immutable once built and safe for concurrent use.
type Catalog struct {
	ops    []Operation
	byName map[string]int
}

func New(ops ...Operation) (*Catalog, error) {
	c := &Catalog{
		ops:    make([]Operation, 0, len(ops)),
		byName: make(map[string]int, len(ops)),
	}
	for _, op := range ops {
		if strings.TrimSpace(op.Name) == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidOperation)
		}
		if _, dup := c.byName[op.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateOperation, op.Name)
		}
		c.byName[op.Name] = len(c.ops)
		c.ops = append(c.ops, op)
	}
	return c, nil
}

// Default is the reference deployment table.
func Default() *Catalog {
	c, _ := New(
		Operation{Name: "short_wait", CallsBeforeCooldown: 10, CooldownMinutes: 1},
		Operation{Name: "long_wait", CallsBeforeCooldown: 1, CooldownMinutes: 100},
		Operation{Name: "add_to_list", CallsBeforeCooldown: 60, CooldownMinutes: 1},
		Operation{Name: "echo", CallsBeforeCooldown: 60, CooldownMinutes: 1},
		Operation{Name: "add_KV_pair", CallsBeforeCooldown: 60, CooldownMinutes: 1},
	)
	return c
}

func (c *Catalog) Describe(name string) (Operation, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Operation{}, false
	}
	return c.ops[i], true
}

// All returns the operations in declaration order. The slice is a copy.
func (c *Catalog) All() []Operation {
	out := make([]Operation, len(c.ops))
	copy(out, c.ops)
	return out
}

func (c *Catalog) Len() int { return len(c.ops) }
