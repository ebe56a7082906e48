package identity

import (
	"fmt"
	"strings"
)

// Tier is the privilege level an identity is minted with.
type Tier uint8

const (
	Unauthenticated Tier = iota
	Standard
	Elevated
)

func (t Tier) String() string {
	switch t {
	case Standard:
		return "Standard"
	case Elevated:
		return "Elevated"
	case Unauthenticated:
		return "Unauthenticated"
	default:
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
}

// Mintable reports whether an identity may be issued at this tier.
func (t Tier) Mintable() bool {
	return t == Standard || t == Elevated
}

// ParseTier is case-insensitive and also accepts the legacy names
// Standered, Admin and None.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "standered":
		return Standard, nil
	case "elevated", "admin":
		return Elevated, nil
	case "unauthenticated", "none":
		return Unauthenticated, nil
	}
	return Unauthenticated, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
