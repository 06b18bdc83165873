package quorum

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidQuorum is returned for malformed or out-of-range ack/from specs.
var ErrInvalidQuorum = errors.New("invalid quorum")

// Policy is a validated (ack, from) pair: ack successful replies are
// required out of from contacted replicas.
type Policy struct {
	Ack  int
	From int
}

// String formats the policy as "ack/from".
func (p Policy) String() string {
	return fmt.Sprintf("%d/%d", p.Ack, p.From)
}

// Default returns the majority policy for a cluster: every node is a
// replica and a majority must answer.
func Default(clusterSize int) Policy {
	return Policy{Ack: clusterSize/2 + 1, From: clusterSize}
}

// Validate checks 1 <= ack <= from <= clusterSize.
func (p Policy) Validate(clusterSize int) error {
	if p.Ack < 1 || p.From < p.Ack || p.From > clusterSize {
		return errors.Wrapf(ErrInvalidQuorum, "%s with cluster size %d", p, clusterSize)
	}
	return nil
}

// Parse reads the "<ack>/<from>" form, optionally prefixed with "=".
// It only checks syntax; use Validate for the arithmetic.
func Parse(raw string) (Policy, error) {
	s := strings.TrimPrefix(raw, "=")
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return Policy{}, errors.Wrapf(ErrInvalidQuorum, "expected ack/from, got %q", raw)
	}

	ack, err := parseCount(parts[0])
	if err != nil {
		return Policy{}, errors.Wrapf(ErrInvalidQuorum, "ack in %q", raw)
	}
	from, err := parseCount(parts[1])
	if err != nil {
		return Policy{}, errors.Wrapf(ErrInvalidQuorum, "from in %q", raw)
	}
	return Policy{Ack: ack, From: from}, nil
}

// Resolve returns the policy for a request: the parsed text when one was
// given, the default otherwise, validated against the cluster size.
func Resolve(requested string, def Policy, clusterSize int) (Policy, error) {
	p := def
	if requested != "" {
		var err error
		if p, err = Parse(requested); err != nil {
			return Policy{}, err
		}
	}
	if err := p.Validate(clusterSize); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// parseCount accepts plain decimal digits only (no sign, no spaces).
func parseCount(s string) (int, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}
