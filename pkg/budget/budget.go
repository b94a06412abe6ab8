// Package budget guarantees a rendered prompt fits within a model's context
// window, leaving room for the model's own output. When the prompt overflows,
// whole lines of the pre-render free-form content are dropped from one side
// and the template is re-rendered until the result fits.
package budget

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/promptrun/promptrun/pkg/errs"
)

// DefaultReserve is the number of tokens held back for model output when the
// caller does not specify a reserve.
const DefaultReserve = 256

// OverflowKeep selects which side of the free-form content survives
// truncation. KeepEnd, the default, keeps the leading portion and drops
// trailing lines; KeepStart keeps the trailing portion.
type OverflowKeep int

const (
	KeepEnd OverflowKeep = iota
	KeepStart
)

// ParseOverflowKeep parses the command-line token for an OverflowKeep value.
func ParseOverflowKeep(s string) (OverflowKeep, error) {
	switch s {
	case "end", "":
		return KeepEnd, nil
	case "start":
		return KeepStart, nil
	default:
		return KeepEnd, errors.Newf("invalid overflow-keep %q (valid: start, end)", s)
	}
}

func (k OverflowKeep) String() string {
	if k == KeepStart {
		return "start"
	}
	return "end"
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML/YAML decoding.
func (k *OverflowKeep) UnmarshalText(text []byte) error {
	v, err := ParseOverflowKeep(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// RenderFunc re-renders the prompt with a candidate free-form segment.
type RenderFunc func(freeform string) (string, error)

// Params bound the prompt for one enforcement pass. Limit is the effective
// token ceiling; Reserve falls back to DefaultReserve when zero.
type Params struct {
	Limit   int
	Reserve int
	Keep    OverflowKeep
}

func (p Params) available() int {
	reserve := p.Reserve
	if reserve == 0 {
		reserve = DefaultReserve
	}
	return p.Limit - reserve
}

// Enforce renders the prompt and returns it unchanged when it fits within
// Limit - Reserve tokens. On overflow it drops whole lines of freeform from
// the side Keep discards, re-rendering until the prompt fits. If even an
// empty free-form segment overflows, it fails with the required and available
// token counts attached.
func Enforce(render RenderFunc, freeform string, tok Tokenizer, p Params) (string, error) {
	prompt, err := render(freeform)
	if err != nil {
		return "", err
	}

	available := p.available()
	if tok.Count(prompt) <= available {
		return prompt, nil
	}

	lines := strings.Split(freeform, "\n")

	// The tokenizer is monotonic, so "keeping k lines fits" is monotone in k
	// and the largest fitting k can be found by binary search. Each probe
	// re-renders because token count is a property of rendered text.
	fit := ""
	fits := func(k int) (bool, error) {
		candidate, err := render(keepLines(lines, k, p.Keep))
		if err != nil {
			return false, err
		}
		if tok.Count(candidate) <= available {
			fit = candidate
			return true, nil
		}
		return false, nil
	}

	ok, err := fits(0)
	if err != nil {
		return "", err
	}
	if !ok {
		empty, rerr := render("")
		if rerr != nil {
			return "", rerr
		}
		return "", errs.New(errs.ErrContextLimitExceeded,
			"fixed template content requires %d tokens but only %d are available",
			tok.Count(empty), available)
	}

	lo, hi := 0, len(lines) // lo always fits, hi+1 never checked beyond len
	for lo < hi {
		mid := (lo + hi + 1) / 2
		ok, err := fits(mid)
		if err != nil {
			return "", err
		}
		if ok {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	// Re-probe the winner in case the last failed probe overwrote fit.
	if _, err := fits(lo); err != nil {
		return "", err
	}

	return fit, nil
}

// keepLines keeps k whole lines of the free-form content from the side the
// policy preserves: the leading lines for KeepEnd, the trailing for KeepStart.
func keepLines(lines []string, k int, keep OverflowKeep) string {
	if k <= 0 {
		return ""
	}
	if k >= len(lines) {
		return strings.Join(lines, "\n")
	}

	if keep == KeepStart {
		return strings.Join(lines[len(lines)-k:], "\n")
	}

	return strings.Join(lines[:k], "\n")
}
