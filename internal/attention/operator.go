package attention

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/syntropism/backend/internal/domain"
)

// Scores is one human verdict on a prompt, each dimension in [0,10].
type Scores struct {
	Interesting    float64
	Useful         float64
	Understandable float64
	Reason         string
}

// NeutralScores is the non-interactive fallback verdict.
func NeutralScores() Scores {
	return Scores{Interesting: 5, Useful: 5, Understandable: 5}
}

// Operator is the injected capability that turns a prompt into scores. Tests
// and non-interactive deployments supply deterministic implementations.
type Operator interface {
	Present(p *domain.Prompt) (Scores, error)
}

// Console presents prompts on out and reads whitespace-separated scores from
// in, re-prompting on invalid input. When input runs out (EOF, closed pipe)
// it falls back to neutral scores so the cycle never deadlocks on a missing
// human.
type Console struct {
	in  *bufio.Scanner
	out io.Writer
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewScanner(in), out: out}
}

func (c *Console) Present(p *domain.Prompt) (Scores, error) {
	fmt.Fprintf(c.out, "\n=== PROMPT FROM AGENT %s (bid %.2f) ===\n", p.AgentID, p.BidAmount)
	keys := make([]string, 0, len(p.Content))
	for k := range p.Content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(c.out, "  %s: %v\n", k, p.Content[k])
	}
	fmt.Fprintln(c.out, strings.Repeat("=", 50))

	for {
		fmt.Fprint(c.out, "Enter scores (interesting useful understandable) 0-10, separated by spaces: ")
		if !c.in.Scan() {
			fmt.Fprintln(c.out, "\n(no operator input — scoring neutral 5 5 5)")
			return NeutralScores(), nil
		}
		scores, ok := parseScores(c.in.Text())
		if ok {
			return scores, nil
		}
		fmt.Fprintln(c.out, "Invalid input. Please enter three numbers between 0 and 10.")
	}
}

func parseScores(line string) (Scores, bool) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return Scores{}, false
	}
	vals := make([]float64, 3)
	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 || v > 10 {
			return Scores{}, false
		}
		vals[i] = v
	}
	return Scores{Interesting: vals[0], Useful: vals[1], Understandable: vals[2]}, true
}

// Static always answers with the same verdict. Deterministic scorer for
// tests and headless deployments.
type Static struct {
	Scores Scores
}

func (s Static) Present(*domain.Prompt) (Scores, error) {
	return s.Scores, nil
}

var (
	_ Operator = (*Console)(nil)
	_ Operator = Static{}
)
