package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"golang.org/x/term"
)

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

// interactive reports whether stdin is attached to a terminal. Prompts are
// only echoed in that case so piped scripts produce clean output.
func interactive() bool {
	return isTerminal(int(os.Stdin.Fd()))
}

// GetSimpleText prints a prompt to w and reads a single line of input from reader.
// The trailing newline is trimmed. If EOF occurs after some input was read,
// the partial line is returned.
//
// Example prompt format:
//
//	Prompt text
//	> _
func GetSimpleText(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n> "); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// GetMultiline prints a prompt to w and reads lines until an empty line.
// The collected text is joined with '\n'.
func GetMultiline(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n(press Enter on an empty line to finish)\n"); err != nil {
		return "", err
	}

	var lines []string
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
		if err != nil {
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// ParseDate accepts an ISO date (2025-01-31) or a day offset from now
// (+3, +3d, 0).
func ParseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("date is required")
	}
	if strings.HasPrefix(s, "+") || isDigits(s) {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(s, "+"), "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day offset %q", s)
		}
		y, m, d := now.Date()
		return time.Date(y, m, d+n, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD or +N", s)
	}
	return t, nil
}

func isDigits(s string) bool {
	s = strings.TrimSuffix(s, "d")
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ParseQuantity splits "1.5 kg" or "2" into an amount and a unit.
func ParseQuantity(s string) (float64, string, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 1, "", nil
	}
	q, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || q < 0 {
		return 0, "", fmt.Errorf("invalid quantity %q", fields[0])
	}
	return q, strings.Join(fields[1:], " "), nil
}

// ParseLocation maps user input to a storage location; empty means pantry.
func ParseLocation(s string) (models.Location, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return models.LocationPantry, nil
	}
	l := models.Location(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown location %q (fridge, freezer, pantry, other)", s)
	}
	return l, nil
}

func ParseStatus(s string) (models.Status, error) {
	st := models.Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q (active, consumed, expired, wasted)", s)
	}
	return st, nil
}
