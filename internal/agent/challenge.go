package agent

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"
)

const challengeChars = "abcdefghijklmnopqrstuvwxyz0123456789"

const challengeMaxErrors = 3

// GenerateChallenge returns a random lowercase-alphanumeric string of
// the given length.
func GenerateChallenge(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = challengeChars[rand.Intn(len(challengeChars))]
	}
	return string(b)
}

// RunChallenge runs the emergency-disable typing challenge: the user
// must keep echoing random 8-12 character strings until the duration
// elapses. Three consecutive mistakes, or typing "abort", fail the
// challenge. Returns true on completion.
func RunChallenge(in io.Reader, out io.Writer, duration time.Duration) bool {
	reader := bufio.NewReader(in)

	fmt.Fprintf(out, "\n=== MOONSTONE EMERGENCY DISABLE ===\n\n")
	fmt.Fprintf(out, "To disable moonstone you must type continuously for %d seconds.\n", int(duration.Seconds()))
	fmt.Fprintf(out, "Type each challenge string exactly as shown.\n")
	fmt.Fprintf(out, "Press ENTER to begin...\n")
	if _, err := reader.ReadString('\n'); err != nil {
		return false
	}

	start := time.Now()
	consecutiveErrors := 0

	for time.Since(start) < duration {
		remaining := int((duration - time.Since(start)).Seconds())
		challenge := GenerateChallenge(8 + rand.Intn(5))

		fmt.Fprintf(out, "[%3ds remaining] Type: %s  > ", remaining, challenge)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		typed := strings.TrimSpace(line)

		switch {
		case typed == challenge:
			consecutiveErrors = 0
			fmt.Fprintln(out, "  OK")
		case strings.EqualFold(typed, "abort"):
			fmt.Fprintln(out, "\nChallenge aborted.")
			return false
		default:
			consecutiveErrors++
			fmt.Fprintf(out, "  WRONG (%d/%d)\n", consecutiveErrors, challengeMaxErrors)
			if consecutiveErrors >= challengeMaxErrors {
				fmt.Fprintln(out, "\nToo many errors. Challenge failed.")
				return false
			}
		}
	}

	fmt.Fprintln(out, "\n=== CHALLENGE COMPLETE ===")
	fmt.Fprintln(out, "Moonstone will be disabled until the next block period.")
	return true
}
