// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const termFooter = "Term:"

var errNoTerm = errors.New("commit message carries no term footer")

// parseTerm extracts the leader term from an accepted commit's message.
// The first whitespace-separated token after the last "Term:" footer line
// is read as a base-10 64-bit integer.
func parseTerm(message string) (uint64, error) {
	var found string
	var ok bool
	for _, line := range strings.Split(message, "\n") {
		if rest, has := strings.CutPrefix(line, termFooter); has {
			found, ok = rest, true
		}
	}
	if !ok {
		return 0, errNoTerm
	}
	fields := strings.Fields(found)
	if len(fields) == 0 {
		return 0, fmt.Errorf("malformed term footer %q", found)
	}
	term, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed term footer %q: %w", found, err)
	}
	return term, nil
}

// electionMessage formats the message of an election commit. The tag
// disambiguates two candidates racing in the same clock second with the
// same committer identity.
func electionMessage(term uint64, tag string) string {
	if tag == "" {
		return fmt.Sprintf("%s %d\n", termFooter, term)
	}
	return fmt.Sprintf("%s %d %s\n", termFooter, term, tag)
}

// proposalMessage formats the message of a proposal commit: the
// proposal's own message followed by the term footer. A blank message
// collapses to just the footer line.
func proposalMessage(message string, term uint64) string {
	footer := fmt.Sprintf("%s %d", termFooter, term)
	if message == "" {
		return footer
	}
	return message + "\n\n" + footer
}
