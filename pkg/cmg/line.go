// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import (
	"strings"
)

// isPrintable reports whether b is in the printable ASCII range 0x20-0x7E
func isPrintable(b byte) bool {
	return b >= 0x20 && b <= 0x7E
}

// countPrintable returns the number of printable ASCII bytes in data
func countPrintable(data []byte) int {
	n := 0
	for _, b := range data {
		if isPrintable(b) {
			n++
		}
	}
	return n
}

// ClassifyLine decides whether raw (a line with its newline removed) is text.
//
// At least 80% of the bytes must be printable ASCII. Leading and trailing
// non-printable bytes are stripped, the rest is decoded and whitespace-trimmed.
// The second return value is false for binary noise and for lines that end up
// empty.
func ClassifyLine(raw []byte) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	if countPrintable(raw)*100 < len(raw)*linePrintablePercent {
		return "", false
	}

	start := 0
	for start < len(raw) && !isPrintable(raw[start]) {
		start++
	}
	end := len(raw)
	for end > start && !isPrintable(raw[end-1]) {
		end--
	}

	line := strings.TrimSpace(strings.ToValidUTF8(string(raw[start:end]), "�"))
	if line == "" {
		return "", false
	}
	return line, true
}

// IsStatusLine reports whether a classified line is a firmware status report
func IsStatusLine(line string) bool {
	return strings.HasPrefix(line, StatusPrefix)
}

// looksLikeText reports whether a prefix found before a magic marker is at
// least half printable, i.e. plausibly the start of a text line that was cut
// by a binary frame.
func looksLikeText(prefix []byte) bool {
	printable := countPrintable(prefix)
	return printable > 0 && printable*100 >= len(prefix)*carryPrintablePercent
}
