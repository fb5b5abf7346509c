package shared

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Document number prefixes. The persisted format is {PREFIX}-{YYYYMMDD}-{NNNN}
// with NNNN a daily sequence starting at 0001.
const (
	DocPrefixSale     = "SALE"
	DocPrefixReturn   = "RET"
	DocPrefixPurchase = "PO"
)

// DocNoPrefix returns the date-scoped prefix, e.g. "PO-20250828-".
func DocNoPrefix(prefix string, day time.Time) string {
	return fmt.Sprintf("%s-%s-", prefix, day.Format("20060102"))
}

// FormatDocNo builds a full document number for the given daily sequence.
func FormatDocNo(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", DocNoPrefix(prefix, day), seq)
}

// DocNoSeq extracts the trailing daily sequence from a document number.
// Sequence derivation must use the highest existing suffix, never a row
// count: counting breaks once documents are deleted.
func DocNoSeq(docNo string) (int, error) {
	idx := strings.LastIndex(docNo, "-")
	if idx < 0 || idx == len(docNo)-1 {
		return 0, fmt.Errorf("malformed document number %q", docNo)
	}
	seq, err := strconv.Atoi(docNo[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("malformed document number %q: %w", docNo, err)
	}
	return seq, nil
}
