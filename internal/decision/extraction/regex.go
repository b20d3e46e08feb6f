package extraction

import (
	"regexp"
	"strings"
	"time"

	"idverify/internal/decision/ports"
	"idverify/internal/decision/validation"
)

var (
	mrzLine = regexp.MustCompile(`^[A-Z0-9<]{30}$|^[A-Z0-9<]{44}$`)

	labelName    = regexp.MustCompile(`(?im)^\s*(?:full\s*name|name)\s*[:\-]\s*(.+)$`)
	labelSurname = regexp.MustCompile(`(?im)^\s*(?:surname|last\s*name)\s*[:\-]\s*(.+)$`)
	labelGiven   = regexp.MustCompile(`(?im)^\s*(?:given\s*names?|first\s*name)\s*[:\-]\s*(.+)$`)
	labelID      = regexp.MustCompile(`(?im)^\s*(?:document|passport|id|licen[cs]e|card)\s*(?:no\.?|number|#)\s*[:\-]?\s*([A-Z0-9][A-Z0-9\- ]{3,19})\s*$`)
	labelDOB     = regexp.MustCompile(`(?im)^\s*(?:date\s*of\s*birth|dob|birth\s*date)\s*[:\-]\s*(.+)$`)
	labelExpiry  = regexp.MustCompile(`(?im)^\s*(?:date\s*of\s*expiry|expiry(?:\s*date)?|expires|valid\s*until)\s*[:\-]\s*(.+)$`)
	labelIssue   = regexp.MustCompile(`(?im)^\s*(?:date\s*of\s*issue|issue\s*date|issued)\s*[:\-]\s*(.+)$`)
	labelAddress = regexp.MustCompile(`(?im)^\s*address\s*[:\-]\s*(.+)$`)
)

// ParseText extracts identity fields from raw OCR text using labeled lines
// and any machine-readable zone found in it.
func ParseText(text string, now time.Time) *ports.ExtractedDocument {
	doc := &ports.ExtractedDocument{RawText: text, Tier: ports.TierRegex}

	var mrz []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(line), " ", ""))
		if strings.Contains(line, "<") && mrzLine.MatchString(line) {
			mrz = append(mrz, line)
		}
	}
	if len(mrz) > 0 {
		fromMRZ(doc, mrz, now)
	}

	setIfEmpty(&doc.FullName, firstMatch(labelName, text))
	if doc.FullName == "" {
		given, surname := firstMatch(labelGiven, text), firstMatch(labelSurname, text)
		doc.FullName = strings.TrimSpace(given + " " + surname)
	}
	setIfEmpty(&doc.IDNumber, strings.ReplaceAll(firstMatch(labelID, text), " ", ""))
	setIfEmpty(&doc.DateOfBirth, normalizeDate(firstMatch(labelDOB, text)))
	setIfEmpty(&doc.ExpiryDate, normalizeDate(firstMatch(labelExpiry, text)))
	setIfEmpty(&doc.IssueDate, normalizeDate(firstMatch(labelIssue, text)))
	setIfEmpty(&doc.Address, firstMatch(labelAddress, text))
	return doc
}

// fromMRZ fills doc from machine-readable zone lines when they parse.
func fromMRZ(doc *ports.ExtractedDocument, lines []string, now time.Time) {
	parsed, err := validation.ParseMRZ(lines)
	if err != nil {
		return
	}
	doc.MRZ = lines
	setIfEmpty(&doc.FullName, parsed.FullName())
	setIfEmpty(&doc.IDNumber, parsed.DocumentNumber)
	if dob, err := validation.ParseMRZDate(parsed.DateOfBirth, now); err == nil {
		setIfEmpty(&doc.DateOfBirth, dob.Format(time.DateOnly))
	}
	if exp, err := validation.ParseMRZDate(parsed.ExpiryDate, now.AddDate(50, 0, 0)); err == nil {
		setIfEmpty(&doc.ExpiryDate, exp.Format(time.DateOnly))
	}
}

func firstMatch(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// normalizeDate rewrites recognized dates as YYYY-MM-DD and keeps the raw
// value otherwise.
func normalizeDate(raw string) string {
	if raw == "" {
		return ""
	}
	if t, err := validation.ParseDate(raw); err == nil {
		return t.Format(time.DateOnly)
	}
	return raw
}

func setIfEmpty(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}
