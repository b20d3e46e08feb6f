package validation

import (
	"fmt"
	"strings"
)

// MRZFormat identifies an ICAO 9303 layout.
type MRZFormat string

const (
	FormatTD1 MRZFormat = "TD1" // 3 lines of 30, ID cards
	FormatTD3 MRZFormat = "TD3" // 2 lines of 44, passports
)

// MRZ holds the fields read from a machine-readable zone.
type MRZ struct {
	Format         MRZFormat
	DocumentCode   string
	IssuingState   string
	DocumentNumber string
	Surname        string
	GivenNames     string
	Nationality    string
	DateOfBirth    string // YYMMDD
	Sex            string
	ExpiryDate     string // YYMMDD
	lines          []string
}

// FullName joins given names and surname.
func (m *MRZ) FullName() string {
	return strings.TrimSpace(m.GivenNames + " " + m.Surname)
}

func cleanMRZLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(l), " ", ""))
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// ParseMRZ parses TD1 or TD3 lines.
func ParseMRZ(lines []string) (*MRZ, error) {
	lines = cleanMRZLines(lines)
	switch {
	case len(lines) == 2 && len(lines[0]) == 44 && len(lines[1]) == 44:
		return parseTD3(lines), nil
	case len(lines) == 3 && len(lines[0]) == 30 && len(lines[1]) == 30 && len(lines[2]) == 30:
		return parseTD1(lines), nil
	}
	return nil, fmt.Errorf("unsupported MRZ layout: %d lines", len(lines))
}

func field(s string) string {
	return strings.TrimRight(s, "<")
}

func splitNames(s string) (surname, given string) {
	parts := strings.SplitN(field(s), "<<", 2)
	surname = strings.ReplaceAll(parts[0], "<", " ")
	if len(parts) == 2 {
		given = strings.TrimSpace(strings.ReplaceAll(parts[1], "<", " "))
	}
	return surname, given
}

func parseTD3(lines []string) *MRZ {
	l1, l2 := lines[0], lines[1]
	surname, given := splitNames(l1[5:44])
	return &MRZ{
		Format:         FormatTD3,
		DocumentCode:   field(l1[0:2]),
		IssuingState:   field(l1[2:5]),
		Surname:        surname,
		GivenNames:     given,
		DocumentNumber: field(l2[0:9]),
		Nationality:    field(l2[10:13]),
		DateOfBirth:    l2[13:19],
		Sex:            field(l2[20:21]),
		ExpiryDate:     l2[21:27],
		lines:          lines,
	}
}

func parseTD1(lines []string) *MRZ {
	l1, l2, l3 := lines[0], lines[1], lines[2]
	surname, given := splitNames(l3)
	return &MRZ{
		Format:         FormatTD1,
		DocumentCode:   field(l1[0:2]),
		IssuingState:   field(l1[2:5]),
		DocumentNumber: field(l1[5:14]),
		DateOfBirth:    l2[0:6],
		Sex:            field(l2[7:8]),
		ExpiryDate:     l2[8:14],
		Nationality:    field(l2[15:18]),
		Surname:        surname,
		GivenNames:     given,
		lines:          lines,
	}
}

var checkWeights = [3]int{7, 3, 1}

// CheckDigit computes the ICAO 9303 check digit of s.
func CheckDigit(s string) int {
	sum := 0
	for i, r := range s {
		var v int
		switch {
		case r >= '0' && r <= '9':
			v = int(r - '0')
		case r >= 'A' && r <= 'Z':
			v = int(r-'A') + 10
		default:
			v = 0
		}
		sum += v * checkWeights[i%3]
	}
	return sum % 10
}

type checkedField struct {
	name  string
	data  string
	digit byte
}

func verifyDigit(f checkedField) bool {
	if f.digit == '<' {
		// Filler check digit is only valid for an empty field.
		return strings.Trim(f.data, "<") == ""
	}
	if f.digit < '0' || f.digit > '9' {
		return false
	}
	return CheckDigit(f.data) == int(f.digit-'0')
}

func (m *MRZ) checkedFields() []checkedField {
	l := m.lines
	switch m.Format {
	case FormatTD3:
		l2 := l[1]
		return []checkedField{
			{"document_number", l2[0:9], l2[9]},
			{"date_of_birth", l2[13:19], l2[19]},
			{"expiry_date", l2[21:27], l2[27]},
			{"personal_number", l2[28:42], l2[42]},
			{"composite", l2[0:10] + l2[13:20] + l2[21:43], l2[43]},
		}
	case FormatTD1:
		l1, l2 := l[0], l[1]
		return []checkedField{
			{"document_number", l1[5:14], l1[14]},
			{"date_of_birth", l2[0:6], l2[6]},
			{"expiry_date", l2[8:14], l2[14]},
			{"composite", l1[5:30] + l2[0:7] + l2[8:15] + l2[18:29], l2[29]},
		}
	}
	return nil
}

// InvalidCheckDigits returns the names of fields whose check digit is wrong.
func (m *MRZ) InvalidCheckDigits() []string {
	var bad []string
	for _, f := range m.checkedFields() {
		if !verifyDigit(f) {
			bad = append(bad, f.name)
		}
	}
	return bad
}
