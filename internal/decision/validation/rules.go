package validation

import (
	"fmt"
	"strings"
	"time"

	pstrings "idverify/pkg/platform/strings"
)

// Rule names, also used as check keys in the decision record.
const (
	RuleTemplate    = "template_check"
	RuleTamper      = "tamper_check"
	RuleQuality     = "quality_check"
	RuleOCRFields   = "ocr_field_check"
	RuleConsistency = "consistency_check"
	RuleMRZCross    = "mrz_cross_check"
	RuleChecksum    = "checksum_check"
)

const (
	aspectTolerance  = 0.15
	templateMinLong  = 600
	templateMinShort = 380

	tamperReencodeQuality = 75
	tamperDeltaThreshold  = 0.35
	tamperBlurThreshold   = 40.0

	qualityMinLong      = 800
	qualityMinShort     = 500
	qualityMinSharpness = 100.0
)

// Card formats per ICAO 9303: ID-1 is 85.60 x 53.98 mm, a passport data
// page (ID-3) is 125 x 88 mm.
const (
	ratioID1 = 85.60 / 53.98
	ratioID3 = 125.0 / 88.0
)

// Document is the parsed text of a document image.
type Document struct {
	FullName    string
	DateOfBirth string
	IDNumber    string
	ExpiryDate  string
	IssueDate   string
	MRZ         []string
}

func expectedRatios(docType string) []float64 {
	switch docType {
	case "passport":
		return []float64{ratioID3}
	case "national_id", "drivers_license", "residence_permit":
		return []float64{ratioID1}
	}
	return []float64{ratioID1, ratioID3}
}

// TemplateLayout checks the image has the proportions and minimum
// resolution of the declared document type.
func TemplateLayout(img *Image, docType string) Result {
	if img == nil {
		return skip("no image")
	}
	long, short := img.LongShort()
	if long < templateMinLong || short < templateMinShort {
		return fail("resolution %dx%d below %dx%d", long, short, templateMinLong, templateMinShort)
	}
	ratio := img.AspectRatio()
	for _, want := range expectedRatios(docType) {
		if ratio >= want*(1-aspectTolerance) && ratio <= want*(1+aspectTolerance) {
			return pass("aspect ratio %.2f", ratio)
		}
	}
	return fail("aspect ratio %.2f does not match %s layout", ratio, docType)
}

// Tampering flags images whose JPEG re-encode size shifts sharply while the
// image is also blurry, a pattern left by local edits and re-saves.
func Tampering(img *Image) Result {
	if img == nil {
		return skip("no image")
	}
	variance := img.LaplacianVariance()
	if img.Format != "jpeg" {
		return pass("re-encode delta not applicable to %s, variance %.1f", img.Format, variance)
	}
	delta, err := img.ReencodeDelta(tamperReencodeQuality)
	if err != nil {
		return skip("%v", err)
	}
	if delta > tamperDeltaThreshold && variance < tamperBlurThreshold {
		return fail("re-encode delta %.2f with variance %.1f", delta, variance)
	}
	return pass("re-encode delta %.2f, variance %.1f", delta, variance)
}

// ImageQuality checks resolution and sharpness.
func ImageQuality(img *Image) Result {
	if img == nil {
		return skip("no image")
	}
	long, short := img.LongShort()
	if long < qualityMinLong || short < qualityMinShort {
		return fail("resolution %dx%d below %dx%d", long, short, qualityMinLong, qualityMinShort)
	}
	if v := img.LaplacianVariance(); v < qualityMinSharpness {
		return fail("image too blurry: variance %.1f", v)
	}
	return pass("resolution %dx%d", long, short)
}

// OCRFieldPresence checks that the core identity fields were read.
func OCRFieldPresence(doc Document) Result {
	var missing []string
	if strings.TrimSpace(doc.FullName) == "" {
		missing = append(missing, "full_name")
	}
	if strings.TrimSpace(doc.IDNumber) == "" {
		missing = append(missing, "id_number")
	}
	if strings.TrimSpace(doc.DateOfBirth) == "" {
		missing = append(missing, "date_of_birth")
	}
	if len(missing) > 0 {
		return fail("missing %s", strings.Join(missing, ", "))
	}
	return pass("all fields present")
}

// FieldConsistency checks dates on the document agree with each other.
// Dates the parser cannot read are left out rather than failed.
func FieldConsistency(doc Document, now time.Time) Result {
	checked := 0
	var unreadable []string
	if doc.DateOfBirth != "" {
		dob, err := ParseDate(doc.DateOfBirth)
		switch {
		case err != nil:
			unreadable = append(unreadable, "date_of_birth")
		case dob.After(truncateDay(now)):
			return fail("date of birth %s is in the future", dob.Format(time.DateOnly))
		default:
			checked++
		}
	}
	if doc.ExpiryDate != "" && doc.IssueDate != "" {
		expiry, errE := ParseDate(doc.ExpiryDate)
		issue, errI := ParseDate(doc.IssueDate)
		switch {
		case errE != nil || errI != nil:
			unreadable = append(unreadable, "issue_or_expiry_date")
		case expiry.Before(issue):
			return fail("expiry %s before issue %s", expiry.Format(time.DateOnly), issue.Format(time.DateOnly))
		default:
			checked++
		}
	}
	if checked == 0 {
		if len(unreadable) > 0 {
			return skip("unrecognized date format: %s", strings.Join(unreadable, ", "))
		}
		return skip("no dates to compare")
	}
	return pass("%d date rules passed", checked)
}

// MRZCrossField compares the machine-readable zone with the printed fields.
func MRZCrossField(doc Document, now time.Time) Result {
	if len(doc.MRZ) == 0 {
		return skip("no machine-readable zone")
	}
	mrz, err := ParseMRZ(doc.MRZ)
	if err != nil {
		return skip("%v", err)
	}

	var mismatched []string
	compared := 0
	if doc.FullName != "" {
		compared++
		if !pstrings.SameName(doc.FullName, mrz.FullName()) {
			mismatched = append(mismatched, "full_name")
		}
	}
	if doc.IDNumber != "" {
		compared++
		if pstrings.NormalizeIdentifier(doc.IDNumber) != pstrings.NormalizeIdentifier(mrz.DocumentNumber) {
			mismatched = append(mismatched, "id_number")
		}
	}
	if doc.DateOfBirth != "" {
		if agree, ok := datesAgree(doc.DateOfBirth, mrz.DateOfBirth, now); ok {
			compared++
			if !agree {
				mismatched = append(mismatched, "date_of_birth")
			}
		}
	}
	if doc.ExpiryDate != "" {
		if agree, ok := datesAgree(doc.ExpiryDate, mrz.ExpiryDate, now.AddDate(50, 0, 0)); ok {
			compared++
			if !agree {
				mismatched = append(mismatched, "expiry_date")
			}
		}
	}

	if compared == 0 {
		return skip("no printed fields to compare")
	}
	if len(mismatched) > 0 {
		return fail("MRZ mismatch: %s", strings.Join(mismatched, ", "))
	}
	return pass("%d fields match MRZ", compared)
}

// datesAgree compares a printed date with an MRZ date. ok is false when
// either side cannot be parsed, in which case the pair is not compared.
func datesAgree(printed, mrzDate string, pivot time.Time) (agree, ok bool) {
	p, err := ParseDate(printed)
	if err != nil {
		return false, false
	}
	m, err := ParseMRZDate(mrzDate, pivot)
	if err != nil {
		return false, false
	}
	return sameDay(p, m), true
}

// MRZChecksum validates every check digit of the machine-readable zone.
func MRZChecksum(lines []string) Result {
	if len(lines) == 0 {
		return skip("no machine-readable zone")
	}
	mrz, err := ParseMRZ(lines)
	if err != nil {
		return skip("%v", err)
	}
	if bad := mrz.InvalidCheckDigits(); len(bad) > 0 {
		return fail("invalid check digit: %s", strings.Join(bad, ", "))
	}
	return pass("%s check digits valid", mrz.Format)
}

// Input carries everything the rules read for one verification.
type Input struct {
	Image        *Image
	ImageErr     error
	DocumentType string
	Document     Document
	Now          time.Time
}

// Rule is one named, independently toggleable check.
type Rule struct {
	Name  string
	Check func(Input) Result
}

func imageRule(fn func(Input) Result) func(Input) Result {
	return func(in Input) Result {
		if in.Image == nil {
			if in.ImageErr != nil {
				return skip("image unavailable: %v", in.ImageErr)
			}
			return skip("no image")
		}
		return fn(in)
	}
}

// Rules lists the registry in evaluation order.
var Rules = []Rule{
	{RuleTemplate, imageRule(func(in Input) Result { return TemplateLayout(in.Image, in.DocumentType) })},
	{RuleTamper, imageRule(func(in Input) Result { return Tampering(in.Image) })},
	{RuleQuality, imageRule(func(in Input) Result { return ImageQuality(in.Image) })},
	{RuleOCRFields, func(in Input) Result { return OCRFieldPresence(in.Document) }},
	{RuleConsistency, func(in Input) Result { return FieldConsistency(in.Document, in.Now) }},
	{RuleMRZCross, func(in Input) Result { return MRZCrossField(in.Document, in.Now) }},
	{RuleChecksum, func(in Input) Result { return MRZChecksum(in.Document.MRZ) }},
}

// Report is the outcome of running the enabled rules.
type Report struct {
	Results map[string]Result
	Failed  int
}

// Evaluate runs each enabled rule independently and counts failures.
func Evaluate(in Input, enabled func(rule string) bool) Report {
	report := Report{Results: make(map[string]Result)}
	for _, rule := range Rules {
		if !enabled(rule.Name) {
			continue
		}
		check := rule.Check
		res := guard(func() (Result, error) {
			if check == nil {
				return Result{}, fmt.Errorf("rule %s has no check", rule.Name)
			}
			return check(in), nil
		})
		report.Results[rule.Name] = res
		if res.Failed() {
			report.Failed++
		}
	}
	return report
}
