package validation

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	td3Line1 = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<"
	td3Line2 = "L898902C36UTO7408122F1204159ZE184226B<<<<<10"

	td1Line1 = "I<UTOD231458907<<<<<<<<<<<<<<<"
	td1Line2 = "7408122F1204159UTO<<<<<<<<<<<6"
	td1Line3 = "ERIKSSON<<ANNA<MARIA<<<<<<<<<<"
)

type ValidationSuite struct {
	suite.Suite
	now time.Time
}

func TestValidationSuite(t *testing.T) {
	suite.Run(t, new(ValidationSuite))
}

func (s *ValidationSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
}

func checkerboard(w, h, square int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/square+y/square)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func flat(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

// pngHeader is a PNG signature plus IHDR chunk for a w by h 8-bit
// grayscale image, enough for image.DecodeConfig and nothing more.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth; colour type, compression, filter, interlace stay 0

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func (s *ValidationSuite) encodeJPEG(img image.Image) *Image {
	var buf bytes.Buffer
	s.Require().NoError(jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	decoded, err := DecodeImage(buf.Bytes())
	s.Require().NoError(err)
	return decoded
}

func (s *ValidationSuite) encodePNG(img image.Image) *Image {
	var buf bytes.Buffer
	s.Require().NoError(png.Encode(&buf, img))
	decoded, err := DecodeImage(buf.Bytes())
	s.Require().NoError(err)
	return decoded
}

func (s *ValidationSuite) TestMRZ() {
	s.Run("parses TD3", func() {
		mrz, err := ParseMRZ([]string{td3Line1, td3Line2})
		s.Require().NoError(err)
		s.Equal(FormatTD3, mrz.Format)
		s.Equal("ERIKSSON", mrz.Surname)
		s.Equal("ANNA MARIA", mrz.GivenNames)
		s.Equal("L898902C3", mrz.DocumentNumber)
		s.Equal("740812", mrz.DateOfBirth)
		s.Equal("120415", mrz.ExpiryDate)
		s.Empty(mrz.InvalidCheckDigits())
	})

	s.Run("parses TD1", func() {
		mrz, err := ParseMRZ([]string{td1Line1, td1Line2, td1Line3})
		s.Require().NoError(err)
		s.Equal(FormatTD1, mrz.Format)
		s.Equal("D23145890", mrz.DocumentNumber)
		s.Equal("ANNA MARIA ERIKSSON", mrz.FullName())
		s.Empty(mrz.InvalidCheckDigits())
	})

	s.Run("detects a corrupted digit", func() {
		corrupted := "L898902C36UTO7408123F1204159ZE184226B<<<<<10"
		mrz, err := ParseMRZ([]string{td3Line1, corrupted})
		s.Require().NoError(err)
		s.Contains(mrz.InvalidCheckDigits(), "date_of_birth")
		s.Contains(mrz.InvalidCheckDigits(), "composite")
	})

	s.Run("check digit weights", func() {
		s.Equal(6, CheckDigit("L898902C3"))
		s.Equal(2, CheckDigit("740812"))
		s.Equal(0, CheckDigit("<<<<"))
	})
}

func (s *ValidationSuite) TestDates() {
	s.Run("parses common layouts", func() {
		for _, raw := range []string{"1974-08-12", "12/08/1974", "12.08.1974", "12 Aug 1974", "AUG 12 1974"} {
			d, err := ParseDate(raw)
			s.Require().NoError(err, raw)
			s.Equal(time.Date(1974, 8, 12, 0, 0, 0, 0, time.UTC), d, raw)
		}
	})

	s.Run("MRZ century pivots", func() {
		dob, err := ParseMRZDate("740812", s.now)
		s.Require().NoError(err)
		s.Equal(1974, dob.Year())

		dob, err = ParseMRZDate("100101", s.now)
		s.Require().NoError(err)
		s.Equal(2010, dob.Year())

		exp, err := ParseMRZDate("350101", s.now.AddDate(50, 0, 0))
		s.Require().NoError(err)
		s.Equal(2035, exp.Year())
	})
}

func (s *ValidationSuite) TestImageRules() {
	sharp := s.encodeJPEG(checkerboard(1000, 630, 8))
	blurry := s.encodeJPEG(flat(1000, 630))

	s.Run("template accepts card proportions", func() {
		s.Equal(Passed, TemplateLayout(sharp, "national_id").Outcome)
	})

	s.Run("template rejects square image", func() {
		square := s.encodeJPEG(flat(900, 900))
		s.Equal(Failed, TemplateLayout(square, "national_id").Outcome)
	})

	s.Run("template rejects low resolution", func() {
		small := s.encodeJPEG(flat(500, 315))
		res := TemplateLayout(small, "passport")
		s.Equal(Failed, res.Outcome)
		s.Contains(res.Detail, "resolution")
	})

	s.Run("quality passes sharp image", func() {
		s.Greater(sharp.LaplacianVariance(), qualityMinSharpness)
		s.Equal(Passed, ImageQuality(sharp).Outcome)
	})

	s.Run("quality fails blurry image", func() {
		res := ImageQuality(blurry)
		s.Equal(Failed, res.Outcome)
		s.Contains(res.Detail, "blurry")
	})

	s.Run("tamper passes sharp image", func() {
		s.Equal(Passed, Tampering(sharp).Outcome)
	})

	s.Run("tamper fails blurry image with large re-encode delta", func() {
		edited := s.encodeJPEG(flat(1000, 630))
		edited.Size *= 10
		s.Equal(Failed, Tampering(edited).Outcome)
	})

	s.Run("tamper does not judge png re-encode", func() {
		s.Equal(Passed, Tampering(s.encodePNG(flat(1000, 630))).Outcome)
	})

	s.Run("oversized image is refused from its header", func() {
		img, err := DecodeImage(pngHeader(8000, 8000))
		s.Nil(img)
		s.ErrorIs(err, ErrImageTooLarge)

		report := Evaluate(Input{ImageErr: err}, func(string) bool { return true })
		for _, rule := range []string{RuleTemplate, RuleTamper, RuleQuality} {
			s.Equal(Skipped, report.Results[rule].Outcome, rule)
		}
	})

	s.Run("large image sharpness is sampled", func() {
		s.Equal(1, laplacianStride(1000, 1000))
		s.Equal(2, laplacianStride(1500, 1000))
		stride := laplacianStride(7998, 4998)
		s.LessOrEqual(((7998+stride-1)/stride)*((4998+stride-1)/stride), maxLaplacianSamples)

		large := s.encodePNG(checkerboard(1500, 1000, 8))
		s.Greater(large.LaplacianVariance(), qualityMinSharpness)
	})

	s.Run("nil image is skipped", func() {
		s.Equal(Skipped, ImageQuality(nil).Outcome)
		s.Equal(Skipped, Tampering(nil).Outcome)
		s.Equal(Skipped, TemplateLayout(nil, "passport").Outcome)
	})
}

func (s *ValidationSuite) TestDocumentRules() {
	s.Run("field presence lists missing fields", func() {
		res := OCRFieldPresence(Document{FullName: "ANNA ERIKSSON"})
		s.Equal(Failed, res.Outcome)
		s.Contains(res.Detail, "id_number")
		s.Contains(res.Detail, "date_of_birth")
		s.Equal(Passed, OCRFieldPresence(Document{FullName: "A", IDNumber: "1", DateOfBirth: "1974-08-12"}).Outcome)
	})

	s.Run("future date of birth fails", func() {
		s.Equal(Failed, FieldConsistency(Document{DateOfBirth: "2030-01-01"}, s.now).Outcome)
	})

	s.Run("expiry before issue fails", func() {
		doc := Document{DateOfBirth: "1974-08-12", IssueDate: "2020-01-01", ExpiryDate: "2019-01-01"}
		s.Equal(Failed, FieldConsistency(doc, s.now).Outcome)
	})

	s.Run("consistent dates pass", func() {
		doc := Document{DateOfBirth: "1974-08-12", IssueDate: "2020-01-01", ExpiryDate: "2030-01-01"}
		s.Equal(Passed, FieldConsistency(doc, s.now).Outcome)
	})

	s.Run("no dates is skipped", func() {
		s.Equal(Skipped, FieldConsistency(Document{}, s.now).Outcome)
	})

	s.Run("month-first dates fall back to the US layout", func() {
		d, err := ParseDate("08/13/1974")
		s.Require().NoError(err)
		s.Equal(time.Date(1974, 8, 13, 0, 0, 0, 0, time.UTC), d)
	})

	s.Run("unrecognized dates are skipped, not failed", func() {
		res := FieldConsistency(Document{DateOfBirth: "the twelfth of august"}, s.now)
		s.Equal(Skipped, res.Outcome)
		s.Contains(res.Detail, "date_of_birth")

		res = FieldConsistency(Document{IssueDate: "2020-01-01", ExpiryDate: "sometime"}, s.now)
		s.Equal(Skipped, res.Outcome)
	})

	s.Run("unrecognized date does not hide readable ones", func() {
		doc := Document{DateOfBirth: "??", IssueDate: "2020-01-01", ExpiryDate: "2019-01-01"}
		s.Equal(Failed, FieldConsistency(doc, s.now).Outcome)

		doc.ExpiryDate = "2030-01-01"
		s.Equal(Passed, FieldConsistency(doc, s.now).Outcome)
	})

	s.Run("MRZ cross check ignores unrecognized printed dates", func() {
		doc := Document{
			FullName:    "Anna Maria Eriksson",
			IDNumber:    "L898902C3",
			DateOfBirth: "twelfth of august",
			MRZ:         []string{td3Line1, td3Line2},
		}
		res := MRZCrossField(doc, s.now)
		s.Equal(Passed, res.Outcome)
		s.Contains(res.Detail, "2 fields")

		s.Equal(Skipped, MRZCrossField(Document{DateOfBirth: "??", MRZ: []string{td3Line1, td3Line2}}, s.now).Outcome)
	})

	s.Run("MRZ cross check matches printed fields", func() {
		doc := Document{
			FullName:    "Anna Maria Eriksson",
			IDNumber:    "L898902C3",
			DateOfBirth: "1974-08-12",
			ExpiryDate:  "2012-04-15",
			MRZ:         []string{td3Line1, td3Line2},
		}
		s.Equal(Passed, MRZCrossField(doc, s.now).Outcome)
	})

	s.Run("MRZ cross check reports mismatches", func() {
		doc := Document{
			FullName:    "John Smith",
			IDNumber:    "L898902C3",
			DateOfBirth: "1975-08-12",
			MRZ:         []string{td3Line1, td3Line2},
		}
		res := MRZCrossField(doc, s.now)
		s.Equal(Failed, res.Outcome)
		s.Contains(res.Detail, "full_name")
		s.Contains(res.Detail, "date_of_birth")
		s.NotContains(res.Detail, "id_number")
	})

	s.Run("MRZ rules skip without MRZ", func() {
		s.Equal(Skipped, MRZCrossField(Document{FullName: "A"}, s.now).Outcome)
		s.Equal(Skipped, MRZChecksum(nil).Outcome)
		s.Equal(Skipped, MRZChecksum([]string{"garbage"}).Outcome)
	})

	s.Run("MRZ checksum", func() {
		s.Equal(Passed, MRZChecksum([]string{td1Line1, td1Line2, td1Line3}).Outcome)
		s.Equal(Failed, MRZChecksum([]string{td3Line1, "L898902C37UTO7408122F1204159ZE184226B<<<<<10"}).Outcome)
	})
}

func (s *ValidationSuite) TestEvaluate() {
	s.Run("runs only enabled rules and counts failures", func() {
		in := Input{
			DocumentType: "passport",
			Document:     Document{FullName: "ANNA ERIKSSON", DateOfBirth: "2030-01-01"},
			Now:          s.now,
		}
		enabled := map[string]bool{RuleOCRFields: true, RuleConsistency: true, RuleQuality: true}
		report := Evaluate(in, func(name string) bool { return enabled[name] })

		s.Len(report.Results, 3)
		s.Equal(2, report.Failed)
		s.Equal(Skipped, report.Results[RuleQuality].Outcome)
		s.NotContains(report.Results, RuleTamper)
	})

	s.Run("panicking rule is skipped, not failed", func() {
		saved := Rules
		defer func() { Rules = saved }()
		Rules = []Rule{{Name: "boom", Check: func(Input) Result { panic("index out of range") }}}

		report := Evaluate(Input{}, func(string) bool { return true })
		s.Equal(0, report.Failed)
		s.Equal(Skipped, report.Results["boom"].Outcome)
		s.Contains(report.Results["boom"].Detail, "panicked")
	})
}
