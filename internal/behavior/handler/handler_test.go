package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"idverify/internal/behavior/handler/mocks"
	"idverify/internal/verification/models"
	dErrors "idverify/pkg/domain-errors"
	"idverify/pkg/requestcontext"
	"idverify/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/signals-mocks.go -package=mocks Service
type SignalsHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
	orgID   uuid.UUID
}

func TestSignalsHandlerSuite(t *testing.T) {
	suite.Run(t, new(SignalsHandlerSuite))
}

func (s *SignalsHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	s.service = mocks.NewMockService(ctrl)
	s.orgID = uuid.New()

	h := New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *SignalsHandlerSuite) post(id string, orgID uuid.UUID, body any) *http.Request {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/verifications/"+id+"/signals", body)
	req.Header.Set("User-Agent", "capture-sdk/2.0")
	if orgID != uuid.Nil {
		req = req.WithContext(requestcontext.WithOrganizationID(req.Context(), orgID))
	}
	return req
}

func (s *SignalsHandlerSuite) TestHandleRecordSignals() {
	s.Run("valid telemetry returns 204", func() {
		id := uuid.New()
		s.service.EXPECT().
			RecordSignals(gomock.Any(), s.orgID, gomock.Any(), "capture-sdk/2.0").
			DoAndReturn(func(_ any, _ uuid.UUID, sig *models.BehavioralSignals, _ string) error {
				s.Equal(id, sig.VerificationID)
				s.Equal(2, sig.StepRevisits[models.StepSelfie])
				s.Equal(int64(45000), sig.StepDurationsMs[models.StepLiveness])
				s.Equal(int64(120000), sig.TotalDurationMs)
				return nil
			})

		rr := testutil.DoRequest(s.router, s.post(id.String(), s.orgID, map[string]any{
			"step_revisits":     map[string]int{"selfie": 2},
			"step_durations_ms": map[string]int64{"liveness": 45000},
			"total_duration_ms": 120000,
		}))

		s.Equal(http.StatusNoContent, rr.Code)
		s.Empty(rr.Body.Bytes())
	})

	s.Run("empty body records empty telemetry", func() {
		s.service.EXPECT().
			RecordSignals(gomock.Any(), s.orgID, gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, _ uuid.UUID, sig *models.BehavioralSignals, _ string) error {
				s.NotNil(sig.StepRevisits)
				s.NotNil(sig.StepDurationsMs)
				return nil
			})

		rr := testutil.DoRequest(s.router, s.post(uuid.NewString(), s.orgID, nil))
		s.Equal(http.StatusNoContent, rr.Code)
	})

	s.Run("missing organization is unauthorized", func() {
		rr := testutil.DoRequest(s.router, s.post(uuid.NewString(), uuid.Nil, map[string]any{}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})

	s.Run("malformed id is rejected", func() {
		rr := testutil.DoRequest(s.router, s.post("nope", s.orgID, map[string]any{}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})

	s.Run("invalid telemetry is rejected before the service", func() {
		cases := []struct {
			name string
			body map[string]any
		}{
			{"unknown step", map[string]any{"step_revisits": map[string]int{"payment": 1}}},
			{"negative revisits", map[string]any{"step_revisits": map[string]int{"selfie": -1}}},
			{"negative duration", map[string]any{"step_durations_ms": map[string]int{"document": -5}}},
			{"negative total", map[string]any{"total_duration_ms": -1}},
		}
		for _, tc := range cases {
			s.Run(tc.name, func() {
				rr := testutil.DoRequest(s.router, s.post(uuid.NewString(), s.orgID, tc.body))
				testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
			})
		}
	})

	s.Run("malformed json is a bad request", func() {
		req := s.post(uuid.NewString(), s.orgID, nil)
		req.Body = io.NopCloser(strings.NewReader("{"))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("service errors map to http status", func() {
		cases := []struct {
			name   string
			err    error
			status int
		}{
			{"not found", dErrors.New(dErrors.CodeNotFound, "verification not found"), http.StatusNotFound},
			{"other tenant", dErrors.New(dErrors.CodeForbidden, "forbidden"), http.StatusForbidden},
			{"already processing", dErrors.New(dErrors.CodeInvalidState, "processing"), http.StatusConflict},
			{"store failure", dErrors.New(dErrors.CodeInternal, "boom"), http.StatusInternalServerError},
		}
		for _, tc := range cases {
			s.Run(tc.name, func() {
				s.service.EXPECT().RecordSignals(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(tc.err)
				rr := testutil.DoRequest(s.router, s.post(uuid.NewString(), s.orgID, map[string]any{}))
				testutil.AssertStatusAndError(s.T(), rr, tc.status, string(dErrors.CodeOf(tc.err)))
			})
		}
	})
}
