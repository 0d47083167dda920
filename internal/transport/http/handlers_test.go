package httptransport

//go:generate mockgen -source=handlers_cases.go -destination=mocks/case-mocks.go -package=mocks CaseService
//go:generate mockgen -source=handlers_slots.go -destination=mocks/slot-mocks.go -package=mocks SlotService

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	caseModels "mortuary/internal/caserecord/models"
	caseService "mortuary/internal/caserecord/service"
	clearanceModels "mortuary/internal/clearance/models"
	custodyModels "mortuary/internal/custody/models"
	slotModels "mortuary/internal/slot/models"
	"mortuary/internal/transport/http/mocks"
	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/httputil"
	"mortuary/pkg/testutil"
)

var (
	wardActor   = id.Actor{ID: "nurse-ana", Role: id.RoleWard}
	morgueActor = id.Actor{ID: "attendant-cy", Role: id.RoleMorgue}
)

type HandlerSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	cases  *mocks.MockCaseService
	slots  *mocks.MockSlotService
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.cases = mocks.NewMockCaseService(s.ctrl)
	s.slots = mocks.NewMockSlotService(s.ctrl)
	logger := slog.New(slog.DiscardHandler)
	s.router = NewRouter(RouterConfig{
		Logger:   logger,
		Gatherer: prometheus.NewRegistry(),
		Handlers: []Registrar{
			NewCaseHandler(s.cases, logger),
			NewSlotHandler(s.slots, logger),
		},
	})
}

func (s *HandlerSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *HandlerSuite) do(method, path, body string, actor id.Actor) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return testutil.DoRequest(s.router, testutil.AsActor(req, actor))
}

func (s *HandlerSuite) errorBody(w *httptest.ResponseRecorder) httputil.ErrorResponse {
	return testutil.UnmarshalErrorResponse(s.T(), w)
}

func (s *HandlerSuite) TestIntake() {
	s.Run("passes the parsed request and the actor", func() {
		want := caseService.IntakeRequest{
			Code:          "MC-2026-001",
			Holder:        custodyModels.Holder("nurse-ana"),
			Location:      "ward-3",
			NotApplicable: []clearanceModels.GateType{clearanceModels.GateBloodDebt},
			Actor:         wardActor,
		}
		created := &caseModels.CaseRecord{ID: id.NewCaseID(), Code: want.Code, State: caseModels.StateIntake}
		s.cases.EXPECT().Intake(gomock.Any(), want).Return(created, nil)

		w := s.do(http.MethodPost, "/v1/cases",
			`{"code":" MC-2026-001 ","holder":"nurse-ana","location":"ward-3","not_applicable":["blood_debt"]}`, wardActor)

		s.Equal(http.StatusCreated, w.Code)
		var got caseModels.CaseRecord
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&got))
		s.Equal(created.ID, got.ID)
	})

	s.Run("invalid body never reaches the service", func() {
		w := s.do(http.MethodPost, "/v1/cases", `{"code":""}`, wardActor)
		testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, "validation")
	})

	s.Run("unknown gate is rejected", func() {
		w := s.do(http.MethodPost, "/v1/cases", `{"code":"MC-1","not_applicable":["tax_debt"]}`, wardActor)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("anonymous requests are rejected", func() {
		w := s.do(http.MethodPost, "/v1/cases", `{"code":"MC-1"}`, id.Actor{})
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("duplicate code is a conflict", func() {
		s.cases.EXPECT().Intake(gomock.Any(), gomock.Any()).Return(nil, dErrors.New(dErrors.CodeConflict, "case code already registered"))
		w := s.do(http.MethodPost, "/v1/cases", `{"code":"MC-1","holder":"h"}`, wardActor)
		s.Equal(http.StatusConflict, w.Code)
	})
}

func (s *HandlerSuite) TestTrigger() {
	caseID := id.NewCaseID()
	path := "/v1/cases/" + caseID.String() + "/triggers/"

	s.Run("assign slot forwards the parsed slot id", func() {
		slotID := id.NewSlotID()
		s.cases.EXPECT().
			Trigger(gomock.Any(), caseID, caseService.TriggerRequest{
				Trigger: caseModels.TriggerAssignSlot, Actor: morgueActor, SlotID: slotID,
			}).
			Return(&caseService.TriggerResult{From: caseModels.StateAwaitingSlotAssignment, To: caseModels.StateOccupied}, nil)

		w := s.do(http.MethodPost, path+"assign_slot", `{"slot_id":"`+slotID.String()+`"}`, morgueActor)
		s.Equal(http.StatusOK, w.Code)
		var res caseService.TriggerResult
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&res))
		s.Equal(caseModels.StateOccupied, res.To)
	})

	s.Run("unknown trigger is a bad request", func() {
		w := s.do(http.MethodPost, path+"teleport", `{}`, morgueActor)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("malformed case id is a bad request", func() {
		w := s.do(http.MethodPost, "/v1/cases/not-a-uuid/triggers/generate_tag", `{}`, wardActor)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("invalid transition is a conflict", func() {
		s.cases.EXPECT().Trigger(gomock.Any(), caseID, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInvalidTransition, "trigger not allowed in state intake"))
		w := s.do(http.MethodPost, path+"approve_entry", `{}`, morgueActor)
		s.Equal(http.StatusConflict, w.Code)
		s.Equal("refetch", s.errorBody(w).Class)
	})

	s.Run("blocked clearance lists the gates", func() {
		s.cases.EXPECT().Trigger(gomock.Any(), caseID, gomock.Any()).
			Return(nil, dErrors.NewWithDetails(dErrors.CodeClearanceBlocked, "clearance pending", "economic_debt"))
		w := s.do(http.MethodPost, path+"finalize_retrieval",
			`{"signed_act_id":"`+id.NewSignedActID().String()+`","holder":"funeral-home"}`, morgueActor)
		s.Equal(http.StatusUnprocessableEntity, w.Code)
		s.Equal([]string{"economic_debt"}, s.errorBody(w).Details)
	})

	s.Run("broken custody chain is an integrity failure", func() {
		s.cases.EXPECT().Trigger(gomock.Any(), caseID, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeChainDiscontinuity, "origin does not match current holder"))
		w := s.do(http.MethodPost, path+"accept_custody", `{"holder":"orderly-bo"}`, id.Actor{ID: "t", Role: id.RoleTransport})
		s.Equal(http.StatusInternalServerError, w.Code)
		body := s.errorBody(w)
		s.Equal("chain_discontinuity", body.Error)
		s.Empty(body.Description)
	})
}

func (s *HandlerSuite) TestListAndGet() {
	s.Run("state filter accepts comma lists", func() {
		s.cases.EXPECT().
			List(gomock.Any(), caseModels.StateOccupied, caseModels.StateAwaitingRetrieval).
			Return(nil, nil)
		w := s.do(http.MethodGet, "/v1/cases?state=occupied,awaiting_retrieval", "", morgueActor)
		s.Equal(http.StatusOK, w.Code)
		s.JSONEq(`{"cases":[]}`, w.Body.String())
	})

	s.Run("unknown state is rejected", func() {
		w := s.do(http.MethodGet, "/v1/cases?state=buried", "", morgueActor)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("missing case is not found", func() {
		caseID := id.NewCaseID()
		s.cases.EXPECT().Get(gomock.Any(), caseID).Return(nil, dErrors.New(dErrors.CodeNotFound, "case not found"))
		w := s.do(http.MethodGet, "/v1/cases/"+caseID.String(), "", morgueActor)
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("lookup by code", func() {
		s.cases.EXPECT().GetByCode(gomock.Any(), "MC-7").Return(&caseModels.CaseRecord{Code: "MC-7"}, nil)
		w := s.do(http.MethodGet, "/v1/cases/by-code/MC-7", "", morgueActor)
		s.Equal(http.StatusOK, w.Code)
	})
}

func (s *HandlerSuite) TestInvalidate() {
	caseID := id.NewCaseID()

	s.Run("reason is required", func() {
		w := s.do(http.MethodPost, "/v1/cases/"+caseID.String()+"/invalidate", `{"reason":"  "}`, wardActor)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("forwards reason and actor", func() {
		s.cases.EXPECT().Invalidate(gomock.Any(), caseID, "duplicate registration", wardActor).
			Return(&caseModels.CaseRecord{ID: caseID}, nil)
		w := s.do(http.MethodPost, "/v1/cases/"+caseID.String()+"/invalidate", `{"reason":"duplicate registration"}`, wardActor)
		s.Equal(http.StatusOK, w.Code)
	})
}

func (s *HandlerSuite) TestSlots() {
	slotID := id.NewSlotID()
	base := "/v1/slots/" + slotID.String()

	s.Run("register", func() {
		s.slots.EXPECT().Register(gomock.Any(), "A-01", morgueActor).
			Return(&slotModels.Slot{ID: slotID, Code: "A-01", State: slotModels.StateAvailable}, nil)
		w := s.do(http.MethodPost, "/v1/slots", `{"code":"A-01"}`, morgueActor)
		s.Equal(http.StatusCreated, w.Code)
	})

	s.Run("release reports occupancy", func() {
		s.slots.EXPECT().Release(gomock.Any(), slotID, morgueActor).
			Return(&slotModels.Release{Slot: &slotModels.Slot{ID: slotID}, Occupancy: 30 * time.Hour}, nil)
		w := s.do(http.MethodPost, base+"/release", "", morgueActor)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("emergency release needs a reason body", func() {
		w := s.do(http.MethodPost, base+"/emergency-release", `{}`, id.Actor{ID: "s", Role: id.RoleSupervisor})
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("emergency release forwards the reason", func() {
		sup := id.Actor{ID: "s", Role: id.RoleSupervisor}
		reason := "compressor failure in bank A"
		s.slots.EXPECT().ManualEmergencyRelease(gomock.Any(), slotID, reason, sup).
			Return(&slotModels.Release{Slot: &slotModels.Slot{ID: slotID}, Emergency: true}, nil)
		w := s.do(http.MethodPost, base+"/emergency-release", `{"reason":"`+reason+`"}`, sup)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("maintenance verbs map to begin and end", func() {
		s.slots.EXPECT().BeginMaintenance(gomock.Any(), slotID, morgueActor).Return(&slotModels.Slot{ID: slotID}, nil)
		s.slots.EXPECT().EndMaintenance(gomock.Any(), slotID, morgueActor).Return(&slotModels.Slot{ID: slotID}, nil)
		s.Equal(http.StatusOK, s.do(http.MethodPost, base+"/maintenance", "", morgueActor).Code)
		s.Equal(http.StatusOK, s.do(http.MethodDelete, base+"/maintenance", "", morgueActor).Code)
	})

	s.Run("lost race is a retryable conflict", func() {
		s.slots.EXPECT().Decommission(gomock.Any(), slotID, morgueActor).
			Return(nil, dErrors.New(dErrors.CodeSlotConflict, "slot changed concurrently"))
		w := s.do(http.MethodPost, base+"/decommission", "", morgueActor)
		s.Equal(http.StatusConflict, w.Code)
		s.True(s.errorBody(w).Retryable)
	})

	s.Run("list filters by state", func() {
		s.slots.EXPECT().List(gomock.Any(), slotModels.StateAvailable).Return([]*slotModels.Slot{{ID: slotID}}, nil)
		w := s.do(http.MethodGet, "/v1/slots?state=available", "", morgueActor)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("occupant lookup", func() {
		caseID := id.NewCaseID()
		s.slots.EXPECT().FindByOccupant(gomock.Any(), caseID).Return(&slotModels.Slot{ID: slotID}, nil)
		w := s.do(http.MethodGet, "/v1/cases/"+caseID.String()+"/slot", "", morgueActor)
		s.Equal(http.StatusOK, w.Code)
	})
}
