package protocol_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rpggio/dutylog/internal/domain/audit"
	"github.com/rpggio/dutylog/internal/domain/protocol"
	"github.com/rpggio/dutylog/internal/repository"
	"github.com/rpggio/dutylog/internal/repository/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testDate = civil.Date{Year: 2024, Month: 5, Day: 17}

func at(h, m int) *civil.Time {
	return &civil.Time{Hour: h, Minute: m}
}

func newService(protocols *mocks.ProtocolRepository, audits *mocks.AuditRepository, opts ...protocol.Option) *protocol.Service {
	if audits == nil {
		return protocol.NewService(protocols, nil, nil, opts...)
	}
	return protocol.NewService(protocols, audits, nil, opts...)
}

func TestProtocolService_Create_FinalizedAcrossMidnight(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	audits := &mocks.AuditRepository{}

	protocols.On("Create", ctx, mock.Anything).Return(nil)
	audits.On("Append", ctx, mock.MatchedBy(func(e *audit.Entry) bool {
		return e.Action == audit.ActionCreate && e.Actor == protocol.DefaultActor
	})).Return(nil)

	svc := newService(protocols, audits)
	p, err := svc.Create(ctx, protocol.CreateRequest{
		Pilot:   "  ana ",
		Vehicle: "Yamara Tenere",
		Date:    testDate,
		Start:   at(23, 30),
		End:     at(0, 15),
	})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusFinalized, p.Status)
	require.Equal(t, int64(2700), p.Duration)
	require.Equal(t, "ana", p.Pilot)
	require.NotEmpty(t, p.ID)
	require.Equal(t, int64(1), p.Revision)
	protocols.AssertExpectations(t)
	audits.AssertExpectations(t)
}

func TestProtocolService_Create_MidnightStartIsValid(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	protocols.On("Create", ctx, mock.Anything).Return(nil)

	svc := newService(protocols, nil)
	p, err := svc.Create(ctx, protocol.CreateRequest{
		Pilot:   "ana",
		Vehicle: "bike",
		Date:    testDate,
		Start:   at(0, 0),
		End:     at(1, 0),
	})
	require.NoError(t, err)
	require.Equal(t, int64(3600), p.Duration)
}

func TestProtocolService_Create_NonCountingKeepsEndWithZeroDuration(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	protocols.On("Create", ctx, mock.Anything).Return(nil)

	svc := newService(protocols, nil)
	for _, status := range []protocol.Status{protocol.StatusWarning, protocol.StatusNotParticipating, protocol.StatusInactive} {
		p, err := svc.Create(ctx, protocol.CreateRequest{
			Pilot:   "bruno",
			Vehicle: "bike",
			Date:    testDate,
			Start:   at(6, 0),
			End:     at(9, 0),
			Status:  status,
		})
		require.NoError(t, err, status)
		require.Equal(t, int64(0), p.Duration, status)
		require.NotNil(t, p.End, status)
		require.Equal(t, status, p.Status)
	}
}

func TestProtocolService_Create_OpenDropsEnd(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	protocols.On("Create", ctx, mock.Anything).Return(nil)

	svc := newService(protocols, nil)
	p, err := svc.Create(ctx, protocol.CreateRequest{
		Pilot:   "ana",
		Vehicle: "bike",
		Date:    testDate,
		Start:   at(6, 0),
		End:     at(7, 0),
		Status:  protocol.StatusOpen,
	})
	require.NoError(t, err)
	require.Nil(t, p.End)
	require.Equal(t, int64(0), p.Duration)
}

func TestProtocolService_Create_Validation(t *testing.T) {
	ctx := context.Background()
	link := "not a url"
	ftp := "ftp://example.com/x"

	base := func() protocol.CreateRequest {
		return protocol.CreateRequest{
			Pilot:   "ana",
			Vehicle: "Yamara Tenere",
			Date:    testDate,
			Start:   at(10, 0),
			End:     at(11, 0),
		}
	}

	tests := []struct {
		name   string
		mutate func(*protocol.CreateRequest)
		want   error
	}{
		{"missing pilot", func(r *protocol.CreateRequest) { r.Pilot = " " }, protocol.ErrMissingPilot},
		{"missing vehicle", func(r *protocol.CreateRequest) { r.Vehicle = "" }, protocol.ErrMissingVehicle},
		{"other vehicle", func(r *protocol.CreateRequest) { r.Vehicle = "Truck" }, protocol.ErrVehicleNotAllowed},
		{"missing date", func(r *protocol.CreateRequest) { r.Date = civil.Date{} }, protocol.ErrInvalidDate},
		{"missing start", func(r *protocol.CreateRequest) { r.Start = nil }, protocol.ErrInvalidStart},
		{"finalized without end", func(r *protocol.CreateRequest) { r.End = nil }, protocol.ErrEndRequired},
		{"zero duration", func(r *protocol.CreateRequest) { r.End = at(10, 0) }, protocol.ErrNonPositiveDuration},
		{"unknown status", func(r *protocol.CreateRequest) { r.Status = "PAUSED" }, protocol.ErrInvalidStatus},
		{"bad link", func(r *protocol.CreateRequest) { r.Link = &link }, protocol.ErrInvalidLink},
		{"non http link", func(r *protocol.CreateRequest) { r.Link = &ftp }, protocol.ErrInvalidLink},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			protocols := &mocks.ProtocolRepository{}
			svc := newService(protocols, nil, protocol.WithVehicle("Yamara Tenere"))

			req := base()
			tc.mutate(&req)
			_, err := svc.Create(ctx, req)
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, protocol.ErrValidation)
			protocols.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestProtocolService_Create_VehicleMatchIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	protocols.On("Create", ctx, mock.Anything).Return(nil)

	svc := newService(protocols, nil, protocol.WithVehicle("Yamara Tenere"))
	p, err := svc.Create(ctx, protocol.CreateRequest{
		Pilot:   "ana",
		Vehicle: "yamara tenere",
		Date:    testDate,
		Start:   at(10, 0),
		End:     at(11, 0),
	})
	require.NoError(t, err)
	require.Equal(t, "Yamara Tenere", p.Vehicle)
}

func TestProtocolService_OpenThenFinalize(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	audits := &mocks.AuditRepository{}

	protocols.On("Create", ctx, mock.Anything).Return(nil)
	audits.On("Append", ctx, mock.Anything).Return(nil)

	svc := newService(protocols, audits)
	open, err := svc.Create(ctx, protocol.CreateRequest{
		Pilot:   "carla",
		Vehicle: "bike",
		Date:    testDate,
		Start:   at(6, 0),
		Status:  protocol.StatusOpen,
		Actor:   "bot",
	})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOpen, open.Status)
	require.Equal(t, int64(0), open.Duration)

	protocols.On("Get", ctx, open.ID).Return(open, nil)
	protocols.On("Update", ctx, mock.Anything, int64(1)).Return(nil)

	done, err := svc.Finalize(ctx, protocol.FinalizeRequest{ID: open.ID, End: at(8, 0), Actor: "carla"})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusFinalized, done.Status)
	require.Equal(t, int64(7200), done.Duration)
	require.Equal(t, int64(2), done.Revision)
	require.Equal(t, protocol.StatusOpen, open.Status)

	audits.AssertCalled(t, "Append", ctx, mock.MatchedBy(func(e *audit.Entry) bool {
		return e.Action == audit.ActionFinalize && e.Actor == "carla" && e.ProtocolID == open.ID
	}))
}

func TestProtocolService_Finalize_NonCountingTarget(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	current := &protocol.Protocol{ID: "p1", Pilot: "ana", Vehicle: "bike", Date: testDate, Start: *at(6, 0), Status: protocol.StatusOpen, Revision: 3}
	protocols.On("Get", ctx, "p1").Return(current, nil)
	protocols.On("Update", ctx, mock.Anything, int64(3)).Return(nil)

	svc := newService(protocols, nil)
	p, err := svc.Finalize(ctx, protocol.FinalizeRequest{ID: "p1", End: at(9, 0), Status: protocol.StatusWarning})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusWarning, p.Status)
	require.Equal(t, int64(0), p.Duration)
	require.NotNil(t, p.End)
}

func TestProtocolService_Finalize_RejectsOpenTarget(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	current := &protocol.Protocol{ID: "p1", Date: testDate, Start: *at(6, 0), Status: protocol.StatusOpen, Revision: 1}
	protocols.On("Get", ctx, "p1").Return(current, nil)

	svc := newService(protocols, nil)
	_, err := svc.Finalize(ctx, protocol.FinalizeRequest{ID: "p1", End: at(9, 0), Status: protocol.StatusOpen})
	require.ErrorIs(t, err, protocol.ErrValidation)
	protocols.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestProtocolService_Finalize_NotOpen(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	end := at(8, 0)
	current := &protocol.Protocol{
		ID: "p1", Pilot: "ana", Vehicle: "bike", Date: testDate,
		Start: *at(6, 0), End: end, Status: protocol.StatusFinalized, Duration: 7200, Revision: 2,
	}
	snapshot := *current
	protocols.On("Get", ctx, "p1").Return(current, nil)

	svc := newService(protocols, nil)
	_, err := svc.Finalize(ctx, protocol.FinalizeRequest{ID: "p1", End: at(10, 0)})
	require.ErrorIs(t, err, protocol.ErrNotOpen)
	require.ErrorIs(t, err, protocol.ErrConflict)
	require.Equal(t, snapshot, *current)
	protocols.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestProtocolService_Finalize_ConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	current := &protocol.Protocol{ID: "p1", Pilot: "ana", Vehicle: "bike", Date: testDate, Start: *at(6, 0), Status: protocol.StatusOpen, Revision: 1}
	protocols.On("Get", ctx, "p1").Return(current, nil)
	protocols.On("Update", ctx, mock.Anything, int64(1)).Return(repository.ErrConflict)

	svc := newService(protocols, nil)
	_, err := svc.Finalize(ctx, protocol.FinalizeRequest{ID: "p1", End: at(8, 0)})
	require.ErrorIs(t, err, protocol.ErrConcurrentWrite)
	require.ErrorIs(t, err, protocol.ErrConflict)
}

func TestProtocolService_Finalize_NotFound(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	protocols.On("Get", ctx, "missing").Return(nil, repository.ErrNotFound)

	svc := newService(protocols, nil)
	_, err := svc.Finalize(ctx, protocol.FinalizeRequest{ID: "missing", End: at(8, 0)})
	require.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestProtocolService_Update_RecomputesDuration(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	audits := &mocks.AuditRepository{}
	current := &protocol.Protocol{
		ID: "p1", Pilot: "ana", Vehicle: "bike", Date: testDate,
		Start: *at(6, 0), End: at(8, 0), Status: protocol.StatusFinalized, Duration: 7200, Revision: 4,
	}
	protocols.On("Get", ctx, "p1").Return(current, nil)
	protocols.On("Update", ctx, mock.Anything, int64(4)).Return(nil)
	audits.On("Append", ctx, mock.Anything).Return(nil)

	svc := newService(protocols, audits)
	p, err := svc.Update(ctx, protocol.UpdateRequest{
		ID:      "p1",
		Pilot:   "ana",
		Vehicle: "bike",
		Date:    testDate,
		Start:   at(22, 0),
		End:     at(1, 0),
	})
	require.NoError(t, err)
	require.Equal(t, int64(3*3600), p.Duration)
	require.Equal(t, protocol.StatusFinalized, p.Status)
	require.Equal(t, int64(5), p.Revision)
}

func TestProtocolService_Update_StatusChanges(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		from protocol.Status
		to   protocol.Status
		want error
	}{
		{"reopen", protocol.StatusFinalized, protocol.StatusOpen, protocol.ErrReopen},
		{"warning to open", protocol.StatusWarning, protocol.StatusOpen, protocol.ErrReopen},
		{"open to finalized", protocol.StatusOpen, protocol.StatusFinalized, protocol.ErrInvalidTransition},
		{"finalized to inactive", protocol.StatusFinalized, protocol.StatusInactive, protocol.ErrInvalidTransition},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			protocols := &mocks.ProtocolRepository{}
			current := &protocol.Protocol{ID: "p1", Pilot: "ana", Vehicle: "bike", Date: testDate, Start: *at(6, 0), End: at(8, 0), Status: tc.from, Revision: 1}
			protocols.On("Get", ctx, "p1").Return(current, nil)

			svc := newService(protocols, nil)
			_, err := svc.Update(ctx, protocol.UpdateRequest{
				ID: "p1", Pilot: "ana", Vehicle: "bike", Date: testDate,
				Start: at(6, 0), End: at(8, 0), Status: tc.to,
			})
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, protocol.ErrConflict)
			protocols.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProtocolService_AuditFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	audits := &mocks.AuditRepository{}
	protocols.On("Create", ctx, mock.Anything).Return(nil)
	audits.On("Append", ctx, mock.Anything).Return(errors.New("disk full"))

	svc := newService(protocols, audits)
	p, err := svc.Create(ctx, protocol.CreateRequest{
		Pilot: "ana", Vehicle: "bike", Date: testDate, Start: at(6, 0), End: at(7, 0),
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	audits.AssertExpectations(t)
}

func TestProtocolService_Delete_RecordsActorAndRole(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	audits := &mocks.AuditRepository{}
	current := &protocol.Protocol{ID: "p1", Pilot: "ana", Vehicle: "bike", Date: testDate, Start: *at(6, 0), Status: protocol.StatusOpen, Revision: 1}
	protocols.On("Get", ctx, "p1").Return(current, nil)
	protocols.On("Delete", ctx, "p1").Return(nil)

	var captured *audit.Entry
	audits.On("Append", ctx, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*audit.Entry)
	}).Return(nil)

	svc := newService(protocols, audits)
	err := svc.Delete(ctx, protocol.DeleteRequest{ID: "p1", Actor: "root", ActorRole: "admin"})
	require.NoError(t, err)
	require.NotNil(t, captured)
	require.Equal(t, audit.ActionDelete, captured.Action)
	require.Equal(t, "root", captured.Actor)

	var payload struct {
		Record protocol.Protocol `json:"record"`
		Role   string            `json:"role"`
	}
	require.NoError(t, json.Unmarshal([]byte(captured.Payload), &payload))
	require.Equal(t, "admin", payload.Role)
	require.Equal(t, "p1", payload.Record.ID)
}

func TestProtocolService_Delete_NotFound(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	protocols.On("Get", ctx, "gone").Return(nil, repository.ErrNotFound)

	svc := newService(protocols, nil)
	err := svc.Delete(ctx, protocol.DeleteRequest{ID: "gone"})
	require.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestProtocolService_ListOpenOlderThan(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	now := time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)

	open := []protocol.Protocol{
		{ID: "fresh", Date: testDate, Start: *at(11, 30), Status: protocol.StatusOpen},
		{ID: "old", Date: testDate, Start: *at(8, 0), Status: protocol.StatusOpen},
		{ID: "older", Date: testDate.AddDays(-1), Start: *at(23, 0), Status: protocol.StatusOpen},
	}
	protocols.On("List", ctx, protocol.ListOptions{Statuses: []protocol.Status{protocol.StatusOpen}}).Return(open, nil)

	svc := newService(protocols, nil, protocol.WithClock(fixedClock{now: now}))
	stale, err := svc.ListOpenOlderThan(ctx, 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, "older", stale[0].ID)
	require.Equal(t, "old", stale[1].ID)
}

func TestProtocolService_ListOpenOlderThan_UsesLocation(t *testing.T) {
	ctx := context.Background()
	protocols := &mocks.ProtocolRepository{}
	loc := time.FixedZone("BRT", -3*3600)
	now := time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC) // 09:00 local

	open := []protocol.Protocol{
		{ID: "p1", Date: testDate, Start: *at(8, 0), Status: protocol.StatusOpen},
	}
	protocols.On("List", ctx, mock.Anything).Return(open, nil)

	svc := newService(protocols, nil, protocol.WithClock(fixedClock{now: now}), protocol.WithLocation(loc))
	stale, err := svc.ListOpenOlderThan(ctx, 2*time.Hour)
	require.NoError(t, err)
	require.Empty(t, stale)

	stale, err = svc.ListOpenOlderThan(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
}
