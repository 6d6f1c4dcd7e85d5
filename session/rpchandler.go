package session

import (
	"github.com/opifices/opit/internal/rpctypes"
	"github.com/powerman/rpc-codec/jsonrpc2"
)

var errNegativeLimit = jsonrpc2.NewError(2, "limit must not be negative")

type rpcHandler struct {
	session *Session
}

func (h *rpcHandler) Version(args struct{}, reply *string) error {
	*reply = Version
	return nil
}

func (h *rpcHandler) GetStatus(args *rpctypes.GetStatusRequest, reply *rpctypes.GetStatusResponse) error {
	st := h.session.Status()
	reply.Status = rpctypes.Status{
		ID:              st.ID,
		Name:            st.Name,
		State:           st.State.String(),
		Mode:            st.Mode,
		Peers:           st.Peers,
		Seeders:         st.Seeders,
		AvailablePieces: st.AvailablePieces,
		Progress:        st.Progress,
		PiecesComplete:  st.PiecesComplete,
		NumPieces:       st.NumPieces,
		DownloadSpeed:   st.DownloadSpeed,
		UploadSpeed:     st.UploadSpeed,
		ETA:             st.ETA,
		StartedAt:       rpctypes.Time{Time: st.StartedAt},
	}
	reply.Status.Bytes.Total = st.TotalBytes
	reply.Status.Bytes.Downloaded = st.Transfer.Downloaded
	reply.Status.Bytes.Uploaded = st.Transfer.Uploaded
	reply.Status.Bytes.Wasted = st.Transfer.Wasted
	return nil
}

func (h *rpcHandler) GetSchedulerStats(args *rpctypes.GetSchedulerStatsRequest, reply *rpctypes.GetSchedulerStatsResponse) error {
	s := h.session.Scheduler().Stats()
	reply.Stats = rpctypes.SchedulerStats{
		Mode:            s.Mode.String(),
		Peers:           s.Peers,
		Progress:        s.Progress,
		ActiveRequests:  s.ActiveRequests,
		StalledRequests: s.StalledRequests,
		Ticks:           s.Ticks,
		EmptyTicks:      s.EmptyTicks,
		PiecesOffered:   s.PiecesOffered,
		StaleReoffers:   s.StaleReoffers,
		ModeTransitions: s.ModeTransitions,
	}
	a := h.session.AdvisorStats()
	reply.Stats.Advisor.Calls = a.Calls
	reply.Stats.Advisor.Dropped = a.Dropped
	reply.Stats.Advisor.Failed = a.Failed
	return nil
}

func (h *rpcHandler) GetActiveRequests(args *rpctypes.GetActiveRequestsRequest, reply *rpctypes.GetActiveRequestsResponse) error {
	if args.Limit < 0 {
		return errNegativeLimit
	}
	requests := h.session.Scheduler().ActiveRequests()
	if args.Limit > 0 && len(requests) > args.Limit {
		requests = requests[:args.Limit]
	}
	reply.Requests = make([]rpctypes.ActiveRequest, 0, len(requests))
	for _, r := range requests {
		reply.Requests = append(reply.Requests, rpctypes.ActiveRequest{
			Index:       r.Index,
			RequestedAt: rpctypes.Time{Time: r.RequestedAt},
		})
	}
	return nil
}

func (h *rpcHandler) SetAggressive(args *rpctypes.SetAggressiveRequest, reply *rpctypes.SetAggressiveResponse) error {
	h.session.SetAggressive(args.Enabled)
	sched := h.session.Scheduler()
	reply.Aggressive = sched.IsAggressive()
	reply.Mode = sched.Mode().String()
	return nil
}

func (h *rpcHandler) IsAggressive(args *rpctypes.IsAggressiveRequest, reply *rpctypes.IsAggressiveResponse) error {
	sched := h.session.Scheduler()
	reply.Aggressive = sched.IsAggressive()
	reply.Mode = sched.Mode().String()
	return nil
}
