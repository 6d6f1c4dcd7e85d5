// Package rpctypes contains the types that are sent over JSON-RPC between the session and the command line client.
package rpctypes

// Status of a download session.
type Status struct {
	ID              string
	Name            string
	State           string
	Mode            string
	Peers           int
	Seeders         int
	AvailablePieces uint32
	// Ratio of downloaded pieces in range [0, 1].
	Progress       float64
	PiecesComplete uint32
	NumPieces      uint32
	// Speeds in bytes per second.
	DownloadSpeed int64
	UploadSpeed   int64
	ETA           string
	Bytes         struct {
		Total      int64
		Downloaded int64
		Uploaded   int64
		Wasted     int64
	}
	StartedAt Time `structs:",omitnested"`
}

type SchedulerStats struct {
	Mode            string
	Peers           int
	Progress        float64
	ActiveRequests  int
	StalledRequests int
	Ticks           int64
	EmptyTicks      int64
	PiecesOffered   int64
	StaleReoffers   int64
	ModeTransitions int64
	Advisor         struct {
		Calls   int64
		Dropped int64
		Failed  int64
	}
}

type ActiveRequest struct {
	Index       uint32
	RequestedAt Time `structs:",omitnested"`
}

type GetStatusRequest struct{}

type GetStatusResponse struct {
	Status Status
}

type GetSchedulerStatsRequest struct{}

type GetSchedulerStatsResponse struct {
	Stats SchedulerStats
}

type GetActiveRequestsRequest struct {
	// Max number of requests to return, lowest piece indexes first. Zero means all.
	Limit int
}

type GetActiveRequestsResponse struct {
	Requests []ActiveRequest
}

type SetAggressiveRequest struct {
	Enabled bool
}

type SetAggressiveResponse struct {
	Aggressive bool
	Mode       string
}

type IsAggressiveRequest struct{}

type IsAggressiveResponse struct {
	Aggressive bool
	Mode       string
}
