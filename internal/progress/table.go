package progress

import (
	"reflect"
	"time"

	"github.com/JakeFAU/ingest-progress/internal/model"
)

// TableProgress is the reconciled, client-owned view of one (job, table) pair.
type TableProgress struct {
	Table       string    `json:"table"`
	Status      Status    `json:"status"`
	CurrentRows int64     `json:"current_rows"`
	TotalRows   *int64    `json:"total_rows,omitempty"`
	Percentage  float64   `json:"percentage"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`

	// LatestUpdate is the most recent event applied to the table.
	LatestUpdate *model.ProgressEvent `json:"latest_update,omitempty"`
	// Result is the backend's final outcome once a snapshot reports it.
	Result *model.TableResult `json:"result,omitempty"`
	// CDCRows counts rows synced by incremental polling after the initial load.
	CDCRows   int64     `json:"cdc_rows,omitempty"`
	LastCDCAt time.Time `json:"last_cdc_at,omitzero"`
	// Polling is the table's polling config when polling is enabled.
	Polling *model.PollingConfig `json:"polling,omitempty"`
}

func newTableProgress(table string) TableProgress {
	return TableProgress{Table: table, Status: StatusPending}
}

// Clone returns a deep copy that shares no pointers with tp.
func (tp TableProgress) Clone() TableProgress {
	out := tp
	if tp.TotalRows != nil {
		out.TotalRows = ptr(*tp.TotalRows)
	}
	if tp.LatestUpdate != nil {
		evt := cloneEvent(*tp.LatestUpdate)
		out.LatestUpdate = &evt
	}
	if tp.Result != nil {
		res := *tp.Result
		out.Result = &res
	}
	if tp.Polling != nil {
		p := *tp.Polling
		out.Polling = &p
	}
	return out
}

// sameAs compares everything except UpdatedAt.
func (tp TableProgress) sameAs(other TableProgress) bool {
	a, b := tp, other
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}

// cloneEvent deep-copies evt and normalizes its timestamp to UTC so copies of
// the same event compare equal regardless of how it was decoded.
func cloneEvent(evt model.ProgressEvent) model.ProgressEvent {
	out := evt
	out.Timestamp = evt.Timestamp.UTC()
	if evt.RowCount != nil {
		out.RowCount = ptr(*evt.RowCount)
	}
	if evt.CurrentRows != nil {
		out.CurrentRows = ptr(*evt.CurrentRows)
	}
	if evt.TotalRows != nil {
		out.TotalRows = ptr(*evt.TotalRows)
	}
	if evt.Percentage != nil {
		out.Percentage = ptr(*evt.Percentage)
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
