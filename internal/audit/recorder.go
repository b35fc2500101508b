package audit

import (
	"context"

	"github.com/google/uuid"

	"gantry/pkg/requestcontext"
)

// Recorder stamps and appends audit entries. It uses the store interface for
// persistence so tests can swap sinks easily.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record assigns id and timestamp if unset and appends the entry.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	return r.store.Append(ctx, entry)
}
