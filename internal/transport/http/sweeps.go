package http

import (
	"context"
	"net/http"

	"github.com/jcolson/dndvault-bot-sub000/internal/app"
)

// SweepRunner runs one pass of each periodic sweep.
type SweepRunner interface {
	Reminders(ctx context.Context) app.SweepReport
	Recurrences(ctx context.Context) app.SweepReport
	Retention(ctx context.Context) app.SweepReport
}

// HandleRunSweep serves POST /sweeps/{name}, running the sweep in-request.
func HandleRunSweep(sweeps SweepRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var run func(context.Context) app.SweepReport
		switch r.PathValue("name") {
		case "reminders":
			run = sweeps.Reminders
		case "recurrences":
			run = sweeps.Recurrences
		case "retention":
			run = sweeps.Retention
		default:
			writeError(w, http.StatusNotFound, codeUnknownSweep, "unknown sweep")
			return
		}
		writeJSON(w, http.StatusOK, run(r.Context()))
	}
}
