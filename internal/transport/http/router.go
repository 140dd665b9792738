package http

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the dependencies of the ops HTTP surface.
type Services struct {
	Events      EventAPI
	Sweeps      SweepRunner
	Policies    PolicyReader
	PolicyStore PolicyStore
	Profiles    ProfileStore
	DB          Pinger
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter wires every route behind CORS and request logging. Unknown
// routes, wrong methods included, get the JSON 404.
func NewRouter(s Services) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthHandler(s.DB))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /guilds/{guild}/events", HandleListEvents(s.Events))
	mux.Handle("POST /guilds/{guild}/events", HandleCreateEvent(s.Events))
	mux.Handle("GET /guilds/{guild}/policy", HandleGetPolicy(s.Policies))
	mux.Handle("PUT /guilds/{guild}/policy", HandlePutPolicy(s.PolicyStore, s.Policies, s.Events))
	mux.Handle("PUT /guilds/{guild}/profiles/{user}", HandlePutProfile(s.Profiles, s.Events))

	mux.Handle("GET /events/{id}", HandleGetEvent(s.Events))
	mux.Handle("PATCH /events/{id}", HandleEditEvent(s.Events))
	mux.Handle("DELETE /events/{id}", HandleDeleteEvent(s.Events))
	mux.Handle("POST /events/{id}/deploy", HandleDeployEvent(s.Events))
	mux.Handle("POST /events/{id}/show", HandleShowEvent(s.Events))
	mux.Handle("POST /events/{id}/attendees", HandleJoinEvent(s.Events))
	mux.Handle("DELETE /events/{id}/attendees", HandleLeaveEvent(s.Events))

	mux.Handle("POST /sweeps/{name}", HandleRunSweep(s.Sweeps))
	mux.Handle("/", NotFoundHandler())

	return RequestLogger(CORS(s.CORSOrigins, mux), s.Logger)
}
