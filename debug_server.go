package eventbus

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// NewDebugHandler returns a read-only HTTP handler exposing the bus's
// registry for debugging and administrative interfaces:
//
//	GET /stats          delivery statistics snapshot
//	GET /subscriptions  all current subscriptions
//	GET /sticky         retained sticky event types
//
// Mount it on an internal-only listener; it performs no authentication.
func NewDebugHandler(bus *EventBus) http.Handler {
	r := chi.NewRouter()

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, bus.Stats())
	})

	r.Get("/subscriptions", func(w http.ResponseWriter, req *http.Request) {
		infos := bus.Subscriptions()
		sort.Slice(infos, func(i, j int) bool {
			if infos[i].EventType != infos[j].EventType {
				return infos[i].EventType < infos[j].EventType
			}
			return infos[i].Priority > infos[j].Priority
		})
		writeJSON(w, infos)
	})

	r.Get("/sticky", func(w http.ResponseWriter, req *http.Request) {
		types := bus.StickyEventTypes()
		sort.Strings(types)
		writeJSON(w, types)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
