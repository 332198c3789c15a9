package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger checks that the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Table   string `json:"table,omitempty"`
	Store   bool   `json:"store"`
}

// HTTPHandler reports liveness and, when p is non-nil, whether the task
// table answers a DescribeTable within a second.
func HTTPHandler(p Pinger, table string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Table: table, Store: true}
		code := http.StatusOK

		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "store ping failed: " + err.Error()
				st.Store = false
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}
