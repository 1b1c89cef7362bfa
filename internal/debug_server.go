package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type InspectRow struct {
	Key       string `json:"key"`
	Namespace string `json:"namespace"`
	Timestamp string `json:"timestamp"`
	EntityID  string `json:"entity_id"`
	Detail    string `json:"detail"`
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

// NewDebugServer exposes liveness, the monitoring snapshot, and a raw
// badger prefix scan on a side port. Everything is JSON; this is an
// operator surface, not part of the client protocol.
func NewDebugServer(db *badger.DB, port int, mapper RowMapper, statsProvider StatsProvider) *http.Server {
	if mapper == nil {
		mapper = DefaultMapper
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := map[string]any{}
		if statsProvider != nil {
			stats = statsProvider()
		}
		writeJSON(w, stats)
	})

	mux.HandleFunc("/inspect", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "msg:"
		}

		rows := make([]InspectRow, 0)
		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					rows = append(rows, mapper(string(item.Key()), val))
					return nil
				})
			}
			return nil
		})

		writeJSON(w, map[string]any{"prefix": prefix, "items": rows})
	})

	return &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", port),
		Handler: mux,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

// DefaultMapper understands the message key layout
// (msg:{chat}:{nanos}:{id}) and falls back to raw sizes elsewhere.
func DefaultMapper(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:       key,
		Namespace: parts[0],
		Timestamp: "--:--:--",
		EntityID:  "--------",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}

	if len(parts) >= 4 {
		row.Namespace = parts[1]
		if tsNano, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, tsNano).Format("15:04:05")
		}
		row.EntityID = parts[3]
		if len(row.EntityID) > 8 {
			row.EntityID = row.EntityID[:8]
		}
	}
	return row
}
