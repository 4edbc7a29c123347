// Package api assembles the HTTP surface of the ingestion service.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/expense-ingest/internal/api/handlers"
	"github.com/dvloznov/expense-ingest/internal/api/middleware"
	"github.com/rs/zerolog"
)

// Handlers groups the endpoint handlers served by NewRouter.
type Handlers struct {
	Imports  *handlers.ImportsHandler
	Invoices *handlers.InvoicesHandler
	Jobs     *handlers.JobsHandler
}

// NewRouter registers every route and wraps the mux in the middleware chain.
// All /api routes require X-User-ID.
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	user := middleware.RequireUser

	mux.HandleFunc("/api/imports/bank-csv", user(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.Imports.ImportBankCSV(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}))

	mux.HandleFunc("/api/imports/", user(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		batchID, ok := pathID(r, "/api/imports/")
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "Batch ID is required")
			return
		}
		h.Imports.GetBatch(w, r, batchID)
	}))

	mux.HandleFunc("/api/invoices/upload", user(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.Invoices.UploadInvoice(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}))

	mux.HandleFunc("/api/invoices/", user(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		invoiceID, ok := pathID(r, "/api/invoices/")
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "Invoice ID is required")
			return
		}
		h.Invoices.GetInvoice(w, r, invoiceID)
	}))

	mux.HandleFunc("/api/jobs", user(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.Jobs.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}))

	mux.HandleFunc("/api/jobs/", user(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID, ok := pathID(r, "/api/jobs/")
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		h.Jobs.GetJob(w, r, jobID)
	}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(mux),
			),
		),
	)
}

// pathID extracts a single trailing path segment.
func pathID(r *http.Request, prefix string) (string, bool) {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
