package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/dvloznov/expense-ingest/internal/api/middleware"
	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/dvloznov/expense-ingest/internal/jobs"
	"github.com/dvloznov/expense-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/expense-ingest/internal/pipeline"
	"github.com/rs/zerolog"
)

const testUser = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

type mockImporter struct {
	ImportFunc   func(ctx context.Context, r io.Reader, fileName, userID string) (*domain.ImportBatch, error)
	GetBatchFunc func(ctx context.Context, id string) (*domain.ImportBatch, error)
}

func (m *mockImporter) ImportBankTransactions(ctx context.Context, r io.Reader, fileName, userID string) (*domain.ImportBatch, error) {
	return m.ImportFunc(ctx, r, fileName, userID)
}

func (m *mockImporter) GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error) {
	return m.GetBatchFunc(ctx, id)
}

type mockProcessor struct {
	UploadFunc func(ctx context.Context, upload pipeline.Upload, userID string) (*domain.Invoice, error)
	AcceptFunc func(ctx context.Context, upload pipeline.Upload, userID string) (*domain.Invoice, *domain.ImportBatch, error)
	GetFunc    func(ctx context.Context, id string) (*domain.Invoice, error)
}

func (m *mockProcessor) UploadAndProcessInvoice(ctx context.Context, upload pipeline.Upload, userID string) (*domain.Invoice, error) {
	return m.UploadFunc(ctx, upload, userID)
}

func (m *mockProcessor) Accept(ctx context.Context, upload pipeline.Upload, userID string) (*domain.Invoice, *domain.ImportBatch, error) {
	return m.AcceptFunc(ctx, upload, userID)
}

func (m *mockProcessor) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return m.GetFunc(ctx, id)
}

type mockPublisher struct {
	PublishFunc func(ctx context.Context, job *jobs.ProcessInvoiceJob) error
}

func (m *mockPublisher) PublishProcessInvoice(ctx context.Context, job *jobs.ProcessInvoiceJob) error {
	return m.PublishFunc(ctx, job)
}

func (m *mockPublisher) Close() error { return nil }

// multipartRequest builds an authenticated upload request with one file part.
func multipartRequest(t *testing.T, target, fileName, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart() error = %v", err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.UserIDHeader, testUser)
	return req
}

// serve runs h behind RequireUser so the user id reaches the context.
func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	middleware.RequireUser(h)(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestImportBankCSV(t *testing.T) {
	errLog := "Row 3: invalid date"

	tests := []struct {
		name       string
		batch      *domain.ImportBatch
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "partial success",
			batch:      &domain.ImportBatch{ID: "b1", Status: domain.BatchPartial, TotalRecords: 3, SuccessfulRecords: 2, FailedRecords: 1, ErrorLog: &errLog},
			wantStatus: http.StatusOK,
			wantBody:   `"status":"PARTIAL"`,
		},
		{
			name:       "fatal with batch",
			batch:      &domain.ImportBatch{ID: "b2", Status: domain.BatchFailed},
			err:        errors.New("saving transactions: db down"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `"batchId":"b2"`,
		},
		{
			name:       "fatal without batch",
			err:        errors.New("creating batch: db down"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `"error"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotName, gotUser, gotBody string
			h := NewImportsHandler(&mockImporter{
				ImportFunc: func(ctx context.Context, r io.Reader, fileName, userID string) (*domain.ImportBatch, error) {
					b, _ := io.ReadAll(r)
					gotName, gotUser, gotBody = fileName, userID, string(b)
					return tt.batch, tt.err
				},
			}, zerolog.Nop())

			req := multipartRequest(t, "/api/imports/bank-csv", "statement.csv", "text/csv", []byte("date,description,amount\n"))
			rec := serve(h.ImportBankCSV, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.wantBody)
			}
			if gotName != "statement.csv" || gotUser != testUser || gotBody != "date,description,amount\n" {
				t.Errorf("importer got (%q, %q, %q)", gotName, gotUser, gotBody)
			}
		})
	}
}

func TestImportBankCSVMissingFile(t *testing.T) {
	h := NewImportsHandler(&mockImporter{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/imports/bank-csv", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	req.Header.Set(middleware.UserIDHeader, testUser)
	rec := serve(h.ImportBankCSV, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetBatch(t *testing.T) {
	tests := []struct {
		name       string
		batch      *domain.ImportBatch
		err        error
		wantStatus int
	}{
		{"own batch", &domain.ImportBatch{ID: "b1", UserID: testUser, Status: domain.BatchCompleted}, nil, http.StatusOK},
		{"other user's batch", &domain.ImportBatch{ID: "b1", UserID: "someone-else"}, nil, http.StatusNotFound},
		{"missing", nil, fmt.Errorf("GetBatch: %w", domain.ErrNotFound), http.StatusNotFound},
		{"store error", nil, errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewImportsHandler(&mockImporter{
				GetBatchFunc: func(ctx context.Context, id string) (*domain.ImportBatch, error) { return tt.batch, tt.err },
			}, zerolog.Nop())

			req := httptest.NewRequest(http.MethodGet, "/api/imports/b1", nil)
			req.Header.Set(middleware.UserIDHeader, testUser)
			rec := serve(func(w http.ResponseWriter, r *http.Request) { h.GetBatch(w, r, "b1") }, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestUploadInvoiceInline(t *testing.T) {
	failed := &domain.Invoice{ID: "inv-f", Status: domain.InvoiceFailed}

	tests := []struct {
		name       string
		inv        *domain.Invoice
		err        error
		wantStatus int
		wantBody   string
	}{
		{"completed", &domain.Invoice{ID: "inv-1", Status: domain.InvoiceCompleted}, nil, http.StatusOK, `"status":"COMPLETED"`},
		{"validation", nil, &pipeline.ValidationError{Message: "file is empty"}, http.StatusBadRequest, "file is empty"},
		{"pipeline failure", failed, errors.New("failed to process invoice: timeout"), http.StatusInternalServerError, `"status":"FAILED"`},
		{"failure before invoice", nil, errors.New("db down"), http.StatusInternalServerError, `"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got pipeline.Upload
			h := NewInvoicesHandler(&mockProcessor{
				UploadFunc: func(ctx context.Context, upload pipeline.Upload, userID string) (*domain.Invoice, error) {
					got = upload
					return tt.inv, tt.err
				},
			}, nil, zerolog.Nop())

			req := multipartRequest(t, "/api/invoices/upload", "receipt.png", "image/png", []byte("png-bytes"))
			rec := serve(h.UploadInvoice, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.wantBody)
			}
			if got.FileName != "receipt.png" || got.ContentType != "image/png" || string(got.Data) != "png-bytes" {
				t.Errorf("processor got %+v", got)
			}
		})
	}
}

func TestUploadInvoiceAsync(t *testing.T) {
	inv := &domain.Invoice{
		ID:         "inv-1",
		UserID:     testUser,
		Status:     domain.InvoiceProcessing,
		Attachment: &domain.Attachment{StorageKey: "invoices/abc.png", FileType: "image/png"},
	}
	batch := &domain.ImportBatch{ID: "batch-1"}

	t.Run("enqueued", func(t *testing.T) {
		var published *jobs.ProcessInvoiceJob
		h := NewInvoicesHandler(&mockProcessor{
			AcceptFunc: func(ctx context.Context, upload pipeline.Upload, userID string) (*domain.Invoice, *domain.ImportBatch, error) {
				return inv, batch, nil
			},
		}, &mockPublisher{PublishFunc: func(ctx context.Context, job *jobs.ProcessInvoiceJob) error {
			published = job
			job.JobID = "job-1"
			return nil
		}}, zerolog.Nop())

		rec := serve(h.UploadInvoice, multipartRequest(t, "/api/invoices/upload", "receipt.png", "image/png", []byte("x")))

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}
		if rec.Header().Get("Location") != "/api/invoices/inv-1" {
			t.Errorf("Location = %q", rec.Header().Get("Location"))
		}
		if published == nil {
			t.Fatal("no job published")
		}
		want := jobs.ProcessInvoiceJob{JobID: "job-1", InvoiceID: "inv-1", BatchID: "batch-1", UserID: testUser, StorageKey: "invoices/abc.png", ContentType: "image/png"}
		if *published != want {
			t.Errorf("published = %+v, want %+v", *published, want)
		}
	})

	t.Run("publish failure", func(t *testing.T) {
		h := NewInvoicesHandler(&mockProcessor{
			AcceptFunc: func(ctx context.Context, upload pipeline.Upload, userID string) (*domain.Invoice, *domain.ImportBatch, error) {
				return inv, batch, nil
			},
		}, &mockPublisher{PublishFunc: func(ctx context.Context, job *jobs.ProcessInvoiceJob) error {
			return errors.New("queue is closed")
		}}, zerolog.Nop())

		rec := serve(h.UploadInvoice, multipartRequest(t, "/api/invoices/upload", "receipt.png", "image/png", []byte("x")))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		h := NewInvoicesHandler(&mockProcessor{
			AcceptFunc: func(ctx context.Context, upload pipeline.Upload, userID string) (*domain.Invoice, *domain.ImportBatch, error) {
				return nil, nil, &pipeline.ValidationError{Message: "only image and PDF files are supported"}
			},
		}, &mockPublisher{PublishFunc: func(ctx context.Context, job *jobs.ProcessInvoiceJob) error {
			t.Error("publish called for rejected upload")
			return nil
		}}, zerolog.Nop())

		rec := serve(h.UploadInvoice, multipartRequest(t, "/api/invoices/upload", "notes.txt", "text/plain", []byte("x")))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestGetInvoice(t *testing.T) {
	tests := []struct {
		name       string
		inv        *domain.Invoice
		err        error
		wantStatus int
	}{
		{"own invoice", &domain.Invoice{ID: "inv-1", UserID: testUser, Status: domain.InvoiceReviewRequired}, nil, http.StatusOK},
		{"other user's invoice", &domain.Invoice{ID: "inv-1", UserID: "x"}, nil, http.StatusNotFound},
		{"missing", nil, fmt.Errorf("GetInvoice: %w", domain.ErrNotFound), http.StatusNotFound},
		{"store error", nil, errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewInvoicesHandler(&mockProcessor{
				GetFunc: func(ctx context.Context, id string) (*domain.Invoice, error) { return tt.inv, tt.err },
			}, nil, zerolog.Nop())

			req := httptest.NewRequest(http.MethodGet, "/api/invoices/inv-1", nil)
			req.Header.Set(middleware.UserIDHeader, testUser)
			rec := serve(func(w http.ResponseWriter, r *http.Request) { h.GetInvoice(w, r, "inv-1") }, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestJobsHandler(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	_ = store.SaveJob(ctx, &jobs.ProcessInvoiceJob{JobID: "j1", InvoiceID: "inv-1", UserID: testUser, Status: jobs.JobStatusCompleted})
	_ = store.SaveJob(ctx, &jobs.ProcessInvoiceJob{JobID: "j2", InvoiceID: "inv-2", UserID: "other", Status: jobs.JobStatusCompleted})

	h := NewJobsHandler(store, zerolog.Nop())

	t.Run("list own jobs", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/jobs?status=completed", nil)
		req.Header.Set(middleware.UserIDHeader, testUser)
		rec := serve(h.ListJobs, req)

		var body struct {
			Jobs  []jobs.ProcessInvoiceJob `json:"jobs"`
			Count int                      `json:"count"`
		}
		decode(t, rec, &body)
		if body.Count != 1 || body.Jobs[0].JobID != "j1" {
			t.Errorf("ListJobs() = %+v", body)
		}
	})

	for _, tt := range []struct {
		id         string
		wantStatus int
	}{
		{"j1", http.StatusOK},
		{"j2", http.StatusNotFound},
		{"missing", http.StatusNotFound},
	} {
		t.Run("get "+tt.id, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+tt.id, nil)
			req.Header.Set(middleware.UserIDHeader, testUser)
			rec := serve(func(w http.ResponseWriter, r *http.Request) { h.GetJob(w, r, tt.id) }, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
