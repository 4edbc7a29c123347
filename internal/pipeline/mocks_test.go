package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/dvloznov/expense-ingest/internal/llm"
	"github.com/dvloznov/expense-ingest/internal/preview"
)

// events records the order in which collaborators were called.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, name)
}

func (e *events) index(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, n := range e.list {
		if n == name {
			return i
		}
	}
	return -1
}

type mockInvoiceRepository struct {
	ev *events

	CreateInvoiceFunc func(ctx context.Context, inv *domain.Invoice) error
	UpdateInvoiceFunc func(ctx context.Context, inv *domain.Invoice) error

	invoices    map[string]domain.Invoice
	attachments []domain.Attachment
	updates     []domain.Invoice
}

func newMockInvoiceRepository(ev *events) *mockInvoiceRepository {
	return &mockInvoiceRepository{ev: ev, invoices: map[string]domain.Invoice{}}
}

func (m *mockInvoiceRepository) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	m.ev.add("CreateInvoice")
	if m.CreateInvoiceFunc != nil {
		if err := m.CreateInvoiceFunc(ctx, inv); err != nil {
			return err
		}
	}
	m.invoices[inv.ID] = *inv
	return nil
}

func (m *mockInvoiceRepository) SaveAttachment(ctx context.Context, att *domain.Attachment) error {
	m.ev.add("SaveAttachment")
	m.attachments = append(m.attachments, *att)
	inv := m.invoices[att.InvoiceID]
	a := *att
	inv.Attachment = &a
	m.invoices[att.InvoiceID] = inv
	return nil
}

func (m *mockInvoiceRepository) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	m.ev.add("UpdateInvoice")
	if m.UpdateInvoiceFunc != nil {
		if err := m.UpdateInvoiceFunc(ctx, inv); err != nil {
			return err
		}
	}
	m.updates = append(m.updates, *inv)
	m.invoices[inv.ID] = *inv
	return nil
}

func (m *mockInvoiceRepository) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &inv, nil
}

type mockBatchRecorder struct {
	created []domain.ImportBatch
	updated []domain.ImportBatch
}

func (m *mockBatchRecorder) CreateBatch(ctx context.Context, batch *domain.ImportBatch) error {
	m.created = append(m.created, *batch)
	return nil
}

func (m *mockBatchRecorder) UpdateBatch(ctx context.Context, batch *domain.ImportBatch) error {
	m.updated = append(m.updated, *batch)
	return nil
}

func (m *mockBatchRecorder) GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error) {
	for i := len(m.updated) - 1; i >= 0; i-- {
		if m.updated[i].ID == id {
			b := m.updated[i]
			return &b, nil
		}
	}
	for _, b := range m.created {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockBatchRecorder) last() domain.ImportBatch {
	return m.updated[len(m.updated)-1]
}

type mockCategoryLookup struct {
	AvailableCategoriesFunc func(ctx context.Context, userID string, kind domain.CategoryType) ([]domain.Category, error)
}

func (m *mockCategoryLookup) AvailableCategories(ctx context.Context, userID string, kind domain.CategoryType) ([]domain.Category, error) {
	if m.AvailableCategoriesFunc != nil {
		return m.AvailableCategoriesFunc(ctx, userID, kind)
	}
	return nil, nil
}

type mockStore struct {
	ev *events

	StoreFunc func(ctx context.Context, data []byte, folder, fileName, contentType string) (string, error)
	URLFunc   func(ctx context.Context, key string) (string, error)

	objects map[string][]byte
	n       int
}

func newMockStore(ev *events) *mockStore {
	return &mockStore{ev: ev, objects: map[string][]byte{}}
}

func (m *mockStore) Store(ctx context.Context, data []byte, folder, fileName, contentType string) (string, error) {
	m.ev.add("Store:" + folder)
	if m.StoreFunc != nil {
		return m.StoreFunc(ctx, data, folder, fileName, contentType)
	}
	m.n++
	key := fmt.Sprintf("%s/object-%d", folder, m.n)
	m.objects[key] = data
	return key, nil
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (m *mockStore) URL(ctx context.Context, key string) (string, error) {
	if m.URLFunc != nil {
		return m.URLFunc(ctx, key)
	}
	return "https://storage.test/" + key, nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *mockStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

type mockTextExtractor struct {
	ev   *events
	text string
}

func (m *mockTextExtractor) ExtractText(ctx context.Context, data []byte, contentType string) string {
	m.ev.add("ExtractText")
	return m.text
}

type mockProvider struct {
	ev *events

	AnalyzeInvoiceFunc func(ctx context.Context, document []byte, ocrText string) (*llm.AnalysisResult, error)

	gotText string
}

func (m *mockProvider) AnalyzeInvoice(ctx context.Context, document []byte, ocrText string) (*llm.AnalysisResult, error) {
	m.ev.add("AnalyzeInvoice")
	m.gotText = ocrText
	if m.AnalyzeInvoiceFunc != nil {
		return m.AnalyzeInvoiceFunc(ctx, document, ocrText)
	}
	return &llm.AnalysisResult{}, nil
}

func (m *mockProvider) ProcessQuery(ctx context.Context, text, userID string) (string, error) {
	return "", nil
}

func (m *mockProvider) Name() string { return "Mock" }

type mockPreviewer struct {
	InspectFunc func(data []byte, contentType string) (*preview.Preview, error)
}

func (m *mockPreviewer) Inspect(data []byte, contentType string) (*preview.Preview, error) {
	return m.InspectFunc(data, contentType)
}
