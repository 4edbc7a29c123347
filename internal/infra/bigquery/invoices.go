package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-ingest/internal/domain"
)

const (
	invoicesTable    = "invoices"
	lineItemsTable   = "invoice_line_items"
	attachmentsTable = "invoice_attachments"
)

// InvoiceRepository stores invoices, line items and attachments in BigQuery.
type InvoiceRepository struct {
	c *Client
}

// NewInvoiceRepository creates an InvoiceRepository on a shared client.
func NewInvoiceRepository(c *Client) *InvoiceRepository {
	return &InvoiceRepository{c: c}
}

// CreateInvoice inserts the invoice header.
func (r *InvoiceRepository) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	params, err := invoiceParams(inv)
	if err != nil {
		return fmt.Errorf("CreateInvoice: %w", err)
	}
	_, err = r.c.exec(ctx, "CreateInvoice", fmt.Sprintf(`
		INSERT INTO %s (
			invoice_id, user_id, vendor_name, invoice_number, invoice_ts, due_ts,
			total_amount, tax_amount, currency, category_id, subcategory_id,
			payment_method, status, confidence, extracted_data,
			processed_ts, created_ts, updated_ts
		)
		VALUES (
			@invoice_id, @user_id, @vendor_name, @invoice_number, @invoice_ts, @due_ts,
			CAST(@total_amount AS NUMERIC), CAST(@tax_amount AS NUMERIC), @currency, @category_id, @subcategory_id,
			@payment_method, @status, CAST(@confidence AS NUMERIC), SAFE.PARSE_JSON(@extracted_data),
			@processed_ts, @created_ts, @updated_ts
		)
	`, r.c.table(invoicesTable)), params...)
	return err
}

// SaveAttachment replaces the attachment row with the same id.
func (r *InvoiceRepository) SaveAttachment(ctx context.Context, att *domain.Attachment) error {
	table := r.c.table(attachmentsTable)
	_, err := r.c.exec(ctx, "SaveAttachment", fmt.Sprintf(`
		BEGIN TRANSACTION;
		DELETE FROM %s WHERE attachment_id = @attachment_id;
		INSERT INTO %s (
			attachment_id, invoice_id, file_name, file_type, file_size,
			storage_key, storage_url, thumbnail_key, thumbnail_url,
			width, height, page_count, created_ts
		)
		VALUES (
			@attachment_id, @invoice_id, @file_name, @file_type, @file_size,
			@storage_key, @storage_url, @thumbnail_key, @thumbnail_url,
			@width, @height, @page_count, @created_ts
		);
		COMMIT TRANSACTION;
	`, table, table), attachmentParams(att)...)
	return err
}

// UpdateInvoice overwrites the header and replaces all line items in one
// multi-statement transaction.
func (r *InvoiceRepository) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	params, err := invoiceParams(inv)
	if err != nil {
		return fmt.Errorf("UpdateInvoice: %w", err)
	}

	script := fmt.Sprintf(`
		BEGIN TRANSACTION;
		UPDATE %s
		SET vendor_name = @vendor_name,
		    invoice_number = @invoice_number,
		    invoice_ts = @invoice_ts,
		    due_ts = @due_ts,
		    total_amount = CAST(@total_amount AS NUMERIC),
		    tax_amount = CAST(@tax_amount AS NUMERIC),
		    currency = @currency,
		    category_id = @category_id,
		    subcategory_id = @subcategory_id,
		    payment_method = @payment_method,
		    status = @status,
		    confidence = CAST(@confidence AS NUMERIC),
		    extracted_data = SAFE.PARSE_JSON(@extracted_data),
		    processed_ts = @processed_ts,
		    updated_ts = @updated_ts
		WHERE invoice_id = @invoice_id;
		DELETE FROM %s WHERE invoice_id = @invoice_id;
	`, r.c.table(invoicesTable), r.c.table(lineItemsTable))

	if len(inv.LineItems) > 0 {
		items := make([]lineItemParam, 0, len(inv.LineItems))
		for i, li := range inv.LineItems {
			items = append(items, newLineItemParam(li, inv.ID, i))
		}
		params = append(params, bigquery.QueryParameter{Name: "items", Value: items})
		script += fmt.Sprintf(`
		INSERT INTO %s (
			line_item_id, invoice_id, position, description,
			quantity, unit_price, total_price, category, sku
		)
		SELECT
			line_item_id, invoice_id, position, description,
			CAST(quantity AS NUMERIC), CAST(unit_price AS NUMERIC), CAST(total_price AS NUMERIC),
			NULLIF(category, ''), NULLIF(sku, '')
		FROM UNNEST(@items);
	`, r.c.table(lineItemsTable))
	}
	script += "COMMIT TRANSACTION;"

	if _, err := r.c.exec(ctx, "UpdateInvoice", script, params...); err != nil {
		return fmt.Errorf("UpdateInvoice: invoice %s: %w", inv.ID, err)
	}
	return nil
}

// GetInvoice loads an invoice with its line items in order and its attachment.
func (r *InvoiceRepository) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	idParam := bigquery.QueryParameter{Name: "invoice_id", Value: id}

	headers, err := query[invoiceRow](ctx, r.c, "GetInvoice", fmt.Sprintf(`
		SELECT
			invoice_id, user_id, vendor_name, invoice_number, invoice_ts, due_ts,
			CAST(total_amount AS STRING) AS total_amount,
			CAST(tax_amount AS STRING) AS tax_amount,
			currency, category_id, subcategory_id, payment_method, status,
			CAST(confidence AS STRING) AS confidence,
			TO_JSON_STRING(extracted_data) AS extracted_data,
			processed_ts, created_ts, updated_ts
		FROM %s
		WHERE invoice_id = @invoice_id
		LIMIT 1
	`, r.c.table(invoicesTable)), idParam)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("GetInvoice: invoice %s: %w", id, domain.ErrNotFound)
	}
	inv, err := headers[0].toDomain()
	if err != nil {
		return nil, fmt.Errorf("GetInvoice: %w", err)
	}

	items, err := query[lineItemParam](ctx, r.c, "GetInvoice", fmt.Sprintf(`
		SELECT
			line_item_id, invoice_id, position, description,
			CAST(quantity AS STRING) AS quantity,
			CAST(unit_price AS STRING) AS unit_price,
			CAST(total_price AS STRING) AS total_price,
			IFNULL(category, '') AS category,
			IFNULL(sku, '') AS sku
		FROM %s
		WHERE invoice_id = @invoice_id
		ORDER BY position
	`, r.c.table(lineItemsTable)), idParam)
	if err != nil {
		return nil, err
	}
	for i := range items {
		li, err := items[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("GetInvoice: %w", err)
		}
		inv.LineItems = append(inv.LineItems, li)
	}

	atts, err := query[attachmentRow](ctx, r.c, "GetInvoice", fmt.Sprintf(`
		SELECT
			attachment_id, invoice_id, file_name, file_type, file_size,
			storage_key, storage_url, thumbnail_key, thumbnail_url,
			width, height, page_count, created_ts
		FROM %s
		WHERE invoice_id = @invoice_id
		ORDER BY created_ts DESC
		LIMIT 1
	`, r.c.table(attachmentsTable)), idParam)
	if err != nil {
		return nil, err
	}
	if len(atts) > 0 {
		inv.Attachment = atts[0].toDomain()
	}

	return inv, nil
}

// FailStaleInvoices fails every invoice still PROCESSING that was created before cutoff.
func (r *InvoiceRepository) FailStaleInvoices(ctx context.Context, cutoff, now time.Time) (int64, error) {
	return r.c.exec(ctx, "FailStaleInvoices", fmt.Sprintf(`
		UPDATE %s
		SET status = @failed,
		    processed_ts = @now,
		    updated_ts = @now
		WHERE status = @processing
		  AND created_ts < @cutoff
	`, r.c.table(invoicesTable)),
		bigquery.QueryParameter{Name: "failed", Value: string(domain.InvoiceFailed)},
		bigquery.QueryParameter{Name: "processing", Value: string(domain.InvoiceProcessing)},
		bigquery.QueryParameter{Name: "now", Value: now},
		bigquery.QueryParameter{Name: "cutoff", Value: cutoff},
	)
}
