package llm

import "strings"

const invoicePrompt = `You are an invoice data extractor.

Task:
- Read the attached invoice or receipt and the OCR text below.
- Output STRICT JSON only: a single object, no comments, no Markdown, no code fences.

The object must have these fields (use null when a value is not present):
- "vendorName": string
- "invoiceNumber": string
- "date": string, ISO format "YYYY-MM-DD"
- "dueDate": string, ISO format "YYYY-MM-DD"
- "totalAmount": number
- "currency": string, ISO 4217 code (e.g. "USD")
- "taxAmount": number
- "suggestedCategory": string (expense category, e.g. "Food", "Travel", "Utilities")
- "suggestedSubcategory": string
- "paymentMethod": string (e.g. "card", "cash", "bank transfer")
- "vendorAddress": string
- "vendorPhone": string
- "vendorEmail": string
- "confidence": number between 0 and 1 describing how certain you are of the extraction
- "lineItems": array of objects with "description" (string), "quantity" (number),
  "unitPrice" (number), "totalPrice" (number) and "category" (string or null)

Rules:
- Amounts are plain numbers without currency symbols or thousands separators.
- Do not invent values that are not on the document; use null instead.
- Output must begin with "{" and end with "}".
`

const querySystemPrompt = "You are a helpful financial assistant. Answer questions about the user's " +
	"expenses, invoices and transactions concisely. If information is missing, say so."

func buildInvoicePrompt(ocrText string) string {
	var b strings.Builder
	b.WriteString(invoicePrompt)
	b.WriteString("\nOCR text:\n")
	if strings.TrimSpace(ocrText) == "" {
		b.WriteString("(none available, rely on the document image)\n")
	} else {
		b.WriteString(ocrText)
		b.WriteString("\n")
	}
	return b.String()
}
