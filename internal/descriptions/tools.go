package descriptions

// Tool descriptions shown to MCP clients, with examples and workflows

const (
	ClassifyPDFDescription = `Classify every line item of a Japanese estimate or invoice PDF as capital-like, expense-like, or needing human review.

**When to use:** You have a 見積書 / 請求書 PDF and need to know which purchases are likely fixed assets (資産計上) and which are expenses (費用処理).

**How it works:** Text and tables are extracted (vision model, document AI, local parser, then OCR for thin pages), line items are parsed, subtotal/tax/total rows are dropped, and each item is classified by keyword rules, the loaded policy, and Japanese depreciation amount thresholds.

**Examples:**
• "Classify /data/quotes/server-room.pdf and tell me which rows to capitalise"
• "Run capex_classify_pdf on invoice-2025-04.pdf and export the result to review.xlsx"

**Reading the result:** classification is CAPITAL_LIKE, EXPENSE_LIKE or GUIDANCE. GUIDANCE means the engine declined to decide; the flags explain why (mixed_keyword:*, conflicting_keywords, no_keywords, policy:*). tax_rule:* flags annotate the item's own amount and never change the classification.

**Best practices:** Check the warnings list: TEXT_TOO_SHORT pages may be scans whose OCR failed, and STRATEGY_UNAVAILABLE shows which backends were skipped.`

	ExtractPDFDescription = `Extract pages, text and tables from a PDF without classifying anything.

**When to use:** Debugging a classification, checking what text the parser saw, or feeding the extraction into your own tooling.

**Output:** meta (extraction id, sha256, page count, source: local/ocr/docai/vision/mixed, warnings) and one entry per page with method, text, tables and evidence snippets. Vision extraction may also return line_items directly.

**Examples:**
• "Show me the raw text capex_extract_pdf gets from scan.pdf"
• "Which pages of quote.pdf needed OCR?"`

	ClassifyJSONDescription = `Classify a document that is already structured as JSON.

**When to use:** Line items came from another system, were edited by hand, or you want to re-classify a previous result under the current policy.

**Input:** a JSON object with line_items (each with description or 品名/摘要/内容, optional quantity, unit_price, amount) and optional document_info, vendor and totals. Summary rows (小計, 消費税, 合計, 値引 ...) are dropped and line numbers are reassigned.

**Examples:**
• {"line_items": [{"description": "サーバー設置工事", "amount": 500000}]}
• Re-run a saved capex_classify_pdf document after changing the policy file

**Best practices:** Pass amounts as numbers; numeric strings such as "1,000" are not coerced and are treated as missing.`

	ServerInfoDescription = `Get server information: version, enabled extraction strategies, OCR settings, and the active policy.

**When to use:** Before a session, to learn whether vision, document AI and OCR are available and which policy keywords are in force.`
)
