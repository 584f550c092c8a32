// Package documents reads the document snapshots that the operational modules
// publish for posting.
package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
	"github.com/odyssey-erp/odyssey-sync/internal/platform/db"
)

// Store is the Postgres backed integration.DocumentSource.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ integration.DocumentSource = (*Store)(nil)

const headerQuery = `
	SELECT number, doc_date, due_date, currency, reference, memo,
	       party_code, party_name, party_email, party_phone, party_tax_number, party_address
	FROM document_snapshots
	WHERE tenant_id = $1 AND doc_type = $2 AND doc_id = $3`

const linesQuery = `
	SELECT sku, description, quantity::text, unit_price::text, tax_rate::text, account_code, warehouse_code
	FROM document_snapshot_lines
	WHERE tenant_id = $1 AND doc_type = $2 AND doc_id = $3
	ORDER BY line_no`

// Load returns the snapshot of one document. Missing documents report
// integration.ErrNotFound.
func (s *Store) Load(ctx context.Context, tenantID int64, docType integration.DocType, docID string) (integration.Document, error) {
	doc := integration.Document{TenantID: tenantID, DocType: docType, DocID: docID}

	var (
		date, due                        *time.Time
		partyCode, partyName             *string
		partyEmail, partyPhone, partyTax *string
		address                          []byte
	)
	err := s.pool.QueryRow(ctx, headerQuery, tenantID, string(docType), docID).Scan(
		&doc.Number, &date, &due, &doc.Currency, &doc.Reference, &doc.Memo,
		&partyCode, &partyName, &partyEmail, &partyPhone, &partyTax, &address,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return doc, fmt.Errorf("%s %s: %w", docType, docID, integration.ErrNotFound)
	}
	if err != nil {
		return doc, fmt.Errorf("documents: load header: %w", err)
	}
	if date != nil {
		doc.Date = date.UTC()
	}
	doc.DueDate = due
	if partyCode != nil {
		party := &integration.Party{
			Code:      *partyCode,
			Name:      deref(partyName),
			Email:     deref(partyEmail),
			Phone:     deref(partyPhone),
			TaxNumber: deref(partyTax),
		}
		if len(address) > 0 {
			if err := json.Unmarshal(address, &party.Address); err != nil {
				return doc, fmt.Errorf("documents: decode address: %w", err)
			}
		}
		doc.Party = party
	}

	if docType.IsParty() {
		return doc, nil
	}
	rows, err := s.pool.Query(ctx, linesQuery, tenantID, string(docType), docID)
	if err != nil {
		return doc, fmt.Errorf("documents: load lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line                integration.DocumentLine
			qty, price, taxRate string
		)
		if err := rows.Scan(&line.SKU, &line.Description, &qty, &price, &taxRate, &line.AccountCode, &line.WarehouseCode); err != nil {
			return doc, fmt.Errorf("documents: scan line: %w", err)
		}
		if line.Quantity, err = decimal.NewFromString(qty); err != nil {
			return doc, fmt.Errorf("documents: quantity: %w", err)
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return doc, fmt.Errorf("documents: unit price: %w", err)
		}
		if line.TaxRate, err = decimal.NewFromString(taxRate); err != nil {
			return doc, fmt.Errorf("documents: tax rate: %w", err)
		}
		doc.Lines = append(doc.Lines, line)
	}
	return doc, rows.Err()
}

// Save replaces the snapshot of doc.
func (s *Store) Save(ctx context.Context, doc integration.Document) error {
	if !doc.DocType.IsValid() || doc.DocID == "" || doc.TenantID <= 0 {
		return &integration.ValidationError{Field: "document", Reason: "tenant, docType and docId are required"}
	}
	var (
		partyCode, partyName, partyEmail, partyPhone, partyTax *string
		address                                                []byte
		date                                                   *time.Time
	)
	if !doc.Date.IsZero() {
		date = &doc.Date
	}
	if p := doc.Party; p != nil {
		partyCode, partyName, partyEmail = &p.Code, &p.Name, &p.Email
		partyPhone, partyTax = &p.Phone, &p.TaxNumber
		raw, err := json.Marshal(p.Address)
		if err != nil {
			return fmt.Errorf("documents: encode address: %w", err)
		}
		address = raw
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO document_snapshots (
				tenant_id, doc_type, doc_id, number, doc_date, due_date, currency, reference, memo,
				party_code, party_name, party_email, party_phone, party_tax_number, party_address, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
			ON CONFLICT (tenant_id, doc_type, doc_id) DO UPDATE SET
				number = EXCLUDED.number, doc_date = EXCLUDED.doc_date, due_date = EXCLUDED.due_date,
				currency = EXCLUDED.currency, reference = EXCLUDED.reference, memo = EXCLUDED.memo,
				party_code = EXCLUDED.party_code, party_name = EXCLUDED.party_name,
				party_email = EXCLUDED.party_email, party_phone = EXCLUDED.party_phone,
				party_tax_number = EXCLUDED.party_tax_number, party_address = EXCLUDED.party_address,
				updated_at = NOW()`,
			doc.TenantID, string(doc.DocType), doc.DocID, doc.Number, date, doc.DueDate, doc.Currency,
			doc.Reference, doc.Memo, partyCode, partyName, partyEmail, partyPhone, partyTax, address,
		)
		if err != nil {
			return fmt.Errorf("documents: upsert header: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM document_snapshot_lines WHERE tenant_id = $1 AND doc_type = $2 AND doc_id = $3`,
			doc.TenantID, string(doc.DocType), doc.DocID); err != nil {
			return fmt.Errorf("documents: clear lines: %w", err)
		}
		batch := &pgx.Batch{}
		for i, line := range doc.Lines {
			batch.Queue(`
				INSERT INTO document_snapshot_lines (
					tenant_id, doc_type, doc_id, line_no, sku, description, quantity, unit_price, tax_rate,
					account_code, warehouse_code
				) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11)`,
				doc.TenantID, string(doc.DocType), doc.DocID, i+1, line.SKU, line.Description,
				line.Quantity.String(), line.UnitPrice.String(), line.TaxRate.String(),
				line.AccountCode, line.WarehouseCode,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("documents: insert lines: %w", err)
		}
		return nil
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
