package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

const codeSeparator = ", "

// GetInstitution loads an institution by id. It returns catalog.ErrNotFound
// when no row exists.
func (s *Store) GetInstitution(ctx context.Context, id int) (catalog.Institution, error) {
	query := `
		SELECT id, abbrv, name, COALESCE(hostname, ''), COALESCE(doc_codes, ''), COALESCE(resource_types, '')
		FROM institution
		WHERE id = $1;
	`
	var (
		inst          catalog.Institution
		docCodes      string
		resourceTypes string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&inst.ID,
		&inst.Abbrev,
		&inst.Name,
		&inst.Hostname,
		&docCodes,
		&resourceTypes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Institution{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Institution{}, fmt.Errorf("get institution %d: %w", id, err)
	}
	inst.DocCodes = splitCodes(docCodes)
	inst.ResourceTypes = splitCodes(resourceTypes)
	return inst, nil
}

// CreateInstitution inserts an institution. An existing row with the same id
// is left unchanged.
func (s *Store) CreateInstitution(ctx context.Context, inst catalog.Institution) error {
	query := `
		INSERT INTO institution (id, abbrv, name, hostname, doc_codes, resource_types)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, query,
		inst.ID,
		inst.Abbrev,
		inst.Name,
		inst.Hostname,
		strings.Join(inst.DocCodes, codeSeparator),
		strings.Join(inst.ResourceTypes, codeSeparator),
	)
	if err != nil {
		return fmt.Errorf("create institution %d: %w", inst.ID, err)
	}
	return nil
}

func splitCodes(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
