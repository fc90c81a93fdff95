// -----------------------------------------------------------------------
// Object Codec - domain record <-> five-column row
// -----------------------------------------------------------------------

package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jezel/internal/models"
	"github.com/ternarybob/jezel/internal/storage/sqlite"
)

// Codec translates records to rows and back. On disk: dsmall holds the
// type tag, dmedium the JSON tag map, dlarge the camelCase JSON payload
// with null values omitted.
type Codec struct {
	registry *Registry
	logger   arbor.ILogger
}

// New creates a codec over the given registry.
func New(logger arbor.ILogger, registry *Registry) *Codec {
	return &Codec{
		registry: registry,
		logger:   logger,
	}
}

// Encode serializes a record and its tag map into a row. The row carries
// the record's id and version so the store can match on (id, ver).
func (c *Codec) Encode(rec models.Record, tags map[string]string) (sqlite.Row, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return sqlite.Row{}, fmt.Errorf("failed to encode %s: %w", rec.TypeTag(), err)
	}

	if tags == nil {
		tags = map[string]string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return sqlite.Row{}, fmt.Errorf("failed to encode tags for %s: %w", rec.TypeTag(), err)
	}

	return sqlite.Row{
		ID:      sqlite.RowID{UUID: rec.GetID().UUID()},
		Ver:     rec.GetVer(),
		DSmall:  sqlite.Str(rec.TypeTag()),
		DMedium: sqlite.Str(string(tagsJSON)),
		DLarge:  sqlite.Str(string(payload)),
	}, nil
}

// Decode deserializes a row into its registered record variant and tag
// map. Reads are tolerant: snake_case keys are accepted alongside
// camelCase and string values are trimmed.
func (c *Codec) Decode(row sqlite.Row) (models.Record, map[string]string, error) {
	if row.DSmall == nil || row.DLarge == nil {
		return nil, nil, fmt.Errorf("cannot decode row %s: type or payload column not loaded", row.ID)
	}

	factory, err := c.registry.Resolve(*row.DSmall)
	if err != nil {
		return nil, nil, err
	}
	rec := factory()

	payload, err := normalizePayload([]byte(*row.DLarge))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to normalize payload for %s: %w", *row.DSmall, err)
	}
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", *row.DSmall, err)
	}

	rec.SetID(models.ID(row.ID.UUID))
	rec.SetVer(row.Ver)

	tags := map[string]string{}
	if row.DMedium != nil && *row.DMedium != "" {
		if err := json.Unmarshal([]byte(*row.DMedium), &tags); err != nil {
			return nil, nil, fmt.Errorf("failed to decode tags for %s: %w", *row.DSmall, err)
		}
	}

	return rec, tags, nil
}

// DecodeTags reads only the tag map of a row.
func (c *Codec) DecodeTags(row sqlite.Row) (map[string]string, error) {
	tags := map[string]string{}
	if row.DMedium == nil || *row.DMedium == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(*row.DMedium), &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return tags, nil
}

// normalizePayload rewrites snake_case keys to camelCase and trims string
// values so the struct unmarshal sees canonical input.
func normalizePayload(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeValue(v))
}

func normalizeValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[snakeToCamel(k)] = normalizeValue(val)
		}
		return out
	case []any:
		for i := range vv {
			vv[i] = normalizeValue(vv[i])
		}
		return vv
	case string:
		return strings.TrimSpace(vv)
	default:
		return v
	}
}

func snakeToCamel(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	parts := strings.Split(key, "_")
	var sb strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if sb.Len() == 0 && i == 0 {
			sb.WriteString(p)
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]))
		sb.WriteString(p[1:])
	}
	return sb.String()
}
