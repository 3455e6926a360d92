package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Record kinds, also used as the mirror's kind column.
const (
	KindCoffeeOrder   = "coffee_order"
	KindShoppingOrder = "shopping_order"
	KindLead          = "lead"
)

const timestampLayout = "20060102_150405"

// kindDirs maps each kind to its directory under the store root.
var kindDirs = map[string]string{
	KindCoffeeOrder:   "orderlist",
	KindShoppingOrder: "orders",
	KindLead:          "leads",
}

// Kinds returns the record kinds in a fixed order.
func Kinds() []string {
	return []string{KindCoffeeOrder, KindShoppingOrder, KindLead}
}

// CoffeeOrder is a barista order.
type CoffeeOrder struct {
	DrinkType string   `json:"drinkType"`
	Size      string   `json:"size"`
	Milk      string   `json:"milk"`
	Extras    []string `json:"extras"`
	Name      string   `json:"name"`
}

// Lead is a qualified sales prospect.
type Lead struct {
	Name      string `json:"name"`
	Company   string `json:"company"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	UseCase   string `json:"use_case"`
	TeamSize  string `json:"team_size"`
	Timeline  string `json:"timeline"`
	CreatedAt string `json:"created_at"`
}

// OrderItem is one line of a shopping order.
type OrderItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Qty      int     `json:"qty"`
	Price    float64 `json:"price"`
	Subtotal float64 `json:"subtotal"`
}

// ShoppingOrder is a placed grocery order.
type ShoppingOrder struct {
	CustomerName string      `json:"customer_name"`
	Address      string      `json:"address"`
	Items        []OrderItem `json:"items"`
	Total        float64     `json:"total"`
	Timestamp    string      `json:"timestamp"`
}

// FileStore writes each record once, as indented JSON, under a per-kind
// directory. A name collision within the same second gets a numeric suffix.
type FileStore struct {
	dir    string
	mirror *SQLiteMirror
	now    func() time.Time
	mu     sync.Mutex
}

// NewFileStore creates the records root. mirror may be nil.
func NewFileStore(dir string, mirror *SQLiteMirror) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}
	return &FileStore{dir: dir, mirror: mirror, now: time.Now}, nil
}

// Dir returns the records root.
func (s *FileStore) Dir() string {
	return s.dir
}

// Mirror returns the attached index, or nil.
func (s *FileStore) Mirror() *SQLiteMirror {
	return s.mirror
}

// SaveCoffeeOrder writes orderlist/order_<ts>.json.
func (s *FileStore) SaveCoffeeOrder(ctx context.Context, order CoffeeOrder) (string, error) {
	if order.Extras == nil {
		order.Extras = []string{}
	}
	return s.save(ctx, KindCoffeeOrder, kindDirs[KindCoffeeOrder], "order", order)
}

// SaveShoppingOrder writes orders/order_<ts>.json.
func (s *FileStore) SaveShoppingOrder(ctx context.Context, order ShoppingOrder) (string, error) {
	if order.Items == nil {
		order.Items = []OrderItem{}
	}
	if order.Timestamp == "" {
		order.Timestamp = s.now().Format(time.RFC3339)
	}
	return s.save(ctx, KindShoppingOrder, kindDirs[KindShoppingOrder], "order", order)
}

// SaveLead writes leads/lead_<ts>.json.
func (s *FileStore) SaveLead(ctx context.Context, lead Lead) (string, error) {
	if lead.CreatedAt == "" {
		lead.CreatedAt = s.now().Format("2006-01-02T15:04:05")
	}
	return s.save(ctx, KindLead, kindDirs[KindLead], "lead", lead)
}

func (s *FileStore) save(ctx context.Context, kind, subdir, prefix string, record interface{}) (path string, err error) {
	ctx, span := tracing.StartSpan(ctx, "voicedesk.records", "records.save",
		attribute.String("record.kind", kind),
	)
	defer span.End()
	defer func() {
		if err != nil {
			tracing.FailSpan(span, err)
		}
		observability.RecordSaveAudit(ctx, kind, tracing.GetSessionKey(ctx), path, err)
	}()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	dir := filepath.Join(s.dir, subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", subdir, err)
	}

	created := s.now()
	s.mu.Lock()
	path, err = createUnique(dir, prefix+"_"+created.Format(timestampLayout), data)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	log.Info().Str("kind", kind).Str("path", path).Msg("Record saved")

	if s.mirror != nil {
		if merr := s.mirror.Index(ctx, kind, path, created, data); merr != nil {
			log.Warn().Err(merr).Str("path", path).Msg("Failed to index record")
		}
	}
	return path, nil
}

// List returns the record files of one kind, newest name first. A kind with
// no records yet gives an empty list.
func (s *FileStore) List(kind string) ([]string, error) {
	subdir, ok := kindDirs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind: %s", kind)
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, subdir))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", kind, err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, subdir, e.Name()))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

// writeRecord writes a record body; tests swap it to simulate a full disk.
var writeRecord = func(w io.Writer, data []byte) (int, error) {
	return w.Write(data)
}

// createUnique writes data to base.json, or base_2.json, base_3.json and so
// on when earlier names are taken.
func createUnique(dir, base string, data []byte) (string, error) {
	for n := 1; n < 1000; n++ {
		name := base + ".json"
		if n > 1 {
			name = fmt.Sprintf("%s_%d.json", base, n)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create record file: %w", err)
		}
		if _, err := writeRecord(f, data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("failed to write record file: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("failed to close record file: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("too many records named %s", base)
}
