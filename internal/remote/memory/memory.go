// Package memory is an in-process backend with the same behaviour as the
// hosted one for the operations the application uses. It backs local
// development and the tests of the packages above it.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gastos/internal/core"
	"gastos/internal/remote"
	"gastos/internal/resilience"
)

// DefaultTokenTTL is the lifetime of issued access tokens.
const DefaultTokenTTL = time.Hour

// foreignKeys maps an embeddable collection to the column that references it.
var foreignKeys = map[string]string{
	core.CollectionCategories:     "categoria_id",
	core.CollectionPaymentMethods: "metodo_id",
	core.CollectionUsers:          "usuario_id",
}

var _ remote.Backend = (*Store)(nil)

type row map[string]any

type account struct {
	id       core.ID
	email    string
	password string
}

type Store struct {
	mu       sync.Mutex
	tables   map[string][]row
	accounts map[string]account
	refresh  map[string]core.ID
	objects  map[string][]byte
	selects  map[string]int

	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
	latency  time.Duration
	failErr  error
	failLeft int
}

type Option func(*Store)

// WithSecret sets the HS256 key used to sign access tokens.
func WithSecret(secret string) Option {
	return func(s *Store) { s.secret = []byte(secret) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithTokenTTL(d time.Duration) Option {
	return func(s *Store) { s.tokenTTL = d }
}

func New(opts ...Option) *Store {
	s := &Store{
		tables:   map[string][]row{},
		accounts: map[string]account{},
		refresh:  map[string]core.ID{},
		objects:  map[string][]byte{},
		selects:  map[string]int{},
		secret:   []byte("memory-backend-secret"),
		tokenTTL: DefaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLatency delays every row, object and ping call by d.
func (s *Store) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// FailNext makes the next n row, object and ping calls return err. A
// negative n fails every call until FailNext(0, nil).
func (s *Store) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLeft, s.failErr = n, err
}

// Selects returns how many selects reached collection.
func (s *Store) Selects(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selects[collection]
}

// Object returns an uploaded attachment.
func (s *Store) Object(bucket, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[bucket+"/"+path]
	return b, ok
}

// enter simulates the network: latency first, then any injected failure.
func (s *Store) enter(ctx context.Context) error {
	s.mu.Lock()
	latency := s.latency
	s.mu.Unlock()
	if latency > 0 {
		if err := resilience.SleepContext(ctx, latency); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLeft == 0 {
		return nil
	}
	if s.failLeft > 0 {
		s.failLeft--
	}
	return s.failErr
}

func (s *Store) Ping(ctx context.Context) error {
	return s.enter(ctx)
}

// Put stores rows in collection as given, assigning ids and created_at
// when missing.
func (s *Store) Put(collection string, rows ...any) error {
	for _, r := range rows {
		if err := s.Insert(context.Background(), "", collection, r, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Select(ctx context.Context, _ string, q remote.Query, dest any) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.selects[q.Collection]++
	var out []row
	for _, r := range s.tables[q.Collection] {
		if matches(r, q.Filters) {
			out = append(out, s.embed(clone(r), q.Embeds()))
		}
	}
	s.mu.Unlock()

	sortRows(out, q.Orders)
	if q.Max > 0 && len(out) > q.Max {
		out = out[:q.Max]
	}
	if out == nil {
		out = []row{}
	}
	return transcode(out, dest)
}

func (s *Store) Insert(ctx context.Context, _ string, collection string, value any, dest any) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	r, err := toRow(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if stringify(r["id"]) == "" {
		r["id"] = uuid.NewString()
	}
	if ca := stringify(r["created_at"]); ca == "" || strings.HasPrefix(ca, "0001-01-01") {
		r["created_at"] = s.now().UTC().Format(time.RFC3339Nano)
	}
	id := stringify(r["id"])
	for _, existing := range s.tables[collection] {
		if stringify(existing["id"]) == id {
			s.mu.Unlock()
			return &resilience.BackendError{
				Status:  409,
				Code:    resilience.CodeUniqueViolation,
				Message: fmt.Sprintf("duplicate key value violates unique constraint \"%s_pkey\"", collection),
			}
		}
	}
	s.tables[collection] = append(s.tables[collection], r)
	stored := clone(r)
	s.mu.Unlock()

	if dest == nil {
		return nil
	}
	return transcode(stored, dest)
}

func (s *Store) Update(ctx context.Context, _ string, q remote.Query, patch any, dest any) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	p, err := toRow(patch)
	if err != nil {
		return err
	}
	s.mu.Lock()
	var updated []row
	for _, r := range s.tables[q.Collection] {
		if !matches(r, q.Filters) {
			continue
		}
		for k, v := range p {
			r[k] = v
		}
		updated = append(updated, clone(r))
	}
	s.mu.Unlock()

	if dest == nil {
		return nil
	}
	if updated == nil {
		updated = []row{}
	}
	return transcode(updated, dest)
}

func (s *Store) Delete(ctx context.Context, _ string, q remote.Query) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tables[q.Collection][:0]
	for _, r := range s.tables[q.Collection] {
		if !matches(r, q.Filters) {
			kept = append(kept, r)
		}
	}
	s.tables[q.Collection] = kept
	return nil
}

func (s *Store) Upload(ctx context.Context, _ string, bucket, path string, body io.Reader, _ string) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bucket + "/" + path
	if _, ok := s.objects[key]; ok {
		return &resilience.BackendError{Status: 409, Code: "Duplicate", Message: "The resource already exists"}
	}
	s.objects[key] = b
	return nil
}

func (s *Store) PublicURL(bucket, path string) string {
	return "memory://" + bucket + "/" + path
}

// embed must be called with s.mu held.
func (s *Store) embed(r row, relations []string) row {
	for _, rel := range relations {
		fk, ok := foreignKeys[rel]
		if !ok {
			continue
		}
		r[rel] = nil
		want := stringify(r[fk])
		for _, other := range s.tables[rel] {
			if stringify(other["id"]) == want {
				r[rel] = clone(other)
				break
			}
		}
	}
	return r
}

func matches(r row, filters []remote.Filter) bool {
	for _, f := range filters {
		v := stringify(r[f.Column])
		switch f.Op {
		case remote.OpEq:
			if v != f.Value {
				return false
			}
		case remote.OpGte:
			if r[f.Column] == nil || compare(v, f.Value) < 0 {
				return false
			}
		case remote.OpLte:
			if r[f.Column] == nil || compare(v, f.Value) > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func sortRows(rows []row, orders []remote.Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orders {
			c := compare(stringify(rows[i][o.Column]), stringify(rows[j][o.Column]))
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compare orders numerically when both sides are numbers.
func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func toRow(v any) (row, error) {
	var r row
	if err := transcode(v, &r); err != nil {
		return nil, err
	}
	if r == nil {
		r = row{}
	}
	return r, nil
}

func clone(r row) row {
	out := make(row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// transcode copies src into dest through JSON, the way rows travel over the wire.
func transcode(src, dest any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}
