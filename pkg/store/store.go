package store

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/xhad/docvec/internal/models"
	"github.com/xhad/docvec/internal/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		return toSnake(fld.Name)
	})
	return v
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &types.ValidationError{Field: "input", Message: err.Error()}
	}

	fe := fieldErrs[0]
	msg := fmt.Sprintf("%s must satisfy %q", fe.Field(), fe.Tag())
	if fe.Tag() == "required" {
		msg = fe.Field() + " is required"
	}
	return &types.ValidationError{Field: fe.Field(), Message: msg}
}

func validateDocument(doc models.NewDocument) error {
	if err := validate.Struct(doc); err != nil {
		return validationError(err)
	}
	return nil
}

// validateChunks checks every chunk before anything is written so that a
// bad chunk never leaves a partial set behind.
func validateChunks(chunks []models.NewChunk, dim int) error {
	for i, c := range chunks {
		if err := validate.Struct(c); err != nil {
			return fmt.Errorf("chunk %d: %w", i, validationError(err))
		}
		if c.Embedding != nil && len(c.Embedding) != dim {
			return fmt.Errorf("chunk %d: %w", i, &types.DimensionMismatchError{Want: dim, Got: len(c.Embedding)})
		}
	}
	return nil
}

func checkQuery(query []float32, dim int) error {
	if len(query) != dim {
		return &types.DimensionMismatchError{Want: dim, Got: len(query)}
	}
	return nil
}

// documentLocks serializes writers per document id while letting
// different documents proceed in parallel.
type documentLocks struct {
	mu    sync.Mutex
	locks map[int64]*documentLock
}

type documentLock struct {
	mu   sync.Mutex
	refs int
}

func (l *documentLocks) lock(id int64) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[int64]*documentLock)
	}
	dl, ok := l.locks[id]
	if !ok {
		dl = &documentLock{}
		l.locks[id] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()

	return func() {
		dl.mu.Unlock()

		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// cosine returns the cosine similarity of a and b. ok is false when either
// vector has zero magnitude.
func cosine(a, b []float32) (score float64, ok bool) {
	var dot, na2, nb2 float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0, false
	}
	s := dot / (math.Sqrt(na2) * math.Sqrt(nb2))
	if math.IsNaN(s) {
		return 0, false
	}
	return s, true
}

// rankExact orders scored chunks by score descending, then chunk id, and
// truncates to limit.
func rankExact(scored []models.ScoredChunk, limit int) []models.ScoredChunk {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ChunkID < scored[j].ChunkID
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// sanitizeUTF8 drops invalid byte sequences and NUL characters, neither of
// which Postgres accepts in TEXT columns.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}
