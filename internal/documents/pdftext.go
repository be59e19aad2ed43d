package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"
)

const TruncationMarker = " ...(truncated)..."

type ExtractStatus string

const (
	ExtractOK       ExtractStatus = "ok"
	ExtractEmpty    ExtractStatus = "empty"
	ExtractTimedOut ExtractStatus = "timed_out"
	ExtractFailed   ExtractStatus = "failed"
)

// Extraction is the outcome of reading text from a PDF. It is never an
// error: a timed out document keeps the text read before the deadline, a
// broken one has no text at all.
type Extraction struct {
	Text      string
	Status    ExtractStatus
	Pages     int
	Truncated bool
	Err       error
}

// PageReader reads plain text page by page (1-based).
type PageReader interface {
	NumPage() int
	PageText(n int) (string, error)
}

// OpenFunc parses a document into a PageReader.
type OpenFunc func(data []byte) (PageReader, error)

type Extractor struct {
	MaxPages int
	MaxChars int
	Timeout  time.Duration
	// Open defaults to the ledongthuc/pdf reader.
	Open OpenFunc
}

func NewExtractor(maxPages, maxChars int, timeout time.Duration) *Extractor {
	e := &Extractor{MaxPages: maxPages, MaxChars: maxChars, Timeout: timeout}
	if e.MaxPages <= 0 {
		e.MaxPages = 3
	}
	if e.MaxChars <= 0 {
		e.MaxChars = 20000
	}
	if e.Timeout <= 0 {
		e.Timeout = 10 * time.Second
	}
	return e
}

var whitespace = regexp.MustCompile(`\s+`)

// Finalize collapses whitespace runs then truncates to max characters,
// appending TruncationMarker when anything was cut.
func Finalize(raw string, max int) (string, bool) {
	text := strings.TrimSpace(whitespace.ReplaceAllString(raw, " "))
	r := []rune(text)
	if max > 0 && len(r) > max {
		return string(r[:max]) + TruncationMarker, true
	}
	return text, false
}

// Extract reads at most MaxPages pages and returns within Timeout. When the
// deadline passes the in-flight read is abandoned and the text gathered so
// far is used.
func (e *Extractor) Extract(ctx context.Context, data []byte) Extraction {
	open := e.Open
	if open == nil {
		open = openPDF
	}
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		buf   strings.Builder
		pages int
	)
	snapshot := func() (string, int) {
		mu.Lock()
		defer mu.Unlock()
		return buf.String(), pages
	}

	done := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("pdf reader panic: %v", r)
			}
			done <- err
		}()
		err = e.read(ctx, data, open, func(text string) bool {
			mu.Lock()
			defer mu.Unlock()
			buf.WriteString(text)
			buf.WriteByte('\n')
			pages++
			// enough material to fill the cap
			return buf.Len() < e.MaxChars+1000
		})
	}()

	var (
		status ExtractStatus
		rerr   error
	)
	select {
	case rerr = <-done:
		switch {
		case errors.Is(rerr, context.DeadlineExceeded):
			status = ExtractTimedOut
		case rerr != nil:
			status = ExtractFailed
		}
	case <-ctx.Done():
		status = ExtractTimedOut
		rerr = ctx.Err()
	}

	raw, n := snapshot()
	if status == ExtractFailed {
		return Extraction{Status: status, Pages: n, Err: rerr}
	}
	text, truncated := Finalize(raw, e.MaxChars)
	if status == "" {
		status = ExtractOK
		if text == "" {
			status = ExtractEmpty
		}
	}
	return Extraction{Text: text, Status: status, Pages: n, Truncated: truncated, Err: rerr}
}

func (e *Extractor) read(ctx context.Context, data []byte, open OpenFunc, emit func(string) bool) error {
	r, err := open(data)
	if err != nil {
		return err
	}
	last := r.NumPage()
	if last > e.MaxPages {
		last = e.MaxPages
	}
	for p := 1; p <= last; p++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		text, err := r.PageText(p)
		if err != nil {
			return fmt.Errorf("page %d: %w", p, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !emit(text) {
			return nil
		}
	}
	return nil
}

type ledongReader struct {
	r *pdf.Reader
}

var errNoPages = errors.New("pdf has no pages")

func openPDF(data []byte) (PageReader, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	if r.NumPage() == 0 {
		return nil, errNoPages
	}
	return &ledongReader{r: r}, nil
}

func (l *ledongReader) NumPage() int { return l.r.NumPage() }

func (l *ledongReader) PageText(n int) (string, error) {
	p := l.r.Page(n)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}
