package documents

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"tariffsync/internal/logger"
	"tariffsync/internal/podio"
	"tariffsync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	raw   map[int64]*podio.Download
	rawEr map[int64]error
	meta  map[int64]*podio.File
	links map[string]*podio.Download
	asked []string
}

func (f *fakeSource) DownloadRaw(_ context.Context, id int64) (*podio.Download, error) {
	if err := f.rawEr[id]; err != nil {
		return nil, err
	}
	if d, ok := f.raw[id]; ok {
		return d, nil
	}
	return &podio.Download{}, nil
}

func (f *fakeSource) GetFile(_ context.Context, id int64) (*podio.File, error) {
	if m, ok := f.meta[id]; ok {
		return m, nil
	}
	return nil, &podio.APIError{Status: 404}
}

func (f *fakeSource) DownloadLink(_ context.Context, link string) (*podio.Download, error) {
	f.mu.Lock()
	f.asked = append(f.asked, link)
	f.mu.Unlock()
	if d, ok := f.links[link]; ok {
		return d, nil
	}
	return nil, &podio.APIError{Status: 403, Path: link}
}

type memStore struct {
	mu   sync.Mutex
	keys []string
	fail map[string]bool
}

func (m *memStore) Upload(_ context.Context, key, _ string, _ []byte) (*storage.Object, error) {
	for suffix := range m.fail {
		if strings.HasSuffix(key, suffix) {
			return nil, errors.New("bucket unavailable")
		}
	}
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	return &storage.Object{Path: key, URL: "https://cdn.example/" + key}, nil
}

func fixedNow() time.Time { return time.UnixMilli(1700000000000) }

func textPDF() *Extractor {
	e := NewExtractor(3, 20000, time.Second)
	e.Open = func(data []byte) (PageReader, error) {
		return &stubReader{pages: []string{string(data)}}, nil
	}
	return e
}

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	m.Run()
}

func TestRunImageAndPDF(t *testing.T) {
	src := &fakeSource{raw: map[int64]*podio.Download{
		1: {Data: []byte("Página   uno\n\n  del   documento"), ContentType: "application/pdf"},
		2: {Data: []byte("img"), ContentType: "image/png"},
	}}
	store := &memStore{}
	p := &Pipeline{Source: src, Store: store, Extractor: textPDF(), Concurrency: 2, Now: fixedNow}

	out, err := p.Run(context.Background(), 123, []podio.File{
		{FileID: 1, Name: "ficha técnica.pdf", Mimetype: "application/pdf"},
		{FileID: 2, Name: "foto.png", Mimetype: "image/png"},
	})
	require.NoError(t, err)

	require.Len(t, out.Staged, 2)
	assert.Equal(t, "podio/123/1700000000000_0_foto.png", out.Staged[0].Key, "images are staged first")
	assert.Equal(t, "podio/123/1700000000000_1_ficha_t_cnica.pdf", out.Staged[1].Key)
	assert.Equal(t, []string{"https://cdn.example/podio/123/1700000000000_0_foto.png"}, out.Images)
	assert.Equal(t, []string{"Página uno del documento"}, out.Texts)
	assert.Empty(t, out.Skipped)
	assert.True(t, out.HasInput())
}

func TestRunInlinesImagesWithoutStore(t *testing.T) {
	src := &fakeSource{raw: map[int64]*podio.Download{2: {Data: []byte("img")}}}
	p := &Pipeline{Source: src}

	out, err := p.Run(context.Background(), 1, []podio.File{{FileID: 2, Name: "x.jpg"}})
	require.NoError(t, err)
	require.Len(t, out.Images, 1)
	assert.Equal(t, "data:image/jpeg;base64,aW1n", out.Images[0])
	assert.Empty(t, out.Staged)
}

func TestRunFallbackToLinkWhenRawEmpty(t *testing.T) {
	src := &fakeSource{
		raw:   map[int64]*podio.Download{5: {Data: nil, ContentType: "image/png"}},
		meta:  map[int64]*podio.File{5: {FileID: 5, Link: "https://files.example/5"}},
		links: map[string]*podio.Download{"https://files.example/5?download=1": {Data: []byte("png"), ContentType: "image/png"}},
	}
	p := &Pipeline{Source: src, Store: &memStore{}, Now: fixedNow}

	out, err := p.Run(context.Background(), 9, []podio.File{{FileID: 5, Name: "a.png", Mimetype: "image/png"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://files.example/5?download=1"}, src.asked)
	require.Len(t, out.Staged, 1)
	assert.Equal(t, int64(3), out.Staged[0].Size)
}

func TestRunPerFileFailureIsIsolated(t *testing.T) {
	src := &fakeSource{
		raw: map[int64]*podio.Download{
			2: {Data: []byte("good"), ContentType: "image/png"},
			3: {Data: []byte("doc"), ContentType: "application/msword"},
			4: {Data: []byte("img"), ContentType: "image/png"},
		},
		rawEr: map[int64]error{1: &podio.APIError{Status: 500}},
	}
	store := &memStore{fail: map[string]bool{"_broken.png": true}}
	p := &Pipeline{Source: src, Store: store, Now: fixedNow}

	out, err := p.Run(context.Background(), 7, []podio.File{
		{FileID: 1, Name: "gone.png", Mimetype: "image/png"},
		{FileID: 2, Name: "ok.png", Mimetype: "image/png"},
		{FileID: 3, Name: "notes.doc"},
		{FileID: 4, Name: "broken.png", Mimetype: "image/png"},
	})
	require.NoError(t, err)

	require.Len(t, out.Staged, 1)
	assert.Equal(t, int64(2), out.Staged[0].File.FileID)
	require.Len(t, out.Skipped, 3)
	reasons := map[int64]string{}
	for _, s := range out.Skipped {
		reasons[s.File.FileID] = s.Reason
	}
	assert.Contains(t, reasons[1], "download failed")
	assert.Contains(t, reasons[3], "unsupported content type application/msword")
	assert.Contains(t, reasons[4], "upload failed")
}

func TestRunDegradedPDFContributesNothing(t *testing.T) {
	src := &fakeSource{raw: map[int64]*podio.Download{1: {Data: []byte("scan"), ContentType: "application/pdf"}}}
	e := NewExtractor(3, 100, time.Second)
	e.Open = func([]byte) (PageReader, error) { return nil, errors.New("encrypted") }
	p := &Pipeline{Source: src, Store: &memStore{}, Extractor: e, Now: fixedNow}

	out, err := p.Run(context.Background(), 1, []podio.File{{FileID: 1, Name: "scan.pdf"}})
	require.NoError(t, err)
	assert.Empty(t, out.Texts)
	assert.Len(t, out.Staged, 1, "the file is still staged")
	require.Len(t, out.PDFs, 1)
	assert.Equal(t, ExtractFailed, out.PDFs[0].Status)
	assert.False(t, out.HasInput())
}

func TestRunPDFFailingMidwayContributesNothing(t *testing.T) {
	src := &fakeSource{raw: map[int64]*podio.Download{
		1: {Data: []byte("pdf"), ContentType: "application/pdf"},
		2: {Data: []byte("png"), ContentType: "image/png"},
	}}
	e := NewExtractor(3, 20000, time.Second)
	e.Open = opener(&failsOnPage{page: 2, text: "pagina uno"})
	p := &Pipeline{Source: src, Store: &memStore{}, Extractor: e, Now: fixedNow}

	out, err := p.Run(context.Background(), 1, []podio.File{
		{FileID: 1, Name: "ficha.pdf"},
		{FileID: 2, Name: "foto.png"},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Texts)
	require.Len(t, out.PDFs, 1)
	assert.Equal(t, ExtractFailed, out.PDFs[0].Status)
	assert.Len(t, out.Images, 1)
	assert.True(t, out.HasInput(), "the image still counts")
}

func TestRunNoLinkFails(t *testing.T) {
	src := &fakeSource{}
	p := &Pipeline{Source: src}
	_, err := p.Download(context.Background(), podio.File{FileID: 8})
	assert.ErrorIs(t, err, ErrNoDownloadLink)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Pipeline{Source: &fakeSource{}}
	_, err := p.Run(ctx, 1, []podio.File{{FileID: 1}})
	assert.ErrorIs(t, err, context.Canceled)
}
