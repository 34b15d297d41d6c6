package artifacts

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhaven/preserver/internal/browser"
	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/files"
	"github.com/linkhaven/preserver/internal/logger"
)

type mockUpdater struct {
	updateFunc func(ctx context.Context, id int64, upd domain.LinkUpdate) error
	updates    []domain.LinkUpdate
}

func (m *mockUpdater) UpdateLink(ctx context.Context, id int64, upd domain.LinkUpdate) error {
	m.updates = append(m.updates, upd)
	if m.updateFunc != nil {
		return m.updateFunc(ctx, id, upd)
	}
	return nil
}

type mockFiles struct {
	createFunc func(locator string, data []byte) error
	readFunc   func(locator string) (files.File, error)
	written    map[string][]byte
}

func (m *mockFiles) CreateFile(locator string, data []byte) error {
	if m.createFunc != nil {
		return m.createFunc(locator, data)
	}
	if m.written == nil {
		m.written = make(map[string][]byte)
	}
	m.written[locator] = data
	return nil
}

func (m *mockFiles) ReadFile(locator string) (files.File, error) {
	if m.readFunc != nil {
		return m.readFunc(locator)
	}
	return files.File{}, errors.New("not found")
}

type mockSession struct {
	fetchFunc      func(ctx context.Context, fetchURL, referrer string) (*browser.FetchResult, error)
	screenshotFunc func(opts browser.ScreenshotOptions) ([]byte, error)
	pdfFunc        func() ([]byte, error)
}

func (m *mockSession) Fetch(ctx context.Context, fetchURL, referrer string) (*browser.FetchResult, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, fetchURL, referrer)
	}
	return nil, errors.New("no fetch stub")
}

func (m *mockSession) Screenshot(opts browser.ScreenshotOptions) ([]byte, error) {
	if m.screenshotFunc != nil {
		return m.screenshotFunc(opts)
	}
	return nil, errors.New("no screenshot stub")
}

func (m *mockSession) PDF() ([]byte, error) {
	if m.pdfFunc != nil {
		return m.pdfFunc()
	}
	return nil, errors.New("no pdf stub")
}

func testLink() *domain.Link {
	return &domain.Link{ID: 42, URL: "https://example.com/post", CollectionID: 7}
}

func TestPreviewProducer_UsesMetaImage(t *testing.T) {
	updater := &mockUpdater{}
	fileStore := &mockFiles{}
	var fetched string
	sess := &mockSession{
		fetchFunc: func(_ context.Context, fetchURL, referrer string) (*browser.FetchResult, error) {
			fetched = fetchURL
			assert.Equal(t, "https://example.com/post", referrer)
			return &browser.FetchResult{Status: 200, ContentType: "image/jpeg", Body: []byte("jpegbytes")}, nil
		},
	}

	producer := NewPreviewProducer(updater, fileStore, 1<<20, logger.NewNop())
	link := testLink()
	html := `<html><head><meta property="og:image" content="/card.jpg"></head></html>`

	err := producer.Produce(context.Background(), sess, link, html, link.URL)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/card.jpg", fetched, "relative og:image resolved against the page URL")
	assert.Equal(t, files.PreviewPath(7, 42), link.Preview)
	assert.Equal(t, []byte("jpegbytes"), fileStore.written[link.Preview])
	require.Len(t, updater.updates, 1)
	require.NotNil(t, updater.updates[0].Preview)
}

func TestPreviewProducer_FallsBackToScreenshot(t *testing.T) {
	updater := &mockUpdater{}
	fileStore := &mockFiles{}
	sess := &mockSession{
		fetchFunc: func(context.Context, string, string) (*browser.FetchResult, error) {
			// The advertised image 404s.
			return &browser.FetchResult{Status: 404, ContentType: "text/html"}, nil
		},
		screenshotFunc: func(opts browser.ScreenshotOptions) ([]byte, error) {
			assert.Equal(t, screenshotPreviewQuality, opts.Quality)
			assert.False(t, opts.FullPage)
			return []byte("shot"), nil
		},
	}

	producer := NewPreviewProducer(updater, fileStore, 1<<20, logger.NewNop())
	link := testLink()
	html := `<html><head><meta name="twitter:image" content="https://cdn.example.com/x.png"></head></html>`

	require.NoError(t, producer.Produce(context.Background(), sess, link, html, link.URL))
	assert.Equal(t, files.PreviewPath(7, 42), link.Preview)
}

func TestPreviewProducer_TranscodesPNGMetaImage(t *testing.T) {
	var pngBuf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	require.NoError(t, png.Encode(&pngBuf, img))

	updater := &mockUpdater{}
	fileStore := &mockFiles{}
	sess := &mockSession{
		fetchFunc: func(context.Context, string, string) (*browser.FetchResult, error) {
			return &browser.FetchResult{Status: 200, ContentType: "image/png", Body: pngBuf.Bytes()}, nil
		},
	}

	producer := NewPreviewProducer(updater, fileStore, 1<<20, logger.NewNop())
	link := testLink()
	html := `<html><head><meta property="og:image" content="https://cdn.example.com/card.png"></head></html>`

	require.NoError(t, producer.Produce(context.Background(), sess, link, html, link.URL))

	written := fileStore.written[files.PreviewPath(7, 42)]
	require.NotEmpty(t, written)
	_, format, err := image.Decode(bytes.NewReader(written))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format, "preview stored under the .jpeg locator must hold JPEG bytes")
}

func TestPreviewProducer_UndecodableMetaImageFallsBackToScreenshot(t *testing.T) {
	updater := &mockUpdater{}
	fileStore := &mockFiles{}
	var screenshots int
	sess := &mockSession{
		fetchFunc: func(context.Context, string, string) (*browser.FetchResult, error) {
			return &browser.FetchResult{Status: 200, ContentType: "image/webp", Body: []byte("webpbytes")}, nil
		},
		screenshotFunc: func(browser.ScreenshotOptions) ([]byte, error) {
			screenshots++
			return []byte("shot"), nil
		},
	}

	producer := NewPreviewProducer(updater, fileStore, 1<<20, logger.NewNop())
	link := testLink()
	html := `<html><head><meta property="og:image" content="https://cdn.example.com/card.webp"></head></html>`

	require.NoError(t, producer.Produce(context.Background(), sess, link, html, link.URL))

	assert.Equal(t, 1, screenshots)
	assert.Equal(t, []byte("shot"), fileStore.written[files.PreviewPath(7, 42)])
}

func TestPreviewProducer_DiscardsOversizedScreenshot(t *testing.T) {
	updater := &mockUpdater{}
	fileStore := &mockFiles{}
	sess := &mockSession{
		screenshotFunc: func(browser.ScreenshotOptions) ([]byte, error) {
			return make([]byte, 32), nil
		},
	}

	producer := NewPreviewProducer(updater, fileStore, 16, logger.NewNop())
	link := testLink()

	require.NoError(t, producer.Produce(context.Background(), sess, link, "<html></html>", link.URL))

	assert.Empty(t, link.Preview, "oversized preview stays pending")
	assert.Empty(t, fileStore.written)
	assert.Empty(t, updater.updates)
}

func TestExportProducer_RespectsSettingsAndExistingArtifacts(t *testing.T) {
	updater := &mockUpdater{}
	fileStore := &mockFiles{}
	var screenshotCalls, pdfCalls int
	sess := &mockSession{
		screenshotFunc: func(opts browser.ScreenshotOptions) ([]byte, error) {
			screenshotCalls++
			assert.True(t, opts.FullPage)
			return []byte("png"), nil
		},
		pdfFunc: func() ([]byte, error) {
			pdfCalls++
			return []byte("pdf"), nil
		},
	}

	producer := NewExportProducer(updater, fileStore, logger.NewNop())
	link := testLink()
	link.PDF = "archives/7/42.pdf" // already produced by an earlier run

	settings := domain.ArchivalSettings{Screenshot: true, PDF: true}
	require.NoError(t, producer.Produce(context.Background(), sess, link, settings))

	assert.Equal(t, 1, screenshotCalls)
	assert.Zero(t, pdfCalls, "present artifact is never recomputed")
	assert.Equal(t, files.ArtifactPath(7, 42, "png"), link.Image)
}

func TestExportProducer_ScreenshotFailureDoesNotBlockPDF(t *testing.T) {
	updater := &mockUpdater{}
	fileStore := &mockFiles{}
	sess := &mockSession{
		screenshotFunc: func(browser.ScreenshotOptions) ([]byte, error) {
			return nil, errors.New("render crashed")
		},
		pdfFunc: func() ([]byte, error) { return []byte("pdf"), nil },
	}

	producer := NewExportProducer(updater, fileStore, logger.NewNop())
	link := testLink()

	err := producer.Produce(context.Background(), sess, link,
		domain.ArchivalSettings{Screenshot: true, PDF: true})

	assert.Error(t, err, "first failure is reported")
	assert.Empty(t, link.Image)
	assert.Equal(t, files.ArtifactPath(7, 42, "pdf"), link.PDF, "pdf still produced")
}

func TestDownloadProducer_Image(t *testing.T) {
	updater := &mockUpdater{}
	fileStore := &mockFiles{}
	sess := &mockSession{
		fetchFunc: func(_ context.Context, fetchURL, _ string) (*browser.FetchResult, error) {
			assert.Equal(t, "https://example.com/post", fetchURL)
			return &browser.FetchResult{Status: 200, ContentType: "image/jpeg", Body: []byte("jpeg")}, nil
		},
	}

	producer := NewDownloadProducer(updater, fileStore, logger.NewNop())
	link := testLink()

	require.NoError(t, producer.Image(context.Background(), sess, link, domain.ExtensionJPEG))
	assert.Equal(t, files.ArtifactPath(7, 42, "jpeg"), link.Image)
}

func TestDownloadProducer_PDFBadStatus(t *testing.T) {
	updater := &mockUpdater{}
	fileStore := &mockFiles{}
	sess := &mockSession{
		fetchFunc: func(context.Context, string, string) (*browser.FetchResult, error) {
			return &browser.FetchResult{Status: 503}, nil
		},
	}

	producer := NewDownloadProducer(updater, fileStore, logger.NewNop())
	link := testLink()

	assert.Error(t, producer.PDF(context.Background(), sess, link))
	assert.Empty(t, link.PDF)
	assert.Empty(t, updater.updates)
}

func TestReadableProducer(t *testing.T) {
	updater := &mockUpdater{}
	fileStore := &mockFiles{}

	producer := NewReadableProducer(updater, fileStore, logger.NewNop())
	link := testLink()

	html := `<html><head><title>A post</title></head><body><article>
		<h1>A post</h1>
		<p>First paragraph of the article body with enough text to matter.</p>
		<p>Second paragraph carrying the rest of the content for extraction.</p>
	</article></body></html>`

	require.NoError(t, producer.Produce(context.Background(), link, html))

	locator := files.ReadablePath(7, 42)
	assert.Equal(t, locator, link.Readable)
	assert.Contains(t, string(fileStore.written[locator]), "First paragraph")
}
