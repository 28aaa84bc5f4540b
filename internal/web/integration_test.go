package web_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/prescriptly/internal/auth"
	"github.com/vbonduro/prescriptly/internal/db"
	"github.com/vbonduro/prescriptly/internal/dialogue"
	"github.com/vbonduro/prescriptly/internal/dispatch"
	"github.com/vbonduro/prescriptly/internal/domain"
	"github.com/vbonduro/prescriptly/internal/llm"
	"github.com/vbonduro/prescriptly/internal/photostore"
	"github.com/vbonduro/prescriptly/internal/prescription"
	"github.com/vbonduro/prescriptly/internal/session"
	"github.com/vbonduro/prescriptly/internal/store"
	"github.com/vbonduro/prescriptly/internal/voice"
	"github.com/vbonduro/prescriptly/internal/web"
)

const testToken = "test-token"

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
// http.DetectContentType identifies JPEG from the leading 0xFF 0xD8 bytes.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

// pharmacistModel adds two Dolo 650 whenever the user mentions dolo, and
// otherwise answers with plain text.
type pharmacistModel struct{}

func (pharmacistModel) Converse(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	if last.Role == llm.RoleTool {
		return &llm.ChatResponse{Text: "Done: " + last.ToolResults[0].Content}, nil
	}
	if strings.Contains(strings.ToLower(last.Text), "dolo") {
		args, _ := json.Marshal(map[string]any{"medicineName": "Dolo 650", "quantity": 2})
		return &llm.ChatResponse{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: dispatch.ToolAddToCart, Arguments: args}}}, nil
	}
	return &llm.ChatResponse{Text: "How else can I help?"}, nil
}

// recordingExtractor returns a fixed extraction and records the image bytes.
type recordingExtractor struct {
	mu        sync.Mutex
	lastBytes []byte
	result    *llm.Extraction
}

func (e *recordingExtractor) Extract(_ context.Context, req llm.ExtractionRequest) (*llm.Extraction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastBytes = req.Image
	return e.result, nil
}

func (e *recordingExtractor) LastBytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastBytes
}

type fixedTranscriber string

func (f fixedTranscriber) Transcribe(_ context.Context, audio io.Reader, _ string) (string, error) {
	if _, err := io.Copy(io.Discard, audio); err != nil {
		return "", err
	}
	return string(f), nil
}

// memPhotoStore is a simple in-memory implementation of photostore.PhotoStore.
type memPhotoStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	mimes   map[string]string
	counter int
}

func newMemPhotoStore() *memPhotoStore {
	return &memPhotoStore{
		data:  make(map[string][]byte),
		mimes: make(map[string]string),
	}
}

func (m *memPhotoStore) Save(_ context.Context, prefix, mimeType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	key := fmt.Sprintf("%s_%d", prefix, m.counter)
	m.data[key] = data
	m.mimes[key] = mimeType
	return key, nil
}

func (m *memPhotoStore) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, "", fmt.Errorf("key not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), m.mimes[key], nil
}

func (m *memPhotoStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.mimes, key)
	return nil
}

// failingPhotoStore fails every operation the way a broken disk would.
type failingPhotoStore struct{}

func (failingPhotoStore) Save(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("open /var/lib/prescriptly/photos/rx_u1_1.jpg: permission denied")
}

func (failingPhotoStore) Get(context.Context, string) (io.ReadCloser, string, error) {
	return nil, "", errors.New("open /var/lib/prescriptly/photos/rx_u1_1.jpg: permission denied")
}

func (failingPhotoStore) Delete(context.Context, string) error {
	return errors.New("remove /var/lib/prescriptly/photos/rx_u1_1.jpg: permission denied")
}

type testEnv struct {
	srv       *httptest.Server
	db        *sql.DB
	extractor *recordingExtractor
}

type testOptions struct {
	transcriber llm.Transcriber // nil disables voice input
	photos      photostore.PhotoStore
}

// newTestServer sets up a real web.Server backed by in-memory SQLite and stub
// models. A nil transcriber disables voice input.
func newTestServer(t *testing.T, transcriber llm.Transcriber) *testEnv {
	t.Helper()
	return newTestServerWith(t, testOptions{transcriber: transcriber})
}

func newTestServerWith(t *testing.T, opts testOptions) *testEnv {
	t.Helper()
	database, err := db.OpenForTesting()
	require.NoError(t, err)

	catalog := store.NewCatalogStore(database)
	carts := store.NewCartStore(database)
	var photos photostore.PhotoStore = newMemPhotoStore()
	if opts.photos != nil {
		photos = opts.photos
	}
	extractor := &recordingExtractor{result: &llm.Extraction{}}

	manager, err := session.NewManager(session.Deps{
		Catalog:     catalog,
		Carts:       carts,
		Turns:       store.NewTurnStore(database),
		Uploads:     store.NewUploadStore(database),
		Photos:      photos,
		Chat:        pharmacistModel{},
		Extractor:   extractor,
		Transcriber: opts.transcriber,
	}, session.Options{MaxToolRounds: 5}, slog.Default())
	require.NoError(t, err)

	authn := auth.NewTokenAuthenticator(map[string]domain.User{testToken: {ID: "u1", Name: "Asha"}})
	srv := httptest.NewServer(web.NewServer(manager, catalog, carts, photos, authn, slog.Default()))
	t.Cleanup(func() {
		srv.Close()
		manager.Shutdown()
		_ = database.Close()
	})
	return &testEnv{srv: srv, db: database, extractor: extractor}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return e.do(t, method, path, body, "application/json")
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// buildMultipartBody creates a multipart/form-data body with a single file field.
func buildMultipartBody(t *testing.T, field string, data []byte) (body *bytes.Buffer, contentType string) {
	t.Helper()
	body = &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile(field, "upload.bin")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

type medicine struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Price          int64    `json:"price"`
	Image          string   `json:"image"`
	ImageFallbacks []string `json:"imageFallbacks"`
}

type cart struct {
	Items []struct {
		Medicine medicine `json:"medicine"`
		Quantity int      `json:"quantity"`
	} `json:"items"`
	ItemCount   int   `json:"itemCount"`
	Subtotal    int64 `json:"subtotal"`
	DeliveryFee int64 `json:"deliveryFee"`
	Total       int64 `json:"total"`
}

type turn struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type candidate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	Medicine  *medicine `json:"medicine"`
	Quantity  int       `json:"quantity"`
	Committed bool      `json:"committed"`
}

type flowResponse struct {
	Prescription struct {
		State      string      `json:"state"`
		Message    string      `json:"message"`
		Candidates []candidate `json:"candidates"`
	} `json:"prescription"`
	Error string `json:"error"`
}

type voiceResponse struct {
	Voice struct {
		State    string `json:"state"`
		Category string `json:"category"`
		Message  string `json:"message"`
	} `json:"voice"`
	Error      string `json:"error"`
	Transcript string `json:"transcript"`
	Reply      *turn  `json:"reply"`
}

func TestIntegration_HealthAndHeaders(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	resp2, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.NotEmpty(t, resp2.Header.Get("X-Request-ID"))
}

func TestIntegration_Catalog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)

	resp, err := http.Get(env.srv.URL + "/medicines?q=dolo")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[struct {
		Medicines []medicine `json:"medicines"`
	}](t, resp)
	require.Len(t, list.Medicines, 1)
	dolo := list.Medicines[0]
	assert.Equal(t, "Dolo 650", dolo.Name)
	assert.Equal(t, int64(30), dolo.Price)
	assert.True(t, strings.HasPrefix(dolo.Image, "https://images.unsplash.com/"))
	require.Len(t, dolo.ImageFallbacks, 3)
	assert.Equal(t, "/images/medicine-types/tablet.png", dolo.ImageFallbacks[0])
	assert.Equal(t, "/images/medicine-types/default.png", dolo.ImageFallbacks[1])

	resp, err = http.Get(env.srv.URL + "/medicines?category=Antibiotics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	byCategory := decode[struct {
		Medicines []medicine `json:"medicines"`
	}](t, resp)
	assert.Len(t, byCategory.Medicines, 4)

	resp, err = http.Get(env.srv.URL + "/medicines/" + dolo.ID)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.srv.URL + "/medicines/does-not-exist")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(env.srv.URL + "/categories")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	cats := decode[struct {
		Categories []string `json:"categories"`
	}](t, resp)
	require.NotEmpty(t, cats.Categories)
	assert.Equal(t, "All", cats.Categories[0])
	assert.Contains(t, cats.Categories, "Antibiotics")
}

func TestIntegration_AgentRequiresLogin(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)

	for _, path := range []string{"/cart", "/chat", "/voice", "/prescriptions"} {
		resp, err := http.Get(env.srv.URL + path)
		require.NoError(t, err)
		body := decode[map[string]string](t, resp)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, "/login", body["redirect"], path)
	}
}

func TestIntegration_ChatAddsToCart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)

	resp := env.do(t, http.MethodGet, "/chat", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[struct {
		Messages []turn `json:"messages"`
	}](t, resp)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, dialogue.Greeting, history.Messages[0].Text)

	resp = env.doJSON(t, http.MethodPost, "/chat", map[string]string{"text": "I need two Dolo 650"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reply := decode[struct {
		Reply turn `json:"reply"`
	}](t, resp)
	assert.Equal(t, "agent", reply.Reply.Sender)
	assert.Equal(t, "Done: Success: Added 2 x Dolo 650 to cart. Total Price: ₹60", reply.Reply.Text)

	resp = env.do(t, http.MethodGet, "/cart", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c := decode[cart](t, resp)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "Dolo 650", c.Items[0].Medicine.Name)
	assert.Equal(t, 2, c.ItemCount)
	assert.Equal(t, int64(60), c.Subtotal)
	assert.Equal(t, int64(49), c.DeliveryFee)
	assert.Equal(t, int64(109), c.Total)

	resp = env.doJSON(t, http.MethodPost, "/chat", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/chat", nil, "")
	history = decode[struct {
		Messages []turn `json:"messages"`
	}](t, resp)
	assert.Len(t, history.Messages, 3)
}

func TestIntegration_CartEdits(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)

	resp := env.doJSON(t, http.MethodPost, "/chat", map[string]string{"text": "dolo please"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/cart", nil, "")
	c := decode[cart](t, resp)
	require.Len(t, c.Items, 1)
	itemID := c.Items[0].Medicine.ID

	resp = env.doJSON(t, http.MethodPatch, "/cart/items/"+itemID, map[string]int{"quantity": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c = decode[cart](t, resp)
	assert.Equal(t, 1, c.Items[0].Quantity)

	resp = env.doJSON(t, http.MethodPatch, "/cart/items/nope", map[string]int{"quantity": 3})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/cart/items/"+itemID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c = decode[cart](t, resp)
	assert.Empty(t, c.Items)
	assert.Equal(t, int64(0), c.DeliveryFee)

	resp = env.do(t, http.MethodDelete, "/cart/items/"+itemID, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegration_PrescriptionFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)
	env.extractor.result = &llm.Extraction{Matches: []string{"Dolo 650"}, Others: []string{"Obscuro-X"}}

	resp := env.do(t, http.MethodPost, "/prescriptions/scan", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct := buildMultipartBody(t, "image", []byte("%PDF-1.4 not an image"))
	resp = env.do(t, http.MethodPost, "/prescriptions", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct = buildMultipartBody(t, "image", minimalJPEG)
	resp = env.do(t, http.MethodPost, "/prescriptions", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(prescription.StateFileSelected), decode[flowResponse](t, resp).Prescription.State)

	resp = env.do(t, http.MethodGet, "/prescriptions/image", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	img, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, minimalJPEG, img)

	resp = env.do(t, http.MethodPost, "/prescriptions/scan", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	flow := decode[flowResponse](t, resp)
	assert.Equal(t, minimalJPEG, env.extractor.LastBytes())
	assert.Equal(t, string(prescription.StateResults), flow.Prescription.State)
	require.Len(t, flow.Prescription.Candidates, 2)

	dolo, other := flow.Prescription.Candidates[0], flow.Prescription.Candidates[1]
	assert.Equal(t, "catalog", dolo.Source)
	assert.Equal(t, "synthesized", other.Source)
	require.NotNil(t, other.Medicine)
	assert.Equal(t, "Obscuro-X", other.Medicine.Name)
	assert.Equal(t, int64(prescription.SynthesizedPrice), other.Medicine.Price)

	resp = env.doJSON(t, http.MethodPost, "/prescriptions/candidates/"+dolo.ID+"/quantity", map[string]int{"delta": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, decode[candidate](t, resp).Quantity)

	resp = env.doJSON(t, http.MethodPost, "/prescriptions/candidates/"+dolo.ID+"/quantity", map[string]int{"delta": -10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[candidate](t, resp).Quantity)

	resp = env.do(t, http.MethodPost, "/prescriptions/candidates/"+dolo.ID+"/cart", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[candidate](t, resp).Committed)

	// A second add is a no-op.
	resp = env.do(t, http.MethodPost, "/prescriptions/candidates/"+dolo.ID+"/cart", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/prescriptions/candidates/missing/cart", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/cart", nil, "")
	c := decode[cart](t, resp)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "Dolo 650", c.Items[0].Medicine.Name)
	assert.Equal(t, 1, c.Items[0].Quantity)

	resp = env.do(t, http.MethodPost, "/prescriptions/reset", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(prescription.StateNoFile), decode[flowResponse](t, resp).Prescription.State)
}

func TestIntegration_PrescriptionNothingFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)

	body, ct := buildMultipartBody(t, "image", minimalJPEG)
	resp := env.do(t, http.MethodPost, "/prescriptions", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/prescriptions/scan", nil, "")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	flow := decode[flowResponse](t, resp)
	assert.Equal(t, string(prescription.StateError), flow.Prescription.State)
	assert.Equal(t, prescription.NoneIdentifiedMessage, flow.Prescription.Message)
	assert.Equal(t, prescription.NoneIdentifiedMessage, flow.Error)
}

func TestIntegration_VoiceUnsupported(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)

	resp := env.do(t, http.MethodPost, "/voice/start", nil, "")
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	v := decode[voiceResponse](t, resp)
	assert.Equal(t, string(voice.StateIdle), v.Voice.State)
	assert.Equal(t, voice.MessageUnsupported, v.Voice.Message)
}

func TestIntegration_VoiceUtterance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, fixedTranscriber("add dolo to my cart"))

	body, ct := buildMultipartBody(t, "audio", []byte("webm-bytes"))
	resp := env.do(t, http.MethodPost, "/voice/utterance", body, ct)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/voice/start", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(voice.StateListening), decode[voiceResponse](t, resp).Voice.State)

	body, ct = buildMultipartBody(t, "audio", []byte("webm-bytes"))
	resp = env.do(t, http.MethodPost, "/voice/utterance", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[voiceResponse](t, resp)
	assert.Equal(t, "add dolo to my cart", v.Transcript)
	require.NotNil(t, v.Reply)
	assert.Contains(t, v.Reply.Text, "Added 2 x Dolo 650")
	assert.Equal(t, string(voice.StateIdle), v.Voice.State)

	resp = env.do(t, http.MethodPost, "/voice/start", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.doJSON(t, http.MethodPost, "/voice/error", map[string]string{"error": "not-allowed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v = decode[voiceResponse](t, resp)
	assert.Equal(t, string(voice.StateError), v.Voice.State)
	assert.Equal(t, string(voice.CategoryPermissionDenied), v.Voice.Category)
	assert.Equal(t, voice.MessagePermissionDenied, v.Voice.Message)
}

func TestIntegration_LogoutClearsSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)

	resp := env.doJSON(t, http.MethodPost, "/chat", map[string]string{"text": "dolo"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/logout", nil, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/cart", nil, "")
	assert.Empty(t, decode[cart](t, resp).Items)

	resp = env.do(t, http.MethodGet, "/chat", nil, "")
	history := decode[struct {
		Messages []turn `json:"messages"`
	}](t, resp)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, dialogue.Greeting, history.Messages[0].Text)
}

// assertGenericError checks that an internal failure reached the client only
// as the fixed apology, with no driver or filesystem detail.
func assertGenericError(t *testing.T, resp *http.Response) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	for _, leak := range []string{"/var/lib", "permission denied", "sqlite", "no such table", "cart_items", "conversation_turns", "failed to"} {
		assert.NotContains(t, body, leak)
	}
	var e struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, "Something went wrong. Please try again.", e.Error)
}

func TestIntegration_InternalErrorsStayInternal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	t.Run("photo store failure", func(t *testing.T) {
		env := newTestServerWith(t, testOptions{photos: failingPhotoStore{}})
		body, ct := buildMultipartBody(t, "image", minimalJPEG)
		resp := env.do(t, http.MethodPost, "/prescriptions", body, ct)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assertGenericError(t, resp)
	})

	t.Run("cart failure", func(t *testing.T) {
		env := newTestServer(t, nil)
		env.extractor.result = &llm.Extraction{Matches: []string{"Dolo 650"}}

		body, ct := buildMultipartBody(t, "image", minimalJPEG)
		resp := env.do(t, http.MethodPost, "/prescriptions", body, ct)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp = env.do(t, http.MethodPost, "/prescriptions/scan", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		flow := decode[flowResponse](t, resp)
		require.Len(t, flow.Prescription.Candidates, 1)

		_, err := env.db.Exec(`DROP TABLE cart_items`)
		require.NoError(t, err)

		resp = env.do(t, http.MethodPost, "/prescriptions/candidates/"+flow.Prescription.Candidates[0].ID+"/cart", nil, "")
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assertGenericError(t, resp)
	})

	t.Run("conversation log failure", func(t *testing.T) {
		env := newTestServerWith(t, testOptions{transcriber: fixedTranscriber("add dolo")})
		_, err := env.db.Exec(`DROP TABLE conversation_turns`)
		require.NoError(t, err)

		resp := env.doJSON(t, http.MethodPost, "/chat", map[string]string{"text": "hello"})
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assertGenericError(t, resp)

		resp = env.do(t, http.MethodPost, "/voice/start", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, ct := buildMultipartBody(t, "audio", []byte("webm-bytes"))
		resp = env.do(t, http.MethodPost, "/voice/utterance", body, ct)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assertGenericError(t, resp)
	})
}

func TestIntegration_Checkout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)

	address := map[string]string{
		"fullName": "  Asha Rao ",
		"mobile":   "9876543210",
		"address":  "12 MG Road, Indiranagar",
		"city":     "Bengaluru",
		"state":    "Karnataka",
		"pincode":  "560038",
	}

	resp := env.doJSON(t, http.MethodPost, "/checkout", address)
	require.Equal(t, http.StatusConflict, resp.StatusCode, "empty cart cannot be checked out")

	resp = env.doJSON(t, http.MethodPost, "/chat", map[string]string{"text": "add dolo"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	invalid := map[string]string{"fullName": "Al", "mobile": "12345", "address": "", "city": "Bengaluru", "state": "Karnataka", "pincode": "56003"}
	resp = env.doJSON(t, http.MethodPost, "/checkout", invalid)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	fields := decode[struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}](t, resp)
	assert.Equal(t, "invalid shipping details", fields.Error)
	assert.Equal(t, map[string]string{
		"fullName": "Name must be at least 3 characters",
		"mobile":   "Enter a valid 10-digit mobile number",
		"address":  "Address is required",
		"pincode":  "Enter a valid 6-digit pincode",
	}, fields.Fields)

	resp = env.do(t, http.MethodGet, "/cart", nil, "")
	require.Len(t, decode[cart](t, resp).Items, 1, "a rejected checkout keeps the cart")

	resp = env.doJSON(t, http.MethodPost, "/checkout", address)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	order := decode[struct {
		OrderID     string `json:"orderId"`
		ItemCount   int    `json:"itemCount"`
		Subtotal    int64  `json:"subtotal"`
		DeliveryFee int64  `json:"deliveryFee"`
		Total       int64  `json:"total"`
		Items       []struct {
			Medicine medicine `json:"medicine"`
			Quantity int      `json:"quantity"`
		} `json:"items"`
		Shipping struct {
			FullName string `json:"fullName"`
			Pincode  string `json:"pincode"`
		} `json:"shipping"`
	}](t, resp)
	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, 2, order.ItemCount)
	assert.Equal(t, int64(60), order.Subtotal)
	assert.Equal(t, domain.DeliveryFee, order.DeliveryFee)
	assert.Equal(t, int64(60)+domain.DeliveryFee, order.Total)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Dolo 650", order.Items[0].Medicine.Name)
	assert.Equal(t, "Asha Rao", order.Shipping.FullName)
	assert.Equal(t, "560038", order.Shipping.Pincode)

	resp = env.do(t, http.MethodGet, "/cart", nil, "")
	assert.Empty(t, decode[cart](t, resp).Items)

	anon, err := http.Post(env.srv.URL+"/checkout", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = anon.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, anon.StatusCode)
}
