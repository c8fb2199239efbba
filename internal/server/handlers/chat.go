package handlers

import (
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/ailink"
	"github.com/fiestalabs/fiesta/internal/ailink/content"
	"github.com/fiestalabs/fiesta/internal/ailink/sse"
	"github.com/fiestalabs/fiesta/internal/catalog"
	apperrors "github.com/fiestalabs/fiesta/internal/errors"
	"github.com/fiestalabs/fiesta/internal/metrics"
	"github.com/fiestalabs/fiesta/internal/observability"
)

// maxBodyBytes bounds request bodies; image data URLs make them large.
const maxBodyBytes = 16 << 20

// MaxCompareTargets bounds the fan-out of one compare request.
const MaxCompareTargets = 20

// API serves the chat, compare and model catalog endpoints.
type API struct {
	Service *ailink.Service
	Catalog *catalog.Catalog

	activeStreams atomic.Int64
}

func NewAPI(svc *ailink.Service, cat *catalog.Catalog) *API {
	return &API{Service: svc, Catalog: cat}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return apperrors.NewInvalidInputError("Request body is required")
		}
		return apperrors.WrapInvalidInput(r.Context(), err, "Invalid JSON in request body")
	}
	return nil
}

func (b ChatBody) toRequest() ailink.ChatRequest {
	messages := make([]content.Message, 0, len(b.Messages))
	for _, msg := range b.Messages {
		messages = append(messages, content.TextMessage(msg.Role, Sanitize(msg.Content)))
	}
	return ailink.ChatRequest{
		Provider:     strings.TrimSpace(b.Provider),
		Model:        Sanitize(b.Model),
		Messages:     messages,
		APIKey:       strings.TrimSpace(b.APIKey),
		ImageDataURL: strings.TrimSpace(b.ImageDataURL),
		MaxTokens:    b.MaxTokens,
	}
}

func (a *API) readChat(w http.ResponseWriter, r *http.Request) (ailink.ChatRequest, bool) {
	var body ChatBody
	if err := decodeBody(w, r, &body); err != nil {
		respondWithError(w, r, err)
		return ailink.ChatRequest{}, false
	}
	if err := body.Validate(); err != nil {
		respondWithError(w, r, apperrors.NewValidationError(err.Error()))
		return ailink.ChatRequest{}, false
	}
	return body.toRequest(), true
}

// Chat handles POST /api/chat. Provider failures are reported inside the
// result with status 200; only unresolvable requests are errors.
func (a *API) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := a.readChat(w, r)
	if !ok {
		return
	}

	res, err := a.Service.Invoke(r.Context(), req)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ChatStream handles POST /api/chat/stream as an SSE item stream. Headers
// are committed with the first event, so resolution errors still get a JSON
// envelope.
func (a *API) ChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := a.readChat(w, r)
	if !ok {
		return
	}

	var (
		enc      *sse.Encoder
		provider = req.Provider
		writeErr error
	)
	sink := func(ev sse.Event) {
		if writeErr != nil {
			return
		}
		if enc == nil {
			enc = a.openStream(w)
		}
		if ev.Kind == sse.KindMeta && ev.Provider != "" {
			provider = ev.Provider
		}
		writeErr = enc.Encode(ev)
	}

	err := a.Service.Stream(r.Context(), req, sink)
	if enc != nil {
		a.closeStream()
	}
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, err.Error()))
		return
	}
	if writeErr != nil {
		if logger := observability.Logger(); logger != nil {
			logger.Debug("Stream client went away", zap.String("provider", provider), zap.Error(writeErr))
		}
	}
}

func (a *API) openStream(w http.ResponseWriter) *sse.Encoder {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)

	metrics.SetActiveStreams(a.activeStreams.Add(1))
	return sse.NewEncoder(w)
}

func (a *API) closeStream() {
	metrics.SetActiveStreams(a.activeStreams.Add(-1))
}

// CompareBody is the body of POST /api/compare. Targets and Models are
// merged in that order; Models holds catalog ids or provider:model strings.
type CompareBody struct {
	Messages     []ChatMessage   `json:"messages"`
	APIKey       string          `json:"apiKey,omitempty"`
	ImageDataURL string          `json:"imageDataUrl,omitempty"`
	MaxTokens    *int            `json:"maxTokens,omitempty"`
	Targets      []ailink.Target `json:"targets,omitempty"`
	Models       []string        `json:"models,omitempty"`
}

// CompareResponse is the reply of POST /api/compare.
type CompareResponse struct {
	Results []ailink.NormalizedResult `json:"results"`
}

// Compare handles POST /api/compare.
func (a *API) Compare(w http.ResponseWriter, r *http.Request) {
	var body CompareBody
	if err := decodeBody(w, r, &body); err != nil {
		respondWithError(w, r, err)
		return
	}
	if err := ValidateMessages(body.Messages); err != nil {
		respondWithError(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	targets := make([]ailink.Target, 0, len(body.Targets)+len(body.Models))
	for _, t := range body.Targets {
		if t.Provider = strings.TrimSpace(t.Provider); t.Provider == "" {
			respondWithError(w, r, apperrors.NewValidationError("Each target must name a provider"))
			return
		}
		if err := ValidateModel(t.Model); err != nil {
			respondWithError(w, r, apperrors.NewValidationError(err.Error()))
			return
		}
		t.Model = Sanitize(t.Model)
		targets = append(targets, t)
	}
	if len(body.Models) > 0 {
		resolved, err := a.resolveModels(body.Models)
		if err != nil {
			respondWithError(w, r, apperrors.WrapValidationError(r.Context(), err, err.Error()))
			return
		}
		targets = append(targets, resolved...)
	}
	switch {
	case len(targets) == 0:
		respondWithError(w, r, apperrors.NewValidationError("At least one target is required"))
		return
	case len(targets) > MaxCompareTargets:
		respondWithError(w, r, apperrors.NewValidationError("Too many targets (max 20)"))
		return
	}

	base := ChatBody{Messages: body.Messages, APIKey: body.APIKey, ImageDataURL: body.ImageDataURL, MaxTokens: body.MaxTokens}.toRequest()
	results := a.Service.Compare(r.Context(), base, targets)
	writeJSON(w, http.StatusOK, CompareResponse{Results: results})
}

func (a *API) resolveModels(specs []string) ([]ailink.Target, error) {
	if a.Catalog == nil {
		out := make([]ailink.Target, 0, len(specs))
		for _, spec := range specs {
			t, err := catalog.ParseTarget(spec)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}
	return a.Catalog.ResolveTargets(specs)
}

// ModelsResponse is the reply of GET /api/models.
type ModelsResponse struct {
	Models    []catalog.Model `json:"models"`
	Providers []string        `json:"providers"`
}

// Models handles GET /api/models. Query parameters provider, free and good
// filter the list; disabled models are included only with all=true.
func (a *API) Models(w http.ResponseWriter, r *http.Request) {
	if a.Catalog == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Model catalog not loaded"))
		return
	}
	q := r.URL.Query()
	filter := catalog.Filter{
		Provider:        strings.TrimSpace(q.Get("provider")),
		FreeOnly:        q.Get("free") == "true",
		GoodOnly:        q.Get("good") == "true",
		IncludeDisabled: q.Get("all") == "true",
	}
	models := a.Catalog.List(filter)
	if models == nil {
		models = []catalog.Model{}
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, ModelsResponse{Models: models, Providers: a.Catalog.Providers()})
}
